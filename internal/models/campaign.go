package models

import (
	"strings"
	"time"
)

// Campaign groups enrollments under a workflow with a default agent and an
// outbound number pool.
type Campaign struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Active     bool      `json:"active"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	AgentID    string    `json:"agent_id,omitempty"`
	PhonePool  []string  `json:"phone_pool,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PooledNumber returns the first non-blank number in the campaign's pool.
func (c *Campaign) PooledNumber() string {
	if c == nil {
		return ""
	}
	for _, n := range c.PhonePool {
		if n = strings.TrimSpace(n); n != "" {
			return n
		}
	}
	return ""
}

// PhoneNumber is an outbound number owned by a user.
type PhoneNumber struct {
	UserID    string    `json:"user_id"`
	Number    string    `json:"number"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// CallStatus is the provider-reported state of an outbound call.
type CallStatus string

const (
	CallQueued     CallStatus = "queued"
	CallRinging    CallStatus = "ringing"
	CallInitiated  CallStatus = "initiated"
	CallInProgress CallStatus = "in_progress"
	CallCompleted  CallStatus = "completed"
	CallAnswered   CallStatus = "answered"
	CallFailed     CallStatus = "failed"
	CallNoAnswer   CallStatus = "no_answer"
	CallBusy       CallStatus = "busy"
)

// PendingCallStatuses are the statuses of a call that has not finished.
var PendingCallStatuses = []CallStatus{CallQueued, CallRinging, CallInitiated, CallInProgress}

// ContactedCallStatuses are the statuses that count as a successful contact.
var ContactedCallStatuses = []CallStatus{CallCompleted, CallAnswered}

// IsPending reports whether the call is still in flight.
func (s CallStatus) IsPending() bool {
	for _, p := range PendingCallStatuses {
		if s == p {
			return true
		}
	}
	return false
}

// IsContact reports whether the call reached the lead.
func (s CallStatus) IsContact() bool {
	for _, c := range ContactedCallStatuses {
		if s == c {
			return true
		}
	}
	return false
}

// CallLog records an outbound call placed for a lead.
type CallLog struct {
	ID             string     `json:"id"`
	LeadID         string     `json:"lead_id"`
	UserID         string     `json:"user_id"`
	CampaignID     string     `json:"campaign_id,omitempty"`
	AgentID        string     `json:"agent_id,omitempty"`
	ProviderCallID string     `json:"provider_call_id,omitempty"`
	FromNumber     string     `json:"from_number,omitempty"`
	ToNumber       string     `json:"to_number"`
	Status         CallStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NudgeTracking counts how often the workflow has touched a lead.
type NudgeTracking struct {
	LeadID          string     `json:"lead_id"`
	NudgeCount      int        `json:"nudge_count"`
	LastAIContactAt *time.Time `json:"last_ai_contact_at,omitempty"`
}
