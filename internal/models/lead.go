package models

import (
	"strings"
	"time"
)

// Lead is an externally owned contact record. The workflow engine may patch a
// lead's status and tags but does not own it.
type Lead struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	PhoneNumber    string     `json:"phone_number"`
	Email          string     `json:"email,omitempty"`
	Company        string     `json:"company,omitempty"`
	City           string     `json:"city,omitempty"`
	State          string     `json:"state,omitempty"`
	Status         string     `json:"status,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	DoNotCall      bool       `json:"do_not_call"`
	SequencePaused bool       `json:"sequence_paused"`
	NextCallbackAt *time.Time `json:"next_callback_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// FullName joins first and last name, skipping empty parts.
func (l Lead) FullName() string {
	return strings.TrimSpace(strings.Join([]string{strings.TrimSpace(l.FirstName), strings.TrimSpace(l.LastName)}, " "))
}

// LeadPatch describes the lead mutations a tag/update_status step may apply.
// A nil Status leaves the status untouched; AddTags are merged as a set union.
type LeadPatch struct {
	Status  *string
	AddTags []string
}

// MergeTags returns the set union of existing and added tags, preserving the
// order of first appearance and dropping blanks.
func MergeTags(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	merged := make([]string, 0, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, tag := range list {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			merged = append(merged, tag)
		}
	}
	return merged
}
