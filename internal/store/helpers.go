package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZeroTime returns nil for a nil pointer, otherwise the time in UTC.
func nilIfZeroTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// timePtr converts a nullable column into a *time.Time.
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// rebindPostgres rewrites ? placeholders into $n placeholders.
func rebindPostgres(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func encodeStrings(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeStrings(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const leadColumns = `id, user_id, first_name, last_name, phone_number, email, company, city, state, status,
	tags, do_not_call, sequence_paused, next_callback_at, created_at, updated_at`

func scanLead(row rowScanner) (models.Lead, error) {
	var l models.Lead
	var tags string
	var nextCallback sql.NullTime
	err := row.Scan(
		&l.ID, &l.UserID, &l.FirstName, &l.LastName, &l.PhoneNumber, &l.Email, &l.Company, &l.City, &l.State, &l.Status,
		&tags, &l.DoNotCall, &l.SequencePaused, &nextCallback, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return l, err
	}
	if l.Tags, err = decodeStrings(tags); err != nil {
		return l, fmt.Errorf("decode tags for lead %s: %w", l.ID, err)
	}
	l.NextCallbackAt = timePtr(nextCallback)
	return l, nil
}

const progressColumns = `id, lead_id, workflow_id, campaign_id, user_id, current_step_id, status,
	next_action_at, last_action_at, started_at, completed_at, removal_reason, claimed_until, created_at, updated_at`

func scanProgress(row rowScanner) (models.LeadWorkflowProgress, error) {
	var p models.LeadWorkflowProgress
	var campaignID, currentStepID, removalReason sql.NullString
	var nextActionAt, lastActionAt, completedAt, claimedUntil sql.NullTime
	var status string
	err := row.Scan(
		&p.ID, &p.LeadID, &p.WorkflowID, &campaignID, &p.UserID, &currentStepID, &status,
		&nextActionAt, &lastActionAt, &p.StartedAt, &completedAt, &removalReason, &claimedUntil, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	p.Status = models.ProgressStatus(status)
	p.CampaignID = campaignID.String
	p.CurrentStepID = currentStepID.String
	p.RemovalReason = removalReason.String
	p.NextActionAt = timePtr(nextActionAt)
	p.LastActionAt = timePtr(lastActionAt)
	p.CompletedAt = timePtr(completedAt)
	p.ClaimedUntil = timePtr(claimedUntil)
	return p, nil
}

func scanProgressRows(rows *sql.Rows) ([]models.LeadWorkflowProgress, error) {
	defer rows.Close()
	var out []models.LeadWorkflowProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan progress row failed: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress rows failed: %w", err)
	}
	return out, nil
}

const campaignColumns = `id, user_id, name, active, workflow_id, agent_id, phone_pool, created_at, updated_at`

func scanCampaign(row rowScanner) (models.Campaign, error) {
	var c models.Campaign
	var workflowID, agentID sql.NullString
	var pool string
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Active, &workflowID, &agentID, &pool, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	c.WorkflowID = workflowID.String
	c.AgentID = agentID.String
	if c.PhonePool, err = decodeStrings(pool); err != nil {
		return c, fmt.Errorf("decode phone pool for campaign %s: %w", c.ID, err)
	}
	return c, nil
}

// Status lists used in SQL predicates.
const (
	openStatusList      = `('active', 'paused')`
	pendingCallList     = `('queued', 'ringing', 'initiated', 'in_progress')`
	contactedCallList   = `('completed', 'answered')`
	defaultStepConfig   = `{}`
	progressClaimFilter = `status = 'active' AND next_action_at IS NOT NULL AND next_action_at <= ? AND (claimed_until IS NULL OR claimed_until <= ?)`
)
