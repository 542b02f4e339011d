package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL backends.
// Queries are written with ? placeholders and rebound for PostgreSQL.
type sqlStore struct {
	db       *sql.DB
	name     string
	postgres bool
}

func (s *sqlStore) q(query string) string {
	if s.postgres {
		return rebindPostgres(query)
	}
	return query
}

func (s *sqlStore) exec(query string, args ...any) (sql.Result, error) {
	return s.db.Exec(s.q(query), args...)
}

func (s *sqlStore) queryRow(query string, args ...any) *sql.Row {
	return s.db.QueryRow(s.q(query), args...)
}

func (s *sqlStore) query(query string, args ...any) (*sql.Rows, error) {
	return s.db.Query(s.q(query), args...)
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug(s.name + ".Close: closing database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error(s.name+".Close: failed to close database", "error", err)
	}
	return err
}

// --- leads ---

func (s *sqlStore) SaveLead(lead models.Lead) error {
	tags, err := encodeStrings(lead.Tags)
	if err != nil {
		return fmt.Errorf("encode tags for lead %s: %w", lead.ID, err)
	}
	now := time.Now().UTC()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	_, err = s.exec(`
		INSERT INTO leads (`+leadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			phone_number = excluded.phone_number,
			email = excluded.email,
			company = excluded.company,
			city = excluded.city,
			state = excluded.state,
			status = excluded.status,
			tags = excluded.tags,
			do_not_call = excluded.do_not_call,
			sequence_paused = excluded.sequence_paused,
			next_callback_at = excluded.next_callback_at,
			updated_at = excluded.updated_at`,
		lead.ID, lead.UserID, lead.FirstName, lead.LastName, lead.PhoneNumber, lead.Email, lead.Company, lead.City, lead.State, lead.Status,
		tags, lead.DoNotCall, lead.SequencePaused, nilIfZeroTime(lead.NextCallbackAt), lead.CreatedAt.UTC(), now,
	)
	if err != nil {
		slog.Error(s.name+".SaveLead failed", "error", err, "leadID", lead.ID)
		return fmt.Errorf("failed to save lead %s: %w", lead.ID, err)
	}
	slog.Debug(s.name+".SaveLead succeeded", "leadID", lead.ID)
	return nil
}

func (s *sqlStore) GetLead(id string) (*models.Lead, error) {
	l, err := scanLead(s.queryRow(`SELECT `+leadColumns+` FROM leads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug(s.name+".GetLead not found", "leadID", id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead %s: %w", id, err)
	}
	return &l, nil
}

func (s *sqlStore) PatchLead(id string, patch models.LeadPatch) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin patch lead: %w", err)
	}
	defer tx.Rollback()

	selectTags := `SELECT tags FROM leads WHERE id = ?`
	if s.postgres {
		selectTags += ` FOR UPDATE`
	}
	var tags string
	if err := tx.QueryRow(s.q(selectTags), id).Scan(&tags); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("patch lead %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("patch lead %s: %w", id, err)
	}
	existing, err := decodeStrings(tags)
	if err != nil {
		return fmt.Errorf("decode tags for lead %s: %w", id, err)
	}
	merged, err := encodeStrings(models.MergeTags(existing, patch.AddTags))
	if err != nil {
		return fmt.Errorf("encode tags for lead %s: %w", id, err)
	}

	now := time.Now().UTC()
	if patch.Status != nil {
		_, err = tx.Exec(s.q(`UPDATE leads SET tags = ?, status = ?, updated_at = ? WHERE id = ?`), merged, *patch.Status, now, id)
	} else {
		_, err = tx.Exec(s.q(`UPDATE leads SET tags = ?, updated_at = ? WHERE id = ?`), merged, now, id)
	}
	if err != nil {
		return fmt.Errorf("update lead %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit patch lead %s: %w", id, err)
	}
	slog.Debug(s.name+".PatchLead succeeded", "leadID", id, "statusSet", patch.Status != nil, "addTags", len(patch.AddTags))
	return nil
}

func (s *sqlStore) SetSequencePaused(leadID string, paused bool) error {
	res, err := s.exec(`UPDATE leads SET sequence_paused = ?, updated_at = ? WHERE id = ?`, paused, time.Now().UTC(), leadID)
	if err != nil {
		return fmt.Errorf("set sequence_paused for lead %s: %w", leadID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set sequence_paused for lead %s: %w", leadID, ErrNotFound)
	}
	return nil
}

// --- workflows ---

func (s *sqlStore) SaveWorkflow(def models.WorkflowDefinition) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save workflow: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	_, err = tx.Exec(s.q(`
		INSERT INTO workflows (id, user_id, name, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`),
		def.ID, def.UserID, def.Name, def.Enabled, def.CreatedAt.UTC(), now,
	)
	if err != nil {
		return fmt.Errorf("upsert workflow %s: %w", def.ID, err)
	}
	if _, err := tx.Exec(s.q(`DELETE FROM workflow_steps WHERE workflow_id = ?`), def.ID); err != nil {
		return fmt.Errorf("clear steps of workflow %s: %w", def.ID, err)
	}
	for _, step := range def.Steps {
		config := string(step.StepConfig)
		if strings.TrimSpace(config) == "" {
			config = defaultStepConfig
		}
		_, err := tx.Exec(s.q(`
			INSERT INTO workflow_steps (id, workflow_id, step_number, step_type, step_config)
			VALUES (?, ?, ?, ?, ?)`),
			step.ID, def.ID, step.StepNumber, string(step.StepType), config,
		)
		if err != nil {
			return fmt.Errorf("insert step %d of workflow %s: %w", step.StepNumber, def.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit workflow %s: %w", def.ID, err)
	}
	slog.Debug(s.name+".SaveWorkflow succeeded", "workflowID", def.ID, "steps", len(def.Steps))
	return nil
}

func (s *sqlStore) GetWorkflow(id string) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition
	err := s.queryRow(`SELECT id, user_id, name, enabled, created_at, updated_at FROM workflows WHERE id = ?`, id).
		Scan(&def.ID, &def.UserID, &def.Name, &def.Enabled, &def.CreatedAt, &def.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug(s.name+".GetWorkflow not found", "workflowID", id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow %s: %w", id, err)
	}

	rows, err := s.query(`
		SELECT id, workflow_id, step_number, step_type, step_config
		FROM workflow_steps WHERE workflow_id = ? ORDER BY step_number ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps of workflow %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var step models.WorkflowStep
		var stepType, config string
		if err := rows.Scan(&step.ID, &step.WorkflowID, &step.StepNumber, &stepType, &config); err != nil {
			return nil, fmt.Errorf("failed to scan step of workflow %s: %w", id, err)
		}
		step.StepType = models.StepType(stepType)
		step.StepConfig = []byte(config)
		def.Steps = append(def.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps of workflow %s: %w", id, err)
	}
	return &def, nil
}

// --- campaigns and numbers ---

func (s *sqlStore) SaveCampaign(c models.Campaign) error {
	pool, err := encodeStrings(c.PhonePool)
	if err != nil {
		return fmt.Errorf("encode phone pool for campaign %s: %w", c.ID, err)
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	_, err = s.exec(`
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			active = excluded.active,
			workflow_id = excluded.workflow_id,
			agent_id = excluded.agent_id,
			phone_pool = excluded.phone_pool,
			updated_at = excluded.updated_at`,
		c.ID, c.UserID, c.Name, c.Active, nilIfEmpty(c.WorkflowID), nilIfEmpty(c.AgentID), pool, c.CreatedAt.UTC(), now,
	)
	if err != nil {
		return fmt.Errorf("failed to save campaign %s: %w", c.ID, err)
	}
	slog.Debug(s.name+".SaveCampaign succeeded", "campaignID", c.ID)
	return nil
}

func (s *sqlStore) GetCampaign(id string) (*models.Campaign, error) {
	c, err := scanCampaign(s.queryRow(`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign %s: %w", id, err)
	}
	return &c, nil
}

func (s *sqlStore) SavePhoneNumber(n models.PhoneNumber) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(`
		INSERT INTO phone_numbers (user_id, number, active, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, number) DO UPDATE SET active = excluded.active`,
		n.UserID, n.Number, n.Active, n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save phone number for user %s: %w", n.UserID, err)
	}
	return nil
}

func (s *sqlStore) FirstActiveNumber(userID string) (string, error) {
	var number string
	err := s.queryRow(`
		SELECT number FROM phone_numbers
		WHERE user_id = ? AND active = ?
		ORDER BY created_at ASC, number ASC LIMIT 1`, userID, true).Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get active number for user %s: %w", userID, err)
	}
	return number, nil
}

// --- progress ---

func (s *sqlStore) CreateProgressIfAbsent(p models.LeadWorkflowProgress) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.StartedAt.IsZero() {
		p.StartedAt = now
	}
	res, err := s.exec(`
		INSERT INTO lead_workflow_progress (`+progressColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		p.ID, p.LeadID, p.WorkflowID, nilIfEmpty(p.CampaignID), p.UserID, nilIfEmpty(p.CurrentStepID), string(p.Status),
		nilIfZeroTime(p.NextActionAt), nilIfZeroTime(p.LastActionAt), p.StartedAt.UTC(), nilIfZeroTime(p.CompletedAt),
		nilIfEmpty(p.RemovalReason), nilIfZeroTime(p.ClaimedUntil), p.CreatedAt.UTC(), now,
	)
	if err != nil {
		slog.Error(s.name+".CreateProgressIfAbsent failed", "error", err, "leadID", p.LeadID, "workflowID", p.WorkflowID)
		return fmt.Errorf("failed to insert progress for lead %s: %w", p.LeadID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result for lead %s: %w", p.LeadID, err)
	}
	if n == 0 {
		slog.Debug(s.name+".CreateProgressIfAbsent: open enrollment exists", "leadID", p.LeadID, "workflowID", p.WorkflowID)
		return ErrAlreadyEnrolled
	}
	slog.Debug(s.name+".CreateProgressIfAbsent succeeded", "progressID", p.ID, "leadID", p.LeadID, "workflowID", p.WorkflowID)
	return nil
}

func (s *sqlStore) GetProgress(id string) (*models.LeadWorkflowProgress, error) {
	p, err := scanProgress(s.queryRow(`SELECT `+progressColumns+` FROM lead_workflow_progress WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress %s: %w", id, err)
	}
	return &p, nil
}

func (s *sqlStore) GetOpenProgress(leadID, workflowID string) (*models.LeadWorkflowProgress, error) {
	p, err := scanProgress(s.queryRow(`
		SELECT `+progressColumns+` FROM lead_workflow_progress
		WHERE lead_id = ? AND workflow_id = ? AND status IN `+openStatusList+`
		ORDER BY created_at DESC LIMIT 1`, leadID, workflowID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open progress for lead %s: %w", leadID, err)
	}
	return &p, nil
}

func (s *sqlStore) ListOpenEnrollments(workflowID string) ([]OpenEnrollment, error) {
	rows, err := s.query(`
		SELECT p.id, p.lead_id, COALESCE(l.phone_number, '')
		FROM lead_workflow_progress p
		LEFT JOIN leads l ON l.id = p.lead_id
		WHERE p.workflow_id = ? AND p.status IN `+openStatusList, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments of workflow %s: %w", workflowID, err)
	}
	defer rows.Close()
	var out []OpenEnrollment
	for rows.Next() {
		var e OpenEnrollment
		if err := rows.Scan(&e.ProgressID, &e.LeadID, &e.PhoneNumber); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate enrollments: %w", err)
	}
	return out, nil
}

func (s *sqlStore) ListProgressForLead(leadID string) ([]models.LeadWorkflowProgress, error) {
	rows, err := s.query(`
		SELECT `+progressColumns+` FROM lead_workflow_progress
		WHERE lead_id = ? ORDER BY created_at ASC`, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress for lead %s: %w", leadID, err)
	}
	return scanProgressRows(rows)
}

func (s *sqlStore) SaveProgress(p models.LeadWorkflowProgress) error {
	query := `
		UPDATE lead_workflow_progress SET
			current_step_id = ?,
			status = CASE WHEN status = 'paused' AND CAST(? AS TEXT) <> 'completed' THEN 'paused' ELSE CAST(? AS TEXT) END,
			next_action_at = ?,
			last_action_at = ?,
			completed_at = ?,
			removal_reason = ?,
			claimed_until = NULL,
			updated_at = ?
		WHERE id = ? AND status IN ('active', 'paused') AND `
	args := []any{
		nilIfEmpty(p.CurrentStepID), string(p.Status), string(p.Status), nilIfZeroTime(p.NextActionAt), nilIfZeroTime(p.LastActionAt),
		nilIfZeroTime(p.CompletedAt), nilIfEmpty(p.RemovalReason), time.Now().UTC(), p.ID,
	}
	if p.ClaimedUntil != nil {
		query += `claimed_until = ?`
		args = append(args, p.ClaimedUntil.UTC())
	} else {
		query += `claimed_until IS NULL`
	}

	res, err := s.exec(query, args...)
	if err != nil {
		slog.Error(s.name+".SaveProgress failed", "error", err, "progressID", p.ID)
		return fmt.Errorf("failed to save progress %s: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.classifyUnsaved(p.ID)
	}
	slog.Debug(s.name+".SaveProgress succeeded", "progressID", p.ID, "status", p.Status, "currentStepID", p.CurrentStepID)
	return nil
}

// classifyUnsaved explains a SaveProgress that matched no row: an open row
// means another pass holds the lease, anything else means the row is gone.
func (s *sqlStore) classifyUnsaved(id string) error {
	var status string
	err := s.queryRow(`SELECT status FROM lead_workflow_progress WHERE id = ?`, id).Scan(&status)
	if err == nil && models.ProgressStatus(status).IsOpen() {
		return fmt.Errorf("save progress %s: %w", id, ErrClaimLost)
	}
	return fmt.Errorf("save progress %s: %w", id, ErrNotFound)
}

func (s *sqlStore) ReleaseClaim(id string) error {
	if _, err := s.exec(`UPDATE lead_workflow_progress SET claimed_until = NULL WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to release claim on progress %s: %w", id, err)
	}
	return nil
}

func (s *sqlStore) PauseProgress(leadID, workflowID string, now time.Time) (int, error) {
	res, err := s.exec(`
		UPDATE lead_workflow_progress SET status = 'paused', updated_at = ?
		WHERE lead_id = ? AND workflow_id = ? AND status = 'active'`,
		now.UTC(), leadID, workflowID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to pause progress for lead %s: %w", leadID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqlStore) ResumeProgress(leadID, workflowID string, now time.Time) (int, error) {
	res, err := s.exec(`
		UPDATE lead_workflow_progress SET status = 'active', next_action_at = ?, updated_at = ?
		WHERE lead_id = ? AND workflow_id = ? AND status = 'paused'`,
		now.UTC(), now.UTC(), leadID, workflowID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to resume progress for lead %s: %w", leadID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqlStore) RemoveProgress(leadID, workflowID, reason string, now time.Time) (int, error) {
	query := `
		UPDATE lead_workflow_progress SET status = 'removed', removal_reason = ?, next_action_at = NULL,
			claimed_until = NULL, updated_at = ?
		WHERE lead_id = ? AND status IN ` + openStatusList
	args := []any{reason, now.UTC(), leadID}
	if workflowID != "" {
		query += ` AND workflow_id = ?`
		args = append(args, workflowID)
	}
	res, err := s.exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to remove progress for lead %s: %w", leadID, err)
	}
	n, _ := res.RowsAffected()
	slog.Debug(s.name+".RemoveProgress", "leadID", leadID, "workflowID", workflowID, "reason", reason, "affected", n)
	return int(n), nil
}

// --- calls ---

func (s *sqlStore) RecordCall(c models.CallLog) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(`
		INSERT INTO call_logs (id, lead_id, user_id, campaign_id, agent_id, provider_call_id, from_number, to_number, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.LeadID, c.UserID, nilIfEmpty(c.CampaignID), nilIfEmpty(c.AgentID), nilIfEmpty(c.ProviderCallID),
		nilIfEmpty(c.FromNumber), c.ToNumber, string(c.Status), c.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record call for lead %s: %w", c.LeadID, err)
	}
	slog.Debug(s.name+".RecordCall succeeded", "leadID", c.LeadID, "callID", c.ProviderCallID, "status", c.Status)
	return nil
}

func (s *sqlStore) HasPendingCall(leadID string, since time.Time) (bool, error) {
	var n int
	err := s.queryRow(`
		SELECT COUNT(*) FROM call_logs
		WHERE lead_id = ? AND created_at >= ? AND status IN `+pendingCallList, leadID, since.UTC()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check pending calls for lead %s: %w", leadID, err)
	}
	return n > 0, nil
}

func (s *sqlStore) HasSuccessfulContact(leadID string) (bool, error) {
	var n int
	err := s.queryRow(`
		SELECT COUNT(*) FROM call_logs
		WHERE lead_id = ? AND status IN `+contactedCallList, leadID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check contacts for lead %s: %w", leadID, err)
	}
	return n > 0, nil
}

// --- nudges ---

func (s *sqlStore) TouchNudge(leadID string, at time.Time) error {
	_, err := s.exec(`
		INSERT INTO lead_nudge_tracking (lead_id, nudge_count, last_ai_contact_at)
		VALUES (?, 1, ?)
		ON CONFLICT (lead_id) DO UPDATE SET
			nudge_count = lead_nudge_tracking.nudge_count + 1,
			last_ai_contact_at = excluded.last_ai_contact_at`,
		leadID, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to touch nudge for lead %s: %w", leadID, err)
	}
	return nil
}

func (s *sqlStore) GetNudge(leadID string) (*models.NudgeTracking, error) {
	var n models.NudgeTracking
	var last sql.NullTime
	err := s.queryRow(`SELECT lead_id, nudge_count, last_ai_contact_at FROM lead_nudge_tracking WHERE lead_id = ?`, leadID).
		Scan(&n.LeadID, &n.NudgeCount, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get nudge for lead %s: %w", leadID, err)
	}
	n.LastAIContactAt = timePtr(last)
	return &n, nil
}
