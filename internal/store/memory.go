package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// InMemoryStore is a mutex-guarded store used by tests and DSN-less runs.
type InMemoryStore struct {
	mu        sync.Mutex
	leads     map[string]models.Lead
	workflows map[string]models.WorkflowDefinition
	campaigns map[string]models.Campaign
	numbers   []models.PhoneNumber
	progress  map[string]models.LeadWorkflowProgress
	calls     []models.CallLog
	nudges    map[string]models.NudgeTracking
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		leads:     make(map[string]models.Lead),
		workflows: make(map[string]models.WorkflowDefinition),
		campaigns: make(map[string]models.Campaign),
		progress:  make(map[string]models.LeadWorkflowProgress),
		nudges:    make(map[string]models.NudgeTracking),
	}
}

func (s *InMemoryStore) SaveLead(lead models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.leads[lead.ID]; ok && lead.CreatedAt.IsZero() {
		lead.CreatedAt = existing.CreatedAt
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now
	lead.Tags = append([]string(nil), lead.Tags...)
	s.leads[lead.ID] = lead
	return nil
}

func (s *InMemoryStore) GetLead(id string) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, nil
	}
	l.Tags = append([]string(nil), l.Tags...)
	return &l, nil
}

func (s *InMemoryStore) PatchLead(id string, patch models.LeadPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return fmt.Errorf("patch lead %s: %w", id, ErrNotFound)
	}
	l.Tags = models.MergeTags(l.Tags, patch.AddTags)
	if patch.Status != nil {
		l.Status = *patch.Status
	}
	l.UpdatedAt = time.Now().UTC()
	s.leads[id] = l
	return nil
}

func (s *InMemoryStore) SetSequencePaused(leadID string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return fmt.Errorf("set sequence_paused for lead %s: %w", leadID, ErrNotFound)
	}
	l.SequencePaused = paused
	l.UpdatedAt = time.Now().UTC()
	s.leads[leadID] = l
	return nil
}

func (s *InMemoryStore) SaveWorkflow(def models.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	steps := make([]models.WorkflowStep, len(def.Steps))
	copy(steps, def.Steps)
	for i := range steps {
		steps[i].WorkflowID = def.ID
	}
	def.Steps = steps
	def.SortSteps()
	s.workflows[def.ID] = def
	return nil
}

func (s *InMemoryStore) GetWorkflow(id string) (*models.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.workflows[id]
	if !ok {
		return nil, nil
	}
	def.Steps = append([]models.WorkflowStep(nil), def.Steps...)
	return &def, nil
}

func (s *InMemoryStore) SaveCampaign(c models.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.campaigns[c.ID] = c
	return nil
}

func (s *InMemoryStore) GetCampaign(id string) (*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *InMemoryStore) SavePhoneNumber(n models.PhoneNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	for i := range s.numbers {
		if s.numbers[i].UserID == n.UserID && s.numbers[i].Number == n.Number {
			s.numbers[i].Active = n.Active
			return nil
		}
	}
	s.numbers = append(s.numbers, n)
	return nil
}

func (s *InMemoryStore) FirstActiveNumber(userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first *models.PhoneNumber
	for i := range s.numbers {
		n := &s.numbers[i]
		if n.UserID != userID || !n.Active {
			continue
		}
		if first == nil || n.CreatedAt.Before(first.CreatedAt) {
			first = n
		}
	}
	if first == nil {
		return "", nil
	}
	return first.Number, nil
}

func (s *InMemoryStore) openProgressLocked(leadID, workflowID string) *models.LeadWorkflowProgress {
	for _, p := range s.progress {
		if p.LeadID == leadID && p.WorkflowID == workflowID && p.Status.IsOpen() {
			return &p
		}
	}
	return nil
}

func (s *InMemoryStore) CreateProgressIfAbsent(p models.LeadWorkflowProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Status.IsOpen() && s.openProgressLocked(p.LeadID, p.WorkflowID) != nil {
		return ErrAlreadyEnrolled
	}
	if _, exists := s.progress[p.ID]; exists {
		return ErrAlreadyEnrolled
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.StartedAt.IsZero() {
		p.StartedAt = now
	}
	p.UpdatedAt = now
	s.progress[p.ID] = p
	return nil
}

func (s *InMemoryStore) GetProgress(id string) (*models.LeadWorkflowProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *InMemoryStore) GetOpenProgress(leadID, workflowID string) (*models.LeadWorkflowProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openProgressLocked(leadID, workflowID), nil
}

func (s *InMemoryStore) ListOpenEnrollments(workflowID string) ([]OpenEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OpenEnrollment
	for _, p := range s.progress {
		if p.WorkflowID != workflowID || !p.Status.IsOpen() {
			continue
		}
		out = append(out, OpenEnrollment{ProgressID: p.ID, LeadID: p.LeadID, PhoneNumber: s.leads[p.LeadID].PhoneNumber})
	}
	return out, nil
}

func (s *InMemoryStore) ListProgressForLead(leadID string) ([]models.LeadWorkflowProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LeadWorkflowProgress
	for _, p := range s.progress {
		if p.LeadID == leadID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) ClaimDueProgress(now time.Time, limit int, leaseUntil time.Time) ([]models.LeadWorkflowProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.LeadWorkflowProgress
	for _, p := range s.progress {
		if !p.IsDue(now) {
			continue
		}
		if p.ClaimedUntil != nil && p.ClaimedUntil.After(now) {
			continue
		}
		due = append(due, p)
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].NextActionAt.Before(*due[j].NextActionAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	lease := leaseUntil.UTC()
	for i := range due {
		due[i].ClaimedUntil = &lease
		s.progress[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *InMemoryStore) SaveProgress(p models.LeadWorkflowProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.progress[p.ID]
	if !ok || !existing.Status.IsOpen() {
		return fmt.Errorf("save progress %s: %w", p.ID, ErrNotFound)
	}
	if !sameLease(existing.ClaimedUntil, p.ClaimedUntil) {
		return fmt.Errorf("save progress %s: %w", p.ID, ErrClaimLost)
	}
	existing.CurrentStepID = p.CurrentStepID
	if existing.Status != models.ProgressPaused || p.Status == models.ProgressCompleted {
		existing.Status = p.Status
	}
	existing.NextActionAt = p.NextActionAt
	existing.LastActionAt = p.LastActionAt
	existing.CompletedAt = p.CompletedAt
	existing.RemovalReason = p.RemovalReason
	existing.ClaimedUntil = nil
	existing.UpdatedAt = time.Now().UTC()
	s.progress[p.ID] = existing
	return nil
}

func sameLease(held, claimed *time.Time) bool {
	if held == nil || claimed == nil {
		return held == nil && claimed == nil
	}
	return held.Equal(*claimed)
}

func (s *InMemoryStore) ReleaseClaim(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.progress[id]; ok {
		p.ClaimedUntil = nil
		s.progress[id] = p
	}
	return nil
}

// transition applies fn to every row matching the predicate and returns the count.
func (s *InMemoryStore) transition(match func(models.LeadWorkflowProgress) bool, fn func(*models.LeadWorkflowProgress)) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, p := range s.progress {
		if !match(p) {
			continue
		}
		fn(&p)
		p.ClaimedUntil = nil
		s.progress[id] = p
		n++
	}
	return n
}

func (s *InMemoryStore) PauseProgress(leadID, workflowID string, now time.Time) (int, error) {
	n := s.transition(func(p models.LeadWorkflowProgress) bool {
		return p.LeadID == leadID && p.WorkflowID == workflowID && p.Status == models.ProgressActive
	}, func(p *models.LeadWorkflowProgress) {
		p.Status = models.ProgressPaused
		p.UpdatedAt = now.UTC()
	})
	return n, nil
}

func (s *InMemoryStore) ResumeProgress(leadID, workflowID string, now time.Time) (int, error) {
	n := s.transition(func(p models.LeadWorkflowProgress) bool {
		return p.LeadID == leadID && p.WorkflowID == workflowID && p.Status == models.ProgressPaused
	}, func(p *models.LeadWorkflowProgress) {
		at := now.UTC()
		p.Status = models.ProgressActive
		p.NextActionAt = &at
		p.UpdatedAt = at
	})
	return n, nil
}

func (s *InMemoryStore) RemoveProgress(leadID, workflowID, reason string, now time.Time) (int, error) {
	n := s.transition(func(p models.LeadWorkflowProgress) bool {
		return p.LeadID == leadID && p.Status.IsOpen() && (workflowID == "" || p.WorkflowID == workflowID)
	}, func(p *models.LeadWorkflowProgress) {
		p.Status = models.ProgressRemoved
		p.RemovalReason = reason
		p.NextActionAt = nil
		p.UpdatedAt = now.UTC()
	})
	return n, nil
}

func (s *InMemoryStore) RecordCall(c models.CallLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.calls = append(s.calls, c)
	return nil
}

func (s *InMemoryStore) HasPendingCall(leadID string, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.LeadID == leadID && !c.CreatedAt.Before(since) && c.Status.IsPending() {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) HasSuccessfulContact(leadID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.LeadID == leadID && c.Status.IsContact() {
			return true, nil
		}
	}
	return false, nil
}

// Calls returns a copy of the recorded call logs.
func (s *InMemoryStore) Calls() []models.CallLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CallLog(nil), s.calls...)
}

func (s *InMemoryStore) TouchNudge(leadID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nudges[leadID]
	n.LeadID = leadID
	n.NudgeCount++
	ts := at.UTC()
	n.LastAIContactAt = &ts
	s.nudges[leadID] = n
	return nil
}

func (s *InMemoryStore) GetNudge(leadID string) (*models.NudgeTracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nudges[leadID]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
