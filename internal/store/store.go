// Package store provides storage backends for LeadPipe.
//
// It persists leads, workflow definitions, campaigns, outbound numbers, call
// logs, nudge counters and the lead_workflow_progress enrollment table. SQLite
// is the default backend, PostgreSQL is used when the DSN looks like one, and
// an in-memory store serves tests and DSN-less runs.
package store

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

var (
	// ErrAlreadyEnrolled is returned when an active or paused enrollment already
	// exists for the lead and workflow.
	ErrAlreadyEnrolled = errors.New("lead already enrolled in workflow")
	// ErrNotFound is returned by mutations that target a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrClaimLost is returned by SaveProgress when the row is still open but
	// its lease no longer matches the one the caller claimed.
	ErrClaimLost = errors.New("progress claim no longer held")
)

// OpenEnrollment is a lead with an active or paused enrollment in a workflow.
type OpenEnrollment struct {
	ProgressID  string
	LeadID      string
	PhoneNumber string
}

// Store is the persistence contract used by the workflow engine. Lookups of
// missing records return (nil, nil).
type Store interface {
	SaveLead(lead models.Lead) error
	GetLead(id string) (*models.Lead, error)
	PatchLead(id string, patch models.LeadPatch) error
	SetSequencePaused(leadID string, paused bool) error

	SaveWorkflow(def models.WorkflowDefinition) error
	GetWorkflow(id string) (*models.WorkflowDefinition, error)

	SaveCampaign(c models.Campaign) error
	GetCampaign(id string) (*models.Campaign, error)

	SavePhoneNumber(n models.PhoneNumber) error
	// FirstActiveNumber returns the user's oldest active number, or "".
	FirstActiveNumber(userID string) (string, error)

	// CreateProgressIfAbsent inserts p unless an open enrollment exists for the
	// same lead and workflow, in which case it returns ErrAlreadyEnrolled.
	CreateProgressIfAbsent(p models.LeadWorkflowProgress) error
	GetProgress(id string) (*models.LeadWorkflowProgress, error)
	GetOpenProgress(leadID, workflowID string) (*models.LeadWorkflowProgress, error)
	ListOpenEnrollments(workflowID string) ([]OpenEnrollment, error)
	ListProgressForLead(leadID string) ([]models.LeadWorkflowProgress, error)
	// ClaimDueProgress leases up to limit due active rows until leaseUntil.
	// Rows with a live lease are not returned.
	ClaimDueProgress(now time.Time, limit int, leaseUntil time.Time) ([]models.LeadWorkflowProgress, error)
	// SaveProgress writes the state of a claimed row and clears its lease. A
	// row paused while claimed keeps its paused status but takes the new step
	// pointer. It returns ErrNotFound when the row is closed or missing, and
	// ErrClaimLost when p.ClaimedUntil is not the row's lease.
	SaveProgress(p models.LeadWorkflowProgress) error
	ReleaseClaim(id string) error
	PauseProgress(leadID, workflowID string, now time.Time) (int, error)
	ResumeProgress(leadID, workflowID string, now time.Time) (int, error)
	// RemoveProgress removes the lead's open enrollments, limited to workflowID
	// when it is non-empty.
	RemoveProgress(leadID, workflowID, reason string, now time.Time) (int, error)

	RecordCall(c models.CallLog) error
	HasPendingCall(leadID string, since time.Time) (bool, error)
	HasSuccessfulContact(leadID string) (bool, error)

	// TouchNudge increments the lead's nudge counter and stamps the contact time.
	TouchNudge(leadID string, at time.Time) error
	GetNudge(leadID string) (*models.NudgeTracking, error)

	Close() error
}

// Opts holds configuration options for SQL-backed stores.
type Opts struct {
	DSN string
	// Postgres selects the PostgreSQL backend when true.
	Postgres bool
}

// Option defines a configuration option for stores.
type Option func(*Opts)

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Postgres = true
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Postgres = false
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// New opens the store described by opts. Without a DSN an in-memory store is
// returned.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Info("store.New: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	case cfg.Postgres:
		return NewPostgresStore(opts...)
	default:
		return NewSQLiteStore(opts...)
	}
}
