// Package store defines the persistence interface for the outreach engine
// and its SQLite and Postgres implementations.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/model"
)

// ErrNotFound is returned when a requested row does not exist. Job handlers
// treat it as retryable; the entity may appear once a racing write lands.
var ErrNotFound = eris.New("store: not found")

// ErrDuplicateJob is returned when a job with the same deterministic ID was
// already submitted. Duplicate ticks rely on this for de-duplication.
var ErrDuplicateJob = eris.New("store: duplicate job id")

// isNoRows matches the no-result sentinels of both drivers so the scan
// helpers can be shared between backends.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

// WarmupCandidate is an enabled warmup state joined with its inbox's
// connection status and health, as the dispatch tick consumes it.
type WarmupCandidate struct {
	State       model.WarmupState `json:"state"`
	InboxStatus model.InboxStatus `json:"inbox_status"`
	HealthScore int               `json:"health_score"`
	Provider    model.Provider    `json:"provider"`
	Email       string            `json:"email"`
}

// JobStatus is the queue-side lifecycle of a stored job.
type JobStatus string

const (
	JobStatusWaiting JobStatus = "waiting"
	JobStatusActive  JobStatus = "active"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// JobRecord is one durable queue entry. A job with RunAt in the future is
// "delayed"; waiting and delayed share the waiting status and differ only
// by RunAt.
type JobRecord struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Payload     []byte    `json:"payload"`
	Status      JobStatus `json:"status"`
	RunAt       time.Time `json:"run_at"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store defines the persistence interface for the warmup and lifecycle core.
type Store interface {
	// Leads
	CreateLead(ctx context.Context, lead *model.Lead) error
	GetLead(ctx context.Context, leadID string) (*model.Lead, error)
	ApplyLeadTransition(ctx context.Context, leadID string, to model.LeadStatus, fields model.LeadFieldUpdates) error
	UpdateLeadReplyIntent(ctx context.Context, leadID, intent string) error
	IncrementLeadSoftBounce(ctx context.Context, leadID string) (int, error)

	// Inboxes
	UpsertInbox(ctx context.Context, inbox *model.Inbox) error
	GetInbox(ctx context.Context, inboxID string) (*model.Inbox, error)
	ListTeamInboxes(ctx context.Context, teamID string) ([]model.Inbox, error)
	ListConnectedInboxes(ctx context.Context) ([]model.Inbox, error)
	UpdateInboxStatus(ctx context.Context, inboxID string, status model.InboxStatus, reason string) error
	UpdateInboxHealth(ctx context.Context, inboxID string, healthScore, throttlePct int) error

	// Admin inboxes and assignments
	UpsertAdminInbox(ctx context.Context, inbox *model.AdminInbox) error
	GetAdminInbox(ctx context.Context, adminInboxID string) (*model.AdminInbox, error)
	ListAdminInboxes(ctx context.Context) ([]model.AdminInbox, error)
	UpdateAdminInboxStatus(ctx context.Context, adminInboxID string, status model.InboxStatus, reason string) error
	CreateAssignment(ctx context.Context, a *model.AdminInboxAssignment) error
	ListAssignmentsForInbox(ctx context.Context, inboxID string) ([]model.AdminInboxAssignment, error)
	ListAssignmentsForAdmin(ctx context.Context, adminInboxID string) ([]model.AdminInboxAssignment, error)
	DeleteAssignmentsForAdmin(ctx context.Context, adminInboxID string) (int, error)
	IncrementAdminInboxLoad(ctx context.Context, adminInboxID string) error
	ResetAdminInboxLoad(ctx context.Context, adminInboxID string) error

	// Warmup states
	UpsertWarmupState(ctx context.Context, state *model.WarmupState) error
	GetWarmupState(ctx context.Context, inboxID string) (*model.WarmupState, error)
	ListWarmupCandidates(ctx context.Context) ([]WarmupCandidate, error)
	SetWarmupEnabled(ctx context.Context, inboxID string, enabled bool, phase model.WarmupPhase) error
	DisableTeamPoolWarmup(ctx context.Context, teamID string) (int, error)
	DisableNetworkWarmup(ctx context.Context, inboxIDs []string) (int, error)
	IncrementWarmupSent(ctx context.Context, inboxID string) error
	IncrementWarmupReceived(ctx context.Context, inboxID string) error
	IncrementWarmupReplied(ctx context.Context, inboxID string) error
	ResetDailyCounters(ctx context.Context) (int, error)

	// Interaction log (write-only from this core)
	InsertWarmupInteraction(ctx context.Context, in *model.WarmupInteraction) error
	InsertAdminWarmupInteraction(ctx context.Context, in *model.AdminWarmupInteraction) error

	// Suppression list
	AddSuppression(ctx context.Context, entry *model.SuppressionEntry) error
	IsSuppressed(ctx context.Context, teamID, email string) (bool, error)

	// Key-value with TTL, backing the template deduplicator and the
	// daily-reset flag.
	GetKV(ctx context.Context, key string) ([]byte, error)
	SetKV(ctx context.Context, key string, value []byte, ttl time.Duration) error
	CompareAndSwapKV(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error)

	// Jobs, backing the queue collaborator.
	InsertJob(ctx context.Context, job *JobRecord) error
	ClaimDueJobs(ctx context.Context, jobType string, now time.Time, limit int) ([]JobRecord, error)
	CompleteJob(ctx context.Context, jobID string) error
	RetryJob(ctx context.Context, jobID string, errMsg string, nextRun time.Time) error
	FailJob(ctx context.Context, jobID string, errMsg string) error
	CountPendingJobs(ctx context.Context, jobType, payloadField, value string) (int, error)
	CountJobsByStatus(ctx context.Context, status JobStatus) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
