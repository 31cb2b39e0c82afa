package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it,
// which is how the Postgres paths get tested without a live database.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres connects to the given DSN and verifies the connection.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                 TEXT PRIMARY KEY,
	team_id            TEXT NOT NULL,
	campaign_id        TEXT,
	sender_inbox_id    TEXT,
	email              TEXT NOT NULL,
	first_name         TEXT,
	last_name          TEXT,
	company            TEXT,
	status             TEXT NOT NULL DEFAULT 'pending',
	current_step       INTEGER NOT NULL DEFAULT 0,
	reply_intent       TEXT,
	soft_bounce_count  INTEGER NOT NULL DEFAULT 0,
	first_contacted_at TIMESTAMPTZ,
	last_contacted_at  TIMESTAMPTZ,
	replied_at         TIMESTAMPTZ,
	bounced_at         TIMESTAMPTZ,
	unsubscribed_at    TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS inboxes (
	id                  TEXT PRIMARY KEY,
	team_id             TEXT NOT NULL,
	email               TEXT NOT NULL,
	from_name           TEXT,
	provider            TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'active',
	status_reason       TEXT,
	health_score        INTEGER NOT NULL DEFAULT 0,
	throttle_percentage INTEGER NOT NULL DEFAULT 100,
	bounce_rate_7d      DOUBLE PRECISION NOT NULL DEFAULT 0,
	reply_rate_7d       DOUBLE PRECISION NOT NULL DEFAULT 0,
	spam_rate_7d        DOUBLE PRECISION NOT NULL DEFAULT 0,
	sent_total          INTEGER NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS admin_inboxes (
	id               TEXT PRIMARY KEY,
	email            TEXT NOT NULL,
	from_name        TEXT,
	provider         TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'active',
	status_reason    TEXT,
	health_score     INTEGER NOT NULL DEFAULT 0,
	current_load     INTEGER NOT NULL DEFAULT 0,
	assignment_count INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS admin_inbox_assignments (
	id             TEXT PRIMARY KEY,
	inbox_id       TEXT NOT NULL REFERENCES inboxes(id),
	admin_inbox_id TEXT NOT NULL REFERENCES admin_inboxes(id),
	created_at     TIMESTAMPTZ NOT NULL,
	UNIQUE(inbox_id, admin_inbox_id)
);

CREATE TABLE IF NOT EXISTS warmup_states (
	inbox_id       TEXT PRIMARY KEY REFERENCES inboxes(id),
	team_id        TEXT NOT NULL,
	enabled        BOOLEAN NOT NULL DEFAULT FALSE,
	phase          TEXT NOT NULL DEFAULT 'ramping',
	current_day    INTEGER NOT NULL DEFAULT 0,
	ramp_speed     TEXT NOT NULL DEFAULT 'normal',
	mode           TEXT NOT NULL DEFAULT 'pool',
	sent_today     INTEGER NOT NULL DEFAULT 0,
	received_today INTEGER NOT NULL DEFAULT 0,
	replied_today  INTEGER NOT NULL DEFAULT 0,
	sent_total     INTEGER NOT NULL DEFAULT 0,
	received_total INTEGER NOT NULL DEFAULT 0,
	replied_total  INTEGER NOT NULL DEFAULT 0,
	started_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS warmup_interactions (
	id            TEXT PRIMARY KEY,
	from_inbox_id TEXT NOT NULL,
	to_inbox_id   TEXT NOT NULL,
	thread_id     TEXT NOT NULL,
	thread_depth  INTEGER NOT NULL DEFAULT 1,
	message_id    TEXT,
	sent_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS admin_warmup_interactions (
	id             TEXT PRIMARY KEY,
	inbox_id       TEXT NOT NULL,
	admin_inbox_id TEXT NOT NULL,
	direction      TEXT NOT NULL,
	thread_id      TEXT NOT NULL,
	thread_depth   INTEGER NOT NULL DEFAULT 1,
	message_id     TEXT,
	sent_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS suppression_list (
	id         TEXT PRIMARY KEY,
	team_id    TEXT NOT NULL,
	email      TEXT NOT NULL,
	reason     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE(team_id, email)
);

CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	expires_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	payload      JSONB NOT NULL,
	status       TEXT NOT NULL DEFAULT 'waiting',
	run_at       TIMESTAMPTZ NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	last_error   TEXT,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_team ON leads(team_id);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_inboxes_team ON inboxes(team_id);
CREATE INDEX IF NOT EXISTS idx_assignments_admin ON admin_inbox_assignments(admin_inbox_id);
CREATE INDEX IF NOT EXISTS idx_warmup_states_team ON warmup_states(team_id);
CREATE INDEX IF NOT EXISTS idx_jobs_dispatch ON jobs(type, status, run_at);
CREATE INDEX IF NOT EXISTS idx_suppression_team_email ON suppression_list(team_id, email);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Leads ---

func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	now := time.Now().UTC()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now
	if lead.Status == "" {
		lead.Status = model.LeadStatusPending
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO leads (id, team_id, campaign_id, sender_inbox_id, email, first_name, last_name, company, status, current_step, soft_bounce_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		lead.ID, lead.TeamID, lead.CampaignID, lead.SenderInboxID, lead.Email,
		lead.FirstName, lead.LastName, lead.Company, string(lead.Status),
		lead.CurrentStep, lead.SoftBounceCount, lead.CreatedAt, lead.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert lead")
}

func (s *PostgresStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1`, leadID)
	return scanLead(row)
}

func (s *PostgresStore) ApplyLeadTransition(ctx context.Context, leadID string, to model.LeadStatus, fields model.LeadFieldUpdates) error {
	stepInc := 0
	if fields.LastContactedAt != nil {
		stepInc = 1
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET
			status             = $1,
			current_step       = current_step + $2,
			first_contacted_at = COALESCE(first_contacted_at, $3),
			last_contacted_at  = COALESCE($4, last_contacted_at),
			replied_at         = COALESCE($5, replied_at),
			reply_intent       = CASE WHEN $6 != '' THEN $6 ELSE reply_intent END,
			bounced_at         = COALESCE($7, bounced_at),
			unsubscribed_at    = COALESCE($8, unsubscribed_at),
			updated_at         = $9
		 WHERE id = $10`,
		string(to), stepInc,
		fields.FirstContactedAt, fields.LastContactedAt, fields.RepliedAt,
		fields.ReplyIntent, fields.BouncedAt, fields.UnsubscribedAt,
		time.Now().UTC(), leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: apply lead transition %s", leadID)
	}
	return checkTag(tag, "lead", leadID)
}

func (s *PostgresStore) UpdateLeadReplyIntent(ctx context.Context, leadID, intent string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET reply_intent = $1, updated_at = $2 WHERE id = $3`,
		intent, time.Now().UTC(), leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update reply intent %s", leadID)
	}
	return checkTag(tag, "lead", leadID)
}

func (s *PostgresStore) IncrementLeadSoftBounce(ctx context.Context, leadID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`UPDATE leads SET soft_bounce_count = soft_bounce_count + 1, updated_at = $1
		 WHERE id = $2 RETURNING soft_bounce_count`,
		time.Now().UTC(), leadID,
	).Scan(&count)
	if isNoRows(err) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: increment soft bounce %s", leadID)
	}
	return count, nil
}

// --- Inboxes ---

func (s *PostgresStore) UpsertInbox(ctx context.Context, inbox *model.Inbox) error {
	now := time.Now().UTC()
	if inbox.CreatedAt.IsZero() {
		inbox.CreatedAt = now
	}
	inbox.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO inboxes (`+inboxColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT(id) DO UPDATE SET
			email = excluded.email, from_name = excluded.from_name,
			provider = excluded.provider, status = excluded.status,
			status_reason = excluded.status_reason, health_score = excluded.health_score,
			throttle_percentage = excluded.throttle_percentage,
			bounce_rate_7d = excluded.bounce_rate_7d, reply_rate_7d = excluded.reply_rate_7d,
			spam_rate_7d = excluded.spam_rate_7d, sent_total = excluded.sent_total,
			updated_at = excluded.updated_at`,
		inbox.ID, inbox.TeamID, inbox.Email, inbox.FromName, string(inbox.Provider),
		string(inbox.Status), inbox.StatusReason, inbox.HealthScore, inbox.ThrottlePercentage,
		inbox.BounceRate7d, inbox.ReplyRate7d, inbox.SpamRate7d, inbox.SentTotal,
		inbox.CreatedAt, inbox.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: upsert inbox")
}

func (s *PostgresStore) GetInbox(ctx context.Context, inboxID string) (*model.Inbox, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+inboxColumns+` FROM inboxes WHERE id = $1`, inboxID)
	return scanInbox(row)
}

func (s *PostgresStore) listInboxes(ctx context.Context, query string, args ...any) ([]model.Inbox, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list inboxes")
	}
	defer rows.Close()

	var inboxes []model.Inbox
	for rows.Next() {
		in, err := scanInbox(rows)
		if err != nil {
			return nil, err
		}
		inboxes = append(inboxes, *in)
	}
	return inboxes, eris.Wrap(rows.Err(), "postgres: iterate inboxes")
}

func (s *PostgresStore) ListTeamInboxes(ctx context.Context, teamID string) ([]model.Inbox, error) {
	return s.listInboxes(ctx,
		`SELECT `+inboxColumns+` FROM inboxes WHERE team_id = $1 ORDER BY created_at`, teamID)
}

func (s *PostgresStore) ListConnectedInboxes(ctx context.Context) ([]model.Inbox, error) {
	return s.listInboxes(ctx,
		`SELECT `+inboxColumns+` FROM inboxes WHERE status IN ('active', 'warming_up') ORDER BY created_at`)
}

func (s *PostgresStore) UpdateInboxStatus(ctx context.Context, inboxID string, status model.InboxStatus, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE inboxes SET status = $1, status_reason = $2, updated_at = $3 WHERE id = $4`,
		string(status), reason, time.Now().UTC(), inboxID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update inbox status %s", inboxID)
	}
	return checkTag(tag, "inbox", inboxID)
}

func (s *PostgresStore) UpdateInboxHealth(ctx context.Context, inboxID string, healthScore, throttlePct int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE inboxes SET health_score = $1, throttle_percentage = $2, updated_at = $3 WHERE id = $4`,
		healthScore, throttlePct, time.Now().UTC(), inboxID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update inbox health %s", inboxID)
	}
	return checkTag(tag, "inbox", inboxID)
}

// --- Admin inboxes ---

func (s *PostgresStore) UpsertAdminInbox(ctx context.Context, inbox *model.AdminInbox) error {
	now := time.Now().UTC()
	if inbox.CreatedAt.IsZero() {
		inbox.CreatedAt = now
	}
	inbox.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO admin_inboxes (`+adminInboxColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT(id) DO UPDATE SET
			email = excluded.email, from_name = excluded.from_name,
			provider = excluded.provider, status = excluded.status,
			status_reason = excluded.status_reason, health_score = excluded.health_score,
			current_load = excluded.current_load, assignment_count = excluded.assignment_count,
			updated_at = excluded.updated_at`,
		inbox.ID, inbox.Email, inbox.FromName, string(inbox.Provider), string(inbox.Status),
		inbox.StatusReason, inbox.HealthScore, inbox.CurrentLoad, inbox.AssignmentCount,
		inbox.CreatedAt, inbox.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: upsert admin inbox")
}

func (s *PostgresStore) GetAdminInbox(ctx context.Context, adminInboxID string) (*model.AdminInbox, error) {
	var in model.AdminInbox
	var provider, status string
	err := s.pool.QueryRow(ctx,
		`SELECT `+adminInboxColumns+` FROM admin_inboxes WHERE id = $1`, adminInboxID,
	).Scan(
		&in.ID, &in.Email, &in.FromName, &provider, &status, &in.StatusReason,
		&in.HealthScore, &in.CurrentLoad, &in.AssignmentCount, &in.CreatedAt, &in.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan admin inbox")
	}
	in.Provider = model.Provider(provider)
	in.Status = model.InboxStatus(status)
	return &in, nil
}

func (s *PostgresStore) ListAdminInboxes(ctx context.Context) ([]model.AdminInbox, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+adminInboxColumns+` FROM admin_inboxes ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list admin inboxes")
	}
	defer rows.Close()

	var inboxes []model.AdminInbox
	for rows.Next() {
		var in model.AdminInbox
		var provider, status string
		err := rows.Scan(
			&in.ID, &in.Email, &in.FromName, &provider, &status, &in.StatusReason,
			&in.HealthScore, &in.CurrentLoad, &in.AssignmentCount, &in.CreatedAt, &in.UpdatedAt,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan admin inbox")
		}
		in.Provider = model.Provider(provider)
		in.Status = model.InboxStatus(status)
		inboxes = append(inboxes, in)
	}
	return inboxes, eris.Wrap(rows.Err(), "postgres: iterate admin inboxes")
}

func (s *PostgresStore) UpdateAdminInboxStatus(ctx context.Context, adminInboxID string, status model.InboxStatus, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE admin_inboxes SET status = $1, status_reason = $2, updated_at = $3 WHERE id = $4`,
		string(status), reason, time.Now().UTC(), adminInboxID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update admin inbox status %s", adminInboxID)
	}
	return checkTag(tag, "admin inbox", adminInboxID)
}

func (s *PostgresStore) CreateAssignment(ctx context.Context, a *model.AdminInboxAssignment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO admin_inbox_assignments (id, inbox_id, admin_inbox_id, created_at) VALUES ($1, $2, $3, $4)`,
		a.ID, a.InboxID, a.AdminInboxID, a.CreatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert assignment")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE admin_inboxes SET assignment_count = assignment_count + 1, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), a.AdminInboxID,
	)
	return eris.Wrap(err, "postgres: bump assignment count")
}

func (s *PostgresStore) listAssignments(ctx context.Context, query string, arg string) ([]model.AdminInboxAssignment, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list assignments")
	}
	defer rows.Close()

	var assignments []model.AdminInboxAssignment
	for rows.Next() {
		var a model.AdminInboxAssignment
		if err := rows.Scan(&a.ID, &a.InboxID, &a.AdminInboxID, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan assignment")
		}
		assignments = append(assignments, a)
	}
	return assignments, eris.Wrap(rows.Err(), "postgres: iterate assignments")
}

func (s *PostgresStore) ListAssignmentsForInbox(ctx context.Context, inboxID string) ([]model.AdminInboxAssignment, error) {
	return s.listAssignments(ctx,
		`SELECT id, inbox_id, admin_inbox_id, created_at FROM admin_inbox_assignments WHERE inbox_id = $1 ORDER BY created_at`, inboxID)
}

func (s *PostgresStore) ListAssignmentsForAdmin(ctx context.Context, adminInboxID string) ([]model.AdminInboxAssignment, error) {
	return s.listAssignments(ctx,
		`SELECT id, inbox_id, admin_inbox_id, created_at FROM admin_inbox_assignments WHERE admin_inbox_id = $1 ORDER BY created_at`, adminInboxID)
}

func (s *PostgresStore) DeleteAssignmentsForAdmin(ctx context.Context, adminInboxID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM admin_inbox_assignments WHERE admin_inbox_id = $1`, adminInboxID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete assignments for %s", adminInboxID)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE admin_inboxes SET assignment_count = 0, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), adminInboxID,
	)
	return int(tag.RowsAffected()), eris.Wrap(err, "postgres: zero assignment count")
}

func (s *PostgresStore) IncrementAdminInboxLoad(ctx context.Context, adminInboxID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE admin_inboxes SET current_load = current_load + 1, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), adminInboxID,
	)
	return eris.Wrapf(err, "postgres: increment admin load %s", adminInboxID)
}

func (s *PostgresStore) ResetAdminInboxLoad(ctx context.Context, adminInboxID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE admin_inboxes SET current_load = 0, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), adminInboxID,
	)
	return eris.Wrapf(err, "postgres: reset admin load %s", adminInboxID)
}

// --- Warmup states ---

func (s *PostgresStore) UpsertWarmupState(ctx context.Context, state *model.WarmupState) error {
	now := time.Now().UTC()
	if state.StartedAt.IsZero() {
		state.StartedAt = now
	}
	state.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO warmup_states (`+warmupColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT(inbox_id) DO UPDATE SET
			team_id = excluded.team_id, enabled = excluded.enabled, phase = excluded.phase,
			current_day = excluded.current_day, ramp_speed = excluded.ramp_speed,
			mode = excluded.mode, sent_today = excluded.sent_today,
			received_today = excluded.received_today, replied_today = excluded.replied_today,
			sent_total = excluded.sent_total, received_total = excluded.received_total,
			replied_total = excluded.replied_total, updated_at = excluded.updated_at`,
		state.InboxID, state.TeamID, state.Enabled, string(state.Phase), state.CurrentDay,
		string(state.RampSpeed), string(state.Mode), state.SentToday, state.ReceivedToday,
		state.RepliedToday, state.SentTotal, state.ReceivedTotal, state.RepliedTotal,
		state.StartedAt, state.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: upsert warmup state")
}

func (s *PostgresStore) GetWarmupState(ctx context.Context, inboxID string) (*model.WarmupState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+warmupColumns+` FROM warmup_states WHERE inbox_id = $1`, inboxID)
	return scanWarmupState(row)
}

func (s *PostgresStore) ListWarmupCandidates(ctx context.Context) ([]WarmupCandidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT w.inbox_id, w.team_id, w.enabled, w.phase, w.current_day, w.ramp_speed, w.mode,
			w.sent_today, w.received_today, w.replied_today, w.sent_total, w.received_total, w.replied_total,
			w.started_at, w.updated_at,
			i.status, i.health_score, i.provider, i.email
		 FROM warmup_states w
		 JOIN inboxes i ON i.id = w.inbox_id
		 WHERE w.enabled
		 ORDER BY w.team_id, w.inbox_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list warmup candidates")
	}
	defer rows.Close()

	var candidates []WarmupCandidate
	for rows.Next() {
		var c WarmupCandidate
		var phase, speed, mode, status, provider string
		err := rows.Scan(
			&c.State.InboxID, &c.State.TeamID, &c.State.Enabled, &phase, &c.State.CurrentDay,
			&speed, &mode, &c.State.SentToday, &c.State.ReceivedToday, &c.State.RepliedToday,
			&c.State.SentTotal, &c.State.ReceivedTotal, &c.State.RepliedTotal,
			&c.State.StartedAt, &c.State.UpdatedAt,
			&status, &c.HealthScore, &provider, &c.Email,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan warmup candidate")
		}
		c.State.Phase = model.WarmupPhase(phase)
		c.State.RampSpeed = model.RampSpeed(speed)
		c.State.Mode = model.WarmupMode(mode)
		c.InboxStatus = model.InboxStatus(status)
		c.Provider = model.Provider(provider)
		candidates = append(candidates, c)
	}
	return candidates, eris.Wrap(rows.Err(), "postgres: iterate warmup candidates")
}

func (s *PostgresStore) SetWarmupEnabled(ctx context.Context, inboxID string, enabled bool, phase model.WarmupPhase) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE warmup_states SET enabled = $1, phase = $2, updated_at = $3 WHERE inbox_id = $4`,
		enabled, string(phase), time.Now().UTC(), inboxID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set warmup enabled %s", inboxID)
	}
	return checkTag(tag, "warmup state", inboxID)
}

func (s *PostgresStore) DisableTeamPoolWarmup(ctx context.Context, teamID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE warmup_states SET enabled = FALSE, phase = 'paused', updated_at = $1
		 WHERE team_id = $2 AND mode != 'network' AND enabled`,
		time.Now().UTC(), teamID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: disable team pool warmup %s", teamID)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DisableNetworkWarmup(ctx context.Context, inboxIDs []string) (int, error) {
	if len(inboxIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE warmup_states SET enabled = FALSE, phase = 'paused', updated_at = $1
		 WHERE mode = 'network' AND inbox_id = ANY($2)`,
		time.Now().UTC(), inboxIDs,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: disable network warmup")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) incrementWarmupCounter(ctx context.Context, inboxID, todayCol, totalCol string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE warmup_states SET `+todayCol+` = `+todayCol+` + 1, `+totalCol+` = `+totalCol+` + 1, updated_at = $1 WHERE inbox_id = $2`,
		time.Now().UTC(), inboxID,
	)
	return eris.Wrapf(err, "postgres: increment %s for %s", todayCol, inboxID)
}

func (s *PostgresStore) IncrementWarmupSent(ctx context.Context, inboxID string) error {
	return s.incrementWarmupCounter(ctx, inboxID, "sent_today", "sent_total")
}

func (s *PostgresStore) IncrementWarmupReceived(ctx context.Context, inboxID string) error {
	return s.incrementWarmupCounter(ctx, inboxID, "received_today", "received_total")
}

func (s *PostgresStore) IncrementWarmupReplied(ctx context.Context, inboxID string) error {
	return s.incrementWarmupCounter(ctx, inboxID, "replied_today", "replied_total")
}

func (s *PostgresStore) ResetDailyCounters(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE warmup_states SET
			sent_today = 0, received_today = 0, replied_today = 0,
			current_day = current_day + CASE WHEN enabled THEN 1 ELSE 0 END,
			phase = CASE WHEN enabled AND phase = 'ramping' AND current_day + 1 > 30 THEN 'maintaining' ELSE phase END,
			updated_at = $1`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reset daily counters")
	}
	return int(tag.RowsAffected()), nil
}

// --- Interaction log ---

func (s *PostgresStore) InsertWarmupInteraction(ctx context.Context, in *model.WarmupInteraction) error {
	if in.SentAt.IsZero() {
		in.SentAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO warmup_interactions (id, from_inbox_id, to_inbox_id, thread_id, thread_depth, message_id, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.ID, in.FromInboxID, in.ToInboxID, in.ThreadID, in.ThreadDepth, in.MessageID, in.SentAt,
	)
	return eris.Wrap(err, "postgres: insert warmup interaction")
}

func (s *PostgresStore) InsertAdminWarmupInteraction(ctx context.Context, in *model.AdminWarmupInteraction) error {
	if in.SentAt.IsZero() {
		in.SentAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO admin_warmup_interactions (id, inbox_id, admin_inbox_id, direction, thread_id, thread_depth, message_id, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		in.ID, in.InboxID, in.AdminInboxID, in.Direction, in.ThreadID, in.ThreadDepth, in.MessageID, in.SentAt,
	)
	return eris.Wrap(err, "postgres: insert admin warmup interaction")
}

// --- Suppression list ---

func (s *PostgresStore) AddSuppression(ctx context.Context, entry *model.SuppressionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO suppression_list (id, team_id, email, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT(team_id, email) DO NOTHING`,
		entry.ID, entry.TeamID, entry.Email, string(entry.Reason), entry.CreatedAt,
	)
	return eris.Wrap(err, "postgres: add suppression")
}

func (s *PostgresStore) IsSuppressed(ctx context.Context, teamID, email string) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM suppression_list WHERE team_id = $1 AND email = $2`,
		teamID, email,
	).Scan(&count)
	if err != nil {
		return false, eris.Wrap(err, "postgres: check suppression")
	}
	return count > 0, nil
}

// --- Key-value ---

func (s *PostgresStore) GetKV(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		key, time.Now().UTC(),
	).Scan(&value)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get kv %s", key)
	}
	return value, nil
}

func (s *PostgresStore) SetKV(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiryFor(ttl),
	)
	return eris.Wrapf(err, "postgres: set kv %s", key)
}

func (s *PostgresStore) CompareAndSwapKV(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()

	if expected == nil {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO kv (key, value, expires_at) VALUES ($1, $2, $3)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
			 WHERE kv.expires_at IS NOT NULL AND kv.expires_at <= $4`,
			key, value, expiryFor(ttl), now,
		)
		if err != nil {
			return false, eris.Wrapf(err, "postgres: cas insert kv %s", key)
		}
		return tag.RowsAffected() > 0, nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE kv SET value = $1, expires_at = $2
		 WHERE key = $3 AND value = $4 AND (expires_at IS NULL OR expires_at > $5)`,
		value, expiryFor(ttl), key, expected, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: cas update kv %s", key)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Jobs ---

func (s *PostgresStore) InsertJob(ctx context.Context, job *JobRecord) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = JobStatusWaiting
	}
	if job.RunAt.IsZero() {
		job.RunAt = now
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, type, payload, status, run_at, attempts, max_attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT(id) DO NOTHING`,
		job.ID, job.Type, string(job.Payload), string(job.Status), job.RunAt,
		job.Attempts, job.MaxAttempts, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateJob
	}
	return nil
}

func (s *PostgresStore) ClaimDueJobs(ctx context.Context, jobType string, now time.Time, limit int) ([]JobRecord, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE jobs SET status = 'active', attempts = attempts + 1, updated_at = $1
		 WHERE id IN (
			SELECT id FROM jobs WHERE type = $2 AND status = 'waiting' AND run_at <= $3
			ORDER BY run_at LIMIT $4
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		now.UTC(), jobType, now.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: claim jobs %s", jobType)
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: iterate claimed jobs")
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'done', updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", jobID)
	}
	return checkTag(tag, "job", jobID)
}

func (s *PostgresStore) RetryJob(ctx context.Context, jobID string, errMsg string, nextRun time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'waiting', last_error = $1, run_at = $2, updated_at = $3 WHERE id = $4`,
		errMsg, nextRun.UTC(), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: retry job %s", jobID)
	}
	return checkTag(tag, "job", jobID)
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', last_error = $1, updated_at = $2 WHERE id = $3`,
		errMsg, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	return checkTag(tag, "job", jobID)
}

func (s *PostgresStore) CountPendingJobs(ctx context.Context, jobType, payloadField, value string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs
		 WHERE type = $1 AND status IN ('waiting', 'active')
		   AND payload->>$2 = $3`,
		jobType, payloadField, value,
	).Scan(&count)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: count pending jobs %s", jobType)
	}
	return count, nil
}

func (s *PostgresStore) CountJobsByStatus(ctx context.Context, status JobStatus) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = $1`, string(status),
	).Scan(&count)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: count jobs by status %s", status)
	}
	return count, nil
}

func checkTag(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
