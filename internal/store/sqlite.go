package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqlitePragmas are appended to the DSN so the driver applies them on every
// pooled connection, not just the one that happens to run a setup Exec.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode and a busy timeout for concurrent writers.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, pragma := range sqlitePragmas {
		dsn += sep + "_pragma=" + pragma
		sep = "&"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	first_contacted_at DATETIME,
	last_contacted_at  DATETIME,
	replied_at         DATETIME,
	bounced_at         DATETIME,
	unsubscribed_at    DATETIME,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
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
	bounce_rate_7d      REAL NOT NULL DEFAULT 0,
	reply_rate_7d       REAL NOT NULL DEFAULT 0,
	spam_rate_7d        REAL NOT NULL DEFAULT 0,
	sent_total          INTEGER NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
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
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS admin_inbox_assignments (
	id             TEXT PRIMARY KEY,
	inbox_id       TEXT NOT NULL REFERENCES inboxes(id),
	admin_inbox_id TEXT NOT NULL REFERENCES admin_inboxes(id),
	created_at     DATETIME NOT NULL,
	UNIQUE(inbox_id, admin_inbox_id)
);

CREATE TABLE IF NOT EXISTS warmup_states (
	inbox_id       TEXT PRIMARY KEY REFERENCES inboxes(id),
	team_id        TEXT NOT NULL,
	enabled        INTEGER NOT NULL DEFAULT 0,
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
	started_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS warmup_interactions (
	id            TEXT PRIMARY KEY,
	from_inbox_id TEXT NOT NULL,
	to_inbox_id   TEXT NOT NULL,
	thread_id     TEXT NOT NULL,
	thread_depth  INTEGER NOT NULL DEFAULT 1,
	message_id    TEXT,
	sent_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS admin_warmup_interactions (
	id             TEXT PRIMARY KEY,
	inbox_id       TEXT NOT NULL,
	admin_inbox_id TEXT NOT NULL,
	direction      TEXT NOT NULL,
	thread_id      TEXT NOT NULL,
	thread_depth   INTEGER NOT NULL DEFAULT 1,
	message_id     TEXT,
	sent_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS suppression_list (
	id         TEXT PRIMARY KEY,
	team_id    TEXT NOT NULL,
	email      TEXT NOT NULL,
	reason     TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE(team_id, email)
);

CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at DATETIME
);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	payload      TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'waiting',
	run_at       DATETIME NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	last_error   TEXT,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_team ON leads(team_id);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_inboxes_team ON inboxes(team_id);
CREATE INDEX IF NOT EXISTS idx_assignments_admin ON admin_inbox_assignments(admin_inbox_id);
CREATE INDEX IF NOT EXISTS idx_warmup_states_team ON warmup_states(team_id);
CREATE INDEX IF NOT EXISTS idx_jobs_dispatch ON jobs(type, status, run_at);
CREATE INDEX IF NOT EXISTS idx_suppression_team_email ON suppression_list(team_id, email);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Leads ---

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	now := time.Now().UTC()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now
	if lead.Status == "" {
		lead.Status = model.LeadStatusPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, team_id, campaign_id, sender_inbox_id, email, first_name, last_name, company, status, current_step, soft_bounce_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.TeamID, lead.CampaignID, lead.SenderInboxID, lead.Email,
		lead.FirstName, lead.LastName, lead.Company, string(lead.Status),
		lead.CurrentStep, lead.SoftBounceCount, lead.CreatedAt, lead.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert lead")
}

const leadColumns = `id, team_id, campaign_id, sender_inbox_id, email, first_name, last_name, company,
	status, current_step, reply_intent, soft_bounce_count,
	first_contacted_at, last_contacted_at, replied_at, bounced_at, unsubscribed_at,
	created_at, updated_at`

func (s *SQLiteStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ?`, leadID)
	return scanLead(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*model.Lead, error) {
	var l model.Lead
	var campaignID, senderInboxID, firstName, lastName, company, replyIntent sql.NullString
	var status string
	err := row.Scan(
		&l.ID, &l.TeamID, &campaignID, &senderInboxID, &l.Email,
		&firstName, &lastName, &company, &status, &l.CurrentStep,
		&replyIntent, &l.SoftBounceCount,
		&l.FirstContactedAt, &l.LastContactedAt, &l.RepliedAt, &l.BouncedAt, &l.UnsubscribedAt,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan lead")
	}
	l.CampaignID = campaignID.String
	l.SenderInboxID = senderInboxID.String
	l.FirstName = firstName.String
	l.LastName = lastName.String
	l.Company = company.String
	l.ReplyIntent = replyIntent.String
	l.Status = model.LeadStatus(status)
	return &l, nil
}

func (s *SQLiteStore) ApplyLeadTransition(ctx context.Context, leadID string, to model.LeadStatus, fields model.LeadFieldUpdates) error {
	stepInc := 0
	if fields.LastContactedAt != nil {
		stepInc = 1
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET
			status             = ?,
			current_step       = current_step + ?,
			first_contacted_at = COALESCE(first_contacted_at, ?),
			last_contacted_at  = COALESCE(?, last_contacted_at),
			replied_at         = COALESCE(?, replied_at),
			reply_intent       = CASE WHEN ? != '' THEN ? ELSE reply_intent END,
			bounced_at         = COALESCE(?, bounced_at),
			unsubscribed_at    = COALESCE(?, unsubscribed_at),
			updated_at         = ?
		 WHERE id = ?`,
		string(to), stepInc,
		fields.FirstContactedAt, fields.LastContactedAt, fields.RepliedAt,
		fields.ReplyIntent, fields.ReplyIntent,
		fields.BouncedAt, fields.UnsubscribedAt,
		time.Now().UTC(), leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: apply lead transition %s", leadID)
	}
	return checkRowsAffected(res, "lead", leadID)
}

func (s *SQLiteStore) UpdateLeadReplyIntent(ctx context.Context, leadID, intent string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET reply_intent = ?, updated_at = ? WHERE id = ?`,
		intent, time.Now().UTC(), leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update reply intent %s", leadID)
	}
	return checkRowsAffected(res, "lead", leadID)
}

func (s *SQLiteStore) IncrementLeadSoftBounce(ctx context.Context, leadID string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE leads SET soft_bounce_count = soft_bounce_count + 1, updated_at = ?
		 WHERE id = ? RETURNING soft_bounce_count`,
		time.Now().UTC(), leadID,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		if isNoRows(err) {
			return 0, ErrNotFound
		}
		return 0, eris.Wrapf(err, "sqlite: increment soft bounce %s", leadID)
	}
	return count, nil
}

// --- Inboxes ---

const inboxColumns = `id, team_id, email, from_name, provider, status, status_reason,
	health_score, throttle_percentage, bounce_rate_7d, reply_rate_7d, spam_rate_7d, sent_total,
	created_at, updated_at`

func (s *SQLiteStore) UpsertInbox(ctx context.Context, inbox *model.Inbox) error {
	now := time.Now().UTC()
	if inbox.CreatedAt.IsZero() {
		inbox.CreatedAt = now
	}
	inbox.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inboxes (`+inboxColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
	return eris.Wrap(err, "sqlite: upsert inbox")
}

func scanInbox(row rowScanner) (*model.Inbox, error) {
	var in model.Inbox
	var fromName, statusReason sql.NullString
	var provider, status string
	err := row.Scan(
		&in.ID, &in.TeamID, &in.Email, &fromName, &provider, &status, &statusReason,
		&in.HealthScore, &in.ThrottlePercentage, &in.BounceRate7d, &in.ReplyRate7d,
		&in.SpamRate7d, &in.SentTotal, &in.CreatedAt, &in.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan inbox")
	}
	in.FromName = fromName.String
	in.StatusReason = statusReason.String
	in.Provider = model.Provider(provider)
	in.Status = model.InboxStatus(status)
	return &in, nil
}

func (s *SQLiteStore) GetInbox(ctx context.Context, inboxID string) (*model.Inbox, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+inboxColumns+` FROM inboxes WHERE id = ?`, inboxID)
	return scanInbox(row)
}

func (s *SQLiteStore) listInboxes(ctx context.Context, query string, args ...any) ([]model.Inbox, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list inboxes")
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
	return inboxes, eris.Wrap(rows.Err(), "sqlite: iterate inboxes")
}

func (s *SQLiteStore) ListTeamInboxes(ctx context.Context, teamID string) ([]model.Inbox, error) {
	return s.listInboxes(ctx,
		`SELECT `+inboxColumns+` FROM inboxes WHERE team_id = ? ORDER BY created_at`, teamID)
}

func (s *SQLiteStore) ListConnectedInboxes(ctx context.Context) ([]model.Inbox, error) {
	return s.listInboxes(ctx,
		`SELECT `+inboxColumns+` FROM inboxes WHERE status IN ('active', 'warming_up') ORDER BY created_at`)
}

func (s *SQLiteStore) UpdateInboxStatus(ctx context.Context, inboxID string, status model.InboxStatus, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE inboxes SET status = ?, status_reason = ?, updated_at = ? WHERE id = ?`,
		string(status), reason, time.Now().UTC(), inboxID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update inbox status %s", inboxID)
	}
	return checkRowsAffected(res, "inbox", inboxID)
}

func (s *SQLiteStore) UpdateInboxHealth(ctx context.Context, inboxID string, healthScore, throttlePct int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE inboxes SET health_score = ?, throttle_percentage = ?, updated_at = ? WHERE id = ?`,
		healthScore, throttlePct, time.Now().UTC(), inboxID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update inbox health %s", inboxID)
	}
	return checkRowsAffected(res, "inbox", inboxID)
}

// --- Admin inboxes ---

const adminInboxColumns = `id, email, from_name, provider, status, status_reason,
	health_score, current_load, assignment_count, created_at, updated_at`

func (s *SQLiteStore) UpsertAdminInbox(ctx context.Context, inbox *model.AdminInbox) error {
	now := time.Now().UTC()
	if inbox.CreatedAt.IsZero() {
		inbox.CreatedAt = now
	}
	inbox.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_inboxes (`+adminInboxColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
	return eris.Wrap(err, "sqlite: upsert admin inbox")
}

func (s *SQLiteStore) GetAdminInbox(ctx context.Context, adminInboxID string) (*model.AdminInbox, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+adminInboxColumns+` FROM admin_inboxes WHERE id = ?`, adminInboxID)

	var in model.AdminInbox
	var fromName, statusReason sql.NullString
	var provider, status string
	err := row.Scan(
		&in.ID, &in.Email, &fromName, &provider, &status, &statusReason,
		&in.HealthScore, &in.CurrentLoad, &in.AssignmentCount, &in.CreatedAt, &in.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan admin inbox")
	}
	in.FromName = fromName.String
	in.StatusReason = statusReason.String
	in.Provider = model.Provider(provider)
	in.Status = model.InboxStatus(status)
	return &in, nil
}

func (s *SQLiteStore) ListAdminInboxes(ctx context.Context) ([]model.AdminInbox, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+adminInboxColumns+` FROM admin_inboxes ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list admin inboxes")
	}
	defer rows.Close()

	var inboxes []model.AdminInbox
	for rows.Next() {
		var in model.AdminInbox
		var fromName, statusReason sql.NullString
		var provider, status string
		err := rows.Scan(
			&in.ID, &in.Email, &fromName, &provider, &status, &statusReason,
			&in.HealthScore, &in.CurrentLoad, &in.AssignmentCount, &in.CreatedAt, &in.UpdatedAt,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan admin inbox")
		}
		in.FromName = fromName.String
		in.StatusReason = statusReason.String
		in.Provider = model.Provider(provider)
		in.Status = model.InboxStatus(status)
		inboxes = append(inboxes, in)
	}
	return inboxes, eris.Wrap(rows.Err(), "sqlite: iterate admin inboxes")
}

func (s *SQLiteStore) UpdateAdminInboxStatus(ctx context.Context, adminInboxID string, status model.InboxStatus, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE admin_inboxes SET status = ?, status_reason = ?, updated_at = ? WHERE id = ?`,
		string(status), reason, time.Now().UTC(), adminInboxID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update admin inbox status %s", adminInboxID)
	}
	return checkRowsAffected(res, "admin inbox", adminInboxID)
}

func (s *SQLiteStore) CreateAssignment(ctx context.Context, a *model.AdminInboxAssignment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_inbox_assignments (id, inbox_id, admin_inbox_id, created_at) VALUES (?, ?, ?, ?)`,
		a.ID, a.InboxID, a.AdminInboxID, a.CreatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert assignment")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE admin_inboxes SET assignment_count = assignment_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), a.AdminInboxID,
	)
	return eris.Wrap(err, "sqlite: bump assignment count")
}

func (s *SQLiteStore) listAssignments(ctx context.Context, query string, arg string) ([]model.AdminInboxAssignment, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list assignments")
	}
	defer rows.Close()

	var assignments []model.AdminInboxAssignment
	for rows.Next() {
		var a model.AdminInboxAssignment
		if err := rows.Scan(&a.ID, &a.InboxID, &a.AdminInboxID, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assignment")
		}
		assignments = append(assignments, a)
	}
	return assignments, eris.Wrap(rows.Err(), "sqlite: iterate assignments")
}

func (s *SQLiteStore) ListAssignmentsForInbox(ctx context.Context, inboxID string) ([]model.AdminInboxAssignment, error) {
	return s.listAssignments(ctx,
		`SELECT id, inbox_id, admin_inbox_id, created_at FROM admin_inbox_assignments WHERE inbox_id = ? ORDER BY created_at`, inboxID)
}

func (s *SQLiteStore) ListAssignmentsForAdmin(ctx context.Context, adminInboxID string) ([]model.AdminInboxAssignment, error) {
	return s.listAssignments(ctx,
		`SELECT id, inbox_id, admin_inbox_id, created_at FROM admin_inbox_assignments WHERE admin_inbox_id = ? ORDER BY created_at`, adminInboxID)
}

func (s *SQLiteStore) DeleteAssignmentsForAdmin(ctx context.Context, adminInboxID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM admin_inbox_assignments WHERE admin_inbox_id = ?`, adminInboxID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete assignments for %s", adminInboxID)
	}
	n, _ := res.RowsAffected()
	_, err = s.db.ExecContext(ctx,
		`UPDATE admin_inboxes SET assignment_count = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), adminInboxID,
	)
	return int(n), eris.Wrap(err, "sqlite: zero assignment count")
}

func (s *SQLiteStore) IncrementAdminInboxLoad(ctx context.Context, adminInboxID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE admin_inboxes SET current_load = current_load + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), adminInboxID,
	)
	return eris.Wrapf(err, "sqlite: increment admin load %s", adminInboxID)
}

func (s *SQLiteStore) ResetAdminInboxLoad(ctx context.Context, adminInboxID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE admin_inboxes SET current_load = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), adminInboxID,
	)
	return eris.Wrapf(err, "sqlite: reset admin load %s", adminInboxID)
}

// --- Warmup states ---

const warmupColumns = `inbox_id, team_id, enabled, phase, current_day, ramp_speed, mode,
	sent_today, received_today, replied_today, sent_total, received_total, replied_total,
	started_at, updated_at`

func (s *SQLiteStore) UpsertWarmupState(ctx context.Context, state *model.WarmupState) error {
	now := time.Now().UTC()
	if state.StartedAt.IsZero() {
		state.StartedAt = now
	}
	state.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO warmup_states (`+warmupColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
	return eris.Wrap(err, "sqlite: upsert warmup state")
}

func scanWarmupState(row rowScanner) (*model.WarmupState, error) {
	var w model.WarmupState
	var phase, speed, mode string
	err := row.Scan(
		&w.InboxID, &w.TeamID, &w.Enabled, &phase, &w.CurrentDay, &speed, &mode,
		&w.SentToday, &w.ReceivedToday, &w.RepliedToday,
		&w.SentTotal, &w.ReceivedTotal, &w.RepliedTotal,
		&w.StartedAt, &w.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan warmup state")
	}
	w.Phase = model.WarmupPhase(phase)
	w.RampSpeed = model.RampSpeed(speed)
	w.Mode = model.WarmupMode(mode)
	return &w, nil
}

func (s *SQLiteStore) GetWarmupState(ctx context.Context, inboxID string) (*model.WarmupState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+warmupColumns+` FROM warmup_states WHERE inbox_id = ?`, inboxID)
	return scanWarmupState(row)
}

func (s *SQLiteStore) ListWarmupCandidates(ctx context.Context) ([]WarmupCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT w.inbox_id, w.team_id, w.enabled, w.phase, w.current_day, w.ramp_speed, w.mode,
			w.sent_today, w.received_today, w.replied_today, w.sent_total, w.received_total, w.replied_total,
			w.started_at, w.updated_at,
			i.status, i.health_score, i.provider, i.email
		 FROM warmup_states w
		 JOIN inboxes i ON i.id = w.inbox_id
		 WHERE w.enabled = 1
		 ORDER BY w.team_id, w.inbox_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list warmup candidates")
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
			return nil, eris.Wrap(err, "sqlite: scan warmup candidate")
		}
		c.State.Phase = model.WarmupPhase(phase)
		c.State.RampSpeed = model.RampSpeed(speed)
		c.State.Mode = model.WarmupMode(mode)
		c.InboxStatus = model.InboxStatus(status)
		c.Provider = model.Provider(provider)
		candidates = append(candidates, c)
	}
	return candidates, eris.Wrap(rows.Err(), "sqlite: iterate warmup candidates")
}

func (s *SQLiteStore) SetWarmupEnabled(ctx context.Context, inboxID string, enabled bool, phase model.WarmupPhase) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE warmup_states SET enabled = ?, phase = ?, updated_at = ? WHERE inbox_id = ?`,
		enabled, string(phase), time.Now().UTC(), inboxID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set warmup enabled %s", inboxID)
	}
	return checkRowsAffected(res, "warmup state", inboxID)
}

func (s *SQLiteStore) DisableTeamPoolWarmup(ctx context.Context, teamID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE warmup_states SET enabled = 0, phase = 'paused', updated_at = ?
		 WHERE team_id = ? AND mode != 'network' AND enabled = 1`,
		time.Now().UTC(), teamID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: disable team pool warmup %s", teamID)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) DisableNetworkWarmup(ctx context.Context, inboxIDs []string) (int, error) {
	if len(inboxIDs) == 0 {
		return 0, nil
	}
	query := `UPDATE warmup_states SET enabled = 0, phase = 'paused', updated_at = ?
		 WHERE mode = 'network' AND inbox_id IN (?` + repeatPlaceholder(len(inboxIDs)-1) + `)`
	args := make([]any, 0, len(inboxIDs)+1)
	args = append(args, time.Now().UTC())
	for _, id := range inboxIDs {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: disable network warmup")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

func (s *SQLiteStore) incrementWarmupCounter(ctx context.Context, inboxID, todayCol, totalCol string) error {
	// Single-statement increment: this is the one place the accepted
	// read-then-write race is avoided because SQL offers it natively.
	_, err := s.db.ExecContext(ctx,
		`UPDATE warmup_states SET `+todayCol+` = `+todayCol+` + 1, `+totalCol+` = `+totalCol+` + 1, updated_at = ? WHERE inbox_id = ?`,
		time.Now().UTC(), inboxID,
	)
	return eris.Wrapf(err, "sqlite: increment %s for %s", todayCol, inboxID)
}

func (s *SQLiteStore) IncrementWarmupSent(ctx context.Context, inboxID string) error {
	return s.incrementWarmupCounter(ctx, inboxID, "sent_today", "sent_total")
}

func (s *SQLiteStore) IncrementWarmupReceived(ctx context.Context, inboxID string) error {
	return s.incrementWarmupCounter(ctx, inboxID, "received_today", "received_total")
}

func (s *SQLiteStore) IncrementWarmupReplied(ctx context.Context, inboxID string) error {
	return s.incrementWarmupCounter(ctx, inboxID, "replied_today", "replied_total")
}

func (s *SQLiteStore) ResetDailyCounters(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE warmup_states SET
			sent_today = 0, received_today = 0, replied_today = 0,
			current_day = current_day + CASE WHEN enabled THEN 1 ELSE 0 END,
			phase = CASE WHEN enabled AND phase = 'ramping' AND current_day + 1 > 30 THEN 'maintaining' ELSE phase END,
			updated_at = ?`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reset daily counters")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- Interaction log ---

func (s *SQLiteStore) InsertWarmupInteraction(ctx context.Context, in *model.WarmupInteraction) error {
	if in.SentAt.IsZero() {
		in.SentAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO warmup_interactions (id, from_inbox_id, to_inbox_id, thread_id, thread_depth, message_id, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.FromInboxID, in.ToInboxID, in.ThreadID, in.ThreadDepth, in.MessageID, in.SentAt,
	)
	return eris.Wrap(err, "sqlite: insert warmup interaction")
}

func (s *SQLiteStore) InsertAdminWarmupInteraction(ctx context.Context, in *model.AdminWarmupInteraction) error {
	if in.SentAt.IsZero() {
		in.SentAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_warmup_interactions (id, inbox_id, admin_inbox_id, direction, thread_id, thread_depth, message_id, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.InboxID, in.AdminInboxID, in.Direction, in.ThreadID, in.ThreadDepth, in.MessageID, in.SentAt,
	)
	return eris.Wrap(err, "sqlite: insert admin warmup interaction")
}

// --- Suppression list ---

func (s *SQLiteStore) AddSuppression(ctx context.Context, entry *model.SuppressionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO suppression_list (id, team_id, email, reason, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(team_id, email) DO NOTHING`,
		entry.ID, entry.TeamID, entry.Email, string(entry.Reason), entry.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: add suppression")
}

func (s *SQLiteStore) IsSuppressed(ctx context.Context, teamID, email string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM suppression_list WHERE team_id = ? AND email = ?`,
		teamID, email,
	).Scan(&count)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: check suppression")
	}
	return count > 0, nil
}

// --- Key-value ---

func (s *SQLiteStore) GetKV(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, time.Now().UTC(),
	).Scan(&value)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get kv %s", key)
	}
	return value, nil
}

func (s *SQLiteStore) SetKV(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiryFor(ttl),
	)
	return eris.Wrapf(err, "sqlite: set kv %s", key)
}

func (s *SQLiteStore) CompareAndSwapKV(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()

	if expected == nil {
		// Set-if-absent; an expired row counts as absent.
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
			 WHERE kv.expires_at IS NOT NULL AND kv.expires_at <= ?`,
			key, value, expiryFor(ttl), now,
		)
		if err != nil {
			return false, eris.Wrapf(err, "sqlite: cas insert kv %s", key)
		}
		n, _ := res.RowsAffected()
		return n > 0, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE kv SET value = ?, expires_at = ?
		 WHERE key = ? AND value = ? AND (expires_at IS NULL OR expires_at > ?)`,
		value, expiryFor(ttl), key, expected, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: cas update kv %s", key)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func expiryFor(ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return time.Now().UTC().Add(ttl)
}

// --- Jobs ---

func (s *SQLiteStore) InsertJob(ctx context.Context, job *JobRecord) error {
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

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, type, payload, status, run_at, attempts, max_attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		job.ID, job.Type, string(job.Payload), string(job.Status), job.RunAt,
		job.Attempts, job.MaxAttempts, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrDuplicateJob
	}
	return nil
}

const jobColumns = `id, type, payload, status, run_at, attempts, max_attempts, last_error, created_at, updated_at`

func scanJob(row rowScanner) (*JobRecord, error) {
	var j JobRecord
	var payload, status string
	var lastError sql.NullString
	err := row.Scan(&j.ID, &j.Type, &payload, &status, &j.RunAt, &j.Attempts,
		&j.MaxAttempts, &lastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}
	j.Payload = []byte(payload)
	j.Status = JobStatus(status)
	j.LastError = lastError.String
	return &j, nil
}

func (s *SQLiteStore) ClaimDueJobs(ctx context.Context, jobType string, now time.Time, limit int) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE jobs SET status = 'active', attempts = attempts + 1, updated_at = ?
		 WHERE id IN (
			SELECT id FROM jobs WHERE type = ? AND status = 'waiting' AND run_at <= ?
			ORDER BY run_at LIMIT ?
		 )
		 RETURNING `+jobColumns,
		now.UTC(), jobType, now.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: claim jobs %s", jobType)
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
	return jobs, eris.Wrap(rows.Err(), "sqlite: iterate claimed jobs")
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'done', updated_at = ? WHERE id = ?`,
		time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) RetryJob(ctx context.Context, jobID string, errMsg string, nextRun time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'waiting', last_error = ?, run_at = ?, updated_at = ? WHERE id = ?`,
		errMsg, nextRun.UTC(), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: retry job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed', last_error = ?, updated_at = ? WHERE id = ?`,
		errMsg, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) CountPendingJobs(ctx context.Context, jobType, payloadField, value string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs
		 WHERE type = ? AND status IN ('waiting', 'active')
		   AND json_extract(payload, '$.' || ?) = ?`,
		jobType, payloadField, value,
	).Scan(&count)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: count pending jobs %s", jobType)
	}
	return count, nil
}

func (s *SQLiteStore) CountJobsByStatus(ctx context.Context, status JobStatus) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = ?`, string(status),
	).Scan(&count)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: count jobs by status %s", status)
	}
	return count, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
