package monitoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/config"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/internal/transport"
	"github.com/sells-group/outreach-engine/internal/warmup"
)

type stubMailer struct {
	validateErr       error
	transientFailures int
	validateCalls     int
}

func (m *stubMailer) Send(context.Context, transport.Message) (*transport.SendResult, error) {
	return &transport.SendResult{MessageID: "<stub@test>"}, nil
}

func (m *stubMailer) Messages(context.Context, string, int) ([]transport.InboundMessage, error) {
	return nil, nil
}

func (m *stubMailer) MarkRead(context.Context, string) error    { return nil }
func (m *stubMailer) MarkStarred(context.Context, string) error { return nil }

func (m *stubMailer) Validate(context.Context) error {
	m.validateCalls++
	if m.validateCalls <= m.transientFailures {
		return eris.New("read tcp: connection reset by peer")
	}
	return m.validateErr
}

type stubMailers struct {
	byID map[string]*stubMailer
}

func (f *stubMailers) MailerFor(_ context.Context, id string) (transport.Mailer, error) {
	m, ok := f.byID[id]
	if !ok {
		return nil, eris.Errorf("no mailer for %s", id)
	}
	return m, nil
}

func (f *stubMailers) MailerForAdmin(ctx context.Context, id string) (transport.Mailer, error) {
	return f.MailerFor(ctx, id)
}

func newMonitorStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedMonitorInbox(t *testing.T, st store.Store, inbox model.Inbox) {
	t.Helper()
	if inbox.Email == "" {
		inbox.Email = inbox.ID + "@example.com"
	}
	if inbox.Provider == "" {
		inbox.Provider = model.ProviderSMTP
	}
	require.NoError(t, st.UpsertInbox(context.Background(), &inbox))
}

func seedMonitorWarmup(t *testing.T, st store.Store, inboxID, teamID string, day int, mode model.WarmupMode) {
	t.Helper()
	require.NoError(t, st.UpsertWarmupState(context.Background(), &model.WarmupState{
		InboxID: inboxID, TeamID: teamID, Enabled: true,
		Phase: model.WarmupPhaseRamping, CurrentDay: day,
		RampSpeed: model.RampSpeedNormal, Mode: mode,
	}))
}

func newChecker(st store.Store, mailers warmup.MailerSource) *Checker {
	casc := warmup.NewCascader(st)
	return NewChecker(st, mailers, casc, NewEvaluator(st, casc), NewAlerter(config.MonitoringConfig{}), nil, config.MonitoringConfig{})
}

func TestCheckConnectionsKeepsValidInboxes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newMonitorStore(t)

	seedMonitorInbox(t, st, model.Inbox{ID: "in-1", TeamID: "team-1", Status: model.InboxStatusActive})
	c := newChecker(st, &stubMailers{byID: map[string]*stubMailer{"in-1": {}}})

	alerts, err := c.CheckConnections(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	inbox, err := st.GetInbox(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, model.InboxStatusActive, inbox.Status)
}

func TestCheckConnectionsDisconnectsFailingInbox(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newMonitorStore(t)

	seedMonitorInbox(t, st, model.Inbox{ID: "in-1", TeamID: "team-1", Status: model.InboxStatusActive})
	seedMonitorInbox(t, st, model.Inbox{ID: "in-2", TeamID: "team-1", Status: model.InboxStatusActive})
	seedMonitorWarmup(t, st, "in-1", "team-1", 5, model.WarmupModePool)
	seedMonitorWarmup(t, st, "in-2", "team-1", 5, model.WarmupModePool)

	c := newChecker(st, &stubMailers{byID: map[string]*stubMailer{
		"in-1": {validateErr: eris.New("invalid credentials")},
		"in-2": {},
	}})

	alerts, err := c.CheckConnections(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertInboxDisconnected, alerts[0].Type)

	inbox, err := st.GetInbox(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, model.InboxStatusError, inbox.Status)
	assert.Contains(t, inbox.StatusReason, "invalid credentials")

	// Only one connected inbox remains, so the team's pool pauses.
	ws, err := st.GetWarmupState(ctx, "in-2")
	require.NoError(t, err)
	assert.False(t, ws.Enabled)
}

func TestCheckConnectionsDisconnectsFailingAdmin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newMonitorStore(t)

	seedMonitorInbox(t, st, model.Inbox{ID: "in-1", TeamID: "team-1", Status: model.InboxStatusActive})
	seedMonitorWarmup(t, st, "in-1", "team-1", 5, model.WarmupModeNetwork)
	require.NoError(t, st.UpsertAdminInbox(ctx, &model.AdminInbox{
		ID: "adm-1", Email: "adm-1@partner.example.com",
		Provider: model.ProviderGmail, Status: model.InboxStatusActive,
	}))
	require.NoError(t, st.CreateAssignment(ctx, &model.AdminInboxAssignment{
		ID: "as-1", InboxID: "in-1", AdminInboxID: "adm-1",
	}))

	c := newChecker(st, &stubMailers{byID: map[string]*stubMailer{
		"in-1":  {},
		"adm-1": {validateErr: eris.New("token expired")},
	}})

	alerts, err := c.CheckConnections(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertAdminDisconnected, alerts[0].Type)

	assignments, err := st.ListAssignmentsForAdmin(ctx, "adm-1")
	require.NoError(t, err)
	assert.Empty(t, assignments)

	ws, err := st.GetWarmupState(ctx, "in-1")
	require.NoError(t, err)
	assert.False(t, ws.Enabled, "network warmup released with the admin")
}

func TestCheckConnectionsRetriesTransientValidateErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newMonitorStore(t)

	seedMonitorInbox(t, st, model.Inbox{ID: "in-1", TeamID: "team-1", Status: model.InboxStatusActive})
	m := &stubMailer{transientFailures: 2}
	c := newChecker(st, &stubMailers{byID: map[string]*stubMailer{"in-1": m}})
	c.retry.InitialBackoff = time.Millisecond
	c.retry.MaxBackoff = time.Millisecond

	alerts, err := c.CheckConnections(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, 3, m.validateCalls)

	inbox, err := st.GetInbox(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, model.InboxStatusActive, inbox.Status, "a network blip must not disconnect the inbox")
}

func TestCheckConnectionsDisconnectsWhenRetriesExhaust(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newMonitorStore(t)

	seedMonitorInbox(t, st, model.Inbox{ID: "in-1", TeamID: "team-1", Status: model.InboxStatusActive})
	m := &stubMailer{transientFailures: 10}
	c := newChecker(st, &stubMailers{byID: map[string]*stubMailer{"in-1": m}})
	c.retry.InitialBackoff = time.Millisecond
	c.retry.MaxBackoff = time.Millisecond

	alerts, err := c.CheckConnections(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, c.retry.MaxAttempts, m.validateCalls)

	inbox, err := st.GetInbox(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, model.InboxStatusError, inbox.Status)
}

func TestRunChecksOnEachTick(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := newMonitorStore(t)

	seedMonitorInbox(t, st, model.Inbox{ID: "in-1", TeamID: "team-1", Status: model.InboxStatusActive})
	mck := clock.NewMock()
	casc := warmup.NewCascader(st)
	mailers := &stubMailers{byID: map[string]*stubMailer{
		"in-1": {validateErr: eris.New("invalid credentials")},
	}}
	c := NewChecker(st, mailers, casc, NewEvaluator(st, casc), NewAlerter(config.MonitoringConfig{}), mck,
		config.MonitoringConfig{CheckIntervalHours: 1})

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	// Give Run a moment to register its ticker before advancing the clock.
	time.Sleep(20 * time.Millisecond)
	mck.Add(time.Hour)

	assert.Eventually(t, func() bool {
		inbox, err := st.GetInbox(context.Background(), "in-1")
		return err == nil && inbox.Status == model.InboxStatusError
	}, 2*time.Second, 10*time.Millisecond, "the first tick must run a full check pass")

	cancel()
	<-done
}

func TestCheckInboxReportsHealthyConnection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newMonitorStore(t)

	seedMonitorInbox(t, st, model.Inbox{ID: "in-1", TeamID: "team-1", Status: model.InboxStatusActive})
	c := newChecker(st, &stubMailers{byID: map[string]*stubMailer{"in-1": {}}})

	ok, err := c.CheckInbox(ctx, "in-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckInboxDisconnectsOnFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newMonitorStore(t)

	seedMonitorInbox(t, st, model.Inbox{ID: "in-1", TeamID: "team-1", Status: model.InboxStatusActive})
	seedMonitorWarmup(t, st, "in-1", "team-1", 5, model.WarmupModePool)

	c := newChecker(st, &stubMailers{byID: map[string]*stubMailer{
		"in-1": {validateErr: eris.New("token revoked")},
	}})

	ok, err := c.CheckInbox(ctx, "in-1")
	require.NoError(t, err)
	assert.False(t, ok)

	inbox, err := st.GetInbox(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, model.InboxStatusError, inbox.Status)
	assert.Contains(t, inbox.StatusReason, "token revoked")

	ws, err := st.GetWarmupState(ctx, "in-1")
	require.NoError(t, err)
	assert.False(t, ws.Enabled)
}

func TestCheckInboxUnknownInbox(t *testing.T) {
	t.Parallel()
	c := newChecker(newMonitorStore(t), &stubMailers{})

	_, err := c.CheckInbox(context.Background(), "missing")
	assert.Error(t, err)
}
