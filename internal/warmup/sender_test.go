package warmup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/facebookgo/clock"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/queue"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/internal/transport"
)

type fakeMailer struct {
	sent    []transport.Message
	read    []string
	starred []string
	sendErr error
}

func (m *fakeMailer) Send(_ context.Context, msg transport.Message) (*transport.SendResult, error) {
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, msg)
	return &transport.SendResult{
		MessageID: fmt.Sprintf("<m%d@test.local>", len(m.sent)),
		ThreadID:  "thread-1",
	}, nil
}

func (m *fakeMailer) Messages(context.Context, string, int) ([]transport.InboundMessage, error) {
	return nil, nil
}

func (m *fakeMailer) MarkRead(_ context.Context, id string) error {
	m.read = append(m.read, id)
	return nil
}

func (m *fakeMailer) MarkStarred(_ context.Context, id string) error {
	m.starred = append(m.starred, id)
	return nil
}

func (m *fakeMailer) Validate(context.Context) error { return nil }

type fakeMailers struct {
	byID map[string]*fakeMailer
}

func (f *fakeMailers) get(id string) (transport.Mailer, error) {
	m, ok := f.byID[id]
	if !ok {
		return nil, eris.Errorf("no mailer for %s", id)
	}
	return m, nil
}

func (f *fakeMailers) MailerFor(_ context.Context, id string) (transport.Mailer, error) {
	return f.get(id)
}

func (f *fakeMailers) MailerForAdmin(_ context.Context, id string) (transport.Mailer, error) {
	return f.get(id)
}

func newTestSender(t *testing.T, st store.Store, mailers MailerSource) (*Sender, *queue.Queue) {
	t.Helper()
	tmpl, err := DefaultTemplates()
	require.NoError(t, err)
	mck := clock.NewMock()
	q := queue.New(st, mck)
	rnd := testRand()
	s := NewSender(st, q, NewDeduplicator(st, rnd), tmpl, NewCascader(st), mailers, mck, rnd)
	return s, q
}

func sendJob(t *testing.T, p SendPayload) store.JobRecord {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	return store.JobRecord{ID: "job-1", Type: JobTypeSend, Payload: body}
}

func replyJob(t *testing.T, p ReplyPayload) store.JobRecord {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	return store.JobRecord{ID: "job-2", Type: JobTypeReply, Payload: body}
}

func TestHandleSendPool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	m1, m2 := &fakeMailer{}, &fakeMailer{}
	s, q := newTestSender(t, st, &fakeMailers{byID: map[string]*fakeMailer{"in-1": m1, "in-2": m2}})

	seedInbox(t, st, "in-1", "team-1", model.InboxStatusActive, 80)
	seedInbox(t, st, "in-2", "team-1", model.InboxStatusActive, 60)
	seedWarmupState(t, st, "in-1", "team-1", 5, model.WarmupModePool)
	seedWarmupState(t, st, "in-2", "team-1", 5, model.WarmupModePool)

	err := s.HandleSend(ctx, sendJob(t, SendPayload{
		FromInboxID: "in-1", ToInboxID: "in-2", TeamID: "team-1", Mode: model.WarmupModePool,
	}))
	require.NoError(t, err)

	require.Len(t, m1.sent, 1)
	msg := m1.sent[0]
	assert.Equal(t, "in-1@example.com", msg.From)
	assert.Equal(t, "in-2@example.com", msg.To)
	assert.NotEmpty(t, msg.Subject)
	assert.NotEmpty(t, msg.TextBody)
	assert.Empty(t, m2.sent)

	ws1, err := st.GetWarmupState(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, 1, ws1.SentToday)
	ws2, err := st.GetWarmupState(ctx, "in-2")
	require.NoError(t, err)
	assert.Equal(t, 1, ws2.ReceivedToday)

	n, err := q.PendingFor(ctx, JobTypeReply, "fromInboxId", "in-2")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the recipient owes exactly one reply")
}

func TestHandleSendSkipsDisabledWarmup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	m1 := &fakeMailer{}
	s, _ := newTestSender(t, st, &fakeMailers{byID: map[string]*fakeMailer{"in-1": m1}})

	seedInbox(t, st, "in-1", "team-1", model.InboxStatusActive, 80)
	seedInbox(t, st, "in-2", "team-1", model.InboxStatusActive, 60)
	seedWarmupState(t, st, "in-1", "team-1", 5, model.WarmupModePool)
	require.NoError(t, st.SetWarmupEnabled(ctx, "in-1", false, model.WarmupPhasePaused))

	err := s.HandleSend(ctx, sendJob(t, SendPayload{
		FromInboxID: "in-1", ToInboxID: "in-2", TeamID: "team-1", Mode: model.WarmupModePool,
	}))
	require.NoError(t, err)
	assert.Empty(t, m1.sent)
}

func TestHandleSendAuthFailureDisconnectsAndCascades(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	m1 := &fakeMailer{sendErr: eris.New("smtp: authentication failed")}
	s, _ := newTestSender(t, st, &fakeMailers{byID: map[string]*fakeMailer{"in-1": m1}})

	seedInbox(t, st, "in-1", "team-1", model.InboxStatusActive, 80)
	seedInbox(t, st, "in-2", "team-1", model.InboxStatusActive, 60)
	seedWarmupState(t, st, "in-1", "team-1", 5, model.WarmupModePool)
	seedWarmupState(t, st, "in-2", "team-1", 5, model.WarmupModePool)

	err := s.HandleSend(ctx, sendJob(t, SendPayload{
		FromInboxID: "in-1", ToInboxID: "in-2", TeamID: "team-1", Mode: model.WarmupModePool,
	}))
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err), "auth failures must not be retried")

	inbox, err := st.GetInbox(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, model.InboxStatusError, inbox.Status)

	// in-2 is the only connected inbox left, so the team's pool pauses.
	ws2, err := st.GetWarmupState(ctx, "in-2")
	require.NoError(t, err)
	assert.False(t, ws2.Enabled)
}

func TestHandleSendTransientFailureIsRetryable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	m1 := &fakeMailer{sendErr: eris.New("read tcp: connection reset by peer")}
	s, _ := newTestSender(t, st, &fakeMailers{byID: map[string]*fakeMailer{"in-1": m1}})

	seedInbox(t, st, "in-1", "team-1", model.InboxStatusActive, 80)
	seedInbox(t, st, "in-2", "team-1", model.InboxStatusActive, 60)
	seedWarmupState(t, st, "in-1", "team-1", 5, model.WarmupModePool)
	seedWarmupState(t, st, "in-2", "team-1", 5, model.WarmupModePool)

	err := s.HandleSend(ctx, sendJob(t, SendPayload{
		FromInboxID: "in-1", ToInboxID: "in-2", TeamID: "team-1", Mode: model.WarmupModePool,
	}))
	require.Error(t, err)
	assert.False(t, resilience.IsPermanent(err))

	inbox, err := st.GetInbox(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, model.InboxStatusActive, inbox.Status, "transient failures do not disconnect")
}

func TestHandleSendNetworkInbound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	user, admin := &fakeMailer{}, &fakeMailer{}
	s, _ := newTestSender(t, st, &fakeMailers{byID: map[string]*fakeMailer{"in-1": user, "adm-1": admin}})

	seedInbox(t, st, "in-1", "team-1", model.InboxStatusActive, 80)
	seedWarmupState(t, st, "in-1", "team-1", 5, model.WarmupModeNetwork)
	seedAdminInbox(t, st, "adm-1", model.InboxStatusActive)

	err := s.HandleSend(ctx, sendJob(t, SendPayload{
		FromInboxID: "adm-1", ToInboxID: "in-1", TeamID: "team-1",
		Mode: model.WarmupModeNetwork, AdminInboxID: "adm-1", Direction: "inbound",
	}))
	require.NoError(t, err)

	require.Len(t, admin.sent, 1)
	assert.Equal(t, "adm-1@partner.example.com", admin.sent[0].From)
	assert.Equal(t, "in-1@example.com", admin.sent[0].To)
	assert.Empty(t, user.sent)

	ws, err := st.GetWarmupState(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, 1, ws.SentToday, "the unit consumes the user's quota")
	assert.Equal(t, 1, ws.ReceivedToday)

	adm, err := st.GetAdminInbox(ctx, "adm-1")
	require.NoError(t, err)
	assert.Equal(t, 1, adm.CurrentLoad)
}

func TestHandleReplyEngagesAndAnswers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	m1, m2 := &fakeMailer{}, &fakeMailer{}
	s, q := newTestSender(t, st, &fakeMailers{byID: map[string]*fakeMailer{"in-1": m1, "in-2": m2}})

	seedInbox(t, st, "in-1", "team-1", model.InboxStatusActive, 80)
	seedInbox(t, st, "in-2", "team-1", model.InboxStatusActive, 60)
	seedWarmupState(t, st, "in-1", "team-1", 5, model.WarmupModePool)
	seedWarmupState(t, st, "in-2", "team-1", 5, model.WarmupModePool)

	err := s.HandleReply(ctx, replyJob(t, ReplyPayload{
		ThreadID: "thread-1", Subject: "Quick scheduling question",
		InReplyTo: "<m1@test.local>", FromInboxID: "in-2", ToInboxID: "in-1",
		TeamID: "team-1", Mode: model.WarmupModePool, Depth: 1, MaxDepth: 3,
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"<m1@test.local>"}, m2.read)
	assert.Equal(t, []string{"<m1@test.local>"}, m2.starred)

	require.Len(t, m2.sent, 1)
	msg := m2.sent[0]
	assert.Equal(t, "Re: Quick scheduling question", msg.Subject)
	assert.Equal(t, "thread-1", msg.ThreadID)
	assert.Equal(t, "<m1@test.local>", msg.InReplyTo)

	ws2, err := st.GetWarmupState(ctx, "in-2")
	require.NoError(t, err)
	assert.Equal(t, 1, ws2.RepliedToday)

	n, err := q.PendingFor(ctx, JobTypeReply, "fromInboxId", "in-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "depth 1 of 3 schedules the next hop back the other way")
}

func TestHandleReplyFinalHopEndsThread(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	m1, m2 := &fakeMailer{}, &fakeMailer{}
	s, q := newTestSender(t, st, &fakeMailers{byID: map[string]*fakeMailer{"in-1": m1, "in-2": m2}})

	seedInbox(t, st, "in-1", "team-1", model.InboxStatusActive, 80)
	seedInbox(t, st, "in-2", "team-1", model.InboxStatusActive, 60)
	seedWarmupState(t, st, "in-1", "team-1", 5, model.WarmupModePool)
	seedWarmupState(t, st, "in-2", "team-1", 5, model.WarmupModePool)

	err := s.HandleReply(ctx, replyJob(t, ReplyPayload{
		ThreadID: "thread-1", Subject: "Re: Quick scheduling question",
		InReplyTo: "<m3@test.local>", FromInboxID: "in-2", ToInboxID: "in-1",
		TeamID: "team-1", Mode: model.WarmupModePool, Depth: 3, MaxDepth: 3,
	}))
	require.NoError(t, err)

	require.Len(t, m2.sent, 1)
	assert.True(t, strings.HasPrefix(m2.sent[0].Subject, "Re: "))
	assert.NotContains(t, m2.sent[0].Subject, "Re: Re: ")

	for _, inbox := range []string{"in-1", "in-2"} {
		n, err := q.PendingFor(ctx, JobTypeReply, "fromInboxId", inbox)
		require.NoError(t, err)
		assert.Zero(t, n, "the thread reached its depth target")
	}
}
