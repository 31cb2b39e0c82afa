package warmup

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/metrics"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/queue"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/internal/transport"
)

// Reply timing. The first reply lands quickly; deeper hops drift further to
// look like a real back-and-forth.
const (
	replyDelayMin = 2 * time.Minute
	replyDelayMax = 30 * time.Minute
	hopDelayMin   = 5 * time.Minute
	hopDelayMax   = 45 * time.Minute
)

// Roughly half of warmup threads grow past the first reply.
const multiLevelOdds = 0.5

// ReplyPayload is the queue payload for one reply hop in a warmup thread.
type ReplyPayload struct {
	ThreadID    string `json:"threadId"`
	Subject     string `json:"subject"`
	InReplyTo   string `json:"inReplyTo"`
	FromInboxID string `json:"fromInboxId"`
	ToInboxID   string `json:"toInboxId"`
	TeamID      string `json:"teamId"`

	Mode         model.WarmupMode `json:"mode"`
	AdminInboxID string           `json:"adminInboxId,omitempty"`

	Depth    int `json:"depth"`
	MaxDepth int `json:"maxDepth"`
}

// MailerSource resolves a provider client for an inbox, lazily so
// credentials refreshed mid-run are picked up.
type MailerSource interface {
	MailerFor(ctx context.Context, inboxID string) (transport.Mailer, error)
	MailerForAdmin(ctx context.Context, adminInboxID string) (transport.Mailer, error)
}

// Sender executes the warmup_send and warmup_reply jobs the scheduler plans.
type Sender struct {
	store     store.Store
	queue     *queue.Queue
	dedup     *Deduplicator
	templates *TemplateSet
	cascader  *Cascader
	mailers   MailerSource
	clock     clock.Clock
	rand      *rand.Rand
	logger    *zap.Logger
}

func NewSender(st store.Store, q *queue.Queue, dedup *Deduplicator, tmpl *TemplateSet, casc *Cascader, mailers MailerSource, clk clock.Clock, rnd *rand.Rand) *Sender {
	if clk == nil {
		clk = clock.New()
	}
	return &Sender{
		store:     st,
		queue:     q,
		dedup:     dedup,
		templates: tmpl,
		cascader:  casc,
		mailers:   mailers,
		clock:     clk,
		rand:      rnd,
		logger:    zap.L().Named("warmup.sender"),
	}
}

// Register attaches both handlers to the runner.
func (s *Sender) Register(r *queue.Runner) {
	r.Register(JobTypeSend, s.HandleSend)
	r.Register(JobTypeReply, s.HandleReply)
}

// HandleSend opens a new warmup thread. Conditions are re-checked at
// execution time; the state of the world at scheduling time may be hours
// stale.
func (s *Sender) HandleSend(ctx context.Context, job store.JobRecord) error {
	var p SendPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return resilience.Permanent(eris.Wrap(err, "warmup: decode send payload"))
	}

	userInbox := p.FromInboxID
	if p.Direction == "inbound" {
		userInbox = p.ToInboxID
	}
	state, err := s.store.GetWarmupState(ctx, userInbox)
	if err != nil {
		return eris.Wrapf(err, "warmup: load state %s", userInbox)
	}
	if !state.Enabled {
		s.logger.Debug("warmup disabled since scheduling, skipping",
			zap.String("inbox_id", userInbox))
		return nil
	}

	from, to, err := s.resolveEndpoints(ctx, p)
	if err != nil {
		return err
	}
	if from == nil || to == nil {
		return nil // a party disconnected since scheduling
	}

	pool := s.templates.Pool(model.TemplateOpener)
	idx, err := s.dedup.Pop(ctx, from.ID, to.ID, model.TemplateOpener, len(pool))
	if err != nil {
		return eris.Wrap(err, "warmup: pick opener")
	}
	tmpl := pool[idx]

	mailer, err := s.mailerFor(ctx, p, from.ID)
	if err != nil {
		return err
	}

	res, err := mailer.Send(ctx, transport.Message{
		From:     from.Email,
		FromName: from.FromName,
		To:       to.Email,
		Subject:  tmpl.Subject,
		TextBody: tmpl.Body,
	})
	if err != nil {
		return s.handleSendError(ctx, p, from.ID, err)
	}

	if err := s.recordSend(ctx, p, from.ID, to.ID, res, 1); err != nil {
		return err
	}
	metrics.WarmupSends.WithLabelValues(string(p.Mode)).Inc()

	return s.scheduleFirstReply(ctx, p, from, to, tmpl.Subject, res)
}

// endpoint is either a user inbox or an admin inbox, reduced to what a send
// needs.
type endpoint struct {
	ID       string
	Email    string
	FromName string
	IsAdmin  bool
}

func (s *Sender) resolveEndpoints(ctx context.Context, p SendPayload) (from, to *endpoint, err error) {
	from, err = s.endpoint(ctx, p, p.FromInboxID)
	if err != nil {
		return nil, nil, err
	}
	to, err = s.endpoint(ctx, p, p.ToInboxID)
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

// endpoint loads one side of the exchange, returning nil when it is no
// longer connected.
func (s *Sender) endpoint(ctx context.Context, p SendPayload, id string) (*endpoint, error) {
	if p.Mode == model.WarmupModeNetwork && id == p.AdminInboxID {
		admin, err := s.store.GetAdminInbox(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "warmup: load admin inbox %s", id)
		}
		if admin.Status != model.InboxStatusActive {
			return nil, nil
		}
		return &endpoint{ID: admin.ID, Email: admin.Email, FromName: admin.FromName, IsAdmin: true}, nil
	}

	inbox, err := s.store.GetInbox(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "warmup: load inbox %s", id)
	}
	if !inbox.Status.Connected() {
		return nil, nil
	}
	return &endpoint{ID: inbox.ID, Email: inbox.Email, FromName: inbox.FromName}, nil
}

func (s *Sender) mailerFor(ctx context.Context, p SendPayload, senderID string) (transport.Mailer, error) {
	if p.Mode == model.WarmupModeNetwork && senderID == p.AdminInboxID {
		m, err := s.mailers.MailerForAdmin(ctx, senderID)
		if err != nil {
			return nil, eris.Wrapf(err, "warmup: admin mailer %s", senderID)
		}
		return m, nil
	}
	m, err := s.mailers.MailerFor(ctx, senderID)
	if err != nil {
		return nil, eris.Wrapf(err, "warmup: mailer %s", senderID)
	}
	return m, nil
}

// handleSendError disconnects the sending inbox on credential failures so
// the pool cascade runs; everything else is left to the queue's retry policy.
func (s *Sender) handleSendError(ctx context.Context, p SendPayload, senderID string, err error) error {
	if !resilience.IsAuthError(err) {
		return eris.Wrapf(err, "warmup: send from %s", senderID)
	}

	s.logger.Warn("auth failure during warmup send, disconnecting",
		zap.String("inbox_id", senderID), zap.Error(err))
	if p.Mode == model.WarmupModeNetwork && senderID == p.AdminInboxID {
		if derr := s.cascader.DisconnectAdminInbox(ctx, senderID, "auth failure during warmup send"); derr != nil {
			s.logger.Error("admin disconnect failed", zap.String("admin_inbox_id", senderID), zap.Error(derr))
		}
	} else {
		if derr := s.cascader.DisconnectInbox(ctx, senderID, "auth failure during warmup send"); derr != nil {
			s.logger.Error("inbox disconnect failed", zap.String("inbox_id", senderID), zap.Error(derr))
		}
	}
	return resilience.Permanent(err)
}

// recordSend logs the interaction and bumps counters. The scheduled unit
// consumes the user inbox's daily quota whichever direction it flowed.
func (s *Sender) recordSend(ctx context.Context, p SendPayload, fromID, toID string, res *transport.SendResult, depth int) error {
	now := s.clock.Now().UTC()
	threadID := res.ThreadID
	if threadID == "" {
		threadID = res.MessageID
	}

	if p.Mode == model.WarmupModeNetwork {
		in := &model.AdminWarmupInteraction{
			ID:           uuid.NewString(),
			InboxID:      p.FromInboxID,
			AdminInboxID: p.AdminInboxID,
			Direction:    p.Direction,
			ThreadID:     threadID,
			ThreadDepth:  depth,
			MessageID:    res.MessageID,
			SentAt:       now,
		}
		if p.Direction == "inbound" {
			in.InboxID = p.ToInboxID
		}
		if err := s.store.InsertAdminWarmupInteraction(ctx, in); err != nil {
			return eris.Wrap(err, "warmup: log admin interaction")
		}
		if err := s.store.IncrementAdminInboxLoad(ctx, p.AdminInboxID); err != nil {
			return eris.Wrap(err, "warmup: bump admin load")
		}
		if err := s.store.IncrementWarmupSent(ctx, in.InboxID); err != nil {
			return eris.Wrap(err, "warmup: bump sent")
		}
		if p.Direction == "inbound" {
			if err := s.store.IncrementWarmupReceived(ctx, in.InboxID); err != nil {
				return eris.Wrap(err, "warmup: bump received")
			}
		}
		return nil
	}

	in := &model.WarmupInteraction{
		ID:          uuid.NewString(),
		FromInboxID: fromID,
		ToInboxID:   toID,
		ThreadID:    threadID,
		ThreadDepth: depth,
		MessageID:   res.MessageID,
		SentAt:      now,
	}
	if err := s.store.InsertWarmupInteraction(ctx, in); err != nil {
		return eris.Wrap(err, "warmup: log interaction")
	}
	if err := s.store.IncrementWarmupSent(ctx, fromID); err != nil {
		return eris.Wrap(err, "warmup: bump sent")
	}
	if err := s.store.IncrementWarmupReceived(ctx, toID); err != nil {
		return eris.Wrap(err, "warmup: bump received")
	}
	return nil
}

// scheduleFirstReply queues the recipient's reply. Half the threads stay a
// single exchange; the rest grow to a random depth between 2 and 5.
func (s *Sender) scheduleFirstReply(ctx context.Context, p SendPayload, from, to *endpoint, subject string, res *transport.SendResult) error {
	maxDepth := 1
	if s.rand.Float64() < multiLevelOdds {
		maxDepth = 2 + s.rand.IntN(4)
	}

	threadID := res.ThreadID
	if threadID == "" {
		threadID = res.MessageID
	}

	reply := ReplyPayload{
		ThreadID:     threadID,
		Subject:      subject,
		InReplyTo:    res.MessageID,
		FromInboxID:  to.ID,
		ToInboxID:    from.ID,
		TeamID:       p.TeamID,
		Mode:         p.Mode,
		AdminInboxID: p.AdminInboxID,
		Depth:        1,
		MaxDepth:     maxDepth,
	}
	return s.scheduleHop(ctx, reply, s.randomDelay(replyDelayMin, replyDelayMax))
}

func (s *Sender) scheduleHop(ctx context.Context, p ReplyPayload, delay time.Duration) error {
	jobID := fmt.Sprintf("warmup-reply-%s-%d", p.ThreadID, p.Depth)
	if _, err := s.queue.Submit(ctx, jobID, JobTypeReply, p, queue.SubmitOptions{Delay: delay}); err != nil {
		return eris.Wrapf(err, "warmup: schedule hop %s", jobID)
	}
	return nil
}

// HandleReply executes one hop of a warmup thread: engage with the previous
// message, answer it, and schedule the next hop if the thread is not done.
func (s *Sender) HandleReply(ctx context.Context, job store.JobRecord) error {
	var p ReplyPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return resilience.Permanent(eris.Wrap(err, "warmup: decode reply payload"))
	}

	sp := SendPayload{
		FromInboxID:  p.FromInboxID,
		ToInboxID:    p.ToInboxID,
		TeamID:       p.TeamID,
		Mode:         p.Mode,
		AdminInboxID: p.AdminInboxID,
	}
	from, to, err := s.resolveEndpoints(ctx, sp)
	if err != nil {
		return err
	}
	if from == nil || to == nil {
		return nil
	}

	mailer, err := s.mailerFor(ctx, sp, from.ID)
	if err != nil {
		return err
	}

	// Open and star the message being answered. Engagement signals are the
	// point of the exercise; failures here are not worth a retry.
	if p.InReplyTo != "" {
		if err := mailer.MarkRead(ctx, p.InReplyTo); err != nil {
			s.logger.Debug("mark read failed", zap.String("message_id", p.InReplyTo), zap.Error(err))
		}
		if err := mailer.MarkStarred(ctx, p.InReplyTo); err != nil {
			s.logger.Debug("mark starred failed", zap.String("message_id", p.InReplyTo), zap.Error(err))
		}
	}

	category := s.hopCategory(p)
	pool := s.templates.Pool(category)
	idx, err := s.dedup.Pop(ctx, from.ID, to.ID, category, len(pool))
	if err != nil {
		return eris.Wrap(err, "warmup: pick hop template")
	}
	tmpl := pool[idx]

	res, err := mailer.Send(ctx, transport.Message{
		From:      from.Email,
		FromName:  from.FromName,
		To:        to.Email,
		Subject:   replySubject(p.Subject),
		TextBody:  tmpl.Body,
		ThreadID:  p.ThreadID,
		InReplyTo: p.InReplyTo,
	})
	if err != nil {
		return s.handleSendError(ctx, sp, from.ID, err)
	}

	if err := s.recordHop(ctx, p, from, to, res); err != nil {
		return err
	}

	if p.Depth >= p.MaxDepth {
		return nil
	}

	next := ReplyPayload{
		ThreadID:     p.ThreadID,
		Subject:      p.Subject,
		InReplyTo:    res.MessageID,
		FromInboxID:  p.ToInboxID,
		ToInboxID:    p.FromInboxID,
		TeamID:       p.TeamID,
		Mode:         p.Mode,
		AdminInboxID: p.AdminInboxID,
		Depth:        p.Depth + 1,
		MaxDepth:     p.MaxDepth,
	}
	return s.scheduleHop(ctx, next, s.randomDelay(hopDelayMin, hopDelayMax))
}

// hopCategory picks the template pool for this depth: the first answer is a
// reply, the last a closer, anything between a continuation.
func (s *Sender) hopCategory(p ReplyPayload) model.TemplateCategory {
	switch {
	case p.Depth == 1:
		return model.TemplateReply
	case p.Depth >= p.MaxDepth:
		return model.TemplateCloser
	default:
		return model.TemplateContinuation
	}
}

func (s *Sender) recordHop(ctx context.Context, p ReplyPayload, from, to *endpoint, res *transport.SendResult) error {
	now := s.clock.Now().UTC()

	if p.Mode == model.WarmupModeNetwork {
		in := &model.AdminWarmupInteraction{
			ID:           uuid.NewString(),
			AdminInboxID: p.AdminInboxID,
			Direction:    "outbound",
			ThreadID:     p.ThreadID,
			ThreadDepth:  p.Depth + 1,
			MessageID:    res.MessageID,
			SentAt:       now,
		}
		userInboxID := from.ID
		if from.IsAdmin {
			in.Direction = "inbound"
			userInboxID = to.ID
		}
		in.InboxID = userInboxID
		if err := s.store.InsertAdminWarmupInteraction(ctx, in); err != nil {
			return eris.Wrap(err, "warmup: log admin hop")
		}
		if !from.IsAdmin {
			if err := s.store.IncrementWarmupReplied(ctx, from.ID); err != nil {
				return eris.Wrap(err, "warmup: bump replied")
			}
		} else if err := s.store.IncrementWarmupReceived(ctx, to.ID); err != nil {
			return eris.Wrap(err, "warmup: bump received")
		}
		return nil
	}

	in := &model.WarmupInteraction{
		ID:          uuid.NewString(),
		FromInboxID: from.ID,
		ToInboxID:   to.ID,
		ThreadID:    p.ThreadID,
		ThreadDepth: p.Depth + 1,
		MessageID:   res.MessageID,
		SentAt:      now,
	}
	if err := s.store.InsertWarmupInteraction(ctx, in); err != nil {
		return eris.Wrap(err, "warmup: log hop")
	}
	if err := s.store.IncrementWarmupReplied(ctx, from.ID); err != nil {
		return eris.Wrap(err, "warmup: bump replied")
	}
	if err := s.store.IncrementWarmupReceived(ctx, to.ID); err != nil {
		return eris.Wrap(err, "warmup: bump received")
	}
	return nil
}

func (s *Sender) randomDelay(min, max time.Duration) time.Duration {
	return min + time.Duration(s.rand.Int64N(int64(max-min)))
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}
