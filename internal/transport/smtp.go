package transport

import (
	"context"
	"fmt"
	"net/textproto"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	"github.com/sells-group/outreach-engine/internal/resilience"
)

// smtpSender is the slice of gomail used by the mailer, injectable for tests.
type smtpSender interface {
	DialAndSend(msgs ...*gomail.Message) error
}

// smtpDialCheck verifies connectivity and credentials.
type smtpDialCheck interface {
	Dial() (gomail.SendCloser, error)
}

// SMTPConfig holds the connection settings for a generic SMTP inbox.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// SendsPerMinute caps the outbound rate. Zero disables limiting.
	SendsPerMinute int

	// MaxRetries bounds the in-call retry loop around transient SMTP errors.
	MaxRetries uint64
}

// SMTPMailer sends through a plain SMTP relay. SMTP gives us no mailbox
// access, so the read-side operations are no-ops: Messages returns nothing
// and engagement actions succeed silently.
type SMTPMailer struct {
	cfg     SMTPConfig
	sender  smtpSender
	checker smtpDialCheck
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	logger  *zap.Logger
}

// NewSMTPMailer builds a mailer for the given relay. The breaker may be
// shared across inboxes on the same provider.
func NewSMTPMailer(cfg SMTPConfig, breaker *resilience.CircuitBreaker) *SMTPMailer {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	var limiter *rate.Limiter
	if cfg.SendsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.SendsPerMinute)), 1)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	return &SMTPMailer{
		cfg:     cfg,
		sender:  dialer,
		checker: dialer,
		limiter: limiter,
		breaker: breaker,
		logger:  zap.L().Named("smtp"),
	}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) (*SendResult, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "smtp: rate limit wait")
		}
	}

	gm := gomail.NewMessage()
	from := msg.From
	if from == "" {
		from = m.cfg.Username
	}
	if msg.FromName != "" {
		gm.SetAddressHeader("From", from, msg.FromName)
	} else {
		gm.SetHeader("From", from)
	}
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), m.cfg.Host)
	gm.SetHeader("Message-ID", messageID)
	if msg.InReplyTo != "" {
		gm.SetHeader("In-Reply-To", msg.InReplyTo)
		gm.SetHeader("References", msg.InReplyTo)
	}
	for k, v := range msg.Headers {
		gm.SetHeader(k, v)
	}

	if msg.TextBody != "" {
		gm.SetBody("text/plain", msg.TextBody)
	}
	if msg.HTMLBody != "" {
		if msg.TextBody != "" {
			gm.AddAlternative("text/html", msg.HTMLBody)
		} else {
			gm.SetBody("text/html", msg.HTMLBody)
		}
	}

	send := func(ctx context.Context) error {
		op := func() error {
			err := m.sender.DialAndSend(gm)
			if err != nil && !retryableSendError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewExponentialBackOff(), m.cfg.MaxRetries), ctx)
		return backoff.RetryNotify(op, policy, func(err error, next time.Duration) {
			m.logger.Warn("send retry",
				zap.String("to", msg.To),
				zap.Duration("next", next),
				zap.Error(err))
		})
	}

	var err error
	if m.breaker != nil {
		err = m.breaker.Execute(ctx, send)
	} else {
		err = send(ctx)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "smtp: send to %s", msg.To)
	}

	threadID := msg.ThreadID
	if threadID == "" {
		threadID = messageID
	}
	return &SendResult{MessageID: messageID, ThreadID: threadID}, nil
}

// retryableSendError recognizes transient network failures and 4xx SMTP
// replies. gomail surfaces server replies either as *textproto.Error or as a
// message prefixed with the status code.
func retryableSendError(err error) bool {
	if resilience.IsTransient(err) {
		return true
	}
	var tpErr *textproto.Error
	if eris.As(err, &tpErr) {
		return resilience.IsTransientSMTPStatus(tpErr.Code)
	}
	msg := err.Error()
	if len(msg) >= 3 {
		if code, perr := strconv.Atoi(msg[:3]); perr == nil {
			return resilience.IsTransientSMTPStatus(code)
		}
	}
	return false
}

// Messages always returns an empty list: SMTP has no read side.
func (m *SMTPMailer) Messages(ctx context.Context, query string, limit int) ([]InboundMessage, error) {
	return []InboundMessage{}, nil
}

func (m *SMTPMailer) MarkRead(ctx context.Context, messageID string) error { return nil }

func (m *SMTPMailer) MarkStarred(ctx context.Context, messageID string) error { return nil }

// Validate dials the relay and closes the connection.
func (m *SMTPMailer) Validate(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		sc, err := m.checker.Dial()
		if err == nil {
			sc.Close()
		}
		done <- err
	}()

	select {
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "smtp: validate")
	case err := <-done:
		if err != nil {
			return eris.Wrapf(err, "smtp: validate %s", m.cfg.Host)
		}
		return nil
	}
}
