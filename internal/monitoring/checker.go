// Package monitoring validates inbox connections on a schedule, recomputes
// health scores, and pushes webhook alerts when inboxes drop out.
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/config"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/internal/warmup"
)

// Checker runs periodic connection and health checks in the background.
type Checker struct {
	store     store.Store
	mailers   warmup.MailerSource
	cascader  *warmup.Cascader
	evaluator *Evaluator
	alerter   *Alerter
	clock     clock.Clock
	retry     resilience.RetryConfig
	cfg       config.MonitoringConfig
}

// NewChecker creates a background connection checker. A nil clock uses wall
// time.
func NewChecker(st store.Store, mailers warmup.MailerSource, casc *warmup.Cascader, eval *Evaluator, alerter *Alerter, clk clock.Clock, cfg config.MonitoringConfig) *Checker {
	if clk == nil {
		clk = clock.New()
	}
	return &Checker{
		store:     st,
		mailers:   mailers,
		cascader:  casc,
		evaluator: eval,
		alerter:   alerter,
		clock:     clk,
		retry:     resilience.DefaultRetryConfig(),
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting connection checker", zap.Duration("interval", interval))

	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("connection checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// Check runs one full pass on demand, for send-failure triggers and the CLI.
func (c *Checker) Check(ctx context.Context) {
	c.check(ctx, zap.L().With(zap.String("component", "monitoring.checker")))
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	alerts, err := c.CheckConnections(ctx)
	if err != nil {
		log.Error("monitoring: connection check failed", zap.Error(err))
	}

	healthAlerts, err := c.evaluator.EvaluateAll(ctx)
	if err != nil {
		log.Error("monitoring: health evaluation failed", zap.Error(err))
	}
	alerts = append(alerts, healthAlerts...)

	if len(alerts) == 0 {
		log.Debug("monitoring: all inboxes healthy")
		return
	}
	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
}

// CheckConnections validates the credentials of every connected user inbox
// and every active admin inbox, disconnecting the ones that fail.
func (c *Checker) CheckConnections(ctx context.Context) ([]Alert, error) {
	var alerts []Alert

	inboxes, err := c.store.ListConnectedInboxes(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list inboxes")
	}
	for _, inbox := range inboxes {
		if verr := c.validate(ctx, inbox.ID, false); verr != nil {
			reason := "credential validation failed: " + verr.Error()
			if derr := c.cascader.DisconnectInbox(ctx, inbox.ID, reason); derr != nil {
				zap.L().Error("monitoring: disconnect failed",
					zap.String("inbox_id", inbox.ID), zap.Error(derr))
				continue
			}
			alerts = append(alerts, Alert{
				Type:      AlertInboxDisconnected,
				Severity:  "high",
				Message:   fmt.Sprintf("Inbox %s disconnected: %s", inbox.Email, reason),
				Details:   map[string]any{"inbox_id": inbox.ID, "team_id": inbox.TeamID},
				Timestamp: time.Now().UTC(),
			})
		}
	}

	admins, err := c.store.ListAdminInboxes(ctx)
	if err != nil {
		return alerts, eris.Wrap(err, "monitoring: list admin inboxes")
	}
	for _, admin := range admins {
		if admin.Status != model.InboxStatusActive {
			continue
		}
		if verr := c.validate(ctx, admin.ID, true); verr != nil {
			reason := "credential validation failed: " + verr.Error()
			if derr := c.cascader.DisconnectAdminInbox(ctx, admin.ID, reason); derr != nil {
				zap.L().Error("monitoring: admin disconnect failed",
					zap.String("admin_inbox_id", admin.ID), zap.Error(derr))
				continue
			}
			alerts = append(alerts, Alert{
				Type:      AlertAdminDisconnected,
				Severity:  "high",
				Message:   fmt.Sprintf("Admin inbox %s disconnected: %s", admin.Email, reason),
				Details:   map[string]any{"admin_inbox_id": admin.ID},
				Timestamp: time.Now().UTC(),
			})
		}
	}
	return alerts, nil
}

// CheckInbox validates a single user inbox on demand, typically after a send
// failure. It disconnects the inbox on failure and reports whether the
// credentials are still good.
func (c *Checker) CheckInbox(ctx context.Context, inboxID string) (bool, error) {
	inbox, err := c.store.GetInbox(ctx, inboxID)
	if err != nil {
		return false, eris.Wrapf(err, "monitoring: load inbox %s", inboxID)
	}

	verr := c.validate(ctx, inbox.ID, false)
	if verr == nil {
		return true, nil
	}

	reason := "credential validation failed: " + verr.Error()
	if derr := c.cascader.DisconnectInbox(ctx, inbox.ID, reason); derr != nil {
		return false, eris.Wrapf(derr, "monitoring: disconnect inbox %s", inboxID)
	}
	c.alerter.SendAlerts(ctx, []Alert{{
		Type:      AlertInboxDisconnected,
		Severity:  "high",
		Message:   fmt.Sprintf("Inbox %s disconnected: %s", inbox.Email, reason),
		Details:   map[string]any{"inbox_id": inbox.ID, "team_id": inbox.TeamID},
		Timestamp: time.Now().UTC(),
	}})
	return false, nil
}

func (c *Checker) validate(ctx context.Context, id string, admin bool) error {
	timeout := time.Duration(c.cfg.ValidateTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mailer interface{ Validate(context.Context) error }
	var err error
	if admin {
		mailer, err = c.mailers.MailerForAdmin(vctx, id)
	} else {
		mailer, err = c.mailers.MailerFor(vctx, id)
	}
	if err != nil {
		return err
	}
	// A transient network blip must not disconnect an inbox; only an error
	// that survives the retry window counts as a validation failure.
	return resilience.Do(vctx, c.retry, func(ctx context.Context) error {
		return mailer.Validate(ctx)
	})
}
