package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/health"
	"github.com/sells-group/outreach-engine/internal/metrics"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/internal/warmup"
)

// Evaluator recomputes health scores and applies the auto-pause policy to
// every connected inbox.
type Evaluator struct {
	store    store.Store
	cascader *warmup.Cascader
	logger   *zap.Logger
}

// NewEvaluator creates a health evaluator.
func NewEvaluator(st store.Store, casc *warmup.Cascader) *Evaluator {
	return &Evaluator{
		store:    st,
		cascader: casc,
		logger:   zap.L().Named("monitoring.evaluator"),
	}
}

// EvaluateAll scores every connected inbox, persists the new health and
// throttle values, and pauses any inbox the policy flags. Returns the alerts
// for pauses that fired.
func (e *Evaluator) EvaluateAll(ctx context.Context) ([]Alert, error) {
	inboxes, err := e.store.ListConnectedInboxes(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list inboxes")
	}

	var alerts []Alert
	for _, inbox := range inboxes {
		alert, err := e.evaluate(ctx, inbox)
		if err != nil {
			e.logger.Error("inbox evaluation failed",
				zap.String("inbox_id", inbox.ID), zap.Error(err))
			continue
		}
		if alert != nil {
			alerts = append(alerts, *alert)
		}
	}
	return alerts, nil
}

func (e *Evaluator) evaluate(ctx context.Context, inbox model.Inbox) (*Alert, error) {
	in := health.ScoreInput{
		SentTotal:  inbox.SentTotal,
		BounceRate: inbox.BounceRate7d,
		SpamRate:   inbox.SpamRate7d,
	}
	hasWarmup := true
	ws, err := e.store.GetWarmupState(ctx, inbox.ID)
	switch {
	case err == nil:
		in.Enabled = ws.Enabled
		in.CurrentDay = ws.CurrentDay
		in.RepliedTotal = ws.RepliedTotal
	case eris.Is(err, store.ErrNotFound):
		// Never warmed up; scored on volume and rates alone.
		hasWarmup = false
	default:
		return nil, eris.Wrapf(err, "monitoring: load warmup state %s", inbox.ID)
	}

	score := health.Score(in)
	metrics.InboxHealth.WithLabelValues(inbox.ID).Set(float64(score))

	// The persisted throttle is the discrete capacity band; the continuous
	// SendThrottle mapping belongs to campaign dispatch, not the monitor.
	if err := e.store.UpdateInboxHealth(ctx, inbox.ID, score, health.PauseBand(score)); err != nil {
		return nil, eris.Wrapf(err, "monitoring: persist health %s", inbox.ID)
	}

	// An inbox that never warmed up scores near zero by construction; the
	// pause policy only applies once there is a warmup history to judge.
	if !hasWarmup {
		return nil, nil
	}
	decision := health.EvaluateAutoPause(score, inbox.BounceRate7d, inbox.SpamRate7d, inbox.SentTotal)
	if !decision.Pause {
		return nil, nil
	}

	metrics.AutoPauses.WithLabelValues(decision.Trigger).Inc()
	e.logger.Warn("auto-pausing inbox",
		zap.String("inbox_id", inbox.ID),
		zap.Int("health_score", score),
		zap.String("reason", decision.Reason))

	if err := e.store.UpdateInboxStatus(ctx, inbox.ID, model.InboxStatusPaused, decision.Reason); err != nil {
		return nil, eris.Wrapf(err, "monitoring: pause inbox %s", inbox.ID)
	}
	err = e.store.SetWarmupEnabled(ctx, inbox.ID, false, model.WarmupPhasePaused)
	if err != nil && !eris.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(err, "monitoring: pause warmup %s", inbox.ID)
	}
	// A paused inbox no longer counts as connected, so the pool invariant
	// must be re-checked.
	if err := e.cascader.EvaluateTeamPool(ctx, inbox.TeamID); err != nil {
		return nil, err
	}

	return &Alert{
		Type:     AlertInboxAutoPaused,
		Severity: "high",
		Message:  fmt.Sprintf("Inbox %s auto-paused: %s", inbox.Email, decision.Reason),
		Details: map[string]any{
			"inbox_id":       inbox.ID,
			"team_id":        inbox.TeamID,
			"health_score":   score,
			"bounce_rate_7d": inbox.BounceRate7d,
			"spam_rate_7d":   inbox.SpamRate7d,
			"trigger":        decision.Trigger,
		},
		Timestamp: time.Now().UTC(),
	}, nil
}
