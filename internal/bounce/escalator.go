// Package bounce escalates delivery failures. Hard bounces suppress the
// address immediately; soft bounces get a bounded retry window and escalate
// to hard once it is exhausted.
package bounce

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/lifecycle"
	"github.com/sells-group/outreach-engine/internal/metrics"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

// Type is the bounce classification reported by the transport.
type Type string

const (
	TypeHard Type = "hard"
	TypeSoft Type = "soft"
)

// maxSoftRetries bounds the retry window before a soft bounce is treated as
// hard.
const maxSoftRetries = 3

// retryDelays are measured from each occurrence: 1h, then 2h, then 4h.
var retryDelays = [maxSoftRetries]time.Duration{time.Hour, 2 * time.Hour, 4 * time.Hour}

// Outcome reports what the escalator decided for one bounce event.
type Outcome struct {
	// EffectiveType is hard when the original bounce was hard or the soft
	// retry window is exhausted.
	EffectiveType Type

	// RetryAfter is the delay before the next send retry. Zero when the
	// bounce is effectively hard.
	RetryAfter time.Duration

	// Suppressed is true when the address was added to the suppression list.
	Suppressed bool
}

// Escalator processes bounce events against the lead lifecycle.
type Escalator struct {
	store   store.Store
	machine *lifecycle.Machine
	logger  *zap.Logger
}

func New(st store.Store, machine *lifecycle.Machine) *Escalator {
	return &Escalator{
		store:   st,
		machine: machine,
		logger:  zap.L().Named("bounce"),
	}
}

// EffectiveType resolves the bounce classification from the soft bounce
// counter. Suppression and the hard transition key off this, not the
// original classification.
func EffectiveType(original Type, softBounceCount int) Type {
	if original == TypeHard || softBounceCount >= maxSoftRetries {
		return TypeHard
	}
	return TypeSoft
}

// Process records one bounce for a lead and returns the decision.
func (e *Escalator) Process(ctx context.Context, leadID string, bounceType Type) (*Outcome, error) {
	lead, err := e.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, eris.Wrapf(err, "bounce: load lead %s", leadID)
	}

	softCount := lead.SoftBounceCount
	if bounceType == TypeSoft {
		softCount, err = e.store.IncrementLeadSoftBounce(ctx, leadID)
		if err != nil {
			return nil, eris.Wrapf(err, "bounce: count soft bounce %s", leadID)
		}
	}

	effective := EffectiveType(bounceType, softCount)
	if effective == TypeSoft {
		if _, err := e.machine.Transition(ctx, lead.ID, lead.Status, model.EventSoftBounce, nil); err != nil {
			return nil, eris.Wrapf(err, "bounce: soft transition %s", leadID)
		}
		metrics.Bounces.WithLabelValues("soft").Inc()
		return &Outcome{
			EffectiveType: TypeSoft,
			RetryAfter:    retryDelays[softCount-1],
		}, nil
	}

	// Effectively hard: suppress first so the address is blocked even if
	// the status transition is a no-op from the current state.
	if err := e.store.AddSuppression(ctx, &model.SuppressionEntry{
		ID:     uuid.NewString(),
		TeamID: lead.TeamID,
		Email:  lead.Email,
		Reason: model.SuppressionHardBounce,
	}); err != nil {
		return nil, eris.Wrapf(err, "bounce: suppress %s", lead.Email)
	}

	if _, err := e.machine.Transition(ctx, lead.ID, lead.Status, model.EventEmailBounced, nil); err != nil {
		return nil, eris.Wrapf(err, "bounce: hard transition %s", leadID)
	}

	kind := "hard"
	if bounceType == TypeSoft {
		kind = "retry_exhausted"
		e.logger.Info("soft bounce retries exhausted",
			zap.String("lead_id", leadID),
			zap.Int("soft_bounces", softCount))
	}
	metrics.Bounces.WithLabelValues(kind).Inc()

	return &Outcome{EffectiveType: TypeHard, Suppressed: true}, nil
}
