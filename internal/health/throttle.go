package health

import "math"

// Auto-pause thresholds. Rate comparisons are strict, and both rates are
// ignored below the minimum sample to avoid noise on small volumes.
const (
	// HardPauseBelow is the health score under which the monitor hard-pauses
	// an inbox regardless of bounce or spam rates.
	HardPauseBelow = 20

	maxBounceRatePct = 3.0
	maxSpamRatePct   = 1.0
	minPauseSample   = 50
)

// PauseBand maps a health score to the discrete capacity band used by the
// health monitor's auto-pause evaluation. A band of 0 means paused.
func PauseBand(health int) int {
	switch {
	case health >= 80:
		return 100
	case health >= 60:
		return 75
	case health >= 40:
		return 50
	case health >= 20:
		return 25
	default:
		return 0
	}
}

// SendThrottle maps a health score to the continuous send-capacity
// percentage used by campaign dispatch. This mapping diverged from
// PauseBand long ago and the two are kept separate on purpose: campaign
// dispatch never drops below a 25% floor, while the monitor pauses outright.
func SendThrottle(health int) int {
	if health < HardPauseBelow {
		return 25
	}
	pct := 25 + float64(health-20)*75/80
	return int(math.Round(math.Max(25, math.Min(100, pct))))
}

// PauseDecision is the outcome of an auto-pause evaluation. Trigger is the
// metric that fired, for labelling.
type PauseDecision struct {
	Pause   bool
	Reason  string
	Trigger string
}

// EvaluateAutoPause decides whether an inbox should be hard-paused.
// Health below HardPauseBelow pauses unconditionally; bounce and spam rate
// checks require at least minPauseSample sent emails and use strict
// greater-than comparisons. Rates are percentages (3.0 means 3%).
func EvaluateAutoPause(healthScore int, bounceRatePct, spamRatePct float64, sentSample int) PauseDecision {
	if healthScore < HardPauseBelow {
		return PauseDecision{Pause: true, Reason: "health score critically low", Trigger: "health"}
	}
	if sentSample < minPauseSample {
		return PauseDecision{}
	}
	if bounceRatePct > maxBounceRatePct {
		return PauseDecision{Pause: true, Reason: "7-day bounce rate above threshold", Trigger: "bounce_rate"}
	}
	if spamRatePct > maxSpamRatePct {
		return PauseDecision{Pause: true, Reason: "spam complaint rate above threshold", Trigger: "spam_rate"}
	}
	return PauseDecision{}
}
