// Package health computes per-inbox deliverability health scores and the
// throttle mappings derived from them.
package health

import "math"

// Scoring weights. The four positive components sum to 100 before the
// bounce/spam penalties are applied.
const (
	dayScoreMax    = 40.0
	replyScoreMax  = 30.0
	volumeScoreMax = 20.0

	rampTargetDays   = 30.0
	replyRateTarget  = 0.3
	volumeTarget     = 500.0
	bouncePenaltyMul = 10.0
	spamPenaltyMul   = 20.0
)

// ScoreInput carries the warmup progress counters a score is computed from.
// BounceRate and SpamRate are 7-day percentages (3.0 means 3%).
type ScoreInput struct {
	Enabled      bool
	CurrentDay   int
	SentTotal    int
	RepliedTotal int
	BounceRate   float64
	SpamRate     float64
}

// Score computes the 0-100 composite health score for an inbox.
// A never-started inbox (disabled, day zero) scores 0 outright.
func Score(in ScoreInput) int {
	if !in.Enabled && in.CurrentDay == 0 {
		return 0
	}

	dayScore := math.Min(float64(in.CurrentDay)/rampTargetDays, 1) * dayScoreMax

	var replyScore float64
	if in.SentTotal > 0 {
		replyRate := float64(in.RepliedTotal) / float64(in.SentTotal)
		replyScore = math.Min(replyRate/replyRateTarget, 1) * replyScoreMax
	}

	volumeScore := math.Min(float64(in.SentTotal)/volumeTarget, 1) * volumeScoreMax

	var engagementBonus float64
	switch {
	case in.Enabled && in.CurrentDay > 7:
		engagementBonus = 10
	case in.Enabled && in.CurrentDay > 0:
		engagementBonus = 5
	}

	raw := dayScore + replyScore + volumeScore + engagementBonus
	raw -= in.BounceRate * bouncePenaltyMul
	raw -= in.SpamRate * spamPenaltyMul

	return int(math.Round(math.Max(0, math.Min(100, raw))))
}
