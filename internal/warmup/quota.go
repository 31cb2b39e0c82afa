// Package warmup plans and executes deliverability warmup: ramped synthetic
// sends between controlled inboxes, threaded replies, and the cascades that
// pause everything when an inbox drops out.
package warmup

import (
	"math"

	"github.com/sells-group/outreach-engine/internal/model"
)

// rampTier maps an inclusive day range to a base daily quota.
type rampTier struct {
	fromDay int
	toDay   int // 0 means open-ended
	base    int
}

var rampTable = []rampTier{
	{1, 2, 2},
	{3, 4, 4},
	{5, 7, 8},
	{8, 10, 12},
	{11, 14, 18},
	{15, 21, 25},
	{22, 30, 35},
	{31, 0, 40},
}

func speedMultiplier(speed model.RampSpeed) float64 {
	switch speed {
	case model.RampSpeedSlow:
		return 0.7
	case model.RampSpeedFast:
		return 1.5
	default:
		return 1.0
	}
}

// Quota returns the planned number of warmup sends for a given warmup day.
// The ramp base is scaled by the speed multiplier and floored. Days before
// the ramp starts get zero.
func Quota(day int, speed model.RampSpeed) int {
	if day < 1 {
		return 0
	}
	for _, tier := range rampTable {
		if day >= tier.fromDay && (tier.toDay == 0 || day <= tier.toDay) {
			return int(math.Floor(float64(tier.base) * speedMultiplier(speed)))
		}
	}
	return 0
}
