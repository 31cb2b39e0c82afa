package warmup

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/outreach-engine/internal/model"
)

func TestQuota(t *testing.T) {
	t.Parallel()

	tests := []struct {
		day   int
		speed model.RampSpeed
		want  int
	}{
		{1, model.RampSpeedNormal, 2},
		{1, model.RampSpeedSlow, 1},
		{1, model.RampSpeedFast, 3},
		{2, model.RampSpeedNormal, 2},
		{3, model.RampSpeedNormal, 4},
		{5, model.RampSpeedNormal, 8},
		{8, model.RampSpeedNormal, 12},
		{11, model.RampSpeedNormal, 18},
		{15, model.RampSpeedNormal, 25},
		{22, model.RampSpeedNormal, 35},
		{30, model.RampSpeedNormal, 35},
		{31, model.RampSpeedNormal, 40},
		{100, model.RampSpeedNormal, 40},
		{31, model.RampSpeedSlow, 28},
		{31, model.RampSpeedFast, 60},
		{0, model.RampSpeedNormal, 0},
		{-3, model.RampSpeedFast, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("day_%d_%s", tt.day, tt.speed), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Quota(tt.day, tt.speed))
		})
	}
}

func TestQuotaMonotonic(t *testing.T) {
	t.Parallel()

	speeds := []model.RampSpeed{model.RampSpeedSlow, model.RampSpeedNormal, model.RampSpeedFast}
	for day := 1; day < 120; day++ {
		for _, speed := range speeds {
			assert.GreaterOrEqual(t, Quota(day+1, speed), Quota(day, speed),
				"quota must not shrink from day %d to %d at %s", day, day+1, speed)
		}
		assert.LessOrEqual(t, Quota(day, model.RampSpeedSlow), Quota(day, model.RampSpeedNormal))
		assert.LessOrEqual(t, Quota(day, model.RampSpeedNormal), Quota(day, model.RampSpeedFast))
	}
}
