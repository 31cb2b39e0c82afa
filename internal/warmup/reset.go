package warmup

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const lastResetKey = "warmup:last-reset"

// DailyResetTick advances day counters exactly once per UTC day, regardless
// of how many scheduler instances are running. The winner of a compare-and-
// swap on the last-reset marker performs the reset; everyone else no-ops.
func (s *Scheduler) DailyResetTick(ctx context.Context) error {
	today := s.clock.Now().UTC().Format("2006-01-02")

	prev, err := s.store.GetKV(ctx, lastResetKey)
	if err != nil {
		return eris.Wrap(err, "warmup: read last reset")
	}

	if prev == nil {
		// First run ever (or the marker expired). Record the date without
		// touching counters so a fresh deploy does not skip a day.
		if _, err := s.store.CompareAndSwapKV(ctx, lastResetKey, nil, []byte(today), 0); err != nil {
			return eris.Wrap(err, "warmup: record first reset")
		}
		return nil
	}
	if string(prev) == today {
		return nil
	}

	won, err := s.store.CompareAndSwapKV(ctx, lastResetKey, prev, []byte(today), 0)
	if err != nil {
		return eris.Wrap(err, "warmup: claim reset")
	}
	if !won {
		return nil
	}

	n, err := s.store.ResetDailyCounters(ctx)
	if err != nil {
		return eris.Wrap(err, "warmup: reset counters")
	}
	s.logger.Info("daily warmup reset",
		zap.String("date", today),
		zap.Int("states_advanced", n))
	return nil
}
