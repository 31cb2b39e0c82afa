package warmup

import (
	"context"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/model"
)

func TestDailyResetFirstRunOnlyRecordsDate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	mck := clock.NewMock()
	s, _ := newTestScheduler(t, st, mck)

	seedInbox(t, st, "in-1", "team-1", model.InboxStatusActive, 80)
	seedWarmupState(t, st, "in-1", "team-1", 4, model.WarmupModePool)
	require.NoError(t, st.IncrementWarmupSent(ctx, "in-1"))

	// A fresh deploy must not advance anyone's day.
	require.NoError(t, s.DailyResetTick(ctx))

	ws, err := st.GetWarmupState(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, 4, ws.CurrentDay)
	assert.Equal(t, 1, ws.SentToday)
}

func TestDailyResetAdvancesOncePerDay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	mck := clock.NewMock()
	s, _ := newTestScheduler(t, st, mck)

	seedInbox(t, st, "in-1", "team-1", model.InboxStatusActive, 80)
	seedWarmupState(t, st, "in-1", "team-1", 4, model.WarmupModePool)
	require.NoError(t, st.IncrementWarmupSent(ctx, "in-1"))

	require.NoError(t, s.DailyResetTick(ctx)) // records today
	mck.Add(24 * time.Hour)

	// The reset tick fires every minute; only the first crossing of the
	// date boundary may mutate counters.
	require.NoError(t, s.DailyResetTick(ctx))
	require.NoError(t, s.DailyResetTick(ctx))
	require.NoError(t, s.DailyResetTick(ctx))

	ws, err := st.GetWarmupState(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, 5, ws.CurrentDay)
	assert.Zero(t, ws.SentToday)
}

func TestDailyResetSkipsDisabledStates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	mck := clock.NewMock()
	s, _ := newTestScheduler(t, st, mck)

	seedInbox(t, st, "in-1", "team-1", model.InboxStatusActive, 80)
	seedWarmupState(t, st, "in-1", "team-1", 4, model.WarmupModePool)
	require.NoError(t, st.SetWarmupEnabled(ctx, "in-1", false, model.WarmupPhasePaused))

	require.NoError(t, s.DailyResetTick(ctx))
	mck.Add(24 * time.Hour)
	require.NoError(t, s.DailyResetTick(ctx))

	ws, err := st.GetWarmupState(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, 4, ws.CurrentDay, "paused states do not ramp")
}
