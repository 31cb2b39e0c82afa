package warmup

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/queue"
	"github.com/sells-group/outreach-engine/internal/store"
)

func newTestScheduler(t *testing.T, st store.Store, mck clock.Clock) (*Scheduler, *queue.Queue) {
	t.Helper()
	q := queue.New(st, mck)
	s := NewScheduler(st, q, NewCascader(st), mck, testRand(), SchedulerConfig{})
	return s, q
}

func TestDispatchTickSchedulesRemainingQuota(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	mck := clock.NewMock()
	s, q := newTestScheduler(t, st, mck)

	seedInbox(t, st, "in-1", "team-1", model.InboxStatusActive, 80)
	seedInbox(t, st, "in-2", "team-1", model.InboxStatusActive, 60)
	seedWarmupState(t, st, "in-1", "team-1", 1, model.WarmupModePool)
	seedWarmupState(t, st, "in-2", "team-1", 1, model.WarmupModePool)

	require.NoError(t, s.DispatchTick(ctx))

	// Day 1 at normal speed plans two sends per inbox.
	for _, id := range []string{"in-1", "in-2"} {
		n, err := q.PendingFor(ctx, JobTypeSend, "fromInboxId", id)
		require.NoError(t, err)
		assert.Equal(t, 2, n, "inbox %s", id)
	}
}

// The dispatcher reads sent_today and then enqueues, so two ticks racing on
// the same inbox could both observe the stale counter. That window is
// accepted: job IDs are deterministic per inbox, day, and slot, so the
// queue's unique insert collapses the duplicates and repeated ticks never
// push an inbox past its daily quota.
func TestDispatchTickIsIdempotentAcrossOverlappingTicks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	mck := clock.NewMock()
	s, q := newTestScheduler(t, st, mck)

	seedInbox(t, st, "in-1", "team-1", model.InboxStatusActive, 80)
	seedInbox(t, st, "in-2", "team-1", model.InboxStatusActive, 60)
	seedWarmupState(t, st, "in-1", "team-1", 3, model.WarmupModePool)
	seedWarmupState(t, st, "in-2", "team-1", 3, model.WarmupModePool)

	require.NoError(t, s.DispatchTick(ctx))
	require.NoError(t, s.DispatchTick(ctx))
	require.NoError(t, s.DispatchTick(ctx))

	n, err := q.PendingFor(ctx, JobTypeSend, "fromInboxId", "in-1")
	require.NoError(t, err)
	assert.Equal(t, 4, n, "reruns must not add jobs beyond the day-3 quota")
}

func TestDispatchTickCountsSentToday(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	mck := clock.NewMock()
	s, q := newTestScheduler(t, st, mck)

	seedInbox(t, st, "in-1", "team-1", model.InboxStatusActive, 80)
	seedInbox(t, st, "in-2", "team-1", model.InboxStatusActive, 60)
	seedWarmupState(t, st, "in-1", "team-1", 1, model.WarmupModePool)
	seedWarmupState(t, st, "in-2", "team-1", 1, model.WarmupModePool)
	require.NoError(t, st.IncrementWarmupSent(ctx, "in-1"))

	require.NoError(t, s.DispatchTick(ctx))

	n, err := q.PendingFor(ctx, JobTypeSend, "fromInboxId", "in-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "one of the two day-1 sends already happened")
}

func TestDispatchTickPausesUnderpopulatedPool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	mck := clock.NewMock()
	s, q := newTestScheduler(t, st, mck)

	seedInbox(t, st, "in-1", "team-1", model.InboxStatusActive, 80)
	seedInbox(t, st, "in-2", "team-1", model.InboxStatusPaused, 60)
	seedWarmupState(t, st, "in-1", "team-1", 5, model.WarmupModePool)
	seedWarmupState(t, st, "in-2", "team-1", 5, model.WarmupModePool)

	require.NoError(t, s.DispatchTick(ctx))

	for _, id := range []string{"in-1", "in-2"} {
		ws, err := st.GetWarmupState(ctx, id)
		require.NoError(t, err)
		assert.False(t, ws.Enabled, "inbox %s should be paused", id)
		assert.Equal(t, model.WarmupPhasePaused, ws.Phase)
	}
	n, err := q.PendingFor(ctx, JobTypeSend, "fromInboxId", "in-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDispatchTickSpreadsSendsAcrossWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	mck := clock.NewMock()
	s, _ := newTestScheduler(t, st, mck)

	seedInbox(t, st, "in-1", "team-1", model.InboxStatusActive, 80)
	seedInbox(t, st, "in-2", "team-1", model.InboxStatusActive, 60)
	seedWarmupState(t, st, "in-1", "team-1", 8, model.WarmupModePool) // quota 12
	seedWarmupState(t, st, "in-2", "team-1", 8, model.WarmupModePool)

	require.NoError(t, s.DispatchTick(ctx))

	deadline := mck.Now().Add(sendWindow + jitterCap)
	jobs, err := st.ClaimDueJobs(ctx, JobTypeSend, deadline, 100)
	require.NoError(t, err)
	require.Len(t, jobs, 24)

	perInbox := make(map[string][]time.Time)
	for _, j := range jobs {
		var p SendPayload
		require.NoError(t, json.Unmarshal(j.Payload, &p))
		assert.NotEqual(t, p.FromInboxID, p.ToInboxID, "no self-sends")
		perInbox[p.FromInboxID] = append(perInbox[p.FromInboxID], j.RunAt)
	}
	for id, runs := range perInbox {
		distinct := make(map[time.Time]bool)
		for _, r := range runs {
			assert.False(t, r.After(deadline), "inbox %s scheduled past the window", id)
			distinct[r] = true
		}
		assert.Greater(t, len(distinct), 1, "inbox %s sends should be spread out", id)
	}
}

func TestDispatchTickNetworkAlternatesDirection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	mck := clock.NewMock()
	s, _ := newTestScheduler(t, st, mck)

	seedInbox(t, st, "in-1", "team-1", model.InboxStatusActive, 80)
	seedWarmupState(t, st, "in-1", "team-1", 3, model.WarmupModeNetwork) // quota 4
	seedAdminInbox(t, st, "adm-1", model.InboxStatusActive)
	seedAssignment(t, st, "as-1", "in-1", "adm-1")

	require.NoError(t, s.DispatchTick(ctx))

	jobs, err := st.ClaimDueJobs(ctx, JobTypeSend, mck.Now().Add(sendWindow+jitterCap), 100)
	require.NoError(t, err)
	require.Len(t, jobs, 4)

	directions := map[string]int{}
	for _, j := range jobs {
		var p SendPayload
		require.NoError(t, json.Unmarshal(j.Payload, &p))
		assert.Equal(t, model.WarmupModeNetwork, p.Mode)
		assert.Equal(t, "adm-1", p.AdminInboxID)
		directions[p.Direction]++
		if p.Direction == "inbound" {
			assert.Equal(t, "adm-1", p.FromInboxID)
			assert.Equal(t, "in-1", p.ToInboxID)
		} else {
			assert.Equal(t, "in-1", p.FromInboxID)
			assert.Equal(t, "adm-1", p.ToInboxID)
		}
	}
	assert.Equal(t, 2, directions["outbound"])
	assert.Equal(t, 2, directions["inbound"])
}

func TestDispatchTickNetworkNeedsActiveAdmin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	mck := clock.NewMock()
	s, q := newTestScheduler(t, st, mck)

	seedInbox(t, st, "in-1", "team-1", model.InboxStatusActive, 80)
	seedWarmupState(t, st, "in-1", "team-1", 3, model.WarmupModeNetwork)
	seedAdminInbox(t, st, "adm-1", model.InboxStatusPaused)
	seedAssignment(t, st, "as-1", "in-1", "adm-1")

	require.NoError(t, s.DispatchTick(ctx))

	n, err := q.PendingFor(ctx, JobTypeSend, "fromInboxId", "in-1")
	require.NoError(t, err)
	assert.Zero(t, n, "no sends without an active practice partner")
}
