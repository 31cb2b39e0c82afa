package bounce

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/lifecycle"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

func newEscalator(t *testing.T) (*Escalator, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "bounce.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return New(st, lifecycle.New(st)), st
}

func seedContactedLead(t *testing.T, st store.Store, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateLead(ctx, &model.Lead{
		ID: id, TeamID: "team-1", Email: id + "@example.com",
	}))
	now := time.Now().UTC()
	require.NoError(t, st.ApplyLeadTransition(ctx, id, model.LeadStatusContacted, model.LeadFieldUpdates{
		FirstContactedAt: &now, LastContactedAt: &now,
	}))
}

func TestEffectiveType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, TypeHard, EffectiveType(TypeHard, 0))
	assert.Equal(t, TypeSoft, EffectiveType(TypeSoft, 1))
	assert.Equal(t, TypeSoft, EffectiveType(TypeSoft, 2))
	assert.Equal(t, TypeHard, EffectiveType(TypeSoft, 3))
	assert.Equal(t, TypeHard, EffectiveType(TypeSoft, 5))
}

func TestHardBounceSuppressesImmediately(t *testing.T) {
	t.Parallel()
	e, st := newEscalator(t)
	ctx := context.Background()
	seedContactedLead(t, st, "lead-h")

	out, err := e.Process(ctx, "lead-h", TypeHard)
	require.NoError(t, err)
	assert.Equal(t, TypeHard, out.EffectiveType)
	assert.True(t, out.Suppressed)
	assert.Zero(t, out.RetryAfter)

	lead, err := st.GetLead(ctx, "lead-h")
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusBounced, lead.Status)
	assert.NotNil(t, lead.BouncedAt)

	suppressed, err := st.IsSuppressed(ctx, "team-1", "lead-h@example.com")
	require.NoError(t, err)
	assert.True(t, suppressed)
}

func TestSoftBounceRetrySchedule(t *testing.T) {
	t.Parallel()
	e, st := newEscalator(t)
	ctx := context.Background()
	seedContactedLead(t, st, "lead-s")

	out, err := e.Process(ctx, "lead-s", TypeSoft)
	require.NoError(t, err)
	assert.Equal(t, TypeSoft, out.EffectiveType)
	assert.Equal(t, time.Hour, out.RetryAfter)

	lead, err := st.GetLead(ctx, "lead-s")
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusSoftBounced, lead.Status)
	assert.Equal(t, 1, lead.SoftBounceCount)

	out, err = e.Process(ctx, "lead-s", TypeSoft)
	require.NoError(t, err)
	assert.Equal(t, TypeSoft, out.EffectiveType)
	assert.Equal(t, 2*time.Hour, out.RetryAfter)

	suppressed, err := st.IsSuppressed(ctx, "team-1", "lead-s@example.com")
	require.NoError(t, err)
	assert.False(t, suppressed, "soft bounces within the window do not suppress")
}

func TestSoftBounceExhaustionEscalatesToHard(t *testing.T) {
	t.Parallel()
	e, st := newEscalator(t)
	ctx := context.Background()
	seedContactedLead(t, st, "lead-x")

	for i := 0; i < 2; i++ {
		out, err := e.Process(ctx, "lead-x", TypeSoft)
		require.NoError(t, err)
		assert.Equal(t, TypeSoft, out.EffectiveType)
	}

	out, err := e.Process(ctx, "lead-x", TypeSoft)
	require.NoError(t, err)
	assert.Equal(t, TypeHard, out.EffectiveType, "third soft bounce is effectively hard")
	assert.True(t, out.Suppressed)

	lead, err := st.GetLead(ctx, "lead-x")
	require.NoError(t, err)
	assert.Equal(t, 3, lead.SoftBounceCount)
	assert.Equal(t, model.LeadStatusBounced, lead.Status)

	suppressed, err := st.IsSuppressed(ctx, "team-1", "lead-x@example.com")
	require.NoError(t, err)
	assert.True(t, suppressed, "exhausted soft bounces still suppress")
}

func TestProcessUnknownLead(t *testing.T) {
	t.Parallel()
	e, _ := newEscalator(t)

	_, err := e.Process(context.Background(), "missing", TypeHard)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
