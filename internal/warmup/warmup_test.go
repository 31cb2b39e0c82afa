package warmup

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "warmup.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testRand() *rand.Rand {
	return rand.New(rand.NewPCG(42, 1337))
}

func seedInbox(t *testing.T, st store.Store, id, teamID string, status model.InboxStatus, health int) {
	t.Helper()
	require.NoError(t, st.UpsertInbox(context.Background(), &model.Inbox{
		ID:          id,
		TeamID:      teamID,
		Email:       id + "@example.com",
		FromName:    "Warmup " + id,
		Provider:    model.ProviderSMTP,
		Status:      status,
		HealthScore: health,
	}))
}

func seedWarmupState(t *testing.T, st store.Store, inboxID, teamID string, day int, mode model.WarmupMode) {
	t.Helper()
	require.NoError(t, st.UpsertWarmupState(context.Background(), &model.WarmupState{
		InboxID:    inboxID,
		TeamID:     teamID,
		Enabled:    true,
		Phase:      model.WarmupPhaseRamping,
		CurrentDay: day,
		RampSpeed:  model.RampSpeedNormal,
		Mode:       mode,
		StartedAt:  time.Now().UTC(),
	}))
}

func seedAdminInbox(t *testing.T, st store.Store, id string, status model.InboxStatus) {
	t.Helper()
	require.NoError(t, st.UpsertAdminInbox(context.Background(), &model.AdminInbox{
		ID:       id,
		Email:    id + "@partner.example.com",
		FromName: "Partner " + id,
		Provider: model.ProviderGmail,
		Status:   status,
	}))
}

func seedAssignment(t *testing.T, st store.Store, id, inboxID, adminInboxID string) {
	t.Helper()
	require.NoError(t, st.CreateAssignment(context.Background(), &model.AdminInboxAssignment{
		ID:           id,
		InboxID:      inboxID,
		AdminInboxID: adminInboxID,
	}))
}
