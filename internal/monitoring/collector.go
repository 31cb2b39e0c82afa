package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

// MetricsSnapshot holds a point-in-time view of fleet and queue health.
type MetricsSnapshot struct {
	// Inbox fleet.
	InboxesConnected int `json:"inboxes_connected"`
	InboxesActive    int `json:"inboxes_active"`
	InboxesWarmingUp int `json:"inboxes_warming_up"`
	AdminsActive     int `json:"admins_active"`

	// Health score distribution over connected inboxes.
	HealthExcellent int     `json:"health_excellent"` // 75-100
	HealthGood      int     `json:"health_good"`      // 50-74
	HealthFair      int     `json:"health_fair"`      // 25-49
	HealthPoor      int     `json:"health_poor"`      // 0-24
	HealthAvg       float64 `json:"health_avg"`

	// Warmup volume, today's counters summed over enabled states.
	WarmupEnabled      int `json:"warmup_enabled"`
	WarmupSentToday    int `json:"warmup_sent_today"`
	WarmupRecvToday    int `json:"warmup_recv_today"`
	WarmupRepliedToday int `json:"warmup_replied_today"`

	// Job queue depth by status.
	JobsWaiting int `json:"jobs_waiting"`
	JobsActive  int `json:"jobs_active"`
	JobsDone    int `json:"jobs_done"`
	JobsFailed  int `json:"jobs_failed"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers the snapshot from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a point-in-time snapshot of the fleet.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{CollectedAt: time.Now().UTC()}

	inboxes, err := c.store.ListConnectedInboxes(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list inboxes")
	}
	snap.InboxesConnected = len(inboxes)
	var healthSum int
	for _, in := range inboxes {
		switch in.Status {
		case model.InboxStatusActive:
			snap.InboxesActive++
		case model.InboxStatusWarmingUp:
			snap.InboxesWarmingUp++
		}
		healthSum += in.HealthScore
		switch {
		case in.HealthScore >= 75:
			snap.HealthExcellent++
		case in.HealthScore >= 50:
			snap.HealthGood++
		case in.HealthScore >= 25:
			snap.HealthFair++
		default:
			snap.HealthPoor++
		}
	}
	if len(inboxes) > 0 {
		snap.HealthAvg = float64(healthSum) / float64(len(inboxes))
	}

	admins, err := c.store.ListAdminInboxes(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list admin inboxes")
	}
	for _, a := range admins {
		if a.Status == model.InboxStatusActive {
			snap.AdminsActive++
		}
	}

	candidates, err := c.store.ListWarmupCandidates(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list warmup states")
	}
	snap.WarmupEnabled = len(candidates)
	for _, cand := range candidates {
		snap.WarmupSentToday += cand.State.SentToday
		snap.WarmupRecvToday += cand.State.ReceivedToday
		snap.WarmupRepliedToday += cand.State.RepliedToday
	}

	for status, dst := range map[store.JobStatus]*int{
		store.JobStatusWaiting: &snap.JobsWaiting,
		store.JobStatusActive:  &snap.JobsActive,
		store.JobStatusDone:    &snap.JobsDone,
		store.JobStatusFailed:  &snap.JobsFailed,
	} {
		n, err := c.store.CountJobsByStatus(ctx, status)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: count %s jobs", status)
		}
		*dst = n
	}

	return snap, nil
}
