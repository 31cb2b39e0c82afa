package warmup

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/metrics"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/queue"
	"github.com/sells-group/outreach-engine/internal/store"
)

// Job type names used on the queue.
const (
	JobTypeSend  = "warmup_send"
	JobTypeReply = "warmup_reply"
)

// sendWindow spreads a day's remaining sends across the working hours.
const sendWindow = 9 * time.Hour

// jitterCap bounds the per-send random jitter.
const jitterCap = time.Minute

// SendPayload is the queue payload for one warmup send.
type SendPayload struct {
	FromInboxID  string           `json:"fromInboxId"`
	ToInboxID    string           `json:"toInboxId"`
	TeamID       string           `json:"teamId"`
	Mode         model.WarmupMode `json:"mode"`
	// Direction is outbound (user→admin) or inbound (admin→user); only
	// meaningful in network mode.
	Direction    string `json:"direction,omitempty"`
	AdminInboxID string `json:"adminInboxId,omitempty"`
}

// SchedulerConfig tunes the dispatch tick.
type SchedulerConfig struct {
	// MaxSendAttempts is passed through to each submitted job.
	MaxSendAttempts int
}

// Scheduler plans warmup sends. It runs on two independent ticks: a coarse
// dispatch tick and a fine daily-reset tick.
type Scheduler struct {
	store    store.Store
	queue    *queue.Queue
	cascader *Cascader
	clock    clock.Clock
	rand     *rand.Rand
	cfg      SchedulerConfig
	logger   *zap.Logger
}

func NewScheduler(st store.Store, q *queue.Queue, casc *Cascader, clk clock.Clock, rnd *rand.Rand, cfg SchedulerConfig) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.MaxSendAttempts <= 0 {
		cfg.MaxSendAttempts = 3
	}
	return &Scheduler{
		store:    st,
		queue:    q,
		cascader: casc,
		clock:    clk,
		rand:     rnd,
		cfg:      cfg,
		logger:   zap.L().Named("warmup.scheduler"),
	}
}

// DispatchTick plans and submits send jobs for every enabled warmup state.
// Ticks may overlap; deterministic job IDs and live pending counts keep
// reruns from double-scheduling.
func (s *Scheduler) DispatchTick(ctx context.Context) error {
	candidates, err := s.store.ListWarmupCandidates(ctx)
	if err != nil {
		return eris.Wrap(err, "warmup: list candidates")
	}

	byTeam := make(map[string][]store.WarmupCandidate)
	for _, c := range candidates {
		byTeam[c.State.TeamID] = append(byTeam[c.State.TeamID], c)
	}

	for teamID, team := range byTeam {
		if err := s.dispatchTeam(ctx, teamID, team); err != nil {
			s.logger.Error("team dispatch failed", zap.String("team_id", teamID), zap.Error(err))
		}
	}
	return nil
}

func (s *Scheduler) dispatchTeam(ctx context.Context, teamID string, team []store.WarmupCandidate) error {
	var pool, network []store.WarmupCandidate
	for _, c := range team {
		if c.State.Mode == model.WarmupModeNetwork {
			network = append(network, c)
		} else {
			pool = append(pool, c)
		}
	}

	if err := s.dispatchPool(ctx, teamID, pool); err != nil {
		return err
	}
	for _, c := range network {
		if err := s.dispatchNetwork(ctx, c); err != nil {
			s.logger.Warn("network dispatch failed",
				zap.String("inbox_id", c.State.InboxID), zap.Error(err))
		}
	}
	return nil
}

func (s *Scheduler) dispatchPool(ctx context.Context, teamID string, pool []store.WarmupCandidate) error {
	if len(pool) == 0 {
		return nil
	}

	var connected []store.WarmupCandidate
	for _, c := range pool {
		if c.InboxStatus.Connected() {
			connected = append(connected, c)
		}
	}

	// Pool warmup needs a partner inbox. Below two, pause the whole team's
	// pool rather than let singles spin.
	if len(connected) < minPoolInboxes {
		n, err := s.store.DisableTeamPoolWarmup(ctx, teamID)
		if err != nil {
			return eris.Wrapf(err, "warmup: disable pool %s", teamID)
		}
		s.logger.Warn("pool below minimum, warmup paused",
			zap.String("team_id", teamID),
			zap.Int("connected", len(connected)),
			zap.Int("paused_states", n))
		return nil
	}

	for _, c := range connected {
		remaining, base, err := s.remainingQuota(ctx, c)
		if err != nil {
			return err
		}
		for i := 0; i < remaining; i++ {
			target := s.pickPoolTarget(connected, c.State.InboxID)
			payload := SendPayload{
				FromInboxID: c.State.InboxID,
				ToInboxID:   target,
				TeamID:      teamID,
				Mode:        model.WarmupModePool,
			}
			if err := s.submitSend(ctx, c.State.InboxID, base+i, remaining, i, payload); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scheduler) dispatchNetwork(ctx context.Context, c store.WarmupCandidate) error {
	if !c.InboxStatus.Connected() {
		return nil
	}

	assignments, err := s.store.ListAssignmentsForInbox(ctx, c.State.InboxID)
	if err != nil {
		return eris.Wrapf(err, "warmup: list assignments %s", c.State.InboxID)
	}

	var activeAdmins []string
	for _, a := range assignments {
		admin, err := s.store.GetAdminInbox(ctx, a.AdminInboxID)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				continue
			}
			return eris.Wrapf(err, "warmup: load admin %s", a.AdminInboxID)
		}
		if admin.Status == model.InboxStatusActive {
			activeAdmins = append(activeAdmins, admin.ID)
		}
	}
	if len(activeAdmins) == 0 {
		return nil
	}

	remaining, base, err := s.remainingQuota(ctx, c)
	if err != nil {
		return err
	}
	for i := 0; i < remaining; i++ {
		admin := activeAdmins[i%len(activeAdmins)]
		payload := SendPayload{
			FromInboxID:  c.State.InboxID,
			ToInboxID:    admin,
			TeamID:       c.State.TeamID,
			Mode:         model.WarmupModeNetwork,
			AdminInboxID: admin,
			Direction:    "outbound",
		}
		// Alternate direction each unit so the admin side sends too.
		if i%2 == 1 {
			payload.Direction = "inbound"
			payload.FromInboxID = admin
			payload.ToInboxID = c.State.InboxID
		}
		if err := s.submitSend(ctx, c.State.InboxID, base+i, remaining, i, payload); err != nil {
			return err
		}
	}
	return nil
}

// remainingQuota returns how many sends are still owed today and the index
// base for deterministic job IDs. Pending jobs are counted live from the
// queue so overlapping ticks see each other's submissions.
func (s *Scheduler) remainingQuota(ctx context.Context, c store.WarmupCandidate) (remaining, indexBase int, err error) {
	planned := Quota(c.State.CurrentDay, c.State.RampSpeed)
	metrics.WarmupQuota.WithLabelValues(c.State.InboxID).Set(float64(planned))

	pending, err := s.queue.PendingFor(ctx, JobTypeSend, "fromInboxId", c.State.InboxID)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "warmup: pending count %s", c.State.InboxID)
	}

	remaining = planned - c.State.SentToday - pending
	if remaining < 0 {
		remaining = 0
	}
	return remaining, c.State.SentToday + pending, nil
}

// pickPoolTarget returns a random connected pool inbox other than self,
// weighted by health so stronger inboxes absorb more of the traffic.
func (s *Scheduler) pickPoolTarget(connected []store.WarmupCandidate, selfID string) string {
	weights := make([]float64, len(connected))
	for i, c := range connected {
		if c.State.InboxID == selfID {
			continue
		}
		// Floor at 1 so a zero-health inbox still receives warmup mail.
		weights[i] = float64(c.HealthScore)
		if weights[i] < 1 {
			weights[i] = 1
		}
	}
	return connected[weightedIndex(s.rand, weights)].State.InboxID
}

func (s *Scheduler) submitSend(ctx context.Context, inboxID string, index, remaining, unit int, payload SendPayload) error {
	date := s.clock.Now().UTC().Format("2006-01-02")
	jobID := fmt.Sprintf("warmup-%s-%s-%d", inboxID, date, index)

	inserted, err := s.queue.Submit(ctx, jobID, JobTypeSend, payload, queue.SubmitOptions{
		Delay:       s.sendDelay(remaining, unit),
		MaxAttempts: s.cfg.MaxSendAttempts,
	})
	if err != nil {
		return eris.Wrapf(err, "warmup: submit %s", jobID)
	}
	if !inserted {
		s.logger.Debug("send already scheduled", zap.String("job_id", jobID))
	}
	return nil
}

// sendDelay spreads remaining sends evenly across the work window, with up
// to 20% of the step (capped at a minute) of random jitter.
func (s *Scheduler) sendDelay(remaining, unit int) time.Duration {
	if remaining <= 0 {
		return 0
	}
	step := sendWindow / time.Duration(remaining)
	jitterMax := step / 5
	if jitterMax > jitterCap {
		jitterMax = jitterCap
	}
	var jitter time.Duration
	if jitterMax > 0 {
		jitter = time.Duration(s.rand.Int64N(int64(jitterMax)))
	}
	return step*time.Duration(unit) + jitter
}
