package warmup

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

// minPoolInboxes is the smallest pool that can exchange warmup traffic.
const minPoolInboxes = 2

// Cascader applies the knock-on effects of an inbox dropping out of the
// warmup network.
type Cascader struct {
	store  store.Store
	logger *zap.Logger
}

func NewCascader(st store.Store) *Cascader {
	return &Cascader{store: st, logger: zap.L().Named("warmup.cascade")}
}

// DisconnectInbox marks a user inbox as failed, pauses its warmup, and
// re-evaluates the team's pool. Pool warmup needs a partner: if fewer than
// two connected inboxes remain, the whole team's pool warmup pauses.
func (c *Cascader) DisconnectInbox(ctx context.Context, inboxID, reason string) error {
	inbox, err := c.store.GetInbox(ctx, inboxID)
	if err != nil {
		return eris.Wrapf(err, "cascade: load inbox %s", inboxID)
	}

	if err := c.store.UpdateInboxStatus(ctx, inboxID, model.InboxStatusError, reason); err != nil {
		return eris.Wrapf(err, "cascade: mark inbox %s", inboxID)
	}
	if err := c.store.SetWarmupEnabled(ctx, inboxID, false, model.WarmupPhasePaused); err != nil && !eris.Is(err, store.ErrNotFound) {
		return eris.Wrapf(err, "cascade: pause warmup %s", inboxID)
	}

	c.logger.Warn("inbox disconnected",
		zap.String("inbox_id", inboxID),
		zap.String("team_id", inbox.TeamID),
		zap.String("reason", reason))

	return c.EvaluateTeamPool(ctx, inbox.TeamID)
}

// EvaluateTeamPool pauses pool warmup for the whole team when fewer than
// two of its inboxes are still connected.
func (c *Cascader) EvaluateTeamPool(ctx context.Context, teamID string) error {
	inboxes, err := c.store.ListTeamInboxes(ctx, teamID)
	if err != nil {
		return eris.Wrapf(err, "cascade: list team %s", teamID)
	}

	connected := 0
	for _, in := range inboxes {
		if in.Status.Connected() {
			connected++
		}
	}
	if connected >= minPoolInboxes {
		return nil
	}

	n, err := c.store.DisableTeamPoolWarmup(ctx, teamID)
	if err != nil {
		return eris.Wrapf(err, "cascade: disable pool warmup %s", teamID)
	}
	if n > 0 {
		c.logger.Warn("pool warmup disabled for team",
			zap.String("team_id", teamID),
			zap.Int("connected", connected),
			zap.Int("paused_states", n))
	}
	return nil
}

// DisconnectAdminInbox marks an admin inbox as failed and releases every
// user inbox assigned to it: their network warmup pauses, the assignments
// are deleted, and the admin's load counter zeroes.
func (c *Cascader) DisconnectAdminInbox(ctx context.Context, adminInboxID, reason string) error {
	if err := c.store.UpdateAdminInboxStatus(ctx, adminInboxID, model.InboxStatusError, reason); err != nil {
		return eris.Wrapf(err, "cascade: mark admin inbox %s", adminInboxID)
	}

	assignments, err := c.store.ListAssignmentsForAdmin(ctx, adminInboxID)
	if err != nil {
		return eris.Wrapf(err, "cascade: list assignments %s", adminInboxID)
	}

	inboxIDs := make([]string, 0, len(assignments))
	for _, a := range assignments {
		inboxIDs = append(inboxIDs, a.InboxID)
	}
	paused, err := c.store.DisableNetworkWarmup(ctx, inboxIDs)
	if err != nil {
		return eris.Wrapf(err, "cascade: disable network warmup")
	}

	if _, err := c.store.DeleteAssignmentsForAdmin(ctx, adminInboxID); err != nil {
		return eris.Wrapf(err, "cascade: delete assignments %s", adminInboxID)
	}
	if err := c.store.ResetAdminInboxLoad(ctx, adminInboxID); err != nil {
		return eris.Wrapf(err, "cascade: reset admin load %s", adminInboxID)
	}

	c.logger.Warn("admin inbox disconnected",
		zap.String("admin_inbox_id", adminInboxID),
		zap.String("reason", reason),
		zap.Int("released_inboxes", len(inboxIDs)),
		zap.Int("paused_network_states", paused))
	return nil
}
