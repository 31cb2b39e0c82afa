package model

import "time"

// WarmupPhase describes where an inbox sits in its warmup schedule.
type WarmupPhase string

const (
	WarmupPhaseRamping     WarmupPhase = "ramping"
	WarmupPhaseMaintaining WarmupPhase = "maintaining"
	WarmupPhasePaused      WarmupPhase = "paused"
	WarmupPhaseCompleted   WarmupPhase = "completed"
)

// RampSpeed controls how aggressively the daily quota grows.
type RampSpeed string

const (
	RampSpeedSlow   RampSpeed = "slow"
	RampSpeedNormal RampSpeed = "normal"
	RampSpeedFast   RampSpeed = "fast"
)

// WarmupMode selects where synthetic traffic is exchanged.
type WarmupMode string

const (
	// WarmupModePool exchanges traffic among a team's own inboxes.
	WarmupModePool WarmupMode = "pool"
	// WarmupModeNetwork exchanges traffic with assigned admin inboxes.
	WarmupModeNetwork WarmupMode = "network"
)

// WarmupState tracks warmup progress for one inbox. Created when warmup is
// enabled; paused (never deleted) when cascaded off.
type WarmupState struct {
	InboxID string      `json:"inbox_id"`
	TeamID  string      `json:"team_id"`
	Enabled bool        `json:"enabled"`
	Phase   WarmupPhase `json:"phase"`

	CurrentDay int        `json:"current_day"`
	RampSpeed  RampSpeed  `json:"ramp_speed"`
	Mode       WarmupMode `json:"mode"`

	SentToday     int `json:"sent_today"`
	ReceivedToday int `json:"received_today"`
	RepliedToday  int `json:"replied_today"`
	SentTotal     int `json:"sent_total"`
	ReceivedTotal int `json:"received_total"`
	RepliedTotal  int `json:"replied_total"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WarmupInteraction is one synthetic send or reply between team inboxes.
// Append-only; analytics reads it, scheduling logic never does.
type WarmupInteraction struct {
	ID          string    `json:"id"`
	FromInboxID string    `json:"from_inbox_id"`
	ToInboxID   string    `json:"to_inbox_id"`
	ThreadID    string    `json:"thread_id"`
	ThreadDepth int       `json:"thread_depth"`
	MessageID   string    `json:"message_id,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// AdminWarmupInteraction logs a network-mode exchange with an admin inbox.
type AdminWarmupInteraction struct {
	ID           string    `json:"id"`
	InboxID      string    `json:"inbox_id"`
	AdminInboxID string    `json:"admin_inbox_id"`
	// Direction is "outbound" (user to admin) or "inbound" (admin to user).
	Direction   string    `json:"direction"`
	ThreadID    string    `json:"thread_id"`
	ThreadDepth int       `json:"thread_depth"`
	MessageID   string    `json:"message_id,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// TemplateCategory selects which template pool a warmup message draws from.
type TemplateCategory string

const (
	// TemplateOpener starts a new warmup thread.
	TemplateOpener TemplateCategory = "opener"
	// TemplateReply is the first response in a thread.
	TemplateReply TemplateCategory = "reply"
	// TemplateContinuation keeps a multi-level thread going.
	TemplateContinuation TemplateCategory = "continuation"
	// TemplateCloser ends a thread at its target depth.
	TemplateCloser TemplateCategory = "closer"
)
