package model

import "time"

// InboxStatus represents the connection state of a sending inbox.
type InboxStatus string

const (
	InboxStatusActive    InboxStatus = "active"
	InboxStatusPaused    InboxStatus = "paused"
	InboxStatusError     InboxStatus = "error"
	InboxStatusWarmingUp InboxStatus = "warming_up"
	InboxStatusBanned    InboxStatus = "banned"
)

// Connected reports whether the inbox can participate in warmup traffic.
func (s InboxStatus) Connected() bool {
	return s == InboxStatusActive || s == InboxStatusWarmingUp
}

// Provider identifies the upstream mail provider for an inbox.
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
	ProviderSMTP    Provider = "smtp"
)

// Inbox is a user-owned sending identity.
type Inbox struct {
	ID           string      `json:"id"`
	TeamID       string      `json:"team_id"`
	Email        string      `json:"email"`
	FromName     string      `json:"from_name,omitempty"`
	Provider     Provider    `json:"provider"`
	Status       InboxStatus `json:"status"`
	StatusReason string      `json:"status_reason,omitempty"`

	// HealthScore is the 0-100 composite deliverability signal.
	HealthScore        int     `json:"health_score"`
	ThrottlePercentage int     `json:"throttle_percentage"`
	BounceRate7d       float64 `json:"bounce_rate_7d"`
	ReplyRate7d        float64 `json:"reply_rate_7d"`
	SpamRate7d         float64 `json:"spam_rate_7d"`
	SentTotal          int     `json:"sent_total"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AdminInbox is an operator-managed practice partner for network-mode warmup.
type AdminInbox struct {
	ID           string      `json:"id"`
	Email        string      `json:"email"`
	FromName     string      `json:"from_name,omitempty"`
	Provider     Provider    `json:"provider"`
	Status       InboxStatus `json:"status"`
	StatusReason string      `json:"status_reason,omitempty"`
	HealthScore  int         `json:"health_score"`

	// CurrentLoad counts warmup sends dispatched through this inbox today.
	CurrentLoad     int `json:"current_load"`
	AssignmentCount int `json:"assignment_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AdminInboxAssignment links a user inbox to an admin practice partner.
// Assignments are deleted en masse when the admin inbox disconnects.
type AdminInboxAssignment struct {
	ID           string    `json:"id"`
	InboxID      string    `json:"inbox_id"`
	AdminInboxID string    `json:"admin_inbox_id"`
	CreatedAt    time.Time `json:"created_at"`
}
