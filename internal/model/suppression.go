package model

import "time"

// SuppressionReason enumerates why an address was suppressed.
type SuppressionReason string

const (
	SuppressionHardBounce  SuppressionReason = "hard_bounce"
	SuppressionComplaint   SuppressionReason = "spam_complaint"
	SuppressionUnsubscribe SuppressionReason = "unsubscribe"
	SuppressionManual      SuppressionReason = "manual"
)

// SuppressionEntry is a permanent per-team do-not-email record.
type SuppressionEntry struct {
	ID        string            `json:"id"`
	TeamID    string            `json:"team_id"`
	Email     string            `json:"email"`
	Reason    SuppressionReason `json:"reason"`
	CreatedAt time.Time         `json:"created_at"`
}
