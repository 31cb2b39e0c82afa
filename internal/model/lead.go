package model

import "time"

// LeadStatus represents where a lead sits in the outreach lifecycle.
type LeadStatus string

const (
	LeadStatusPending          LeadStatus = "pending"
	LeadStatusInSequence       LeadStatus = "in_sequence"
	LeadStatusContacted        LeadStatus = "contacted"
	LeadStatusReplied          LeadStatus = "replied"
	LeadStatusInterested       LeadStatus = "interested"
	LeadStatusNotInterested    LeadStatus = "not_interested"
	LeadStatusMeetingBooked    LeadStatus = "meeting_booked"
	LeadStatusSoftBounced      LeadStatus = "soft_bounced"
	LeadStatusBounced          LeadStatus = "bounced"
	LeadStatusUnsubscribed     LeadStatus = "unsubscribed"
	LeadStatusSpamReported     LeadStatus = "spam_reported"
	LeadStatusSequenceComplete LeadStatus = "sequence_complete"
)

// AllLeadStatuses lists every lead status in declaration order.
var AllLeadStatuses = []LeadStatus{
	LeadStatusPending,
	LeadStatusInSequence,
	LeadStatusContacted,
	LeadStatusReplied,
	LeadStatusInterested,
	LeadStatusNotInterested,
	LeadStatusMeetingBooked,
	LeadStatusSoftBounced,
	LeadStatusBounced,
	LeadStatusUnsubscribed,
	LeadStatusSpamReported,
	LeadStatusSequenceComplete,
}

// LeadEvent is a lifecycle event applied to a lead through the state machine.
type LeadEvent string

const (
	EventEmailSent          LeadEvent = "email_sent"
	EventReplyReceived      LeadEvent = "reply_received"
	EventReplyInterested    LeadEvent = "reply_interested"
	EventReplyNotInterested LeadEvent = "reply_not_interested"
	EventMeetingBooked      LeadEvent = "meeting_booked"
	EventSoftBounce         LeadEvent = "soft_bounce"
	EventEmailBounced       LeadEvent = "email_bounced"
	EventUnsubscribe        LeadEvent = "unsubscribe"
	EventSpamReport         LeadEvent = "spam_report"
	EventSequenceComplete   LeadEvent = "sequence_complete"
	EventManualOverride     LeadEvent = "manual_override"
)

// AllLeadEvents lists every lead event in declaration order.
var AllLeadEvents = []LeadEvent{
	EventEmailSent,
	EventReplyReceived,
	EventReplyInterested,
	EventReplyNotInterested,
	EventMeetingBooked,
	EventSoftBounce,
	EventEmailBounced,
	EventUnsubscribe,
	EventSpamReport,
	EventSequenceComplete,
	EventManualOverride,
}

// Lead represents a single outreach recipient. Status and the lifecycle
// timestamps are mutated exclusively through lifecycle.Machine transitions;
// writing them directly bypasses the decision table and is a correctness bug.
type Lead struct {
	ID            string     `json:"id"`
	TeamID        string     `json:"team_id"`
	CampaignID    string     `json:"campaign_id,omitempty"`
	SenderInboxID string     `json:"sender_inbox_id,omitempty"`
	Email         string     `json:"email"`
	FirstName     string     `json:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty"`
	Company       string     `json:"company,omitempty"`

	Status          LeadStatus `json:"status"`
	CurrentStep     int        `json:"current_step"`
	ReplyIntent     string     `json:"reply_intent,omitempty"`
	SoftBounceCount int        `json:"soft_bounce_count"`

	FirstContactedAt *time.Time `json:"first_contacted_at,omitempty"`
	LastContactedAt  *time.Time `json:"last_contacted_at,omitempty"`
	RepliedAt        *time.Time `json:"replied_at,omitempty"`
	BouncedAt        *time.Time `json:"bounced_at,omitempty"`
	UnsubscribedAt   *time.Time `json:"unsubscribed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LeadFieldUpdates captures the event-specific column writes that accompany a
// status transition. Nil pointers mean "leave the column alone";
// FirstContactedAt is only written when the column is still null.
type LeadFieldUpdates struct {
	FirstContactedAt *time.Time
	LastContactedAt  *time.Time
	RepliedAt        *time.Time
	ReplyIntent      string
	BouncedAt        *time.Time
	UnsubscribedAt   *time.Time
}

// StateChange records one applied lead transition.
type StateChange struct {
	LeadID     string         `json:"lead_id"`
	From       LeadStatus     `json:"from"`
	To         LeadStatus     `json:"to"`
	Event      LeadEvent      `json:"event"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
