// Package lifecycle implements the lead lifecycle state machine: a fixed
// decision table over lead statuses and events, with persistence and
// observer notification on every applied transition.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
)

// Persister abstracts the store method the machine needs to apply a
// transition. Satisfied by store.Store.
type Persister interface {
	ApplyLeadTransition(ctx context.Context, leadID string, to model.LeadStatus, fields model.LeadFieldUpdates) error
}

// Observer is notified after each applied transition. Observers run
// asynchronously; a returned error is logged, never propagated.
type Observer func(change model.StateChange) error

// transitions is the decision table: source status, event, destination.
// Events absent for a source yield a nil result, never an error.
var transitions = map[model.LeadStatus]map[model.LeadEvent]model.LeadStatus{
	model.LeadStatusPending: {
		model.EventEmailSent:    model.LeadStatusInSequence,
		model.EventSoftBounce:   model.LeadStatusSoftBounced,
		model.EventEmailBounced: model.LeadStatusBounced,
		model.EventUnsubscribe:  model.LeadStatusUnsubscribed,
		model.EventSpamReport:   model.LeadStatusSpamReported,
	},
	model.LeadStatusInSequence: {
		model.EventEmailSent:          model.LeadStatusContacted,
		model.EventReplyReceived:      model.LeadStatusReplied,
		model.EventReplyInterested:    model.LeadStatusInterested,
		model.EventReplyNotInterested: model.LeadStatusNotInterested,
		model.EventSoftBounce:         model.LeadStatusSoftBounced,
		model.EventEmailBounced:       model.LeadStatusBounced,
		model.EventUnsubscribe:        model.LeadStatusUnsubscribed,
		model.EventSpamReport:         model.LeadStatusSpamReported,
		model.EventSequenceComplete:   model.LeadStatusSequenceComplete,
	},
	model.LeadStatusContacted: {
		// Self-loop: follow-ups can continue indefinitely.
		model.EventEmailSent:          model.LeadStatusContacted,
		model.EventReplyReceived:      model.LeadStatusReplied,
		model.EventReplyInterested:    model.LeadStatusInterested,
		model.EventReplyNotInterested: model.LeadStatusNotInterested,
		model.EventSoftBounce:         model.LeadStatusSoftBounced,
		model.EventEmailBounced:       model.LeadStatusBounced,
		model.EventUnsubscribe:        model.LeadStatusUnsubscribed,
		model.EventSpamReport:         model.LeadStatusSpamReported,
		model.EventSequenceComplete:   model.LeadStatusSequenceComplete,
	},
	model.LeadStatusReplied: {
		model.EventReplyInterested:    model.LeadStatusInterested,
		model.EventReplyNotInterested: model.LeadStatusNotInterested,
		model.EventMeetingBooked:      model.LeadStatusMeetingBooked,
	},
	model.LeadStatusInterested: {
		model.EventMeetingBooked: model.LeadStatusMeetingBooked,
	},
	model.LeadStatusSoftBounced: {
		model.EventEmailBounced: model.LeadStatusBounced,
	},
}

// terminalStatuses accept only a manual override.
var terminalStatuses = map[model.LeadStatus]bool{
	model.LeadStatusBounced:      true,
	model.LeadStatusUnsubscribed: true,
	model.LeadStatusSpamReported: true,
}

// blockingStatuses stop further campaign sends. A superset of the terminal
// set: a reply is a good outcome but still ends the sequence.
var blockingStatuses = map[model.LeadStatus]bool{
	model.LeadStatusBounced:       true,
	model.LeadStatusUnsubscribed:  true,
	model.LeadStatusSpamReported:  true,
	model.LeadStatusReplied:       true,
	model.LeadStatusInterested:    true,
	model.LeadStatusNotInterested: true,
	model.LeadStatusMeetingBooked: true,
}

// IsTerminal reports whether the status accepts only EventManualOverride.
func IsTerminal(s model.LeadStatus) bool {
	return terminalStatuses[s]
}

// BlocksSequence reports whether the status must stop further campaign
// sends. soft_bounced and sequence_complete do not block: soft bounces
// retry and completed sequences may still get manual follow-ups.
func BlocksSequence(s model.LeadStatus) bool {
	return blockingStatuses[s]
}

// Machine applies lifecycle events to leads. Construct one per process and
// pass it explicitly; there is no package-level instance.
type Machine struct {
	persister Persister
	now       func() time.Time

	mu        sync.RWMutex
	observers map[int]Observer
	nextObs   int
}

// New creates a Machine persisting transitions through p.
func New(p Persister) *Machine {
	return &Machine{
		persister: p,
		now:       time.Now,
		observers: make(map[int]Observer),
	}
}

// Subscribe registers an observer and returns a handle for Unsubscribe.
func (m *Machine) Subscribe(obs Observer) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = obs
	return id
}

// Unsubscribe removes a previously registered observer.
func (m *Machine) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.observers, id)
}

// CanTransition returns the destination status for applying event to
// current, or nil when the event is not valid from that status.
func (m *Machine) CanTransition(current model.LeadStatus, event model.LeadEvent, metadata map[string]any) *model.LeadStatus {
	if event == model.EventManualOverride {
		return manualOverrideTarget(current, metadata)
	}
	if IsTerminal(current) {
		return nil
	}
	dest, ok := transitions[current][event]
	if !ok {
		return nil
	}
	return &dest
}

// manualOverrideTarget resolves the destination of a human-initiated reset.
// Terminal statuses reset to pending. meeting_booked moves to an
// operator-supplied prior non-terminal status (default pending).
func manualOverrideTarget(current model.LeadStatus, metadata map[string]any) *model.LeadStatus {
	switch {
	case IsTerminal(current):
		dest := model.LeadStatusPending
		return &dest
	case current == model.LeadStatusMeetingBooked:
		dest := model.LeadStatusPending
		if raw, ok := metadata["target_status"]; ok {
			target, ok := raw.(string)
			if !ok {
				return nil
			}
			dest = model.LeadStatus(target)
			if IsTerminal(dest) || !knownStatus(dest) {
				return nil
			}
		}
		return &dest
	default:
		return nil
	}
}

func knownStatus(s model.LeadStatus) bool {
	for _, known := range model.AllLeadStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// AvailableEvents lists the events valid from the given status. Terminal
// statuses return exactly [EventManualOverride].
func (m *Machine) AvailableEvents(status model.LeadStatus) []model.LeadEvent {
	if IsTerminal(status) || status == model.LeadStatusMeetingBooked {
		events := []model.LeadEvent{model.EventManualOverride}
		for _, e := range model.AllLeadEvents {
			if _, ok := transitions[status][e]; ok {
				events = append(events, e)
			}
		}
		return events
	}

	var events []model.LeadEvent
	for _, e := range model.AllLeadEvents {
		if _, ok := transitions[status][e]; ok {
			events = append(events, e)
		}
	}
	return events
}

// Transition applies event to the lead. On a table match it persists the new
// status plus event-specific timestamp fields, notifies observers
// asynchronously, and returns the change record. On no match it returns
// (nil, nil) and performs no writes. Callers needing a side effect on an
// invalid transition (for example persisting a reply intent anyway) must
// handle the nil result themselves.
func (m *Machine) Transition(ctx context.Context, leadID string, current model.LeadStatus, event model.LeadEvent, metadata map[string]any) (*model.StateChange, error) {
	dest := m.CanTransition(current, event, metadata)
	if dest == nil {
		return nil, nil
	}

	now := m.now().UTC()
	fields := fieldUpdatesFor(event, metadata, now)

	if err := m.persister.ApplyLeadTransition(ctx, leadID, *dest, fields); err != nil {
		return nil, err
	}

	change := model.StateChange{
		LeadID:     leadID,
		From:       current,
		To:         *dest,
		Event:      event,
		Metadata:   metadata,
		OccurredAt: now,
	}

	m.notify(change)
	return &change, nil
}

// fieldUpdatesFor maps an event to its timestamp side-writes.
func fieldUpdatesFor(event model.LeadEvent, metadata map[string]any, now time.Time) model.LeadFieldUpdates {
	var fields model.LeadFieldUpdates
	switch event {
	case model.EventEmailSent:
		fields.FirstContactedAt = &now
		fields.LastContactedAt = &now
	case model.EventReplyReceived, model.EventReplyInterested, model.EventReplyNotInterested:
		fields.RepliedAt = &now
		fields.ReplyIntent = replyIntentFor(event, metadata)
	case model.EventSoftBounce, model.EventEmailBounced:
		fields.BouncedAt = &now
	case model.EventUnsubscribe, model.EventSpamReport:
		fields.UnsubscribedAt = &now
	}
	return fields
}

func replyIntentFor(event model.LeadEvent, metadata map[string]any) string {
	if intent, ok := metadata["intent"].(string); ok && intent != "" {
		return intent
	}
	switch event {
	case model.EventReplyInterested:
		return "interested"
	case model.EventReplyNotInterested:
		return "not_interested"
	default:
		return "neutral"
	}
}

// notify dispatches the change to every observer in its own goroutine.
// Observer errors are logged, never propagated to the caller.
func (m *Machine) notify(change model.StateChange) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, obs := range m.observers {
		go func(id int, obs Observer) {
			if err := obs(change); err != nil {
				zap.L().Error("lifecycle: observer failed",
					zap.Int("observer", id),
					zap.String("lead_id", change.LeadID),
					zap.String("event", string(change.Event)),
					zap.Error(err),
				)
			}
		}(id, obs)
	}
}
