// Package events carries change notifications out of the scheduling and
// dispatch state machines. The state machines are the single source of truth
// for what changed; clients subscribe instead of polling.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeAppointmentBooked       Type = "appointment.booked"
	TypeAppointmentTransitioned Type = "appointment.transitioned"
	TypeSlotLost                Type = "appointment.slot_lost"
	TypeLeaveBlocked            Type = "availability.leave_blocked"
	TypeEmergencySubmitted      Type = "emergency.submitted"
	TypeEmergencyEscalated      Type = "emergency.escalated"
	TypeEmergencyAssigned       Type = "emergency.assigned"
	TypeEmergencyTransitioned   Type = "emergency.transitioned"
)

const (
	TopicAppointments = "appointments"
	TopicEmergencies  = "emergencies"
)

// Event is one change notification.
type Event struct {
	Type       Type           `json:"type"`
	Topic      string         `json:"topic"`
	ResourceID uuid.UUID      `json:"resource_id"`
	At         time.Time      `json:"at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Publisher is the side services see. Publishing never blocks a state
// transition; slow subscribers miss events rather than stalling writers.
type Publisher interface {
	Publish(ev Event)
}

type subscriber struct {
	topics map[string]bool
	ch     chan Event
}

// Broker is an in-process fan-out from state machines to subscribers.
type Broker struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a channel of events for the given topics (all topics if
// none given) and a cancel function that must be called when done.
func (b *Broker) Subscribe(topics ...string) (<-chan Event, func()) {
	sub := &subscriber{
		topics: make(map[string]bool, len(topics)),
		ch:     make(chan Event, 64),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

func (b *Broker) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if len(sub.topics) > 0 && !sub.topics[ev.Topic] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Subscriber is not keeping up; drop rather than block the
			// transition that triggered the event.
		}
	}
}

// NopPublisher discards events. Used where no one is listening, e.g. the
// seed binary.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
