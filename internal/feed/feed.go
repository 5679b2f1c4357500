// Package feed fans chore and chat change events out to subscribers.
//
// Subscribers hold an explicit handle and must Cancel it when done. Publishing
// never blocks: when a subscriber's buffer is full the event is dropped for that
// subscriber, and clients recover by refetching on the next event they see.
package feed

import (
	"fmt"
	"log/slog"
	"sync"
)

const bufferSize = 16

// Entities and actions published by the API.
const (
	EntityChore       = "chore"
	EntityChatMessage = "chat_message"

	ActionCreated    = "created"
	ActionAccepted   = "accepted"
	ActionFinished   = "finished"
	ActionReleased   = "released"
	ActionWithdrawn  = "withdrawn"
	ActionImageAdded = "image_added"
)

// Event is a change notification for one entity in a household.
type Event struct {
	Type        string         `json:"type"`
	Entity      string         `json:"entity"`
	Action      string         `json:"action"`
	HouseholdID int64          `json:"household_id"`
	ID          int64          `json:"id,omitempty"`
	ActorID     int64          `json:"actor_id,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// NewEvent creates an Event with the Type field derived from entity and action.
func NewEvent(entity, action string, householdID, id, actorID int64, extra map[string]any) Event {
	return Event{
		Type:        fmt.Sprintf("%s_%s", entity, action),
		Entity:      entity,
		Action:      action,
		HouseholdID: householdID,
		ID:          id,
		ActorID:     actorID,
		Extra:       extra,
	}
}

// Broker tracks subscriptions and delivers published events to them.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	logger *slog.Logger
}

func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		subs:   make(map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscription receives events for one household, or for all households.
type Subscription struct {
	broker      *Broker
	householdID int64
	all         bool
	ch          chan Event
}

// Subscribe returns a handle receiving events for householdID.
func (b *Broker) Subscribe(householdID int64) *Subscription {
	return b.add(&Subscription{householdID: householdID})
}

// SubscribeAll returns a handle receiving events for every household.
func (b *Broker) SubscribeAll() *Subscription {
	return b.add(&Subscription{all: true})
}

func (b *Broker) add(s *Subscription) *Subscription {
	s.broker = b
	s.ch = make(chan Event, bufferSize)
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// C returns the event channel. It is closed when the subscription is cancelled.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Cancel detaches the subscription and closes its channel. Safe to call more than once.
func (s *Subscription) Cancel() {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Publish delivers ev to every matching subscription without blocking.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		if !s.all && s.householdID != ev.HouseholdID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.logger.Debug("subscriber buffer full, dropping event",
				"type", ev.Type, "household_id", ev.HouseholdID)
		}
	}
}

// Count returns the number of live subscriptions.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
