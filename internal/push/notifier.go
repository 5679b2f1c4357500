package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/taskie/internal/feed"
	"github.com/dukerupert/taskie/internal/model"
	"github.com/dukerupert/taskie/internal/store"
)

// Notifier turns feed events into push notifications for the people a chore
// change concerns: the requestor hears about accept, finish and release; both
// parties hear about chat messages they did not send.
type Notifier struct {
	mu         sync.Mutex
	sender     Sender
	broker     *feed.Broker
	chores     *store.ChoreStore
	households *store.HouseholdStore
	push       *store.PushStore
	logger     *slog.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewNotifier creates a Notifier. Call Start to begin consuming events.
func NewNotifier(sender Sender, broker *feed.Broker, choreStore *store.ChoreStore, householdStore *store.HouseholdStore, pushStore *store.PushStore, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender:     sender,
		broker:     broker,
		chores:     choreStore,
		households: householdStore,
		push:       pushStore,
		logger:     logger,
	}
}

// Start subscribes to every household's events and delivers notifications
// until ctx is cancelled or Stop is called.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	ctx, n.cancel = context.WithCancel(ctx)
	n.done = make(chan struct{})
	sub := n.broker.SubscribeAll()
	n.mu.Unlock()

	go func() {
		defer close(n.done)
		defer sub.Cancel()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				n.Handle(ev)
			}
		}
	}()
}

// Stop cancels the subscription and waits for the delivery loop to exit.
func (n *Notifier) Stop() {
	n.mu.Lock()
	cancel := n.cancel
	done := n.done
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Handle delivers notifications for a single event.
func (n *Notifier) Handle(ev feed.Event) {
	switch ev.Entity {
	case feed.EntityChore:
		n.handleChore(ev)
	case feed.EntityChatMessage:
		n.handleChat(ev)
	}
}

func (n *Notifier) handleChore(ev feed.Event) {
	var verb, tag string
	switch ev.Action {
	case feed.ActionAccepted:
		verb, tag = "accepted", model.NotifTypeChoreAccepted
	case feed.ActionFinished:
		verb, tag = "finished", model.NotifTypeChoreFinished
	case feed.ActionReleased:
		verb, tag = "released", model.NotifTypeChoreReleased
	case feed.ActionWithdrawn:
		n.handleWithdrawn(ev)
		return
	default:
		return
	}

	c, err := n.chores.GetByID(ev.ID)
	if err != nil {
		n.logger.Error("load chore for notification", "chore_id", ev.ID, "error", err)
		return
	}
	if c == nil || c.RequestorID == ev.ActorID {
		return
	}

	payload := Payload{
		Title: "Chore " + verb,
		Body:  fmt.Sprintf("%s %s %q", n.actorName(ev), verb, c.Name),
		URL:   fmt.Sprintf("/chores/%d", c.ID),
		Tag:   fmt.Sprintf("%s-%d", tag, c.ID),
	}
	n.notify(c.RequestorID, ev.HouseholdID, payload)
}

// handleWithdrawn tells the acceptor their claim is gone. The chore row is
// already deleted, so the event carries the name and acceptor.
func (n *Notifier) handleWithdrawn(ev feed.Event) {
	acceptorID, ok := ev.Extra["acceptor_id"].(int64)
	if !ok || acceptorID == ev.ActorID {
		return
	}
	name, _ := ev.Extra["name"].(string)

	n.notify(acceptorID, ev.HouseholdID, Payload{
		Title: "Chore withdrawn",
		Body:  fmt.Sprintf("%s withdrew %q", n.actorName(ev), name),
		URL:   "/chores",
		Tag:   fmt.Sprintf("%s-%d", model.NotifTypeChoreWithdrawn, ev.ID),
	})
}

func (n *Notifier) handleChat(ev feed.Event) {
	if ev.Action != feed.ActionCreated {
		return
	}
	choreID, ok := ev.Extra["chore_id"].(int64)
	if !ok {
		return
	}

	c, err := n.chores.GetByID(choreID)
	if err != nil {
		n.logger.Error("load chore for chat notification", "chore_id", choreID, "error", err)
		return
	}
	if c == nil {
		return
	}

	body, _ := ev.Extra["body"].(string)
	text := fmt.Sprintf("%s: %s", n.actorName(ev), body)
	if count, _ := ev.Extra["image_count"].(int); body == "" && count > 0 {
		text = n.actorName(ev) + " sent a photo"
	}
	payload := Payload{
		Title: c.Name,
		Body:  text,
		URL:   fmt.Sprintf("/chores/%d", c.ID),
		Tag:   fmt.Sprintf("%s-%d", model.NotifTypeChatMessage, c.ID),
	}

	recipients := []int64{c.RequestorID}
	if c.AcceptorID != nil {
		recipients = append(recipients, *c.AcceptorID)
	}
	for _, userID := range recipients {
		if userID == ev.ActorID {
			continue
		}
		n.notify(userID, ev.HouseholdID, payload)
	}
}

func (n *Notifier) actorName(ev feed.Event) string {
	members, err := n.households.MemberIndex(ev.HouseholdID)
	if err != nil {
		n.logger.Error("load members for notification", "household_id", ev.HouseholdID, "error", err)
		return "Someone"
	}
	m, ok := members[ev.ActorID]
	if !ok {
		return "Someone"
	}
	return m.Name
}

func (n *Notifier) notify(userID, householdID int64, payload Payload) {
	subs, err := n.push.ListByUser(userID, householdID)
	if err != nil {
		n.logger.Error("list push subscriptions", "user_id", userID, "error", err)
		return
	}

	for _, sub := range subs {
		if err := n.sender.Send(&sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				if err := n.push.DeleteByEndpoint(sub.Endpoint); err != nil {
					n.logger.Error("delete expired subscription", "error", err)
				}
				continue
			}
			n.logger.Warn("send push notification", "user_id", userID, "error", err)
		}
	}
}
