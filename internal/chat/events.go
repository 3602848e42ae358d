package chat

import "github.com/MegaGrindStone/health-chat-ui/internal/models"

// EventKind names a change a view has to reflect.
type EventKind string

const (
	// EventMessageAdded carries a message appended to the transcript. Bot messages arrive unrevealed.
	EventMessageAdded EventKind = "message"
	// EventMessageRevealed carries a bot message whose typing delay elapsed.
	EventMessageRevealed EventKind = "reveal"
	// EventTranscriptReset carries the transcript after it was cleared.
	EventTranscriptReset EventKind = "reset"
	// EventStateChanged carries a new UI state snapshot.
	EventStateChanged EventKind = "status"
	// EventFocusInput asks the view to move focus back to the input field.
	EventFocusInput EventKind = "focus"
)

// Event is delivered to subscribers after every controller change.
type Event struct {
	Kind EventKind

	// Message is set for EventMessageAdded and EventMessageRevealed.
	Message models.Message
	// Transcript is set for EventTranscriptReset.
	Transcript []models.Message
	// State is set for every event.
	State State
}

type subscription struct {
	id int
	fn func(Event)
}

// Subscribe registers fn to receive every subsequent event and returns a function removing it.
//
// Events are delivered in the order they were produced, one at a time. fn must not call controller
// methods that change the session; reading Transcript and State is fine.
func (c *Controller) Subscribe(fn func(Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSubID++
	id := c.nextSubID
	c.subs = append(c.subs, subscription{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// emitAndUnlock releases c.mu and delivers events to the subscribers registered at that point. The
// delivery lock is taken before c.mu is released so batches from concurrent operations never
// interleave.
func (c *Controller) emitAndUnlock(events []Event) {
	if len(events) == 0 || len(c.subs) == 0 {
		c.mu.Unlock()
		return
	}

	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)

	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()

	for _, ev := range events {
		for _, s := range subs {
			s.fn(ev)
		}
	}
}

func (c *Controller) stateEventLocked() Event {
	return Event{Kind: EventStateChanged, State: c.state}
}
