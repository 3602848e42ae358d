package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a single entry of the visible conversation transcript. Its text and sender are fixed when
// the message is created; only the cosmetic Revealed flag of a bot message changes afterwards.
type Message struct {
	ID        string
	Text      string
	Sender    Sender
	Timestamp time.Time

	// Revealed is false while a bot message is shown in its typing state. User and alert messages are
	// revealed from the start.
	Revealed bool
}

// Sender tells who authored a message.
type Sender string

const (
	// SenderUser marks text typed or spoken by the user.
	SenderUser Sender = "user"
	// SenderBot marks replies from the assistant backend and the localized welcome sequence.
	SenderBot Sender = "bot"
	// SenderAlert marks status notices produced by the widget itself, such as connectivity errors.
	SenderAlert Sender = "alert"
)

// NewMessage creates a message with a fresh ID and the current time. Bot messages start unrevealed.
func NewMessage(text string, sender Sender) Message {
	return Message{
		ID:        uuid.New().String(),
		Text:      text,
		Sender:    sender,
		Timestamp: time.Now(),
		Revealed:  sender != SenderBot,
	}
}

// Reply is the decoded body of a successful assistant response.
//
// The fields are consulted in a fixed order: a non-empty Replies list wins, then Message, then Error.
// A body carrying none of them yields the generic fallback text.
type Reply struct {
	Replies []string `json:"replies,omitempty"`
	Message string   `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
	Status  string   `json:"status,omitempty"`
}

// GenericReply is shown when a response carries neither replies, a message nor an error.
const GenericReply = "I understand you're looking for health information. How can I assist you today?"

// Messages converts the reply into transcript entries following the field precedence described on
// Reply.
func (r Reply) Messages() []Message {
	switch {
	case len(r.Replies) > 0:
		msgs := make([]Message, len(r.Replies))
		for i, text := range r.Replies {
			msgs[i] = NewMessage(text, SenderBot)
		}
		return msgs
	case r.Message != "":
		return []Message{NewMessage(r.Message, SenderBot)}
	case r.Error != "":
		return []Message{NewMessage("Error: "+r.Error, SenderAlert)}
	default:
		return []Message{NewMessage(GenericReply, SenderBot)}
	}
}
