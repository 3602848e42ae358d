package chat

import (
	"errors"

	"github.com/MegaGrindStone/health-chat-ui/internal/models"
)

// Phase is the submission phase of a session. A session moves from PhaseIdle to PhaseSubmitting when a
// message is sent and back once the assistant answered or failed; no second message is accepted in
// between.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
)

// State is a snapshot of the widget's UI state.
type State struct {
	Connected      bool            `json:"connected"`
	InputEnabled   bool            `json:"inputEnabled"`
	Recording      bool            `json:"recording"`
	VoiceAvailable bool            `json:"voiceAvailable"`
	Language       models.Language `json:"language"`
	Phase          Phase           `json:"phase"`

	// Input is the text currently placed in the input field by the controller, e.g. a recognized
	// utterance that could not be submitted yet.
	Input string `json:"input"`
}

// StatusText is the label of the connectivity indicator.
func (s State) StatusText() string {
	if s.Connected {
		return "Online"
	}
	return "Offline"
}

// Errors returned by the controller when an operation is rejected by the current state. A rejected
// operation has no effect on the transcript.
var (
	ErrBusy             = errors.New("a message is already being sent")
	ErrVoiceUnavailable = errors.New("voice input is not available")
	ErrAlreadyRecording = errors.New("voice capture already started")
	ErrNotRecording     = errors.New("voice capture not started")
	ErrDisposed         = errors.New("chat session disposed")
)

// Alert texts shown in the transcript.
const (
	AlertOffline     = "⚠️ Warning: Cannot connect to the health assistant. Replies may be unavailable."
	AlertUnreachable = "⚠️ Error: Could not reach the health assistant. Please try again."
	AlertListening   = "🎤 Listening... Speak now"
	AlertSpeechError = "❌ Speech recognition error. Please try again."
)
