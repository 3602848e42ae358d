// Package chat implements the chat session controller of the health assistant widget. The controller
// owns the visible transcript and the UI state, sends user messages to the assistant backend and
// turns every outcome, including failures, into transcript entries. Views follow it through Subscribe.
package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/health-chat-ui/internal/models"
)

// Assistant is the remote conversational backend. Send delivers one user message; Probe checks that the
// backend is reachable.
type Assistant interface {
	Send(ctx context.Context, message string, language models.Language) (models.Reply, error)
	Probe(ctx context.Context) error
}

// Recognizer turns a recorded voice clip into text. locale is a tag such as "hi-IN".
type Recognizer interface {
	Transcribe(ctx context.Context, clip io.Reader, filename, locale string) (string, error)
}

// Options configures a Controller.
type Options struct {
	// Recognizer enables voice input. Nil disables it and the view hides its voice controls.
	Recognizer Recognizer
	// Language is the initial widget language. Unknown values select models.DefaultLanguage.
	Language models.Language
	// RevealDelay is how long a bot message stays in its typing state. Zero reveals at once.
	RevealDelay time.Duration
	Logger      *slog.Logger
}

// DefaultRevealDelay is the typing delay used by the widget unless configured otherwise.
const DefaultRevealDelay = 500 * time.Millisecond

const errLoggerKey = "err"

// Controller is a single chat session. It is safe for concurrent use; the submit path enforces that at
// most one request to the assistant is outstanding.
type Controller struct {
	assistant   Assistant
	recognizer  Recognizer
	revealDelay time.Duration
	logger      *slog.Logger

	mu              sync.Mutex
	transcript      []models.Message
	state           State
	recordingLocale string
	timers          map[string]*time.Timer
	disposed        bool

	subs      []subscription
	nextSubID int
	emitMu    sync.Mutex
}

// NewController creates a session talking to assistant. The transcript stays empty until Initialize or
// SetLanguage seeds it.
func NewController(assistant Assistant, opts Options) *Controller {
	lang, _ := models.ParseLanguage(string(opts.Language))

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Controller{
		assistant:   assistant,
		recognizer:  opts.Recognizer,
		revealDelay: opts.RevealDelay,
		logger:      logger.With(slog.String("module", "chat")),
		state: State{
			InputEnabled:   true,
			VoiceAvailable: opts.Recognizer != nil,
			Language:       lang,
			Phase:          PhaseIdle,
		},
		timers: make(map[string]*time.Timer),
	}
}

// Initialize probes the assistant, records the connectivity status and seeds the transcript with the
// welcome sequence of the current language. An unreachable assistant adds a warning after the welcome
// sequence; it is not an error.
func (c *Controller) Initialize(ctx context.Context) error {
	err := c.assistant.Probe(ctx)
	if err != nil {
		c.logger.Warn("Assistant probe failed", slog.String(errLoggerKey, err.Error()))
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}

	c.state.Connected = err == nil
	events := c.resetLocked(c.state.Language)
	if err != nil {
		events = append(events, c.appendLocked(models.NewMessage(AlertOffline, models.SenderAlert))...)
	}
	events = append(events, c.stateEventLocked())
	c.emitAndUnlock(events)

	return nil
}

// Submit sends text to the assistant in the given language and appends the outcome to the transcript.
//
// Text that is empty after trimming is ignored. While another submission is in flight ErrBusy is
// returned and nothing changes. Otherwise the user message is appended, input is disabled for the
// duration of the request, and the replies (or a single alert on failure) are appended. Input is
// re-enabled and focus returned on every exit path. Failures talking to the assistant are reported in
// the transcript, not returned. An unknown language falls back to the session language.
//
// The request is not cancelled when ctx is; it is bounded by the assistant client's own timeout.
func (c *Controller) Submit(ctx context.Context, text string, language models.Language) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.state.Phase != PhaseIdle {
		c.mu.Unlock()
		return ErrBusy
	}

	lang, ok := models.ParseLanguage(string(language))
	if !ok {
		lang = c.state.Language
	}

	events := c.appendLocked(models.NewMessage(text, models.SenderUser))
	c.state.Phase = PhaseSubmitting
	c.state.InputEnabled = false
	c.state.Input = ""
	events = append(events, c.stateEventLocked())
	c.emitAndUnlock(events)

	var (
		results   []models.Message
		connected bool
	)
	defer func() {
		c.finishSubmit(results, connected)
	}()

	reply, err := c.assistant.Send(context.WithoutCancel(ctx), text, lang)
	if err != nil {
		c.logger.Error("Failed to reach assistant",
			slog.String("language", string(lang)),
			slog.String(errLoggerKey, err.Error()))
		results = []models.Message{models.NewMessage(AlertUnreachable, models.SenderAlert)}
		return nil
	}
	if reply.Error != "" && len(reply.Replies) == 0 && reply.Message == "" {
		c.logger.Warn("Assistant returned an error", slog.String(errLoggerKey, reply.Error))
	}

	results = reply.Messages()
	connected = true
	return nil
}

func (c *Controller) finishSubmit(results []models.Message, connected bool) {
	c.mu.Lock()

	var events []Event
	if results == nil {
		// Send did not return normally; keep the session usable.
		results = []models.Message{models.NewMessage(AlertUnreachable, models.SenderAlert)}
	}
	for _, msg := range results {
		events = append(events, c.appendLocked(msg)...)
	}
	c.state.Connected = connected
	c.state.Phase = PhaseIdle
	c.state.InputEnabled = true
	events = append(events, c.stateEventLocked(), Event{Kind: EventFocusInput, State: c.state})

	c.emitAndUnlock(events)
}

// SetLanguage switches the widget language, clearing the transcript and seeding it with the welcome
// sequence of the language. Unknown languages select models.DefaultLanguage.
func (c *Controller) SetLanguage(language models.Language) error {
	lang, _ := models.ParseLanguage(string(language))

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}

	c.state.Language = lang
	events := c.resetLocked(lang)
	events = append(events, c.stateEventLocked())
	c.emitAndUnlock(events)

	return nil
}

// StartVoiceCapture starts recording an utterance and returns the recognizer locale for the current
// language. It fails with ErrVoiceUnavailable when no recognizer is configured.
func (c *Controller) StartVoiceCapture() (string, error) {
	c.mu.Lock()
	switch {
	case c.disposed:
		c.mu.Unlock()
		return "", ErrDisposed
	case c.recognizer == nil:
		c.mu.Unlock()
		return "", ErrVoiceUnavailable
	case c.state.Recording:
		c.mu.Unlock()
		return "", ErrAlreadyRecording
	}

	c.recordingLocale = c.state.Language.Locale()
	c.state.Recording = true
	events := c.appendLocked(models.NewMessage(AlertListening, models.SenderAlert))
	events = append(events, c.stateEventLocked())
	locale := c.recordingLocale
	c.emitAndUnlock(events)

	return locale, nil
}

// StopVoiceCapture ends the recording with the captured clip. The recognized utterance is placed in the
// input field and submitted like typed text. A recognition failure adds one alert and leaves the
// controls idle; it is not returned.
func (c *Controller) StopVoiceCapture(ctx context.Context, clip io.Reader, filename string) error {
	c.mu.Lock()
	switch {
	case c.disposed:
		c.mu.Unlock()
		return ErrDisposed
	case c.recognizer == nil:
		c.mu.Unlock()
		return ErrVoiceUnavailable
	case !c.state.Recording:
		c.mu.Unlock()
		return ErrNotRecording
	}

	locale := c.recordingLocale
	c.state.Recording = false
	c.emitAndUnlock([]Event{c.stateEventLocked()})

	text, err := c.recognizer.Transcribe(context.WithoutCancel(ctx), clip, filename, locale)
	if err != nil {
		c.logger.Error("Speech recognition failed",
			slog.String("locale", locale),
			slog.String(errLoggerKey, err.Error()))

		c.mu.Lock()
		c.emitAndUnlock(c.appendLocked(models.NewMessage(AlertSpeechError, models.SenderAlert)))
		return nil
	}

	c.mu.Lock()
	c.state.Input = text
	c.emitAndUnlock([]Event{c.stateEventLocked()})

	err = c.Submit(ctx, text, "")
	if errors.Is(err, ErrBusy) {
		// The utterance stays in the input field until the running submission completes.
		return nil
	}
	return err
}

// CancelVoiceCapture stops a recording without recognizing it.
func (c *Controller) CancelVoiceCapture() error {
	c.mu.Lock()
	switch {
	case c.disposed:
		c.mu.Unlock()
		return ErrDisposed
	case c.recognizer == nil:
		c.mu.Unlock()
		return ErrVoiceUnavailable
	case !c.state.Recording:
		c.mu.Unlock()
		return nil
	}

	c.state.Recording = false
	c.emitAndUnlock([]Event{c.stateEventLocked()})
	return nil
}

// Transcript returns a copy of the current transcript.
func (c *Controller) Transcript() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]models.Message(nil), c.transcript...)
}

// State returns the current UI state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Dispose stops pending reveal timers and drops all subscribers. Every later operation returns
// ErrDisposed; a submission in flight still completes but is no longer delivered to any view.
func (c *Controller) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disposed = true
	c.stopTimersLocked()
	c.subs = nil
}

// appendLocked appends msg and, for bot messages, schedules its reveal.
func (c *Controller) appendLocked(msg models.Message) []Event {
	c.transcript = append(c.transcript, msg)
	events := []Event{{Kind: EventMessageAdded, Message: msg, State: c.state}}

	if msg.Revealed {
		return events
	}
	if c.revealDelay <= 0 {
		return append(events, c.revealLocked(msg.ID)...)
	}

	id := msg.ID
	c.timers[id] = time.AfterFunc(c.revealDelay, func() {
		c.mu.Lock()
		if c.disposed {
			c.mu.Unlock()
			return
		}
		delete(c.timers, id)
		c.emitAndUnlock(c.revealLocked(id))
	})
	return events
}

func (c *Controller) revealLocked(id string) []Event {
	for i := range c.transcript {
		if c.transcript[i].ID != id {
			continue
		}
		c.transcript[i].Revealed = true
		return []Event{{Kind: EventMessageRevealed, Message: c.transcript[i], State: c.state}}
	}
	// The transcript was reset before the delay elapsed.
	return nil
}

// resetLocked clears the transcript and seeds the welcome sequence of lang.
func (c *Controller) resetLocked(lang models.Language) []Event {
	c.stopTimersLocked()
	c.transcript = nil

	events := []Event{{Kind: EventTranscriptReset, Transcript: []models.Message{}, State: c.state}}
	for _, text := range models.WelcomeMessages(lang) {
		events = append(events, c.appendLocked(models.NewMessage(text, models.SenderBot))...)
	}
	return events
}

func (c *Controller) stopTimersLocked() {
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}
