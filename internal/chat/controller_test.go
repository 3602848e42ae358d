package chat_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/health-chat-ui/internal/chat"
	"github.com/MegaGrindStone/health-chat-ui/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	text     string
	language models.Language
}

type fakeAssistant struct {
	mu       sync.Mutex
	sent     []sentMessage
	reply    models.Reply
	err      error
	probeErr error

	// When release is set, Send signals started and waits for release to be closed.
	started chan struct{}
	release chan struct{}
}

func (f *fakeAssistant) Send(_ context.Context, message string, language models.Language) (models.Reply, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{text: message, language: language})
	reply, err := f.reply, f.err
	started, release := f.started, f.release
	f.mu.Unlock()

	if release != nil {
		close(started)
		<-release
	}
	return reply, err
}

func (f *fakeAssistant) Probe(context.Context) error {
	return f.probeErr
}

func (f *fakeAssistant) calls() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeRecognizer struct {
	text   string
	err    error
	locale string
	clip   string
}

func (f *fakeRecognizer) Transcribe(_ context.Context, clip io.Reader, _ string, locale string) (string, error) {
	b, _ := io.ReadAll(clip)
	f.clip = string(b)
	f.locale = locale
	return f.text, f.err
}

func texts(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func newController(a chat.Assistant, opts chat.Options) *chat.Controller {
	c := chat.NewController(a, opts)
	return c
}

func TestInitialize(t *testing.T) {
	t.Run("online", func(t *testing.T) {
		c := newController(&fakeAssistant{}, chat.Options{})
		require.NoError(t, c.Initialize(context.Background()))

		assert.True(t, c.State().Connected)
		assert.Equal(t, "Online", c.State().StatusText())
		assert.Equal(t, models.WelcomeMessages(models.LanguageEnglish), texts(c.Transcript()))
	})

	t.Run("offline", func(t *testing.T) {
		c := newController(&fakeAssistant{probeErr: errors.New("connection refused")}, chat.Options{
			Language: models.LanguageOdia,
		})
		require.NoError(t, c.Initialize(context.Background()))

		assert.False(t, c.State().Connected)
		assert.Equal(t, "Offline", c.State().StatusText())

		transcript := c.Transcript()
		require.Len(t, transcript, 4)
		assert.Equal(t, models.WelcomeMessages(models.LanguageOdia), texts(transcript[:3]))
		assert.Equal(t, chat.AlertOffline, transcript[3].Text)
		assert.Equal(t, models.SenderAlert, transcript[3].Sender)
	})
}

func TestSubmitIgnoresEmptyInput(t *testing.T) {
	a := &fakeAssistant{reply: models.Reply{Message: "hi"}}
	c := newController(a, chat.Options{})

	for _, text := range []string{"", "   ", "\n\t "} {
		require.NoError(t, c.Submit(context.Background(), text, models.LanguageEnglish))
	}

	assert.Empty(t, c.Transcript())
	assert.Empty(t, a.calls())
}

func TestSubmitReplies(t *testing.T) {
	tests := []struct {
		name          string
		reply         models.Reply
		err           error
		wantTexts     []string
		wantSenders   []models.Sender
		wantConnected bool
	}{
		{
			name:          "reply list",
			reply:         models.Reply{Replies: []string{"A", "B"}},
			wantTexts:     []string{"  fever  ", "A", "B"},
			wantSenders:   []models.Sender{models.SenderUser, models.SenderBot, models.SenderBot},
			wantConnected: true,
		},
		{
			name:          "single message",
			reply:         models.Reply{Message: "hi"},
			wantTexts:     []string{"fever", "hi"},
			wantSenders:   []models.Sender{models.SenderUser, models.SenderBot},
			wantConnected: true,
		},
		{
			name:          "application error",
			reply:         models.Reply{Error: "Invalid request method."},
			wantTexts:     []string{"fever", "Error: Invalid request method."},
			wantSenders:   []models.Sender{models.SenderUser, models.SenderAlert},
			wantConnected: true,
		},
		{
			name:          "empty body",
			reply:         models.Reply{},
			wantTexts:     []string{"fever", models.GenericReply},
			wantSenders:   []models.Sender{models.SenderUser, models.SenderBot},
			wantConnected: true,
		},
		{
			name:          "transport failure",
			err:           errors.New("dial tcp: connection refused"),
			wantTexts:     []string{"fever", chat.AlertUnreachable},
			wantSenders:   []models.Sender{models.SenderUser, models.SenderAlert},
			wantConnected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAssistant{reply: tt.reply, err: tt.err}
			c := newController(a, chat.Options{})

			var focused int
			c.Subscribe(func(ev chat.Event) {
				if ev.Kind == chat.EventFocusInput {
					focused++
				}
			})

			input := "fever"
			if tt.name == "reply list" {
				input = "  fever  "
			}
			require.NoError(t, c.Submit(context.Background(), input, models.LanguageHindi))

			transcript := c.Transcript()
			require.Len(t, transcript, len(tt.wantTexts))
			for i, msg := range transcript {
				assert.Equal(t, strings.TrimSpace(tt.wantTexts[i]), msg.Text)
				assert.Equal(t, tt.wantSenders[i], msg.Sender)
			}

			assert.Equal(t, []sentMessage{{text: "fever", language: models.LanguageHindi}}, a.calls())

			st := c.State()
			assert.Equal(t, tt.wantConnected, st.Connected)
			assert.True(t, st.InputEnabled)
			assert.Equal(t, chat.PhaseIdle, st.Phase)
			assert.Equal(t, 1, focused)
		})
	}
}

func TestSubmitUnknownLanguageUsesSessionLanguage(t *testing.T) {
	a := &fakeAssistant{reply: models.Reply{Message: "ok"}}
	c := newController(a, chat.Options{Language: models.LanguageOdia})

	require.NoError(t, c.Submit(context.Background(), "hello", models.Language("xx")))
	require.NoError(t, c.Submit(context.Background(), "hello", ""))

	assert.Equal(t, []sentMessage{
		{text: "hello", language: models.LanguageOdia},
		{text: "hello", language: models.LanguageOdia},
	}, a.calls())
}

func TestSubmitOneInFlight(t *testing.T) {
	a := &fakeAssistant{
		reply:   models.Reply{Replies: []string{"A"}},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := newController(a, chat.Options{})

	done := make(chan error, 1)
	go func() {
		done <- c.Submit(context.Background(), "first", models.LanguageEnglish)
	}()
	<-a.started

	// The user message is in place before any reply is processed.
	transcript := c.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, "first", transcript[0].Text)
	assert.Equal(t, models.SenderUser, transcript[0].Sender)

	st := c.State()
	assert.Equal(t, chat.PhaseSubmitting, st.Phase)
	assert.False(t, st.InputEnabled)

	err := c.Submit(context.Background(), "second", models.LanguageEnglish)
	assert.ErrorIs(t, err, chat.ErrBusy)
	assert.Len(t, c.Transcript(), 1)

	close(a.release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"first", "A"}, texts(c.Transcript()))
	assert.Len(t, a.calls(), 1)
	assert.Equal(t, chat.PhaseIdle, c.State().Phase)
	assert.True(t, c.State().InputEnabled)
}

func TestSubmitDoesNotCancelWithCaller(t *testing.T) {
	a := &fakeAssistant{reply: models.Reply{Message: "ok"}}
	c := newController(a, chat.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, c.Submit(ctx, "hello", models.LanguageEnglish))
	assert.Equal(t, []string{"hello", "ok"}, texts(c.Transcript()))
}

func TestSubmitEventOrder(t *testing.T) {
	a := &fakeAssistant{reply: models.Reply{Replies: []string{"A"}}}
	c := newController(a, chat.Options{})

	var kinds []chat.EventKind
	c.Subscribe(func(ev chat.Event) {
		kinds = append(kinds, ev.Kind)
	})

	require.NoError(t, c.Submit(context.Background(), "hello", models.LanguageEnglish))

	assert.Equal(t, []chat.EventKind{
		chat.EventMessageAdded,
		chat.EventStateChanged,
		chat.EventMessageAdded,
		chat.EventMessageRevealed,
		chat.EventStateChanged,
		chat.EventFocusInput,
	}, kinds)
}

func TestSetLanguage(t *testing.T) {
	a := &fakeAssistant{reply: models.Reply{Message: "ok"}}
	c := newController(a, chat.Options{})
	require.NoError(t, c.Initialize(context.Background()))
	require.NoError(t, c.Submit(context.Background(), "hello", models.LanguageEnglish))
	require.Len(t, c.Transcript(), 5)

	var resets int
	c.Subscribe(func(ev chat.Event) {
		if ev.Kind == chat.EventTranscriptReset {
			resets++
			assert.Empty(t, ev.Transcript)
		}
	})

	require.NoError(t, c.SetLanguage(models.LanguageHindi))
	assert.Equal(t, models.WelcomeMessages(models.LanguageHindi), texts(c.Transcript()))
	assert.Len(t, c.Transcript(), 3)
	assert.Equal(t, models.LanguageHindi, c.State().Language)

	require.NoError(t, c.SetLanguage(models.Language("klingon")))
	assert.Equal(t, models.WelcomeMessages(models.LanguageEnglish), texts(c.Transcript()))
	assert.Equal(t, models.LanguageEnglish, c.State().Language)

	assert.Equal(t, 2, resets)
}

func TestRevealDelay(t *testing.T) {
	a := &fakeAssistant{reply: models.Reply{Replies: []string{"A", "B"}}}
	c := newController(a, chat.Options{RevealDelay: 20 * time.Millisecond})

	var (
		mu       sync.Mutex
		revealed []string
	)
	c.Subscribe(func(ev chat.Event) {
		if ev.Kind == chat.EventMessageRevealed {
			mu.Lock()
			revealed = append(revealed, ev.Message.Text)
			mu.Unlock()
		}
	})

	require.NoError(t, c.Submit(context.Background(), "hello", models.LanguageEnglish))

	transcript := c.Transcript()
	require.Len(t, transcript, 3)
	assert.True(t, transcript[0].Revealed)
	assert.False(t, transcript[1].Revealed)
	assert.False(t, transcript[2].Revealed)

	assert.Eventually(t, func() bool {
		for _, m := range c.Transcript() {
			if !m.Revealed {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	// Order and content never change with the reveal.
	assert.Equal(t, []string{"hello", "A", "B"}, texts(c.Transcript()))

	mu.Lock()
	assert.ElementsMatch(t, []string{"A", "B"}, revealed)
	mu.Unlock()
}

func TestRevealCancelledByReset(t *testing.T) {
	c := newController(&fakeAssistant{}, chat.Options{RevealDelay: 30 * time.Millisecond})

	var (
		mu       sync.Mutex
		revealed []string
	)
	c.Subscribe(func(ev chat.Event) {
		if ev.Kind == chat.EventMessageRevealed {
			mu.Lock()
			revealed = append(revealed, ev.Message.Text)
			mu.Unlock()
		}
	})

	require.NoError(t, c.SetLanguage(models.LanguageHindi))
	require.NoError(t, c.SetLanguage(models.LanguageOdia))

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, models.WelcomeMessages(models.LanguageOdia), revealed)
}

func TestVoiceUnavailable(t *testing.T) {
	a := &fakeAssistant{}
	c := newController(a, chat.Options{})

	assert.False(t, c.State().VoiceAvailable)

	_, err := c.StartVoiceCapture()
	assert.ErrorIs(t, err, chat.ErrVoiceUnavailable)
	assert.ErrorIs(t, c.StopVoiceCapture(context.Background(), strings.NewReader("clip"), ""), chat.ErrVoiceUnavailable)
	assert.ErrorIs(t, c.CancelVoiceCapture(), chat.ErrVoiceUnavailable)

	assert.Empty(t, c.Transcript())
	assert.False(t, c.State().Recording)
}

func TestVoiceCapture(t *testing.T) {
	a := &fakeAssistant{reply: models.Reply{Message: "Drink fluids and rest."}}
	r := &fakeRecognizer{text: "बुखार"}
	c := newController(a, chat.Options{Recognizer: r})
	require.NoError(t, c.SetLanguage(models.LanguageHindi))

	assert.True(t, c.State().VoiceAvailable)

	locale, err := c.StartVoiceCapture()
	require.NoError(t, err)
	assert.Equal(t, "hi-IN", locale)
	assert.True(t, c.State().Recording)

	_, err = c.StartVoiceCapture()
	assert.ErrorIs(t, err, chat.ErrAlreadyRecording)

	require.NoError(t, c.StopVoiceCapture(context.Background(), strings.NewReader("pcm"), "clip.webm"))

	assert.Equal(t, "hi-IN", r.locale)
	assert.Equal(t, "pcm", r.clip)
	assert.Equal(t, []sentMessage{{text: "बुखार", language: models.LanguageHindi}}, a.calls())

	transcript := c.Transcript()
	require.Len(t, transcript, 6)
	assert.Equal(t, chat.AlertListening, transcript[3].Text)
	assert.Equal(t, "बुखार", transcript[4].Text)
	assert.Equal(t, models.SenderUser, transcript[4].Sender)
	assert.Equal(t, "Drink fluids and rest.", transcript[5].Text)

	st := c.State()
	assert.False(t, st.Recording)
	assert.Empty(t, st.Input)
	assert.True(t, st.InputEnabled)

	assert.ErrorIs(t, c.StopVoiceCapture(context.Background(), strings.NewReader("pcm"), ""), chat.ErrNotRecording)
}

func TestVoiceCaptureRecognitionError(t *testing.T) {
	a := &fakeAssistant{}
	r := &fakeRecognizer{err: errors.New("no-speech")}
	c := newController(a, chat.Options{Recognizer: r})

	_, err := c.StartVoiceCapture()
	require.NoError(t, err)
	require.NoError(t, c.StopVoiceCapture(context.Background(), strings.NewReader(""), ""))

	assert.Equal(t, []string{chat.AlertListening, chat.AlertSpeechError}, texts(c.Transcript()))
	assert.Empty(t, a.calls())
	assert.False(t, c.State().Recording)
	assert.True(t, c.State().InputEnabled)

	// The controls are idle again.
	_, err = c.StartVoiceCapture()
	assert.NoError(t, err)
}

func TestVoiceCaptureWhileSubmitting(t *testing.T) {
	a := &fakeAssistant{
		reply:   models.Reply{Message: "ok"},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	r := &fakeRecognizer{text: "cough"}
	c := newController(a, chat.Options{Recognizer: r})

	done := make(chan error, 1)
	go func() {
		done <- c.Submit(context.Background(), "fever", models.LanguageEnglish)
	}()
	<-a.started

	_, err := c.StartVoiceCapture()
	require.NoError(t, err)
	require.NoError(t, c.StopVoiceCapture(context.Background(), strings.NewReader("clip"), ""))

	assert.Equal(t, "cough", c.State().Input)
	assert.Len(t, a.calls(), 1)

	close(a.release)
	require.NoError(t, <-done)
	assert.Equal(t, "cough", c.State().Input)
}

func TestCancelVoiceCapture(t *testing.T) {
	r := &fakeRecognizer{text: "unused"}
	c := newController(&fakeAssistant{}, chat.Options{Recognizer: r})

	require.NoError(t, c.CancelVoiceCapture())

	_, err := c.StartVoiceCapture()
	require.NoError(t, err)
	require.NoError(t, c.CancelVoiceCapture())
	assert.False(t, c.State().Recording)
	assert.Empty(t, r.locale)
}

func TestUnsubscribe(t *testing.T) {
	c := newController(&fakeAssistant{}, chat.Options{})

	var n int
	unsubscribe := c.Subscribe(func(chat.Event) { n++ })
	require.NoError(t, c.SetLanguage(models.LanguageEnglish))
	seen := n
	assert.Positive(t, seen)

	unsubscribe()
	require.NoError(t, c.SetLanguage(models.LanguageHindi))
	assert.Equal(t, seen, n)
}

func TestDispose(t *testing.T) {
	a := &fakeAssistant{}
	c := newController(a, chat.Options{Recognizer: &fakeRecognizer{}})
	c.Dispose()

	assert.ErrorIs(t, c.Initialize(context.Background()), chat.ErrDisposed)
	assert.ErrorIs(t, c.Submit(context.Background(), "hi", models.LanguageEnglish), chat.ErrDisposed)
	assert.ErrorIs(t, c.SetLanguage(models.LanguageHindi), chat.ErrDisposed)
	_, err := c.StartVoiceCapture()
	assert.ErrorIs(t, err, chat.ErrDisposed)
	assert.Empty(t, a.calls())
}
