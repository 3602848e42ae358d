package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	healthchatui "github.com/MegaGrindStone/health-chat-ui"
	"github.com/MegaGrindStone/health-chat-ui/internal/chat"
	"github.com/MegaGrindStone/health-chat-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Controller is the chat session driven by one page. It is implemented by *chat.Controller.
type Controller interface {
	Initialize(ctx context.Context) error
	Submit(ctx context.Context, text string, language models.Language) error
	SetLanguage(language models.Language) error

	StartVoiceCapture() (string, error)
	StopVoiceCapture(ctx context.Context, clip io.Reader, filename string) error
	CancelVoiceCapture() error

	Transcript() []models.Message
	State() chat.State
	Subscribe(fn func(chat.Event)) func()
	Dispose()
}

// ControllerFactory creates the controller of a new browser session.
type ControllerFactory func() Controller

// Main serves the chat widget: the page itself, the form endpoints the page posts to, and the SSE
// stream through which controller events reach the page as rendered fragments. Every browser gets its
// own controller, keyed by a session cookie, and its own SSE topic.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	newController ControllerFactory
	sessions      *sessionStore
	stopSweeper   context.CancelFunc

	logger *slog.Logger
}

// SSE event types, one per controller event kind.
var (
	messageSSEType = sse.Type(string(chat.EventMessageAdded))
	revealSSEType  = sse.Type(string(chat.EventMessageRevealed))
	resetSSEType   = sse.Type(string(chat.EventTranscriptReset))
	statusSSEType  = sse.Type(string(chat.EventStateChanged))
	focusSSEType   = sse.Type(string(chat.EventFocusInput))
	closeSSEType   = sse.Type("closeChat")
)

const (
	errLoggerKey = "err"

	// DefaultSessionTTL is how long a session without requests or open streams is kept.
	DefaultSessionTTL = 30 * time.Minute

	// replayTTL bounds how long published events can be replayed to a page that connects late.
	replayTTL = 2 * time.Minute
)

// NewMain parses the embedded templates and starts the session sweeper. newController is called once
// per page load; sessions idle for sessionTTL are disposed. A non-positive sessionTTL selects
// DefaultSessionTTL.
func NewMain(newController ControllerFactory, sessionTTL time.Duration, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		healthchatui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, fmt.Errorf("error parsing templates: %w", err)
	}

	replayer, err := sse.NewValidReplayer(replayTTL, false)
	if err != nil {
		return Main{}, fmt.Errorf("error creating replayer: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}

	sweepCtx, stopSweeper := context.WithCancel(context.Background())

	m := Main{
		templates:     tmpl,
		newController: newController,
		sessions: &sessionStore{
			sessions: make(map[string]*session),
			ttl:      sessionTTL,
		},
		stopSweeper: stopSweeper,
		logger:      logger.With(slog.String("module", "handlers")),
	}
	m.sseSrv = &sse.Server{
		Provider: &sse.Joe{Replayer: replayer},
		OnSession: func(s *sse.Session) (sse.Subscription, bool) {
			sess, ok := m.session(s.Req)
			if !ok {
				// Nothing was sent yet, so the status can still be set.
				http.Error(s.Res, "Session expired, reload the page", http.StatusUnauthorized)
				return sse.Subscription{}, false
			}

			// The browser sends Last-Event-ID on reconnects; the first connection names the event the
			// page was rendered at.
			lastEventID := s.LastEventID
			if !lastEventID.IsSet() {
				if id := s.Req.URL.Query().Get("last_event_id"); id != "" {
					lastEventID, _ = sse.NewID(id)
				}
			}

			return sse.Subscription{
				Client:      s,
				LastEventID: lastEventID,
				Topics:      []string{sess.topic},
			}, true
		},
	}

	go m.runSweeper(sweepCtx)

	return m, nil
}

func (m Main) publish(s *session, ev chat.Event) {
	msg, err := m.sseMessage(ev)
	if err != nil {
		m.logger.Error("Failed to render event",
			slog.String("kind", string(ev.Kind)),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	if err := m.publishTo(s, msg); err != nil {
		m.logger.Error("Failed to publish event",
			slog.String("kind", string(ev.Kind)),
			slog.String("topic", s.topic),
			slog.String(errLoggerKey, err.Error()))
	}
}

// publishTo assigns msg the next event ID of s and publishes it on the session's topic.
func (m Main) publishTo(s *session, msg *sse.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	id := s.topic + "." + strconv.FormatUint(s.seq, 10)
	msg.ID = sse.ID(id)

	if err := m.sseSrv.Publish(msg, s.topic); err != nil {
		return err
	}
	s.lastEventID = id
	return nil
}

// sseMessage turns ev into the SSE message the page expects: rendered message fragments for message
// events, the language code for a reset, the state as JSON for a status change.
func (m Main) sseMessage(ev chat.Event) (*sse.Message, error) {
	var msg sse.Message

	switch ev.Kind {
	case chat.EventMessageAdded, chat.EventMessageRevealed:
		fragment, err := m.renderMessage(ev.Message)
		if err != nil {
			return nil, err
		}
		msg.Type = messageSSEType
		if ev.Kind == chat.EventMessageRevealed {
			msg.Type = revealSSEType
		}
		msg.AppendData(fragment)
	case chat.EventTranscriptReset:
		msg.Type = resetSSEType
		msg.AppendData(string(ev.State.Language))
	case chat.EventStateChanged:
		b, err := json.Marshal(newStatusView(ev.State))
		if err != nil {
			return nil, fmt.Errorf("error marshaling state: %w", err)
		}
		msg.Type = statusSSEType
		msg.AppendData(string(b))
	case chat.EventFocusInput:
		msg.Type = focusSSEType
		// SSE requires data on every event.
		msg.AppendData("input")
	default:
		return nil, fmt.Errorf("unknown event kind: %s", ev.Kind)
	}

	return &msg, nil
}

func (m Main) renderMessage(msg models.Message) (string, error) {
	view, err := newMessageView(msg)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "message", view); err != nil {
		return "", fmt.Errorf("error executing message template: %w", err)
	}
	return sb.String(), nil
}

// Shutdown ends every session, which sends each page a close message, and gracefully terminates the
// SSE server, waiting up to 5 seconds for connections to terminate.
func (m Main) Shutdown(ctx context.Context) error {
	m.stopSweeper()
	m.endAllSessions()

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
