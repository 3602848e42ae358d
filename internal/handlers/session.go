package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MegaGrindStone/health-chat-ui/internal/chat"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

const sessionCookie = "healthchat_session"

// session is one browser's chat. Its events are published on its own SSE topic, and every event gets
// an ID so a page can resume the stream from the state it was rendered with.
type session struct {
	token string
	topic string

	ctrl        Controller
	unsubscribe func()

	mu          sync.Mutex
	seq         uint64
	lastEventID string
	lastSeen    time.Time
	streams     int
}

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error generating session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// startSession creates a controller for a new page load, seeds it and sets the session cookie. A
// session previously held by the same browser is discarded, so every page load starts with a fresh
// transcript.
func (m Main) startSession(ctx context.Context, w http.ResponseWriter, r *http.Request) (*session, error) {
	if old, ok := m.session(r); ok {
		m.endSession(old)
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	s := &session{
		token:    token,
		topic:    sessionTopic(uuid.New().String()),
		ctrl:     m.newController(),
		lastSeen: time.Now(),
	}
	// Subscribe before seeding so the seeding events are recorded for replay.
	s.unsubscribe = s.ctrl.Subscribe(func(ev chat.Event) {
		m.publish(s, ev)
	})

	if err := s.ctrl.Initialize(ctx); err != nil {
		s.unsubscribe()
		s.ctrl.Dispose()
		return nil, fmt.Errorf("error initializing session: %w", err)
	}

	m.sessions.mu.Lock()
	m.sessions.sessions[token] = s
	m.sessions.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	m.logger.Debug("Session started", slog.String("topic", s.topic))
	return s, nil
}

// session returns the live session named by the request's cookie.
func (m Main) session(r *http.Request) (*session, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, false
	}

	m.sessions.mu.Lock()
	s, ok := m.sessions.sessions[cookie.Value]
	m.sessions.mu.Unlock()
	if !ok {
		return nil, false
	}

	s.touch()
	return s, true
}

// requireSession resolves the request's session or answers 401 when the page has to be reloaded.
func (m Main) requireSession(w http.ResponseWriter, r *http.Request) (*session, bool) {
	s, ok := m.session(r)
	if !ok {
		m.logger.Warn("Unknown session", slog.String("path", r.URL.Path))
		http.Error(w, "Session expired, reload the page", http.StatusUnauthorized)
		return nil, false
	}
	return s, true
}

// endSession removes s, disposes its controller and tells its page the stream is over.
func (m Main) endSession(s *session) {
	m.sessions.mu.Lock()
	live := m.sessions.sessions[s.token] == s
	if live {
		delete(m.sessions.sessions, s.token)
	}
	m.sessions.mu.Unlock()
	if !live {
		return
	}

	s.unsubscribe()
	s.ctrl.Dispose()

	e := &sse.Message{Type: closeSSEType}
	e.AppendData("bye")
	if err := m.publishTo(s, e); err != nil {
		m.logger.Debug("Failed to publish close event",
			slog.String("topic", s.topic),
			slog.String(errLoggerKey, err.Error()))
	}
	m.logger.Debug("Session ended", slog.String("topic", s.topic))
}

// sweepSessions ends sessions that had neither a request nor an open stream for the store's TTL.
func (m Main) sweepSessions(now time.Time) {
	var expired []*session

	m.sessions.mu.Lock()
	for _, s := range m.sessions.sessions {
		if s.idleSince(now) >= m.sessions.ttl {
			expired = append(expired, s)
		}
	}
	m.sessions.mu.Unlock()

	for _, s := range expired {
		m.endSession(s)
	}
}

func (m Main) runSweeper(ctx context.Context) {
	interval := m.sessions.ttl / 2
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.sweepSessions(now)
		}
	}
}

func (m Main) endAllSessions() {
	m.sessions.mu.Lock()
	all := make([]*session, 0, len(m.sessions.sessions))
	for _, s := range m.sessions.sessions {
		all = append(all, s)
	}
	m.sessions.mu.Unlock()

	for _, s := range all {
		m.endSession(s)
	}
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// idleSince reports how long s has been idle at now. A session with an open stream is never idle.
func (s *session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streams > 0 {
		return 0
	}
	return now.Sub(s.lastSeen)
}

func (s *session) streamOpened() {
	s.mu.Lock()
	s.streams++
	s.mu.Unlock()
}

func (s *session) streamClosed() {
	s.mu.Lock()
	s.streams--
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// resumeID returns the ID of the newest event published for s.
func (s *session) resumeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventID
}
