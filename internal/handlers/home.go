package handlers

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/health-chat-ui/internal/chat"
	"github.com/MegaGrindStone/health-chat-ui/internal/models"
)

type message struct {
	ID        string
	Sender    string
	Content   template.HTML
	Timestamp time.Time
	Revealed  bool
}

type languageOption struct {
	Code     string
	Name     string
	Selected bool
}

type status struct {
	Connected      bool   `json:"connected"`
	Text           string `json:"text"`
	InputEnabled   bool   `json:"inputEnabled"`
	Recording      bool   `json:"recording"`
	VoiceAvailable bool   `json:"voiceAvailable"`
	Language       string `json:"language"`
	Input          string `json:"input"`
}

type homePageData struct {
	Messages    []message
	Status      status
	Languages   []languageOption
	LastEventID string
}

func newMessageView(msg models.Message) (message, error) {
	content, err := models.RenderText(msg)
	if err != nil {
		return message{}, fmt.Errorf("error rendering message %s: %w", msg.ID, err)
	}

	return message{
		ID:     msg.ID,
		Sender: string(msg.Sender),
		// RenderText escapes user and alert text and sanitizes markdown output.
		Content:   template.HTML(content), //nolint:gosec
		Timestamp: msg.Timestamp,
		Revealed:  msg.Revealed,
	}, nil
}

func newStatusView(st chat.State) status {
	return status{
		Connected:      st.Connected,
		Text:           st.StatusText(),
		InputEnabled:   st.InputEnabled,
		Recording:      st.Recording,
		VoiceAvailable: st.VoiceAvailable,
		Language:       string(st.Language),
		Input:          st.Input,
	}
}

// HandleHome starts a new session for the browser and renders the widget page with its transcript, the
// connectivity indicator and the language selector. Voice controls are only rendered when voice input is
// available. The page carries the ID of the last event it reflects, so its stream resumes right after it.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	sess, err := m.startSession(r.Context(), w, r)
	if err != nil {
		m.logger.Error("Failed to start session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// The event ID is read before the transcript, so the page never misses an event; events replayed
	// twice are applied idempotently by the page.
	lastEventID := sess.resumeID()
	transcript := sess.ctrl.Transcript()
	st := sess.ctrl.State()

	msgs := make([]message, len(transcript))
	for i := range transcript {
		view, err := newMessageView(transcript[i])
		if err != nil {
			m.logger.Error("Failed to render message",
				slog.String("messageID", transcript[i].ID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		msgs[i] = view
	}

	langs := make([]languageOption, len(models.Languages))
	for i, l := range models.Languages {
		langs[i] = languageOption{
			Code:     string(l),
			Name:     l.Name(),
			Selected: l == st.Language,
		}
	}

	data := homePageData{
		Messages:    msgs,
		Status:      newStatusView(st),
		Languages:   langs,
		LastEventID: lastEventID,
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to execute home template", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// HandleSSE streams the events of the browser's session to the page.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.requireSession(w, r)
	if !ok {
		return
	}

	sess.streamOpened()
	defer sess.streamClosed()

	m.sseSrv.ServeHTTP(w, r)
}
