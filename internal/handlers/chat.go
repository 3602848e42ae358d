package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/health-chat-ui/internal/chat"
	"github.com/MegaGrindStone/health-chat-ui/internal/models"
)

// maxClipSize bounds the multipart body of a recorded voice clip.
const maxClipSize = 10 << 20

// HandleChats submits the "message" form field to the browser's session, in the "language" form field's
// language. The request returns once the assistant answered; the transcript changes reach the page through SSE, so a
// successful submission responds with 204. A submission made while another one is in flight is
// rejected with 409.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, ok := m.requireSession(w, r)
	if !ok {
		return
	}

	msg := r.FormValue("message")
	lang := models.Language(r.FormValue("language"))

	if err := sess.ctrl.Submit(r.Context(), msg, lang); err != nil {
		m.handleControllerError(w, "Failed to submit message", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleLanguage switches the widget language to the "language" form field. The transcript is reset to
// the welcome sequence of that language.
func (m Main) HandleLanguage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, ok := m.requireSession(w, r)
	if !ok {
		return
	}

	if err := sess.ctrl.SetLanguage(models.Language(r.FormValue("language"))); err != nil {
		m.handleControllerError(w, "Failed to set language", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleVoiceStart starts a voice capture and responds with the recognizer locale as JSON.
func (m Main) HandleVoiceStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, ok := m.requireSession(w, r)
	if !ok {
		return
	}

	locale, err := sess.ctrl.StartVoiceCapture()
	if err != nil {
		m.handleControllerError(w, "Failed to start voice capture", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"locale": locale}); err != nil {
		m.logger.Error("Failed to write response", slog.String(errLoggerKey, err.Error()))
	}
}

// HandleVoiceStop ends the voice capture with the clip uploaded in the "audio" multipart field. The
// recognized text is submitted like a typed message.
func (m Main) HandleVoiceStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, ok := m.requireSession(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxClipSize)
	clip, hdr, err := r.FormFile("audio")
	if err != nil {
		m.logger.Error("Failed to read voice clip", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Audio clip is required", http.StatusBadRequest)
		return
	}
	defer clip.Close()

	if err := sess.ctrl.StopVoiceCapture(r.Context(), clip, hdr.Filename); err != nil {
		m.handleControllerError(w, "Failed to stop voice capture", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleVoiceCancel abandons the running voice capture.
func (m Main) HandleVoiceCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, ok := m.requireSession(w, r)
	if !ok {
		return
	}

	if err := sess.ctrl.CancelVoiceCapture(); err != nil {
		m.handleControllerError(w, "Failed to cancel voice capture", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (m Main) handleControllerError(w http.ResponseWriter, logMsg string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrBusy),
		errors.Is(err, chat.ErrAlreadyRecording),
		errors.Is(err, chat.ErrNotRecording):
		code = http.StatusConflict
	case errors.Is(err, chat.ErrVoiceUnavailable):
		code = http.StatusNotFound
	case errors.Is(err, chat.ErrDisposed):
		code = http.StatusServiceUnavailable
	}

	m.logger.Warn(logMsg, slog.Int("status", code), slog.String(errLoggerKey, err.Error()))
	http.Error(w, err.Error(), code)
}
