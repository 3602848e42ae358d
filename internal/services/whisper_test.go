package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MegaGrindStone/health-chat-ui/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTranscriptionServer(t *testing.T, text string, gotLanguage, gotFilename *string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		*gotLanguage = r.FormValue("language")
		if _, hdr, err := r.FormFile("file"); err == nil {
			*gotFilename = hdr.Filename
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"`+text+`"}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWhisperTranscribe(t *testing.T) {
	var language, filename string
	srv := newTranscriptionServer(t, " बुखार के लक्षण ", &language, &filename)

	w := services.NewWhisper("test-key", "", services.WhisperOptions{BaseURL: srv.URL},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	text, err := w.Transcribe(context.Background(), strings.NewReader("fake audio"), "voice.webm", "hi-IN")
	require.NoError(t, err)
	assert.Equal(t, "बुखार के लक्षण", text)
	assert.Equal(t, "hi", language)
	assert.Equal(t, "voice.webm", filename)
}

func TestWhisperTranscribeNoSpeech(t *testing.T) {
	var language, filename string
	srv := newTranscriptionServer(t, "  ", &language, &filename)

	w := services.NewWhisper("test-key", "whisper-1", services.WhisperOptions{BaseURL: srv.URL},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := w.Transcribe(context.Background(), strings.NewReader("silence"), "", "or-IN")
	assert.True(t, errors.Is(err, services.ErrNoSpeech))
	assert.Equal(t, "or", language)
	assert.Equal(t, "clip.webm", filename)
}

func TestWhisperTranscribeKeepsClipFormat(t *testing.T) {
	var language, filename string
	srv := newTranscriptionServer(t, "cough", &language, &filename)

	w := services.NewWhisper("test-key", "", services.WhisperOptions{BaseURL: srv.URL},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Safari records audio/mp4.
	text, err := w.Transcribe(context.Background(), strings.NewReader("mp4 audio"), "clip.m4a", "en-US")
	require.NoError(t, err)
	assert.Equal(t, "cough", text)
	assert.Equal(t, "clip.m4a", filename)
}

func TestWhisperTranscribeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	t.Cleanup(srv.Close)

	w := services.NewWhisper("bad", "", services.WhisperOptions{BaseURL: srv.URL},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := w.Transcribe(context.Background(), strings.NewReader("clip"), "clip.webm", "en-US")
	assert.Error(t, err)
}
