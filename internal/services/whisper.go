package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
)

// Whisper implements speech recognition for the chat widget on top of OpenAI's transcription API.
// Recorded clips uploaded by the page are transcribed in the language of the recognizer locale.
type Whisper struct {
	model  string
	prompt string

	client *goopenai.Client

	logger *slog.Logger
}

// WhisperOptions tunes a Whisper recognizer. Zero values select the defaults.
type WhisperOptions struct {
	// BaseURL overrides the OpenAI API base URL, for compatible self-hosted servers.
	BaseURL string
	// Prompt is passed to the model to bias it towards the widget's vocabulary.
	Prompt string
}

// ErrNoSpeech is returned when a clip was transcribed to empty text.
var ErrNoSpeech = errors.New("no speech recognized")

// NewWhisper creates a new Whisper recognizer with the specified API key and model. An empty model
// selects whisper-1.
func NewWhisper(apiKey, model string, opts WhisperOptions, logger *slog.Logger) Whisper {
	if model == "" {
		model = goopenai.Whisper1
	}

	cfg := goopenai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	return Whisper{
		model:  model,
		prompt: opts.Prompt,
		client: goopenai.NewClientWithConfig(cfg),
		logger: logger.With(slog.String("module", "whisper")),
	}
}

// Transcribe converts one recorded clip into text. The filename's extension tells the API which audio
// container the clip uses; locale is a recognizer locale tag such as "hi-IN", whose primary subtag is
// sent as the transcription language.
func (w Whisper) Transcribe(ctx context.Context, clip io.Reader, filename, locale string) (string, error) {
	if filename == "" {
		filename = "clip.webm"
	}

	req := goopenai.AudioRequest{
		Model:    w.model,
		FilePath: filename,
		Reader:   clip,
		Prompt:   w.prompt,
		Language: localeLanguage(locale),
		Format:   goopenai.AudioResponseFormatJSON,
	}

	resp, err := w.client.CreateTranscription(ctx, req)
	if err != nil {
		return "", fmt.Errorf("error transcribing clip: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	w.logger.Debug("Transcription",
		slog.String("locale", locale),
		slog.String("text", text))
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

func localeLanguage(locale string) string {
	lang, _, _ := strings.Cut(locale, "-")
	return strings.ToLower(lang)
}
