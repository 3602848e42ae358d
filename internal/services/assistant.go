package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/MegaGrindStone/health-chat-ui/internal/models"
)

// Assistant is a client for the assistant backend's chat endpoint. Every request carries the CSRF token
// found in the client's cookie jar for the endpoint URL, so cookies set by the site (Django's csrftoken
// in particular) are forwarded automatically once any response has set them.
type Assistant struct {
	endpoint *url.URL
	opts     AssistantOptions

	client *http.Client

	// primed is set once the CSRF page was fetched; failed fetches are retried on the next call.
	primeMu sync.Mutex
	primed  bool

	logger *slog.Logger
}

// AssistantOptions tunes an Assistant. Zero values select the defaults.
type AssistantOptions struct {
	// CSRFCookie is the name of the cookie holding the CSRF token. Defaults to "csrftoken".
	CSRFCookie string
	// CSRFHeader is the request header the token is copied into. Defaults to "X-CSRFToken".
	CSRFHeader string
	// CSRFPage, if set, is fetched once with GET before the first call so the site can set the CSRF
	// cookie.
	CSRFPage string
	// Timeout bounds a whole request. Defaults to 60 seconds.
	Timeout time.Duration
	// ProbeMessage is the placeholder text sent by Probe. Defaults to "test".
	ProbeMessage string
}

// HTTPError is returned when the assistant endpoint answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Body       string
}

type assistantRequest struct {
	Message  string          `json:"message"`
	Language models.Language `json:"language"`
}

const (
	defaultCSRFCookie   = "csrftoken"
	defaultCSRFHeader   = "X-CSRFToken"
	defaultTimeout      = 60 * time.Second
	defaultProbeMessage = "test"

	maxErrorBody = 512

	errLoggerKey = "err"
)

// NewAssistant creates a client for the given endpoint URL. It returns an error if the endpoint is not
// an absolute http(s) URL.
func NewAssistant(endpoint string, opts AssistantOptions, logger *slog.Logger) (*Assistant, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid assistant endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid assistant endpoint %q: scheme must be http or https", endpoint)
	}

	if opts.CSRFCookie == "" {
		opts.CSRFCookie = defaultCSRFCookie
	}
	if opts.CSRFHeader == "" {
		opts.CSRFHeader = defaultCSRFHeader
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ProbeMessage == "" {
		opts.ProbeMessage = defaultProbeMessage
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Assistant{
		endpoint: u,
		opts:     opts,
		client: &http.Client{
			Jar:     jar,
			Timeout: opts.Timeout,
		},
		logger: logger.With(slog.String("module", "assistant")),
	}, nil
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("assistant endpoint returned status %d", e.StatusCode)
}

// Send posts one user message to the assistant endpoint and decodes the reply. Transport failures,
// non-2xx statuses (as *HTTPError) and undecodable bodies are all returned as errors.
func (a *Assistant) Send(ctx context.Context, message string, language models.Language) (models.Reply, error) {
	resp, err := a.post(ctx, message, language)
	if err != nil {
		return models.Reply{}, err
	}
	defer resp.Body.Close()

	var reply models.Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return models.Reply{}, fmt.Errorf("error decoding response: %w", err)
	}

	if reply.Status != "" {
		a.logger.Debug("Assistant reply status", slog.String("status", reply.Status))
	}

	return reply, nil
}

// Probe sends the placeholder message and reports whether the endpoint answered with a 2xx status.
// The reply body is not inspected.
func (a *Assistant) Probe(ctx context.Context) error {
	resp, err := a.post(ctx, a.opts.ProbeMessage, models.DefaultLanguage)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (a *Assistant) post(ctx context.Context, message string, language models.Language) (*http.Response, error) {
	a.primeMu.Lock()
	if !a.primed {
		a.primed = a.primeCSRF(ctx)
	}
	a.primeMu.Unlock()

	body, err := json.Marshal(assistantRequest{
		Message:  message,
		Language: language,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	// The header is sent even when no token is known; enforcement is up to the server.
	req.Header.Set(a.opts.CSRFHeader, a.CSRFToken())

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       string(b),
		}
	}

	return resp, nil
}

// CSRFToken returns the CSRF token currently held in the cookie jar for the endpoint, or an empty
// string if none was set.
func (a *Assistant) CSRFToken() string {
	for _, c := range a.client.Jar.Cookies(a.endpoint) {
		if c.Name == a.opts.CSRFCookie {
			return c.Value
		}
	}
	return ""
}

// SetCookies stores cookies for the endpoint URL, as if the site had set them.
func (a *Assistant) SetCookies(cookies []*http.Cookie) {
	a.client.Jar.SetCookies(a.endpoint, cookies)
}

// primeCSRF fetches the CSRF page and reports whether it answered.
func (a *Assistant) primeCSRF(ctx context.Context) bool {
	if a.opts.CSRFPage == "" {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.opts.CSRFPage, nil)
	if err != nil {
		a.logger.Warn("Failed to create CSRF page request", slog.String(errLoggerKey, err.Error()))
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn("Failed to fetch CSRF page", slog.String(errLoggerKey, err.Error()))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if a.CSRFToken() == "" {
		a.logger.Warn("CSRF page did not set a token",
			slog.String("page", a.opts.CSRFPage),
			slog.String("cookie", a.opts.CSRFCookie))
	}
	return true
}
