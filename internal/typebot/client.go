package typebot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"zapbot/internal/domain"
	"zapbot/internal/metrics"
)

const maxResponseBytes = 1 << 20

// ErrNoBackend is returned when the client has no base URL.
var ErrNoBackend = errors.New("typebot: no backend URL configured")

// StatusError is a non-2xx reply from the backend.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("typebot %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// PrefilledVariables seed a new backend session.
type PrefilledVariables struct {
	RemoteJID   string `json:"remoteJid"`
	UserMessage string `json:"user_message"`
	PushName    string `json:"pushName"`
}

type continueRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type createRequest struct {
	Message            string             `json:"message"`
	SessionID          string             `json:"sessionId"`
	PrefilledVariables PrefilledVariables `json:"prefilledVariables"`
}

// Client talks to a Typebot-style backend over HTTP.
type Client struct {
	baseURL     string
	continueURL string
	createURL   string
	apiKey      string
	client      *http.Client
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

type ClientConfig struct {
	BaseURL string
	// ContinueURL and CreateURL are endpoint templates. "{baseUrl}" and
	// "{sessionId}" are substituted; empty means BaseURL.
	ContinueURL string
	CreateURL   string
	APIKey      string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg.Timeout)
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		continueURL: cfg.ContinueURL,
		createURL:   cfg.CreateURL,
		apiKey:      cfg.APIKey,
		client:      httpClient,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
}

// Continue sends message to the existing session sessionID.
func (c *Client) Continue(ctx context.Context, sessionID, message string) (*domain.AgentResponse, error) {
	endpoint := expandEndpoint(c.continueURL, c.baseURL, sessionID)
	return c.post(ctx, "continue", endpoint, continueRequest{
		Message:   message,
		SessionID: sessionID,
	})
}

// Create starts a new session keyed by sessionID with message as its first turn.
func (c *Client) Create(ctx context.Context, sessionID, message string, vars PrefilledVariables) (*domain.AgentResponse, error) {
	endpoint := expandEndpoint(c.createURL, c.baseURL, sessionID)
	return c.post(ctx, "create", endpoint, createRequest{
		Message:            message,
		SessionID:          sessionID,
		PrefilledVariables: vars,
	})
}

func (c *Client) post(ctx context.Context, name, endpoint string, payload any) (*domain.AgentResponse, error) {
	if c.baseURL == "" {
		return nil, ErrNoBackend
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.ObserveBackendCall(name, false, time.Since(start).Seconds())
		return nil, fmt.Errorf("typebot %s: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.ObserveBackendCall(name, false, elapsed.Seconds())
		return nil, fmt.Errorf("typebot %s: read body: %w", name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.ObserveBackendCall(name, false, elapsed.Seconds())
		return nil, &StatusError{Endpoint: name, StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}

	decoded, err := DecodeResponse(data)
	c.metrics.ObserveBackendCall(name, err == nil, elapsed.Seconds())
	if err != nil {
		return nil, fmt.Errorf("typebot %s: %w", name, err)
	}

	c.logger.Debug("typebot call ok",
		"endpoint", name,
		"status", resp.StatusCode,
		"blocks", len(decoded.Messages),
		"latency_ms", elapsed.Milliseconds(),
	)
	return decoded, nil
}

func expandEndpoint(tmpl, baseURL, sessionID string) string {
	if tmpl == "" {
		return baseURL
	}
	return strings.NewReplacer(
		"{baseUrl}", baseURL,
		"{sessionId}", url.PathEscape(sessionID),
	).Replace(tmpl)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
