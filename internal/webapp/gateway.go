// Package webapp talks to a spreadsheet-backed web app over plain JSON.
// GET on the endpoint returns the whole snapshot; POST applies one action.
package webapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Veraticus/circdesk/internal/common"
	"github.com/Veraticus/circdesk/internal/model"
	"github.com/Veraticus/circdesk/internal/service"
)

// defaultMaxResponseBytes bounds a response body, snapshots included.
const defaultMaxResponseBytes = 32 << 20

// ErrResponseTooLarge is returned when the web app sends more than
// Config.MaxResponseBytes.
var ErrResponseTooLarge = errors.New("response too large")

// Config configures the web app gateway.
type Config struct {
	URL              string
	Timeout          time.Duration
	RetryAttempts    int
	RetryDelay       time.Duration
	MaxResponseBytes int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          30 * time.Second,
		RetryAttempts:    3,
		RetryDelay:       time.Second,
		MaxResponseBytes: defaultMaxResponseBytes,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: web app URL is required", common.ErrMissingConfig)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("%w: retry attempts cannot be negative", common.ErrInvalidConfig)
	}
	return nil
}

type actionRequest struct {
	Action    model.ActionName `json:"action"`
	Payload   json.RawMessage  `json:"payload"`
	RequestID string           `json:"requestId"`
}

type actionResponse struct {
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

// Gateway implements service.Gateway against the web app endpoint.
type Gateway struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     Config
}

// NewGateway creates a web app gateway.
func NewGateway(config Config, logger *slog.Logger) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = defaultMaxResponseBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		config: config,
		logger: logger,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

func (g *Gateway) retryOptions() service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  g.config.RetryAttempts,
		InitialDelay: g.config.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// LoadAll fetches and decodes the full snapshot.
func (g *Gateway) LoadAll(ctx context.Context) (*model.Snapshot, error) {
	var body []byte
	err := common.WithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.config.URL, nil)
		if err != nil {
			return common.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		body, err = g.do(req)
		return err
	}, g.retryOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to load from web app: %w", err)
	}

	snapshot, err := model.DecodeSnapshot(body)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("Loaded web app data", "books", len(snapshot.Titles), "patrons", len(snapshot.Patrons))
	return snapshot, nil
}

// SendAction posts one action. The request id lets the web app drop replays.
func (g *Gateway) SendAction(ctx context.Context, action model.Action) error {
	jsonBody, err := json.Marshal(actionRequest{
		Action:    action.Name,
		Payload:   action.Payload,
		RequestID: action.ID,
	})
	if err != nil {
		return common.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.URL, bytes.NewReader(jsonBody))
	if err != nil {
		return common.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	// text/plain avoids a CORS preflight on script-hosted endpoints.
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")

	body, err := g.do(req)
	if err != nil {
		return err
	}

	var resp actionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: unreadable response: %w", common.ErrGatewayUnavailable, err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "no reason given"
		}
		return common.Permanent(fmt.Errorf("%w: %s: %s", common.ErrGatewayRejected, action.Name, msg))
	}
	return nil
}

// do executes req and maps the HTTP outcome onto retry semantics.
func (g *Gateway) do(req *http.Request) ([]byte, error) {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, common.Permanent(err)
		}
		return nil, fmt.Errorf("%w: %w", common.ErrGatewayUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, g.config.MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", common.ErrGatewayUnavailable, err)
	}
	if int64(len(body)) > g.config.MaxResponseBytes {
		return nil, common.Permanent(fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, g.config.MaxResponseBytes))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", common.ErrRateLimit, resp.StatusCode)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d: %s", common.ErrGatewayUnavailable, resp.StatusCode, truncate(body))
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, common.Permanent(fmt.Errorf("%w: status %d: %s", common.ErrGatewayRejected, resp.StatusCode, truncate(body)))
	}
	return body, nil
}

func truncate(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
