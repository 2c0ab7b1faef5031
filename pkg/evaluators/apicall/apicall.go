// Package apicall implements the HTTP API-call evaluator: it renders a
// request from input data, calls an external endpoint and extracts a value
// from the JSON response.
package apicall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tracewatch/sentinel/pkg/fieldpath"
	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/protocol"
	"github.com/tracewatch/sentinel/pkg/template"
)

const defaultTimeout = 30 * time.Second

// responseSizeLimit bounds how much of an external response is read.
const responseSizeLimit = 10 * 1024 * 1024

var ErrConfigInvalid = errors.New("invalid api_call configuration")

// Config is the api_call evaluator configuration. URL, headers and body
// support {dotted.path} substitution against the execution input data.
type Config struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`

	// ValuePath selects a dotted path of the JSON response as the
	// evaluator value. Empty keeps the whole decoded response.
	ValuePath string `json:"value_path,omitempty"`

	TimeoutMS int64 `json:"timeout_ms,omitempty"`
}

// Caller performs the configured HTTP call as an evaluator.
type Caller struct {
	config *Config
	client *http.Client
}

func NewCaller(config map[string]any) (*Caller, error) {
	var cfg Config

	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrConfigInvalid)
	}

	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}

	cfg.Method = strings.ToUpper(cfg.Method)

	timeout := defaultTimeout
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}

	return &Caller{
		config: &cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Run performs the call. Transport and HTTP-level failures become a failed
// result, not a Go error.
func (c *Caller) Run(ctx context.Context, execCtx protocol.ExecutionContext, logger *slog.Logger) (*models.EvaluatorResult, error) {
	logger = logger.With("module", "api_call", "evaluator_id", c.config.ID)

	result := &models.EvaluatorResult{
		EvaluatorID: c.config.ID,
		Name:        c.config.Name,
		StartedAt:   time.Now().UTC(),
	}
	defer finish(result)

	req, err := c.buildRequest(ctx, execCtx.InputData)
	if err != nil {
		fail(result, err)

		return result, nil
	}

	logger.Debug("calling external endpoint", "method", req.Method, "url", req.URL.String())

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			fail(result, fmt.Errorf("timeout: %w", err))
		} else {
			fail(result, fmt.Errorf("request failed: %w", err))
		}

		return result, nil
	}

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseSizeLimit))
	if err != nil {
		fail(result, fmt.Errorf("read response: %w", err))

		return result, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fail(result, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200)))

		return result, nil
	}

	c.extractValue(body, result)

	return result, nil
}

func (c *Caller) buildRequest(ctx context.Context, input map[string]any) (*http.Request, error) {
	url := template.SubstitutePaths(c.config.URL, input)

	var bodyReader io.Reader
	if c.config.Body != "" {
		bodyReader = strings.NewReader(template.SubstitutePaths(c.config.Body, input))
	}

	req, err := http.NewRequestWithContext(ctx, c.config.Method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	for key, value := range c.config.Headers {
		req.Header.Set(key, template.SubstitutePaths(value, input))
	}

	if c.config.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// extractValue decodes the JSON response and resolves the configured value
// path. Non-JSON responses are kept as raw text.
func (c *Caller) extractValue(body []byte, result *models.EvaluatorResult) {
	var decoded any

	if err := json.Unmarshal(body, &decoded); err != nil {
		if c.config.ValuePath != "" {
			fail(result, fmt.Errorf("response is not JSON, cannot resolve value_path %q", c.config.ValuePath))

			return
		}

		result.Status = models.ComponentStatusCompleted
		result.Value = strings.TrimSpace(string(body))

		return
	}

	if c.config.ValuePath == "" {
		result.Status = models.ComponentStatusCompleted
		result.Value = decoded

		return
	}

	value, ok := fieldpath.Lookup(decoded, c.config.ValuePath)
	if !ok {
		fail(result, fmt.Errorf("value_path %q not found in response", c.config.ValuePath))

		return
	}

	result.Status = models.ComponentStatusCompleted
	result.Value = value
}

func isClientTimeout(err error) bool {
	var netErr interface{ Timeout() bool }

	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	return s[:limit] + "..."
}

func fail(result *models.EvaluatorResult, err error) {
	result.Status = models.ComponentStatusFailed
	result.Error = err.Error()
}

func finish(result *models.EvaluatorResult) {
	result.CompletedAt = time.Now().UTC()
	result.DurationMS = result.CompletedAt.Sub(result.StartedAt).Milliseconds()
}
