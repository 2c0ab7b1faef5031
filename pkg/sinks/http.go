// Package sinks provides backend clients for the side effects evaluator and
// action runners produce: feedback, tags, exports and statistics. The HTTP
// sink talks to the trace store's REST API.
package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// HTTPSink posts feedback, tags, exports and statistics to a trace store
// over its REST API. It implements all four protocol sink interfaces.
type HTTPSink struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPSink creates a sink for the trace store at baseURL. The API key is
// optional; when set it is sent as a bearer token.
func NewHTTPSink(logger *slog.Logger, baseURL, apiKey string) *HTTPSink {
	return &HTTPSink{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger.With("component", "http_sink"),
	}
}

// CreateFeedback records evaluator-derived feedback on a trace or span.
func (s *HTTPSink) CreateFeedback(ctx context.Context, workspaceID, targetID string, payload map[string]any) error {
	body := map[string]any{
		"target_id": targetID,
		"payload":   payload,
	}

	return s.post(ctx, fmt.Sprintf("/workspaces/%s/feedback", workspaceID), body)
}

// ApplyTags attaches tags to a trace or span.
func (s *HTTPSink) ApplyTags(ctx context.Context, workspaceID, targetID string, tags []string) error {
	body := map[string]any{
		"target_id": targetID,
		"tags":      tags,
	}

	return s.post(ctx, fmt.Sprintf("/workspaces/%s/tags", workspaceID), body)
}

// Export ships execution results to the named destination.
func (s *HTTPSink) Export(ctx context.Context, workspaceID, destination string, payload map[string]any) error {
	body := map[string]any{
		"destination": destination,
		"payload":     payload,
	}

	return s.post(ctx, fmt.Sprintf("/workspaces/%s/exports", workspaceID), body)
}

// RecordStatistics reports one finished execution.
func (s *HTTPSink) RecordStatistics(ctx context.Context, ruleID, executionID string, durationMS int64, succeeded bool) error {
	body := map[string]any{
		"rule_id":      ruleID,
		"execution_id": executionID,
		"duration_ms":  durationMS,
		"succeeded":    succeeded,
	}

	return s.post(ctx, "/statistics", body)
}

func (s *HTTPSink) post(ctx context.Context, path string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode sink payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build sink request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sink request failed: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sink endpoint %s answered %d", path, resp.StatusCode)
	}

	s.logger.Debug("sink call delivered", "path", path, "status", resp.StatusCode)

	return nil
}
