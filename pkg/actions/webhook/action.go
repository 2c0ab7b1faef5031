// Package webhook provides the HTTP webhook action: it posts a rendered
// payload to an external URL with retry on server errors.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tracewatch/sentinel/pkg/actions"
	"github.com/tracewatch/sentinel/pkg/protocol"
	"github.com/tracewatch/sentinel/pkg/template"
)

const defaultTimeoutSeconds = 30

var (
	// ErrWebhookURLInvalid is returned when the webhook URL is missing.
	ErrWebhookURLInvalid = errors.New("invalid webhook URL")
	// ErrServerError is returned when the endpoint answers with a 5xx status.
	ErrServerError = errors.New("server error during webhook delivery")
)

// Action delivers a rendered payload to a webhook endpoint.
type Action struct {
	ID      string
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration
	Retry   RetryConfig
}

// RetryConfig defines retry behavior for webhook delivery.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// NewAction creates a webhook action from configuration.
func NewAction(config map[string]any) (*Action, error) {
	actionID, _ := config["id"].(string)

	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, fmt.Errorf("missing or invalid 'url' in configuration: %w", ErrWebhookURLInvalid)
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for k, v := range headersMap {
				if strVal, ok := v.(string); ok {
					headers[k] = strVal
				}
			}
		}
	}

	timeout := defaultTimeoutSeconds * time.Second

	if timeoutMS, ok := config["timeout_ms"].(float64); ok && timeoutMS > 0 {
		timeout = time.Duration(timeoutMS) * time.Millisecond
	}

	return &Action{
		ID:      actionID,
		Method:  strings.ToUpper(method),
		URL:     url,
		Headers: headers,
		Body:    body,
		Timeout: timeout,
		Retry:   parseRetryConfig(config["retry"]),
	}, nil
}

func parseRetryConfig(retryConfig any) RetryConfig {
	retry := RetryConfig{Attempts: 1, Delay: 0}

	retryMap, ok := retryConfig.(map[string]any)
	if !ok {
		return retry
	}

	if attempts, ok := retryMap["attempts"].(float64); ok && attempts >= 1 {
		retry.Attempts = int(attempts)
	}

	if delayMS, ok := retryMap["delay_ms"].(float64); ok && delayMS >= 0 {
		retry.Delay = time.Duration(delayMS) * time.Millisecond
	}

	return retry
}

// Execute delivers the webhook with retry on transport failures and 5xx
// responses.
func (a *Action) Execute(ctx context.Context, execCtx protocol.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "webhook_action", "action_id", a.ID)
	logger.InfoContext(ctx, "Delivering webhook", "url", a.URL)

	data := actions.TemplateData(execCtx)
	client := &http.Client{Timeout: a.Timeout}

	var (
		lastErr error
		resp    *http.Response
	)

	for attempt := 1; attempt <= a.Retry.Attempts; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, "Webhook retry attempt", "attempt", attempt, "max", a.Retry.Attempts)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.Retry.Delay):
			}
		}

		req, err := a.buildRequest(ctx, data)
		if err != nil {
			return nil, err
		}

		resp, err = client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("webhook request failed: %w", err)
			resp = nil

			continue
		}

		if resp.StatusCode >= 500 && attempt < a.Retry.Attempts {
			_ = resp.Body.Close()

			lastErr = fmt.Errorf("server error (status %d), retrying: %w", resp.StatusCode, ErrServerError)
			resp = nil

			continue
		}

		break
	}

	if resp == nil {
		return nil, fmt.Errorf("all retry attempts failed, last error: %w", lastErr)
	}

	return a.processResponse(resp)
}

func (a *Action) buildRequest(ctx context.Context, data map[string]any) (*http.Request, error) {
	var bodyReader io.Reader
	if a.Body != "" {
		bodyReader = strings.NewReader(template.SubstitutePaths(a.Body, data))
	}

	url := template.SubstitutePaths(a.URL, data)

	req, err := http.NewRequestWithContext(ctx, a.Method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}

	for key, value := range a.Headers {
		req.Header.Set(key, template.SubstitutePaths(value, data))
	}

	if a.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

func (a *Action) processResponse(resp *http.Response) (any, error) {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(body),
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return result, nil
}
