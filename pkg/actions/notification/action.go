// Package notification provides the notification action: it publishes a
// rendered notification request onto the event bus for delivery channels to
// consume.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tracewatch/sentinel/pkg/actions"
	"github.com/tracewatch/sentinel/pkg/eventbus"
	"github.com/tracewatch/sentinel/pkg/events"
	"github.com/tracewatch/sentinel/pkg/protocol"
	"github.com/tracewatch/sentinel/pkg/template"
)

// ErrMessageRequired is returned when the notification has no message.
var ErrMessageRequired = errors.New("notification message is required")

// Action requests a notification delivery over the event bus.
type Action struct {
	ID         string
	Channel    string
	Recipients []string
	Subject    string
	Message    string

	publisher eventbus.EventPublisher
}

func NewAction(config map[string]any, publisher eventbus.EventPublisher) (*Action, error) {
	actionID, _ := config["id"].(string)

	message, _ := config["message"].(string)
	if message == "" {
		return nil, ErrMessageRequired
	}

	channel, _ := config["channel"].(string)
	if channel == "" {
		channel = "default"
	}

	subject, _ := config["subject"].(string)

	var recipients []string

	if recipientsConfig, ok := config["recipients"].([]any); ok {
		for _, r := range recipientsConfig {
			if s, ok := r.(string); ok {
				recipients = append(recipients, s)
			}
		}
	}

	return &Action{
		ID:         actionID,
		Channel:    channel,
		Recipients: recipients,
		Subject:    subject,
		Message:    message,
		publisher:  publisher,
	}, nil
}

// Execute renders the message and publishes a NotificationRequested event.
func (a *Action) Execute(ctx context.Context, execCtx protocol.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "notification_action", "action_id", a.ID, "channel", a.Channel)

	data := actions.TemplateData(execCtx)

	event := events.NotificationRequested{
		BaseEvent:   events.NewBaseEvent(events.NotificationRequestedEvent, execCtx.RuleID),
		ExecutionID: execCtx.ExecutionID,
		Channel:     a.Channel,
		Recipients:  a.Recipients,
		Subject:     template.SubstitutePaths(a.Subject, data),
		Message:     template.SubstitutePaths(a.Message, data),
		Payload:     execCtx.ResultValues(),
	}

	if err := a.publisher.Publish(ctx, execCtx.RuleID, event); err != nil {
		return nil, fmt.Errorf("failed to publish notification request: %w", err)
	}

	logger.InfoContext(ctx, "Notification requested", "recipients", len(a.Recipients))

	return map[string]any{
		"channel":    a.Channel,
		"recipients": len(a.Recipients),
	}, nil
}
