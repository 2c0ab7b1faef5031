// Package events defines event types and structures for rule lifecycle
// notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/tracewatch/sentinel/pkg/models"
)

type EventType string

// Kafka topics.
const Topic = "sentinel.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Rule execution lifecycle events.
	RuleExecutionStartedEvent   EventType = "rule.execution.started"
	RuleExecutionCompletedEvent EventType = "rule.execution.completed"
	RuleExecutionFailedEvent    EventType = "rule.execution.failed"
	RuleExecutionCancelledEvent EventType = "rule.execution.cancelled"

	// Schedule lifecycle events.
	RuleScheduleFiredEvent     EventType = "rule.schedule.fired"
	RuleScheduleSkippedEvent   EventType = "rule.schedule.skipped"
	RuleScheduleCompletedEvent EventType = "rule.schedule.completed"

	// Scheduler health events.
	SchedulerRulePausedEvent    EventType = "scheduler.rule.paused"
	SchedulerStallDetectedEvent EventType = "scheduler.stall.detected"

	// Action-originated events.
	NotificationRequestedEvent EventType = "notification.requested"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RuleID    string         `json:"rule_id"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, ruleID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RuleID:    ruleID,
		Metadata:  make(map[string]any),
	}
}

type RuleExecutionStarted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	TriggeredBy string         `json:"triggered_by"`
	InputData   map[string]any `json:"input_data,omitempty"`
	DryRun      bool           `json:"dry_run,omitempty"`
}

func (e RuleExecutionStarted) GetType() EventType {
	return RuleExecutionStartedEvent
}

type RuleExecutionCompleted struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
	DurationMS  int64                  `json:"duration_ms"`
}

func (e RuleExecutionCompleted) GetType() EventType {
	return RuleExecutionCompletedEvent
}

type RuleExecutionFailed struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	Error       *models.ExecutionError `json:"error,omitempty"`
	DurationMS  int64                  `json:"duration_ms"`
}

func (e RuleExecutionFailed) GetType() EventType {
	return RuleExecutionFailedEvent
}

type RuleExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Reason      string `json:"reason,omitempty"`
}

func (e RuleExecutionCancelled) GetType() EventType {
	return RuleExecutionCancelledEvent
}

type RuleScheduleFired struct {
	BaseEvent

	ScheduledFor time.Time `json:"scheduled_for"`
	FiredAt      time.Time `json:"fired_at"`
}

func (e RuleScheduleFired) GetType() EventType {
	return RuleScheduleFiredEvent
}

// RuleScheduleSkipped is published when a fire was suppressed, for example
// outside the configured execution window or over the concurrency cap.
type RuleScheduleSkipped struct {
	BaseEvent

	Reason       string    `json:"reason"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

func (e RuleScheduleSkipped) GetType() EventType {
	return RuleScheduleSkippedEvent
}

// RuleScheduleCompleted is published when a schedule has no further fires,
// for example a one-time schedule that ran or an interval schedule that
// reached its execution cap.
type RuleScheduleCompleted struct {
	BaseEvent

	Reason     string `json:"reason"`
	Executions int64  `json:"executions"`
}

func (e RuleScheduleCompleted) GetType() EventType {
	return RuleScheduleCompletedEvent
}

// SchedulerRulePaused is published when the scheduler escalates a repeatedly
// failing rule to paused.
type SchedulerRulePaused struct {
	BaseEvent

	Reason      string  `json:"reason"`
	FailureRate float64 `json:"failure_rate"`
	Executions  int64   `json:"executions"`
}

func (e SchedulerRulePaused) GetType() EventType {
	return SchedulerRulePausedEvent
}

// SchedulerStallDetected is published by the scheduler health loop when an
// eligible rule has not fired past its expected time.
type SchedulerStallDetected struct {
	BaseEvent

	ExpectedAt time.Time `json:"expected_at"`
	OverdueBy  int64     `json:"overdue_by_ms"`
}

func (e SchedulerStallDetected) GetType() EventType {
	return SchedulerStallDetectedEvent
}

// NotificationRequested is published by the notification action; delivery
// channels consume it off the bus.
type NotificationRequested struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	Channel     string         `json:"channel"`
	Recipients  []string       `json:"recipients,omitempty"`
	Subject     string         `json:"subject,omitempty"`
	Message     string         `json:"message"`
	Payload     map[string]any `json:"payload,omitempty"`
}

func (e NotificationRequested) GetType() EventType {
	return NotificationRequestedEvent
}
