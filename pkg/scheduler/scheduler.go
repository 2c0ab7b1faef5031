// Package scheduler fires rule executions on cron, interval and one-shot
// schedules. Every schedule kind is driven by a single timer per rule; the
// next fire time is recomputed after each tick from the freshest persisted
// rule definition, so edits take effect on the next cycle.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tracewatch/sentinel/pkg/engine"
	"github.com/tracewatch/sentinel/pkg/eventbus"
	"github.com/tracewatch/sentinel/pkg/events"
	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/persistence"
)

const (
	defaultHealthCheckInterval = 5 * time.Minute
	defaultStallThreshold      = 5 * time.Minute

	// blockedRecheckCeiling caps how long an interval schedule waits before
	// re-checking a closed execution window.
	blockedRecheckCeiling = time.Minute

	// Escalation thresholds: rules failing more than escalationRate of the
	// time after escalationMinExecutions fires are auto-paused.
	escalationMinExecutions = 5
	escalationRate          = 0.8

	triggeredBySystem = "system:scheduler"
)

// Executor runs one rule execution. Satisfied by *engine.Engine.
type Executor interface {
	Execute(ctx context.Context, rule *models.Rule, req engine.Request) (*models.Execution, error)
}

type entry struct {
	ruleID   string
	kind     models.ScheduleKind
	isActive bool
	nextRun  time.Time
	timer    *time.Timer

	executions int
	failures   int

	// dispatched counts fires handed to the engine, updated at reschedule
	// time so maxExecutions applies even while results are pending.
	dispatched int

	// firedAt holds dispatch times inside the trailing rate-limit window.
	firedAt []time.Time
}

// Scheduler owns the in-memory schedule map. All mutations go through its
// mutex; the execution engine never touches entries directly.
type Scheduler struct {
	logger    *slog.Logger
	executor  Executor
	rules     persistence.RuleRepository
	publisher eventbus.EventPublisher

	healthInterval time.Duration
	stallThreshold time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	started bool
	stopped bool

	dispatches sync.WaitGroup
	healthStop chan struct{}
	healthDone chan struct{}
}

// Option configures scheduler timings, mainly for tests.
type Option func(*Scheduler)

func WithHealthCheckInterval(interval time.Duration) Option {
	return func(s *Scheduler) { s.healthInterval = interval }
}

func WithStallThreshold(threshold time.Duration) Option {
	return func(s *Scheduler) { s.stallThreshold = threshold }
}

func NewScheduler(
	logger *slog.Logger,
	executor Executor,
	rules persistence.RuleRepository,
	publisher eventbus.EventPublisher,
	opts ...Option,
) *Scheduler {
	scheduler := &Scheduler{
		logger:         logger.With("component", "scheduler"),
		executor:       executor,
		rules:          rules,
		publisher:      publisher,
		healthInterval: defaultHealthCheckInterval,
		stallThreshold: defaultStallThreshold,
		entries:        make(map[string]*entry),
		healthStop:     make(chan struct{}),
		healthDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(scheduler)
	}

	return scheduler
}

// Start recovers schedules for every eligible persisted rule and begins the
// health check loop. A rule that fails to schedule is logged and skipped, it
// never aborts recovery of the others.
func (s *Scheduler) Start(ctx context.Context) error {
	rules, err := s.rules.ListSchedulable(ctx)
	if err != nil {
		return fmt.Errorf("list schedulable rules: %w", err)
	}

	for _, rule := range rules {
		if err := s.ScheduleRule(rule); err != nil {
			s.logger.Error("Failed to recover schedule", "rule_id", rule.ID, "error", err)
		}
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	go s.healthLoop()

	s.logger.Info("Scheduler started", "scheduled_rules", len(rules))

	return nil
}

// Stop halts every timer and the health loop, then waits for in-flight
// dispatched executions to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()

	if s.stopped {
		s.mu.Unlock()

		return nil
	}

	s.stopped = true
	started := s.started

	for _, item := range s.entries {
		if item.timer != nil {
			item.timer.Stop()
		}
	}

	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	close(s.healthStop)

	if started {
		<-s.healthDone
	}

	done := make(chan struct{})

	go func() {
		s.dispatches.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info("Scheduler stopped")

	return nil
}

// ScheduleRule registers (or replaces) the rule's schedule.
func (s *Scheduler) ScheduleRule(rule *models.Rule) error {
	if !rule.SchedulingEligible() {
		return fmt.Errorf("rule %s is not eligible for scheduling", rule.ID)
	}

	if err := rule.Schedule.Validate(); err != nil {
		return err
	}

	now := time.Now()

	nextRun, err := s.firstFire(rule.Schedule, now)
	if err != nil {
		return err
	}

	if rule.Schedule.Kind == models.ScheduleKindOnce && !nextRun.After(now) {
		s.logger.Warn("One-shot schedule is in the past, firing immediately",
			"rule_id", rule.ID, "execute_at", rule.Schedule.ExecuteAt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}

	if existing, ok := s.entries[rule.ID]; ok && existing.timer != nil {
		existing.timer.Stop()
	}

	item := &entry{
		ruleID:   rule.ID,
		kind:     rule.Schedule.Kind,
		isActive: true,
		nextRun:  nextRun,
	}
	item.timer = time.AfterFunc(time.Until(nextRun), func() { s.fire(rule.ID) })
	s.entries[rule.ID] = item

	s.logger.Info("Rule scheduled",
		"rule_id", rule.ID, "kind", rule.Schedule.Kind, "next_run", nextRun)

	return nil
}

// Unschedule removes the rule's schedule. An execution already dispatched is
// left to finish.
func (s *Scheduler) Unschedule(ruleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(ruleID)
}

// Pause stops the rule's timer but keeps the schedule entry so counters
// survive until resume.
func (s *Scheduler) Pause(ruleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.entries[ruleID]
	if !ok {
		return false
	}

	item.isActive = false

	if item.timer != nil {
		item.timer.Stop()
	}

	s.logger.Info("Rule schedule paused", "rule_id", ruleID)

	return true
}

// Resume re-derives a fresh schedule from the latest persisted rule, so
// edits made while paused apply. Equivalent to unschedule plus schedule.
func (s *Scheduler) Resume(ctx context.Context, ruleID string) error {
	rule, err := s.rules.GetByID(ctx, ruleID)
	if err != nil {
		return err
	}

	s.Unschedule(ruleID)

	return s.ScheduleRule(rule)
}

// IsScheduled reports whether the rule currently has an active schedule
// entry.
func (s *Scheduler) IsScheduled(ruleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.entries[ruleID]

	return ok && item.isActive
}

func (s *Scheduler) firstFire(schedule *models.Schedule, now time.Time) (time.Time, error) {
	switch schedule.Kind {
	case models.ScheduleKindCron:
		return schedule.NextCron(now)
	case models.ScheduleKindInterval:
		delay := schedule.Interval()
		if schedule.StartDelayMS > 0 {
			delay = schedule.StartDelay()
		}

		return now.Add(delay), nil
	case models.ScheduleKindOnce:
		return *schedule.ExecuteAt, nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown kind %q", models.ErrInvalidSchedule, schedule.Kind)
	}
}

func (s *Scheduler) fire(ruleID string) {
	s.mu.Lock()

	item, ok := s.entries[ruleID]
	if !ok || !item.isActive || s.stopped {
		s.mu.Unlock()

		return
	}

	scheduledFor := item.nextRun
	kind := item.kind
	s.mu.Unlock()

	ctx := context.Background()
	logger := s.logger.With("rule_id", ruleID, "kind", kind)

	rule, err := s.rules.GetByID(ctx, ruleID)
	if err != nil {
		logger.Error("Failed to reload rule at fire time, unscheduling", "error", err)
		s.Unschedule(ruleID)

		return
	}

	if !rule.SchedulingEligible() {
		logger.Info("Rule no longer eligible, unscheduling")
		s.Unschedule(ruleID)

		return
	}

	now := time.Now()

	if !rule.Schedule.InWindow(now) {
		logger.Info("Fire outside execution window, skipping", "scheduled_for", scheduledFor)
		s.publish(ctx, ruleID, &events.RuleScheduleSkipped{
			BaseEvent:    events.NewBaseEvent(events.RuleScheduleSkippedEvent, ruleID),
			Reason:       "outside execution window",
			ScheduledFor: scheduledFor,
		})
		s.rescheduleBlocked(rule, now)

		return
	}

	if s.rateLimited(rule, now) {
		logger.Info("Fire exceeds rate limit, skipping",
			"limit_per_minute", rule.ExecutionConfig.RateLimitPerMinute, "scheduled_for", scheduledFor)
		s.publish(ctx, ruleID, &events.RuleScheduleSkipped{
			BaseEvent:    events.NewBaseEvent(events.RuleScheduleSkippedEvent, ruleID),
			Reason:       "rate limit exceeded",
			ScheduledFor: scheduledFor,
		})
		s.rescheduleBlocked(rule, now)

		return
	}

	s.publish(ctx, ruleID, &events.RuleScheduleFired{
		BaseEvent:    events.NewBaseEvent(events.RuleScheduleFiredEvent, ruleID),
		ScheduledFor: scheduledFor,
		FiredAt:      now,
	})

	s.dispatches.Add(1)

	go func() {
		defer s.dispatches.Done()
		s.dispatch(ctx, rule, logger)
	}()

	s.rescheduleAfterFire(rule, now)
}

func (s *Scheduler) dispatch(ctx context.Context, rule *models.Rule, logger *slog.Logger) {
	execution, err := s.executor.Execute(ctx, rule, engine.Request{
		Trigger: models.ExecutionTrigger{
			Type:      models.TriggerTypeSchedule,
			Source:    string(rule.Schedule.Kind),
			Timestamp: time.Now().UTC(),
		},
		TriggeredBy: triggeredBySystem,
	})
	if err != nil {
		logger.Error("Execution dispatch failed", "error", err)
	}

	failed := err != nil
	if execution != nil {
		failed = execution.Status == models.ExecutionStatusFailed ||
			execution.Status == models.ExecutionStatusTimeout
	}

	s.recordOutcome(ctx, rule.ID, failed, logger)
}

func (s *Scheduler) recordOutcome(ctx context.Context, ruleID string, failed bool, logger *slog.Logger) {
	s.mu.Lock()

	item, ok := s.entries[ruleID]
	if !ok {
		s.mu.Unlock()

		return
	}

	item.executions++
	if failed {
		item.failures++
	}

	executions := item.executions
	rate := float64(item.failures) / float64(item.executions)
	s.mu.Unlock()

	if executions > escalationMinExecutions && rate > escalationRate {
		logger.Warn("High failure rate, auto-pausing schedule",
			"executions", executions, "failure_rate", rate)
		s.Pause(ruleID)
		s.publish(ctx, ruleID, &events.SchedulerRulePaused{
			BaseEvent:   events.NewBaseEvent(events.SchedulerRulePausedEvent, ruleID),
			Reason:      "failure rate exceeded threshold",
			FailureRate: rate,
			Executions:  int64(executions),
		})
	}
}

// rateLimited enforces the rule's per-minute fire cap over a trailing
// window. When the fire is admitted its timestamp joins the window.
func (s *Scheduler) rateLimited(rule *models.Rule, now time.Time) bool {
	limit := rule.ExecutionConfig.RateLimitPerMinute
	if limit <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.entries[rule.ID]
	if !ok {
		return false
	}

	cutoff := now.Add(-time.Minute)
	kept := item.firedAt[:0]

	for _, at := range item.firedAt {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	item.firedAt = kept

	if len(item.firedAt) >= limit {
		return true
	}

	item.firedAt = append(item.firedAt, now)

	return false
}

// rescheduleBlocked re-arms the timer after a window-blocked fire. Cron waits
// for its next regular tick; interval schedules re-check sooner.
func (s *Scheduler) rescheduleBlocked(rule *models.Rule, now time.Time) {
	switch rule.Schedule.Kind {
	case models.ScheduleKindCron:
		next, err := rule.Schedule.NextCron(now)
		if err != nil {
			s.logger.Error("Failed to compute next cron run", "rule_id", rule.ID, "error", err)
			s.Unschedule(rule.ID)

			return
		}

		s.rearm(rule.ID, next)
	case models.ScheduleKindInterval:
		recheck := rule.Schedule.Interval()
		if recheck > blockedRecheckCeiling {
			recheck = blockedRecheckCeiling
		}

		s.rearm(rule.ID, now.Add(recheck))
	case models.ScheduleKindOnce:
		// A one-shot fire blocked by its window is spent.
		s.Unschedule(rule.ID)
	}
}

func (s *Scheduler) rescheduleAfterFire(rule *models.Rule, now time.Time) {
	switch rule.Schedule.Kind {
	case models.ScheduleKindCron:
		next, err := rule.Schedule.NextCron(now)
		if err != nil {
			s.logger.Error("Failed to compute next cron run", "rule_id", rule.ID, "error", err)
			s.Unschedule(rule.ID)

			return
		}

		s.rearm(rule.ID, next)
	case models.ScheduleKindInterval:
		if s.intervalExhausted(rule) {
			return
		}

		s.rearm(rule.ID, now.Add(rule.Schedule.Interval()))
	case models.ScheduleKindOnce:
		s.mu.Lock()
		executions := 1

		if item, ok := s.entries[rule.ID]; ok {
			executions = item.executions + 1
		}
		s.mu.Unlock()

		s.Unschedule(rule.ID)
		s.publish(context.Background(), rule.ID, &events.RuleScheduleCompleted{
			BaseEvent:  events.NewBaseEvent(events.RuleScheduleCompletedEvent, rule.ID),
			Reason:     "one-shot schedule fired",
			Executions: int64(executions),
		})
	}
}

// intervalExhausted unschedules the rule once maxExecutions fires have been
// dispatched. Counts dispatched fires, not finished executions.
func (s *Scheduler) intervalExhausted(rule *models.Rule) bool {
	limit := rule.Schedule.MaxExecutions
	if limit <= 0 {
		return false
	}

	s.mu.Lock()

	item, ok := s.entries[rule.ID]
	if !ok {
		s.mu.Unlock()

		return true
	}

	item.dispatched++
	dispatched := item.dispatched
	s.mu.Unlock()

	if dispatched < limit {
		return false
	}

	s.Unschedule(rule.ID)
	s.publish(context.Background(), rule.ID, &events.RuleScheduleCompleted{
		BaseEvent:  events.NewBaseEvent(events.RuleScheduleCompletedEvent, rule.ID),
		Reason:     "max executions reached",
		Executions: int64(dispatched),
	})

	return true
}

func (s *Scheduler) rearm(ruleID string, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.entries[ruleID]
	if !ok || !item.isActive || s.stopped {
		return
	}

	item.nextRun = next
	item.timer = time.AfterFunc(time.Until(next), func() { s.fire(ruleID) })
}

func (s *Scheduler) removeLocked(ruleID string) {
	item, ok := s.entries[ruleID]
	if !ok {
		return
	}

	if item.timer != nil {
		item.timer.Stop()
	}

	delete(s.entries, ruleID)
	s.logger.Info("Rule unscheduled", "rule_id", ruleID)
}

func (s *Scheduler) healthLoop() {
	defer close(s.healthDone)

	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.healthStop:
			return
		case <-ticker.C:
			s.detectStalls()
		}
	}
}

// detectStalls flags active schedules whose next run is long past. Advisory
// only: it alerts, it does not remediate.
func (s *Scheduler) detectStalls() {
	now := time.Now()

	type stall struct {
		ruleID     string
		expectedAt time.Time
	}

	s.mu.Lock()

	var stalls []stall

	for id, item := range s.entries {
		if item.isActive && !item.nextRun.IsZero() && now.Sub(item.nextRun) > s.stallThreshold {
			stalls = append(stalls, stall{ruleID: id, expectedAt: item.nextRun})
		}
	}
	s.mu.Unlock()

	for _, stalled := range stalls {
		s.logger.Warn("Schedule stall detected",
			"rule_id", stalled.ruleID, "expected_at", stalled.expectedAt)
		s.publish(context.Background(), stalled.ruleID, &events.SchedulerStallDetected{
			BaseEvent:  events.NewBaseEvent(events.SchedulerStallDetectedEvent, stalled.ruleID),
			ExpectedAt: stalled.expectedAt,
			OverdueBy:  now.Sub(stalled.expectedAt).Milliseconds(),
		})
	}
}

func (s *Scheduler) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.logger.Error("Failed to publish scheduler event", "event_type", event.GetType(), "error", err)
	}
}
