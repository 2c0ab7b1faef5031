package engine

import (
	"context"
	"sync"
)

type trackedExecution struct {
	ruleID string
	cancel context.CancelFunc
}

// executionTracker owns the engine's only shared mutable state: per-rule
// in-flight counters and the cancel handles of running executions.
type executionTracker struct {
	mu      sync.Mutex
	perRule map[string]int
	running map[string]trackedExecution
}

func newExecutionTracker() *executionTracker {
	return &executionTracker{
		perRule: make(map[string]int),
		running: make(map[string]trackedExecution),
	}
}

// acquire claims one in-flight slot for the rule. Excess fires are rejected,
// never queued.
func (t *executionTracker) acquire(ruleID string, limit int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.perRule[ruleID] >= limit {
		return false
	}

	t.perRule[ruleID]++

	return true
}

func (t *executionTracker) register(executionID, ruleID string, cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.running[executionID] = trackedExecution{ruleID: ruleID, cancel: cancel}
}

func (t *executionTracker) release(executionID, ruleID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.running, executionID)

	if t.perRule[ruleID] <= 1 {
		delete(t.perRule, ruleID)
	} else {
		t.perRule[ruleID]--
	}
}

func (t *executionTracker) cancel(executionID string) bool {
	t.mu.Lock()
	tracked, ok := t.running[executionID]
	t.mu.Unlock()

	if ok {
		tracked.cancel()
	}

	return ok
}

func (t *executionTracker) cancelRule(ruleID string) int {
	t.mu.Lock()

	var cancels []context.CancelFunc

	for _, tracked := range t.running {
		if tracked.ruleID == ruleID {
			cancels = append(cancels, tracked.cancel)
		}
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	return len(cancels)
}

func (t *executionTracker) inFlight(ruleID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.perRule[ruleID]
}
