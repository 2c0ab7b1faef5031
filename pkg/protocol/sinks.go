package protocol

import "context"

// FeedbackSink records evaluator-derived feedback on a trace or span.
type FeedbackSink interface {
	CreateFeedback(ctx context.Context, workspaceID, targetID string, payload map[string]any) error
}

// TagSink attaches tags to a trace or span.
type TagSink interface {
	ApplyTags(ctx context.Context, workspaceID, targetID string, tags []string) error
}

// ExportSink ships execution results to an external store.
type ExportSink interface {
	Export(ctx context.Context, workspaceID, destination string, payload map[string]any) error
}

// StatisticsSink receives per-execution statistics updates. Consumed as an
// opaque collaborator; the engine only reports, it never reads back.
type StatisticsSink interface {
	RecordStatistics(ctx context.Context, ruleID string, executionID string, durationMS int64, succeeded bool) error
}
