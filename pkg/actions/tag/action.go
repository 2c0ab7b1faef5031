// Package tag provides the auto-tagging action: it resolves a target id from
// the input data and applies rendered tags through a TagSink.
package tag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tracewatch/sentinel/pkg/actions"
	"github.com/tracewatch/sentinel/pkg/fieldpath"
	"github.com/tracewatch/sentinel/pkg/protocol"
	"github.com/tracewatch/sentinel/pkg/template"
)

const defaultTargetPath = "trace.id"

var (
	// ErrTagsRequired is returned when no tags are configured.
	ErrTagsRequired = errors.New("at least one tag is required")
	// ErrTargetUnresolved is returned when the target path resolves to nothing.
	ErrTargetUnresolved = errors.New("tag target could not be resolved from input data")
)

// Action applies tags to the trace or span the rule evaluated.
type Action struct {
	ID         string
	TargetPath string
	Tags       []string

	sink protocol.TagSink
}

func NewAction(config map[string]any, sink protocol.TagSink) (*Action, error) {
	actionID, _ := config["id"].(string)

	var tags []string

	if tagsConfig, ok := config["tags"].([]any); ok {
		for _, tag := range tagsConfig {
			if s, ok := tag.(string); ok && s != "" {
				tags = append(tags, s)
			}
		}
	}

	if len(tags) == 0 {
		return nil, ErrTagsRequired
	}

	targetPath, _ := config["target_path"].(string)
	if targetPath == "" {
		targetPath = defaultTargetPath
	}

	return &Action{
		ID:         actionID,
		TargetPath: targetPath,
		Tags:       tags,
		sink:       sink,
	}, nil
}

// Execute resolves the target and applies the rendered tags.
func (a *Action) Execute(ctx context.Context, execCtx protocol.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "tag_action", "action_id", a.ID)

	target, ok := fieldpath.Lookup(execCtx.InputData, a.TargetPath)
	if !ok {
		return nil, fmt.Errorf("%w: path %q", ErrTargetUnresolved, a.TargetPath)
	}

	targetID, ok := target.(string)
	if !ok || targetID == "" {
		return nil, fmt.Errorf("%w: path %q is not a string id", ErrTargetUnresolved, a.TargetPath)
	}

	data := actions.TemplateData(execCtx)

	rendered := make([]string, len(a.Tags))
	for i, tag := range a.Tags {
		rendered[i] = template.SubstitutePaths(tag, data)
	}

	if err := a.sink.ApplyTags(ctx, execCtx.WorkspaceID, targetID, rendered); err != nil {
		return nil, fmt.Errorf("failed to apply tags: %w", err)
	}

	logger.InfoContext(ctx, "Tags applied", "target", targetID, "tags", rendered)

	return map[string]any{"target": targetID, "tags": rendered}, nil
}
