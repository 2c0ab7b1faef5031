// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tracewatch/sentinel/pkg/actions/export"
	"github.com/tracewatch/sentinel/pkg/actions/feedback"
	"github.com/tracewatch/sentinel/pkg/actions/logaction"
	"github.com/tracewatch/sentinel/pkg/actions/notification"
	"github.com/tracewatch/sentinel/pkg/actions/tag"
	"github.com/tracewatch/sentinel/pkg/actions/webhook"
	"github.com/tracewatch/sentinel/pkg/evaluators/apicall"
	"github.com/tracewatch/sentinel/pkg/evaluators/llmjudge"
	"github.com/tracewatch/sentinel/pkg/evaluators/scriptmetric"
	"github.com/tracewatch/sentinel/pkg/eventbus"
	"github.com/tracewatch/sentinel/pkg/llm"
	"github.com/tracewatch/sentinel/pkg/registry"
	"github.com/tracewatch/sentinel/pkg/sandbox"
	"github.com/tracewatch/sentinel/pkg/sinks"
)

// RegistryDeps carries the collaborators the built-in component factories
// are bound to.
type RegistryDeps struct {
	LLMProvider llm.Provider
	Sandbox     *sandbox.Runner
	Publisher   eventbus.EventPublisher
	Sink        *sinks.HTTPSink
}

// NewRegistry builds a registry with every built-in evaluator and action
// factory registered.
func NewRegistry(logger *slog.Logger, deps RegistryDeps) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.RegisterEvaluator(llmjudge.NewFactory(deps.LLMProvider))
	reg.RegisterEvaluator(scriptmetric.NewFactory(deps.Sandbox))
	reg.RegisterEvaluator(apicall.NewFactory())

	reg.RegisterAction(logaction.NewFactory())
	reg.RegisterAction(webhook.NewFactory())
	reg.RegisterAction(notification.NewFactory(deps.Publisher))
	reg.RegisterAction(feedback.NewFactory(deps.Sink))
	reg.RegisterAction(tag.NewFactory(deps.Sink))
	reg.RegisterAction(export.NewFactory(deps.Sink))

	return reg
}

// NewLLMProviderFromEnv builds the completion provider configured by the
// LLM_BACKEND, LLM_MODEL, LLM_API_KEY and LLM_SERVER_URL environment
// variables. An unset backend yields a static provider so deployments
// without judge rules need no credentials.
func NewLLMProviderFromEnv(logger *slog.Logger) (llm.Provider, error) {
	backend := os.Getenv("LLM_BACKEND")
	if backend == "" {
		logger.Warn("LLM_BACKEND not set, llm_judge evaluators will fail with a scripted error")

		return llm.NewRepeatingProvider(`{"error": "no completion backend configured"}`), nil
	}

	provider, err := llm.NewLangchainProvider(llm.Config{
		Backend:   llm.Backend(backend),
		Model:     os.Getenv("LLM_MODEL"),
		APIKey:    os.Getenv("LLM_API_KEY"),
		ServerURL: os.Getenv("LLM_SERVER_URL"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create llm provider: %w", err)
	}

	return provider, nil
}
