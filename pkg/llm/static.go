package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrNoScriptedResponse is returned when a static provider runs out of
// scripted responses.
var ErrNoScriptedResponse = errors.New("no scripted response left")

// StaticProvider replays scripted responses. It backs tests and dry runs
// where a real completion backend is unavailable or undesirable.
type StaticProvider struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     []CompletionRequest
	repeat    bool
}

// NewStaticProvider returns a provider that replays the given responses in
// order, then fails with ErrNoScriptedResponse.
func NewStaticProvider(responses ...string) *StaticProvider {
	return &StaticProvider{responses: responses}
}

// NewRepeatingProvider returns a provider that answers every call with the
// single given response.
func NewRepeatingProvider(response string) *StaticProvider {
	return &StaticProvider{responses: []string{response}, repeat: true}
}

// FailWith queues an error to be returned before the scripted responses.
func (p *StaticProvider) FailWith(err error) *StaticProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, err)

	return p
}

func (p *StaticProvider) Name() string { return "static" }

func (p *StaticProvider) GenerateCompletion(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, req)

	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]

		return nil, err
	}

	if len(p.responses) == 0 {
		return nil, ErrNoScriptedResponse
	}

	content := p.responses[0]
	if !p.repeat {
		p.responses = p.responses[1:]
	}

	return &CompletionResponse{Content: content, Model: req.Model}, nil
}

// Calls returns a copy of every request seen so far.
func (p *StaticProvider) Calls() []CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]CompletionRequest, len(p.calls))
	copy(out, p.calls)

	return out
}
