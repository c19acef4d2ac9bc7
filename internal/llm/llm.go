package llm

import (
	"context"
	"fmt"
	"sort"
)

// Request is a single synchronous generation call.
type Request struct {
	Prompt       string
	SystemPrompt string
	Temperature  float32
}

// Generator is one generation backend.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// UnknownBackendError reports a backend name outside the registry. It
// is a configuration mistake and is never retried.
type UnknownBackendError struct {
	Backend string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown generation backend %q", e.Backend)
}

// GenerationError wraps a provider failure with the backend it came
// from.
type GenerationError struct {
	Backend string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation via %s failed: %v", e.Backend, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Registry is the closed set of generation backends, fixed at
// construction and validated once at startup.
type Registry struct {
	generators map[string]Generator
}

func NewRegistry(generators ...Generator) *Registry {
	m := make(map[string]Generator, len(generators))
	for _, g := range generators {
		m[g.Name()] = g
	}
	return &Registry{generators: m}
}

func (r *Registry) Has(backend string) bool {
	_, ok := r.generators[backend]
	return ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Generate(ctx context.Context, backend string, req Request) (string, error) {
	g, ok := r.generators[backend]
	if !ok {
		return "", &UnknownBackendError{Backend: backend}
	}
	out, err := g.Generate(ctx, req)
	if err != nil {
		return "", &GenerationError{Backend: backend, Err: err}
	}
	return out, nil
}
