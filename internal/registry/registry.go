// Package registry maps strategy slugs to implementations and loads the
// operator-edited strategy records.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/strategy"
)

// UnknownStrategyError is returned when a slug has no registered
// implementation.
type UnknownStrategyError struct {
	Kind model.StrategyKind
	Slug string
}

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("unknown %s strategy %q", e.Kind, e.Slug)
}

// IsUnknownStrategy reports whether err wraps an UnknownStrategyError.
func IsUnknownStrategy(err error) bool {
	var u *UnknownStrategyError
	return errors.As(err, &u)
}

// Registry resolves slugs of one strategy kind.
type Registry[T any] struct {
	kind model.StrategyKind
	mu   sync.RWMutex
	impl map[string]T
}

// New creates an empty registry for kind.
func New[T any](kind model.StrategyKind) *Registry[T] {
	return &Registry[T]{kind: kind, impl: make(map[string]T)}
}

// Register binds slug to impl. A second registration replaces the first.
func (r *Registry[T]) Register(slug string, impl T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.impl[slug]; ok {
		zap.L().Warn("registry: overwriting strategy",
			zap.String("kind", string(r.kind)),
			zap.String("slug", slug),
		)
	}
	r.impl[slug] = impl
}

// Resolve returns the implementation for slug.
func (r *Registry[T]) Resolve(slug string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.impl[slug]
	if !ok {
		var zero T
		return zero, &UnknownStrategyError{Kind: r.kind, Slug: slug}
	}
	return impl, nil
}

// List returns the registered slugs in sorted order.
func (r *Registry[T]) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.impl))
	for slug := range r.impl {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// Set groups the registries of every strategy kind.
type Set struct {
	Classifiers  *Registry[strategy.Classifier]
	FactCheckers *Registry[strategy.FactChecker]
	NoteWriters  *Registry[strategy.NoteWriter]
}

// NewSet creates empty registries for every kind.
func NewSet() *Set {
	return &Set{
		Classifiers:  New[strategy.Classifier](model.StrategyKindClassifier),
		FactCheckers: New[strategy.FactChecker](model.StrategyKindFactChecker),
		NoteWriters:  New[strategy.NoteWriter](model.StrategyKindNoteWriter),
	}
}

// Register binds impl under kind. impl must implement the kind's interface.
func (s *Set) Register(kind model.StrategyKind, slug string, impl any) error {
	switch kind {
	case model.StrategyKindClassifier:
		c, ok := impl.(strategy.Classifier)
		if !ok {
			return eris.Errorf("registry: %s does not implement a classifier", slug)
		}
		s.Classifiers.Register(slug, c)
	case model.StrategyKindFactChecker:
		f, ok := impl.(strategy.FactChecker)
		if !ok {
			return eris.Errorf("registry: %s does not implement a fact checker", slug)
		}
		s.FactCheckers.Register(slug, f)
	case model.StrategyKindNoteWriter:
		w, ok := impl.(strategy.NoteWriter)
		if !ok {
			return eris.Errorf("registry: %s does not implement a note writer", slug)
		}
		s.NoteWriters.Register(slug, w)
	default:
		return eris.Errorf("registry: unknown strategy kind %q", kind)
	}
	return nil
}

// List returns the registered slugs of kind.
func (s *Set) List(kind model.StrategyKind) []string {
	switch kind {
	case model.StrategyKindClassifier:
		return s.Classifiers.List()
	case model.StrategyKindFactChecker:
		return s.FactCheckers.List()
	case model.StrategyKindNoteWriter:
		return s.NoteWriters.List()
	}
	return nil
}
