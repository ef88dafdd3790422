// Package handlers holds the per-kind task processors run by the worker.
package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/domain"
)

// Handler processes one kind of task and returns the result payload to
// deliver back to the user. A TaskFailedError (wrapped as permanent) means
// the task itself failed and should produce a FAILURE result; any other
// error is a processing fault worth retrying.
type Handler interface {
	Handle(ctx context.Context, task *domain.Task) (json.RawMessage, error)
	Kind() domain.TaskKind
}

// Registry maps task kinds to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.TaskKind]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.TaskKind]Handler)}
}

// Register adds a handler. Safe to call concurrently.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Kind()] = h
}

// Get returns the handler for the given kind.
// Returns UnknownKindError if not registered.
func (r *Registry) Get(kind domain.TaskKind) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	if !ok {
		return nil, &domain.UnknownKindError{Kind: string(kind)}
	}
	return h, nil
}
