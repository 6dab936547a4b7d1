// Package queue implements the durable task queue engine: enqueueing,
// lease-based dequeueing, registry dispatch, bounded retry with backoff, and
// the background sweeps that reclaim expired leases and promote due retries.
//
// Delivery is at-least-once. A worker crash or an overrun lease can hand the
// same item to a second worker, so processors must tolerate re-execution.
// Processors expected to outlive the lease duration must call
// Dequeuer.ExtendLease periodically.
package queue

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/advisoros/taskqueue/internal/domain"
)

// Result is what a processor reports back for one invocation.
type Result struct {
	// Success marks the item completed; Payload, if set, is stored as the
	// item's result.
	Success bool

	// Payload is the handler-specific outcome stored on the item.
	Payload json.RawMessage

	// Err describes the failure when Success is false.
	Err error

	// Retry requests another attempt. It is only honored while the item has
	// attempts left; otherwise the failure is permanent.
	Retry bool
}

// Processor executes one leased queue item. The engine does not interpret the
// item's payload; it only records the outcome the processor reports.
//
// Processors must be idempotent: under lease expiry or worker crash the same
// item can be processed more than once.
type Processor interface {
	Process(ctx context.Context, item *domain.QueueItem) Result
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(ctx context.Context, item *domain.QueueItem) Result

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, item *domain.QueueItem) Result {
	return f(ctx, item)
}

// Registry maps item types to their processors. Dispatch goes through the
// registry rather than a conditional chain, so new item types are additive.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Processor
}

// NewRegistry creates an empty processor registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Processor),
	}
}

// Register installs the processor for an item type, replacing any previous
// registration for that type.
func (r *Registry) Register(itemType string, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[itemType] = p
}

// Get returns the processor registered for the item type.
func (r *Registry) Get(itemType string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.handlers[itemType]
	return p, ok
}

// Types returns the registered item types. Primarily for logging at startup.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
