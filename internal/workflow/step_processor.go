package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/advisoros/taskqueue/internal/domain"
	"github.com/advisoros/taskqueue/internal/queue"
)

// StepCompleter records a workflow step as completed and promotes its
// dependents. *Resolver satisfies it.
type StepCompleter interface {
	CompleteStep(ctx context.Context, executionID uuid.UUID, stepIndex int) error
}

var _ StepCompleter = (*Resolver)(nil)

// WrapProcessor decorates a processor so that successfully processed items
// carrying a step payload also complete their workflow step. Items without a
// step payload pass through untouched, so the same processor can serve both
// workflow and standalone items.
//
// Completion failures are reported as retryable: the inner processor must be
// idempotent anyway, and re-running the item retries the promotion.
func WrapProcessor(inner queue.Processor, completer StepCompleter, log *slog.Logger) queue.Processor {
	if inner == nil {
		panic("inner processor cannot be nil")
	}
	if completer == nil {
		panic("completer cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "step_processor"))

	return queue.ProcessorFunc(func(ctx context.Context, item *domain.QueueItem) queue.Result {
		result := inner.Process(ctx, item)
		if !result.Success {
			return result
		}

		var payload StepPayload
		if len(item.Payload) == 0 || json.Unmarshal(item.Payload, &payload) != nil ||
			payload.ExecutionID == uuid.Nil {
			return result
		}

		if err := completer.CompleteStep(ctx, payload.ExecutionID, payload.StepIndex); err != nil {
			log.Error("failed to complete workflow step",
				slog.String("error", err.Error()),
				slog.String("execution_id", payload.ExecutionID.String()),
				slog.Int("step_index", payload.StepIndex))
			return queue.Result{
				Err:   fmt.Errorf("step %d processed but completion failed: %w", payload.StepIndex, err),
				Retry: true,
			}
		}

		log.Debug("workflow step completed",
			slog.String("execution_id", payload.ExecutionID.String()),
			slog.Int("step_index", payload.StepIndex))
		return result
	})
}
