package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advisoros/taskqueue/internal/domain"
	"github.com/advisoros/taskqueue/internal/queue"
)

type recordingCompleter struct {
	calls []StepPayload
	err   error
}

func (c *recordingCompleter) CompleteStep(ctx context.Context, executionID uuid.UUID, stepIndex int) error {
	c.calls = append(c.calls, StepPayload{ExecutionID: executionID, StepIndex: stepIndex})
	return c.err
}

func stepItem(t *testing.T, executionID uuid.UUID, stepIndex int) *domain.QueueItem {
	t.Helper()

	payload, err := json.Marshal(StepPayload{ExecutionID: executionID, StepIndex: stepIndex, TaskID: uuid.New()})
	require.NoError(t, err)

	item, err := domain.NewQueueItem("workflows", domain.ItemTypeWorkflowStep, "entity", "workflow_task", uuid.New())
	require.NoError(t, err)
	item.Payload = payload
	return item
}

func succeed(ctx context.Context, item *domain.QueueItem) queue.Result {
	return queue.Result{Success: true}
}

func TestWrapProcessor(t *testing.T) {
	t.Parallel()

	t.Run("completes the step after a successful run", func(t *testing.T) {
		t.Parallel()

		completer := &recordingCompleter{}
		p := WrapProcessor(queue.ProcessorFunc(succeed), completer, testLogger())

		executionID := uuid.New()
		result := p.Process(context.Background(), stepItem(t, executionID, 2))

		assert.True(t, result.Success)
		require.Len(t, completer.calls, 1)
		assert.Equal(t, executionID, completer.calls[0].ExecutionID)
		assert.Equal(t, 2, completer.calls[0].StepIndex)
	})

	t.Run("failure skips completion", func(t *testing.T) {
		t.Parallel()

		completer := &recordingCompleter{}
		p := WrapProcessor(queue.ProcessorFunc(func(ctx context.Context, item *domain.QueueItem) queue.Result {
			return queue.Result{Err: errors.New("boom"), Retry: true}
		}), completer, testLogger())

		result := p.Process(context.Background(), stepItem(t, uuid.New(), 0))

		assert.False(t, result.Success)
		assert.Empty(t, completer.calls)
	})

	t.Run("items without a step payload pass through", func(t *testing.T) {
		t.Parallel()

		completer := &recordingCompleter{}
		p := WrapProcessor(queue.ProcessorFunc(succeed), completer, testLogger())

		item, err := domain.NewQueueItem("notifications", domain.ItemTypeNotification, "x", "invoice", uuid.New())
		require.NoError(t, err)
		item.Payload = json.RawMessage(`{"template":"overdue"}`)

		result := p.Process(context.Background(), item)

		assert.True(t, result.Success)
		assert.Empty(t, completer.calls)
	})

	t.Run("completion failure turns into a retryable failure", func(t *testing.T) {
		t.Parallel()

		completer := &recordingCompleter{err: errors.New("store down")}
		p := WrapProcessor(queue.ProcessorFunc(succeed), completer, testLogger())

		result := p.Process(context.Background(), stepItem(t, uuid.New(), 1))

		assert.False(t, result.Success)
		assert.True(t, result.Retry)
		require.Error(t, result.Err)
	})
}
