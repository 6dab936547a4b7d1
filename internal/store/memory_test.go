package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advisoros/taskqueue/internal/domain"
)

var memBase = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newPendingItem(t *testing.T, s *MemoryQueueItemStore) *domain.QueueItem {
	t.Helper()

	item, err := domain.NewQueueItem("default", "notification", uuid.NewString(), "notification", uuid.New())
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), item))
	return item
}

func TestMemoryQueueItemStoreCreate(t *testing.T) {
	t.Parallel()

	t.Run("rejects invalid items", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryQueueItemStore()
		err := s.Create(context.Background(), &domain.QueueItem{ID: uuid.New()})
		assert.Error(t, err)
	})

	t.Run("rejects duplicate IDs", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryQueueItemStore()
		item := newPendingItem(t, s)
		assert.ErrorIs(t, s.Create(context.Background(), item), ErrDuplicate)
	})

	t.Run("stored item is a copy", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryQueueItemStore()
		item := newPendingItem(t, s)
		item.Priority = 99

		stored, err := s.GetByID(context.Background(), item.ID)
		require.NoError(t, err)
		assert.Zero(t, stored.Priority)
	})
}

func TestMemoryAcquireLeases(t *testing.T) {
	t.Parallel()

	t.Run("only one of many racing callers wins each item", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryQueueItemStore()
		item := newPendingItem(t, s)

		const callers = 16
		var wg sync.WaitGroup
		winners := make(chan uuid.UUID, callers)

		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				lockID := uuid.New()
				won, err := s.AcquireLeases(
					context.Background(),
					[]uuid.UUID{item.ID},
					lockID, memBase, time.Minute)
				require.NoError(t, err)
				if len(won) == 1 {
					winners <- lockID
				}
			}()
		}
		wg.Wait()
		close(winners)

		var winning []uuid.UUID
		for id := range winners {
			winning = append(winning, id)
		}
		require.Len(t, winning, 1)

		reloaded, err := s.GetByID(context.Background(), item.ID)
		require.NoError(t, err)
		require.NotNil(t, reloaded.ProcessingLockID)
		assert.Equal(t, winning[0], *reloaded.ProcessingLockID)
		assert.Equal(t, 1, reloaded.Attempts)
	})

	t.Run("skips unknown and already leased candidates", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryQueueItemStore()
		leased := newPendingItem(t, s)
		free := newPendingItem(t, s)

		_, err := s.AcquireLeases(context.Background(),
			[]uuid.UUID{leased.ID}, uuid.New(), memBase, time.Minute)
		require.NoError(t, err)

		won, err := s.AcquireLeases(context.Background(),
			[]uuid.UUID{leased.ID, free.ID, uuid.New()}, uuid.New(), memBase, time.Minute)
		require.NoError(t, err)
		require.Len(t, won, 1)
		assert.Equal(t, free.ID, won[0].ID)
	})

	t.Run("stale candidate cannot exceed the attempt budget", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryQueueItemStore()
		ctx := context.Background()

		item, err := domain.NewQueueItem("default", "notification", uuid.NewString(), "notification", uuid.New())
		require.NoError(t, err)
		item.MaxAttempts = 1
		require.NoError(t, s.Create(ctx, item))

		// A candidate list selected before this sequence is now stale:
		// another worker leases the item, crashes, and the reaper returns
		// it to pending with its attempt budget spent.
		won, err := s.AcquireLeases(ctx, []uuid.UUID{item.ID}, uuid.New(), memBase, time.Minute)
		require.NoError(t, err)
		require.Len(t, won, 1)

		reaped, err := s.ResetExpiredLeases(ctx, memBase.Add(2*time.Minute))
		require.NoError(t, err)
		require.Equal(t, 1, reaped)

		won, err = s.AcquireLeases(ctx,
			[]uuid.UUID{item.ID}, uuid.New(), memBase.Add(3*time.Minute), time.Minute)
		require.NoError(t, err)
		assert.Empty(t, won)

		reloaded, err := s.GetByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, reloaded.Attempts)
		assert.LessOrEqual(t, reloaded.Attempts, reloaded.MaxAttempts)
	})
}

func TestMemoryConditionalTransitions(t *testing.T) {
	t.Parallel()

	lease := func(t *testing.T, s *MemoryQueueItemStore, id uuid.UUID) uuid.UUID {
		t.Helper()
		lockID := uuid.New()
		won, err := s.AcquireLeases(context.Background(), []uuid.UUID{id}, lockID, memBase, time.Minute)
		require.NoError(t, err)
		require.Len(t, won, 1)
		return lockID
	}

	t.Run("marks require processing status", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryQueueItemStore()
		item := newPendingItem(t, s)
		ctx := context.Background()

		assert.ErrorIs(t, s.MarkCompleted(ctx, item.ID, nil, memBase), ErrUpdateFailed)
		assert.ErrorIs(t, s.MarkFailedRetryable(ctx, item.ID, "e", memBase), ErrUpdateFailed)
		assert.ErrorIs(t, s.MarkFailedPermanent(ctx, item.ID, "e", memBase), ErrUpdateFailed)
	})

	t.Run("completed is terminal", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryQueueItemStore()
		item := newPendingItem(t, s)
		ctx := context.Background()
		lease(t, s, item.ID)

		require.NoError(t, s.MarkCompleted(ctx, item.ID, nil, memBase))
		assert.ErrorIs(t, s.MarkFailedPermanent(ctx, item.ID, "e", memBase), ErrUpdateFailed)
		assert.ErrorIs(t, s.Cancel(ctx, item.ID, memBase), ErrUpdateFailed)
	})

	t.Run("permanent failure clears next_retry_at", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryQueueItemStore()
		item := newPendingItem(t, s)
		ctx := context.Background()
		lease(t, s, item.ID)

		require.NoError(t, s.MarkFailedPermanent(ctx, item.ID, "fatal", memBase))

		reloaded, err := s.GetByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Nil(t, reloaded.NextRetryAt)
		assert.Nil(t, reloaded.ProcessingLockID)
		require.NotNil(t, reloaded.FailedAt)
	})

	t.Run("cancel only from pending", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryQueueItemStore()
		pending := newPendingItem(t, s)
		processing := newPendingItem(t, s)
		ctx := context.Background()
		lease(t, s, processing.ID)

		require.NoError(t, s.Cancel(ctx, pending.ID, memBase))
		assert.ErrorIs(t, s.Cancel(ctx, processing.ID, memBase), ErrUpdateFailed)

		reloaded, err := s.GetByID(ctx, pending.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.QueueItemStatusCancelled, reloaded.Status)
	})

	t.Run("unknown item is not found", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryQueueItemStore()
		ctx := context.Background()

		_, err := s.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrItemNotFound)
		assert.ErrorIs(t, s.MarkCompleted(ctx, uuid.New(), nil, memBase), ErrItemNotFound)
		assert.ErrorIs(t, s.ExtendLease(ctx, uuid.New(), uuid.New(), memBase), ErrItemNotFound)
	})
}

func TestMemoryCountByStatus(t *testing.T) {
	t.Parallel()

	s := NewMemoryQueueItemStore()
	ctx := context.Background()

	orgA := uuid.New()
	for i := 0; i < 3; i++ {
		item, err := domain.NewQueueItem("reports", "report_generation", uuid.NewString(), "report", orgA)
		require.NoError(t, err)
		require.NoError(t, s.Create(ctx, item))
	}
	other, err := domain.NewQueueItem("reports", "report_generation", uuid.NewString(), "report", uuid.New())
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, other))

	scoped, err := s.CountByStatus(ctx, orgA, "reports")
	require.NoError(t, err)
	assert.Equal(t, 3, scoped.Total)
	assert.Equal(t, 3, scoped.Counts[domain.QueueItemStatusPending])

	global, err := s.CountByStatus(ctx, uuid.Nil, "")
	require.NoError(t, err)
	assert.Equal(t, 4, global.Total)
}

func TestMemoryWorkflowTaskStore(t *testing.T) {
	t.Parallel()

	newTask := func(t *testing.T, executionID uuid.UUID, stepIndex int, requires []int) *domain.WorkflowTask {
		t.Helper()
		task, err := domain.NewWorkflowTask(executionID, uuid.New(), stepIndex, "", "workflow_step", requires)
		require.NoError(t, err)
		return task
	}

	t.Run("list by execution orders by step index", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryWorkflowTaskStore()
		ctx := context.Background()
		executionID := uuid.New()

		for _, idx := range []int{2, 0, 1} {
			require.NoError(t, s.Create(ctx, newTask(t, executionID, idx, nil)))
		}
		require.NoError(t, s.Create(ctx, newTask(t, uuid.New(), 0, nil)))

		tasks, err := s.ListByExecution(ctx, executionID)
		require.NoError(t, err)
		require.Len(t, tasks, 3)
		for i, task := range tasks {
			assert.Equal(t, i, task.StepIndex)
		}
	})

	t.Run("mark ready is conditional on blocked", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryWorkflowTaskStore()
		ctx := context.Background()

		blocked := newTask(t, uuid.New(), 1, []int{0})
		require.NoError(t, s.Create(ctx, blocked))

		require.NoError(t, s.MarkReady(ctx, blocked.ID))
		// The second promotion attempt loses the race.
		assert.ErrorIs(t, s.MarkReady(ctx, blocked.ID), ErrUpdateFailed)

		reloaded, err := s.GetByID(ctx, blocked.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.WorkflowTaskStatusReady, reloaded.Status)
	})

	t.Run("unknown task is not found", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryWorkflowTaskStore()
		_, err := s.GetByID(context.Background(), uuid.New())
		assert.ErrorIs(t, err, ErrWorkflowTaskNotFound)
		assert.ErrorIs(t, s.MarkReady(context.Background(), uuid.New()), ErrWorkflowTaskNotFound)
	})
}
