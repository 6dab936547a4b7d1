package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advisoros/taskqueue/internal/domain"
	"github.com/advisoros/taskqueue/internal/store"
)

// reversingStore returns lease winners in reverse, standing in for a backend
// whose batch update reports rows in arbitrary order.
type reversingStore struct {
	store.QueueItemStore
}

func (r *reversingStore) AcquireLeases(
	ctx context.Context,
	candidateIDs []uuid.UUID,
	lockID uuid.UUID,
	now time.Time,
	leaseDuration time.Duration,
) ([]*domain.QueueItem, error) {
	items, err := r.QueueItemStore.AcquireLeases(ctx, candidateIDs, lockID, now, leaseDuration)
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, err
}

func TestDequeue(t *testing.T) {
	t.Parallel()

	t.Run("leases eligible items and increments attempts", func(t *testing.T) {
		t.Parallel()

		s := store.NewMemoryQueueItemStore()
		d := NewDequeuer(s, 5*time.Minute, testLogger())
		d.now = frozenClock(baseTime)

		orgID := uuid.New()
		created := enqueueItem(t, s, "default", orgID, 0)

		items, err := d.Dequeue(context.Background(), []string{"default"}, uuid.Nil, 10)
		require.NoError(t, err)
		require.Len(t, items, 1)

		item := items[0]
		assert.Equal(t, created.ID, item.ID)
		assert.Equal(t, domain.QueueItemStatusProcessing, item.Status)
		assert.Equal(t, 1, item.Attempts)
		require.NotNil(t, item.ProcessingLockID)
		require.NotNil(t, item.LockExpiresAt)
		assert.True(t, item.LockExpiresAt.Equal(baseTime.Add(5*time.Minute)))
	})

	t.Run("orders by priority then age", func(t *testing.T) {
		t.Parallel()

		s := store.NewMemoryQueueItemStore()
		d := NewDequeuer(s, time.Minute, testLogger())
		d.now = frozenClock(baseTime)

		orgID := uuid.New()
		enqueueItem(t, s, "default", orgID, 1)
		high := enqueueItem(t, s, "default", orgID, 9)

		// Same priority as the first item but created earlier.
		aged, err := domain.NewQueueItem("default", "notification", "aged", "notification", orgID)
		require.NoError(t, err)
		aged.Priority = 1
		aged.CreatedAt = baseTime.Add(-2 * time.Hour)
		require.NoError(t, s.Create(context.Background(), aged))

		items, err := d.Dequeue(context.Background(), []string{"default"}, uuid.Nil, 2)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, high.ID, items[0].ID)
		assert.Equal(t, aged.ID, items[1].ID)
	})

	t.Run("scopes to queue names and organization", func(t *testing.T) {
		t.Parallel()

		s := store.NewMemoryQueueItemStore()
		d := NewDequeuer(s, time.Minute, testLogger())
		d.now = frozenClock(baseTime)

		orgA := uuid.New()
		orgB := uuid.New()
		wanted := enqueueItem(t, s, "reports", orgA, 0)
		enqueueItem(t, s, "notifications", orgA, 0)
		enqueueItem(t, s, "reports", orgB, 0)

		items, err := d.Dequeue(context.Background(), []string{"reports"}, orgA, 10)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, wanted.ID, items[0].ID)
	})

	t.Run("empty queue list pulls from every queue", func(t *testing.T) {
		t.Parallel()

		s := store.NewMemoryQueueItemStore()
		d := NewDequeuer(s, time.Minute, testLogger())
		d.now = frozenClock(baseTime)

		orgID := uuid.New()
		enqueueItem(t, s, "reports", orgID, 0)
		enqueueItem(t, s, "notifications", orgID, 0)

		items, err := d.Dequeue(context.Background(), nil, uuid.Nil, 10)
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("batch order survives an unordered lease result", func(t *testing.T) {
		t.Parallel()

		s := store.NewMemoryQueueItemStore()
		d := NewDequeuer(&reversingStore{QueueItemStore: s}, time.Minute, testLogger())
		d.now = frozenClock(baseTime)

		orgID := uuid.New()
		low := enqueueItem(t, s, "default", orgID, 1)
		high := enqueueItem(t, s, "default", orgID, 9)

		items, err := d.Dequeue(context.Background(), []string{"default"}, uuid.Nil, 2)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, high.ID, items[0].ID)
		assert.Equal(t, low.ID, items[1].ID)
	})

	t.Run("concurrent dequeuers never share an item", func(t *testing.T) {
		t.Parallel()

		s := store.NewMemoryQueueItemStore()
		orgID := uuid.New()

		const itemCount = 20
		for i := 0; i < itemCount; i++ {
			enqueueItem(t, s, "default", orgID, 0)
		}

		const workers = 8
		var wg sync.WaitGroup
		results := make(chan uuid.UUID, itemCount*2)

		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d := NewDequeuer(s, time.Minute, testLogger())
				for {
					items, err := d.Dequeue(context.Background(), []string{"default"}, uuid.Nil, 5)
					require.NoError(t, err)
					if len(items) == 0 {
						return
					}
					for _, item := range items {
						results <- item.ID
					}
				}
			}()
		}
		wg.Wait()
		close(results)

		seen := make(map[uuid.UUID]bool)
		for id := range results {
			assert.False(t, seen[id], "item %s dequeued twice", id)
			seen[id] = true
		}
		assert.Len(t, seen, itemCount)
	})

	t.Run("non positive limit returns nothing", func(t *testing.T) {
		t.Parallel()

		s := store.NewMemoryQueueItemStore()
		d := NewDequeuer(s, time.Minute, testLogger())
		enqueueItem(t, s, "default", uuid.New(), 0)

		items, err := d.Dequeue(context.Background(), []string{"default"}, uuid.Nil, 0)
		require.NoError(t, err)
		assert.Empty(t, items)
	})
}

func TestExtendLease(t *testing.T) {
	t.Parallel()

	t.Run("pushes the lease window forward", func(t *testing.T) {
		t.Parallel()

		s := store.NewMemoryQueueItemStore()
		d := NewDequeuer(s, time.Minute, testLogger())
		d.now = frozenClock(baseTime)

		item := enqueueItem(t, s, "default", uuid.New(), 0)
		lockID := leaseItem(t, s, item.ID, baseTime)

		require.NoError(t, d.ExtendLease(context.Background(), item.ID, lockID, 10*time.Minute))

		reloaded, err := s.GetByID(context.Background(), item.ID)
		require.NoError(t, err)
		require.NotNil(t, reloaded.LockExpiresAt)
		assert.True(t, reloaded.LockExpiresAt.Equal(baseTime.Add(10*time.Minute)))
	})

	t.Run("wrong lock id loses the lease", func(t *testing.T) {
		t.Parallel()

		s := store.NewMemoryQueueItemStore()
		d := NewDequeuer(s, time.Minute, testLogger())

		item := enqueueItem(t, s, "default", uuid.New(), 0)
		leaseItem(t, s, item.ID, baseTime)

		err := d.ExtendLease(context.Background(), item.ID, uuid.New(), time.Minute)
		assert.ErrorIs(t, err, store.ErrLeaseLost)
	})

	t.Run("resolved item cannot be extended", func(t *testing.T) {
		t.Parallel()

		s := store.NewMemoryQueueItemStore()
		d := NewDequeuer(s, time.Minute, testLogger())

		item := enqueueItem(t, s, "default", uuid.New(), 0)
		lockID := leaseItem(t, s, item.ID, baseTime)
		require.NoError(t, s.MarkCompleted(context.Background(), item.ID, nil, baseTime))

		err := d.ExtendLease(context.Background(), item.ID, lockID, time.Minute)
		assert.ErrorIs(t, err, store.ErrLeaseLost)
	})
}
