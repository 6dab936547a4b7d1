package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/advisoros/taskqueue/internal/domain"
	"github.com/advisoros/taskqueue/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// baseTime is the frozen clock used wherever a deterministic now matters.
var baseTime = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func frozenClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// enqueueItem inserts a pending item and returns it.
func enqueueItem(
	t *testing.T,
	s store.QueueItemStore,
	queueName string,
	orgID uuid.UUID,
	priority int,
) *domain.QueueItem {
	t.Helper()

	item, err := domain.NewQueueItem(queueName, "notification", uuid.NewString(), "notification", orgID)
	require.NoError(t, err)
	item.Priority = priority
	item.CreatedAt = baseTime.Add(-time.Minute)
	require.NoError(t, s.Create(context.Background(), item))
	return item
}

// leaseItem moves a pending item into processing and returns the lock ID.
func leaseItem(t *testing.T, s store.QueueItemStore, itemID uuid.UUID, at time.Time) uuid.UUID {
	t.Helper()

	lockID := uuid.New()
	won, err := s.AcquireLeases(context.Background(), []uuid.UUID{itemID}, lockID, at, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, won, 1)
	return lockID
}

// itemStatus reloads the item and returns its current status.
func itemStatus(t *testing.T, s store.QueueItemStore, itemID uuid.UUID) domain.QueueItemStatus {
	t.Helper()

	item, err := s.GetByID(context.Background(), itemID)
	require.NoError(t, err)
	return item.Status
}
