package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueueItem(t *testing.T) {
	t.Parallel()

	t.Run("creates a valid pending item", func(t *testing.T) {
		t.Parallel()

		orgID := uuid.New()
		item, err := NewQueueItem("notifications", ItemTypeNotification, "invoice-9", "invoice", orgID)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, item.ID)
		assert.Equal(t, QueueItemStatusPending, item.Status)
		assert.Equal(t, 0, item.Attempts)
		assert.Equal(t, 3, item.MaxAttempts)
		assert.Equal(t, orgID, item.OrganizationID)
		assert.Nil(t, item.ProcessingLockID)
		assert.False(t, item.CreatedAt.IsZero())
	})

	t.Run("validation failures", func(t *testing.T) {
		t.Parallel()

		cases := []struct {
			name      string
			queueName string
			itemType  string
			entityID  string
			orgID     uuid.UUID
			wantErr   error
		}{
			{"empty queue name", "", "t", "e", uuid.New(), ErrEmptyQueueName},
			{"empty item type", "q", "", "e", uuid.New(), ErrEmptyItemType},
			{"empty entity id", "q", "t", "", uuid.New(), ErrEmptyEntityID},
			{"nil organization", "q", "t", "e", uuid.Nil, ErrEmptyOrganizationID},
		}

		for _, tc := range cases {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()

				_, err := NewQueueItem(tc.queueName, tc.itemType, tc.entityID, "entity", tc.orgID)
				assert.ErrorIs(t, err, tc.wantErr)
			})
		}
	})

	t.Run("max attempts below one is invalid", func(t *testing.T) {
		t.Parallel()

		item, err := NewQueueItem("q", "t", "e", "entity", uuid.New())
		require.NoError(t, err)
		item.MaxAttempts = 0
		assert.ErrorIs(t, item.Validate(), ErrInvalidMaxAttempts)
	})
}

func TestQueueItemEligible(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	newItem := func(t *testing.T) *QueueItem {
		t.Helper()
		item, err := NewQueueItem("q", "t", "e", "entity", uuid.New())
		require.NoError(t, err)
		return item
	}

	t.Run("fresh pending item is eligible", func(t *testing.T) {
		t.Parallel()
		assert.True(t, newItem(t).Eligible(now))
	})

	t.Run("non pending statuses are ineligible", func(t *testing.T) {
		t.Parallel()

		for _, status := range []QueueItemStatus{
			QueueItemStatusProcessing, QueueItemStatusCompleted,
			QueueItemStatusFailedRetryable, QueueItemStatusFailedPermanent,
			QueueItemStatusCancelled,
		} {
			item := newItem(t)
			item.Status = status
			assert.False(t, item.Eligible(now), "status %s", status)
		}
	})

	t.Run("future schedule defers eligibility", func(t *testing.T) {
		t.Parallel()

		item := newItem(t)
		future := now.Add(time.Hour)
		item.ScheduledFor = &future

		assert.False(t, item.Eligible(now))
		assert.True(t, item.Eligible(future))
		assert.True(t, item.Eligible(future.Add(time.Second)))
	})

	t.Run("exhausted attempts end eligibility", func(t *testing.T) {
		t.Parallel()

		item := newItem(t)
		item.Attempts = item.MaxAttempts
		assert.False(t, item.Eligible(now))
	})
}

func TestQueueItemTerminal(t *testing.T) {
	t.Parallel()

	terminal := map[QueueItemStatus]bool{
		QueueItemStatusPending:         false,
		QueueItemStatusProcessing:      false,
		QueueItemStatusFailedRetryable: false,
		QueueItemStatusCompleted:       true,
		QueueItemStatusFailedPermanent: true,
		QueueItemStatusCancelled:       true,
	}

	for status, want := range terminal {
		item := QueueItem{Status: status}
		assert.Equal(t, want, item.Terminal(), "status %s", status)
	}
}
