package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/advisoros/taskqueue/internal/domain"
)

// MemoryQueueItemStore is an in-memory QueueItemStore. Every conditional
// transition re-checks its predicate under one mutex, which satisfies the
// atomic row-scoped update contract the engine depends on. Used by tests and
// local development; production runs on the PostgreSQL store.
type MemoryQueueItemStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.QueueItem
}

// NewMemoryQueueItemStore creates an empty in-memory queue item store.
func NewMemoryQueueItemStore() *MemoryQueueItemStore {
	return &MemoryQueueItemStore{
		items: make(map[uuid.UUID]*domain.QueueItem),
	}
}

// Ensure MemoryQueueItemStore implements QueueItemStore
var _ QueueItemStore = (*MemoryQueueItemStore)(nil)

// Create implements QueueItemStore.Create.
func (s *MemoryQueueItemStore) Create(ctx context.Context, item *domain.QueueItem) error {
	if err := item.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ID]; exists {
		return ErrDuplicate
	}

	s.items[item.ID] = cloneItem(item)
	return nil
}

// GetByID implements QueueItemStore.GetByID.
func (s *MemoryQueueItemStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	return cloneItem(item), nil
}

// SelectEligible implements QueueItemStore.SelectEligible.
func (s *MemoryQueueItemStore) SelectEligible(
	ctx context.Context,
	queueNames []string,
	organizationID uuid.UUID,
	limit int,
	now time.Time,
) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queues := make(map[string]bool, len(queueNames))
	for _, q := range queueNames {
		queues[q] = true
	}

	var eligible []*domain.QueueItem
	for _, item := range s.items {
		if len(queues) > 0 && !queues[item.QueueName] {
			continue
		}
		if organizationID != uuid.Nil && item.OrganizationID != organizationID {
			continue
		}
		if !item.Eligible(now) {
			continue
		}
		eligible = append(eligible, item)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}

	ids := make([]uuid.UUID, len(eligible))
	for i, item := range eligible {
		ids[i] = item.ID
	}
	return ids, nil
}

// AcquireLeases implements QueueItemStore.AcquireLeases. The full eligibility
// predicate, including the attempts bound, is re-checked per row under the
// mutex, so of any number of callers racing over the same candidates, each row
// goes to exactly one, and a stale candidate list cannot push attempts past
// max_attempts.
func (s *MemoryQueueItemStore) AcquireLeases(
	ctx context.Context,
	candidateIDs []uuid.UUID,
	lockID uuid.UUID,
	now time.Time,
	leaseDuration time.Duration,
) ([]*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := now.Add(leaseDuration)

	var won []*domain.QueueItem
	for _, id := range candidateIDs {
		item, ok := s.items[id]
		if !ok {
			continue
		}
		if item.Status != domain.QueueItemStatusPending || item.ProcessingLockID != nil {
			continue
		}
		if item.Attempts >= item.MaxAttempts {
			continue
		}

		lock := lockID
		acquiredAt := now
		expires := expiresAt
		started := now

		item.Status = domain.QueueItemStatusProcessing
		item.ProcessingLockID = &lock
		item.LockAcquiredAt = &acquiredAt
		item.LockExpiresAt = &expires
		item.StartedAt = &started
		item.Attempts++

		won = append(won, cloneItem(item))
	}

	return won, nil
}

// ExtendLease implements QueueItemStore.ExtendLease.
func (s *MemoryQueueItemStore) ExtendLease(ctx context.Context, id, lockID uuid.UUID, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrItemNotFound
	}
	if item.Status != domain.QueueItemStatusProcessing ||
		item.ProcessingLockID == nil || *item.ProcessingLockID != lockID {
		return ErrLeaseLost
	}

	expires := until
	item.LockExpiresAt = &expires
	return nil
}

// MarkCompleted implements QueueItemStore.MarkCompleted.
func (s *MemoryQueueItemStore) MarkCompleted(
	ctx context.Context,
	id uuid.UUID,
	result json.RawMessage,
	now time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrItemNotFound
	}
	if item.Status != domain.QueueItemStatusProcessing {
		return ErrUpdateFailed
	}

	completedAt := now
	item.Status = domain.QueueItemStatusCompleted
	item.Result = result
	item.CompletedAt = &completedAt
	clearLease(item)
	return nil
}

// MarkFailedRetryable implements QueueItemStore.MarkFailedRetryable.
func (s *MemoryQueueItemStore) MarkFailedRetryable(
	ctx context.Context,
	id uuid.UUID,
	errorMessage string,
	nextRetryAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrItemNotFound
	}
	if item.Status != domain.QueueItemStatusProcessing {
		return ErrUpdateFailed
	}

	retryAt := nextRetryAt
	item.Status = domain.QueueItemStatusFailedRetryable
	item.ErrorMessage = errorMessage
	item.NextRetryAt = &retryAt
	clearLease(item)
	return nil
}

// MarkFailedPermanent implements QueueItemStore.MarkFailedPermanent.
func (s *MemoryQueueItemStore) MarkFailedPermanent(
	ctx context.Context,
	id uuid.UUID,
	errorMessage string,
	now time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrItemNotFound
	}
	if item.Status != domain.QueueItemStatusProcessing {
		return ErrUpdateFailed
	}

	failedAt := now
	item.Status = domain.QueueItemStatusFailedPermanent
	item.ErrorMessage = errorMessage
	item.NextRetryAt = nil
	item.FailedAt = &failedAt
	clearLease(item)
	return nil
}

// Cancel implements QueueItemStore.Cancel.
func (s *MemoryQueueItemStore) Cancel(ctx context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrItemNotFound
	}
	if item.Status != domain.QueueItemStatusPending {
		return ErrUpdateFailed
	}

	item.Status = domain.QueueItemStatusCancelled
	return nil
}

// ResetExpiredLeases implements QueueItemStore.ResetExpiredLeases.
func (s *MemoryQueueItemStore) ResetExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, item := range s.items {
		if item.Status != domain.QueueItemStatusProcessing {
			continue
		}
		if item.LockExpiresAt == nil || !item.LockExpiresAt.Before(now) {
			continue
		}

		// Attempts stay as counted at lease time.
		item.Status = domain.QueueItemStatusPending
		clearLease(item)
		count++
	}
	return count, nil
}

// ResetDueRetries implements QueueItemStore.ResetDueRetries.
func (s *MemoryQueueItemStore) ResetDueRetries(
	ctx context.Context,
	organizationID uuid.UUID,
	queueName string,
	now time.Time,
) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, item := range s.items {
		if item.Status != domain.QueueItemStatusFailedRetryable {
			continue
		}
		if organizationID != uuid.Nil && item.OrganizationID != organizationID {
			continue
		}
		if queueName != "" && item.QueueName != queueName {
			continue
		}
		if item.NextRetryAt == nil || item.NextRetryAt.After(now) {
			continue
		}
		if item.Attempts >= item.MaxAttempts {
			continue
		}

		item.Status = domain.QueueItemStatusPending
		item.NextRetryAt = nil
		item.ErrorMessage = ""
		count++
	}
	return count, nil
}

// CountByStatus implements QueueItemStore.CountByStatus.
func (s *MemoryQueueItemStore) CountByStatus(
	ctx context.Context,
	organizationID uuid.UUID,
	queueName string,
) (*QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &QueueStats{
		OrganizationID: organizationID,
		QueueName:      queueName,
		Counts:         make(map[domain.QueueItemStatus]int),
	}
	for _, item := range s.items {
		if organizationID != uuid.Nil && item.OrganizationID != organizationID {
			continue
		}
		if queueName != "" && item.QueueName != queueName {
			continue
		}
		stats.Counts[item.Status]++
		stats.Total++
	}
	return stats, nil
}

// WithTx implements QueueItemStore.WithTx. The in-memory store has no
// transactions; it returns itself.
func (s *MemoryQueueItemStore) WithTx(tx *sql.Tx) QueueItemStore {
	return s
}

// clearLease nulls the lease fields, restoring the invariant that only a
// processing item carries a lock.
func clearLease(item *domain.QueueItem) {
	item.ProcessingLockID = nil
	item.LockAcquiredAt = nil
	item.LockExpiresAt = nil
}

// cloneItem copies an item so callers never share memory with the store.
func cloneItem(item *domain.QueueItem) *domain.QueueItem {
	clone := *item
	if item.ScheduledFor != nil {
		t := *item.ScheduledFor
		clone.ScheduledFor = &t
	}
	if item.ProcessingLockID != nil {
		id := *item.ProcessingLockID
		clone.ProcessingLockID = &id
	}
	if item.LockAcquiredAt != nil {
		t := *item.LockAcquiredAt
		clone.LockAcquiredAt = &t
	}
	if item.LockExpiresAt != nil {
		t := *item.LockExpiresAt
		clone.LockExpiresAt = &t
	}
	if item.NextRetryAt != nil {
		t := *item.NextRetryAt
		clone.NextRetryAt = &t
	}
	if item.StartedAt != nil {
		t := *item.StartedAt
		clone.StartedAt = &t
	}
	if item.CompletedAt != nil {
		t := *item.CompletedAt
		clone.CompletedAt = &t
	}
	if item.FailedAt != nil {
		t := *item.FailedAt
		clone.FailedAt = &t
	}
	return &clone
}

// MemoryWorkflowTaskStore is an in-memory WorkflowTaskStore with the same
// conditional-update semantics as the PostgreSQL implementation.
type MemoryWorkflowTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.WorkflowTask
}

// NewMemoryWorkflowTaskStore creates an empty in-memory workflow task store.
func NewMemoryWorkflowTaskStore() *MemoryWorkflowTaskStore {
	return &MemoryWorkflowTaskStore{
		tasks: make(map[uuid.UUID]*domain.WorkflowTask),
	}
}

// Ensure MemoryWorkflowTaskStore implements WorkflowTaskStore
var _ WorkflowTaskStore = (*MemoryWorkflowTaskStore)(nil)

// Create implements WorkflowTaskStore.Create.
func (s *MemoryWorkflowTaskStore) Create(ctx context.Context, task *domain.WorkflowTask) error {
	if err := task.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return ErrDuplicate
	}

	s.tasks[task.ID] = cloneTask(task)
	return nil
}

// GetByID implements WorkflowTaskStore.GetByID.
func (s *MemoryWorkflowTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrWorkflowTaskNotFound
	}
	return cloneTask(task), nil
}

// ListByExecution implements WorkflowTaskStore.ListByExecution.
func (s *MemoryWorkflowTaskStore) ListByExecution(
	ctx context.Context,
	executionID uuid.UUID,
) ([]*domain.WorkflowTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []*domain.WorkflowTask
	for _, task := range s.tasks {
		if task.ExecutionID == executionID {
			tasks = append(tasks, cloneTask(task))
		}
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].StepIndex < tasks[j].StepIndex
	})
	return tasks, nil
}

// MarkReady implements WorkflowTaskStore.MarkReady.
func (s *MemoryWorkflowTaskStore) MarkReady(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return ErrWorkflowTaskNotFound
	}
	if task.Status != domain.WorkflowTaskStatusBlocked {
		return ErrUpdateFailed
	}

	task.Status = domain.WorkflowTaskStatusReady
	task.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateStatus implements WorkflowTaskStore.UpdateStatus.
func (s *MemoryWorkflowTaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.WorkflowTaskStatus,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return ErrWorkflowTaskNotFound
	}

	task.Status = status
	task.UpdatedAt = time.Now().UTC()
	return nil
}

// WithTx implements WorkflowTaskStore.WithTx.
func (s *MemoryWorkflowTaskStore) WithTx(tx *sql.Tx) WorkflowTaskStore {
	return s
}

// cloneTask copies a task so callers never share memory with the store.
func cloneTask(task *domain.WorkflowTask) *domain.WorkflowTask {
	clone := *task
	if task.RequiresCompletion != nil {
		clone.RequiresCompletion = append([]int(nil), task.RequiresCompletion...)
	}
	return &clone
}
