package workflow

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advisoros/taskqueue/internal/domain"
)

const monthEndCloseYAML = `
name: month_end_close
steps:
  - name: pull_transactions
    item_type: report_generation
    priority: 5
  - name: reconcile_accounts
    item_type: report_generation
    requires: [0]
  - name: draft_statements
    item_type: report_generation
    requires: [0]
  - name: notify_controller
    item_type: notification
    priority: 1
    requires: [1, 2]
`

func TestParseTemplate(t *testing.T) {
	t.Parallel()

	t.Run("valid template parses", func(t *testing.T) {
		t.Parallel()

		tmpl, err := ParseTemplate([]byte(monthEndCloseYAML))
		require.NoError(t, err)
		assert.Equal(t, "month_end_close", tmpl.Name)
		require.Len(t, tmpl.Steps, 4)
		assert.Equal(t, []int{1, 2}, tmpl.Steps[3].Requires)
	})

	t.Run("unknown field is rejected", func(t *testing.T) {
		t.Parallel()

		data := []byte(`
name: bad
steps:
  - name: only
    item_type: notification
    prority: 3
`)
		_, err := ParseTemplate(data)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode")
	})

	t.Run("missing name is rejected", func(t *testing.T) {
		t.Parallel()

		data := []byte(`
steps:
  - name: only
    item_type: notification
`)
		_, err := ParseTemplate(data)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("step without item_type is rejected", func(t *testing.T) {
		t.Parallel()

		data := []byte(`
name: bad
steps:
  - name: only
`)
		_, err := ParseTemplate(data)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("self reference is rejected", func(t *testing.T) {
		t.Parallel()

		data := []byte(`
name: bad
steps:
  - name: only
    item_type: notification
    requires: [0]
`)
		_, err := ParseTemplate(data)
		require.ErrorIs(t, err, domain.ErrValidation)
		assert.Contains(t, err.Error(), "requires itself")
	})

	t.Run("out of range reference is rejected", func(t *testing.T) {
		t.Parallel()

		data := []byte(`
name: bad
steps:
  - name: only
    item_type: notification
    requires: [3]
`)
		_, err := ParseTemplate(data)
		require.ErrorIs(t, err, domain.ErrValidation)
		assert.Contains(t, err.Error(), "unknown step")
	})

	t.Run("cycle is rejected", func(t *testing.T) {
		t.Parallel()

		data := []byte(`
name: bad
steps:
  - name: a
    item_type: notification
    requires: [1]
  - name: b
    item_type: notification
    requires: [0]
`)
		_, err := ParseTemplate(data)
		require.ErrorIs(t, err, domain.ErrValidation)
		assert.Contains(t, err.Error(), "circular dependency")
	})
}

func TestTemplateInstantiate(t *testing.T) {
	t.Parallel()

	tmpl, err := ParseTemplate([]byte(monthEndCloseYAML))
	require.NoError(t, err)

	executionID := uuid.New()
	orgID := uuid.New()

	tasks, err := tmpl.Instantiate(executionID, orgID, "close-2026-08", "accounting_close")
	require.NoError(t, err)
	require.Len(t, tasks, 4)

	for i, task := range tasks {
		assert.Equal(t, executionID, task.ExecutionID)
		assert.Equal(t, orgID, task.OrganizationID)
		assert.Equal(t, i, task.StepIndex)
		assert.Equal(t, "close-2026-08", task.EntityID)
		assert.Equal(t, "accounting_close", task.EntityType)
	}

	// The root step starts ready, everything gated starts blocked.
	assert.Equal(t, domain.WorkflowTaskStatusReady, tasks[0].Status)
	assert.Equal(t, domain.WorkflowTaskStatusBlocked, tasks[1].Status)
	assert.Equal(t, domain.WorkflowTaskStatusBlocked, tasks[2].Status)
	assert.Equal(t, domain.WorkflowTaskStatusBlocked, tasks[3].Status)

	assert.Equal(t, 5, tasks[0].Priority)
	assert.Equal(t, 1, tasks[3].Priority)
}
