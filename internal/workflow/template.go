package workflow

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/advisoros/taskqueue/internal/domain"
)

// Template describes the step graph of a workflow as authored in YAML.
// Steps refer to each other by position, so ordering in the file is
// significant.
type Template struct {
	Name  string         `yaml:"name"`
	Steps []TemplateStep `yaml:"steps"`
}

// TemplateStep is a single step definition within a template.
type TemplateStep struct {
	Name     string `yaml:"name"`
	ItemType string `yaml:"item_type"`
	Priority int    `yaml:"priority"`

	// Requires lists the indexes of earlier-declared steps that must
	// complete before this step becomes eligible.
	Requires []int `yaml:"requires"`
}

// ParseTemplate decodes a YAML template definition and validates it.
// Unknown fields are rejected so typos in step definitions surface at
// load time rather than as silently unblocked steps.
func ParseTemplate(data []byte) (*Template, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var tmpl Template
	if err := dec.Decode(&tmpl); err != nil {
		return nil, fmt.Errorf("failed to decode workflow template: %w", err)
	}

	if err := tmpl.Validate(); err != nil {
		return nil, err
	}

	return &tmpl, nil
}

// Validate checks the template for structural problems: missing fields,
// dangling or self-referential requires entries, and dependency cycles.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: template name cannot be empty", domain.ErrValidation)
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("%w: template %q has no steps", domain.ErrValidation, t.Name)
	}

	requires := make(map[int][]int, len(t.Steps))
	for i, step := range t.Steps {
		if step.ItemType == "" {
			return fmt.Errorf("%w: step %d of template %q has no item_type", domain.ErrValidation, i, t.Name)
		}
		for _, dep := range step.Requires {
			if dep == i {
				return fmt.Errorf("%w: step %d of template %q requires itself", domain.ErrValidation, i, t.Name)
			}
			if dep < 0 || dep >= len(t.Steps) {
				return fmt.Errorf("%w: step %d of template %q requires unknown step %d",
					domain.ErrValidation, i, t.Name, dep)
			}
		}
		requires[i] = step.Requires
	}

	if _, err := validateStepDAG(len(t.Steps), requires); err != nil {
		return fmt.Errorf("%w: template %q: %v", domain.ErrValidation, t.Name, err)
	}

	return nil
}

// Instantiate materializes the template into workflow tasks for a new
// execution. Steps with no requirements start ready, the rest start blocked.
func (t *Template) Instantiate(
	executionID, organizationID uuid.UUID,
	entityID, entityType string,
) ([]*domain.WorkflowTask, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	tasks := make([]*domain.WorkflowTask, 0, len(t.Steps))
	for i, step := range t.Steps {
		task, err := domain.NewWorkflowTask(
			executionID, organizationID, i, step.Name, step.ItemType, step.Requires)
		if err != nil {
			return nil, fmt.Errorf("failed to create task for step %d: %w", i, err)
		}
		task.EntityID = entityID
		task.EntityType = entityType
		task.Priority = step.Priority
		tasks = append(tasks, task)
	}

	return tasks, nil
}
