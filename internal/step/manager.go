package step

import (
	"sync"
	"time"

	"chatbycard/internal/errors"
)

// Status represents the lifecycle state of a progress step.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// RetryData captures everything needed to re-execute a failed step
// without re-reading conversation state. Attached to a step when it is
// marked as errored; consumed by RetryStep.
type RetryData struct {
	TurnID         string
	AgentID        string
	Prompt         string
	PreviousOutput string
	DocumentIDs    []string
	NodeIndex      int // -1 when the failure is not tied to a workflow node
	NodeID         string
}

// Step is a single entry in the live progress list.
type Step struct {
	ID         string
	Content    string
	Status     Status
	Timestamp  time.Time
	RetryData  *RetryData
	RetryCount int
}

// Manager owns the ordered live step list. All mutations go through the
// manager, which enforces status transitions and republishes a snapshot
// of the full list after every change.
//
// Snapshots are copies; callers must not assume later mutations are
// visible through a previously returned slice. RetryData is treated as
// immutable once attached.
type Manager struct {
	mu       sync.RWMutex
	steps    []Step
	onUpdate func([]Step)
}

// NewManager creates a step manager. onUpdate, if non-nil, is invoked
// with a fresh snapshot after every mutation, outside the manager's lock.
func NewManager(onUpdate func([]Step)) *Manager {
	return &Manager{onUpdate: onUpdate}
}

// InitSteps replaces the live list with the given registered steps, all
// in waiting status. Contexts supplies per-step display parameters; a
// missing entry means the zero Context. Fails atomically on an unknown id.
func (m *Manager) InitSteps(ids []string, contexts map[string]Context) error {
	steps := make([]Step, 0, len(ids))
	now := time.Now()
	for _, id := range ids {
		content, err := Describe(id, contexts[id])
		if err != nil {
			return err
		}
		steps = append(steps, Step{
			ID:        id,
			Content:   content,
			Status:    StatusWaiting,
			Timestamp: now,
		})
	}

	m.mu.Lock()
	m.steps = steps
	m.mu.Unlock()

	m.notify()
	return nil
}

// UpdateStepStatus moves a step along the waiting → processing →
// {completed | error} state machine. Illegal transitions, including
// waiting → completed and any move out of a terminal state, are rejected;
// retries out of error go through RetryStep instead.
func (m *Manager) UpdateStepStatus(id string, status Status) error {
	m.mu.Lock()
	i := m.indexOf(id)
	if i < 0 {
		m.mu.Unlock()
		return errors.Wrapf(errors.ErrStepNotFound, "update status of %q", id)
	}
	if !legalTransition(m.steps[i].Status, status) {
		from := m.steps[i].Status
		m.mu.Unlock()
		return errors.NewValidationError("illegal step transition " + string(from) + " -> " + string(status) + " for " + id)
	}
	m.steps[i].Status = status
	m.steps[i].Timestamp = time.Now()
	m.mu.Unlock()

	m.notify()
	return nil
}

// CompleteStep marks a processing step as completed.
func (m *Manager) CompleteStep(id string) error {
	return m.UpdateStepStatus(id, StatusCompleted)
}

// MarkStepAsError moves a processing step to error and attaches the
// retry payload (may be nil for non-retryable failures).
func (m *Manager) MarkStepAsError(id string, retry *RetryData) error {
	m.mu.Lock()
	i := m.indexOf(id)
	if i < 0 {
		m.mu.Unlock()
		return errors.Wrapf(errors.ErrStepNotFound, "mark %q as error", id)
	}
	if !legalTransition(m.steps[i].Status, StatusError) {
		from := m.steps[i].Status
		m.mu.Unlock()
		return errors.NewValidationError("illegal step transition " + string(from) + " -> error for " + id)
	}
	m.steps[i].Status = StatusError
	m.steps[i].RetryData = retry
	m.steps[i].Timestamp = time.Now()
	m.mu.Unlock()

	m.notify()
	return nil
}

// AddStep appends an ad hoc step from the registry in completed status,
// e.g. a trailing error description after a failed run. Returns the
// appended step's id.
func (m *Manager) AddStep(id string, ctx Context) (string, error) {
	content, err := Describe(id, ctx)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.steps = append(m.steps, Step{
		ID:        id,
		Content:   content,
		Status:    StatusCompleted,
		Timestamp: time.Now(),
	})
	m.mu.Unlock()

	m.notify()
	return id, nil
}

// AddWorkflowStep appends a step for a workflow node under its synthetic
// key. Workflow steps skip the registry; content is supplied by the
// caller and the step starts directly in the given status.
func (m *Manager) AddWorkflowStep(key, content string, status Status, retry *RetryData) string {
	m.mu.Lock()
	m.steps = append(m.steps, Step{
		ID:        key,
		Content:   content,
		Status:    status,
		Timestamp: time.Now(),
		RetryData: retry,
	})
	m.mu.Unlock()

	m.notify()
	return key
}

// UpdateWorkflowStep applies a targeted mutation to a workflow node's
// step. Empty content leaves the existing content in place; a nil retry
// leaves any existing retry payload untouched.
func (m *Manager) UpdateWorkflowStep(key string, status Status, content string, retry *RetryData) error {
	m.mu.Lock()
	i := m.indexOf(key)
	if i < 0 {
		m.mu.Unlock()
		return errors.Wrapf(errors.ErrStepNotFound, "update workflow step %q", key)
	}
	m.steps[i].Status = status
	if content != "" {
		m.steps[i].Content = content
	}
	if retry != nil {
		m.steps[i].RetryData = retry
	}
	m.steps[i].Timestamp = time.Now()
	m.mu.Unlock()

	m.notify()
	return nil
}

// RemoveStep deletes a step from the live list, typically after its
// final state has been folded into a turn's frozen step snapshot.
// Returns false if the id is not present.
func (m *Manager) RemoveStep(id string) bool {
	m.mu.Lock()
	i := m.indexOf(id)
	if i < 0 {
		m.mu.Unlock()
		return false
	}
	m.steps = append(m.steps[:i], m.steps[i+1:]...)
	m.mu.Unlock()

	m.notify()
	return true
}

// RetryStep moves an errored step back to processing, increments its
// retry count, and returns a copy of the step carrying the retry payload.
// Returns nil for missing steps and for steps not in error status.
func (m *Manager) RetryStep(id string) *Step {
	m.mu.Lock()
	i := m.indexOf(id)
	if i < 0 || m.steps[i].Status != StatusError {
		m.mu.Unlock()
		return nil
	}
	m.steps[i].Status = StatusProcessing
	m.steps[i].RetryCount++
	m.steps[i].Timestamp = time.Now()
	snap := m.steps[i]
	m.mu.Unlock()

	m.notify()
	return &snap
}

// ClearSteps empties the live list.
func (m *Manager) ClearSteps() {
	m.mu.Lock()
	m.steps = nil
	m.mu.Unlock()

	m.notify()
}

// Steps returns a snapshot copy of the live step list in display order.
func (m *Manager) Steps() []Step {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// StepByID returns a copy of the step with the given id.
func (m *Manager) StepByID(id string) (Step, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.indexOf(id); i >= 0 {
		return m.steps[i], true
	}
	return Step{}, false
}

// indexOf returns the position of a step id, or -1. Caller holds the lock.
func (m *Manager) indexOf(id string) int {
	for i := range m.steps {
		if m.steps[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) snapshotLocked() []Step {
	out := make([]Step, len(m.steps))
	copy(out, m.steps)
	return out
}

// notify publishes a fresh snapshot to the update callback. Called
// without the lock held so handlers may re-enter the manager.
func (m *Manager) notify() {
	if m.onUpdate == nil {
		return
	}
	m.mu.RLock()
	snap := m.snapshotLocked()
	m.mu.RUnlock()
	m.onUpdate(snap)
}

// legalTransition reports whether a status move is allowed. Terminal
// states are only left via RetryStep.
func legalTransition(from, to Status) bool {
	switch from {
	case StatusWaiting:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusError
	default:
		return false
	}
}
