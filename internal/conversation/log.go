package conversation

import (
	"sync"
	"time"

	"chatbycard/internal/errors"
	"chatbycard/internal/step"
)

// Callbacks receive change notifications from a Log. Both are optional
// and are invoked outside the Log's lock with copies of the turn.
type Callbacks struct {
	OnAppend func(Turn)
	OnUpdate func(Turn)
	OnReset  func()
}

// Log owns the conversation's turn list. All mutations go through the
// Log, which maintains the dense-index and single-editable invariants
// and notifies the callbacks after each change.
type Log struct {
	mu        sync.RWMutex
	turns     []Turn
	callbacks Callbacks
}

// NewLog creates an empty conversation log.
func NewLog(callbacks Callbacks) *Log {
	return &Log{callbacks: callbacks}
}

// Append creates a turn from the input, adds it at the end of the list,
// and returns a copy of the stored turn.
func (l *Log) Append(input UserInput) Turn {
	t := NewTurn(input)

	l.mu.Lock()
	l.turns = AppendTurn(l.turns, t)
	stored := l.turns[len(l.turns)-1]
	l.mu.Unlock()

	if l.callbacks.OnAppend != nil {
		l.callbacks.OnAppend(stored)
	}
	return stored
}

// SetResponseStatus moves a turn's response to the given status,
// recomputing editability when the status is terminal.
func (l *Log) SetResponseStatus(id string, status ResponseStatus) error {
	return l.update(id, func(r *AIResponse) {
		r.Status = status
	})
}

// AppendResponseContent grows a turn's response during streaming and
// marks the response as streaming.
func (l *Log) AppendResponseContent(id, chunk string) error {
	return l.update(id, func(r *AIResponse) {
		r.Content += chunk
		r.Status = StatusStreaming
	})
}

// CompleteResponse sets the final content and completes the turn. Pass
// the accumulated content as-is for streaming turns; for blocking turns
// this is the full response body.
func (l *Log) CompleteResponse(id, content string) error {
	return l.update(id, func(r *AIResponse) {
		r.Content = content
		r.Status = StatusCompleted
		r.SettledAt = time.Now()
	})
}

// FailResponse marks the turn as errored with a user-facing message as
// its content.
func (l *Log) FailResponse(id, message string) error {
	return l.update(id, func(r *AIResponse) {
		r.Content = message
		r.Status = StatusError
		r.SettledAt = time.Now()
	})
}

// SetProcessSteps freezes a step snapshot into the turn. The caller must
// not mutate steps afterwards.
func (l *Log) SetProcessSteps(id string, steps []step.Step) error {
	return l.update(id, func(r *AIResponse) {
		r.Steps = steps
	})
}

// EditAIResponse replaces the response content of an editable turn.
// Only the last turn, once completed, is editable; editing any other
// turn returns ErrTurnNotEditable.
func (l *Log) EditAIResponse(id, content string) error {
	l.mu.Lock()
	var target *Turn
	for i := range l.turns {
		if l.turns[i].ID == id {
			target = &l.turns[i]
			break
		}
	}
	if target == nil {
		l.mu.Unlock()
		return errors.Wrapf(errors.ErrTurnNotFound, "edit turn %q", id)
	}
	if !target.Response.Editable {
		l.mu.Unlock()
		return errors.Wrapf(errors.ErrTurnNotEditable, "edit turn %q", id)
	}
	target.Response.Content = content
	updated := *target
	l.mu.Unlock()

	if l.callbacks.OnUpdate != nil {
		l.callbacks.OnUpdate(updated)
	}
	return nil
}

// Reset clears the conversation.
func (l *Log) Reset() {
	l.mu.Lock()
	l.turns = nil
	l.mu.Unlock()

	if l.callbacks.OnReset != nil {
		l.callbacks.OnReset()
	}
}

// Turns returns a snapshot copy of the turn list in order.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Turn returns a copy of the turn with the given id.
func (l *Log) Turn(id string) (Turn, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return TurnByID(l.turns, id)
}

// Len returns the number of turns.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// LastCompletedOutput returns the content of the most recent completed
// turn, used as the previous-output context for follow-up questions.
func (l *Log) LastCompletedOutput() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LastCompletedOutput(l.turns)
}

// update applies a response mutation under the lock, recomputes
// editability, and notifies OnUpdate with a copy of the changed turn.
func (l *Log) update(id string, mutate func(*AIResponse)) error {
	l.mu.Lock()
	turns, err := UpdateAIResponse(l.turns, id, mutate)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	l.turns = UpdateEditableStatus(turns)
	updated, _ := TurnByID(l.turns, id)
	l.mu.Unlock()

	if l.callbacks.OnUpdate != nil {
		l.callbacks.OnUpdate(updated)
	}
	return nil
}
