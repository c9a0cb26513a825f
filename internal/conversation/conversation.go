// Package conversation models the chat history as an ordered list of
// turns. Each turn pairs the user's input (question, referenced
// documents, selected agent, optional workflow origin) with the AI's
// response and its frozen processing-step snapshot.
//
// The pure functions in this file operate on turn slices without any
// locking; Log in log.go wraps them with ownership, synchronization and
// change notification. Two invariants hold after every mutation: turn
// indices stay dense (turns[i].TurnIndex == i) and at most one turn is
// editable, the last one, and only once its response has completed.
package conversation

import (
	"time"

	"github.com/google/uuid"

	"chatbycard/internal/errors"
	"chatbycard/internal/step"
)

// ResponseStatus is the lifecycle state of a turn's AI response.
type ResponseStatus string

const (
	StatusPending   ResponseStatus = "pending"
	StatusStreaming ResponseStatus = "streaming"
	StatusCompleted ResponseStatus = "completed"
	StatusError     ResponseStatus = "error"
)

// DocumentRef identifies a document the user attached to a question.
// External documents live outside the backend and have no retrievable
// content.
type DocumentRef struct {
	ID       string
	Name     string
	External bool
}

// AgentRef identifies the agent configuration used to answer a question.
type AgentRef struct {
	ID   string
	Name string
}

// WorkflowInfo marks a turn as originating from a workflow run rather
// than a direct user question.
type WorkflowInfo struct {
	ID        string
	Name      string
	NodeIndex int    // index of the node that produced this turn; -1 for the run summary turn
	NodeName  string // empty for the run summary turn
}

// UserInput is the user-side half of a turn.
type UserInput struct {
	Content        string
	Documents      []DocumentRef
	Agent          *AgentRef
	Workflow       *WorkflowInfo
	FormValues     map[string]string // resolved workflow variables, set on the run summary turn
	PreviousOutput string            // prior AI output carried into this turn's request
}

// AIResponse is the AI-side half of a turn. Steps holds the frozen
// snapshot of processing steps taken for this turn; once attached it is
// never mutated.
type AIResponse struct {
	Content   string
	Status    ResponseStatus
	Editable  bool
	SettledAt time.Time // when the response reached a terminal status
	Steps     []step.Step
}

// Turn is one exchange in the conversation.
type Turn struct {
	ID        string
	TurnIndex int
	CreatedAt time.Time
	Input     UserInput
	Response  AIResponse
}

// NewTurn creates a turn with a fresh id, a pending response, and an
// unassigned index. AppendTurn assigns the index.
func NewTurn(input UserInput) Turn {
	return Turn{
		ID:        uuid.NewString(),
		TurnIndex: -1,
		CreatedAt: time.Now(),
		Input:     input,
		Response:  AIResponse{Status: StatusPending},
	}
}

// AppendTurn adds a turn at the end of the list, assigning the next
// dense index.
func AppendTurn(turns []Turn, t Turn) []Turn {
	t.TurnIndex = len(turns)
	return append(turns, t)
}

// UpdateAIResponse applies a mutation to the response of the turn with
// the given id and returns the updated slice.
func UpdateAIResponse(turns []Turn, id string, mutate func(*AIResponse)) ([]Turn, error) {
	for i := range turns {
		if turns[i].ID == id {
			mutate(&turns[i].Response)
			return turns, nil
		}
	}
	return turns, errors.Wrapf(errors.ErrTurnNotFound, "update response of turn %q", id)
}

// UpdateEditableStatus recomputes the editability flags: only the very
// last turn may be editable, and only once its response has completed.
// While the newest turn is pending, streaming, or errored, no turn is
// editable.
func UpdateEditableStatus(turns []Turn) []Turn {
	for i := range turns {
		turns[i].Response.Editable = false
	}
	if n := len(turns); n > 0 && turns[n-1].Response.Status == StatusCompleted {
		turns[n-1].Response.Editable = true
	}
	return turns
}

// TurnByID returns a copy of the turn with the given id.
func TurnByID(turns []Turn, id string) (Turn, bool) {
	for i := range turns {
		if turns[i].ID == id {
			return turns[i], true
		}
	}
	return Turn{}, false
}

// TurnByIndex returns a copy of the turn at the given index.
func TurnByIndex(turns []Turn, index int) (Turn, bool) {
	if index < 0 || index >= len(turns) {
		return Turn{}, false
	}
	return turns[index], true
}

// LastCompletedOutput returns the response content of the most recent
// completed turn, or empty when no turn has completed yet.
func LastCompletedOutput(turns []Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Response.Status == StatusCompleted {
			return turns[i].Response.Content
		}
	}
	return ""
}
