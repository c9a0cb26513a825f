package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "turn.appended", "workflow.ended").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Conversation Events
// -----------------------------------------------------------------------------

// TurnAppendedEvent is emitted when a new conversation turn is appended.
type TurnAppendedEvent struct {
	baseEvent
	TurnID    string // Unique identifier for the turn
	TurnIndex int    // Position in the turn list
}

// NewTurnAppendedEvent creates a TurnAppendedEvent.
func NewTurnAppendedEvent(turnID string, turnIndex int) TurnAppendedEvent {
	return TurnAppendedEvent{
		baseEvent: newBaseEvent("turn.appended"),
		TurnID:    turnID,
		TurnIndex: turnIndex,
	}
}

// TurnUpdatedEvent is emitted when a turn's AI response changes
// (content growth during streaming, or a status transition).
type TurnUpdatedEvent struct {
	baseEvent
	TurnID string // Turn whose AI response changed
	Status string // New response status: pending|streaming|completed|error
}

// NewTurnUpdatedEvent creates a TurnUpdatedEvent.
func NewTurnUpdatedEvent(turnID, status string) TurnUpdatedEvent {
	return TurnUpdatedEvent{
		baseEvent: newBaseEvent("turn.updated"),
		TurnID:    turnID,
		Status:    status,
	}
}

// ConversationResetEvent is emitted when the conversation is cleared.
type ConversationResetEvent struct {
	baseEvent
}

// NewConversationResetEvent creates a ConversationResetEvent.
func NewConversationResetEvent() ConversationResetEvent {
	return ConversationResetEvent{baseEvent: newBaseEvent("conversation.reset")}
}

// -----------------------------------------------------------------------------
// Step Events
// -----------------------------------------------------------------------------

// StepsUpdatedEvent is emitted whenever the live step list changes.
// Subscribers re-read the full step snapshot from the step manager.
type StepsUpdatedEvent struct {
	baseEvent
	Count int // Number of live steps after the mutation
}

// NewStepsUpdatedEvent creates a StepsUpdatedEvent.
func NewStepsUpdatedEvent(count int) StepsUpdatedEvent {
	return StepsUpdatedEvent{
		baseEvent: newBaseEvent("steps.updated"),
		Count:     count,
	}
}

// -----------------------------------------------------------------------------
// Workflow Events
// -----------------------------------------------------------------------------

// WorkflowStartedEvent is emitted when a workflow run begins.
type WorkflowStartedEvent struct {
	baseEvent
	WorkflowID string // Workflow being executed
	Name       string // Display name
	NodeCount  int    // Total nodes, markers included
}

// NewWorkflowStartedEvent creates a WorkflowStartedEvent.
func NewWorkflowStartedEvent(workflowID, name string, nodeCount int) WorkflowStartedEvent {
	return WorkflowStartedEvent{
		baseEvent:  newBaseEvent("workflow.started"),
		WorkflowID: workflowID,
		Name:       name,
		NodeCount:  nodeCount,
	}
}

// WorkflowNodeStartedEvent is emitted when an agent node begins execution.
type WorkflowNodeStartedEvent struct {
	baseEvent
	WorkflowID string // Workflow being executed
	NodeIndex  int    // Index of the node in the node list
	NodeName   string // Display name of the node
}

// NewWorkflowNodeStartedEvent creates a WorkflowNodeStartedEvent.
func NewWorkflowNodeStartedEvent(workflowID string, nodeIndex int, nodeName string) WorkflowNodeStartedEvent {
	return WorkflowNodeStartedEvent{
		baseEvent:  newBaseEvent("workflow.node_started"),
		WorkflowID: workflowID,
		NodeIndex:  nodeIndex,
		NodeName:   nodeName,
	}
}

// WorkflowNodeCompletedEvent is emitted when an agent node finishes.
type WorkflowNodeCompletedEvent struct {
	baseEvent
	WorkflowID string // Workflow being executed
	NodeIndex  int    // Index of the completed node
}

// NewWorkflowNodeCompletedEvent creates a WorkflowNodeCompletedEvent.
func NewWorkflowNodeCompletedEvent(workflowID string, nodeIndex int) WorkflowNodeCompletedEvent {
	return WorkflowNodeCompletedEvent{
		baseEvent:  newBaseEvent("workflow.node_completed"),
		WorkflowID: workflowID,
		NodeIndex:  nodeIndex,
	}
}

// End reasons for WorkflowEndedEvent.
const (
	EndReasonCompleted = "completed"
	EndReasonStopped   = "stopped"
	EndReasonFailed    = "failed"
)

// WorkflowEndedEvent is emitted when a workflow run reaches a terminal
// state: completed, cooperatively stopped, or failed on an AI call.
type WorkflowEndedEvent struct {
	baseEvent
	WorkflowID string // Workflow that ended
	Reason     string // One of the EndReason constants
	Error      string // Human-readable failure message (empty unless failed)
}

// NewWorkflowEndedEvent creates a WorkflowEndedEvent.
func NewWorkflowEndedEvent(workflowID, reason, errMsg string) WorkflowEndedEvent {
	return WorkflowEndedEvent{
		baseEvent:  newBaseEvent("workflow.ended"),
		WorkflowID: workflowID,
		Reason:     reason,
		Error:      errMsg,
	}
}
