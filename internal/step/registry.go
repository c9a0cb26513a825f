package step

import (
	"fmt"
	"time"

	"chatbycard/internal/errors"
)

// Fixed step identifiers used by the single-question chat path.
const (
	InitProcessing    = "init_processing"
	RetrieveDocuments = "retrieve_documents"
	LoadAgentConfig   = "load_agent_config"
	CallAIService     = "call_ai_service"
	ErrorOccurred     = "error_occurred"
	AIServiceFailed   = "ai_service_failed"
)

// Context carries the display parameters a step description may need.
// Only the fields relevant to a given step id are consulted.
type Context struct {
	AgentName     string
	DocumentCount int
	NodeName      string
	NodeIndex     int
	Err           string
}

// definition pairs a content generator with the step's default display
// delay, used to pace step transitions so progress remains perceptible.
type definition struct {
	content func(Context) string
	delay   time.Duration
}

var registry = map[string]definition{
	InitProcessing: {
		content: func(c Context) string {
			if c.AgentName != "" {
				return fmt.Sprintf("Processing with %s...", c.AgentName)
			}
			return "Starting to process your request..."
		},
		delay: 300 * time.Millisecond,
	},
	RetrieveDocuments: {
		content: func(c Context) string {
			plural := ""
			if c.DocumentCount > 1 {
				plural = "s"
			}
			return fmt.Sprintf("Retrieving content from %d referenced document%s...", c.DocumentCount, plural)
		},
		delay: 800 * time.Millisecond,
	},
	LoadAgentConfig: {
		content: func(c Context) string {
			name := c.AgentName
			if name == "" {
				name = "Agent"
			}
			return fmt.Sprintf("Loading %s configuration...", name)
		},
		delay: 600 * time.Millisecond,
	},
	CallAIService: {
		content: func(Context) string { return "Calling backend AI service..." },
		delay:   time.Second,
	},
	ErrorOccurred: {
		content: func(c Context) string {
			return fmt.Sprintf("Processing failed: %s", errOrUnknown(c.Err))
		},
	},
	AIServiceFailed: {
		content: func(c Context) string {
			return fmt.Sprintf("AI service call failed: %s", errOrUnknown(c.Err))
		},
	},
}

func errOrUnknown(msg string) string {
	if msg == "" {
		return "Unknown error"
	}
	return msg
}

// Describe returns the display content for a registered step id.
// Returns an UnknownStepError for ids with no registered generator.
func Describe(id string, ctx Context) (string, error) {
	def, ok := registry[id]
	if !ok {
		return "", errors.NewUnknownStepError(id)
	}
	return def.content(ctx), nil
}

// Delay returns the default display delay for a registered step id,
// or zero for unknown ids and steps with no delay.
func Delay(id string) time.Duration {
	return registry[id].delay
}

// WorkflowStepKey builds the synthetic key for a workflow node's step.
// Keys combine node index and node id so steps across different nodes never
// collide even when a node id repeats within a workflow.
func WorkflowStepKey(nodeIndex int, nodeID string) string {
	return fmt.Sprintf("workflow_node_%d_%s", nodeIndex, nodeID)
}
