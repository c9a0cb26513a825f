// Package workflow executes multi-node agent workflows against the
// conversation. A workflow is an ordered list of nodes; the first and
// last entries are start/end markers that carry no work, and each agent
// node in between renders a prompt template and runs one AI call whose
// output feeds the next node.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"chatbycard/internal/errors"
)

// Marker node ids. Markers delimit the node list and are skipped during
// execution; they never produce turns or steps.
const (
	StartMarkerID = "-1"
	EndMarkerID   = "-2"
)

// Variable declares a template variable a workflow expects. Every
// declared variable must resolve to a non-blank value at start time,
// from the supplied form values or from its default.
type Variable struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Default     string `json:"default,omitempty"`
}

// Node is one entry in a workflow's node list. A non-marker node's id
// is the id of the agent it invokes.
type Node struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	UserPrompt string `json:"user_prompt"`
}

// IsMarker reports whether the node is a start or end marker.
func (n Node) IsMarker() bool {
	return n.ID == StartMarkerID || n.ID == EndMarkerID
}

// Workflow is a parsed workflow definition.
type Workflow struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Variables   []Variable `json:"vars,omitempty"`
	Nodes       []Node     `json:"nodes"`
}

// AgentNodeCount returns the number of executable (non-marker) nodes.
func (w *Workflow) AgentNodeCount() int {
	count := 0
	for _, n := range w.Nodes {
		if !n.IsMarker() {
			count++
		}
	}
	return count
}

// Parse decodes and validates a workflow definition.
func Parse(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, errors.NewValidationError("malformed workflow definition").WithCause(err)
	}
	if strings.TrimSpace(wf.ID) == "" {
		return nil, errors.NewValidationError("workflow is missing an id").WithField("id")
	}
	if strings.TrimSpace(wf.Name) == "" {
		return nil, errors.NewValidationError("workflow is missing a name").WithField("name")
	}
	for i, n := range wf.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return nil, errors.NewValidationError(
				fmt.Sprintf("node %d (%s) is missing an id", i, n.Name)).WithField("id")
		}
	}
	return &wf, nil
}

// LoadFile reads and parses a workflow definition from a local JSON file.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read workflow file %s", path)
	}
	return Parse(data)
}

// ResolveVariables validates supplied values against the workflow's
// variable declarations and returns the effective variable map with
// defaults applied. Every declared variable must end up non-blank; one
// with neither a value nor a default yields a missing-variable
// ValidationError.
func (w *Workflow) ResolveVariables(supplied map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(supplied))
	for k, v := range supplied {
		resolved[k] = v
	}
	for _, v := range w.Variables {
		if strings.TrimSpace(resolved[v.Name]) != "" {
			continue
		}
		if v.Default != "" {
			resolved[v.Name] = v.Default
			continue
		}
		return nil, errors.NewMissingVariableError(v.Name)
	}
	return resolved, nil
}
