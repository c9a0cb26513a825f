package step

import (
	"strings"
	"testing"

	"chatbycard/internal/errors"
)

func newTestManager() (*Manager, *[][]Step) {
	var updates [][]Step
	m := NewManager(func(snap []Step) {
		updates = append(updates, snap)
	})
	return m, &updates
}

func TestInitStepsAllWaiting(t *testing.T) {
	m, updates := newTestManager()

	err := m.InitSteps(
		[]string{InitProcessing, RetrieveDocuments, CallAIService},
		map[string]Context{
			InitProcessing:    {AgentName: "Summarizer"},
			RetrieveDocuments: {DocumentCount: 2},
		},
	)
	if err != nil {
		t.Fatalf("InitSteps: %v", err)
	}

	steps := m.Steps()
	if len(steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(steps))
	}
	for _, s := range steps {
		if s.Status != StatusWaiting {
			t.Errorf("step %s status = %s, want waiting", s.ID, s.Status)
		}
	}
	if steps[0].Content != "Processing with Summarizer..." {
		t.Errorf("init content = %q", steps[0].Content)
	}
	if steps[1].Content != "Retrieving content from 2 referenced documents..." {
		t.Errorf("retrieve content = %q", steps[1].Content)
	}
	if len(*updates) != 1 {
		t.Errorf("got %d update notifications, want 1", len(*updates))
	}
}

func TestInitStepsUnknownIDFailsAtomically(t *testing.T) {
	m, _ := newTestManager()
	if err := m.InitSteps([]string{InitProcessing}, nil); err != nil {
		t.Fatalf("seed InitSteps: %v", err)
	}

	err := m.InitSteps([]string{InitProcessing, "no_such_step"}, nil)
	if err == nil {
		t.Fatal("InitSteps with unknown id should fail")
	}
	var unknownErr *errors.UnknownStepError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("error %v is not an UnknownStepError", err)
	}
	if unknownErr.StepID != "no_such_step" {
		t.Errorf("StepID = %q, want no_such_step", unknownErr.StepID)
	}
	// The previous list must survive a failed init.
	if got := len(m.Steps()); got != 1 {
		t.Errorf("steps after failed init = %d, want 1", got)
	}
}

func TestStatusTransitions(t *testing.T) {
	m, _ := newTestManager()
	if err := m.InitSteps([]string{InitProcessing}, nil); err != nil {
		t.Fatalf("InitSteps: %v", err)
	}

	// waiting -> completed is illegal.
	if err := m.UpdateStepStatus(InitProcessing, StatusCompleted); err == nil {
		t.Error("waiting -> completed should be rejected")
	}

	if err := m.UpdateStepStatus(InitProcessing, StatusProcessing); err != nil {
		t.Fatalf("waiting -> processing: %v", err)
	}
	if err := m.CompleteStep(InitProcessing); err != nil {
		t.Fatalf("processing -> completed: %v", err)
	}

	// completed is terminal.
	if err := m.UpdateStepStatus(InitProcessing, StatusProcessing); err == nil {
		t.Error("completed -> processing should be rejected")
	}
}

func TestUpdateStepStatusMissingStep(t *testing.T) {
	m, _ := newTestManager()
	err := m.UpdateStepStatus("ghost", StatusProcessing)
	if !errors.Is(err, errors.ErrStepNotFound) {
		t.Errorf("error = %v, want ErrStepNotFound", err)
	}
}

func TestMarkStepAsErrorAttachesRetryData(t *testing.T) {
	m, _ := newTestManager()
	if err := m.InitSteps([]string{CallAIService}, nil); err != nil {
		t.Fatalf("InitSteps: %v", err)
	}
	if err := m.UpdateStepStatus(CallAIService, StatusProcessing); err != nil {
		t.Fatalf("to processing: %v", err)
	}

	retry := &RetryData{TurnID: "t1", AgentID: "7", Prompt: "hello", NodeIndex: -1}
	if err := m.MarkStepAsError(CallAIService, retry); err != nil {
		t.Fatalf("MarkStepAsError: %v", err)
	}

	s, ok := m.StepByID(CallAIService)
	if !ok {
		t.Fatal("step disappeared")
	}
	if s.Status != StatusError {
		t.Errorf("status = %s, want error", s.Status)
	}
	if s.RetryData == nil || s.RetryData.TurnID != "t1" {
		t.Errorf("retry data = %+v, want TurnID=t1", s.RetryData)
	}
}

func TestRetryStep(t *testing.T) {
	m, _ := newTestManager()
	if err := m.InitSteps([]string{CallAIService}, nil); err != nil {
		t.Fatalf("InitSteps: %v", err)
	}

	// Not in error: retry refused.
	if got := m.RetryStep(CallAIService); got != nil {
		t.Error("RetryStep on waiting step should return nil")
	}

	if err := m.UpdateStepStatus(CallAIService, StatusProcessing); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkStepAsError(CallAIService, &RetryData{AgentID: "7", NodeIndex: -1}); err != nil {
		t.Fatal(err)
	}

	got := m.RetryStep(CallAIService)
	if got == nil {
		t.Fatal("RetryStep on errored step returned nil")
	}
	if got.Status != StatusProcessing {
		t.Errorf("status after retry = %s, want processing", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", got.RetryCount)
	}
	if got.RetryData == nil || got.RetryData.AgentID != "7" {
		t.Errorf("retry data = %+v, want AgentID=7", got.RetryData)
	}
}

func TestWorkflowStepLifecycle(t *testing.T) {
	m, _ := newTestManager()

	key := WorkflowStepKey(1, "n-abc")
	if key != "workflow_node_1_n-abc" {
		t.Fatalf("key = %q", key)
	}

	m.AddWorkflowStep(key, "Node 2: Processing with Reviewer...", StatusProcessing, nil)
	if err := m.UpdateWorkflowStep(key, StatusCompleted, "", nil); err != nil {
		t.Fatalf("UpdateWorkflowStep: %v", err)
	}

	s, ok := m.StepByID(key)
	if !ok {
		t.Fatal("workflow step not found")
	}
	if s.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", s.Status)
	}
	if s.Content != "Node 2: Processing with Reviewer..." {
		t.Errorf("empty content update should preserve content, got %q", s.Content)
	}

	if !m.RemoveStep(key) {
		t.Error("RemoveStep returned false for live step")
	}
	if m.RemoveStep(key) {
		t.Error("RemoveStep returned true for already removed step")
	}
	if got := len(m.Steps()); got != 0 {
		t.Errorf("steps after removal = %d, want 0", got)
	}
}

func TestAddStepAppendsCompleted(t *testing.T) {
	m, _ := newTestManager()
	if _, err := m.AddStep(ErrorOccurred, Context{Err: "boom"}); err != nil {
		t.Fatalf("AddStep: %v", err)
	}

	steps := m.Steps()
	if len(steps) != 1 {
		t.Fatalf("got %d steps, want 1", len(steps))
	}
	if steps[0].Status != StatusCompleted {
		t.Errorf("status = %s, want completed", steps[0].Status)
	}
	if steps[0].Content != "Processing failed: boom" {
		t.Errorf("content = %q", steps[0].Content)
	}
}

func TestDescribeDefaults(t *testing.T) {
	tests := []struct {
		id   string
		ctx  Context
		want string
	}{
		{InitProcessing, Context{}, "Starting to process your request..."},
		{RetrieveDocuments, Context{DocumentCount: 1}, "Retrieving content from 1 referenced document..."},
		{LoadAgentConfig, Context{}, "Loading Agent configuration..."},
		{CallAIService, Context{}, "Calling backend AI service..."},
		{AIServiceFailed, Context{}, "AI service call failed: Unknown error"},
	}
	for _, tt := range tests {
		got, err := Describe(tt.id, tt.ctx)
		if err != nil {
			t.Errorf("Describe(%s): %v", tt.id, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Describe(%s) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestSnapshotIsolation(t *testing.T) {
	m, _ := newTestManager()
	if err := m.InitSteps([]string{InitProcessing}, nil); err != nil {
		t.Fatal(err)
	}

	snap := m.Steps()
	snap[0].Content = strings.ToUpper(snap[0].Content)

	fresh := m.Steps()
	if fresh[0].Content != "Starting to process your request..." {
		t.Errorf("mutating a snapshot leaked into the manager: %q", fresh[0].Content)
	}
}

func TestClearSteps(t *testing.T) {
	m, updates := newTestManager()
	if err := m.InitSteps([]string{InitProcessing, CallAIService}, nil); err != nil {
		t.Fatal(err)
	}
	m.ClearSteps()

	if got := len(m.Steps()); got != 0 {
		t.Errorf("steps after clear = %d, want 0", got)
	}
	last := (*updates)[len(*updates)-1]
	if len(last) != 0 {
		t.Errorf("final notification carried %d steps, want 0", len(last))
	}
}
