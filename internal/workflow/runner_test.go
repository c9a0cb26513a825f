package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatbycard/internal/api"
	"chatbycard/internal/conversation"
	"chatbycard/internal/errors"
	"chatbycard/internal/event"
	"chatbycard/internal/step"
)

// fakeCaller scripts backend behavior per agent id.
type fakeCaller struct {
	mu       sync.Mutex
	requests []api.ChatRequest
	outputs  map[string]string // agent id -> response content
	fail     map[string]bool   // agent id -> fail the chat call
	gate     chan struct{}     // when set, CallChat blocks until closed
}

func (f *fakeCaller) ResolveAgentConfig(_ context.Context, id string) (api.AgentConfig, error) {
	return api.AgentConfig{ID: id, Name: "Agent " + id}, nil
}

func (f *fakeCaller) CallChat(_ context.Context, req api.ChatRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if f.fail[req.AgentID] {
		return "", errors.NewAICallError("backend rejected the call", nil).WithAgentID(req.AgentID)
	}
	return f.outputs[req.AgentID], nil
}

func (f *fakeCaller) recorded() []api.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]api.ChatRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

type fixture struct {
	log    *conversation.Log
	steps  *step.Manager
	bus    *event.Bus
	caller *fakeCaller
	runner *Runner
	events *eventLog
}

type eventLog struct {
	mu    sync.Mutex
	types []string
	ended []event.WorkflowEndedEvent
}

func (e *eventLog) record(evt event.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, evt.EventType())
	if ended, ok := evt.(event.WorkflowEndedEvent); ok {
		e.ended = append(e.ended, ended)
	}
}

func (e *eventLog) typeList() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.types))
	copy(out, e.types)
	return out
}

func (e *eventLog) lastEnded(t *testing.T) event.WorkflowEndedEvent {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.ended) == 0 {
		t.Fatal("no workflow.ended event recorded")
	}
	return e.ended[len(e.ended)-1]
}

func newRunnerFixture(caller *fakeCaller) *fixture {
	bus := event.NewBus()
	events := &eventLog{}
	bus.SubscribeAll(events.record)
	f := &fixture{
		log:    conversation.NewLog(conversation.Callbacks{}),
		steps:  step.NewManager(nil),
		bus:    bus,
		caller: caller,
		events: events,
	}
	f.runner = NewRunner(f.log, f.steps, f.bus, caller, nil, 0)
	return f
}

func mustParse(t *testing.T, def string) *Workflow {
	t.Helper()
	wf, err := Parse([]byte(def))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return wf
}

func waitForCalls(t *testing.T, caller *fakeCaller, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(caller.recorded()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d AI calls", n)
}

func waitForRun(t *testing.T, r *Runner) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("workflow run did not finish in time")
	}
}

func TestMarkerOnlyNodesProduceNoExtraTurns(t *testing.T) {
	caller := &fakeCaller{outputs: map[string]string{"7": "node output"}}
	f := newRunnerFixture(caller)
	wf := mustParse(t, `{
		"id": "wf-1", "name": "Single",
		"nodes": [
			{"id": "-1", "name": "Start"},
			{"id": "7", "name": "Only", "user_prompt": "Do the thing"},
			{"id": "-2", "name": "End"}
		]
	}`)

	if err := f.runner.Start(context.Background(), wf, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForRun(t, f.runner)

	turns := f.log.Turns()
	// Summary turn plus exactly one executed-node turn; markers add nothing.
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	if turns[0].Input.Workflow == nil || turns[0].Input.Workflow.NodeIndex != -1 {
		t.Errorf("first turn should be the run summary, got %+v", turns[0].Input.Workflow)
	}
	if turns[0].Response.Status != conversation.StatusCompleted {
		t.Errorf("summary turn status = %s, want completed", turns[0].Response.Status)
	}
	if turns[1].Input.Workflow == nil || turns[1].Input.Workflow.NodeIndex != 1 {
		t.Errorf("node turn workflow info = %+v", turns[1].Input.Workflow)
	}
	if turns[1].Response.Content != "node output" {
		t.Errorf("node turn content = %q", turns[1].Response.Content)
	}
	if got := f.events.lastEnded(t); got.Reason != event.EndReasonCompleted {
		t.Errorf("end reason = %s, want completed", got.Reason)
	}
	if got := len(f.steps.Steps()); got != 0 {
		t.Errorf("%d live steps remain after run, want 0", got)
	}
}

func TestNodeOutputsChainAsContext(t *testing.T) {
	caller := &fakeCaller{outputs: map[string]string{"7": "first answer", "8": "second answer"}}
	f := newRunnerFixture(caller)
	wf := mustParse(t, `{
		"id": "wf-2", "name": "Chain",
		"nodes": [
			{"id": "-1", "name": "Start"},
			{"id": "7", "name": "One", "user_prompt": "Summarize {{topic}}"},
			{"id": "8", "name": "Two", "user_prompt": "Refine it"},
			{"id": "-2", "name": "End"}
		]
	}`)

	if err := f.runner.Start(context.Background(), wf, map[string]string{"topic": "the report"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForRun(t, f.runner)

	reqs := caller.recorded()
	if len(reqs) != 2 {
		t.Fatalf("got %d AI calls, want 2", len(reqs))
	}
	if reqs[0].UserInput != "Summarize the report" {
		t.Errorf("first prompt = %q", reqs[0].UserInput)
	}
	if reqs[1].UserInput != "first answer\n\nRefine it" {
		t.Errorf("second prompt = %q, previous output should be prepended", reqs[1].UserInput)
	}
	if reqs[1].PreviousAIOutput != "first answer" {
		t.Errorf("second request previous output = %q", reqs[1].PreviousAIOutput)
	}

	turns := f.log.Turns()
	if got := turns[0].Input.FormValues["topic"]; got != "the report" {
		t.Errorf("summary turn form values = %v", turns[0].Input.FormValues)
	}
	if got := turns[2].Input.PreviousOutput; got != "first answer" {
		t.Errorf("second node turn previous output = %q", got)
	}
}

func TestBlankRenderedPromptFallsBackToPreviousOutput(t *testing.T) {
	caller := &fakeCaller{outputs: map[string]string{"7": "the only context", "8": "done"}}
	f := newRunnerFixture(caller)
	wf := mustParse(t, `{
		"id": "wf-3", "name": "Fallback",
		"nodes": [
			{"id": "7", "name": "One", "user_prompt": "Write something"},
			{"id": "8", "name": "Two", "user_prompt": "{{undefined}}"}
		]
	}`)

	if err := f.runner.Start(context.Background(), wf, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForRun(t, f.runner)

	reqs := caller.recorded()
	if len(reqs) != 2 {
		t.Fatalf("got %d AI calls, want 2", len(reqs))
	}
	if reqs[1].UserInput != "the only context" {
		t.Errorf("fallback prompt = %q, want previous output", reqs[1].UserInput)
	}
	if err := f.runner.Err(); err != nil {
		t.Errorf("run error = %v, want nil", err)
	}
}

func TestBlankPromptWithNoPreviousOutputSkipsNode(t *testing.T) {
	caller := &fakeCaller{outputs: map[string]string{"8": "real output"}}
	f := newRunnerFixture(caller)
	wf := mustParse(t, `{
		"id": "wf-skip", "name": "Skip",
		"nodes": [
			{"id": "-1", "name": "Start"},
			{"id": "7", "name": "Blank", "user_prompt": "{{undefined}}"},
			{"id": "8", "name": "Real", "user_prompt": "Do the work"},
			{"id": "-2", "name": "End"}
		]
	}`)

	if err := f.runner.Start(context.Background(), wf, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForRun(t, f.runner)

	// The first node has nothing to say and nothing to forward, so it is
	// skipped and the run continues.
	reqs := caller.recorded()
	if len(reqs) != 1 {
		t.Fatalf("made %d AI calls, want 1", len(reqs))
	}
	if reqs[0].AgentID != "8" || reqs[0].UserInput != "Do the work" {
		t.Errorf("request = %+v, want the second node's call", reqs[0])
	}
	if err := f.runner.Err(); err != nil {
		t.Errorf("run error = %v, want nil", err)
	}
	if got := f.events.lastEnded(t); got.Reason != event.EndReasonCompleted {
		t.Errorf("end reason = %s, want completed", got.Reason)
	}

	// Only the summary turn and the executed node's turn exist.
	if got := f.log.Len(); got != 2 {
		t.Errorf("got %d turns, want 2", got)
	}
}

func TestEndMarkerCompletesRunBeforeLaterNodes(t *testing.T) {
	caller := &fakeCaller{outputs: map[string]string{"7": "ran", "8": "must not run"}}
	f := newRunnerFixture(caller)
	wf := mustParse(t, `{
		"id": "wf-end", "name": "EarlyEnd",
		"nodes": [
			{"id": "7", "name": "One", "user_prompt": "Go"},
			{"id": "-2", "name": "End"},
			{"id": "8", "name": "After", "user_prompt": "Too late"}
		]
	}`)

	if err := f.runner.Start(context.Background(), wf, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForRun(t, f.runner)

	reqs := caller.recorded()
	if len(reqs) != 1 {
		t.Fatalf("made %d AI calls, want 1 (nodes after the end marker never run)", len(reqs))
	}
	if reqs[0].AgentID != "7" {
		t.Errorf("called agent %s, want 7", reqs[0].AgentID)
	}
	if got := f.events.lastEnded(t); got.Reason != event.EndReasonCompleted {
		t.Errorf("end reason = %s, want completed", got.Reason)
	}
}

func TestMissingVariableRejectsStart(t *testing.T) {
	caller := &fakeCaller{}
	f := newRunnerFixture(caller)
	wf := mustParse(t, `{
		"id": "wf-4", "name": "Vars",
		"vars": [{"name": "topic"}],
		"nodes": [{"id": "7", "name": "One", "user_prompt": "{{topic}}"}]
	}`)

	err := f.runner.Start(context.Background(), wf, nil)
	if !errors.Is(err, errors.ErrMissingVariable) {
		t.Fatalf("err = %v, want ErrMissingVariable", err)
	}
	if f.log.Len() != 0 {
		t.Errorf("rejected start appended %d turns, want 0", f.log.Len())
	}
	if len(caller.recorded()) != 0 {
		t.Error("rejected start should make no AI calls")
	}
}

func TestFailedNodeStopsRun(t *testing.T) {
	caller := &fakeCaller{
		outputs: map[string]string{"8": "never reached"},
		fail:    map[string]bool{"7": true},
	}
	f := newRunnerFixture(caller)
	wf := mustParse(t, `{
		"id": "wf-5", "name": "Failing",
		"nodes": [
			{"id": "7", "name": "Broken", "user_prompt": "Go"},
			{"id": "8", "name": "Next", "user_prompt": "Continue"}
		]
	}`)

	if err := f.runner.Start(context.Background(), wf, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForRun(t, f.runner)

	if got := len(caller.recorded()); got != 1 {
		t.Errorf("made %d AI calls, want 1 (run stops at the failure)", got)
	}

	var aiErr *errors.AICallError
	if !errors.As(f.runner.Err(), &aiErr) {
		t.Fatalf("runner error = %v, want AICallError", f.runner.Err())
	}
	if aiErr.NodeIndex != 0 {
		t.Errorf("node index = %d, want 0", aiErr.NodeIndex)
	}

	turns := f.log.Turns()
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want summary + failed node", len(turns))
	}
	failed := turns[1]
	if failed.Response.Status != conversation.StatusError {
		t.Errorf("failed node turn status = %s, want error", failed.Response.Status)
	}
	if len(failed.Response.Steps) != 1 {
		t.Fatalf("frozen step snapshot has %d steps, want 1", len(failed.Response.Steps))
	}
	frozen := failed.Response.Steps[0]
	if frozen.Status != step.StatusError {
		t.Errorf("frozen step status = %s, want error", frozen.Status)
	}
	if frozen.RetryData == nil || frozen.RetryData.NodeIndex != 0 || frozen.RetryData.AgentID != "7" {
		t.Errorf("frozen retry data = %+v", frozen.RetryData)
	}

	if got := f.events.lastEnded(t); got.Reason != event.EndReasonFailed || got.Error == "" {
		t.Errorf("ended event = %+v, want failed with message", got)
	}
}

func TestStartWhileExecutingReturnsBusy(t *testing.T) {
	gate := make(chan struct{})
	caller := &fakeCaller{outputs: map[string]string{"7": "out"}, gate: gate}
	f := newRunnerFixture(caller)
	wf := mustParse(t, `{
		"id": "wf-6", "name": "Busy",
		"nodes": [{"id": "7", "name": "Slow", "user_prompt": "Go"}]
	}`)

	if err := f.runner.Start(context.Background(), wf, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := f.runner.Start(context.Background(), wf, nil)
	if !errors.Is(err, errors.ErrWorkflowBusy) {
		t.Errorf("second Start err = %v, want ErrWorkflowBusy", err)
	}

	close(gate)
	waitForRun(t, f.runner)

	// Once the run finished, starting again is allowed.
	gate2 := make(chan struct{})
	close(gate2)
	caller.mu.Lock()
	caller.gate = gate2
	caller.mu.Unlock()
	if err := f.runner.Start(context.Background(), wf, nil); err != nil {
		t.Errorf("restart after completion: %v", err)
	}
	waitForRun(t, f.runner)
}

func TestStopTakesEffectAtNodeBoundary(t *testing.T) {
	gate := make(chan struct{})
	caller := &fakeCaller{outputs: map[string]string{"7": "one", "8": "two"}, gate: gate}
	f := newRunnerFixture(caller)
	wf := mustParse(t, `{
		"id": "wf-7", "name": "Stoppable",
		"nodes": [
			{"id": "7", "name": "One", "user_prompt": "Go"},
			{"id": "8", "name": "Two", "user_prompt": "More"}
		]
	}`)

	if err := f.runner.Start(context.Background(), wf, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Wait until the first node's AI call is in flight so the stop lands
	// at the boundary between the two nodes.
	waitForCalls(t, caller, 1)
	if err := f.runner.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(gate)
	waitForRun(t, f.runner)

	// The in-flight node finishes, the second never starts.
	if got := len(caller.recorded()); got != 1 {
		t.Errorf("made %d AI calls, want 1", got)
	}
	if got := f.events.lastEnded(t); got.Reason != event.EndReasonStopped {
		t.Errorf("end reason = %s, want stopped", got.Reason)
	}
	if err := f.runner.Err(); err != nil {
		t.Errorf("stopped run error = %v, want nil", err)
	}

	if err := f.runner.Stop(); !errors.Is(err, errors.ErrWorkflowNotExecuting) {
		t.Errorf("Stop while idle err = %v, want ErrWorkflowNotExecuting", err)
	}
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	caller := &fakeCaller{outputs: map[string]string{"7": "out"}}
	f := newRunnerFixture(caller)
	wf := mustParse(t, `{
		"id": "wf-8", "name": "Events",
		"nodes": [
			{"id": "-1", "name": "Start"},
			{"id": "7", "name": "One", "user_prompt": "Go"},
			{"id": "-2", "name": "End"}
		]
	}`)

	if err := f.runner.Start(context.Background(), wf, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForRun(t, f.runner)

	var got []string
	for _, typ := range f.events.typeList() {
		if typ == "workflow.started" || typ == "workflow.node_started" ||
			typ == "workflow.node_completed" || typ == "workflow.ended" {
			got = append(got, typ)
		}
	}
	want := []string{"workflow.started", "workflow.node_started", "workflow.node_completed", "workflow.ended"}
	if len(got) != len(want) {
		t.Fatalf("lifecycle events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}
