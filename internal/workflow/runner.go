package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"chatbycard/internal/api"
	"chatbycard/internal/conversation"
	"chatbycard/internal/errors"
	"chatbycard/internal/event"
	"chatbycard/internal/logging"
	"chatbycard/internal/step"
	"chatbycard/internal/template"
)

// AgentCaller is the slice of the backend client the runner needs.
type AgentCaller interface {
	ResolveAgentConfig(ctx context.Context, id string) (api.AgentConfig, error)
	CallChat(ctx context.Context, req api.ChatRequest) (string, error)
}

// State is a point-in-time snapshot of a runner.
type State struct {
	Executing     bool
	WorkflowID    string
	WorkflowName  string
	CurrentNode   int // index into the node list, -1 when idle
	StopRequested bool
}

// Runner executes one workflow at a time against the conversation log.
// Nodes run sequentially; each agent node's output becomes the context
// for the next. A failed AI call stops the run, a requested stop takes
// effect at the next node boundary.
type Runner struct {
	log       *conversation.Log
	steps     *step.Manager
	bus       *event.Bus
	caller    AgentCaller
	logger    *logging.Logger
	nodeDelay time.Duration

	mu            sync.Mutex
	executing     bool
	stopRequested bool
	currentNode   int
	workflowID    string
	workflowName  string
	done          chan struct{}
	runErr        error
}

// NewRunner creates a workflow runner. nodeDelay is the pause between
// consecutive agent nodes; zero disables pacing.
func NewRunner(log *conversation.Log, steps *step.Manager, bus *event.Bus, caller AgentCaller, logger *logging.Logger, nodeDelay time.Duration) *Runner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Runner{
		log:         log,
		steps:       steps,
		bus:         bus,
		caller:      caller,
		logger:      logger,
		nodeDelay:   nodeDelay,
		currentNode: -1,
	}
}

// Start validates the variables, appends the run summary turn, and
// begins executing nodes in the background. Returns ErrWorkflowBusy if
// a run is already executing and a missing-variable ValidationError if
// a required variable has no value; in both cases nothing is appended
// to the conversation.
func (r *Runner) Start(ctx context.Context, wf *Workflow, supplied map[string]string) error {
	vars, err := wf.ResolveVariables(supplied)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.executing {
		r.mu.Unlock()
		return errors.Wrapf(errors.ErrWorkflowBusy, "start workflow %s", wf.ID)
	}
	r.executing = true
	r.stopRequested = false
	r.currentNode = -1
	r.workflowID = wf.ID
	r.workflowName = wf.Name
	r.runErr = nil
	r.done = make(chan struct{})
	r.mu.Unlock()

	r.appendSummaryTurn(wf, vars)
	r.bus.Publish(event.NewWorkflowStartedEvent(wf.ID, wf.Name, len(wf.Nodes)))
	r.logger.WithWorkflow(wf.ID).Info("workflow started",
		"name", wf.Name, "nodes", len(wf.Nodes), "agent_nodes", wf.AgentNodeCount())

	go r.run(ctx, wf, vars)
	return nil
}

// Stop requests a cooperative stop. The current node finishes; no
// further nodes start. Returns ErrWorkflowNotExecuting when idle.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.executing {
		return errors.Wrap(errors.ErrWorkflowNotExecuting, "stop workflow")
	}
	r.stopRequested = true
	return nil
}

// Done returns a channel closed when the current run finishes. Returns
// nil when no run has been started.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Err returns the error that ended the last run, nil for completed and
// stopped runs.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}

// State returns a snapshot of the runner.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		Executing:     r.executing,
		WorkflowID:    r.workflowID,
		WorkflowName:  r.workflowName,
		CurrentNode:   r.currentNode,
		StopRequested: r.stopRequested,
	}
}

// appendSummaryTurn records the run itself as a completed turn so the
// conversation shows where the workflow began.
func (r *Runner) appendSummaryTurn(wf *Workflow, vars map[string]string) {
	turn := r.log.Append(conversation.UserInput{
		Content:    fmt.Sprintf("Run workflow: %s", wf.Name),
		FormValues: vars,
		Workflow: &conversation.WorkflowInfo{
			ID:        wf.ID,
			Name:      wf.Name,
			NodeIndex: -1,
		},
	})

	var names []string
	for _, n := range wf.Nodes {
		if !n.IsMarker() {
			names = append(names, n.Name)
		}
	}
	summary := fmt.Sprintf("Workflow %q started with %d agent node(s): %s.",
		wf.Name, len(names), strings.Join(names, ", "))
	if len(names) == 0 {
		summary = fmt.Sprintf("Workflow %q has no agent nodes to execute.", wf.Name)
	}
	if err := r.log.CompleteResponse(turn.ID, summary); err != nil {
		r.logger.Error("failed to complete workflow summary turn", "error", err)
	}
}

func (r *Runner) run(ctx context.Context, wf *Workflow, vars map[string]string) {
	logger := r.logger.WithWorkflow(wf.ID)
	lastOutput := ""
	reason := event.EndReasonCompleted
	var runErr error

	for i, node := range wf.Nodes {
		if ctx.Err() != nil || r.stopWanted() {
			reason = event.EndReasonStopped
			logger.Info("workflow stopped", "at_node", i)
			break
		}
		if node.ID == EndMarkerID {
			// End marker completes the run; anything after it never
			// executes.
			break
		}
		if node.IsMarker() {
			continue
		}

		r.setCurrentNode(i)
		output, skipped, err := r.executeNode(ctx, wf, i, node, vars, lastOutput)
		if err != nil {
			reason = event.EndReasonFailed
			runErr = err
			break
		}
		if skipped {
			continue
		}
		lastOutput = output

		if r.nodeDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.nodeDelay):
			}
		}
	}

	r.finish(wf.ID, reason, runErr)
}

// executeNode runs a single agent node: renders the prompt, records the
// turn and its workflow step, performs the AI call, and freezes the
// step outcome into the turn. A node whose rendered prompt is blank
// with no previous output to fall back on is skipped, not failed.
func (r *Runner) executeNode(ctx context.Context, wf *Workflow, index int, node Node, vars map[string]string, lastOutput string) (output string, skipped bool, err error) {
	logger := r.logger.WithWorkflow(wf.ID).WithNode(index)
	key := step.WorkflowStepKey(index, node.ID)

	prompt := template.Render(node.UserPrompt, vars, lastOutput)
	if prompt == "" {
		if lastOutput == "" {
			logger.Warn("node renders an empty prompt and no previous output exists, skipping", "node", node.Name)
			return "", true, nil
		}
		logger.Warn("node prompt rendered blank, falling back to previous output", "node", node.Name)
		prompt = lastOutput
	}

	r.bus.Publish(event.NewWorkflowNodeStartedEvent(wf.ID, index, node.Name))
	r.steps.AddWorkflowStep(key,
		fmt.Sprintf("Node %d: Processing with %s...", index, node.Name),
		step.StatusProcessing, nil)

	// The node's id doubles as the id of the agent it invokes.
	agentName := node.Name
	if cfg, cfgErr := r.caller.ResolveAgentConfig(ctx, node.ID); cfgErr != nil {
		logger.Warn("agent config resolution failed, proceeding with node defaults",
			"agent_id", node.ID, "error", cfgErr)
	} else if cfg.Name != "" {
		agentName = cfg.Name
	}

	turn := r.log.Append(conversation.UserInput{
		Content:        prompt,
		Agent:          &conversation.AgentRef{ID: node.ID, Name: agentName},
		PreviousOutput: lastOutput,
		Workflow: &conversation.WorkflowInfo{
			ID:        wf.ID,
			Name:      wf.Name,
			NodeIndex: index,
			NodeName:  node.Name,
		},
	})

	output, err = r.caller.CallChat(ctx, api.ChatRequest{
		AgentID:          node.ID,
		UserInput:        prompt,
		PreviousAIOutput: lastOutput,
	})
	if err != nil {
		retry := &step.RetryData{
			TurnID:         turn.ID,
			AgentID:        node.ID,
			Prompt:         prompt,
			PreviousOutput: lastOutput,
			NodeIndex:      index,
			NodeID:         node.ID,
		}
		if upErr := r.steps.UpdateWorkflowStep(key, step.StatusError,
			fmt.Sprintf("Node %d: %s failed", index, node.Name), retry); upErr != nil {
			logger.Error("failed to mark workflow step as errored", "error", upErr)
		}
		if failErr := r.log.FailResponse(turn.ID, errors.UserMessage(err)); failErr != nil {
			logger.Error("failed to record node failure on turn", "error", failErr)
		}
		r.freezeStep(turn.ID, key, logger)
		logger.Error("node execution failed", "node", node.Name, "error", err)

		var aiErr *errors.AICallError
		if errors.As(err, &aiErr) {
			aiErr.WithNodeIndex(index)
		}
		return "", false, err
	}

	if upErr := r.steps.UpdateWorkflowStep(key, step.StatusCompleted, "", nil); upErr != nil {
		logger.Error("failed to complete workflow step", "error", upErr)
	}
	if err := r.log.CompleteResponse(turn.ID, output); err != nil {
		logger.Error("failed to complete node turn", "error", err)
	}
	r.freezeStep(turn.ID, key, logger)

	r.bus.Publish(event.NewWorkflowNodeCompletedEvent(wf.ID, index))
	logger.Info("node completed", "node", node.Name, "output_len", len(output))
	return output, false, nil
}

// freezeStep snapshots the node's step into the turn and removes it
// from the live list.
func (r *Runner) freezeStep(turnID, key string, logger *logging.Logger) {
	if s, ok := r.steps.StepByID(key); ok {
		if err := r.log.SetProcessSteps(turnID, []step.Step{s}); err != nil {
			logger.Error("failed to freeze step snapshot", "error", err)
		}
	}
	r.steps.RemoveStep(key)
}

func (r *Runner) finish(workflowID, reason string, runErr error) {
	r.mu.Lock()
	r.executing = false
	r.currentNode = -1
	r.runErr = runErr
	done := r.done
	r.mu.Unlock()

	errMsg := ""
	if runErr != nil {
		errMsg = errors.UserMessage(runErr)
	}
	r.bus.Publish(event.NewWorkflowEndedEvent(workflowID, reason, errMsg))
	r.logger.WithWorkflow(workflowID).Info("workflow ended", "reason", reason, "error", errMsg)
	close(done)
}

func (r *Runner) stopWanted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopRequested
}

func (r *Runner) setCurrentNode(i int) {
	r.mu.Lock()
	r.currentNode = i
	r.mu.Unlock()
}
