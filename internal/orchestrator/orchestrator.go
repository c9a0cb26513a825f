// Package orchestrator drives a single-question chat turn end to end:
// progress steps, document retrieval, agent config resolution, the AI
// call itself, and the conversation bookkeeping around it.
//
// Failure handling follows a two-tier policy. Retrieval and config
// resolution failures are degraded: the turn proceeds without the
// missing enrichment and the failure is only logged. AI call failures
// are fatal: the turn is marked as errored, the failing step keeps a
// retry payload, and a trailing error step describes what happened.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"chatbycard/internal/api"
	"chatbycard/internal/conversation"
	"chatbycard/internal/errors"
	"chatbycard/internal/event"
	"chatbycard/internal/logging"
	"chatbycard/internal/step"
	"chatbycard/internal/stream"
)

// Backend is the slice of the HTTP client the orchestrator needs.
type Backend interface {
	FetchDocumentsContent(ctx context.Context, ids []string) ([]api.DocumentContent, error)
	ResolveAgentConfig(ctx context.Context, id string) (api.AgentConfig, error)
	CallChat(ctx context.Context, req api.ChatRequest) (string, error)
	StreamChat(ctx context.Context, req api.ChatRequest, handlers stream.Handlers) error
}

// Options tune orchestrator behavior.
type Options struct {
	// Streaming selects the SSE endpoint for AI calls.
	Streaming bool
	// DisableDelays skips the cosmetic per-step pacing delays.
	DisableDelays bool
}

// SubmitRequest is one user question. External document references are
// passed through to the AI call but their content is never fetched.
type SubmitRequest struct {
	AgentID   string
	AgentName string // display fallback until the config resolves
	Documents []conversation.DocumentRef
	UserInput string
}

// Orchestrator owns the conversation log and the live step list, and
// bridges their change notifications onto the event bus.
type Orchestrator struct {
	backend Backend
	bus     *event.Bus
	logger  *logging.Logger
	opts    Options

	log   *conversation.Log
	steps *step.Manager
}

// New creates an orchestrator with a fresh conversation.
func New(backend Backend, bus *event.Bus, logger *logging.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	o := &Orchestrator{
		backend: backend,
		bus:     bus,
		logger:  logger,
		opts:    opts,
	}
	o.log = conversation.NewLog(conversation.Callbacks{
		OnAppend: func(t conversation.Turn) {
			bus.Publish(event.NewTurnAppendedEvent(t.ID, t.TurnIndex))
		},
		OnUpdate: func(t conversation.Turn) {
			bus.Publish(event.NewTurnUpdatedEvent(t.ID, string(t.Response.Status)))
		},
		OnReset: func() {
			bus.Publish(event.NewConversationResetEvent())
		},
	})
	o.steps = step.NewManager(func(steps []step.Step) {
		bus.Publish(event.NewStepsUpdatedEvent(len(steps)))
	})
	return o
}

// Conversation exposes the owned conversation log.
func (o *Orchestrator) Conversation() *conversation.Log {
	return o.log
}

// StepManager exposes the owned step manager.
func (o *Orchestrator) StepManager() *step.Manager {
	return o.steps
}

// Submit runs one chat turn to completion and returns the final turn.
// Blocking; run it from a goroutine when driving a UI. A degraded
// enrichment failure does not fail the turn; only the AI call can.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (conversation.Turn, error) {
	if strings.TrimSpace(req.UserInput) == "" {
		return conversation.Turn{}, errors.NewValidationError("user input must not be empty").
			WithField("userInput").WithCause(errors.ErrEmptyInput)
	}

	previousOutput := o.log.LastCompletedOutput()
	turn := o.log.Append(conversation.UserInput{
		Content:        req.UserInput,
		Documents:      req.Documents,
		Agent:          &conversation.AgentRef{ID: req.AgentID, Name: req.AgentName},
		PreviousOutput: previousOutput,
	})
	logger := o.logger.WithConversation(turn.ID)

	// External documents have no content to retrieve; only the rest get
	// a retrieval step.
	allIDs := documentIDs(req.Documents, true)
	fetchIDs := documentIDs(req.Documents, false)

	ids := []string{step.InitProcessing}
	if len(fetchIDs) > 0 {
		ids = append(ids, step.RetrieveDocuments)
	}
	ids = append(ids, step.LoadAgentConfig, step.CallAIService)
	contexts := map[string]step.Context{
		step.InitProcessing:    {AgentName: req.AgentName},
		step.RetrieveDocuments: {DocumentCount: len(fetchIDs)},
		step.LoadAgentConfig:   {AgentName: req.AgentName},
	}
	if err := o.steps.InitSteps(ids, contexts); err != nil {
		return conversation.Turn{}, err
	}

	o.runStep(ctx, step.InitProcessing, func() error { return nil })

	var docs []api.DocumentContent
	if len(fetchIDs) > 0 {
		o.runStep(ctx, step.RetrieveDocuments, func() error {
			var err error
			docs, err = o.backend.FetchDocumentsContent(ctx, fetchIDs)
			if err != nil {
				// Degraded: keep whatever content arrived.
				logger.Warn("document retrieval degraded", "error", err)
			}
			return nil
		})
		logger.Debug("documents retrieved", "requested", len(fetchIDs), "fetched", len(docs))
	}

	o.runStep(ctx, step.LoadAgentConfig, func() error {
		cfg, err := o.backend.ResolveAgentConfig(ctx, req.AgentID)
		if err != nil {
			// Degraded: the AI call proceeds with only the agent id.
			logger.Warn("agent config resolution degraded", "agent_id", req.AgentID, "error", err)
			return nil
		}
		if cfg.Name != "" {
			req.AgentName = cfg.Name
		}
		return nil
	})

	chatReq := api.ChatRequest{
		AgentID:          req.AgentID,
		DocumentIDs:      allIDs,
		UserInput:        req.UserInput,
		PreviousAIOutput: previousOutput,
	}

	if err := o.steps.UpdateStepStatus(step.CallAIService, step.StatusProcessing); err != nil {
		logger.Error("failed to start AI call step", "error", err)
	}

	output, err := o.callAI(ctx, turn.ID, chatReq)
	if err != nil {
		o.failTurn(turn.ID, req, chatReq, err, logger)
		return o.turnOrZero(turn.ID), err
	}

	if err := o.steps.CompleteStep(step.CallAIService); err != nil {
		logger.Error("failed to complete AI call step", "error", err)
	}
	if err := o.log.CompleteResponse(turn.ID, output); err != nil {
		logger.Error("failed to complete turn", "error", err)
	}
	o.freezeSteps(turn.ID, logger)

	logger.Info("turn completed", "agent_id", req.AgentID, "response_len", len(output))
	return o.turnOrZero(turn.ID), nil
}

// callAI performs the AI call over the configured transport. For
// streaming, chunks land on the turn as they arrive and the accumulated
// content is returned.
func (o *Orchestrator) callAI(ctx context.Context, turnID string, req api.ChatRequest) (string, error) {
	if !o.opts.Streaming {
		return o.backend.CallChat(ctx, req)
	}

	var acc strings.Builder
	var streamErr error
	err := o.backend.StreamChat(ctx, req, stream.Handlers{
		OnChunk: func(text string) {
			acc.WriteString(text)
			if err := o.log.AppendResponseContent(turnID, text); err != nil {
				o.logger.Error("failed to append stream chunk", "error", err)
			}
		},
		OnError: func(err error) { streamErr = err },
	})
	if err != nil {
		return "", err
	}
	if streamErr != nil {
		return "", errors.NewAICallError("stream reported an error", streamErr).WithAgentID(req.AgentID)
	}
	return acc.String(), nil
}

// failTurn records a fatal AI failure: errored call step with a retry
// payload, a trailing error step, and an errored turn carrying the
// user-facing message.
func (o *Orchestrator) failTurn(turnID string, req SubmitRequest, chatReq api.ChatRequest, cause error, logger *logging.Logger) {
	retry := &step.RetryData{
		TurnID:         turnID,
		AgentID:        req.AgentID,
		Prompt:         req.UserInput,
		PreviousOutput: chatReq.PreviousAIOutput,
		DocumentIDs:    chatReq.DocumentIDs,
		NodeIndex:      -1,
	}
	if err := o.steps.MarkStepAsError(step.CallAIService, retry); err != nil {
		logger.Error("failed to mark AI call step as errored", "error", err)
	}
	if _, err := o.steps.AddStep(step.AIServiceFailed, step.Context{Err: errors.UserMessage(cause)}); err != nil {
		logger.Error("failed to append error step", "error", err)
	}
	if err := o.log.FailResponse(turnID, errors.UserMessage(cause)); err != nil {
		logger.Error("failed to mark turn as errored", "error", err)
	}
	// Snapshot without clearing: the errored step stays live so it can
	// be retried.
	if err := o.log.SetProcessSteps(turnID, o.steps.Steps()); err != nil {
		logger.Error("failed to freeze step snapshot", "error", err)
	}
	logger.Error("turn failed", "agent_id", req.AgentID, "error", cause)
}

// RetryStep re-executes a failed AI call from the retry payload stored
// on the errored step. Returns ErrStepNotRetryable when the step is
// missing, not errored, or carries no payload.
func (o *Orchestrator) RetryStep(ctx context.Context, stepID string) (conversation.Turn, error) {
	retrying := o.steps.RetryStep(stepID)
	if retrying == nil || retrying.RetryData == nil {
		return conversation.Turn{}, errors.Wrapf(errors.ErrStepNotRetryable, "retry step %q", stepID)
	}
	rd := retrying.RetryData
	logger := o.logger.WithConversation(rd.TurnID)
	logger.Info("retrying AI call", "step", stepID, "attempt", retrying.RetryCount)

	if err := o.log.SetResponseStatus(rd.TurnID, conversation.StatusPending); err != nil {
		logger.Error("failed to reset turn for retry", "error", err)
	}

	chatReq := api.ChatRequest{
		AgentID:          rd.AgentID,
		DocumentIDs:      rd.DocumentIDs,
		UserInput:        rd.Prompt,
		PreviousAIOutput: rd.PreviousOutput,
	}
	output, err := o.callAI(ctx, rd.TurnID, chatReq)
	if err != nil {
		if markErr := o.steps.MarkStepAsError(stepID, rd); markErr != nil {
			logger.Error("failed to re-mark step as errored", "error", markErr)
		}
		if failErr := o.log.FailResponse(rd.TurnID, errors.UserMessage(err)); failErr != nil {
			logger.Error("failed to mark turn as errored", "error", failErr)
		}
		logger.Error("retry failed", "step", stepID, "error", err)
		return o.turnOrZero(rd.TurnID), err
	}

	if err := o.steps.CompleteStep(stepID); err != nil {
		logger.Error("failed to complete retried step", "error", err)
	}
	if err := o.log.CompleteResponse(rd.TurnID, output); err != nil {
		logger.Error("failed to complete retried turn", "error", err)
	}
	o.freezeSteps(rd.TurnID, logger)
	return o.turnOrZero(rd.TurnID), nil
}

// EditResponse rewrites the editable turn's AI output. The edited
// content becomes the previous-output context for the next question.
func (o *Orchestrator) EditResponse(turnID, content string) error {
	return o.log.EditAIResponse(turnID, content)
}

// Reset clears the conversation and the live step list.
func (o *Orchestrator) Reset() {
	o.steps.ClearSteps()
	o.log.Reset()
}

// runStep advances a waiting step through processing to completed,
// invoking work in between and pacing with the step's display delay.
// work returning an error is treated as degraded and never fails the
// step; fatal failures are handled by the AI call path only.
func (o *Orchestrator) runStep(ctx context.Context, id string, work func() error) {
	if err := o.steps.UpdateStepStatus(id, step.StatusProcessing); err != nil {
		o.logger.Error("failed to start step", "step", id, "error", err)
		return
	}
	if err := work(); err != nil {
		o.logger.Warn("step work degraded", "step", id, "error", err)
	}
	o.pace(ctx, step.Delay(id))
	if err := o.steps.CompleteStep(id); err != nil {
		o.logger.Error("failed to complete step", "step", id, "error", err)
	}
}

func (o *Orchestrator) pace(ctx context.Context, d time.Duration) {
	if o.opts.DisableDelays || d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// freezeSteps snapshots the live steps into the turn and clears the
// live list.
func (o *Orchestrator) freezeSteps(turnID string, logger *logging.Logger) {
	snap := o.steps.Steps()
	if err := o.log.SetProcessSteps(turnID, snap); err != nil {
		logger.Error("failed to freeze step snapshot", "error", err)
	}
	o.steps.ClearSteps()
}

func (o *Orchestrator) turnOrZero(id string) conversation.Turn {
	t, _ := o.log.Turn(id)
	return t
}

// DocumentRefs builds backend document references from plain ids.
func DocumentRefs(ids []string) []conversation.DocumentRef {
	if len(ids) == 0 {
		return nil
	}
	refs := make([]conversation.DocumentRef, len(ids))
	for i, id := range ids {
		refs[i] = conversation.DocumentRef{ID: id}
	}
	return refs
}

// documentIDs lists referenced document ids, optionally including
// external references.
func documentIDs(refs []conversation.DocumentRef, includeExternal bool) []string {
	var ids []string
	for _, ref := range refs {
		if ref.External && !includeExternal {
			continue
		}
		ids = append(ids, ref.ID)
	}
	return ids
}
