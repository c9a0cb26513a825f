// Package errors provides centralized error definitions and classification
// helpers for the chatbycard orchestration core.
//
// Two kinds of failures flow through the core. Degraded errors
// (RetrievalError, ConfigResolutionError) mean an enrichment step failed;
// the current turn proceeds without it. Fatal errors (AICallError) terminate
// the current turn — and, inside a workflow run, the whole run.
// ValidationError surfaces before any step starts, and UnknownStepError is a
// programmer error in the step registry.
//
// Checking errors:
//
//	if errors.IsFatal(err) { ... }      // must halt the turn/run
//	if errors.IsDegraded(err) { ... }   // proceed without the enrichment
//	if errors.Is(err, errors.ErrMissingVariable) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions so callers can import only this
// package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo Severity = iota
	// SeverityWarning is for degraded conditions the turn can survive.
	SeverityWarning
	// SeverityError is for errors that terminate the current turn or run.
	SeverityError
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Sentinel errors for the orchestration core.
var (
	// ErrMissingVariable indicates a workflow variable has no value.
	ErrMissingVariable = New("missing workflow variable")
	// ErrUnknownStep indicates a step id has no registered description generator.
	ErrUnknownStep = New("unknown step id")
	// ErrStepNotFound indicates a step id is not present in the live list.
	ErrStepNotFound = New("step not found")
	// ErrStepNotRetryable indicates a retry was requested for a step that is not in error status.
	ErrStepNotRetryable = New("step is not in error status")
	// ErrTurnNotFound indicates a conversation turn lookup failed.
	ErrTurnNotFound = New("conversation turn not found")
	// ErrTurnNotEditable indicates an edit was requested for a turn that is not editable.
	ErrTurnNotEditable = New("turn is not editable")
	// ErrWorkflowBusy indicates a workflow run is already executing.
	ErrWorkflowBusy = New("workflow already executing")
	// ErrWorkflowNotExecuting indicates a command that requires a live run.
	ErrWorkflowNotExecuting = New("no workflow executing")
	// ErrStreamTerminated indicates data arrived after a stream completed or errored.
	ErrStreamTerminated = New("stream already terminated")
	// ErrEmptyInput indicates a submission with nothing to send.
	ErrEmptyInput = New("empty input")
)

// CoreError is the interface implemented by all chatbycard error types.
type CoreError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsFatal reports whether this error terminates the current turn or run.
	IsFatal() bool

	// IsUserFacing reports whether the message is safe to show to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	fatal      bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsFatal() bool      { return e.fatal }
func (e *baseError) IsUserFacing() bool { return e.userFacing }

// ValidationError represents invalid input, surfaced before any step starts.
// The canonical case is a workflow variable with a blank value.
//
// Example:
//
//	err := errors.NewValidationError("variable has no value").WithField("topic")
type ValidationError struct {
	baseError
	Field string
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			fatal:      true,
			userFacing: true,
		},
	}
}

// NewMissingVariableError creates a ValidationError naming the first unmet
// workflow variable.
func NewMissingVariableError(name string) *ValidationError {
	err := NewValidationError(fmt.Sprintf("workflow variable %q has no value", name))
	err.Field = name
	err.cause = ErrMissingVariable
	return err
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	prefix := "validation error"
	if e.Field != "" {
		prefix = fmt.Sprintf("validation error [field=%s]", e.Field)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// RetrievalError represents a failed document-content fetch. It is degraded,
// not fatal: the turn proceeds without the document content.
type RetrievalError struct {
	baseError
	DocumentIDs []string
}

// NewRetrievalError creates a new RetrievalError.
func NewRetrievalError(message string, cause error) *RetrievalError {
	return &RetrievalError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			fatal:      false,
			userFacing: true,
		},
	}
}

// WithDocumentIDs adds the affected document ids to the error context.
func (e *RetrievalError) WithDocumentIDs(ids []string) *RetrievalError {
	e.DocumentIDs = ids
	return e
}

// Error returns the formatted error message.
func (e *RetrievalError) Error() string {
	prefix := "retrieval error"
	if len(e.DocumentIDs) > 0 {
		prefix = fmt.Sprintf("retrieval error [documents=%s]", strings.Join(e.DocumentIDs, ","))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *RetrievalError) Is(target error) bool {
	if _, ok := target.(*RetrievalError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ConfigResolutionError represents a failed agent-config fetch. It is
// degraded, not fatal: the AI call proceeds with only the agent id.
type ConfigResolutionError struct {
	baseError
	AgentID string
}

// NewConfigResolutionError creates a new ConfigResolutionError.
func NewConfigResolutionError(message string, cause error) *ConfigResolutionError {
	return &ConfigResolutionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			fatal:      false,
			userFacing: true,
		},
	}
}

// WithAgentID adds the agent id to the error context.
func (e *ConfigResolutionError) WithAgentID(id string) *ConfigResolutionError {
	e.AgentID = id
	return e
}

// Error returns the formatted error message.
func (e *ConfigResolutionError) Error() string {
	prefix := "config resolution error"
	if e.AgentID != "" {
		prefix = fmt.Sprintf("config resolution error [agent=%s]", e.AgentID)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ConfigResolutionError) Is(target error) bool {
	if _, ok := target.(*ConfigResolutionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AICallError represents a failed AI chat call. It is fatal to the current
// turn; inside a workflow run it stops the entire run.
type AICallError struct {
	baseError
	AgentID   string
	NodeIndex int
}

// NewAICallError creates a new AICallError.
func NewAICallError(message string, cause error) *AICallError {
	return &AICallError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			fatal:      true,
			userFacing: true,
		},
		NodeIndex: -1, // -1 indicates no workflow node
	}
}

// WithAgentID adds the agent id to the error context.
func (e *AICallError) WithAgentID(id string) *AICallError {
	e.AgentID = id
	return e
}

// WithNodeIndex adds the workflow node index to the error context.
func (e *AICallError) WithNodeIndex(idx int) *AICallError {
	e.NodeIndex = idx
	return e
}

// Error returns the formatted error message.
func (e *AICallError) Error() string {
	var parts []string
	if e.AgentID != "" {
		parts = append(parts, fmt.Sprintf("agent=%s", e.AgentID))
	}
	if e.NodeIndex >= 0 {
		parts = append(parts, fmt.Sprintf("node=%d", e.NodeIndex))
	}

	prefix := "ai call error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("ai call error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *AICallError) Is(target error) bool {
	if _, ok := target.(*AICallError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// UnknownStepError represents a step registry miss: a step id with no
// registered description generator. This is a programmer error.
type UnknownStepError struct {
	baseError
	StepID string
}

// NewUnknownStepError creates a new UnknownStepError.
func NewUnknownStepError(stepID string) *UnknownStepError {
	return &UnknownStepError{
		baseError: baseError{
			message:    fmt.Sprintf("no step registered for id %q", stepID),
			cause:      ErrUnknownStep,
			severity:   SeverityError,
			fatal:      true,
			userFacing: false,
		},
		StepID: stepID,
	}
}

// Is checks if this error matches the target.
func (e *UnknownStepError) Is(target error) bool {
	if _, ok := target.(*UnknownStepError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// IsFatal reports whether the error must terminate the current turn or run.
// Unknown errors default to fatal so that a bug never silently degrades.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var coreErr CoreError
	if As(err, &coreErr) {
		return coreErr.IsFatal()
	}
	return true
}

// IsDegraded reports whether the error is a degraded (non-fatal) condition:
// the turn proceeds without the enrichment the failed step would have added.
func IsDegraded(err error) bool {
	if err == nil {
		return false
	}
	var coreErr CoreError
	if As(err, &coreErr) {
		return !coreErr.IsFatal()
	}
	return false
}

// IsUserFacing reports whether the error message is safe to display to end
// users as turn content or step text.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var coreErr CoreError
	if As(err, &coreErr) {
		return coreErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement CoreError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityInfo
	}
	var coreErr CoreError
	if As(err, &coreErr) {
		return coreErr.Severity()
	}
	return SeverityError
}

// UserMessage returns a human-readable message for the error, suitable for
// rendering as a turn's AI reply. Non-user-facing errors get a generic
// message while the detail goes to logs.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsUserFacing(err) {
		return err.Error()
	}
	return "An internal error occurred while processing your request."
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
