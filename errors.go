package analyst

import (
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeMalformedAction  = "MALFORMED_ACTION"
	ErrCodeUnrecognizedTool = "UNRECOGNIZED_TOOL"
	ErrCodeToolExecution    = "TOOL_EXECUTION_ERROR"
	ErrCodeQueryExecution   = "QUERY_EXECUTION_ERROR"
	ErrCodeStepBudget       = "STEP_BUDGET_EXCEEDED"
	ErrCodeGateway          = "MODEL_GATEWAY_ERROR"
	ErrCodeAbortPolicy      = "ABORT_POLICY_TRIGGERED"
	ErrCodeConfiguration    = "CONFIGURATION_ERROR"
	ErrCodeCancelled        = "SESSION_CANCELLED"
	ErrCodeCache            = "CACHE_ERROR"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// ErrNoPendingAction is returned by AddInformation when the planner is not
// waiting for an observation.
var ErrNoPendingAction = errors.New("no dispatched action is waiting for an observation")

// ErrPlannerFinished is returned by Next once the planner reached DONE or ABORTED.
var ErrPlannerFinished = errors.New("planner session is finished")

// AnalystError is the coded error type used across session stages.
type AnalystError struct {
	Code    string // A machine-readable error code (e.g., ErrCodeStepBudget)
	Message string // A human-readable message
	Stage   string // The stage where the error occurred (e.g., "thinking", "dispatch")
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *AnalystError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *AnalystError) Unwrap() error {
	return e.Cause
}

// NewError creates a new AnalystError.
func NewError(code, stage, message string, cause error) *AnalystError {
	return &AnalystError{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

func NewValidationError(stage, message string, cause error) *AnalystError {
	return NewError(ErrCodeValidation, stage, message, cause)
}

func NewToolExecutionError(stage, toolName string, cause error) *AnalystError {
	return NewError(ErrCodeToolExecution, stage, fmt.Sprintf("execution failed for tool '%s'", toolName), cause)
}

func NewGatewayError(stage string, cause error) *AnalystError {
	return NewError(ErrCodeGateway, stage, "model gateway call failed", cause)
}

func NewConfigurationError(message string, cause error) *AnalystError {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewCancelledError(stage string, cause error) *AnalystError {
	msg := "session cancelled"
	if cause != nil && cause.Error() != "" && cause.Error() != "context canceled" {
		msg = fmt.Sprintf("session cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewAbortPolicyError(expression string, counters map[string]interface{}) *AnalystError {
	return NewError(ErrCodeAbortPolicy, "dispatch", fmt.Sprintf("abort policy %q matched %v", expression, counters), nil)
}

func NewCacheError(stage, operation string, cause error) *AnalystError {
	return NewError(ErrCodeCache, stage, fmt.Sprintf("cache operation '%s' failed", operation), cause)
}

func NewInternalError(stage, message string, cause error) *AnalystError {
	return NewError(ErrCodeInternal, stage, message, cause)
}

// MalformedActionError reports a model step that does not follow the
// Thought/Action/Action Input grammar.
type MalformedActionError struct {
	Raw    string
	Reason string
}

func (e *MalformedActionError) Error() string {
	return fmt.Sprintf("malformed action (%s): %q", e.Reason, e.Raw)
}

// Code returns the machine-readable error code.
func (e *MalformedActionError) Code() string { return ErrCodeMalformedAction }

// UnrecognizedToolError reports a tool name outside the configured tool set.
type UnrecognizedToolError struct {
	Name  string
	Known []string
}

func (e *UnrecognizedToolError) Error() string {
	return fmt.Sprintf("unrecognized tool %q, expected one of %v", e.Name, e.Known)
}

// Code returns the machine-readable error code.
func (e *UnrecognizedToolError) Code() string { return ErrCodeUnrecognizedTool }

// QueryExecutionError carries the generated query that failed against the store.
type QueryExecutionError struct {
	Query string
	Cause error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("query %q failed: %v", e.Query, e.Cause)
}

func (e *QueryExecutionError) Unwrap() error { return e.Cause }

// Code returns the machine-readable error code.
func (e *QueryExecutionError) Code() string { return ErrCodeQueryExecution }

// StepBudgetExceededError is yielded when the planner ran out of steps
// without reaching a final answer.
type StepBudgetExceededError struct {
	MaxSteps int
}

func (e *StepBudgetExceededError) Error() string {
	return fmt.Sprintf("no final answer within %d steps", e.MaxSteps)
}

// Code returns the machine-readable error code.
func (e *StepBudgetExceededError) Code() string { return ErrCodeStepBudget }

// ErrorCode extracts the machine-readable code from any error in the chain.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var ae *AnalystError
	if errors.As(err, &ae) {
		return ae.Code
	}
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return ErrCodeInternal
}
