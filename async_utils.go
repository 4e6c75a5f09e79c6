package analyst

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/eventbus"
)

// AsyncExecutionStatus represents the status information for an async session.
type AsyncExecutionStatus struct {
	ExecutionID  string        `json:"execution_id"`
	Question     string        `json:"question"`
	CurrentState SessionState  `json:"current_state"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	Steps        int           `json:"steps"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorStage   string        `json:"error_stage,omitempty"`
}

// RunAsync starts a session in the background and returns its execution ID.
// The session is detached from ctx; use CancelAsync to stop it.
func (a *Analyst) RunAsync(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", NewValidationError(string(StateInit), "question cannot be empty", nil)
	}

	stateMachine := a.createStateMachine()
	s := NewSessionContext(question)
	executionID := s.ID

	asyncCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	a.asyncExecutionsMutex.Lock()
	a.asyncExecutions[executionID] = s
	a.asyncExecutionsMutex.Unlock()

	eb := a.EventBus()
	publish(ctx, eb, eventbus.EventAsyncSessionStarted, question, "Analyst.RunAsync", map[string]interface{}{
		"timestamp":    time.Now().Format(time.RFC3339),
		"execution_id": executionID,
	})

	go func() {
		defer cancel()

		result, err := stateMachine.Execute(asyncCtx, s)

		metadata := map[string]interface{}{
			"execution_id": executionID,
			"duration_ms":  s.GetTotalDuration().Milliseconds(),
		}
		if err != nil {
			metadata["error"] = err.Error()
			metadata["error_stage"] = s.ErrorStage()
		}
		publish(asyncCtx, eb, eventbus.EventAsyncSessionFinished, result, "Analyst.RunAsync", metadata)
	}()

	return executionID, nil
}

func (a *Analyst) lookupAsync(executionID string) (*SessionContext, error) {
	a.asyncExecutionsMutex.RLock()
	defer a.asyncExecutionsMutex.RUnlock()

	s, exists := a.asyncExecutions[executionID]
	if !exists {
		return nil, fmt.Errorf("execution with ID '%s' not found", executionID)
	}
	return s, nil
}

// GetAsyncStatus retrieves the current status of an async session.
func (a *Analyst) GetAsyncStatus(executionID string) (*AsyncExecutionStatus, error) {
	s, err := a.lookupAsync(executionID)
	if err != nil {
		return nil, err
	}

	state := s.CurrentState()
	status := &AsyncExecutionStatus{
		ExecutionID:  executionID,
		Question:     s.Question,
		CurrentState: state,
		StartTime:    s.StartTime(),
		Duration:     s.GetTotalDuration(),
		IsComplete:   state == StateComplete,
		HasError:     state == StateAborted || state == StateCancelled,
	}
	if result := s.Result(); result != nil {
		status.Steps = result.Steps
	} else {
		status.Steps = s.Metrics.Copy().Steps
	}
	if lastErr := s.Err(); lastErr != nil {
		status.ErrorMessage = lastErr.Error()
		status.ErrorStage = s.ErrorStage()
	}
	return status, nil
}

// GetAsyncResult retrieves the result of a finished async session.
// Aborted sessions return their Aborted result together with the error.
func (a *Analyst) GetAsyncResult(executionID string) (*PresentationResult, error) {
	s, err := a.lookupAsync(executionID)
	if err != nil {
		return nil, err
	}

	if !s.IsTerminal() {
		return nil, fmt.Errorf("execution is still in progress (current state: %s)", s.CurrentState())
	}
	if lastErr := s.Err(); lastErr != nil {
		return s.Result(), fmt.Errorf("execution failed during stage '%s': %w", s.ErrorStage(), lastErr)
	}
	return s.Result(), nil
}

// CancelAsync cancels a running async session.
// Returns false if the session already finished.
func (a *Analyst) CancelAsync(executionID string) (bool, error) {
	s, err := a.lookupAsync(executionID)
	if err != nil {
		return false, err
	}
	if s.IsTerminal() {
		return false, nil
	}
	if s.cancel == nil {
		return false, fmt.Errorf("cannot cancel execution: cancel function not found")
	}

	s.cancel()
	publish(context.Background(), a.EventBus(), eventbus.EventAsyncSessionCancelled, s.Question, "Analyst.CancelAsync", map[string]interface{}{
		"execution_id": executionID,
		"duration_ms":  s.GetTotalDuration().Milliseconds(),
	})
	return true, nil
}

// ListAsyncExecutions returns all async execution IDs and their current states.
func (a *Analyst) ListAsyncExecutions() map[string]string {
	a.asyncExecutionsMutex.RLock()
	defer a.asyncExecutionsMutex.RUnlock()

	result := make(map[string]string, len(a.asyncExecutions))
	for id, s := range a.asyncExecutions {
		result[id] = string(s.CurrentState())
	}
	return result
}

// CleanupCompletedExecutions removes finished sessions that ended more than
// olderThan ago and returns how many were removed.
func (a *Analyst) CleanupCompletedExecutions(olderThan time.Duration) int {
	a.asyncExecutionsMutex.Lock()
	defer a.asyncExecutionsMutex.Unlock()

	now := time.Now()
	count := 0
	for id, s := range a.asyncExecutions {
		if !s.IsTerminal() {
			continue
		}
		if now.Sub(s.EndTime()) > olderThan {
			delete(a.asyncExecutions, id)
			count++
		}
	}
	return count
}
