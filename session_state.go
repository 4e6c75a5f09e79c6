package analyst

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/eventbus"
	"github.com/google/uuid"
)

// SessionState represents where a session is in the think/act/observe loop.
type SessionState string

const (
	// StateInit builds the planner; no model call yet
	StateInit SessionState = "init"
	// StateThinking asks the model for the next step
	StateThinking SessionState = "thinking"
	// StateDispatch runs the proposed tool and feeds the observation back
	StateDispatch SessionState = "dispatch"
	// StatePresenting packages the final action for the caller
	StatePresenting SessionState = "presenting"
	// StateComplete is reached once a final answer was packaged
	StateComplete SessionState = "complete"
	// StateAborted means no answer could be produced
	StateAborted SessionState = "aborted"
	// StateCancelled means the caller stopped the session
	StateCancelled SessionState = "cancelled"
	// StateUnknown is used when the status of an async session cannot be determined
	StateUnknown SessionState = "unknown"
)

// SessionContext carries everything one session accumulates. The state
// machine goroutine owns the planner fields; lifecycle fields are guarded
// so async status readers can observe them.
type SessionContext struct {
	ID       string
	Question string

	Planner       *Planner
	PendingAction *Action
	FinalAction   *Action
	Data          json.RawMessage
	LastQuery     string
	ChartCode     string
	Metrics       *SessionMetrics

	pull     func() (Action, error, bool)
	stopPull func()
	cancel   context.CancelFunc

	mu              sync.RWMutex
	currentState    SessionState
	stateStack      []SessionState
	lastError       error
	errorStage      string
	result          *PresentationResult
	startTime       time.Time
	endTime         time.Time
	stateStartTimes map[SessionState]time.Time
}

// NewSessionContext creates a session for one question.
func NewSessionContext(question string) *SessionContext {
	now := time.Now()
	return &SessionContext{
		ID:              uuid.New().String(),
		Question:        question,
		Metrics:         &SessionMetrics{},
		currentState:    StateInit,
		startTime:       now,
		stateStartTimes: map[SessionState]time.Time{StateInit: now},
	}
}

// CurrentState returns the state the session is in.
func (s *SessionContext) CurrentState() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentState
}

// PushState records the current state in the history and moves to a new one.
func (s *SessionContext) PushState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateStack = append(s.stateStack, s.currentState)
	s.currentState = state
	s.stateStartTimes[state] = time.Now()
}

// History returns the visited states, oldest first, ending with the current one.
func (s *SessionContext) History() []SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionState, 0, len(s.stateStack)+1)
	out = append(out, s.stateStack...)
	return append(out, s.currentState)
}

// IsTerminal reports whether the session reached Complete, Aborted or Cancelled.
func (s *SessionContext) IsTerminal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return isTerminalState(s.currentState)
}

func isTerminalState(state SessionState) bool {
	return state == StateComplete || state == StateAborted || state == StateCancelled
}

// SetAborted ends the session without an answer.
func (s *SessionContext) SetAborted(err error, stage string) {
	s.finish(StateAborted, err, stage)
}

// SetCancelled ends the session because the caller stopped it.
func (s *SessionContext) SetCancelled(err error, stage string) {
	s.finish(StateCancelled, err, stage)
}

func (s *SessionContext) finish(state SessionState, err error, stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isTerminalState(s.currentState) {
		return
	}
	s.stateStack = append(s.stateStack, s.currentState)
	s.lastError = err
	s.errorStage = stage
	s.currentState = state
	s.endTime = time.Now()
	s.stateStartTimes[state] = s.endTime
	s.result = &PresentationResult{
		SessionID: s.ID,
		Question:  s.Question,
		FinalTool: FinalAborted,
		Text:      AbortedText,
		Reason:    ErrorCode(err),
		Steps:     s.steps(),
	}
}

// Complete marks the session as answered.
func (s *SessionContext) Complete(result *PresentationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateStack = append(s.stateStack, s.currentState)
	s.currentState = StateComplete
	s.endTime = time.Now()
	s.stateStartTimes[StateComplete] = s.endTime
	s.result = result
}

// Result returns the presentation result once the session is terminal.
func (s *SessionContext) Result() *PresentationResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// Err returns the error that ended the session, if any.
func (s *SessionContext) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// ErrorStage returns the state the error happened in.
func (s *SessionContext) ErrorStage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errorStage
}

// StartTime returns when the session was created.
func (s *SessionContext) StartTime() time.Time { return s.startTime }

// EndTime returns when the session became terminal, or the zero time.
func (s *SessionContext) EndTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endTime
}

// GetTotalDuration returns the session duration so far.
func (s *SessionContext) GetTotalDuration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.endTime.IsZero() {
		return s.endTime.Sub(s.startTime)
	}
	return time.Since(s.startTime)
}

func (s *SessionContext) steps() int {
	if s.Planner == nil {
		return 0
	}
	return s.Planner.Steps()
}

// SessionTransition runs the work of one state and returns the next state.
type SessionTransition func(ctx context.Context, eventBus eventbus.EventBus, s *SessionContext) (SessionState, error)

// StateMachine drives a session through its transitions.
type StateMachine struct {
	transitions map[SessionState]SessionTransition
	eventBus    eventbus.EventBus
}

// NewStateMachine creates a state machine without transitions.
func NewStateMachine(eventBus eventbus.EventBus) *StateMachine {
	return &StateMachine{
		transitions: make(map[SessionState]SessionTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers the transition run in a state.
func (sm *StateMachine) RegisterTransition(state SessionState, transition SessionTransition) {
	sm.transitions[state] = transition
}

// Execute runs transitions until the session is terminal. The result is never nil.
func (sm *StateMachine) Execute(ctx context.Context, s *SessionContext) (*PresentationResult, error) {
	defer func() {
		if s.stopPull != nil {
			s.stopPull()
		}
	}()

	for !s.IsTerminal() {
		stage := string(s.CurrentState())
		if err := ctx.Err(); err != nil {
			s.SetCancelled(NewCancelledError(stage, err), stage)
			break
		}

		transition, exists := sm.transitions[s.CurrentState()]
		if !exists {
			s.SetAborted(NewInternalError(stage, fmt.Sprintf("no transition defined for state: %s", stage), nil), stage)
			break
		}

		nextState, err := transition(ctx, sm.eventBus, s)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.SetCancelled(NewCancelledError(stage, err), stage)
			} else {
				s.SetAborted(err, stage)
			}
			continue
		}

		if !s.IsTerminal() {
			s.PushState(nextState)
		}
	}

	s.Metrics.update(func(m *SessionMetrics) {
		m.Steps = s.steps()
		m.Duration = s.GetTotalDuration()
	})
	sm.publishOutcome(ctx, s)
	return s.Result(), s.Err()
}

func (sm *StateMachine) publishOutcome(ctx context.Context, s *SessionContext) {
	if sm.eventBus == nil {
		return
	}
	eventType := eventbus.EventSessionCompleted
	metadata := map[string]interface{}{
		"session_id":  s.ID,
		"duration_ms": s.GetTotalDuration().Milliseconds(),
		"steps":       s.steps(),
	}
	switch s.CurrentState() {
	case StateAborted:
		eventType = eventbus.EventSessionAborted
	case StateCancelled:
		eventType = eventbus.EventSessionCancelled
	}
	if err := s.Err(); err != nil {
		metadata["error"] = err.Error()
		metadata["error_stage"] = s.ErrorStage()
	}
	_ = sm.eventBus.Publish(context.WithoutCancel(ctx), eventbus.NewEvent(eventType, s.Result(), "StateMachine.Execute", metadata))
}
