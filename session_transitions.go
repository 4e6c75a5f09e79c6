package analyst

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/eventbus"
)

// MalformedPolicy decides what happens to a step that does not follow the grammar.
type MalformedPolicy string

const (
	// MalformedRetry adds a corrective observation and asks again.
	MalformedRetry MalformedPolicy = "retry"
	// MalformedAbort ends the session on the first malformed step.
	MalformedAbort MalformedPolicy = "abort"
)

// SessionComponents holds references to the components the transitions need.
type SessionComponents struct {
	Gateway         ModelGateway
	Tools           map[ToolKind]Tool
	ToolSet         ToolSet
	PlannerConfig   PlannerConfig
	Preamble        string
	Policy          *AbortPolicy
	MalformedPolicy MalformedPolicy
	Logger          *slog.Logger
}

// CreateSessionStateMachine builds the state machine for one question.
func CreateSessionStateMachine(components SessionComponents, eventBus eventbus.EventBus) *StateMachine {
	if components.Logger == nil {
		components.Logger = slog.Default()
	}
	sm := NewStateMachine(eventBus)

	sm.RegisterTransition(StateInit, createInitTransition(components))
	sm.RegisterTransition(StateThinking, createThinkingTransition(components))
	sm.RegisterTransition(StateDispatch, createDispatchTransition(components))
	sm.RegisterTransition(StatePresenting, createPresentingTransition(components))

	return sm
}

func publish(ctx context.Context, eb eventbus.EventBus, eventType eventbus.EventType, payload interface{}, source string, metadata map[string]interface{}) {
	if eb == nil {
		return
	}
	// Events outlive the session context so cancellations are still reported.
	_ = eb.Publish(context.WithoutCancel(ctx), eventbus.NewEvent(eventType, payload, source, metadata))
}

// createInitTransition builds the planner and starts the action sequence.
func createInitTransition(c SessionComponents) SessionTransition {
	return func(ctx context.Context, eb eventbus.EventBus, s *SessionContext) (SessionState, error) {
		publish(ctx, eb, eventbus.EventSessionStarted, s.Question, "StateMachine.Init", map[string]interface{}{
			"session_id": s.ID,
			"timestamp":  time.Now().Format(time.RFC3339),
		})

		planner, err := NewPlanner(s.Question, c.Gateway,
			WithPlannerConfig(c.PlannerConfig),
			WithToolSet(c.ToolSet),
			WithPreamble(c.Preamble),
			WithPlannerLogger(c.Logger.With("session_id", s.ID)),
		)
		if err != nil {
			return StateAborted, err
		}
		s.Planner = planner
		s.pull, s.stopPull = iter.Pull2(planner.Actions(ctx))
		return StateThinking, nil
	}
}

// createThinkingTransition pulls the next action from the planner.
func createThinkingTransition(c SessionComponents) SessionTransition {
	return func(ctx context.Context, eb eventbus.EventBus, s *SessionContext) (SessionState, error) {
		action, err, ok := s.pull()
		s.Metrics.update(func(m *SessionMetrics) { m.Steps = s.Planner.Steps() })
		if !ok {
			return StateAborted, NewInternalError(string(StateThinking), "planner stopped without a final answer", nil)
		}

		if err != nil {
			var malformed *MalformedActionError
			if !errors.As(err, &malformed) {
				return StateAborted, err
			}
			return handleMalformed(ctx, c, eb, s, malformed)
		}

		publish(ctx, eb, eventbus.EventStepProposed, action, "StateMachine.Thinking", map[string]interface{}{
			"session_id": s.ID,
			"step":       s.Planner.Steps(),
			"tool":       action.Name,
		})

		if action.Terminal {
			s.FinalAction = &action
			publish(ctx, eb, eventbus.EventFinalAnswer, action, "StateMachine.Thinking", map[string]interface{}{
				"session_id":   s.ID,
				"final_action": action.Name,
			})
			return StatePresenting, nil
		}

		s.PendingAction = &action
		return StateDispatch, nil
	}
}

func handleMalformed(ctx context.Context, c SessionComponents, eb eventbus.EventBus, s *SessionContext, malformed *MalformedActionError) (SessionState, error) {
	s.Metrics.update(func(m *SessionMetrics) { m.Malformed++ })
	publish(ctx, eb, eventbus.EventStepMalformed, malformed.Raw, "StateMachine.Thinking", map[string]interface{}{
		"session_id": s.ID,
		"step":       s.Planner.Steps(),
		"reason":     malformed.Reason,
	})

	if c.MalformedPolicy == MalformedAbort {
		return StateAborted, malformed
	}
	if err := checkAbortPolicy(c, s); err != nil {
		return StateAborted, err
	}

	observation := fmt.Sprintf("Could not parse the last step (%s). Answer with a Thought: line, an Action: line naming one of [%s] and an Action Input: line.",
		malformed.Reason, strings.Join(c.ToolSet.Names(), ", "))
	if err := s.Planner.AddInformation(observation); err != nil {
		return StateAborted, NewInternalError(string(StateThinking), "failed to add corrective observation", err)
	}
	return StateThinking, nil
}

// createDispatchTransition runs the pending tool and feeds its observation back.
func createDispatchTransition(c SessionComponents) SessionTransition {
	return func(ctx context.Context, eb eventbus.EventBus, s *SessionContext) (SessionState, error) {
		action := s.PendingAction
		s.PendingAction = nil
		if action == nil {
			return StateAborted, NewInternalError(string(StateDispatch), "no pending action to dispatch", nil)
		}

		tool, known := c.Tools[action.Tool]
		if action.Tool == ToolUnrecognized || !known {
			return handleUnrecognized(ctx, c, eb, s, action)
		}

		req := ToolRequest{Input: action.Input, Context: s.Planner.Context()}
		if err := tool.Validate(req); err != nil {
			c.Logger.Warn("tool input rejected", "session_id", s.ID, "tool", action.Name, "error", err)
			return addObservation(ctx, eb, s, fmt.Sprintf("Invalid input for %s: %v", action.Name, err))
		}

		s.Metrics.update(func(m *SessionMetrics) { m.ToolCalls++ })
		publish(ctx, eb, eventbus.EventToolDispatched, action.Input, "StateMachine.Dispatch", map[string]interface{}{
			"session_id": s.ID,
			"tool":       action.Name,
		})

		obs, err := tool.Run(ctx, req)
		if err != nil {
			publish(ctx, eb, eventbus.EventToolFailed, err.Error(), "StateMachine.Dispatch", map[string]interface{}{
				"session_id": s.ID,
				"tool":       action.Name,
				"error":      err.Error(),
			})

			var queryErr *QueryExecutionError
			if !errors.As(err, &queryErr) {
				if ctx.Err() != nil {
					return StateCancelled, ctx.Err()
				}
				return StateAborted, NewToolExecutionError(string(StateDispatch), action.Name, err)
			}

			s.Metrics.update(func(m *SessionMetrics) { m.QueryErrors++ })
			c.Logger.Warn("query failed", "session_id", s.ID, "query", queryErr.Query, "error", queryErr.Cause)
			if err := checkAbortPolicy(c, s); err != nil {
				return StateAborted, err
			}
			return addObservation(ctx, eb, s, queryErrorObservation(queryErr))
		}

		switch action.Tool {
		case ToolQuery:
			s.Data = obs.Data
			s.LastQuery = obs.Query
		case ToolChart:
			s.ChartCode = obs.Code
		}
		publish(ctx, eb, eventbus.EventToolSucceeded, obs, "StateMachine.Dispatch", map[string]interface{}{
			"session_id": s.ID,
			"tool":       action.Name,
		})
		return addObservation(ctx, eb, s, obs.DisplayText)
	}
}

func handleUnrecognized(ctx context.Context, c SessionComponents, eb eventbus.EventBus, s *SessionContext, action *Action) (SessionState, error) {
	unknown := &UnrecognizedToolError{Name: action.Name, Known: c.ToolSet.Names()}
	s.Metrics.update(func(m *SessionMetrics) { m.Unrecognized++ })
	c.Logger.Warn("unrecognized tool", "session_id", s.ID, "tool", action.Name, "step", s.Planner.Steps())
	publish(ctx, eb, eventbus.EventToolUnrecognized, action.Name, "StateMachine.Dispatch", map[string]interface{}{
		"session_id": s.ID,
		"known":      unknown.Known,
	})

	if err := checkAbortPolicy(c, s); err != nil {
		return StateAborted, err
	}
	return addObservation(ctx, eb, s, unknown.Error()+".")
}

func addObservation(ctx context.Context, eb eventbus.EventBus, s *SessionContext, observation string) (SessionState, error) {
	if err := s.Planner.AddInformation(observation); err != nil {
		return StateAborted, NewInternalError(string(StateDispatch), "failed to add observation", err)
	}
	publish(ctx, eb, eventbus.EventObservationAdded, observation, "StateMachine.Dispatch", map[string]interface{}{
		"session_id": s.ID,
		"step":       s.Planner.Steps(),
	})
	return StateThinking, nil
}

func queryErrorObservation(err *QueryExecutionError) string {
	return fmt.Sprintf("The query failed with error: %v\nQuery: %s", err.Cause, err.Query)
}

func checkAbortPolicy(c SessionComponents, s *SessionContext) error {
	counters := s.Metrics.Counters()
	abort, err := c.Policy.ShouldAbort(counters)
	if err != nil {
		c.Logger.Warn("abort policy evaluation failed", "session_id", s.ID, "error", err)
		return nil
	}
	if abort {
		c.Logger.Warn("abort policy triggered", "session_id", s.ID, "expression", c.Policy.Expression())
		return NewAbortPolicyError(c.Policy.Expression(), counters)
	}
	return nil
}

// createPresentingTransition packages the terminal action.
func createPresentingTransition(c SessionComponents) SessionTransition {
	return func(ctx context.Context, eb eventbus.EventBus, s *SessionContext) (SessionState, error) {
		final := s.FinalAction
		if final == nil {
			return StateAborted, NewInternalError(string(StatePresenting), "no final action to present", nil)
		}

		result := &PresentationResult{
			SessionID: s.ID,
			Question:  s.Question,
			Text:      final.Input,
			Payload:   s.Data,
			Steps:     s.Planner.Steps(),
		}
		if final.Name == string(FinalPlot) && s.ChartCode != "" {
			result.FinalTool = FinalPlot
			result.ChartCode = s.ChartCode
		} else {
			result.FinalTool = FinalText
			if final.Name == string(FinalPlot) {
				c.Logger.Warn("plot requested without chart code, answering with text", "session_id", s.ID)
			}
		}

		if result.FinalTool == FinalText && strings.TrimSpace(result.Text) == "" {
			return StateAborted, NewError(ErrCodeInternal, string(StatePresenting), "final answer is empty", nil)
		}

		s.Complete(result)
		return StateComplete, nil
	}
}
