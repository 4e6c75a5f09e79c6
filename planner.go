package analyst

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/prompt"
)

// PlannerState is the lifecycle position of one planner session.
type PlannerState string

const (
	PlannerInit     PlannerState = "init"
	PlannerThinking PlannerState = "thinking"
	PlannerDispatch PlannerState = "dispatch"
	PlannerDone     PlannerState = "done"
	PlannerAborted  PlannerState = "aborted"
)

// Descriptions shown in the default planner preamble. The text, typo included,
// is what existing completion tables were keyed on.
const (
	DefaultSummarizerDescription = "useful for when you need to summarize a text."
	DefaultChartDescription      = "userful for when you need to show a graph."
	DefaultQueryDescription      = "useful for when you need to answer questions about FooBar or need to get data to show in graph. Input should be in the form of a question containing full context"
)

// PlannerConfig bounds one planner session.
type PlannerConfig struct {
	MaxSteps    int
	MaxTokens   int
	Temperature float64
	Model       string
}

// DefaultPlannerConfig returns five steps of up to 2000 tokens at temperature 0.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		MaxSteps:  5,
		MaxTokens: 2000,
	}
}

// Planner drives the think/act/observe loop for one question.
// It is not safe for concurrent use; a session owns its planner.
type Planner struct {
	question   string
	gateway    ModelGateway
	tools      ToolSet
	config     PlannerConfig
	preamble   string
	transcript *Transcript
	state      PlannerState
	steps      int
	logger     *slog.Logger
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithPlannerConfig replaces the step budget and generation settings.
func WithPlannerConfig(config PlannerConfig) PlannerOption {
	return func(p *Planner) {
		p.config = config
	}
}

// WithToolSet sets the names the parser resolves.
func WithToolSet(tools ToolSet) PlannerOption {
	return func(p *Planner) {
		p.tools = tools
	}
}

// WithPreamble overrides the instruction preamble.
func WithPreamble(preamble string) PlannerOption {
	return func(p *Planner) {
		p.preamble = preamble
	}
}

// WithPlannerLogger sets the logger.
func WithPlannerLogger(logger *slog.Logger) PlannerOption {
	return func(p *Planner) {
		p.logger = logger
	}
}

// NewPlanner builds the initial transcript. No model call happens yet.
func NewPlanner(question string, gateway ModelGateway, options ...PlannerOption) (*Planner, error) {
	if gateway == nil {
		return nil, NewValidationError("init", "model gateway is required", nil)
	}

	p := &Planner{
		question: question,
		gateway:  gateway,
		tools:    DefaultToolSet(),
		config:   DefaultPlannerConfig(),
		state:    PlannerInit,
		logger:   slog.Default(),
	}
	for _, option := range options {
		option(p)
	}

	if p.config.MaxSteps <= 0 {
		return nil, NewValidationError("init", "max steps must be positive", nil)
	}

	if p.preamble == "" {
		preamble, err := DefaultPreamble()
		if err != nil {
			return nil, NewInternalError("init", "failed to render preamble", err)
		}
		p.preamble = preamble
	}

	framed, err := prompt.Default().Question(question)
	if err != nil {
		return nil, NewInternalError("init", "failed to render question", err)
	}
	p.transcript = NewTranscript(p.preamble, framed)
	p.logger = p.logger.With("component", "planner")
	p.logger.Info("planner initialized", "question", question, "max_steps", p.config.MaxSteps)
	return p, nil
}

// DefaultPreamble renders the preamble for the default tool names.
func DefaultPreamble() (string, error) {
	return prompt.Default().Preamble([]prompt.ToolLine{
		{Name: DefaultSummarizerToolName, Description: DefaultSummarizerDescription},
		{Name: DefaultChartToolName, Description: DefaultChartDescription},
		{Name: DefaultQueryToolName, Description: DefaultQueryDescription},
	})
}

// BuildPreamble renders the preamble for registered tools, in order.
func BuildPreamble(tools []Tool) (string, error) {
	lines := make([]prompt.ToolLine, 0, len(tools))
	for _, t := range tools {
		desc, _ := t.Schema()["description"].(string)
		lines = append(lines, prompt.ToolLine{Name: t.Name(), Description: desc})
	}
	return prompt.Default().Preamble(lines)
}

// NextStep submits the transcript to the gateway, appends the raw completion
// and returns it. It does not check the step budget; Next does.
func (p *Planner) NextStep(ctx context.Context) (string, error) {
	p.state = PlannerThinking
	raw, err := p.gateway.Complete(ctx, CompletionRequest{
		Prompt:      p.transcript.String(),
		Stop:        ObservationStop,
		Model:       p.config.Model,
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
	})
	if err != nil {
		return "", err
	}
	p.steps++
	p.transcript.AppendStep(raw)
	p.logger.Debug("step completed", "step", p.steps, "raw", raw)
	return raw, nil
}

// Next runs one THINKING transition and parses the result.
//
// Malformed output returns a *MalformedActionError and leaves the planner
// waiting for an observation, so the caller can add a corrective one.
// Exhausting the budget returns a *StepBudgetExceededError and aborts the planner.
func (p *Planner) Next(ctx context.Context) (Action, error) {
	switch p.state {
	case PlannerDone, PlannerAborted:
		return Action{}, ErrPlannerFinished
	case PlannerDispatch:
		p.logger.Warn("next step requested before an observation was added", "step", p.steps)
	}

	if err := ctx.Err(); err != nil {
		return Action{}, err
	}

	if p.steps >= p.config.MaxSteps {
		p.state = PlannerAborted
		p.logger.Warn("step budget exhausted", "max_steps", p.config.MaxSteps)
		return Action{}, &StepBudgetExceededError{MaxSteps: p.config.MaxSteps}
	}

	raw, err := p.NextStep(ctx)
	if err != nil {
		p.state = PlannerAborted
		return Action{}, NewGatewayError(string(PlannerThinking), err)
	}

	action, err := ParseAction(raw, p.tools)
	if err != nil {
		if final, ok := TerminalAction(raw); ok {
			p.logger.Warn("final answer without an action line", "step", p.steps)
			action, err = final, nil
		}
	}
	if err != nil {
		p.state = PlannerDispatch
		p.logger.Warn("malformed step", "step", p.steps, "error", err)
		return Action{}, err
	}

	if action.Terminal {
		p.state = PlannerDone
		p.logger.Info("final answer reached", "step", p.steps, "final_action", action.Name)
	} else {
		p.state = PlannerDispatch
		p.logger.Info("action proposed", "step", p.steps, "tool", action.Name, "input", action.Input)
	}
	return action, nil
}

// AddInformation appends a tool result. It is the DISPATCH to THINKING edge.
func (p *Planner) AddInformation(observation string) error {
	if p.state != PlannerDispatch {
		return ErrNoPendingAction
	}
	p.transcript.AppendObservation(observation)
	p.state = PlannerThinking
	return nil
}

// Actions returns the lazy, single-pass sequence of actions.
//
// Malformed steps are yielded as errors and the sequence goes on. The terminal
// action is yielded once, then the sequence ends. Budget exhaustion and gateway
// failures are yielded as errors and end the sequence.
func (p *Planner) Actions(ctx context.Context) iter.Seq2[Action, error] {
	return func(yield func(Action, error) bool) {
		for {
			action, err := p.Next(ctx)
			if err != nil {
				if errors.Is(err, ErrPlannerFinished) {
					return
				}
				var malformed *MalformedActionError
				if !yield(Action{}, err) || !errors.As(err, &malformed) {
					return
				}
				continue
			}
			if !yield(action, nil) || action.Terminal {
				return
			}
		}
	}
}

// Question returns the original user input.
func (p *Planner) Question() string { return p.question }

// State returns the current lifecycle position.
func (p *Planner) State() PlannerState { return p.state }

// Steps returns the number of completed model steps.
func (p *Planner) Steps() int { return p.steps }

// MaxSteps returns the step budget.
func (p *Planner) MaxSteps() int { return p.config.MaxSteps }

// Prompt returns the serialized transcript.
func (p *Planner) Prompt() string { return p.transcript.String() }

// Context returns the transcript without the preamble, trimmed.
func (p *Planner) Context() string { return p.transcript.Context() }

// Transcript exposes the segment history.
func (p *Planner) Transcript() *Transcript { return p.transcript }
