// Package analyst answers natural-language questions about tabular data by
// letting a language model plan a sequence of query, chart and summary steps.
package analyst

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/eventbus"
)

// Analyst is the main entry point. It owns the tools and the model gateway
// and runs one session per question.
type Analyst struct {
	gateway  ModelGateway
	eventBus eventbus.EventBus
	logger   *slog.Logger

	// Registered tools, in registration order
	tools     map[ToolKind]Tool
	toolOrder []Tool
	preamble  string

	config Config
	policy *AbortPolicy

	asyncExecutions      map[string]*SessionContext
	asyncExecutionsMutex sync.RWMutex
}

// Config holds the session options.
type Config struct {
	Planner PlannerConfig

	// What to do with a step that does not follow the grammar
	MalformedPolicy MalformedPolicy

	// govaluate expression over the session counters; empty never aborts
	AbortExpression string

	// Event bus configuration
	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Planner:             DefaultPlannerConfig(),
		MalformedPolicy:     MalformedRetry,
		AbortExpression:     DefaultAbortExpression,
		EnableEventBus:      true,
		EventBusBufferSize:  100,
		EventBusWorkerCount: 5,
	}
}

// Option is a function that configures an Analyst.
type Option func(*Analyst)

// WithConfig sets the configuration.
func WithConfig(config Config) Option {
	return func(a *Analyst) {
		a.config = config
	}
}

// WithGateway sets the model gateway used by the planner and the tools.
func WithGateway(gateway ModelGateway) Option {
	return func(a *Analyst) {
		a.gateway = gateway
	}
}

// WithTools registers tools in order. The order is the order of the preamble.
func WithTools(tools ...Tool) Option {
	return func(a *Analyst) {
		a.toolOrder = append(a.toolOrder, tools...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyst) {
		a.logger = logger
	}
}

// New creates an Analyst with the provided options.
func New(options ...Option) (*Analyst, error) {
	a := &Analyst{
		config:          DefaultConfig(),
		tools:           make(map[ToolKind]Tool),
		logger:          slog.Default(),
		asyncExecutions: make(map[string]*SessionContext),
	}

	for _, option := range options {
		option(a)
	}

	if a.gateway == nil {
		return nil, NewConfigurationError("model gateway is required", nil)
	}
	if len(a.toolOrder) == 0 {
		return nil, NewConfigurationError("at least one tool is required", nil)
	}
	if a.config.Planner.MaxSteps <= 0 {
		return nil, NewConfigurationError("max steps must be positive", nil)
	}
	switch a.config.MalformedPolicy {
	case "":
		a.config.MalformedPolicy = MalformedRetry
	case MalformedRetry, MalformedAbort:
	default:
		return nil, NewConfigurationError(fmt.Sprintf("unknown malformed policy %q", a.config.MalformedPolicy), nil)
	}

	pending := a.toolOrder
	a.toolOrder = nil
	for _, tool := range pending {
		if err := a.addTool(tool); err != nil {
			return nil, err
		}
	}
	if err := a.renderPreamble(); err != nil {
		return nil, err
	}

	policy, err := NewAbortPolicy(a.config.AbortExpression)
	if err != nil {
		return nil, err
	}
	a.policy = policy

	if a.config.EnableEventBus && a.eventBus == nil {
		a.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(a.config.EventBusBufferSize),
			eventbus.WithWorkerCount(a.config.EventBusWorkerCount),
			eventbus.WithLogger(a.logger),
		)
		a.logger.Debug("initialized default channel-based event bus")
	}

	return a, nil
}

func (a *Analyst) addTool(tool Tool) error {
	if tool == nil {
		return NewConfigurationError("tool cannot be nil", nil)
	}
	kind := tool.Kind()
	if kind == ToolUnrecognized || kind == "" {
		return NewConfigurationError(fmt.Sprintf("tool '%s' has no kind", tool.Name()), nil)
	}
	if _, exists := a.tools[kind]; exists {
		return NewConfigurationError(fmt.Sprintf("a %s tool is already registered", kind), nil)
	}
	for _, existing := range a.toolOrder {
		if existing.Name() == tool.Name() {
			return NewConfigurationError(fmt.Sprintf("tool with name '%s' already exists", tool.Name()), nil)
		}
	}
	a.tools[kind] = tool
	a.toolOrder = append(a.toolOrder, tool)
	return nil
}

func (a *Analyst) renderPreamble() error {
	preamble, err := BuildPreamble(a.toolOrder)
	if err != nil {
		return NewConfigurationError("failed to render planner preamble", err)
	}
	a.preamble = preamble
	return nil
}

// RegisterTool adds a tool after construction. Sessions started afterwards see it.
func (a *Analyst) RegisterTool(tool Tool) error {
	if err := a.addTool(tool); err != nil {
		return err
	}
	return a.renderPreamble()
}

// ToolSet returns the names the planner resolves, one per registered tool.
func (a *Analyst) ToolSet() ToolSet {
	set := make(ToolSet, len(a.toolOrder))
	for _, tool := range a.toolOrder {
		set[tool.Name()] = tool.Kind()
	}
	return set
}

// GetToolByName returns a tool by its name, or an error if not found.
func (a *Analyst) GetToolByName(name string) (Tool, error) {
	for _, tool := range a.toolOrder {
		if tool.Name() == name {
			return tool, nil
		}
	}
	return nil, fmt.Errorf("tool with name '%s' not found", name)
}

// Tools returns the registered tools in registration order.
func (a *Analyst) Tools() []Tool {
	return append([]Tool(nil), a.toolOrder...)
}

// ListTools returns the registered tool names, sorted.
func (a *Analyst) ListTools() []string {
	names := make([]string, 0, len(a.toolOrder))
	for _, tool := range a.toolOrder {
		names = append(names, tool.Name())
	}
	sort.Strings(names)
	return names
}

// Preamble returns the instruction preamble sessions start with.
func (a *Analyst) Preamble() string { return a.preamble }

// EventBus returns the event bus, or nil when events are disabled.
func (a *Analyst) EventBus() eventbus.EventBus {
	if !a.config.EnableEventBus {
		return nil
	}
	return a.eventBus
}

// Close releases the event bus.
func (a *Analyst) Close() error {
	if a.eventBus != nil {
		return a.eventBus.Close()
	}
	return nil
}

// Run answers one question. The returned result is never nil: aborted and
// cancelled sessions yield an Aborted result and the error that ended them.
func (a *Analyst) Run(ctx context.Context, question string) (*PresentationResult, error) {
	s := NewSessionContext(strings.TrimSpace(question))
	if s.Question == "" {
		err := NewValidationError(string(StateInit), "question cannot be empty", nil)
		s.SetAborted(err, string(StateInit))
		return s.Result(), err
	}
	return a.createStateMachine().Execute(ctx, s)
}

// createStateMachine builds a state machine from the current tools and config.
func (a *Analyst) createStateMachine() *StateMachine {
	tools := make(map[ToolKind]Tool, len(a.tools))
	for kind, tool := range a.tools {
		tools[kind] = tool
	}

	components := SessionComponents{
		Gateway:         a.gateway,
		Tools:           tools,
		ToolSet:         a.ToolSet(),
		PlannerConfig:   a.config.Planner,
		Preamble:        a.preamble,
		Policy:          a.policy,
		MalformedPolicy: a.config.MalformedPolicy,
		Logger:          a.logger,
	}
	return CreateSessionStateMachine(components, a.EventBus())
}
