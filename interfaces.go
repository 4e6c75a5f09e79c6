package analyst

import "context"

// ModelGateway turns a prompt into generated text. Implementations may memoize:
// identical requests must yield identical completions.
type ModelGateway interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionStore persists completions keyed by the content hash of their request.
// Implementations must be safe for concurrent use.
type CompletionStore interface {
	Lookup(ctx context.Context, hashID string) (*CachedCompletion, bool, error)
	Save(ctx context.Context, completion *CachedCompletion) error
	List(ctx context.Context) ([]CachedCompletion, error)
}

// TabularStore is the queryable dataset the Query Tool runs against.
type TabularStore interface {
	// DescribeSchema returns one line per table; no names means every table.
	DescribeSchema(ctx context.Context, tables ...string) (string, error)

	// Execute runs a raw query string without validating it first.
	Execute(ctx context.Context, query string) (*TabularResult, error)
}

// Tool represents a capability the planner can dispatch to.
type Tool interface {
	// Run performs the tool's action for one dispatched Action.
	Run(ctx context.Context, req ToolRequest) (*Observation, error)

	// Schema returns a description of the tool. Standard keys:
	// - "name": the name the model uses in the Action line
	// - "description": the line shown in the planner preamble
	// - "kind": the ToolKind as a string
	// - "examples": optional list of usage examples
	Schema() map[string]interface{}

	// Validate checks the request before Run.
	Validate(req ToolRequest) error

	// Name returns the name the model uses in the Action line.
	Name() string

	// Kind returns the closed variant the name dispatches to.
	Kind() ToolKind
}
