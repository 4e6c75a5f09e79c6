package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
	"github.com/sourcegraph/conc/pool"
)

// Asker answers one question. *analyst.Analyst satisfies it.
type Asker interface {
	Run(ctx context.Context, question string) (*analyst.PresentationResult, error)
}

// Outcome is the result of one question.
type Outcome struct {
	ID       string                      `yaml:"id" json:"id"`
	Question string                      `yaml:"question" json:"question"`
	Result   *analyst.PresentationResult `yaml:"result" json:"result"`
	Error    string                      `yaml:"error,omitempty" json:"error,omitempty"`
	Duration time.Duration               `yaml:"duration" json:"duration"`
}

// Metrics tracks statistics about a batch run.
type Metrics struct {
	Questions     int
	Answered      int
	Aborted       int
	TotalDuration time.Duration
	LongestRun    time.Duration
	ShortestRun   time.Duration

	mu sync.Mutex
}

// Copy returns a snapshot without the mutex.
func (m *Metrics) Copy() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		Questions:     m.Questions,
		Answered:      m.Answered,
		Aborted:       m.Aborted,
		TotalDuration: m.TotalDuration,
		LongestRun:    m.LongestRun,
		ShortestRun:   m.ShortestRun,
	}
}

func (m *Metrics) record(answered bool, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Questions++
	if answered {
		m.Answered++
	} else {
		m.Aborted++
	}
	if d > m.LongestRun {
		m.LongestRun = d
	}
	if m.ShortestRun == 0 || d < m.ShortestRun {
		m.ShortestRun = d
	}
}

// Runner answers the questions of a file with a bounded number of concurrent sessions.
type Runner struct {
	asker      Asker
	maxWorkers int
	timeout    time.Duration
	logger     *slog.Logger
	metrics    Metrics
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMaxWorkers sets how many sessions run at once.
func WithMaxWorkers(n int) RunnerOption {
	return func(r *Runner) {
		r.maxWorkers = n
	}
}

// WithTimeout bounds each session. Zero means no bound.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a runner with 4 workers and no timeout.
func NewRunner(asker Asker, options ...RunnerOption) *Runner {
	r := &Runner{
		asker:      asker,
		maxWorkers: 4,
		logger:     slog.Default(),
	}
	for _, option := range options {
		option(r)
	}
	if r.maxWorkers < 1 {
		r.maxWorkers = 1
	}
	r.logger = r.logger.With("component", "batch")
	return r
}

// Run answers every question and returns the outcomes in file order. A
// cancelled ctx stops new sessions; sessions already running end cancelled.
func (r *Runner) Run(ctx context.Context, qf *QuestionFile) []Outcome {
	start := time.Now()
	outcomes := make([]Outcome, len(qf.Questions))
	p := pool.New().WithMaxGoroutines(r.maxWorkers)

	for i, q := range qf.Questions {
		p.Go(func() {
			outcomes[i] = r.ask(ctx, q)
		})
	}
	p.Wait()

	r.metrics.mu.Lock()
	r.metrics.TotalDuration = time.Since(start)
	r.metrics.mu.Unlock()

	m := r.metrics.Copy()
	r.logger.Info("batch finished",
		"name", qf.Name,
		"questions", m.Questions,
		"answered", m.Answered,
		"aborted", m.Aborted,
		"duration", m.TotalDuration)
	return outcomes
}

func (r *Runner) ask(ctx context.Context, q Question) Outcome {
	out := Outcome{ID: q.ID, Question: q.Question}
	if err := ctx.Err(); err != nil {
		out.Result = &analyst.PresentationResult{
			Question:  q.Question,
			FinalTool: analyst.FinalAborted,
			Text:      analyst.AbortedText,
			Reason:    analyst.ErrCodeCancelled,
		}
		out.Error = err.Error()
		r.metrics.record(false, 0)
		return out
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := r.asker.Run(runCtx, q.Question)
	out.Duration = time.Since(start)
	out.Result = result
	if err != nil {
		out.Error = err.Error()
		r.logger.Warn("question aborted", "id", q.ID, "error", err)
	}
	r.metrics.record(err == nil && result != nil && result.FinalTool != analyst.FinalAborted, out.Duration)
	return out
}

// Metrics returns a snapshot of the counters.
func (r *Runner) Metrics() Metrics {
	return r.metrics.Copy()
}
