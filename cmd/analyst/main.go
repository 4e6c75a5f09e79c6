// Command analyst answers natural-language questions about tabular data files.
//
//	analyst [flags] "which movie has the highest rating?"
//	analyst -batch questions.yaml -output json
//	analyst -history
//	analyst -tools
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/batch"
	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/config"
	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/eventbus"
	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/logging"
)

// errAborted reports a question that ended without an answer. The result
// has already been written, so main only sets the exit status.
var errAborted = errors.New("session aborted")

type cliFlags struct {
	configPath string
	question   string
	batchFile  string
	output     string
	dataDir    string
	timeout    time.Duration
	trace      bool
	history    bool
	stats      bool
	tools      bool
	args       []string
}

func parseFlags(args []string, stderr io.Writer) (*cliFlags, error) {
	fs := flag.NewFlagSet("analyst", flag.ContinueOnError)
	fs.SetOutput(stderr)
	f := &cliFlags{}
	fs.StringVar(&f.configPath, "config", os.Getenv("ANALYST_CONFIG"), "path to a YAML config file")
	fs.StringVar(&f.question, "question", "", "question to answer (or pass it as arguments)")
	fs.StringVar(&f.batchFile, "batch", "", "YAML or JSON file of questions to answer concurrently")
	fs.StringVar(&f.output, "output", formatText, "output format: text, json or yaml")
	fs.StringVar(&f.dataDir, "data-dir", "", "override the data directory")
	fs.DurationVar(&f.timeout, "timeout", 0, "per-question timeout (overrides config)")
	fs.BoolVar(&f.trace, "trace", false, "log every session event")
	fs.BoolVar(&f.history, "history", false, "list stored completions and exit")
	fs.BoolVar(&f.stats, "stats", false, "print gateway cache statistics after answering")
	fs.BoolVar(&f.tools, "tools", false, "list the registered tools and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.args = fs.Args()
	if f.question == "" {
		f.question = strings.TrimSpace(strings.Join(f.args, " "))
	}
	if !validFormat(f.output) {
		return nil, fmt.Errorf("unsupported output format %q", f.output)
	}
	if !f.history && !f.tools && f.batchFile == "" && f.question == "" {
		return nil, errors.New("a question, -batch file, -history or -tools is required")
	}
	return f, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) && !errors.Is(err, errAborted) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.dataDir != "" {
		cfg.DataDir = f.dataDir
	}
	if f.timeout > 0 {
		cfg.Session.Timeout = f.timeout
		cfg.Batch.Timeout = f.timeout
	}

	logOpts := logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Writer: stderr}
	if cfg.Log.File {
		logOpts.FilePath = cfg.LogPath()
	}
	if f.trace {
		logOpts.Level = "debug"
	}
	logs, err := logging.New(logOpts)
	if err != nil {
		return err
	}
	defer logs.Close()
	logger := logs.Logger

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if f.trace {
		if err := traceEvents(a, logger); err != nil {
			return err
		}
	}

	var exitErr error
	switch {
	case f.tools:
		return writeTools(stdout, f.output, a.analyst.Tools())
	case f.history:
		completions, err := a.gateway.History(ctx)
		if err != nil {
			return err
		}
		return writeHistory(stdout, f.output, completions)
	case f.batchFile != "":
		qf, err := batch.LoadAndValidate(f.batchFile)
		if err != nil {
			return err
		}
		runner := batch.NewRunner(a,
			batch.WithMaxWorkers(cfg.Batch.Workers),
			batch.WithTimeout(cfg.Batch.Timeout),
			batch.WithLogger(logger),
		)
		outcomes := runner.Run(ctx, qf)
		if err := writeOutcomes(stdout, f.output, outcomes); err != nil {
			return err
		}
		m := runner.Metrics()
		logger.Info("batch finished", "questions", m.Questions, "answered", m.Answered, "aborted", m.Aborted)
	default:
		res, runErr := a.Run(ctx, f.question)
		if res != nil {
			if err := writeResult(stdout, f.output, res); err != nil {
				return err
			}
		}
		if exitErr = sessionErr(res, runErr); exitErr != nil {
			logger.Warn("session ended without an answer", "error", runErr)
		}
	}

	if f.stats {
		s := a.gateway.Stats()
		fmt.Fprintf(stderr, "cache hits=%d misses=%d generations=%d\n", s.Hits, s.Misses, s.Generations)
	}
	return exitErr
}

// sessionErr maps a single-question outcome to the command's exit status.
// Without a result the run error itself is reported.
func sessionErr(res *analyst.PresentationResult, runErr error) error {
	switch {
	case res == nil && runErr != nil:
		return runErr
	case res == nil, res.FinalTool == analyst.FinalAborted, runErr != nil:
		return errAborted
	}
	return nil
}

// traceEvents logs every session event at debug level.
func traceEvents(a *app, logger *slog.Logger) error {
	bus := a.analyst.EventBus()
	if bus == nil {
		return nil
	}
	log := logger.With("component", "trace")
	_, err := bus.SubscribeAll(func(ctx context.Context, e eventbus.Event) error {
		attrs := []any{"event", string(e.Type()), "source", e.Source()}
		for k, v := range e.Metadata() {
			attrs = append(attrs, k, v)
		}
		log.Debug("event", attrs...)
		return nil
	})
	return err
}
