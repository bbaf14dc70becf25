package iptables

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"
)

// Mode selects whether mutations are applied to the host or only rendered.
type Mode int

const (
	// DryRun renders each mutation as text and never touches the host.
	DryRun Mode = iota
	// Live spawns the firewall program for each mutation.
	Live
)

func (m Mode) String() string {
	switch m {
	case DryRun:
		return "dry-run"
	case Live:
		return "live"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// FailurePolicy decides what happens to the rest of a batch once a mutation fails.
type FailurePolicy int

const (
	// BestEffort attempts every mutation regardless of earlier failures.
	BestEffort FailurePolicy = iota
	// HaltOnFailure stops at the first failure; later mutations are not attempted.
	HaltOnFailure
)

func (p FailurePolicy) String() string {
	switch p {
	case BestEffort:
		return "best-effort"
	case HaltOnFailure:
		return "halt-on-failure"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Outcome is the per-mutation result of a batch.
type Outcome struct {
	Mutation Mutation
	// Program and Command are the rendered invocation: the binary and its
	// space-joined arguments.
	Program string
	Command string
	// Attempted is true when the program was actually spawned.
	Attempted bool
	Err       error
}

// Failed reports whether the mutation was attempted and did not succeed.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// BatchResult collects the outcomes of one Run call in input order.
type BatchResult struct {
	Mode     Mode
	Outcomes []Outcome
}

// Failures returns the number of failed mutations.
func (b BatchResult) Failures() int {
	n := 0
	for _, o := range b.Outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}

// Err combines every per-mutation failure. It is informational: a failing
// mutation never fails the batch as a whole.
func (b BatchResult) Err() error {
	var err error
	for _, o := range b.Outcomes {
		err = multierr.Append(err, o.Err)
	}
	return err
}

// RunnerConfig holds the dependencies and settings for a Runner.
type RunnerConfig struct {
	Executor Executor
	Mode     Mode
	Policy   FailurePolicy
	Logger   *slog.Logger
}

// Runner executes mutation batches in order according to its mode and policy.
type Runner struct {
	executor Executor
	mode     Mode
	policy   FailurePolicy
	logger   *slog.Logger
}

// NewRunner validates the configuration and returns a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Mode != DryRun && cfg.Mode != Live {
		return nil, fmt.Errorf("unknown execution mode %d", int(cfg.Mode))
	}
	if cfg.Mode == Live && cfg.Executor == nil {
		return nil, errors.New("executor is required in live mode")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		executor: cfg.Executor,
		mode:     cfg.Mode,
		policy:   cfg.Policy,
		logger:   logger,
	}, nil
}

// Mode reports the runner's execution mode.
func (r *Runner) Mode() Mode {
	return r.mode
}

// Run executes mutations strictly in order, waiting for each before starting
// the next. Cancellation of ctx is ignored: once a batch starts every
// mutation it reaches is carried through.
func (r *Runner) Run(ctx context.Context, mutations []Mutation) BatchResult {
	ctx = context.WithoutCancel(ctx)

	result := BatchResult{
		Mode:     r.mode,
		Outcomes: make([]Outcome, 0, len(mutations)),
	}

	halted := false
	for _, m := range mutations {
		outcome := Outcome{
			Mutation: m,
			Program:  m.Program,
			Command:  m.String(),
		}

		switch {
		case r.mode == DryRun:
			r.logger.Debug("dry-run firewall mutation",
				slog.String("program", outcome.Program),
				slog.String("args", outcome.Command),
			)
		case halted:
			r.logger.Debug("skipping firewall mutation after earlier failure",
				slog.String("program", outcome.Program),
				slog.String("args", outcome.Command),
				slog.String("policy", r.policy.String()),
			)
		default:
			r.logger.Debug("running firewall mutation",
				slog.String("program", outcome.Program),
				slog.String("args", outcome.Command),
			)
			outcome.Attempted = true
			if err := r.executor.Run(ctx, m.Program, m.Args()...); err != nil {
				outcome.Err = err
				r.logger.Error("firewall mutation failed",
					slog.String("program", outcome.Program),
					slog.String("args", outcome.Command),
					slog.Any("error", err),
				)
				if r.policy == HaltOnFailure {
					halted = true
				}
			}
		}

		result.Outcomes = append(result.Outcomes, outcome)
	}

	return result
}
