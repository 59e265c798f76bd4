// Package lbrun reruns stored reports through a tracer, and compares the
// rerun with the original.
package lbrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/frankframework/ladybug"
	"github.com/frankframework/ladybug/lbstore"
)

// Rerunner repeats the work recorded by an original report, making point
// calls on the tracer with the given correlation id. Rerun should return
// once that work is done.
type Rerunner interface {
	Rerun(ctx context.Context, t *ladybug.Tracer, correlationID string, original *ladybug.Report) error
}

// RerunnerFunc adapts a function to a Rerunner.
type RerunnerFunc func(ctx context.Context, t *ladybug.Tracer, correlationID string, original *ladybug.Report) error

// Rerun implements Rerunner.
func (f RerunnerFunc) Rerun(ctx context.Context, t *ladybug.Tracer, correlationID string, original *ladybug.Report) error {
	return f(ctx, t, correlationID, original)
}

// Config defines the configuration parameters for a runner.
type Config struct {
	// Tracer used for reruns. Required.
	Tracer *ladybug.Tracer

	// Source of original reports. Required.
	Source lbstore.Storage

	// Rerunner is optional. By default, Replay.
	Rerunner Rerunner

	// Wait is how long to wait for the rerun report to close after Rerun
	// returns, before it's closed by force. Optional. By default 1s.
	Wait time.Duration

	// Logger is optional.
	Logger *slog.Logger
}

const waitDef = time.Second

// Runner reruns reports.
type Runner struct {
	tracer   *ladybug.Tracer
	source   lbstore.Storage
	rerunner Rerunner
	wait     time.Duration
	logger   *slog.Logger
}

// Result of a rerun.
type Result struct {
	StorageID int
	Original  *ladybug.Report
	Rerun     *ladybug.Report
	Equal     bool
	Diff      string // unified diff of the rendered checkpoints
	Err       error
}

// NewRunner returns a runner.
func NewRunner(cfg Config) (*Runner, error) {
	var problems []string
	if cfg.Tracer == nil {
		problems = append(problems, "missing tracer")
	}
	if cfg.Source == nil {
		problems = append(problems, "missing source storage")
	}
	if len(problems) > 0 {
		return nil, &lbstore.ConfigurationError{Problems: problems}
	}

	if cfg.Rerunner == nil {
		cfg.Rerunner = Replay
	}
	if cfg.Wait <= 0 {
		cfg.Wait = waitDef
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Runner{
		tracer:   cfg.Tracer,
		source:   cfg.Source,
		rerunner: cfg.Rerunner,
		wait:     cfg.Wait,
		logger:   cfg.Logger,
	}, nil
}

// Run reruns the report with the given storage ID.
func (r *Runner) Run(ctx context.Context, storageID int) (*Result, error) {
	original, err := r.source.Report(ctx, storageID)
	if err != nil {
		return nil, err
	}

	res, err := r.RunReport(ctx, original)
	if err != nil {
		return nil, fmt.Errorf("rerun report %d: %w", storageID, err)
	}

	res.StorageID = storageID
	return res, nil
}

// RunAll reruns every report, one after another. Failures are reported in the
// Err field of the corresponding result.
func (r *Runner) RunAll(ctx context.Context, storageIDs []int) []*Result {
	results := make([]*Result, 0, len(storageIDs))
	for _, id := range storageIDs {
		res, err := r.Run(ctx, id)
		if err != nil {
			res = &Result{StorageID: id, Err: err}
		}
		results = append(results, res)
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

// ErrNoReport is returned when a rerun doesn't produce a report, e.g. when it
// makes no point calls, or its report is suppressed by the regex filter.
var ErrNoReport = errors.New("rerun produced no report")

// RunReport reruns the original report. The rerun uses a new correlation id,
// and takes the messages of stubbed checkpoints from the original.
func (r *Runner) RunReport(ctx context.Context, original *ladybug.Report) (*Result, error) {
	if !r.tracer.Enabled() {
		return nil, fmt.Errorf("tracer is disabled")
	}

	correlationID := ulid.Make().String()

	r.tracer.SetStubSource(correlationID, original)
	defer r.tracer.RemoveStubSource(correlationID)

	ch := make(chan *ladybug.Report, 1)
	stop, err := r.tracer.Watch(func(rep *ladybug.Report) bool { return rep.CorrelationID == correlationID }, ch)
	if err != nil {
		return nil, fmt.Errorf("watch tracer: %w", err)
	}
	defer stop()

	begin := time.Now()
	if err := r.rerunner.Rerun(ctx, r.tracer, correlationID, original); err != nil {
		r.tracer.Close(ctx, correlationID)
		return nil, err
	}

	var rerun *ladybug.Report
	select {
	case rerun = <-ch:
	case <-time.After(r.wait):
	case <-ctx.Done():
	}

	if rerun == nil {
		if r.tracer.Close(ctx, correlationID) {
			r.logger.WarnContext(ctx, "rerun report closed by force", "correlation_id", correlationID, "original", original.Name)
		}
		select {
		case rerun = <-ch:
		default:
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, ErrNoReport
		}
	}

	equal, diff := Compare(original, rerun)

	r.logger.DebugContext(ctx, "rerun done", "original", original.Name, "correlation_id", correlationID, "equal", equal, "took", time.Since(begin))

	return &Result{
		StorageID: original.StorageID,
		Original:  original,
		Rerun:     rerun,
		Equal:     equal,
		Diff:      diff,
	}, nil
}

// Compare two reports by their checkpoints, rendered one per line with
// level, type, name and message. Thread names, times and ids are ignored.
// The diff is empty when the reports are equal.
func Compare(a, b *ladybug.Report) (equal bool, diff string) {
	la, lb := lines(a), lines(b)
	if strings.Join(la, "") == strings.Join(lb, "") {
		return true, ""
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        la,
		B:        lb,
		FromFile: "original",
		ToFile:   "rerun",
		Context:  3,
	})
	if err != nil {
		diff = err.Error()
	}
	return false, diff
}

func lines(r *ladybug.Report) []string {
	c := r.Clone()
	res := make([]string, len(c.Checkpoints))
	for i, cp := range c.Checkpoints {
		res[i] = strings.ReplaceAll(cp.String(), "\n", `\n`) + "\n"
	}
	return res
}
