package lbrun_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/frankframework/ladybug"
	"github.com/frankframework/ladybug/lbrun"
	"github.com/frankframework/ladybug/lbstore"
)

func newRunner(t *testing.T, rerunner lbrun.Rerunner) (*ladybug.Tracer, *lbstore.Memory, *lbrun.Runner) {
	t.Helper()

	storage := lbstore.NewMemory("debug")
	tracer, err := ladybug.NewTracer(ladybug.TracerConfig{Sink: storage})
	AssertNoError(t, err)

	runner, err := lbrun.NewRunner(lbrun.Config{
		Tracer:   tracer,
		Source:   storage,
		Rerunner: rerunner,
		Wait:     50 * time.Millisecond,
	})
	AssertNoError(t, err)

	return tracer, storage, runner
}

// request records a report with a child thread.
func request(ctx context.Context, tracer *ladybug.Tracer, correlationID, input string) {
	tracer.Startpoint(ctx, correlationID, "Pipeline", "request", input)
	tracer.Inputpoint(ctx, correlationID, "Sender", "db", "row "+input)
	tracer.ThreadCreatepoint(ctx, correlationID, "worker")

	child := ladybug.WithThread(ctx, "worker")
	tracer.ThreadStartpoint(child, correlationID, "worker", "Worker", "work", nil)
	tracer.Infopoint(child, correlationID, "Worker", "step", "upper "+strings.ToUpper(input))
	tracer.ThreadEndpoint(child, correlationID, "Worker", "work", nil)

	tracer.Endpoint(ctx, correlationID, "Pipeline", "request", "done "+input)
}

func TestReplay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, storage, runner := newRunner(t, nil)

	request(ctx, tracer, "c1", "abc")

	res, err := runner.Run(ctx, 1)
	AssertNoError(t, err)
	AssertEqual(t, 1, res.StorageID)
	if !res.Equal {
		t.Fatalf("replay differs:\n%s", res.Diff)
	}
	ExpectEqual(t, "", res.Diff)
	ExpectEqual(t, "request", res.Rerun.Name)
	ExpectEqual(t, false, res.Rerun.CorrelationID == "c1")

	// The rerun is stored like any other report.
	n, err := storage.Size(ctx)
	AssertNoError(t, err)
	AssertEqual(t, 2, n)

	ExpectEqual(t, 0, len(tracer.Warnings()))
}

func TestRerunnerDiff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, _, runner := newRunner(t, lbrun.RerunnerFunc(func(ctx context.Context, t *ladybug.Tracer, correlationID string, original *ladybug.Report) error {
		request(ctx, t, correlationID, "xyz")
		return nil
	}))

	request(ctx, tracer, "c1", "abc")

	res, err := runner.Run(ctx, 1)
	AssertNoError(t, err)
	AssertEqual(t, false, res.Equal)

	for _, want := range []string{
		"--- original",
		"+++ rerun",
		"-Startpoint request: abc",
		"+Startpoint request: xyz",
		"-    Infopoint step: upper ABC",
		"+    Infopoint step: upper XYZ",
	} {
		if !strings.Contains(res.Diff, want) {
			t.Errorf("diff doesn't contain %q:\n%s", want, res.Diff)
		}
	}
}

func TestRerunStubs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, storage, runner := newRunner(t, lbrun.RerunnerFunc(func(ctx context.Context, t *ladybug.Tracer, correlationID string, original *ladybug.Report) error {
		// The rerun input differs, but the db response is stubbed.
		request(ctx, t, correlationID, "abc")
		return nil
	}))

	request(ctx, tracer, "c1", "abc")

	original, err := storage.Report(ctx, 1)
	AssertNoError(t, err)
	AssertNoError(t, original.SetCheckpointMessage(1, "stubbed row"))
	AssertNoError(t, original.SetCheckpointStub(1, ladybug.StubYes))
	AssertNoError(t, storage.Update(ctx, original))

	res, err := runner.Run(ctx, 1)
	AssertNoError(t, err)
	if !res.Equal {
		t.Errorf("stubbed rerun differs:\n%s", res.Diff)
	}
	ExpectEqual(t, "stubbed row", res.Rerun.Checkpoints[1].Message)
	ExpectEqual(t, ladybug.StubYes, res.Rerun.Checkpoints[1].Stub)
}

func TestRerunForcedClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, _, runner := newRunner(t, lbrun.RerunnerFunc(func(ctx context.Context, t *ladybug.Tracer, correlationID string, original *ladybug.Report) error {
		t.Startpoint(ctx, correlationID, "", "request", "abc")
		return nil
	}))

	request(ctx, tracer, "c1", "abc")

	res, err := runner.Run(ctx, 1)
	AssertNoError(t, err)
	ExpectEqual(t, false, res.Equal)
	ExpectEqual(t, true, res.Rerun.Aborted)
	ExpectEqual(t, 0, tracer.InProgressCount())
}

func TestRerunErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	_, _, runner := newRunner(t, nil)
	if _, err := runner.Run(ctx, 42); !errors.Is(err, lbstore.ErrNotFound) {
		t.Errorf("missing report: want ErrNotFound, have %v", err)
	}

	tracer, _, runner := newRunner(t, lbrun.RerunnerFunc(func(context.Context, *ladybug.Tracer, string, *ladybug.Report) error {
		return nil
	}))
	request(ctx, tracer, "c1", "abc")
	if _, err := runner.Run(ctx, 1); !errors.Is(err, lbrun.ErrNoReport) {
		t.Errorf("no point calls: want ErrNoReport, have %v", err)
	}

	boom := errors.New("boom")
	tracer, _, runner = newRunner(t, lbrun.RerunnerFunc(func(context.Context, *ladybug.Tracer, string, *ladybug.Report) error {
		return boom
	}))
	request(ctx, tracer, "c1", "abc")
	if _, err := runner.Run(ctx, 1); !errors.Is(err, boom) {
		t.Errorf("rerunner error: want %v, have %v", boom, err)
	}

	results := runner.RunAll(ctx, []int{1, 2})
	AssertEqual(t, 2, len(results))
	ExpectEqual(t, true, errors.Is(results[0].Err, boom))
	ExpectEqual(t, true, errors.Is(results[1].Err, lbstore.ErrNotFound))

	var cerr *lbstore.ConfigurationError
	if _, err := lbrun.NewRunner(lbrun.Config{}); !errors.As(err, &cerr) {
		t.Errorf("empty config: want ConfigurationError, have %v", err)
	}
}

func TestCompare(t *testing.T) {
	t.Parallel()

	a := ladybug.NewReport("a", "r")
	a.Checkpoints = []*ladybug.Checkpoint{
		{Name: "r", Type: ladybug.Startpoint, Message: "x\ny", ThreadName: "main"},
		{Name: "r", Type: ladybug.Endpoint, Message: "z", ThreadName: "main"},
	}
	b := a.Clone()
	b.Checkpoints[0].ThreadName = "other"
	b.Checkpoints[0].UID = "different"

	equal, diff := lbrun.Compare(a, b)
	ExpectEqual(t, true, equal)
	ExpectEqual(t, "", diff)

	AssertNoError(t, b.SetCheckpointMessage(1, "w"))
	equal, diff = lbrun.Compare(a, b)
	ExpectEqual(t, false, equal)
	if !strings.Contains(diff, "-Endpoint r: z") || !strings.Contains(diff, "+Endpoint r: w") {
		t.Errorf("unexpected diff:\n%s", diff)
	}
}
