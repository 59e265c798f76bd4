package ladybug_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/frankframework/ladybug"
)

type collectSink struct {
	mtx     sync.Mutex
	reports []*ladybug.Report
}

func (s *collectSink) StoreWithoutError(ctx context.Context, r *ladybug.Report) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.reports = append(s.reports, r)
}

func (s *collectSink) Reports() []*ladybug.Report {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]*ladybug.Report(nil), s.reports...)
}

func newTestTracer(t *testing.T, cfg ladybug.TracerConfig) (*ladybug.Tracer, *collectSink) {
	t.Helper()
	sink := &collectSink{}
	cfg.Sink = sink
	tracer, err := ladybug.NewTracer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return tracer, sink
}

func countWarnings(tracer *ladybug.Tracer, substr string) int {
	var n int
	for _, w := range tracer.Warnings() {
		if strings.Contains(w.Message, substr) {
			n++
		}
	}
	return n
}

func describe(r *ladybug.Report) []string {
	var res []string
	for _, cp := range r.Checkpoints {
		res = append(res, fmt.Sprintf("%s %s %s %d", cp.ThreadName, cp.Type, cp.Name, cp.Level))
	}
	return res
}

func assertLines(t *testing.T, want, have []string) {
	t.Helper()
	if len(want) != len(have) {
		t.Fatalf("want %d checkpoints, have %d\nwant:\n%s\nhave:\n%s", len(want), len(have), strings.Join(want, "\n"), strings.Join(have, "\n"))
	}
	for i := range want {
		if want[i] != have[i] {
			t.Errorf("checkpoint %d: want %q, have %q", i, want[i], have[i])
		}
	}
}

func TestTracerBalanced(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, sink := newTestTracer(t, ladybug.TracerConfig{})

	const n = 5
	for i := 0; i < n; i++ {
		tracer.Startpoint(ctx, "c", "", fmt.Sprintf("s%d", i), "in")
	}
	if want, have := 1, tracer.InProgressCount(); want != have {
		t.Fatalf("in progress: want %d, have %d", want, have)
	}
	for i := n - 1; i >= 0; i-- {
		tracer.Endpoint(ctx, "c", "", fmt.Sprintf("s%d", i), "out")
	}

	reports := sink.Reports()
	if want, have := 1, len(reports); want != have {
		t.Fatalf("reports: want %d, have %d", want, have)
	}

	r := reports[0]
	if want, have := 2*n, len(r.Checkpoints); want != have {
		t.Fatalf("checkpoints: want %d, have %d", want, have)
	}
	for i, cp := range r.Checkpoints {
		wantLevel := i
		if i >= n {
			wantLevel = 2*n - 1 - i
		}
		if cp.Level != wantLevel {
			t.Errorf("checkpoint %d: want level %d, have %d", i, wantLevel, cp.Level)
		}
		if cp.Index != i {
			t.Errorf("checkpoint %d: want index %d, have %d", i, i, cp.Index)
		}
	}
	if want, have := "s0", r.Name; want != have {
		t.Errorf("name: want %q, have %q", want, have)
	}
	if r.Aborted {
		t.Errorf("report should not be aborted")
	}
	if want, have := 0, tracer.InProgressCount(); want != have {
		t.Errorf("in progress: want %d, have %d", want, have)
	}
	if want, have := 0, len(tracer.Warnings()); want != have {
		t.Errorf("warnings: want %d, have %d: %v", want, have, tracer.Warnings())
	}
}

func TestTracerPassthrough(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, _ := newTestTracer(t, ladybug.TracerConfig{})

	if want, have := any("hello"), tracer.Startpoint(ctx, "c", "", "s", "hello"); want != have {
		t.Errorf("want %v, have %v", want, have)
	}
	if have := tracer.Infopoint(ctx, "c", "", "i", nil); have != nil {
		t.Errorf("want nil, have %v", have)
	}
	if want, have := any(42), tracer.Endpoint(ctx, "c", "", "s", 42); want != have {
		t.Errorf("want %v, have %v", want, have)
	}

	tracer.SetEnabled(false)
	rc := io.NopCloser(strings.NewReader("x"))
	if have := tracer.Startpoint(ctx, "d", "", "s", rc); have != rc {
		t.Errorf("disabled tracer should return streams unchanged")
	}
	if want, have := 0, tracer.InProgressCount(); want != have {
		t.Errorf("in progress: want %d, have %d", want, have)
	}
}

func TestTracerGuessedParent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, sink := newTestTracer(t, ladybug.TracerConfig{})

	tracer.Startpoint(ctx, "c", "", "outer", nil)

	other := ladybug.WithThread(ctx, "worker")
	tracer.Startpoint(other, "c", "", "inner", nil)
	tracer.Endpoint(other, "c", "", "inner", nil)

	tracer.Endpoint(ctx, "c", "", "outer", nil)

	if want, have := 1, countWarnings(tracer, `guessed parent thread "main"`); want != have {
		t.Fatalf("guessed parent warnings: want %d, have %d: %v", want, have, tracer.Warnings())
	}

	reports := sink.Reports()
	if want, have := 1, len(reports); want != have {
		t.Fatalf("reports: want %d, have %d", want, have)
	}
	assertLines(t, []string{
		"main Startpoint outer 0",
		"worker Startpoint inner 1",
		"worker Endpoint inner 1",
		"main Endpoint outer 0",
	}, describe(reports[0]))
}

func TestTracerUnknownParent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, _ := newTestTracer(t, ladybug.TracerConfig{})

	tracer.ThreadCreatepoint(ctx, "c", "child")
	tracer.Infopoint(ladybug.WithThread(ctx, "stranger"), "c", "", "info", nil)

	if want, have := 1, countWarnings(tracer, "parent thread unknown"); want != have {
		t.Fatalf("unknown parent warnings: want %d, have %d: %v", want, have, tracer.Warnings())
	}
}

func TestTracerMaxCheckpoints(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, sink := newTestTracer(t, ladybug.TracerConfig{})
	tracer.SetMaxCheckpoints(3)

	for i := 0; i < 5; i++ {
		tracer.Startpoint(ctx, "c", "", fmt.Sprintf("s%d", i), nil)
	}
	for i := 4; i >= 0; i-- {
		tracer.Endpoint(ctx, "c", "", fmt.Sprintf("s%d", i), nil)
	}

	reports := sink.Reports()
	if want, have := 1, len(reports); want != have {
		t.Fatalf("reports: want %d, have %d", want, have)
	}
	r := reports[0]
	if want, have := 3, len(r.Checkpoints); want != have {
		t.Errorf("checkpoints: want %d, have %d", want, have)
	}
	if want, have := 7, r.Truncated; want != have {
		t.Errorf("truncated: want %d, have %d", want, have)
	}
	if want, have := 1, countWarnings(tracer, "maximum number of checkpoints"); want != have {
		t.Errorf("max checkpoint warnings: want %d, have %d", want, have)
	}
}

func TestTracerThreads(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, sink := newTestTracer(t, ladybug.TracerConfig{})

	tracer.Startpoint(ctx, "c", "", "request", nil)
	tracer.ThreadCreatepoint(ctx, "c", "c1")
	tracer.ThreadCreatepoint(ctx, "c", "c2")
	tracer.Infopoint(ctx, "c", "", "parent", nil)
	tracer.Endpoint(ctx, "c", "", "request", nil)

	if want, have := 0, len(sink.Reports()); want != have {
		t.Fatalf("report closed with pending child threads")
	}

	var wg sync.WaitGroup
	for _, id := range []string{"c2", "c1"} {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			child := ladybug.WithThread(ctx, id)
			tracer.ThreadStartpoint(child, "c", id, "", "child "+id, nil)
			tracer.Infopoint(child, "c", "", "work "+id, nil)
			tracer.ThreadEndpoint(child, "c", "", "child "+id, nil)
		}()
		wg.Wait()
	}

	reports := sink.Reports()
	if want, have := 1, len(reports); want != have {
		t.Fatalf("reports: want %d, have %d", want, have)
	}
	assertLines(t, []string{
		"main Startpoint request 0",
		"main ThreadCreatepoint c1 1",
		"c1 ThreadStartpoint child c1 1",
		"c1 Infopoint work c1 2",
		"c1 ThreadEndpoint child c1 1",
		"main ThreadCreatepoint c2 1",
		"c2 ThreadStartpoint child c2 1",
		"c2 Infopoint work c2 2",
		"c2 ThreadEndpoint child c2 1",
		"main Infopoint parent 1",
		"main Endpoint request 0",
	}, describe(reports[0]))

	if want, have := 0, len(tracer.Warnings()); want != have {
		t.Errorf("warnings: want %d, have %d: %v", want, have, tracer.Warnings())
	}
}

func TestTracerConcurrentReports(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, sink := newTestTracer(t, ladybug.TracerConfig{})

	const (
		reports = 16
		depth   = 50
	)

	var wg sync.WaitGroup
	for i := 0; i < reports; i++ {
		id := fmt.Sprintf("c%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < depth; j++ {
				tracer.Startpoint(ctx, id, "", fmt.Sprintf("s%d", j), j)
			}
			for j := depth - 1; j >= 0; j-- {
				tracer.Endpoint(ctx, id, "", fmt.Sprintf("s%d", j), j)
			}
		}()
	}
	wg.Wait()

	have := sink.Reports()
	if want, have := reports, len(have); want != have {
		t.Fatalf("reports: want %d, have %d", want, have)
	}
	for _, r := range have {
		if want, have := 2*depth, len(r.Checkpoints); want != have {
			t.Errorf("%s: checkpoints: want %d, have %d", r.CorrelationID, want, have)
		}
		if want, have := 0, r.Checkpoints[len(r.Checkpoints)-1].Level; want != have {
			t.Errorf("%s: final level: want %d, have %d", r.CorrelationID, want, have)
		}
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func TestTracerStreams(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, sink := newTestTracer(t, ladybug.TracerConfig{})

	tracer.Startpoint(ctx, "c", "", "request", nil)
	in := tracer.Inputpoint(ctx, "c", "", "body", io.NopCloser(strings.NewReader("hello world"))).(io.ReadCloser)
	var buf bytes.Buffer
	out := tracer.Outputpoint(ctx, "c", "", "reply", nopWriteCloser{&buf}).(io.WriteCloser)
	tracer.Endpoint(ctx, "c", "", "request", nil)

	if want, have := 0, len(sink.Reports()); want != have {
		t.Fatalf("report closed with open streams")
	}

	body, err := io.ReadAll(in)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := "hello world", string(body); want != have {
		t.Errorf("read: want %q, have %q", want, have)
	}
	in.Close()
	fmt.Fprintf(out, "bye")
	out.Close()

	if want, have := "bye", buf.String(); want != have {
		t.Errorf("write: want %q, have %q", want, have)
	}

	reports := sink.Reports()
	if want, have := 1, len(reports); want != have {
		t.Fatalf("reports: want %d, have %d", want, have)
	}
	cps := reports[0].Checkpoints
	if want, have := "hello world", cps[1].Message; want != have {
		t.Errorf("input message: want %q, have %q", want, have)
	}
	if want, have := ladybug.StreamingReader, cps[1].Streaming; want != have {
		t.Errorf("input streaming: want %q, have %q", want, have)
	}
	if want, have := "bye", cps[2].Message; want != have {
		t.Errorf("output message: want %q, have %q", want, have)
	}
	if want, have := ladybug.StreamingWriter, cps[2].Streaming; want != have {
		t.Errorf("output streaming: want %q, have %q", want, have)
	}
}

func TestTracerReaderClosesOnEOF(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, sink := newTestTracer(t, ladybug.TracerConfig{MaxMessageLength: 4})

	tracer.Startpoint(ctx, "c", "", "request", nil)
	r := tracer.Inputpoint(ctx, "c", "", "body", strings.NewReader("abcdefgh")).(io.Reader)
	tracer.Endpoint(ctx, "c", "", "request", nil)

	if _, err := io.Copy(io.Discard, r); err != nil {
		t.Fatal(err)
	}

	reports := sink.Reports()
	if want, have := 1, len(reports); want != have {
		t.Fatalf("reports: want %d, have %d", want, have)
	}
	cp := reports[0].Checkpoints[1]
	if want, have := "abcd", cp.Message; want != have {
		t.Errorf("message: want %q, have %q", want, have)
	}
	if want, have := 8, cp.PreTruncatedLength; want != have {
		t.Errorf("pre-truncated length: want %d, have %d", want, have)
	}
}

func TestTracerRegexFilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, sink := newTestTracer(t, ladybug.TracerConfig{RegexFilter: "^health"})

	tracer.Startpoint(ctx, "a", "", "healthcheck", nil)
	if want, have := 0, tracer.InProgressCount(); want != have {
		t.Errorf("in progress: want %d, have %d", want, have)
	}
	tracer.Endpoint(ctx, "a", "", "healthcheck", nil)

	tracer.Startpoint(ctx, "b", "", "order", nil)
	tracer.Endpoint(ctx, "b", "", "order", nil)

	reports := sink.Reports()
	if want, have := 1, len(reports); want != have {
		t.Fatalf("reports: want %d, have %d", want, have)
	}
	if want, have := "order", reports[0].Name; want != have {
		t.Errorf("name: want %q, have %q", want, have)
	}

	if err := tracer.SetRegexFilter("("); err == nil {
		t.Errorf("want error for invalid regex")
	}
}

func TestTracerAbort(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, sink := newTestTracer(t, ladybug.TracerConfig{})

	tracer.Startpoint(ctx, "c", "", "request", nil)
	tracer.Abortpoint(ctx, "c", "", "request", "boom")

	if want, have := 0, len(sink.Reports()); want != have {
		t.Fatalf("aborted report closed without Close")
	}
	if want, have := 1, tracer.InProgressCount(); want != have {
		t.Fatalf("in progress: want %d, have %d", want, have)
	}

	if !tracer.Close(ctx, "c") {
		t.Fatalf("Close returned false")
	}
	if tracer.Close(ctx, "c") {
		t.Errorf("second Close returned true")
	}

	reports := sink.Reports()
	if want, have := 1, len(reports); want != have {
		t.Fatalf("reports: want %d, have %d", want, have)
	}
	if !reports[0].Aborted {
		t.Errorf("report should be aborted")
	}
	assertLines(t, []string{
		"main Startpoint request 0",
		"main Abortpoint request 0",
	}, describe(reports[0]))
}

func TestTracerNestedAbortCloses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, sink := newTestTracer(t, ladybug.TracerConfig{})

	tracer.Startpoint(ctx, "c", "", "outer", nil)
	tracer.Startpoint(ctx, "c", "", "inner", nil)
	tracer.Abortpoint(ctx, "c", "", "inner", nil)
	tracer.Endpoint(ctx, "c", "", "outer", nil)

	reports := sink.Reports()
	if want, have := 1, len(reports); want != have {
		t.Fatalf("reports: want %d, have %d", want, have)
	}
	if reports[0].Aborted {
		t.Errorf("report should not be aborted")
	}
}

func TestTracerSweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	zero := time.Duration(0)
	never := time.Duration(-1)
	tracer, sink := newTestTracer(t, ladybug.TracerConfig{ThreadTimeout: &never, StreamTimeout: &never})

	tracer.Startpoint(ctx, "c", "", "outer", nil)
	tracer.Startpoint(ctx, "c", "", "inner", nil)

	tracer.Sweep(ctx, time.Now().Add(time.Hour))
	if want, have := 1, tracer.InProgressCount(); want != have {
		t.Fatalf("in progress: want %d, have %d", want, have)
	}

	tracer.SetThreadTimeout(zero)
	tracer.Sweep(ctx, time.Now())

	reports := sink.Reports()
	if want, have := 1, len(reports); want != have {
		t.Fatalf("reports: want %d, have %d", want, have)
	}
	if !reports[0].Aborted {
		t.Errorf("report should be aborted")
	}
	assertLines(t, []string{
		"main Startpoint outer 0",
		"main Startpoint inner 1",
		"main Abortpoint inner 1",
		"main Abortpoint outer 0",
	}, describe(reports[0]))
}

func TestTracerSweepStreams(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	never := time.Duration(-1)
	timeout := time.Minute
	tracer, sink := newTestTracer(t, ladybug.TracerConfig{ThreadTimeout: &never, StreamTimeout: &timeout})

	tracer.Startpoint(ctx, "c", "", "request", nil)
	tracer.Inputpoint(ctx, "c", "", "body", io.NopCloser(strings.NewReader("never read")))
	tracer.Endpoint(ctx, "c", "", "request", nil)

	tracer.Sweep(ctx, time.Now())
	if want, have := 0, len(sink.Reports()); want != have {
		t.Fatalf("stream closed before timeout")
	}

	tracer.Sweep(ctx, time.Now().Add(2*timeout))
	reports := sink.Reports()
	if want, have := 1, len(reports); want != have {
		t.Fatalf("reports: want %d, have %d", want, have)
	}
	if reports[0].Aborted {
		t.Errorf("report should not be aborted")
	}
}

func TestTracerCloseThread(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, sink := newTestTracer(t, ladybug.TracerConfig{})

	tracer.Startpoint(ctx, "c", "", "request", nil)
	tracer.ThreadCreatepoint(ctx, "c", "c1")
	tracer.Endpoint(ctx, "c", "", "request", nil)

	if tracer.CloseThread(ctx, "c", "nope") {
		t.Errorf("CloseThread of unknown thread returned true")
	}
	if !tracer.CloseThread(ctx, "c", "c1") {
		t.Errorf("CloseThread returned false")
	}
	if want, have := 1, len(sink.Reports()); want != have {
		t.Fatalf("reports: want %d, have %d", want, have)
	}
}

func TestTracerLatePointStartsNewReport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, sink := newTestTracer(t, ladybug.TracerConfig{})

	tracer.Startpoint(ctx, "c", "", "first", nil)
	tracer.Endpoint(ctx, "c", "", "first", nil)
	tracer.Startpoint(ctx, "c", "", "second", nil)
	tracer.Endpoint(ctx, "c", "", "second", nil)

	reports := sink.Reports()
	if want, have := 2, len(reports); want != have {
		t.Fatalf("reports: want %d, have %d", want, have)
	}
	if want, have := "second", reports[1].Name; want != have {
		t.Errorf("name: want %q, have %q", want, have)
	}
}

func TestTracerUnbalancedEndpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, sink := newTestTracer(t, ladybug.TracerConfig{})

	tracer.Endpoint(ctx, "c", "", "stray", nil)

	if want, have := 1, countWarnings(tracer, "without open level"); want != have {
		t.Errorf("warnings: want %d, have %d", want, have)
	}
	if want, have := 1, len(sink.Reports()); want != have {
		t.Errorf("reports: want %d, have %d", want, have)
	}
}

func TestTracerStubs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, sink := newTestTracer(t, ladybug.TracerConfig{})

	original := ladybug.NewReport("orig", "request")
	original.Checkpoints = []*ladybug.Checkpoint{
		{Name: "request", Type: ladybug.Startpoint, Message: "in", Stub: ladybug.StubFollowReport},
		{Name: "db", Type: ladybug.Inputpoint, Message: "first", Stub: ladybug.StubNo},
		{Name: "db", Type: ladybug.Inputpoint, Message: "second", Stub: ladybug.StubYes},
		{Name: "request", Type: ladybug.Endpoint, Message: "out", Stub: ladybug.StubFollowReport},
	}

	tracer.SetStubSource("rerun", original)
	defer tracer.RemoveStubSource("rerun")

	if want, have := any("live in"), tracer.Startpoint(ctx, "rerun", "", "request", "live in"); want != have {
		t.Errorf("start: want %v, have %v", want, have)
	}
	if want, have := any("live 1"), tracer.Inputpoint(ctx, "rerun", "", "db", "live 1"); want != have {
		t.Errorf("db 1: want %v, have %v", want, have)
	}
	if want, have := any("second"), tracer.Inputpoint(ctx, "rerun", "", "db", "live 2"); want != have {
		t.Errorf("db 2: want %v, have %v", want, have)
	}
	tracer.Endpoint(ctx, "rerun", "", "request", "live out")

	reports := sink.Reports()
	if want, have := 1, len(reports); want != have {
		t.Fatalf("reports: want %d, have %d", want, have)
	}
	if want, have := "second", reports[0].Checkpoints[2].Message; want != have {
		t.Errorf("stubbed message: want %q, have %q", want, have)
	}
}

func TestTracerWatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, _ := newTestTracer(t, ladybug.TracerConfig{})

	ch := make(chan *ladybug.Report, 1)
	stop, err := tracer.Watch(func(r *ladybug.Report) bool { return r.CorrelationID == "b" }, ch)
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"a", "b"} {
		tracer.Startpoint(ctx, id, "", "request", nil)
		tracer.Endpoint(ctx, id, "", "request", nil)
	}

	select {
	case r := <-ch:
		if want, have := "b", r.CorrelationID; want != have {
			t.Errorf("want %q, have %q", want, have)
		}
	default:
		t.Fatalf("no report received")
	}

	stats := stop()
	if want, have := uint64(1), stats.Sends; want != have {
		t.Errorf("sends: want %d, have %d", want, have)
	}
	if want, have := uint64(1), stats.Skips; want != have {
		t.Errorf("skips: want %d, have %d", want, have)
	}
}

func TestTracerInProgressSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tracer, _ := newTestTracer(t, ladybug.TracerConfig{})

	tracer.Startpoint(ctx, "c", "", "request", "payload")
	tracer.Infopoint(ctx, "c", "", "info", nil)

	snaps := tracer.InProgress()
	if want, have := 1, len(snaps); want != have {
		t.Fatalf("in progress: want %d, have %d", want, have)
	}
	assertLines(t, []string{
		"main Startpoint request 0",
		"main Infopoint info 1",
	}, describe(snaps[0]))

	tracer.Reset()
	if want, have := 0, tracer.InProgressCount(); want != have {
		t.Errorf("after reset: want %d, have %d", want, have)
	}
}
