package ladybug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frankframework/ladybug/internal/lbpubsub"
	"github.com/frankframework/ladybug/internal/lbringbuf"
	"github.com/oklog/ulid/v2"
)

// ReportSink receives every closed report. Log storages implement it.
// StoreWithoutError is called synchronously on the goroutine whose point call
// closed the report, and must not panic.
type ReportSink interface {
	StoreWithoutError(ctx context.Context, r *Report)
}

// TracerConfig defines the configuration parameters for a tracer.
type TracerConfig struct {
	// Sink receives closed reports. Optional. By default, closed reports are
	// only published to watchers.
	Sink ReportSink

	// Logger receives warnings and errors. Optional. By default, nothing is
	// logged, but warnings are still available via Tracer.Warnings.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *Metrics

	// MaxCheckpoints per report. Optional. By default 2500, minimum 1.
	MaxCheckpoints int

	// MaxMessageLength in bytes. Optional. By default 1000000. Negative means
	// unlimited.
	MaxMessageLength int

	// RegexFilter suppresses reports whose name matches at the first
	// Startpoint. Optional. By default, nothing is suppressed.
	RegexFilter string

	// ThreadTimeout after which the sweep force-closes reports with idle open
	// threads. Negative means never, zero means on the next sweep. Optional.
	// By default 5m.
	ThreadTimeout *time.Duration

	// StreamTimeout after which the sweep force-closes idle message streams.
	// Negative means never, zero means on the next sweep. Optional. By
	// default 5m.
	StreamTimeout *time.Duration

	// SweepInterval used by Run. Optional. By default 10s, minimum 10ms.
	SweepInterval time.Duration

	// WarningsSize is the number of recent warnings retained. Optional. By
	// default 100.
	WarningsSize int

	// Disabled makes every point call a no-op until SetEnabled(true).
	Disabled bool
}

const (
	maxCheckpointsDef   = 2500
	maxMessageLengthDef = 1000000
	timeoutDef          = 5 * time.Minute
	sweepIntervalDef    = 10 * time.Second
	sweepIntervalMin    = 10 * time.Millisecond
	warningsSizeDef     = 100
)

// Tracer turns point calls into reports. Point calls that share a correlation
// id, from any number of goroutines, are merged into the same report until it
// closes. Every point call returns its message, or a capturing wrapper for
// streams, so that tracing stays transparent to the caller.
//
// Mutations of a report are serialized by a mutex owned by that report, so
// unrelated correlation ids never contend with each other.
type Tracer struct {
	cfg     TracerConfig
	sink    ReportSink
	logger  *slog.Logger
	metrics *Metrics

	enabled          atomic.Bool
	maxCheckpoints   atomic.Int64
	maxMessageLength atomic.Int64
	threadTimeout    atomic.Int64
	streamTimeout    atomic.Int64
	filter           atomic.Pointer[regexp.Regexp]

	mtx     sync.Mutex
	reports map[string]*Report
	stubs   map[string]*stubSource

	warnings *lbringbuf.RingBuffer[CorrelationWarning]
	closed   *lbpubsub.Broker[*Report]
}

// NewTracer returns a tracer based on the provided config. An invalid regex
// filter is an error.
func NewTracer(cfg TracerConfig) (*Tracer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	switch {
	case cfg.MaxCheckpoints <= 0:
		cfg.MaxCheckpoints = maxCheckpointsDef
	}

	switch {
	case cfg.MaxMessageLength == 0:
		cfg.MaxMessageLength = maxMessageLengthDef
	case cfg.MaxMessageLength < 0:
		cfg.MaxMessageLength = -1
	}

	if cfg.ThreadTimeout == nil {
		d := timeoutDef
		cfg.ThreadTimeout = &d
	}

	if cfg.StreamTimeout == nil {
		d := timeoutDef
		cfg.StreamTimeout = &d
	}

	switch {
	case cfg.SweepInterval <= 0:
		cfg.SweepInterval = sweepIntervalDef
	case cfg.SweepInterval < sweepIntervalMin:
		cfg.SweepInterval = sweepIntervalMin
	}

	if cfg.WarningsSize <= 0 {
		cfg.WarningsSize = warningsSizeDef
	}

	t := &Tracer{
		cfg:      cfg,
		sink:     cfg.Sink,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		reports:  map[string]*Report{},
		stubs:    map[string]*stubSource{},
		warnings: lbringbuf.New[CorrelationWarning](cfg.WarningsSize),
		closed:   lbpubsub.NewBroker[*Report](nil),
	}

	if err := t.applyConfig(); err != nil {
		return nil, err
	}

	return t, nil
}

func (t *Tracer) applyConfig() error {
	t.enabled.Store(!t.cfg.Disabled)
	t.maxCheckpoints.Store(int64(t.cfg.MaxCheckpoints))
	t.maxMessageLength.Store(int64(t.cfg.MaxMessageLength))
	t.threadTimeout.Store(int64(*t.cfg.ThreadTimeout))
	t.streamTimeout.Store(int64(*t.cfg.StreamTimeout))
	return t.SetRegexFilter(t.cfg.RegexFilter)
}

// Reset drops every in-progress report, stub source, and warning, and restores
// every setting to its configured value.
func (t *Tracer) Reset() {
	t.mtx.Lock()
	t.reports = map[string]*Report{}
	t.stubs = map[string]*stubSource{}
	t.mtx.Unlock()

	t.warnings.Reset()
	_ = t.applyConfig() // validated by NewTracer
}

// SetEnabled turns point calls on or off. A disabled tracer returns every
// message unchanged and records nothing.
func (t *Tracer) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// Enabled returns true if point calls are recorded.
func (t *Tracer) Enabled() bool { return t.enabled.Load() }

// SetMaxCheckpoints sets the maximum number of checkpoints per report. Values
// below 1 are treated as 1. Reports that already reached a lower maximum are
// not affected retroactively.
func (t *Tracer) SetMaxCheckpoints(n int) {
	if n < 1 {
		n = 1
	}
	t.maxCheckpoints.Store(int64(n))
}

// MaxCheckpoints returns the current maximum number of checkpoints per report.
func (t *Tracer) MaxCheckpoints() int { return int(t.maxCheckpoints.Load()) }

// SetMaxMessageLength sets the maximum message length in bytes. Negative means
// unlimited.
func (t *Tracer) SetMaxMessageLength(n int) {
	if n < 0 {
		n = -1
	}
	t.maxMessageLength.Store(int64(n))
}

// SetRegexFilter sets the report name filter. Reports whose name matches are
// suppressed. An empty expression removes the filter.
func (t *Tracer) SetRegexFilter(expr string) error {
	if expr == "" {
		t.filter.Store(nil)
		return nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("regex filter: %w", err)
	}
	t.filter.Store(re)
	return nil
}

// SetThreadTimeout sets the idle time after which the sweep closes reports
// with open threads. Negative means never, zero means on the next sweep.
func (t *Tracer) SetThreadTimeout(d time.Duration) { t.threadTimeout.Store(int64(d)) }

// SetStreamTimeout sets the idle time after which the sweep closes message
// streams. Negative means never, zero means on the next sweep.
func (t *Tracer) SetStreamTimeout(d time.Duration) { t.streamTimeout.Store(int64(d)) }

//
//
//

// Startpoint opens a nesting level.
func (t *Tracer) Startpoint(ctx context.Context, correlationID, sourceClassName, name string, message any) any {
	return t.point(ctx, Startpoint, correlationID, "", sourceClassName, name, message)
}

// Endpoint closes the innermost nesting level of the calling thread.
func (t *Tracer) Endpoint(ctx context.Context, correlationID, sourceClassName, name string, message any) any {
	return t.point(ctx, Endpoint, correlationID, "", sourceClassName, name, message)
}

// Abortpoint closes the innermost nesting level of the calling thread, marking
// it as ended abnormally. A report whose levels were balanced by an Abortpoint
// stays in progress until Close or the sweep closes it.
func (t *Tracer) Abortpoint(ctx context.Context, correlationID, sourceClassName, name string, message any) any {
	return t.point(ctx, Abortpoint, correlationID, "", sourceClassName, name, message)
}

// Inputpoint records an input message at the current level.
func (t *Tracer) Inputpoint(ctx context.Context, correlationID, sourceClassName, name string, message any) any {
	return t.point(ctx, Inputpoint, correlationID, "", sourceClassName, name, message)
}

// Outputpoint records an output message at the current level.
func (t *Tracer) Outputpoint(ctx context.Context, correlationID, sourceClassName, name string, message any) any {
	return t.point(ctx, Outputpoint, correlationID, "", sourceClassName, name, message)
}

// Infopoint records an informational message at the current level.
func (t *Tracer) Infopoint(ctx context.Context, correlationID, sourceClassName, name string, message any) any {
	return t.point(ctx, Infopoint, correlationID, "", sourceClassName, name, message)
}

// ThreadCreatepoint is called by a parent thread before it starts a child that
// will take part in the report. The child must announce itself with a
// ThreadStartpoint using the same childThreadID. Until it does, the report
// stays open.
func (t *Tracer) ThreadCreatepoint(ctx context.Context, correlationID, childThreadID string) {
	t.point(ctx, ThreadCreatepoint, correlationID, childThreadID, "", childThreadID, nil)
}

// ThreadStartpoint is called by a child thread as its first point call. Its
// checkpoints are placed directly after the matching ThreadCreatepoint. The
// thread name is taken from the context if set, otherwise childThreadID is
// used.
func (t *Tracer) ThreadStartpoint(ctx context.Context, correlationID, childThreadID, sourceClassName, name string, message any) any {
	return t.point(ctx, ThreadStartpoint, correlationID, childThreadID, sourceClassName, name, message)
}

// ThreadEndpoint is called by a child thread as its last point call.
func (t *Tracer) ThreadEndpoint(ctx context.Context, correlationID, sourceClassName, name string, message any) any {
	return t.point(ctx, ThreadEndpoint, correlationID, "", sourceClassName, name, message)
}

//
//
//

var uidEntropy = ulid.DefaultEntropy()

func newUID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), uidEntropy).String()
}

func (t *Tracer) point(ctx context.Context, typ CheckpointType, correlationID, childID, sourceClassName, name string, message any) any {
	if !t.enabled.Load() {
		return message
	}

	now := time.Now().UTC()

	thread := ThreadName(ctx)
	if typ == ThreadStartpoint {
		if _, ok := MaybeThreadName(ctx); !ok && childID != "" {
			thread = childID
		}
	}

	for {
		r := t.getOrCreate(correlationID, name, now)

		r.mtx.Lock()
		if r.state.closed {
			r.mtx.Unlock()
			t.forget(correlationID, r) // late point call, start a new report
			continue
		}

		result := t.admit(ctx, r, typ, childID, thread, sourceClassName, name, message, now)
		done := t.settle(r, now)
		r.mtx.Unlock()

		if done {
			t.finish(ctx, r)
		}

		return result
	}
}

func (t *Tracer) getOrCreate(correlationID, name string, now time.Time) *Report {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if r, ok := t.reports[correlationID]; ok {
		return r
	}

	r := &Report{
		CorrelationID: correlationID,
		Name:          name,
		StartTime:     now,
		StubStrategy:  StubStrategyNever,
		Checkpoints:   []*Checkpoint{},
		state:         newReportState(),
	}
	r.state.stubs = t.stubs[correlationID]
	t.reports[correlationID] = r

	return r
}

func (t *Tracer) forget(correlationID string, r *Report) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.reports[correlationID] == r {
		delete(t.reports, correlationID)
	}
}

// lookup returns the in-progress report for the correlation id, if any.
func (t *Tracer) lookup(correlationID string) (*Report, bool) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	r, ok := t.reports[correlationID]
	return r, ok
}

// admit records one point call. Must be called with r.mtx held.
func (t *Tracer) admit(ctx context.Context, r *Report, typ CheckpointType, childID, thread, sourceClassName, name string, message any, now time.Time) any {
	s := r.state
	ln := t.resolveLane(ctx, r, typ, childID, thread)

	if typ == Startpoint && !s.filtered {
		s.filtered = true
		if re := t.filter.Load(); re != nil && re.MatchString(name) {
			s.suppressed = true
			t.metrics.filtered()
		}
	}

	cp := &Checkpoint{
		UID:             newUID(now),
		Name:            name,
		Type:            typ,
		ThreadName:      ln.name,
		SourceClassName: sourceClassName,
		Stub:            StubFollowReport,
		Time:            now,
	}

	keep := !s.suppressed
	if keep && s.count >= int(t.maxCheckpoints.Load()) {
		keep = false
		r.Truncated++
		t.metrics.dropped()
		if !s.warnedMax {
			s.warnedMax = true
			t.warn(ctx, r.CorrelationID, ln.name, "maximum number of checkpoints (%d) exceeded, dropping further checkpoints", s.count)
		}
	}

	result := message
	switch stubbed, ok := s.stubs.lookup(name, typ); {
	case ok:
		result = stubbed
		if keep {
			cp.setMessage(stubbed, int(t.maxMessageLength.Load()))
			cp.Stub = StubYes
		}
	case keep:
		result = t.wrap(r, cp, message, now)
	}

	if balanced := s.record(ln, cp, keep, now); !balanced {
		t.warn(ctx, r.CorrelationID, ln.name, "%s %q without open level", typ, name)
	}

	if typ == ThreadCreatepoint {
		if _, ok := s.pending[childID]; ok {
			t.warn(ctx, r.CorrelationID, ln.name, "child thread %q registered twice", childID)
		}
		s.register(ln, childID)
	}

	return result
}

// resolveLane finds or creates the lane for the calling thread. Must be called
// with r.mtx held.
func (t *Tracer) resolveLane(ctx context.Context, r *Report, typ CheckpointType, childID, thread string) *lane {
	s := r.state

	if typ == ThreadStartpoint && childID != "" {
		name := thread
		if _, taken := s.lanes[name]; taken {
			if _, ok := s.pending[childID]; ok {
				t.warn(ctx, r.CorrelationID, thread, "thread name already in use, using %q", childID)
				name = childID
			}
		}
		if ln, ok := s.claim(childID, name); ok {
			return ln
		}
	}

	if ln, ok := s.lanes[thread]; ok {
		if typ == ThreadStartpoint {
			t.warn(ctx, r.CorrelationID, thread, "ThreadStartpoint for %q without ThreadCreatepoint", childID)
		}
		return ln
	}

	if s.root == nil {
		return s.addLane(thread, 0)
	}

	if ln, ok := s.claim(thread, thread); ok {
		return ln // child announced itself without a ThreadStartpoint
	}

	if parent, ok := guessParent(s.laneInfos()); ok {
		t.warn(ctx, r.CorrelationID, thread, "no ThreadCreatepoint for new thread, guessed parent thread %q", parent)
		return s.attach(s.lanes[parent], thread)
	}

	t.warn(ctx, r.CorrelationID, thread, "no ThreadCreatepoint for new thread, parent thread unknown")
	return s.attach(s.root, thread)
}

// settle closes the report if every close condition holds. It returns true
// if the report was closed by this call. Must be called with r.mtx held.
func (t *Tracer) settle(r *Report, now time.Time) bool {
	s := r.state
	if s.closed || !s.closable() {
		return false
	}

	s.closed = true
	r.EndTime = now

	cps := s.flatten()
	for i, cp := range cps {
		cp.Index = i
	}
	r.Checkpoints = cps

	if r.Truncated == 0 {
		s.invalid = s.validate()
	}

	s.root, s.lanes, s.order, s.pending = nil, nil, nil, nil
	r.bytes = nil

	return true
}

// finish hands a report closed by settle to watchers and the sink. Must be
// called without r.mtx held.
func (t *Tracer) finish(ctx context.Context, r *Report) {
	t.forget(r.CorrelationID, r)

	r.mtx.Lock()
	var (
		suppressed = r.state.suppressed
		invalid    = r.state.invalid
		forced     = r.state.forced
	)
	r.mtx.Unlock()

	if suppressed {
		return
	}

	if invalid != nil {
		t.metrics.invalid()
		t.fail(ctx, r.CorrelationID, "", "report %q is inconsistent and will not be stored: %v", r.Name, invalid)
		return
	}

	if forced {
		t.metrics.forced()
	}
	t.metrics.closed()

	t.closed.Publish(ctx, r)

	if t.sink != nil {
		t.sink.StoreWithoutError(ctx, r)
	}
}

//
//
//

// InProgress returns snapshots of every report that's still being built,
// oldest first. Reports suppressed by the regex filter are not included.
func (t *Tracer) InProgress() []*Report {
	var res []*Report
	for _, r := range t.inProgress() {
		r.mtx.Lock()
		if !r.state.closed && !r.state.suppressed {
			res = append(res, r.cloneLocked())
		}
		r.mtx.Unlock()
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].StartTime.Before(res[j].StartTime)
	})
	return res
}

// InProgressCount returns the number of reports that are still being built,
// not counting reports suppressed by the regex filter.
func (t *Tracer) InProgressCount() int {
	var n int
	for _, r := range t.inProgress() {
		r.mtx.Lock()
		if !r.state.closed && !r.state.suppressed {
			n++
		}
		r.mtx.Unlock()
	}
	return n
}

func (t *Tracer) inProgress() []*Report {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	res := make([]*Report, 0, len(t.reports))
	for _, r := range t.reports {
		res = append(res, r)
	}
	return res
}

// SubscriptionStats counts closed reports sent to, skipped by, or dropped for
// one watcher.
type SubscriptionStats = lbpubsub.Stats

// Watch sends every closed report accepted by allow to ch, until the returned
// stop function is called. A nil allow accepts every report. Sends never block;
// if ch is full the report is dropped for this watcher. Reports received on ch
// must be treated as read-only.
func (t *Tracer) Watch(allow func(*Report) bool, ch chan<- *Report) (stop func() SubscriptionStats, err error) {
	if err := t.closed.Add(allow, ch); err != nil {
		return nil, err
	}
	return func() SubscriptionStats {
		stats, _ := t.closed.Remove(ch)
		return stats
	}, nil
}

// Subscribe is like Watch, but blocks until the context is canceled.
func (t *Tracer) Subscribe(ctx context.Context, allow func(*Report) bool, ch chan<- *Report) (SubscriptionStats, error) {
	return t.closed.Subscribe(ctx, allow, ch)
}

// SubscriptionStats returns the current stats of a channel registered with
// Watch or Subscribe.
func (t *Tracer) SubscriptionStats(ctx context.Context, ch chan<- *Report) (SubscriptionStats, error) {
	return t.closed.Stats(ctx, ch)
}
