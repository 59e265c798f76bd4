package ladybug

import (
	"context"
	"time"
)

// Close force-closes the in-progress report for the correlation id. Every open
// level on every thread is closed with a synthetic Abortpoint, pending child
// threads are dropped, and active streams stop capturing. The report is marked
// aborted if anything was still open. It returns false if there was no
// in-progress report.
func (t *Tracer) Close(ctx context.Context, correlationID string) bool {
	r, ok := t.lookup(correlationID)
	if !ok {
		return false
	}

	now := time.Now().UTC()

	r.mtx.Lock()
	if r.state.closed {
		r.mtx.Unlock()
		return false
	}
	t.forceThreads(ctx, r, r.state.order, "report closed", now)
	t.forceStreams(r)
	r.state.forced = true
	done := t.settle(r, now)
	r.mtx.Unlock()

	if done {
		t.finish(ctx, r)
	}

	return done
}

// CloseThread force-closes the open levels of one thread of the in-progress
// report for the correlation id, or drops the child thread registration with
// that id if the child never started. The report closes if nothing else keeps
// it open.
func (t *Tracer) CloseThread(ctx context.Context, correlationID, thread string) bool {
	r, ok := t.lookup(correlationID)
	if !ok {
		return false
	}

	now := time.Now().UTC()

	r.mtx.Lock()
	s := r.state
	if s.closed {
		r.mtx.Unlock()
		return false
	}

	var found bool
	if _, ok := s.pending[thread]; ok {
		delete(s.pending, thread)
		found = true
	}
	if ln, ok := s.lanes[thread]; ok {
		t.forceThreads(ctx, r, []*lane{ln}, "thread closed", now)
		found = true
	}
	done := t.settle(r, now)
	r.mtx.Unlock()

	if done {
		t.finish(ctx, r)
	}

	return found
}

// Sweep force-closes what's been idle for too long, as of now. Reports whose
// open threads have been idle for longer than the thread timeout are closed
// as with Close. Streams idle for longer than the stream timeout stop
// capturing, which closes their report if nothing else keeps it open.
func (t *Tracer) Sweep(ctx context.Context, now time.Time) {
	var (
		threadTimeout = time.Duration(t.threadTimeout.Load())
		streamTimeout = time.Duration(t.streamTimeout.Load())
	)

	for _, r := range t.inProgress() {
		r.mtx.Lock()
		s := r.state
		if s.closed {
			r.mtx.Unlock()
			continue
		}

		var swept bool

		if len(s.streams) > 0 && streamTimeout >= 0 && now.Sub(s.lastStream) >= streamTimeout {
			t.warn(ctx, r.CorrelationID, "", "closing %d idle stream(s)", len(s.streams))
			t.forceStreams(r)
			swept = true
		}

		if s.threadsBlocking() && threadTimeout >= 0 && now.Sub(s.lastThread) >= threadTimeout {
			t.warn(ctx, r.CorrelationID, "", "closing report %q with idle threads", r.Name)
			t.forceThreads(ctx, r, s.order, "thread timeout", now)
			t.forceStreams(r)
			s.forced = true
			swept = true
		}

		var done bool
		if swept {
			done = t.settle(r, now)
		}
		r.mtx.Unlock()

		if done {
			t.finish(ctx, r)
		}
	}
}

// Run sweeps at the configured interval until the context is canceled.
func (t *Tracer) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			t.Sweep(ctx, now.UTC())
		}
	}
}

// forceThreads closes every open level of the given lanes with a synthetic
// Abortpoint named after the Startpoint it closes, and drops pending child
// registrations when closing every lane. Must be called with r.mtx held.
func (t *Tracer) forceThreads(ctx context.Context, r *Report, lanes []*lane, reason string, now time.Time) {
	s := r.state

	if len(lanes) == len(s.order) {
		for childID := range s.pending {
			t.warn(ctx, r.CorrelationID, childID, "child thread never started")
		}
		s.pending = map[string]*pendingChild{}
	}

	for _, ln := range lanes {
		for ln.isOpen() {
			cp := &Checkpoint{
				UID:        newUID(now),
				Name:       ln.opened[len(ln.opened)-1],
				Type:       Abortpoint,
				ThreadName: ln.name,
				Stub:       StubFollowReport,
				Time:       now,
			}
			cp.setMessage(reason, 0)

			keep := !s.suppressed
			if keep && s.count >= int(t.maxCheckpoints.Load()) {
				keep = false
				r.Truncated++
				t.metrics.dropped()
			}
			s.record(ln, cp, keep, now)
			r.Aborted = true
		}
	}

	if s.abortHold {
		r.Aborted = true
	}
	s.abortHold = false
}

// forceStreams stops every active stream capture. Must be called with r.mtx
// held.
func (t *Tracer) forceStreams(r *Report) {
	for c := range r.state.streams {
		c.detach()
	}
}
