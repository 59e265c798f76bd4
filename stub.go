package ladybug

import (
	"sync"
)

// stubSource replays messages of an original report into a rerun. The n-th
// point call with a given name and type in the rerun is matched with the n-th
// checkpoint with the same name and type in the original.
type stubSource struct {
	mtx      sync.Mutex
	original *Report
	seen     map[stubKey]int
}

type stubKey struct {
	name string
	typ  CheckpointType
}

// lookup returns the stubbed message for the next point call with the given
// name and type, if the matching original checkpoint is stubbed. A nil source
// stubs nothing.
func (ss *stubSource) lookup(name string, typ CheckpointType) (any, bool) {
	if ss == nil {
		return nil, false
	}

	ss.mtx.Lock()
	defer ss.mtx.Unlock()

	k := stubKey{name, typ}
	ordinal := ss.seen[k]
	ss.seen[k]++

	var n int
	for _, cp := range ss.original.Checkpoints {
		if cp.Name != name || cp.Type != typ {
			continue
		}
		if n < ordinal {
			n++
			continue
		}
		if !stubbed(cp, ss.original.StubStrategy) {
			return nil, false
		}
		return cp.Value(), true
	}

	return nil, false
}

func stubbed(cp *Checkpoint, strategy string) bool {
	switch cp.Stub {
	case StubYes:
		return true
	case StubFollowReport:
		return strategy == StubStrategyAlways
	default:
		return false
	}
}

// SetStubSource makes the next report with the given correlation id take
// the messages of stubbed checkpoints from original, rather than from the
// point calls. A checkpoint is stubbed if its Stub is StubYes, or if it's
// StubFollowReport and the original's StubStrategy is StubStrategyAlways.
// Stub sources must be removed with RemoveStubSource.
func (t *Tracer) SetStubSource(correlationID string, original *Report) {
	ss := &stubSource{
		original: original.Clone(),
		seen:     map[stubKey]int{},
	}

	t.mtx.Lock()
	defer t.mtx.Unlock()

	t.stubs[correlationID] = ss
}

// RemoveStubSource removes the stub source for the correlation id. Reports
// already in progress keep using it until they close.
func (t *Tracer) RemoveStubSource(correlationID string) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	delete(t.stubs, correlationID)
}
