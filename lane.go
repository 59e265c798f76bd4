package ladybug

import (
	"fmt"
	"time"
)

// reportState is the mutable builder state of an in-progress report. It's
// guarded by the mutex of the owning report.
//
// A report is a tree of lanes, one lane per thread. The first lane is the
// root. Other lanes hang off a slot in their parent lane, so that flattening
// the tree puts a child's checkpoints directly after the point where the child
// was created.
type reportState struct {
	root       *lane
	lanes      map[string]*lane
	order      []*lane // creation order
	pending    map[string]*pendingChild
	streams    map[*capture]struct{}
	count      int    // recorded checkpoints
	seq        uint64 // admission sequence, for guessing parents
	abortHold  bool   // last level-closing checkpoint was an Abortpoint
	filtered   bool   // regex filter evaluated
	suppressed bool   // matched the regex filter, never stored
	warnedMax  bool
	closed     bool
	forced     bool
	invalid    error     // set by validate on close
	lastThread time.Time // last checkpoint admitted on any lane
	lastStream time.Time // last byte captured by any stream
	stubs      *stubSource
}

type lane struct {
	name       string
	items      []laneItem
	level      int
	base       int
	opened     []string // names of open levels, innermost last
	seq        uint64   // admission sequence of the latest checkpoint
	lastActive time.Time
}

type laneItem struct {
	cp    *Checkpoint
	child *lane // nil for checkpoints and for unfilled slots
	slot  string
}

type pendingChild struct {
	parent *lane
	slot   int
	level  int
}

func newReportState() *reportState {
	return &reportState{
		lanes:   map[string]*lane{},
		pending: map[string]*pendingChild{},
		streams: map[*capture]struct{}{},
	}
}

func (s *reportState) addLane(name string, base int) *lane {
	ln := &lane{name: name, level: base, base: base}
	s.lanes[name] = ln
	s.order = append(s.order, ln)
	if s.root == nil {
		s.root = ln
	}
	return ln
}

// isOpen reports whether the lane has unbalanced levels.
func (ln *lane) isOpen() bool {
	return ln.level > ln.base
}

// laneInfo is the view of a lane used to guess a parent.
type laneInfo struct {
	Name string
	Open bool
	Seq  uint64
}

// guessParent picks the most recently active lane that still has open levels.
// It returns false when no lane qualifies.
func guessParent(lanes []laneInfo) (string, bool) {
	var (
		best  string
		bestq uint64
		found bool
	)
	for _, ln := range lanes {
		if !ln.Open {
			continue
		}
		if !found || ln.Seq > bestq {
			best, bestq, found = ln.Name, ln.Seq, true
		}
	}
	return best, found
}

func (s *reportState) laneInfos() []laneInfo {
	infos := make([]laneInfo, len(s.order))
	for i, ln := range s.order {
		infos[i] = laneInfo{Name: ln.name, Open: ln.isOpen(), Seq: ln.seq}
	}
	return infos
}

// attach hangs a new lane off the end of parent, starting at parent's
// current level.
func (s *reportState) attach(parent *lane, name string) *lane {
	ln := s.addLane(name, parent.level)
	parent.items = append(parent.items, laneItem{child: ln})
	return ln
}

// register reserves a slot in parent for a child that will announce itself
// with a ThreadStartpoint.
func (s *reportState) register(parent *lane, childID string) {
	parent.items = append(parent.items, laneItem{slot: childID})
	s.pending[childID] = &pendingChild{
		parent: parent,
		slot:   len(parent.items) - 1,
		level:  parent.level,
	}
}

// claim fills the slot reserved for childID with a new lane.
func (s *reportState) claim(childID, name string) (*lane, bool) {
	pc, ok := s.pending[childID]
	if !ok {
		return nil, false
	}
	delete(s.pending, childID)

	ln := s.addLane(name, pc.level)
	pc.parent.items[pc.slot].child = ln
	return ln, true
}

// record appends cp to the lane, or only does the level bookkeeping if keep
// is false. It returns false if a closing checkpoint had no open level.
func (s *reportState) record(ln *lane, cp *Checkpoint, keep bool, now time.Time) bool {
	balanced := true

	switch {
	case cp.Type.opens():
		cp.Level = ln.level
		ln.level++
		ln.opened = append(ln.opened, cp.Name)

	case cp.Type.closes():
		if ln.isOpen() {
			ln.level--
			ln.opened = ln.opened[:len(ln.opened)-1]
			s.abortHold = cp.Type == Abortpoint
		} else {
			balanced = false
		}
		cp.Level = ln.level

	default:
		cp.Level = ln.level
	}

	s.seq++
	ln.seq = s.seq
	ln.lastActive = now
	s.lastThread = now

	if keep {
		ln.items = append(ln.items, laneItem{cp: cp})
		s.count++
	}

	return balanced
}

// closable returns true if every close condition holds.
func (s *reportState) closable() bool {
	if len(s.pending) > 0 {
		return false
	}
	if len(s.streams) > 0 {
		return false
	}
	for _, ln := range s.order {
		if ln.isOpen() {
			return false
		}
	}
	if s.abortHold && !s.forced {
		return false
	}
	return true
}

// threadsBlocking returns true if lanes, pending children, or a trailing
// abortpoint keep the report open.
func (s *reportState) threadsBlocking() bool {
	if len(s.pending) > 0 || s.abortHold {
		return true
	}
	for _, ln := range s.order {
		if ln.isOpen() {
			return true
		}
	}
	return false
}

// flatten walks the lane tree depth first and returns the checkpoints in
// report order.
func (s *reportState) flatten() []*Checkpoint {
	if s.root == nil {
		return []*Checkpoint{}
	}
	res := make([]*Checkpoint, 0, s.count)
	var walk func(ln *lane)
	walk = func(ln *lane) {
		for _, it := range ln.items {
			switch {
			case it.cp != nil:
				res = append(res, it.cp)
			case it.child != nil:
				walk(it.child)
			}
		}
	}
	walk(s.root)
	return res
}

// validate re-derives the levels of every lane from its checkpoint types and
// compares them to the recorded levels. Any difference means the report was
// corrupted while it was built.
func (s *reportState) validate() error {
	for _, ln := range s.order {
		cur := ln.base
		for _, it := range ln.items {
			cp := it.cp
			if cp == nil {
				continue
			}
			switch {
			case cp.Type.opens():
				if cp.Level != cur {
					return fmt.Errorf("thread %q: %s %q at level %d, want %d", ln.name, cp.Type, cp.Name, cp.Level, cur)
				}
				cur++
			case cp.Type.closes():
				if cur > ln.base {
					cur--
				}
				if cp.Level != cur {
					return fmt.Errorf("thread %q: %s %q at level %d, want %d", ln.name, cp.Type, cp.Name, cp.Level, cur)
				}
			default:
				if cp.Level != cur {
					return fmt.Errorf("thread %q: %s %q at level %d, want %d", ln.name, cp.Type, cp.Name, cp.Level, cur)
				}
			}
		}
		if cur != ln.base {
			return fmt.Errorf("thread %q: %d unbalanced level(s)", ln.name, cur-ln.base)
		}
	}
	return nil
}
