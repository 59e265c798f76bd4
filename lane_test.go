package ladybug

import (
	"testing"
	"time"
)

func TestGuessParent(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name  string
		lanes []laneInfo
		want  string
		ok    bool
	}{
		{"empty", nil, "", false},
		{"none open", []laneInfo{{"main", false, 3}, {"t1", false, 5}}, "", false},
		{"single open", []laneInfo{{"main", true, 1}, {"t1", false, 5}}, "main", true},
		{"most recent open", []laneInfo{{"main", true, 1}, {"t1", true, 7}, {"t2", true, 4}}, "t1", true},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			have, ok := guessParent(tc.lanes)
			if tc.want != have || tc.ok != ok {
				t.Errorf("want (%q, %v), have (%q, %v)", tc.want, tc.ok, have, ok)
			}
		})
	}
}

func TestReportStateFlatten(t *testing.T) {
	t.Parallel()

	var (
		now = time.Now()
		s   = newReportState()
		cp  = func(name string, typ CheckpointType) *Checkpoint { return &Checkpoint{Name: name, Type: typ} }
	)

	main := s.addLane("main", 0)
	s.record(main, cp("a", Startpoint), true, now)
	s.record(main, cp("c1", ThreadCreatepoint), true, now)
	s.register(main, "c1")
	s.record(main, cp("b", Infopoint), true, now)

	child, ok := s.claim("c1", "c1")
	if !ok {
		t.Fatalf("claim failed")
	}
	s.record(child, cp("x", ThreadStartpoint), true, now)
	s.record(child, cp("x", ThreadEndpoint), true, now)
	s.record(main, cp("a", Endpoint), true, now)

	if !s.closable() {
		t.Fatalf("want closable")
	}

	var have []string
	for _, cp := range s.flatten() {
		have = append(have, cp.Name)
	}
	want := []string{"a", "c1", "x", "x", "b", "a"}
	if len(want) != len(have) {
		t.Fatalf("want %v, have %v", want, have)
	}
	for i := range want {
		if want[i] != have[i] {
			t.Fatalf("want %v, have %v", want, have)
		}
	}

	if err := s.validate(); err != nil {
		t.Errorf("validate: %v", err)
	}

	child.items[0].cp.Level = 7
	if err := s.validate(); err == nil {
		t.Errorf("want validation error for corrupted level")
	}
}

func TestReportStateClosable(t *testing.T) {
	t.Parallel()

	var (
		now = time.Now()
		s   = newReportState()
	)

	main := s.addLane("main", 0)
	s.record(main, &Checkpoint{Name: "a", Type: Startpoint}, true, now)
	if s.closable() {
		t.Errorf("open level should block closing")
	}

	s.record(main, &Checkpoint{Name: "a", Type: Abortpoint}, true, now)
	if s.closable() {
		t.Errorf("trailing abortpoint should block closing")
	}

	s.forced = true
	if !s.closable() {
		t.Errorf("forced report should be closable")
	}

	s.forced = false
	s.record(main, &Checkpoint{Name: "b", Type: Startpoint}, true, now)
	s.record(main, &Checkpoint{Name: "b", Type: Endpoint}, true, now)
	if !s.closable() {
		t.Errorf("balanced report should be closable")
	}

	if balanced := s.record(main, &Checkpoint{Name: "c", Type: Endpoint}, true, now); balanced {
		t.Errorf("endpoint without open level should be unbalanced")
	}
}
