package lbutil_test

import (
	"errors"
	"testing"
	"time"

	"github.com/frankframework/ladybug/internal/lbutil"
)

func TestHumanizeBytes(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		n    int64
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{2048, "2.0KB"},
		{200 * 1024, "200KB"},
		{3 * 1024 * 1024, "3.0MB"},
	} {
		if have := lbutil.HumanizeBytes(tc.n); tc.want != have {
			t.Errorf("%d: want %q, have %q", tc.n, tc.want, have)
		}
	}
}

func TestHumanizeDuration(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		d    time.Duration
		want string
	}{
		{1234 * time.Microsecond, "1ms"},
		{1234 * time.Millisecond, "1.2s"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "2h3m"},
	} {
		if have := lbutil.HumanizeDuration(tc.d); tc.want != have {
			t.Errorf("%s: want %q, have %q", tc.d, tc.want, have)
		}
	}
}

func TestFlattenErrors(t *testing.T) {
	t.Parallel()

	if lbutil.FlattenErrors() != nil {
		t.Errorf("want nil for no errors")
	}
	strs := lbutil.FlattenErrors(errors.New("a"), errors.New("b"))
	if len(strs) != 2 || strs[0] != "a" || strs[1] != "b" {
		t.Errorf("unexpected %v", strs)
	}
}
