package lbsearch_test

import (
	"testing"
	"time"

	"github.com/frankframework/ladybug/lbsearch"
)

func TestMatches(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	for _, tc := range []struct {
		v    any
		expr string
		want bool
	}{
		{"anything", "", true},
		{nil, "", true},

		{nil, "null", true},
		{"", "null", false},
		{"null", "null", false},

		{"ABC", "*bc*", true},
		{"ABC", "*bc", true},
		{"ABC", "bc*", false},
		{"ABC", "a*c", true},
		{"ABC", "b", true},
		{"ABC", "x", false},
		{nil, "b", false},

		{"ABC", "[[*bc*]]", false},
		{"ABC", "[[*BC*]]", true},
		{"ABC", "[[ABC]]", true},
		{"ABC", "[[abc]]", false},

		{"ABC", "[abc]", true},
		{"ABC", "[ab]", false},
		{"a*c", "[a*c]", true},
		{"abc", "[a*c]", false},

		{"Apple", "(^A.*)", true},
		{"banana", "(^A.*)", false},
		{nil, "(^$)", true},
		{nil, "(^A.*)", false},
		{42, "(^4)", true},

		{5, "<1|10>", true},
		{1, "<1|10>", true},
		{10, "<1|10>", true},
		{11, "<1|10>", false},
		{int64(-3), "<|0>", true},
		{2.5, "<2|>", true},
		{"7", "<1|10>", true},
		{"seven", "<1|10>", false},
		{nil, "<1|10>", false},

		{ts, "<2024-03-01|2024-03-01>", true},
		{ts, "<2024-03-02|>", false},
		{ts, "<|2024-02-29>", false},
		{ts, "<2024-03-01T12:00:00.000|2024-03-01 13:00:00>", true},
		{ts, "<2024-03-01T12:31:00Z|>", false},
		{"2024-03-01T12:30:00.000", "<2024-03-01|2024-03-01>", true},
	} {
		if have := lbsearch.Matches(tc.v, tc.expr); tc.want != have {
			t.Errorf("Matches(%#v, %q): want %v, have %v", tc.v, tc.expr, tc.want, have)
		}
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{
		"(()",
		"(a(b)",
		"<1|2|3>",
		"<a|b>",
		"<1|2024-01-01>",
	} {
		if _, err := lbsearch.Parse(expr); err == nil {
			t.Errorf("Parse(%q): want error", expr)
		}
		if lbsearch.Matches("anything", expr) {
			t.Errorf("Matches(%q): invalid expression should match nothing", expr)
		}
	}
}

func TestQueryPushdown(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		expr     string
		kind     lbsearch.Kind
		like     string
		pushdown bool
	}{
		{"abc", lbsearch.KindWildcard, "%abc%", true},
		{"a*c", lbsearch.KindWildcard, "a%c", true},
		{"[50%_off]", lbsearch.KindLiteral, `50\%\_off`, true},
		{"[[A*]]", lbsearch.KindWildcard, "A%", true},
		{"(x)", lbsearch.KindRegex, "x", false},
		{"null", lbsearch.KindNull, "", true},
	} {
		q := lbsearch.MustParse(tc.expr)
		if want, have := tc.kind, q.Kind(); want != have {
			t.Errorf("%q: kind: want %s, have %s", tc.expr, want, have)
		}
		if want, have := tc.like, q.LikePattern(); want != have {
			t.Errorf("%q: like: want %q, have %q", tc.expr, want, have)
		}
		if want, have := tc.pushdown, q.Pushdown(); want != have {
			t.Errorf("%q: pushdown: want %v, have %v", tc.expr, want, have)
		}
	}
}

func TestRangeDateOnlyUpperBound(t *testing.T) {
	t.Parallel()

	rng := lbsearch.MustParse("<|2024-03-01>").Range()
	if !rng.UpperExclusive {
		t.Fatalf("date-only upper bound should be exclusive")
	}
	if want, have := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), rng.Upper.(time.Time); !want.Equal(have) {
		t.Errorf("upper: want %s, have %s", want, have)
	}
	if lbsearch.Matches(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), "<|2024-03-01>") {
		t.Errorf("start of next day should not match")
	}
	if !lbsearch.Matches(time.Date(2024, 3, 1, 23, 59, 59, 0, time.UTC), "<2024-03-01|2024-03-01>") {
		t.Errorf("end of day should match")
	}
	if lbsearch.MustParse("<|2024-03-01 10:00:00>").Range().UpperExclusive {
		t.Errorf("timestamp upper bound should be inclusive")
	}
	if want, have := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), lbsearch.MustParse("<2024-03-01|>").Range().Lower.(time.Time); !want.Equal(have) {
		t.Errorf("lower: want %s, have %s", want, have)
	}
}
