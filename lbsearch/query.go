// Package lbsearch implements the search value language used to filter
// report metadata, field by field.
//
//	""        matches everything
//	null      matches only null values
//	[abc]     matches "abc" literally, ignoring case
//	[[a*c]]   case-sensitive, wildcards allowed
//	a*c       wildcard, ignoring case
//	abc       same as *abc*
//	(^a.*)    regular expression, null is matched as ""
//	<1|10>    inclusive range over numbers or timestamps, either bound optional
package lbsearch

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind of a parsed query.
type Kind int

// Query kinds.
const (
	KindAll Kind = iota
	KindNull
	KindLiteral
	KindWildcard
	KindRegex
	KindRange
)

func (k Kind) String() string {
	switch k {
	case KindAll:
		return "all"
	case KindNull:
		return "null"
	case KindLiteral:
		return "literal"
	case KindWildcard:
		return "wildcard"
	case KindRegex:
		return "regex"
	case KindRange:
		return "range"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Query is a parsed search value.
type Query struct {
	expr          string
	kind          Kind
	value         string
	caseSensitive bool
	re            *regexp.Regexp
	rng           Range
}

// Range is the parsed form of a range query. Bounds are nil when open, and
// otherwise both float64 or both time.Time.
type Range struct {
	Lower any
	Upper any

	// UpperExclusive is set when the upper bound was a date without a time,
	// in which case Upper is the start of the following day.
	UpperExclusive bool
}

// Parse a search value.
func Parse(expr string) (*Query, error) {
	q := &Query{expr: expr}

	switch {
	case expr == "":
		q.kind = KindAll

	case expr == "null":
		q.kind = KindNull

	case len(expr) >= 4 && strings.HasPrefix(expr, "[[") && strings.HasSuffix(expr, "]]"):
		q.value = expr[2 : len(expr)-2]
		q.caseSensitive = true
		q.kind = KindLiteral
		if strings.Contains(q.value, "*") {
			q.kind = KindWildcard
		}

	case len(expr) >= 2 && strings.HasPrefix(expr, "[") && strings.HasSuffix(expr, "]"):
		q.value = expr[1 : len(expr)-1]
		q.kind = KindLiteral

	case len(expr) >= 2 && strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")"):
		re, err := regexp.Compile(expr[1 : len(expr)-1])
		if err != nil {
			return nil, fmt.Errorf("regex %q: %w", expr, err)
		}
		q.value = expr[1 : len(expr)-1]
		q.re = re
		q.kind = KindRegex

	case len(expr) >= 3 && strings.HasPrefix(expr, "<") && strings.HasSuffix(expr, ">"):
		rng, err := parseRange(expr[1 : len(expr)-1])
		if err != nil {
			return nil, fmt.Errorf("range %q: %w", expr, err)
		}
		q.value = expr[1 : len(expr)-1]
		q.rng = rng
		q.kind = KindRange

	default:
		q.value = expr
		if !strings.Contains(expr, "*") {
			q.value = "*" + expr + "*"
		}
		q.kind = KindWildcard
	}

	if q.kind == KindWildcard {
		re, err := wildcardRegexp(q.value, q.caseSensitive)
		if err != nil {
			return nil, fmt.Errorf("wildcard %q: %w", expr, err)
		}
		q.re = re
	}

	return q, nil
}

// MustParse is like Parse but panics on error.
func MustParse(expr string) *Query {
	q, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return q
}

// Matches parses expr and matches it against v. Invalid expressions match
// nothing.
func Matches(v any, expr string) bool {
	q, err := Parse(expr)
	if err != nil {
		return false
	}
	return q.Match(v)
}

// String returns the original search value.
func (q *Query) String() string { return q.expr }

// Kind of the query.
func (q *Query) Kind() Kind { return q.kind }

// Value is the literal text for literal queries, the pattern including any
// implicit wildcards for wildcard queries, the expression for regex queries,
// and the raw bounds for range queries.
func (q *Query) Value() string { return q.value }

// CaseSensitive is true for queries written as [[...]].
func (q *Query) CaseSensitive() bool { return q.caseSensitive }

// Range returns the bounds of a range query.
func (q *Query) Range() Range { return q.rng }

// Pushdown returns true if the query can be translated to a storage-side
// predicate. Regular expressions are always evaluated in process.
func (q *Query) Pushdown() bool { return q.kind != KindRegex }

// LikePattern translates literal and wildcard queries to a SQL LIKE pattern
// with backslash as the escape character.
func (q *Query) LikePattern() string {
	var sb strings.Builder
	for _, r := range q.value {
		switch {
		case r == '*' && q.kind == KindWildcard:
			sb.WriteByte('%')
		case r == '%' || r == '_' || r == '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Match returns true if v satisfies the query. Values are matched on their
// string form, except by range queries, which compare numbers and timestamps.
func (q *Query) Match(v any) bool {
	switch q.kind {
	case KindAll:
		return true

	case KindNull:
		return v == nil

	case KindRegex:
		if v == nil {
			return q.re.MatchString("")
		}
		return q.re.MatchString(Format(v))

	case KindLiteral:
		if v == nil {
			return false
		}
		if q.caseSensitive {
			return Format(v) == q.value
		}
		return strings.EqualFold(Format(v), q.value)

	case KindWildcard:
		if v == nil {
			return false
		}
		return q.re.MatchString(Format(v))

	case KindRange:
		if v == nil {
			return false
		}
		return q.rng.contains(v)

	default:
		return false
	}
}

// TimeFormat is the layout used to render timestamps for string matching.
const TimeFormat = "2006-01-02T15:04:05.000"

// Format renders a value the way it's matched by string queries.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(TimeFormat)
	case time.Duration:
		return strconv.FormatInt(x.Milliseconds(), 10)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func wildcardRegexp(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i := range parts {
		parts[i] = regexp.QuoteMeta(parts[i])
	}
	flags := "(?s)"
	if !caseSensitive {
		flags = "(?is)"
	}
	return regexp.Compile(flags + "^" + strings.Join(parts, ".*") + "$")
}

//
//
//

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
}

const dateLayout = "2006-01-02"

func parseRange(s string) (Range, error) {
	lo, hi, ok := strings.Cut(s, "|")
	if !ok || strings.Contains(hi, "|") {
		return Range{}, fmt.Errorf("want exactly one '|'")
	}
	lo, hi = strings.TrimSpace(lo), strings.TrimSpace(hi)

	var rng Range

	if lo != "" {
		b, _, err := parseBound(lo)
		if err != nil {
			return Range{}, fmt.Errorf("lower bound: %w", err)
		}
		rng.Lower = b
	}

	if hi != "" {
		b, dateOnly, err := parseBound(hi)
		if err != nil {
			return Range{}, fmt.Errorf("upper bound: %w", err)
		}
		if dateOnly {
			b = b.(time.Time).AddDate(0, 0, 1)
			rng.UpperExclusive = true
		}
		rng.Upper = b
	}

	if rng.Lower != nil && rng.Upper != nil {
		_, lnum := rng.Lower.(float64)
		_, unum := rng.Upper.(float64)
		if lnum != unum {
			return Range{}, fmt.Errorf("bounds must both be numbers or both be timestamps")
		}
	}

	return rng, nil
}

func parseBound(s string) (b any, dateOnly bool, err error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) {
		return f, false, nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, time.UTC); err == nil {
		return t, true, nil
	}
	if t, ok := parseTime(s); ok {
		return t, false, nil
	}
	return nil, false, fmt.Errorf("%q is neither a number nor a timestamp", s)
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	if t, err := time.ParseInLocation(dateLayout, s, time.UTC); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func (rng Range) numeric() bool {
	if _, ok := rng.Lower.(float64); ok {
		return true
	}
	_, ok := rng.Upper.(float64)
	return ok
}

func (rng Range) temporal() bool {
	if _, ok := rng.Lower.(time.Time); ok {
		return true
	}
	_, ok := rng.Upper.(time.Time)
	return ok
}

func (rng Range) contains(v any) bool {
	switch {
	case rng.numeric():
		f, ok := toFloat(v)
		if !ok {
			return false
		}
		if lo, ok := rng.Lower.(float64); ok && f < lo {
			return false
		}
		if hi, ok := rng.Upper.(float64); ok && (f > hi || (rng.UpperExclusive && f == hi)) {
			return false
		}
		return true

	case rng.temporal():
		t, ok := toTime(v)
		if !ok {
			return false
		}
		if lo, ok := rng.Lower.(time.Time); ok && t.Before(lo) {
			return false
		}
		if hi, ok := rng.Upper.(time.Time); ok && (t.After(hi) || (rng.UpperExclusive && t.Equal(hi))) {
			return false
		}
		return true

	default: // both bounds open
		if _, ok := toFloat(v); ok {
			return true
		}
		_, ok := toTime(v)
		return ok
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case time.Duration:
		return float64(x.Milliseconds()), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		return parseTime(strings.TrimSpace(x))
	default:
		return time.Time{}, false
	}
}
