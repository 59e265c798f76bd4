package lbstore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/frankframework/ladybug"
	"github.com/frankframework/ladybug/internal/lbutil"
	"github.com/frankframework/ladybug/lbsearch"
)

// FieldKind is the type of a metadata field.
type FieldKind int

// Field kinds.
const (
	KindString   FieldKind = iota // string
	KindInt                       // int
	KindSize                      // int64 bytes
	KindTime                      // time.Time
	KindDuration                  // time.Duration
)

func (k FieldKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindSize:
		return "size"
	case KindTime:
		return "time"
	case KindDuration:
		return "duration"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// Default metadata fields.
const (
	FieldStorageID            = "storageId"
	FieldStorageSize          = "storageSize"
	FieldCorrelationID        = "correlationId"
	FieldName                 = "name"
	FieldPath                 = "path"
	FieldDescription          = "description"
	FieldStartTime            = "startTime"
	FieldEndTime              = "endTime"
	FieldDuration             = "duration"
	FieldNumberOfCheckpoints  = "numberOfCheckpoints"
	FieldEstimatedMemoryUsage = "estimatedMemoryUsage"
	FieldStatus               = "status"

	// VariablePrefix selects a report variable, e.g. "variable:customer".
	VariablePrefix = "variable:"
)

// Status values of the status field.
const (
	StatusSuccess = "Success"
	StatusAborted = "Aborted"
)

// MetadataExtractor derives metadata values from reports.
type MetadataExtractor interface {
	// Kind returns the kind of the field, and false if the field is unknown.
	Kind(field string) (FieldKind, bool)

	// Value returns the value of the field for the report, as a typed value
	// matching the kind of the field, or nil.
	Value(r *ladybug.Report, field string) any
}

// FieldFunc computes a metadata value for a report.
type FieldFunc func(r *ladybug.Report) any

// Extractor is the default MetadataExtractor. It knows the default fields and
// report variables, and can be extended with custom fields.
type Extractor struct {
	fields map[string]extractorField
	order  []string
}

var _ MetadataExtractor = (*Extractor)(nil)

type extractorField struct {
	kind FieldKind
	fn   FieldFunc
}

// NewExtractor returns an extractor with the default fields.
func NewExtractor() *Extractor {
	x := &Extractor{fields: map[string]extractorField{}}
	x.Register(FieldStorageID, KindInt, func(r *ladybug.Report) any { return r.StorageID })
	x.Register(FieldStorageSize, KindSize, func(r *ladybug.Report) any { return r.StorageSize })
	x.Register(FieldCorrelationID, KindString, func(r *ladybug.Report) any { return r.CorrelationID })
	x.Register(FieldName, KindString, func(r *ladybug.Report) any { return r.Name })
	x.Register(FieldPath, KindString, func(r *ladybug.Report) any { return nilIfEmpty(r.Path) })
	x.Register(FieldDescription, KindString, func(r *ladybug.Report) any { return nilIfEmpty(r.Description) })
	x.Register(FieldStartTime, KindTime, func(r *ladybug.Report) any { return r.StartTime })
	x.Register(FieldEndTime, KindTime, func(r *ladybug.Report) any { return r.EndTime })
	x.Register(FieldDuration, KindDuration, func(r *ladybug.Report) any { return r.Duration() })
	x.Register(FieldNumberOfCheckpoints, KindInt, func(r *ladybug.Report) any { return r.NumberOfCheckpoints() })
	x.Register(FieldEstimatedMemoryUsage, KindSize, func(r *ladybug.Report) any { return r.EstimatedMemoryUsage() })
	x.Register(FieldStatus, KindString, func(r *ladybug.Report) any {
		if r.Aborted {
			return StatusAborted
		}
		return StatusSuccess
	})
	return x
}

// Register adds or replaces a field.
func (x *Extractor) Register(name string, kind FieldKind, fn FieldFunc) {
	if _, ok := x.fields[name]; !ok {
		x.order = append(x.order, name)
	}
	x.fields[name] = extractorField{kind: kind, fn: fn}
}

// Fields returns the names of the registered fields, in registration order.
func (x *Extractor) Fields() []string {
	return append([]string(nil), x.order...)
}

// Kind implements MetadataExtractor.
func (x *Extractor) Kind(field string) (FieldKind, bool) {
	if strings.HasPrefix(field, VariablePrefix) {
		return KindString, len(field) > len(VariablePrefix)
	}
	f, ok := x.fields[field]
	return f.kind, ok
}

// Value implements MetadataExtractor.
func (x *Extractor) Value(r *ladybug.Report, field string) any {
	if key, ok := strings.CutPrefix(field, VariablePrefix); ok {
		v, ok := r.Variables[key]
		if !ok {
			return nil
		}
		return v
	}
	f, ok := x.fields[field]
	if !ok {
		return nil
	}
	return f.fn(r)
}

// Record returns the typed values of the given fields for the report.
func Record(x MetadataExtractor, r *ladybug.Report, fields []string) []any {
	values := make([]any, len(fields))
	for i, field := range fields {
		values[i] = x.Value(r, field)
	}
	return values
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

//
//
//

// GUITimeFormat is the layout of timestamps formatted for people.
const GUITimeFormat = "2006-01-02 15:04:05.000"

// FormatValue converts a typed metadata value of the given kind to the value
// type. Null values stay nil.
func FormatValue(kind FieldKind, v any, vt ValueType) any {
	if v == nil {
		return nil
	}

	switch vt {
	case ValueString:
		return formatString(v)

	case ValueGUI:
		switch kind {
		case KindTime:
			if t, ok := v.(time.Time); ok {
				return t.Format(GUITimeFormat)
			}
		case KindDuration:
			if d, ok := v.(time.Duration); ok {
				return lbutil.HumanizeDuration(d)
			}
		case KindSize:
			switch n := v.(type) {
			case int64:
				return lbutil.HumanizeBytes(n)
			case int:
				return lbutil.HumanizeBytes(n)
			}
		}
		return formatString(v)

	default:
		return v
	}
}

func formatString(v any) string {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(lbsearch.TimeFormat)
	default:
		return lbsearch.Format(x)
	}
}

// FormatRecord applies FormatValue to every value of a record.
func FormatRecord(x MetadataExtractor, fields []string, values []any, vt ValueType) []any {
	if vt == ValueObject {
		return values
	}
	res := make([]any, len(values))
	for i, v := range values {
		kind, _ := x.Kind(fields[i])
		res[i] = FormatValue(kind, v, vt)
	}
	return res
}

// ParseValue is the inverse of FormatValue with ValueString.
func ParseValue(kind FieldKind, s string) (any, error) {
	switch kind {
	case KindInt:
		return strconv.Atoi(s)
	case KindSize:
		return strconv.ParseInt(s, 10, 64)
	case KindTime:
		return time.ParseInLocation(lbsearch.TimeFormat, s, time.UTC)
	case KindDuration:
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, err
		}
		return time.Duration(ms) * time.Millisecond, nil
	default:
		return s, nil
	}
}

//
//
//

// Filter applies search values to metadata records.
type Filter struct {
	queries []*lbsearch.Query // parallel to fields, nil matches everything
}

// NewFilter parses the search values, which are parallel to fields.
func NewFilter(fields, searchValues []string) (*Filter, error) {
	var (
		f    = &Filter{queries: make([]*lbsearch.Query, len(fields))}
		errs []error
	)
	for i, sv := range searchValues {
		if sv == "" {
			continue
		}
		q, err := lbsearch.Parse(sv)
		if err != nil {
			errs = append(errs, fmt.Errorf("search value for %s: %w", fields[i], err))
			continue
		}
		f.queries[i] = q
	}

	switch len(errs) {
	case 0:
		return f, nil
	case 1:
		return nil, errs[0]
	default:
		return nil, fmt.Errorf("%d invalid search values: %s", len(errs), strings.Join(lbutil.FlattenErrors(errs...), "; "))
	}
}

// Query returns the query for field i, or nil if it matches everything.
func (f *Filter) Query(i int) *lbsearch.Query {
	if i < 0 || i >= len(f.queries) {
		return nil
	}
	return f.queries[i]
}

// Allow returns true if every value satisfies its query. Values are typed,
// and parallel to the fields of the filter.
func (f *Filter) Allow(values []any) bool {
	for i, q := range f.queries {
		if q == nil {
			continue
		}
		var v any
		if i < len(values) {
			v = values[i]
		}
		if !q.Match(v) {
			return false
		}
	}
	return true
}

//
//
//

// MetadataCache retains metadata records per storage ID, tagged with a stamp
// that changes whenever the underlying report may have changed, e.g. a file
// generation or a last-modified time.
type MetadataCache struct {
	mtx     sync.Mutex
	entries map[int]cacheEntry
}

type cacheEntry struct {
	stamp  int64
	values map[string]any
}

// NewMetadataCache returns an empty cache.
func NewMetadataCache() *MetadataCache {
	return &MetadataCache{entries: map[int]cacheEntry{}}
}

// Record returns the cached values of the fields for the storage ID, calling
// compute for any field that's missing or stale.
func (c *MetadataCache) Record(storageID int, stamp int64, fields []string, compute func(field string) any) []any {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	e, ok := c.entries[storageID]
	if !ok || e.stamp != stamp {
		e = cacheEntry{stamp: stamp, values: map[string]any{}}
		c.entries[storageID] = e
	}

	res := make([]any, len(fields))
	for i, field := range fields {
		v, ok := e.values[field]
		if !ok {
			v = compute(field)
			e.values[field] = v
		}
		res[i] = v
	}
	return res
}

// Retain drops every entry whose storage ID isn't in keep.
func (c *MetadataCache) Retain(keep map[int]bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	for id := range c.entries {
		if !keep[id] {
			delete(c.entries, id)
		}
	}
}

// Len returns the number of cached records.
func (c *MetadataCache) Len() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(c.entries)
}

// Reset drops every entry.
func (c *MetadataCache) Reset() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.entries = map[int]cacheEntry{}
}

// sortNewestFirst sorts storage IDs in descending order.
func sortNewestFirst(ids []int) {
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
}
