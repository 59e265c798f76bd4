// Package lbstore defines how closed reports are persisted and searched, and
// provides an in-memory storage.
//
// Every storage implements [Storage], for listing, fetching and searching
// reports. Storages that receive reports straight from a tracer implement
// [LogWriter], which never returns errors to the tracer. Storages that are
// edited by users implement [CrudWriter], which always does.
package lbstore

import (
	"context"
	"fmt"

	"github.com/frankframework/ladybug"
)

// Storage is the read side shared by every storage backend.
type Storage interface {
	// Name of the storage, used in errors and by operators.
	Name() string

	// StorageIDs returns the IDs of every stored report, newest first.
	StorageIDs(ctx context.Context) ([]int, error)

	// Report returns the stored report with the given ID.
	Report(ctx context.Context, storageID int) (*ladybug.Report, error)

	// Metadata returns one record per matching report, newest first. Each
	// record has one value per requested field.
	Metadata(ctx context.Context, req MetadataRequest) ([][]any, error)

	// Clear removes every stored report.
	Clear(ctx context.Context) error

	// Size returns the number of stored reports.
	Size(ctx context.Context) (int, error)

	// Close releases any resources held by the storage.
	Close() error
}

// LogWriter is implemented by storages that tracers write to. Failures are
// never returned, only retained as warnings and errors.
type LogWriter interface {
	ladybug.ReportSink

	// WarningsAndErrors describes the most recent failure, or returns an empty
	// string if there were none.
	WarningsAndErrors() string
}

// CrudWriter is implemented by storages that users edit. Failures are always
// returned.
type CrudWriter interface {
	// Store the report, assigning it a storage ID.
	Store(ctx context.Context, r *ladybug.Report) error

	// Update replaces the stored report with the same storage ID.
	Update(ctx context.Context, r *ladybug.Report) error

	// Delete removes the stored report with the same storage ID.
	Delete(ctx context.Context, r *ladybug.Report) error
}

// LogStorage is a storage written to by a tracer.
type LogStorage interface {
	Storage
	LogWriter
}

// CrudStorage is a storage edited by users.
type CrudStorage interface {
	Storage
	CrudWriter
}

// ValueType selects how metadata values are returned.
type ValueType int

const (
	// ValueObject returns typed values, e.g. int, time.Time, or nil.
	ValueObject ValueType = iota

	// ValueString returns every non-null value as a string.
	ValueString

	// ValueGUI returns every non-null value as a string formatted for people,
	// e.g. humanized sizes and durations.
	ValueGUI
)

func (vt ValueType) String() string {
	switch vt {
	case ValueObject:
		return "object"
	case ValueString:
		return "string"
	case ValueGUI:
		return "gui"
	default:
		return fmt.Sprintf("ValueType(%d)", int(vt))
	}
}

// ParseValueType is the inverse of ValueType.String.
func ParseValueType(s string) (ValueType, error) {
	switch s {
	case "object", "":
		return ValueObject, nil
	case "string":
		return ValueString, nil
	case "gui":
		return ValueGUI, nil
	default:
		return 0, fmt.Errorf("unknown value type %q", s)
	}
}

// MetadataRequest selects and filters metadata records.
type MetadataRequest struct {
	// Limit on the number of records. Zero or negative means unlimited.
	Limit int

	// Fields to return, in order.
	Fields []string

	// SearchValues are parallel to Fields, and filter records using the
	// search language from package lbsearch. Missing or empty values match
	// everything.
	SearchValues []string

	// ValueType of the returned values.
	ValueType ValueType
}

// Normalize validates the request against the extractor, and returns a filter
// for its search values.
func (req *MetadataRequest) Normalize(x MetadataExtractor) (*Filter, error) {
	if len(req.Fields) <= 0 {
		return nil, &RequestError{Err: fmt.Errorf("no fields requested")}
	}

	if len(req.SearchValues) > len(req.Fields) {
		return nil, &RequestError{Err: fmt.Errorf("%d search values for %d fields", len(req.SearchValues), len(req.Fields))}
	}

	for _, field := range req.Fields {
		if _, ok := x.Kind(field); !ok {
			return nil, &RequestError{Err: fmt.Errorf("unknown metadata field %q", field)}
		}
	}

	filter, err := NewFilter(req.Fields, req.SearchValues)
	if err != nil {
		return nil, &RequestError{Err: err}
	}

	return filter, nil
}

// Full returns true if n records satisfy the limit.
func (req *MetadataRequest) Full(n int) bool {
	return req.Limit > 0 && n >= req.Limit
}
