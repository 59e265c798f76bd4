package lbstore

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/frankframework/ladybug/internal/lbringbuf"
)

// ErrNotFound is returned, wrapped in a StorageError, when a storage ID
// doesn't exist.
var ErrNotFound = errors.New("report not found")

// StorageError is an I/O, SQL, or format failure of a storage, annotated with
// the storage name and the storage IDs involved.
type StorageError struct {
	Storage string
	IDs     []int
	Op      string
	Err     error
}

// Errorf returns a StorageError wrapping a formatted error.
func Errorf(storage, op string, ids []int, format string, args ...any) *StorageError {
	return &StorageError{Storage: storage, IDs: ids, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap annotates err with context, or returns nil if err is nil.
func Wrap(storage, op string, err error, ids ...int) error {
	if err == nil {
		return nil
	}
	return &StorageError{Storage: storage, IDs: ids, Op: op, Err: err}
}

func (e *StorageError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "storage %q: %s", e.Storage, e.Op)
	switch len(e.IDs) {
	case 0:
	case 1:
		fmt.Fprintf(&sb, " report %d", e.IDs[0])
	default:
		fmt.Fprintf(&sb, " reports %v", e.IDs)
	}
	fmt.Fprintf(&sb, ": %v", e.Err)
	return sb.String()
}

func (e *StorageError) Unwrap() error { return e.Err }

// RequestError is an invalid metadata request, e.g. an unknown field or a
// malformed search value.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string { return "invalid request: " + e.Err.Error() }

func (e *RequestError) Unwrap() error { return e.Err }

// ConfigurationError is an invalid storage configuration, detected at startup.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid configuration: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid configuration: %d problems: %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

//
//
//

// FailureRecord is one failure retained by LastError.
type FailureRecord struct {
	Time  time.Time `json:"time"`
	Error string    `json:"error"`
}

// LastError retains the failures of a log storage, which can't return them to
// the tracer. The zero value is not usable, use NewLastError.
type LastError struct {
	mtx     sync.Mutex
	last    string
	recent  *lbringbuf.RingBuffer[FailureRecord]
	metrics *Metrics
	storage string
}

// NewLastError returns an empty LastError for the named storage, retaining
// up to 16 recent failures. Metrics may be nil.
func NewLastError(storage string, metrics *Metrics) *LastError {
	return &LastError{
		recent:  lbringbuf.New[FailureRecord](16),
		metrics: metrics,
		storage: storage,
	}
}

// Record a failure. Nil errors are ignored.
func (le *LastError) Record(err error) {
	if err == nil {
		return
	}

	le.mtx.Lock()
	le.last = err.Error()
	le.mtx.Unlock()

	le.recent.Add(FailureRecord{Time: time.Now().UTC(), Error: err.Error()})
	le.metrics.failed(le.storage)
}

// String returns the most recent failure, or an empty string.
func (le *LastError) String() string {
	le.mtx.Lock()
	defer le.mtx.Unlock()
	return le.last
}

// Recent returns recent failures, newest first.
func (le *LastError) Recent() []FailureRecord {
	return le.recent.Values()
}

// Reset forgets every failure.
func (le *LastError) Reset() {
	le.mtx.Lock()
	le.last = ""
	le.mtx.Unlock()
	le.recent.Reset()
}
