package ladybug

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Stub strategies for Report.StubStrategy.
const (
	StubStrategyNever  = "Never"
	StubStrategyAlways = "Always"
)

// Report is the ordered, leveled checkpoint tree for one correlation id.
//
// While a report is in progress it's owned by the tracer that created it, and
// only the tracer mutates it. Once closed, a report is handed to storage and
// treated as immutable, except for the explicit Set methods used by storage
// with update semantics. Every Set method invalidates the cached serialized
// form of the report.
type Report struct {
	CorrelationID string            `json:"correlationId"`
	Name          string            `json:"name"`
	Path          string            `json:"path,omitempty"`
	Description   string            `json:"description,omitempty"`
	Variables     map[string]string `json:"variables,omitempty"`
	StartTime     time.Time         `json:"startTime"`
	EndTime       time.Time         `json:"endTime"`
	StorageID     int               `json:"storageId"`
	StorageSize   int64             `json:"storageSize"`
	StubStrategy  string            `json:"stubStrategy,omitempty"`
	Checkpoints   []*Checkpoint     `json:"checkpoints"`
	Aborted       bool              `json:"aborted,omitempty"`
	Truncated     int               `json:"truncated,omitempty"`

	mtx   sync.Mutex
	state *reportState // nil once closed, or for reports not built by a tracer
	bytes []byte       // cached JSON
}

// NewReport returns an empty, closed report, typically used to construct
// reports programmatically e.g. in tests, or to decode stored reports.
func NewReport(correlationID, name string) *Report {
	return &Report{
		CorrelationID: correlationID,
		Name:          name,
		StubStrategy:  StubStrategyNever,
		Checkpoints:   []*Checkpoint{},
	}
}

// Closed returns true if the report is no longer being built.
func (r *Report) Closed() bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	return r.state == nil || r.state.closed
}

// Duration between start and end time of a closed report.
func (r *Report) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// NumberOfCheckpoints returns the number of checkpoints in the report.
func (r *Report) NumberOfCheckpoints() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	return len(r.Checkpoints)
}

// EstimatedMemoryUsage is a rough estimate of the memory held by the report,
// dominated by checkpoint names and messages.
func (r *Report) EstimatedMemoryUsage() int64 {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	n := int64(len(r.CorrelationID) + len(r.Name) + len(r.Path) + len(r.Description))
	for k, v := range r.Variables {
		n += int64(len(k) + len(v))
	}
	for _, cp := range r.Checkpoints {
		n += int64(len(cp.Name)+len(cp.Message)+len(cp.ThreadName)+len(cp.SourceClassName)) + 64
	}
	return n
}

// Bytes returns the JSON encoding of the report. The result is cached until
// the next call to a Set method.
func (r *Report) Bytes() ([]byte, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.bytes != nil {
		return r.bytes, nil
	}

	b, err := json.Marshal(r.wire())
	if err != nil {
		return nil, fmt.Errorf("encode report %q: %w", r.CorrelationID, err)
	}

	r.bytes = b
	return b, nil
}

// wireReport is the serialized form of a report, without the lock or the
// builder state.
type wireReport struct {
	CorrelationID string            `json:"correlationId"`
	Name          string            `json:"name"`
	Path          string            `json:"path,omitempty"`
	Description   string            `json:"description,omitempty"`
	Variables     map[string]string `json:"variables,omitempty"`
	StartTime     time.Time         `json:"startTime"`
	EndTime       time.Time         `json:"endTime"`
	StorageID     int               `json:"storageId"`
	StorageSize   int64             `json:"storageSize"`
	StubStrategy  string            `json:"stubStrategy,omitempty"`
	Checkpoints   []*Checkpoint     `json:"checkpoints"`
	Aborted       bool              `json:"aborted,omitempty"`
	Truncated     int               `json:"truncated,omitempty"`
}

func (r *Report) wire() *wireReport {
	return &wireReport{
		CorrelationID: r.CorrelationID,
		Name:          r.Name,
		Path:          r.Path,
		Description:   r.Description,
		Variables:     r.Variables,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		StorageID:     r.StorageID,
		StorageSize:   r.StorageSize,
		StubStrategy:  r.StubStrategy,
		Checkpoints:   r.Checkpoints,
		Aborted:       r.Aborted,
		Truncated:     r.Truncated,
	}
}

// MarshalJSON implements [json.Marshaler].
func (r *Report) MarshalJSON() ([]byte, error) {
	return r.Bytes()
}

// UnmarshalJSON implements [json.Unmarshaler].
func (r *Report) UnmarshalJSON(data []byte) error {
	var w wireReport
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.CorrelationID = w.CorrelationID
	r.Name = w.Name
	r.Path = w.Path
	r.Description = w.Description
	r.Variables = w.Variables
	r.StartTime = w.StartTime
	r.EndTime = w.EndTime
	r.StorageID = w.StorageID
	r.StorageSize = w.StorageSize
	r.StubStrategy = w.StubStrategy
	r.Checkpoints = w.Checkpoints
	r.Aborted = w.Aborted
	r.Truncated = w.Truncated
	if r.Checkpoints == nil {
		r.Checkpoints = []*Checkpoint{}
	}
	r.state = nil
	r.bytes = nil
	return nil
}

// Clone returns a deep copy of the report. The copy is always closed.
func (r *Report) Clone() *Report {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	return r.cloneLocked()
}

func (r *Report) cloneLocked() *Report {
	c := &Report{
		CorrelationID: r.CorrelationID,
		Name:          r.Name,
		Path:          r.Path,
		Description:   r.Description,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		StorageID:     r.StorageID,
		StorageSize:   r.StorageSize,
		StubStrategy:  r.StubStrategy,
		Aborted:       r.Aborted,
		Truncated:     r.Truncated,
	}

	if r.Variables != nil {
		c.Variables = make(map[string]string, len(r.Variables))
		for k, v := range r.Variables {
			c.Variables[k] = v
		}
	}

	cps := r.Checkpoints
	if r.state != nil && !r.state.closed {
		cps = r.state.flatten() // in progress, snapshot the lanes
	}
	c.Checkpoints = make([]*Checkpoint, len(cps))
	for i, cp := range cps {
		c.Checkpoints[i] = cp.clone()
		c.Checkpoints[i].Index = i
	}

	return c
}

// SetName changes the report name.
func (r *Report) SetName(name string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.Name, r.bytes = name, nil
}

// SetPath changes the report path.
func (r *Report) SetPath(path string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.Path, r.bytes = path, nil
}

// SetDescription changes the report description.
func (r *Report) SetDescription(description string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.Description, r.bytes = description, nil
}

// SetVariables replaces the report variables.
func (r *Report) SetVariables(vars map[string]string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.Variables, r.bytes = vars, nil
}

// SetStubStrategy changes the stub strategy used when the report is rerun.
func (r *Report) SetStubStrategy(strategy string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.StubStrategy, r.bytes = strategy, nil
}

// SetStorage records the storage ID and serialized size assigned by storage.
func (r *Report) SetStorage(id int, size int64) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.StorageID, r.StorageSize, r.bytes = id, size, nil
}

// SetCheckpointMessage overrides the message of checkpoint i.
func (r *Report) SetCheckpointMessage(i int, message any) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if i < 0 || i >= len(r.Checkpoints) {
		return fmt.Errorf("checkpoint index %d out of range [0, %d)", i, len(r.Checkpoints))
	}

	r.Checkpoints[i].setMessage(message, 0)
	r.Checkpoints[i].Streaming = StreamingNone
	r.bytes = nil
	return nil
}

// SetCheckpointStub overrides the stub setting of checkpoint i.
func (r *Report) SetCheckpointStub(i int, stub int) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if i < 0 || i >= len(r.Checkpoints) {
		return fmt.Errorf("checkpoint index %d out of range [0, %d)", i, len(r.Checkpoints))
	}
	if stub < StubFollowReport || stub > StubYes {
		return fmt.Errorf("invalid stub value %d", stub)
	}

	r.Checkpoints[i].Stub = stub
	r.bytes = nil
	return nil
}

// String renders the checkpoint tree, one checkpoint per line.
func (r *Report) String() string {
	c := r.Clone()
	var sb strings.Builder
	for _, cp := range c.Checkpoints {
		sb.WriteString(cp.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

//
//
//

type xmlReport struct {
	XMLName       xml.Name        `xml:"Report"`
	CorrelationID string          `xml:"CorrelationId,attr"`
	Name          string          `xml:"Name,attr"`
	Path          string          `xml:"Path,attr,omitempty"`
	Description   string          `xml:"Description,omitempty"`
	StartTime     string          `xml:"StartTime,attr"`
	EndTime       string          `xml:"EndTime,attr"`
	StubStrategy  string          `xml:"StubStrategy,attr,omitempty"`
	Variables     []xmlVariable   `xml:"Variable"`
	Checkpoints   []xmlCheckpoint `xml:"Checkpoint"`
}

type xmlVariable struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:",chardata"`
}

type xmlCheckpoint struct {
	Name       string `xml:"Name,attr"`
	Type       string `xml:"Type,attr"`
	Level      int    `xml:"Level,attr"`
	ThreadName string `xml:"ThreadName,attr,omitempty"`
	Encoding   string `xml:"Encoding,attr,omitempty"`
	Null       bool   `xml:"Null,attr,omitempty"`
	Message    string `xml:",chardata"`
}

// XML renders the report as an XML document, used for storages that keep a
// human-readable copy alongside the serialized report.
func (r *Report) XML() (string, error) {
	c := r.Clone()

	x := xmlReport{
		CorrelationID: c.CorrelationID,
		Name:          c.Name,
		Path:          c.Path,
		Description:   c.Description,
		StartTime:     c.StartTime.UTC().Format(time.RFC3339Nano),
		EndTime:       c.EndTime.UTC().Format(time.RFC3339Nano),
		StubStrategy:  c.StubStrategy,
	}

	keys := make([]string, 0, len(c.Variables))
	for k := range c.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		x.Variables = append(x.Variables, xmlVariable{Name: k, Value: c.Variables[k]})
	}

	for _, cp := range c.Checkpoints {
		x.Checkpoints = append(x.Checkpoints, xmlCheckpoint{
			Name:       cp.Name,
			Type:       cp.Type.String(),
			Level:      cp.Level,
			ThreadName: cp.ThreadName,
			Encoding:   cp.Encoding,
			Null:       cp.MessageNil,
			Message:    cp.Message,
		})
	}

	b, err := xml.MarshalIndent(x, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render report %q as XML: %w", c.CorrelationID, err)
	}
	return xml.Header + string(b), nil
}
