package ladybug

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// CheckpointType identifies what a checkpoint records.
type CheckpointType int

const (
	Startpoint CheckpointType = iota + 1
	Endpoint
	Abortpoint
	Inputpoint
	Outputpoint
	Infopoint
	ThreadCreatepoint
	ThreadStartpoint
	ThreadEndpoint
)

var checkpointTypeNames = map[CheckpointType]string{
	Startpoint:        "Startpoint",
	Endpoint:          "Endpoint",
	Abortpoint:        "Abortpoint",
	Inputpoint:        "Inputpoint",
	Outputpoint:       "Outputpoint",
	Infopoint:         "Infopoint",
	ThreadCreatepoint: "ThreadCreatepoint",
	ThreadStartpoint:  "ThreadStartpoint",
	ThreadEndpoint:    "ThreadEndpoint",
}

func (t CheckpointType) String() string {
	if s, ok := checkpointTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("CheckpointType(%d)", int(t))
}

// ParseCheckpointType is the inverse of CheckpointType.String.
func ParseCheckpointType(s string) (CheckpointType, error) {
	for t, name := range checkpointTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown checkpoint type %q", s)
}

// MarshalJSON implements [json.Marshaler].
func (t CheckpointType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements [json.Unmarshaler].
func (t *CheckpointType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCheckpointType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// opens reports whether the type opens a nesting level.
func (t CheckpointType) opens() bool {
	return t == Startpoint || t == ThreadStartpoint
}

// closes reports whether the type closes a nesting level.
func (t CheckpointType) closes() bool {
	return t == Endpoint || t == Abortpoint || t == ThreadEndpoint
}

// Stub values for Checkpoint.Stub.
const (
	StubFollowReport = -1
	StubNo           = 0
	StubYes          = 1
)

// Message encodings.
const (
	EncodingNone   = ""
	EncodingBase64 = "base64"
)

// Streaming kinds for messages captured from readers and writers.
const (
	StreamingNone   = ""
	StreamingReader = "reader"
	StreamingWriter = "writer"
)

// Checkpoint is one recorded event in a report.
type Checkpoint struct {
	UID                string         `json:"uid"`
	Index              int            `json:"index"`
	Name               string         `json:"name"`
	Type               CheckpointType `json:"type"`
	Level              int            `json:"level"`
	ThreadName         string         `json:"threadName"`
	SourceClassName    string         `json:"sourceClassName,omitempty"`
	Message            string         `json:"message,omitempty"`
	MessageNil         bool           `json:"messageNil,omitempty"`
	Encoding           string         `json:"encoding,omitempty"`
	MessageType        string         `json:"messageType,omitempty"`
	Streaming          string         `json:"streaming,omitempty"`
	PreTruncatedLength int            `json:"preTruncatedLength,omitempty"`
	Stub               int            `json:"stub"`
	Time               time.Time      `json:"time"`
}

// Value returns the message as the closest Go value: nil, a []byte for base64
// encoded messages, or a string.
func (cp *Checkpoint) Value() any {
	switch {
	case cp.MessageNil:
		return nil
	case cp.Encoding == EncodingBase64:
		b, err := base64.StdEncoding.DecodeString(cp.Message)
		if err != nil {
			return cp.Message
		}
		return b
	default:
		return cp.Message
	}
}

// String renders the checkpoint as a single line, indented by level.
func (cp *Checkpoint) String() string {
	msg := cp.Message
	if cp.MessageNil {
		msg = "<nil>"
	}
	return fmt.Sprintf("%s%s %s: %s", strings.Repeat("  ", max0(cp.Level)), cp.Type, cp.Name, msg)
}

func (cp *Checkpoint) clone() *Checkpoint {
	c := *cp
	return &c
}

// setMessage stores a non-stream message value on the checkpoint, truncating
// it to maxLen bytes when maxLen is positive.
func (cp *Checkpoint) setMessage(message any, maxLen int) {
	cp.MessageType = fmt.Sprintf("%T", message)
	cp.Encoding = EncodingNone
	cp.MessageNil = false
	cp.PreTruncatedLength = 0

	var s string
	switch m := message.(type) {
	case nil:
		cp.MessageNil = true
		cp.MessageType = ""
		cp.Message = ""
		return
	case string:
		s = m
	case []byte:
		if utf8.Valid(m) {
			s = string(m)
		} else {
			m, cp.PreTruncatedLength = truncateBytes(m, maxLen)
			cp.Message = base64.StdEncoding.EncodeToString(m)
			cp.Encoding = EncodingBase64
			return
		}
	case error:
		s = m.Error()
	case fmt.Stringer:
		s = m.String()
	default:
		s = fmt.Sprint(m)
	}

	cp.Message, cp.PreTruncatedLength = truncateString(s, maxLen)
}

func truncateString(s string, maxLen int) (string, int) {
	if maxLen <= 0 || len(s) <= maxLen {
		return s, 0
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], len(s)
}

func truncateBytes(b []byte, maxLen int) ([]byte, int) {
	if maxLen <= 0 || len(b) <= maxLen {
		return b, 0
	}
	return b[:maxLen], len(b)
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
