// Package lbcsv reads and writes the comma separated metadata format used by
// file storage. Unlike encoding/csv, it distinguishes a null value (written as
// nothing) from an empty string (written as "").
package lbcsv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Field is a single CSV value.
type Field struct {
	Value string
	Null  bool
}

// String returns a non-null field with the given value.
func String(s string) Field { return Field{Value: s} }

// Null returns a null field.
func Null() Field { return Field{Null: true} }

// Strings converts plain strings to non-null fields.
func Strings(ss ...string) []Field {
	fs := make([]Field, len(ss))
	for i, s := range ss {
		fs[i] = String(s)
	}
	return fs
}

// Escape renders one field.
func Escape(f Field) string {
	switch {
	case f.Null:
		return ""
	case f.Value == "":
		return `""`
	case strings.ContainsAny(f.Value, ",\"\r\n"):
		return `"` + strings.ReplaceAll(f.Value, `"`, `""`) + `"`
	default:
		return f.Value
	}
}

// FormatRecord renders a record, including the trailing newline.
func FormatRecord(fs []Field) string {
	var sb strings.Builder
	for i, f := range fs {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(Escape(f))
	}
	sb.WriteByte('\n')
	return sb.String()
}

// Writer writes records to an underlying writer.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write a single record.
func (w *Writer) Write(fs []Field) error {
	_, err := io.WriteString(w.w, FormatRecord(fs))
	return err
}

// ErrBareQuote is returned when a quote appears inside an unquoted field.
var ErrBareQuote = errors.New("bare quote in unquoted field")

// Reader reads records. Quoted values may span lines.
type Reader struct {
	r    *bufio.Reader
	line int
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read the next record. At end of input, Read returns io.EOF.
func (r *Reader) Read() ([]Field, error) {
	var (
		fields []Field
		sb     strings.Builder
		quoted bool // current field started with a quote
		inside bool // currently between quotes
		seen   bool // current field had any content or quotes
		start  = r.line + 1
	)

	flush := func() {
		switch {
		case quoted:
			fields = append(fields, Field{Value: sb.String()})
		case !seen:
			fields = append(fields, Null())
		default:
			fields = append(fields, Field{Value: sb.String()})
		}
		sb.Reset()
		quoted, inside, seen = false, false, false
	}

	for {
		c, err := r.r.ReadByte()
		if err == io.EOF {
			if inside {
				return nil, fmt.Errorf("line %d: unterminated quoted field", start)
			}
			if len(fields) == 0 && !seen {
				return nil, io.EOF
			}
			flush()
			return fields, nil
		}
		if err != nil {
			return nil, err
		}

		if inside {
			if c == '"' {
				next, err := r.r.ReadByte()
				switch {
				case err == nil && next == '"':
					sb.WriteByte('"')
				case err == nil:
					inside = false
					if err := r.r.UnreadByte(); err != nil {
						return nil, err
					}
				default:
					inside = false
				}
				continue
			}
			if c == '\n' {
				r.line++
			}
			sb.WriteByte(c)
			continue
		}

		switch c {
		case ',':
			flush()
		case '\r':
			// tolerated before \n
		case '\n':
			r.line++
			flush()
			return fields, nil
		case '"':
			if seen {
				return nil, fmt.Errorf("line %d: %w", start, ErrBareQuote)
			}
			quoted, inside, seen = true, true, true
		default:
			if quoted {
				return nil, fmt.Errorf("line %d: text after closing quote", start)
			}
			seen = true
			sb.WriteByte(c)
		}
	}
}

// ReadAll reads every remaining record.
func (r *Reader) ReadAll() ([][]Field, error) {
	var res [][]Field
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		res = append(res, rec)
	}
}

// Values returns the plain values of the fields, with nulls as empty strings.
func Values(fs []Field) []string {
	ss := make([]string, len(fs))
	for i, f := range fs {
		ss[i] = f.Value
	}
	return ss
}
