package lbstore

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldConfig maps a metadata field to a storage column.
type FieldConfig struct {
	// Name of the metadata field, e.g. "name" or "variable:customer".
	Name string `yaml:"name"`

	// Column name. Optional. By default, the field name with every character
	// that isn't a letter, digit or underscore replaced by an underscore.
	Column string `yaml:"column,omitempty"`

	// Type of the field: string, int, size, time or duration. Optional. By
	// default, the kind reported by the extractor. If set, it must match.
	Type string `yaml:"type,omitempty"`

	// Length is the maximum length of string columns. Longer values are
	// truncated. Optional. By default 255.
	Length int `yaml:"length,omitempty"`

	kind FieldKind
}

// Kind of the field, valid after ValidateFields.
func (fc FieldConfig) Kind() FieldKind { return fc.kind }

const fieldLengthDef = 255

// Reserved column names.
const (
	ColumnReport    = "report"
	ColumnReportXML = "reportxml"
)

var columnRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseFieldKind is the inverse of FieldKind.String.
func ParseFieldKind(s string) (FieldKind, error) {
	for _, k := range []FieldKind{KindString, KindInt, KindSize, KindTime, KindDuration} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", s)
}

// DefaultFields returns a config for every registered field of the
// extractor.
func DefaultFields(x *Extractor) []FieldConfig {
	fields := x.Fields()
	cfgs := make([]FieldConfig, len(fields))
	for i, name := range fields {
		cfgs[i] = FieldConfig{Name: name}
	}
	res, _ := ValidateFields(cfgs, x) // default fields are always valid
	return res
}

// LoadFields reads a YAML document with a top-level "fields" list, and
// validates it.
func LoadFields(r io.Reader, x MetadataExtractor) ([]FieldConfig, error) {
	var doc struct {
		Fields []FieldConfig `yaml:"fields"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigurationError{Problems: []string{fmt.Sprintf("parse fields: %v", err)}}
	}
	return ValidateFields(doc.Fields, x)
}

// ValidateFields checks the field configs against the extractor and fills in
// defaults. Every problem is reported in a single ConfigurationError. The
// storageId field is required, since it identifies reports.
func ValidateFields(cfgs []FieldConfig, x MetadataExtractor) ([]FieldConfig, error) {
	var (
		problems []string
		res      = make([]FieldConfig, 0, len(cfgs))
		names    = map[string]bool{}
		columns  = map[string]bool{}
	)

	for i, fc := range cfgs {
		if fc.Name == "" {
			problems = append(problems, fmt.Sprintf("field %d: missing name", i+1))
			continue
		}

		kind, ok := x.Kind(fc.Name)
		if !ok {
			problems = append(problems, fmt.Sprintf("field %q: unknown metadata field", fc.Name))
			continue
		}

		if fc.Type != "" {
			declared, err := ParseFieldKind(fc.Type)
			if err != nil {
				problems = append(problems, fmt.Sprintf("field %q: %v", fc.Name, err))
				continue
			}
			if declared != kind {
				problems = append(problems, fmt.Sprintf("field %q: type %s, but the field is a %s", fc.Name, declared, kind))
				continue
			}
		}
		fc.Type, fc.kind = kind.String(), kind

		if fc.Column == "" {
			fc.Column = defaultColumn(fc.Name)
		}
		if !columnRegexp.MatchString(fc.Column) {
			problems = append(problems, fmt.Sprintf("field %q: invalid column name %q", fc.Name, fc.Column))
			continue
		}

		lower := strings.ToLower(fc.Column)
		if lower == ColumnReport || lower == ColumnReportXML {
			problems = append(problems, fmt.Sprintf("field %q: column name %q is reserved", fc.Name, fc.Column))
			continue
		}

		switch {
		case fc.Length < 0:
			problems = append(problems, fmt.Sprintf("field %q: negative length", fc.Name))
			continue
		case fc.Length == 0:
			fc.Length = fieldLengthDef
		}

		if names[fc.Name] {
			problems = append(problems, fmt.Sprintf("field %q: duplicate", fc.Name))
			continue
		}
		if columns[lower] {
			problems = append(problems, fmt.Sprintf("field %q: duplicate column %q", fc.Name, fc.Column))
			continue
		}
		names[fc.Name], columns[lower] = true, true

		res = append(res, fc)
	}

	if !names[FieldStorageID] {
		problems = append(problems, fmt.Sprintf("missing required field %q", FieldStorageID))
	}

	if len(problems) > 0 {
		return nil, &ConfigurationError{Problems: problems}
	}

	return res, nil
}

func defaultColumn(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// FieldNames returns the names of the fields.
func FieldNames(cfgs []FieldConfig) []string {
	names := make([]string, len(cfgs))
	for i, fc := range cfgs {
		names[i] = fc.Name
	}
	return names
}
