package lbstore

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/frankframework/ladybug"
)

// ExportVersion is the first value of every export stream.
const ExportVersion = "ladybug-export/1"

// Export writes the reports to w as a gzip stream holding the export version
// string followed by one JSON object per report.
func Export(w io.Writer, reports ...*ladybug.Report) error {
	if len(reports) <= 0 {
		return fmt.Errorf("export: no reports")
	}

	zw := gzip.NewWriter(w)
	enc := json.NewEncoder(zw)

	if err := enc.Encode(ExportVersion); err != nil {
		return fmt.Errorf("export: write version: %w", err)
	}

	for _, r := range reports {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("export: write report %q: %w", r.CorrelationID, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	return nil
}

// Import reads reports written by Export. Imported reports keep the storage
// IDs they had when exported; storages assign new ones when they're stored.
func Import(r io.Reader) ([]*ladybug.Report, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	defer zr.Close()

	dec := json.NewDecoder(zr)

	var version string
	if err := dec.Decode(&version); err != nil {
		return nil, fmt.Errorf("import: read version: %w", err)
	}
	if !strings.HasPrefix(version, "ladybug-export/") {
		return nil, fmt.Errorf("import: unsupported version %q", version)
	}

	var reports []*ladybug.Report
	for {
		report := &ladybug.Report{}
		err := dec.Decode(report)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("import: read report %d: %w", len(reports)+1, err)
		}
		reports = append(reports, report)
	}

	if len(reports) <= 0 {
		return nil, fmt.Errorf("import: no reports")
	}

	return reports, nil
}
