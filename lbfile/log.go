// Package lbfile stores reports in files: a reports file with one compressed
// report after another, and a CSV metadata file with one record per report.
// The byte range of a report in the reports file is found by summing the
// storageSize values of the records before it.
//
// [Log] is a log storage that rotates both files when the reports file grows
// too large. [Crud] is a crud storage that rewrites its files on every update
// or delete, alternating between two pairs of files.
//
// File storages assume a single writing process.
package lbfile

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/frankframework/ladybug"
	"github.com/frankframework/ladybug/internal/lbcsv"
	"github.com/frankframework/ladybug/lbstore"
)

// DefaultFields are the metadata columns written when none are configured.
var DefaultFields = []string{
	lbstore.FieldStorageID,
	lbstore.FieldStorageSize,
	lbstore.FieldCorrelationID,
	lbstore.FieldName,
	lbstore.FieldPath,
	lbstore.FieldDescription,
	lbstore.FieldStartTime,
	lbstore.FieldEndTime,
	lbstore.FieldDuration,
	lbstore.FieldNumberOfCheckpoints,
	lbstore.FieldEstimatedMemoryUsage,
	lbstore.FieldStatus,
}

// LogConfig defines the configuration parameters for a file log storage.
type LogConfig struct {
	// Path of both files, without suffix, e.g. "/var/lib/ladybug/reports".
	// Required.
	Path string

	// Name of the storage. Optional. By default, the base name of Path.
	Name string

	// ReportsSuffix is appended to Path for the reports file. Optional. By
	// default, ".reports".
	ReportsSuffix string

	// MetadataSuffix is appended to Path for the metadata file. Optional. By
	// default, ".csv".
	MetadataSuffix string

	// MaxFileSize of the reports file in bytes, before both files are rotated.
	// Optional. By default 1 MiB. Negative means unlimited.
	MaxFileSize int64

	// MaxBackupIndex is the number of rotated backups kept, suffixed .1 to .N.
	// Optional. By default 9. Negative means none.
	MaxBackupIndex int

	// Fields written as metadata columns. Must include storageId and
	// storageSize. Optional. By default, DefaultFields.
	Fields []string

	// Extractor for metadata. Optional. By default, lbstore.NewExtractor.
	Extractor lbstore.MetadataExtractor

	// Logger is optional.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *lbstore.Metrics
}

const (
	maxFileSizeDef    = 1 << 20
	maxBackupIndexDef = 9
)

// Log is a file log storage. Every method is serialized by one mutex.
type Log struct {
	name         string
	reportsPath  string
	metadataPath string
	maxFileSize  int64
	maxBackups   int
	fields       []string
	header       []lbcsv.Field
	extractor    lbstore.MetadataExtractor
	logger       *slog.Logger
	metrics      *lbstore.Metrics
	lastErr      *lbstore.LastError
	cache        *lbstore.MetadataCache

	mtx        sync.Mutex
	nextID     int
	generation int64 // bumped by every change to the current files
	rotations  int64 // bumped by every rotation
	epoch      int64 // bumped when a storage ID may refer to different content
	files      map[string]*parsedFile
}

var _ lbstore.LogStorage = (*Log)(nil)

// NewLog opens or creates a file log storage. If the existing metadata file
// has different columns than configured, both files are rotated first.
func NewLog(cfg LogConfig) (*Log, error) {
	l, err := newLog(cfg)
	if err != nil {
		return nil, err
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	if err := l.checkHeader(); err != nil {
		return nil, err
	}

	if err := l.initNextID(); err != nil {
		return nil, err
	}

	return l, nil
}

func newLog(cfg LogConfig) (*Log, error) {
	if cfg.Path == "" {
		return nil, &lbstore.ConfigurationError{Problems: []string{"file storage: missing path"}}
	}
	if cfg.Name == "" {
		cfg.Name = filepath.Base(cfg.Path)
	}
	if cfg.ReportsSuffix == "" {
		cfg.ReportsSuffix = ".reports"
	}
	if cfg.MetadataSuffix == "" {
		cfg.MetadataSuffix = ".csv"
	}
	if cfg.ReportsSuffix == cfg.MetadataSuffix {
		return nil, &lbstore.ConfigurationError{Problems: []string{"file storage: reports and metadata suffix must differ"}}
	}

	switch {
	case cfg.MaxFileSize == 0:
		cfg.MaxFileSize = maxFileSizeDef
	case cfg.MaxFileSize < 0:
		cfg.MaxFileSize = -1
	}

	switch {
	case cfg.MaxBackupIndex == 0:
		cfg.MaxBackupIndex = maxBackupIndexDef
	case cfg.MaxBackupIndex < 0:
		cfg.MaxBackupIndex = 0
	}

	if cfg.Extractor == nil {
		cfg.Extractor = lbstore.NewExtractor()
	}
	if len(cfg.Fields) <= 0 {
		cfg.Fields = DefaultFields
	}
	if err := validateFields(cfg.Fields, cfg.Extractor); err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, lbstore.Wrap(cfg.Name, "open", err)
	}

	return &Log{
		name:         cfg.Name,
		reportsPath:  cfg.Path + cfg.ReportsSuffix,
		metadataPath: cfg.Path + cfg.MetadataSuffix,
		maxFileSize:  cfg.MaxFileSize,
		maxBackups:   cfg.MaxBackupIndex,
		fields:       append([]string(nil), cfg.Fields...),
		header:       lbcsv.Strings(cfg.Fields...),
		extractor:    cfg.Extractor,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		lastErr:      lbstore.NewLastError(cfg.Name, cfg.Metrics),
		cache:        lbstore.NewMetadataCache(),
		files:        map[string]*parsedFile{},
	}, nil
}

func validateFields(fields []string, x lbstore.MetadataExtractor) error {
	var (
		problems []string
		seen     = map[string]bool{}
	)
	for _, f := range fields {
		if _, ok := x.Kind(f); !ok {
			problems = append(problems, fmt.Sprintf("unknown metadata field %q", f))
		}
		if seen[f] {
			problems = append(problems, fmt.Sprintf("duplicate metadata field %q", f))
		}
		seen[f] = true
	}
	for _, required := range []string{lbstore.FieldStorageID, lbstore.FieldStorageSize} {
		if !seen[required] {
			problems = append(problems, fmt.Sprintf("missing required field %q", required))
		}
	}
	if len(problems) > 0 {
		return &lbstore.ConfigurationError{Problems: problems}
	}
	return nil
}

// Name implements lbstore.Storage.
func (l *Log) Name() string { return l.name }

// StoreWithoutError implements lbstore.LogWriter.
func (l *Log) StoreWithoutError(ctx context.Context, r *ladybug.Report) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if err := l.store(r, l.nextID); err != nil {
		l.lastErr.Record(err)
		l.logger.ErrorContext(ctx, "store report failed", "storage", l.name, "correlation_id", r.CorrelationID, "err", err)
		return
	}

	l.nextID++
	l.metrics.IncStored(l.name)
}

// WarningsAndErrors implements lbstore.LogWriter.
func (l *Log) WarningsAndErrors() string { return l.lastErr.String() }

// StorageIDs implements lbstore.Storage.
func (l *Log) StorageIDs(ctx context.Context) ([]int, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	files, err := l.parseAll()
	if err != nil {
		return nil, err
	}

	var ids []int
	for _, pf := range files {
		for i := len(pf.rows) - 1; i >= 0; i-- {
			ids = append(ids, pf.rows[i].id)
		}
	}
	return ids, nil
}

// Report implements lbstore.Storage.
func (l *Log) Report(ctx context.Context, storageID int) (*ladybug.Report, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	files, err := l.parseAll()
	if err != nil {
		return nil, err
	}

	for _, pf := range files {
		for _, row := range pf.rows {
			if row.id != storageID {
				continue
			}
			data, err := pf.blob(row)
			if err != nil {
				return nil, lbstore.Wrap(l.name, "get", err, storageID)
			}
			r, err := lbstore.Decode(data)
			if err != nil {
				return nil, lbstore.Wrap(l.name, "get", err, storageID)
			}
			r.SetStorage(storageID, row.size)
			return r, nil
		}
	}

	return nil, lbstore.Wrap(l.name, "get", lbstore.ErrNotFound, storageID)
}

// Metadata implements lbstore.Storage. Fields that aren't metadata columns are
// extracted from the stored reports, and cached.
func (l *Log) Metadata(ctx context.Context, req lbstore.MetadataRequest) ([][]any, error) {
	filter, err := req.Normalize(l.extractor)
	if err != nil {
		return nil, lbstore.Wrap(l.name, "metadata", err)
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	files, err := l.parseAll()
	if err != nil {
		return nil, err
	}

	var (
		res  [][]any
		seen = map[int]bool{}
	)
	for _, pf := range files {
		for i := len(pf.rows) - 1; i >= 0; i-- {
			row := pf.rows[i]
			seen[row.id] = true

			if req.Full(len(res)) {
				continue
			}

			values, err := l.record(pf, row, req.Fields)
			if err != nil {
				return nil, err
			}
			if !filter.Allow(values) {
				continue
			}
			res = append(res, lbstore.FormatRecord(l.extractor, req.Fields, values, req.ValueType))
		}
	}
	l.cache.Retain(seen)

	return res, nil
}

// record returns the typed metadata values of one row.
func (l *Log) record(pf *parsedFile, row parsedRow, fields []string) ([]any, error) {
	var (
		report  *ladybug.Report
		loadErr error
	)
	values := l.cache.Record(row.id, pf.stamp, fields, func(field string) any {
		kind, _ := l.extractor.Kind(field)
		if col, ok := pf.columns[field]; ok {
			if col >= len(row.fields) || row.fields[col].Null {
				return nil
			}
			v, err := lbstore.ParseValue(kind, row.fields[col].Value)
			if err != nil {
				return row.fields[col].Value
			}
			return v
		}
		if report == nil && loadErr == nil {
			data, err := pf.blob(row)
			if err == nil {
				report, err = lbstore.Decode(data)
			}
			if err != nil {
				loadErr = err
				return nil
			}
			report.SetStorage(row.id, row.size)
		}
		if report == nil {
			return nil
		}
		return l.extractor.Value(report, field)
	})
	if loadErr != nil {
		return nil, lbstore.Wrap(l.name, "metadata", loadErr, row.id)
	}
	return values, nil
}

// Clear implements lbstore.Storage, removing the current files and every
// backup.
func (l *Log) Clear(ctx context.Context) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.clear()
}

func (l *Log) clear() error {
	for i := 0; i <= l.maxBackups; i++ {
		for _, path := range []string{backupPath(l.reportsPath, i), backupPath(l.metadataPath, i)} {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return lbstore.Wrap(l.name, "clear", err)
			}
		}
	}
	l.files = map[string]*parsedFile{}
	l.cache.Reset()
	l.generation++
	l.rotations++
	l.epoch++
	return nil
}

// Size implements lbstore.Storage.
func (l *Log) Size(ctx context.Context) (int, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	files, err := l.parseAll()
	if err != nil {
		return 0, err
	}

	var n int
	for _, pf := range files {
		n += len(pf.rows)
	}
	return n, nil
}

// Close implements lbstore.Storage.
func (l *Log) Close() error { return nil }

//
//
//

// store appends the report to the current files, rotating first if needed.
// Must be called with l.mtx held.
func (l *Log) store(r *ladybug.Report, id int) error {
	r.SetStorage(id, 0)
	data, err := lbstore.CodecGzip.Encode(r)
	if err != nil {
		return lbstore.Wrap(l.name, "store", err, id)
	}
	r.SetStorage(id, int64(len(data)))

	values := lbstore.Record(l.extractor, r, l.fields)
	record := make([]lbcsv.Field, len(values))
	for i, v := range values {
		kind, _ := l.extractor.Kind(l.fields[i])
		switch s := lbstore.FormatValue(kind, v, lbstore.ValueString).(type) {
		case string:
			record[i] = lbcsv.String(s)
		default:
			record[i] = lbcsv.Null()
		}
	}

	return l.append(id, data, record)
}

// append writes a report blob and its metadata record. If the metadata can't
// be written, the reports file is truncated to its previous size, so offsets
// stay consistent. Must be called with l.mtx held.
func (l *Log) append(id int, data []byte, record []lbcsv.Field) error {
	if err := l.rotateIfNeeded(int64(len(data))); err != nil {
		return lbstore.Wrap(l.name, "rotate", err, id)
	}

	l.generation++

	prev, err := fileSize(l.reportsPath)
	if err != nil {
		return lbstore.Wrap(l.name, "store", err, id)
	}

	if err := appendFile(l.reportsPath, data); err != nil {
		return lbstore.Wrap(l.name, "store", err, id)
	}

	var buf bytes.Buffer
	if size, err := fileSize(l.metadataPath); err != nil {
		return lbstore.Wrap(l.name, "store", err, id)
	} else if size == 0 {
		buf.WriteString(lbcsv.FormatRecord(l.header))
	}
	buf.WriteString(lbcsv.FormatRecord(record))

	if err := appendFile(l.metadataPath, buf.Bytes()); err != nil {
		if terr := os.Truncate(l.reportsPath, prev); terr != nil {
			l.logger.Error("truncate reports file failed", "storage", l.name, "err", terr)
		}
		return lbstore.Wrap(l.name, "store", err, id)
	}

	return nil
}

func (l *Log) rotateIfNeeded(n int64) error {
	if l.maxFileSize < 0 {
		return nil
	}
	size, err := fileSize(l.reportsPath)
	if err != nil {
		return err
	}
	if size == 0 || size+n <= l.maxFileSize {
		return nil
	}
	return l.rotate()
}

// rotate shifts the current files to backup 1, every backup i to i+1, and
// drops the oldest backup. Must be called with l.mtx held.
func (l *Log) rotate() error {
	l.generation++
	l.rotations++

	for _, base := range []string{l.reportsPath, l.metadataPath} {
		if err := os.Remove(backupPath(base, l.maxBackups)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		for i := l.maxBackups - 1; i >= 0; i-- {
			err := os.Rename(backupPath(base, i), backupPath(base, i+1))
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
	}

	l.logger.Info("rotated files", "storage", l.name, "backups", l.maxBackups)
	return nil
}

// checkHeader rotates the files if the metadata header doesn't match the
// configured fields. Must be called with l.mtx held.
func (l *Log) checkHeader() error {
	f, err := os.Open(l.metadataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return lbstore.Wrap(l.name, "open", err)
	}
	header, err := lbcsv.NewReader(bufio.NewReader(f)).Read()
	f.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return lbstore.Wrap(l.name, "open", err)
	}

	if lbcsv.FormatRecord(header) == lbcsv.FormatRecord(l.header) {
		return nil
	}

	l.logger.Info("metadata columns changed, rotating", "storage", l.name, "path", l.metadataPath)
	if l.maxBackups == 0 {
		return lbstore.Wrap(l.name, "open", l.clear())
	}
	return lbstore.Wrap(l.name, "open", l.rotate())
}

// initNextID sets the next storage ID to one more than the highest stored ID.
// Must be called with l.mtx held.
func (l *Log) initNextID() error {
	files, err := l.parseAll()
	if err != nil {
		return err
	}
	l.nextID = 1
	for _, pf := range files {
		for _, row := range pf.rows {
			if row.id >= l.nextID {
				l.nextID = row.id + 1
			}
		}
	}
	return nil
}

//
//
//

type parsedFile struct {
	reportsPath string
	modTime     int64
	size        int64
	gen         int64
	stamp       int64 // epoch of the rows, stable across appends and rotations
	columns     map[string]int
	rows        []parsedRow
}

type parsedRow struct {
	id     int
	offset int64
	size   int64
	fields []lbcsv.Field
}

// blob reads the compressed report of a row.
func (pf *parsedFile) blob(row parsedRow) ([]byte, error) {
	f, err := os.Open(pf.reportsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data := make([]byte, row.size)
	if _, err := f.ReadAt(data, row.offset); err != nil {
		return nil, fmt.Errorf("read %d bytes at offset %d: %w", row.size, row.offset, err)
	}
	return data, nil
}

// parseAll returns the parsed current file and backups, newest first, using
// cached results for files that haven't changed. Must be called with l.mtx
// held.
func (l *Log) parseAll() ([]*parsedFile, error) {
	var res []*parsedFile
	for i := 0; i <= l.maxBackups; i++ {
		gen := l.rotations
		if i == 0 {
			gen = l.generation
		}
		pf, err := l.parse(backupPath(l.metadataPath, i), backupPath(l.reportsPath, i), gen)
		if err != nil {
			return nil, lbstore.Wrap(l.name, "read", err)
		}
		if pf != nil {
			res = append(res, pf)
		}
	}
	return res, nil
}

func (l *Log) parse(metadataPath, reportsPath string, gen int64) (*parsedFile, error) {
	fi, err := os.Stat(metadataPath)
	if errors.Is(err, fs.ErrNotExist) {
		delete(l.files, metadataPath)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if pf, ok := l.files[metadataPath]; ok && pf.gen == gen && pf.size == fi.Size() && pf.modTime == fi.ModTime().UnixNano() {
		return pf, nil
	}

	f, err := os.Open(metadataPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := lbcsv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", metadataPath, err)
	}

	pf := &parsedFile{
		reportsPath: reportsPath,
		modTime:     fi.ModTime().UnixNano(),
		size:        fi.Size(),
		gen:         gen,
		stamp:       l.epoch,
		columns:     map[string]int{},
	}

	if len(records) > 0 {
		for i, f := range records[0] {
			pf.columns[f.Value] = i
		}
	}

	idCol, ok1 := pf.columns[lbstore.FieldStorageID]
	sizeCol, ok2 := pf.columns[lbstore.FieldStorageSize]
	if len(records) > 1 && (!ok1 || !ok2) {
		return nil, fmt.Errorf("%s: missing %s or %s column", metadataPath, lbstore.FieldStorageID, lbstore.FieldStorageSize)
	}

	var offset int64
	for n, rec := range records[min(1, len(records)):] {
		if idCol >= len(rec) || sizeCol >= len(rec) {
			return nil, fmt.Errorf("%s: record %d: too few fields", metadataPath, n+1)
		}
		id, err := strconv.Atoi(rec[idCol].Value)
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %s: %w", metadataPath, n+1, lbstore.FieldStorageID, err)
		}
		size, err := strconv.ParseInt(rec[sizeCol].Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %s: %w", metadataPath, n+1, lbstore.FieldStorageSize, err)
		}
		pf.rows = append(pf.rows, parsedRow{id: id, offset: offset, size: size, fields: rec})
		offset += size
	}

	l.files[metadataPath] = pf
	return pf, nil
}

//
//
//

func backupPath(path string, i int) string {
	if i == 0 {
		return path
	}
	return path + "." + strconv.Itoa(i)
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
