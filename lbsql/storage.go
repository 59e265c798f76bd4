// Package lbsql stores reports in a database table, with one column per
// configured metadata field, and the compressed report in a blob column.
//
// Metadata searches are translated to SQL predicates where possible, and
// every candidate row is checked again in process, so results match the
// other storage backends exactly.
package lbsql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/frankframework/ladybug"
	"github.com/frankframework/ladybug/lbsearch"
	"github.com/frankframework/ladybug/lbstore"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Time columns hold timestamps in this layout, in UTC, so that they sort and
// match like the formatted values of other backends.
const timeFormat = lbsearch.TimeFormat

// Config defines the configuration parameters for a database storage.
type Config struct {
	// Name of the storage. Optional. By default, the table name.
	Name string

	// Table name. Optional. By default, "ladybug".
	Table string

	// Dialect of the database. Required.
	Dialect Dialect

	// Fields stored as columns. Optional. By default, every field of the
	// extractor, which must then be a *lbstore.Extractor.
	Fields []lbstore.FieldConfig

	// Extractor for metadata. Optional. By default, lbstore.NewExtractor.
	Extractor lbstore.MetadataExtractor

	// Codec for the report column. Optional. By default, lbstore.CodecGzip.
	Codec lbstore.Codec

	// StoreXML also writes the XML rendering of reports to a reportxml
	// column. Optional.
	StoreXML bool

	// MaxStorageSize is the total size of stored reports, in bytes, above
	// which the oldest reports are deleted. Optional. By default, unlimited.
	MaxStorageSize int64

	// MaxAge of stored reports, measured by AgeField, above which they're
	// deleted. Optional. By default, unlimited.
	MaxAge time.Duration

	// AgeField is the time field used by MaxAge. Optional. By default,
	// endTime.
	AgeField string

	// PageSize is the number of rows fetched per query when a metadata
	// request has a limit. Optional. By default 100.
	PageSize int

	// Logger is optional.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *lbstore.Metrics
}

const pageSizeDef = 100

var identRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Storage is a database storage. It's both a log storage and a crud
// storage.
type Storage struct {
	db        *sql.DB
	ownDB     bool
	name      string
	dialect   Dialect
	table     string
	fields    []lbstore.FieldConfig
	byName    map[string]lbstore.FieldConfig
	key       string // storage ID column
	extractor lbstore.MetadataExtractor
	codec     lbstore.Codec
	storeXML  bool
	maxSize   int64
	maxAge    time.Duration
	ageColumn string
	pageSize  int
	logger    *slog.Logger
	metrics   *lbstore.Metrics
	lastErr   *lbstore.LastError
	now       func() time.Time

	storeMtx sync.Mutex
}

var (
	_ lbstore.LogStorage  = (*Storage)(nil)
	_ lbstore.CrudStorage = (*Storage)(nil)
)

// Open a database with the driver named after the dialect, and create the
// storage on it. Closing the storage closes the database.
func Open(ctx context.Context, dsn string, cfg Config) (*Storage, error) {
	if cfg.Dialect == nil {
		return nil, &lbstore.ConfigurationError{Problems: []string{"database storage: missing dialect"}}
	}

	db, err := sql.Open(cfg.Dialect.Name(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Dialect.Name(), err)
	}

	if cfg.Dialect == SQLite {
		db.SetMaxOpenConns(1)
	}

	s, err := New(ctx, db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	s.ownDB = true
	return s, nil
}

// New creates a storage on the database, creating the table if it doesn't
// exist yet.
func New(ctx context.Context, db *sql.DB, cfg Config) (*Storage, error) {
	var problems []string

	if cfg.Dialect == nil {
		problems = append(problems, "missing dialect")
	}
	if cfg.Table == "" {
		cfg.Table = "ladybug"
	}
	if !identRegexp.MatchString(cfg.Table) {
		problems = append(problems, fmt.Sprintf("invalid table name %q", cfg.Table))
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Table
	}
	if cfg.Extractor == nil {
		cfg.Extractor = lbstore.NewExtractor()
	}
	if cfg.Codec == nil {
		cfg.Codec = lbstore.CodecGzip
	}
	if cfg.MaxStorageSize < 0 {
		cfg.MaxStorageSize = 0
	}
	if cfg.MaxAge < 0 {
		cfg.MaxAge = 0
	}
	if cfg.AgeField == "" {
		cfg.AgeField = lbstore.FieldEndTime
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = pageSizeDef
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	fields := cfg.Fields
	switch {
	case len(fields) > 0:
		validated, err := lbstore.ValidateFields(fields, cfg.Extractor)
		if err != nil {
			return nil, err
		}
		fields = validated
	default:
		x, ok := cfg.Extractor.(*lbstore.Extractor)
		if !ok {
			problems = append(problems, "fields are required with a custom extractor")
			break
		}
		fields = lbstore.DefaultFields(x)
	}

	byName := map[string]lbstore.FieldConfig{}
	for _, fc := range fields {
		byName[fc.Name] = fc
	}

	var ageColumn string
	if cfg.MaxAge > 0 {
		switch fc, ok := byName[cfg.AgeField]; {
		case !ok:
			problems = append(problems, fmt.Sprintf("age field %q isn't a column", cfg.AgeField))
		case fc.Kind() != lbstore.KindTime:
			problems = append(problems, fmt.Sprintf("age field %q isn't a time", cfg.AgeField))
		default:
			ageColumn = fc.Column
		}
	}

	if len(problems) > 0 {
		return nil, &lbstore.ConfigurationError{Problems: problems}
	}

	s := &Storage{
		db:        db,
		name:      cfg.Name,
		dialect:   cfg.Dialect,
		table:     cfg.Table,
		fields:    fields,
		byName:    byName,
		key:       byName[lbstore.FieldStorageID].Column,
		extractor: cfg.Extractor,
		codec:     cfg.Codec,
		storeXML:  cfg.StoreXML,
		maxSize:   cfg.MaxStorageSize,
		maxAge:    cfg.MaxAge,
		ageColumn: ageColumn,
		pageSize:  cfg.PageSize,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		lastErr:   lbstore.NewLastError(cfg.Name, cfg.Metrics),
		now:       time.Now,
	}

	if _, err := db.ExecContext(ctx, s.createTable()); err != nil {
		return nil, lbstore.Wrap(s.name, "create table", err)
	}

	return s, nil
}

func (s *Storage) createTable() string {
	d := s.dialect
	defs := []string{d.KeyColumn(s.key)}
	for _, fc := range s.fields {
		if fc.Column == s.key {
			continue
		}
		defs = append(defs, d.Quote(fc.Column)+" "+d.ColumnType(fc.Kind(), fc.Length))
	}
	defs = append(defs, d.Quote(lbstore.ColumnReport)+" "+d.BlobType()+" NOT NULL")
	if s.storeXML {
		defs = append(defs, d.Quote(lbstore.ColumnReportXML)+" "+d.TextType())
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.Quote(s.table), strings.Join(defs, ", "))
}

// Name implements lbstore.Storage.
func (s *Storage) Name() string { return s.name }

// StoreWithoutError implements lbstore.LogWriter.
func (s *Storage) StoreWithoutError(ctx context.Context, r *ladybug.Report) {
	if err := s.Store(ctx, r); err != nil {
		s.lastErr.Record(err)
		s.logger.ErrorContext(ctx, "store report failed", "storage", s.name, "correlation_id", r.CorrelationID, "err", err)
	}
}

// WarningsAndErrors implements lbstore.LogWriter.
func (s *Storage) WarningsAndErrors() string { return s.lastErr.String() }

// Store implements lbstore.CrudWriter. The report is assigned the generated
// storage ID. Old reports are pruned in the same transaction.
func (s *Storage) Store(ctx context.Context, r *ladybug.Report) error {
	columns, args, err := s.row(r)
	if err != nil {
		return lbstore.Wrap(s.name, "store", err)
	}

	s.storeMtx.Lock()
	defer s.storeMtx.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lbstore.Wrap(s.name, "store", err)
	}
	defer tx.Rollback()

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = s.dialect.Quote(c)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.dialect.Quote(s.table),
		strings.Join(quoted, ", "),
		s.placeholders(1, len(columns)),
	)

	var id int64
	if returning := s.dialect.Returning(s.key); returning != "" {
		if err := tx.QueryRowContext(ctx, query+" "+returning, args...).Scan(&id); err != nil {
			return lbstore.Wrap(s.name, "store", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return lbstore.Wrap(s.name, "store", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return lbstore.Wrap(s.name, "store", err)
		}
	}

	if err := s.prune(ctx, tx, id); err != nil {
		return lbstore.Wrap(s.name, "prune", err)
	}

	if err := tx.Commit(); err != nil {
		return lbstore.Wrap(s.name, "store", err, int(id))
	}

	r.SetStorage(int(id), r.StorageSize)
	s.metrics.IncStored(s.name)
	return nil
}

// Update implements lbstore.CrudWriter.
func (s *Storage) Update(ctx context.Context, r *ladybug.Report) error {
	id := r.StorageID

	columns, args, err := s.row(r)
	if err != nil {
		return lbstore.Wrap(s.name, "update", err, id)
	}
	r.SetStorage(id, r.StorageSize)

	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = s.dialect.Quote(c) + " = " + s.dialect.Placeholder(i+1)
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		s.dialect.Quote(s.table),
		strings.Join(sets, ", "),
		s.dialect.Quote(s.key),
		s.dialect.Placeholder(len(columns)+1),
	)

	res, err := s.db.ExecContext(ctx, query, append(args, id)...)
	if err != nil {
		return lbstore.Wrap(s.name, "update", err, id)
	}
	return s.affected(res, "update", id)
}

// Delete implements lbstore.CrudWriter.
func (s *Storage) Delete(ctx context.Context, r *ladybug.Report) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", s.dialect.Quote(s.table), s.dialect.Quote(s.key), s.dialect.Placeholder(1))
	res, err := s.db.ExecContext(ctx, query, r.StorageID)
	if err != nil {
		return lbstore.Wrap(s.name, "delete", err, r.StorageID)
	}
	return s.affected(res, "delete", r.StorageID)
}

func (s *Storage) affected(res sql.Result, op string, id int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return lbstore.Wrap(s.name, op, err, id)
	}
	if n == 0 {
		return lbstore.Wrap(s.name, op, lbstore.ErrNotFound, id)
	}
	return nil
}

// row returns the columns and values written for a report, excluding the
// storage ID. The report's storage size is set to the encoded size.
func (s *Storage) row(r *ladybug.Report) (columns []string, args []any, _ error) {
	data, err := s.codec.Encode(r)
	if err != nil {
		return nil, nil, err
	}
	r.SetStorage(r.StorageID, int64(len(data)))

	for _, fc := range s.fields {
		if fc.Column == s.key {
			continue
		}
		columns = append(columns, fc.Column)
		args = append(args, toColumn(fc, s.extractor.Value(r, fc.Name)))
	}

	columns = append(columns, lbstore.ColumnReport)
	args = append(args, data)

	if s.storeXML {
		xml, err := r.XML()
		if err != nil {
			return nil, nil, err
		}
		columns = append(columns, lbstore.ColumnReportXML)
		args = append(args, xml)
	}

	return columns, args, nil
}

// prune deletes reports older than the max age, and the oldest reports
// beyond the max storage size. The newest report is always kept.
func (s *Storage) prune(ctx context.Context, tx *sql.Tx, newest int64) error {
	var (
		d     = s.dialect
		table = d.Quote(s.table)
		key   = d.Quote(s.key)
	)

	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge).UTC().Format(timeFormat)
		query := fmt.Sprintf("DELETE FROM %s WHERE %s < %s AND %s <> %s", table, d.Quote(s.ageColumn), d.Placeholder(1), key, d.Placeholder(2))
		res, err := tx.ExecContext(ctx, query, cutoff, newest)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			s.logger.Debug("pruned reports by age", "storage", s.name, "count", n)
		}
	}

	if s.maxSize > 0 {
		query := fmt.Sprintf("SELECT %s, LENGTH(%s) FROM %s ORDER BY %s DESC", key, d.Quote(lbstore.ColumnReport), table, key)
		rows, err := tx.QueryContext(ctx, query)
		if err != nil {
			return err
		}

		var (
			total  int64
			cutoff int64 = -1
		)
		for rows.Next() {
			var id, size int64
			if err := rows.Scan(&id, &size); err != nil {
				rows.Close()
				return err
			}
			total += size
			if total > s.maxSize && id != newest {
				cutoff = id
				break
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if cutoff >= 0 {
			res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s <= %s", table, key, d.Placeholder(1)), cutoff)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				s.logger.Debug("pruned reports by size", "storage", s.name, "count", n)
			}
		}
	}

	return nil
}

// StorageIDs implements lbstore.Storage.
func (s *Storage) StorageIDs(ctx context.Context) ([]int, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s DESC", s.dialect.Quote(s.key), s.dialect.Quote(s.table), s.dialect.Quote(s.key))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, lbstore.Wrap(s.name, "list", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, lbstore.Wrap(s.name, "list", err)
		}
		ids = append(ids, id)
	}
	return ids, lbstore.Wrap(s.name, "list", rows.Err())
}

// Report implements lbstore.Storage.
func (s *Storage) Report(ctx context.Context, storageID int) (*ladybug.Report, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		s.dialect.Quote(lbstore.ColumnReport),
		s.dialect.Quote(s.table),
		s.dialect.Quote(s.key),
		s.dialect.Placeholder(1),
	)

	var data []byte
	switch err := s.db.QueryRowContext(ctx, query, storageID).Scan(&data); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, lbstore.Wrap(s.name, "get", lbstore.ErrNotFound, storageID)
	case err != nil:
		return nil, lbstore.Wrap(s.name, "get", err, storageID)
	}

	r, err := lbstore.Decode(data)
	if err != nil {
		return nil, lbstore.Wrap(s.name, "get", err, storageID)
	}
	r.SetStorage(storageID, int64(len(data)))
	return r, nil
}

// Metadata implements lbstore.Storage. Fields that aren't columns are
// extracted from the stored reports.
func (s *Storage) Metadata(ctx context.Context, req lbstore.MetadataRequest) ([][]any, error) {
	filter, err := req.Normalize(s.extractor)
	if err != nil {
		return nil, lbstore.Wrap(s.name, "metadata", err)
	}

	var (
		d         = s.dialect
		selects   []string
		needsBlob bool
	)
	for _, field := range req.Fields {
		fc, ok := s.byName[field]
		if !ok {
			needsBlob = true
			continue
		}
		selects = append(selects, d.Quote(fc.Column))
	}
	if needsBlob {
		selects = append(selects, d.Quote(lbstore.ColumnReport))
	}
	selects = append(selects, d.Quote(s.key))

	where, args := s.where(req.Fields, filter)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s DESC", strings.Join(selects, ", "), d.Quote(s.table), where, d.Quote(s.key))

	var res [][]any
	for offset := 0; ; offset += s.pageSize {
		paged := query
		if req.Limit > 0 {
			paged += " " + d.Paging(s.pageSize, offset)
		}

		n, err := s.scan(ctx, paged, args, req, needsBlob, filter, &res)
		if err != nil {
			return nil, lbstore.Wrap(s.name, "metadata", err)
		}

		if req.Limit <= 0 || req.Full(len(res)) || n < s.pageSize {
			break
		}
	}

	return res, nil
}

// scan runs one metadata query, appends allowed records to res, and returns
// the number of rows read.
func (s *Storage) scan(ctx context.Context, query string, args []any, req lbstore.MetadataRequest, needsBlob bool, filter *lbstore.Filter, res *[][]any) (int, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	ncols := 1
	for _, field := range req.Fields {
		if _, ok := s.byName[field]; ok {
			ncols++
		}
	}
	if needsBlob {
		ncols++
	}

	var n int
	for rows.Next() {
		n++

		dest := make([]any, ncols)
		ptrs := make([]any, ncols)
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return n, err
		}

		var (
			col    int
			values = make([]any, len(req.Fields))
			blob   []byte
		)
		for i, field := range req.Fields {
			fc, ok := s.byName[field]
			if !ok {
				continue
			}
			v, err := fromColumn(fc.Kind(), dest[col])
			if err != nil {
				return n, fmt.Errorf("column %s: %w", fc.Column, err)
			}
			values[i] = v
			col++
		}
		if needsBlob {
			blob, _ = dest[col].([]byte)
			col++
		}
		id, err := fromColumn(lbstore.KindInt, dest[col])
		if err != nil {
			return n, fmt.Errorf("column %s: %w", s.key, err)
		}

		if needsBlob {
			r, err := lbstore.Decode(blob)
			if err != nil {
				return n, fmt.Errorf("report %v: %w", id, err)
			}
			r.SetStorage(id.(int), int64(len(blob)))
			for i, field := range req.Fields {
				if _, ok := s.byName[field]; !ok {
					values[i] = s.extractor.Value(r, field)
				}
			}
		}

		if req.Full(len(*res)) {
			continue
		}
		if !filter.Allow(values) {
			continue
		}
		*res = append(*res, lbstore.FormatRecord(s.extractor, req.Fields, values, req.ValueType))
	}

	return n, rows.Err()
}

// where translates the search values of column fields to a WHERE clause.
// The clause selects a superset of the matching rows.
func (s *Storage) where(fields []string, filter *lbstore.Filter) (string, []any) {
	var (
		d     = s.dialect
		conds []string
		args  []any
	)

	next := func(v any) string {
		args = append(args, v)
		return d.Placeholder(len(args))
	}

	for i, field := range fields {
		q := filter.Query(i)
		if q == nil || !q.Pushdown() {
			continue
		}
		fc, ok := s.byName[field]
		if !ok {
			continue
		}

		var (
			col  = d.Quote(fc.Column)
			text = d.CastText(col)
		)
		switch q.Kind() {
		case lbsearch.KindNull:
			conds = append(conds, col+" IS NULL")

		case lbsearch.KindLiteral:
			if q.CaseSensitive() {
				conds = append(conds, text+" = "+next(q.Value()))
			} else {
				conds = append(conds, "LOWER("+text+") = "+next(strings.ToLower(q.Value())))
			}

		case lbsearch.KindWildcard:
			if q.CaseSensitive() {
				conds = append(conds, text+" LIKE "+next(q.LikePattern())+" "+d.LikeEscape())
			} else {
				conds = append(conds, "LOWER("+text+") LIKE "+next(strings.ToLower(q.LikePattern()))+" "+d.LikeEscape())
			}

		case lbsearch.KindRange:
			rng := q.Range()
			lower, upper, ok := rangeBounds(fc.Kind(), rng)
			if !ok {
				continue
			}
			conds = append(conds, col+" IS NOT NULL")
			if lower != nil {
				conds = append(conds, col+" >= "+next(lower))
			}
			if upper != nil {
				op := " <= "
				if rng.UpperExclusive {
					op = " < "
				}
				conds = append(conds, col+op+next(upper))
			}
		}
	}

	if len(conds) <= 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// rangeBounds converts the bounds of a range to column values, if the range
// can be evaluated by the database for a column of the given kind. Numeric
// columns hold integers, so bounds are rounded inwards.
func rangeBounds(kind lbstore.FieldKind, rng lbsearch.Range) (lower, upper any, ok bool) {
	convert := func(b any, round func(float64) float64) (any, bool) {
		switch x := b.(type) {
		case nil:
			return nil, true
		case float64:
			switch kind {
			case lbstore.KindInt, lbstore.KindSize, lbstore.KindDuration:
				return int64(round(x)), true
			}
		case time.Time:
			if kind == lbstore.KindTime {
				return x.UTC().Format(timeFormat), true
			}
		}
		return nil, false
	}

	if lower, ok = convert(rng.Lower, math.Ceil); !ok {
		return nil, nil, false
	}
	if upper, ok = convert(rng.Upper, math.Floor); !ok {
		return nil, nil, false
	}
	return lower, upper, true
}

// Clear implements lbstore.Storage.
func (s *Storage) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM "+s.dialect.Quote(s.table))
	return lbstore.Wrap(s.name, "clear", err)
}

// Size implements lbstore.Storage.
func (s *Storage) Size(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.dialect.Quote(s.table)).Scan(&n)
	return n, lbstore.Wrap(s.name, "size", err)
}

// Close implements lbstore.Storage. The database is closed only if it was
// opened by Open.
func (s *Storage) Close() error {
	if !s.ownDB {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) placeholders(from, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = s.dialect.Placeholder(from + i)
	}
	return strings.Join(ps, ", ")
}

//
//
//

// toColumn converts a typed metadata value to the value written to its
// column.
func toColumn(fc lbstore.FieldConfig, v any) any {
	if v == nil {
		return nil
	}
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(timeFormat)
	case time.Duration:
		return x.Milliseconds()
	case int:
		return int64(x)
	case int64:
		return x
	case string:
		return truncate(x, fc.Length)
	default:
		return truncate(lbsearch.Format(x), fc.Length)
	}
}

// fromColumn converts a scanned column value to a typed metadata value.
func fromColumn(kind lbstore.FieldKind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	var (
		n     int64
		s     string
		isNum bool
	)
	switch x := v.(type) {
	case int64:
		n, isNum = x, true
	case int32:
		n, isNum = int64(x), true
	case int:
		n, isNum = int64(x), true
	case float64:
		n, isNum = int64(x), true
	case []byte:
		s = string(x)
	case string:
		s = x
	case time.Time:
		if kind == lbstore.KindTime {
			return x.UTC(), nil
		}
		s = x.UTC().Format(timeFormat)
	default:
		s = fmt.Sprint(x)
	}

	switch kind {
	case lbstore.KindInt, lbstore.KindSize, lbstore.KindDuration:
		if !isNum {
			var err error
			if n, err = strconv.ParseInt(strings.TrimSpace(s), 10, 64); err != nil {
				return nil, err
			}
		}
		switch kind {
		case lbstore.KindInt:
			return int(n), nil
		case lbstore.KindDuration:
			return time.Duration(n) * time.Millisecond, nil
		default:
			return n, nil
		}

	case lbstore.KindTime:
		return time.ParseInLocation(timeFormat, s, time.UTC)

	default:
		if isNum {
			return strconv.FormatInt(n, 10), nil
		}
		return s, nil
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
