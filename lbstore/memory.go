package lbstore

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/frankframework/ladybug"
)

// Memory keeps reports in memory. It's both a log storage and a crud storage,
// typically used for tests and for short-lived debugging sessions.
type Memory struct {
	name      string
	maxSize   int
	extractor MetadataExtractor
	logger    *slog.Logger
	metrics   *Metrics
	lastErr   *LastError

	mtx     sync.Mutex
	reports map[int]*ladybug.Report
	ids     []int // oldest first
	nextID  int
}

var (
	_ LogStorage  = (*Memory)(nil)
	_ CrudStorage = (*Memory)(nil)
)

// MemoryConfig defines the configuration parameters for a memory storage.
type MemoryConfig struct {
	// Name of the storage. Optional. By default, "memory".
	Name string

	// MaxReports retained, dropping the oldest reports first. Optional. By
	// default, reports are never dropped.
	MaxReports int

	// Extractor for metadata. Optional. By default, NewExtractor.
	Extractor MetadataExtractor

	// Logger is optional.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *Metrics
}

// NewMemory returns an empty, unbounded memory storage with the given name.
func NewMemory(name string) *Memory {
	return NewMemoryWithConfig(MemoryConfig{Name: name})
}

// NewMemoryWithConfig returns an empty memory storage.
func NewMemoryWithConfig(cfg MemoryConfig) *Memory {
	if cfg.Name == "" {
		cfg.Name = "memory"
	}
	if cfg.MaxReports < 0 {
		cfg.MaxReports = 0
	}
	if cfg.Extractor == nil {
		cfg.Extractor = NewExtractor()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Memory{
		name:      cfg.Name,
		maxSize:   cfg.MaxReports,
		extractor: cfg.Extractor,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		lastErr:   NewLastError(cfg.Name, cfg.Metrics),
		reports:   map[int]*ladybug.Report{},
		nextID:    1,
	}
}

// Name implements Storage.
func (m *Memory) Name() string { return m.name }

// StoreWithoutError implements LogWriter.
func (m *Memory) StoreWithoutError(ctx context.Context, r *ladybug.Report) {
	if err := m.Store(ctx, r); err != nil {
		m.lastErr.Record(err)
		m.logger.ErrorContext(ctx, "store report failed", "storage", m.name, "correlation_id", r.CorrelationID, "err", err)
	}
}

// WarningsAndErrors implements LogWriter.
func (m *Memory) WarningsAndErrors() string { return m.lastErr.String() }

// Store implements CrudWriter. The report is assigned the next storage ID.
func (m *Memory) Store(ctx context.Context, r *ladybug.Report) error {
	data, err := r.Bytes()
	if err != nil {
		return Wrap(m.name, "store", err)
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	id := m.nextID
	m.nextID++

	r.SetStorage(id, int64(len(data)))
	m.reports[id] = r.Clone()
	m.ids = append(m.ids, id)

	for m.maxSize > 0 && len(m.ids) > m.maxSize {
		delete(m.reports, m.ids[0])
		m.ids = m.ids[1:]
	}

	m.metrics.stored(m.name)
	return nil
}

// Update implements CrudWriter.
func (m *Memory) Update(ctx context.Context, r *ladybug.Report) error {
	data, err := r.Bytes()
	if err != nil {
		return Wrap(m.name, "update", err, r.StorageID)
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if _, ok := m.reports[r.StorageID]; !ok {
		return Wrap(m.name, "update", ErrNotFound, r.StorageID)
	}

	r.SetStorage(r.StorageID, int64(len(data)))
	m.reports[r.StorageID] = r.Clone()
	return nil
}

// Delete implements CrudWriter.
func (m *Memory) Delete(ctx context.Context, r *ladybug.Report) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if _, ok := m.reports[r.StorageID]; !ok {
		return Wrap(m.name, "delete", ErrNotFound, r.StorageID)
	}

	delete(m.reports, r.StorageID)
	for i, id := range m.ids {
		if id == r.StorageID {
			m.ids = append(m.ids[:i], m.ids[i+1:]...)
			break
		}
	}
	return nil
}

// StorageIDs implements Storage.
func (m *Memory) StorageIDs(ctx context.Context) ([]int, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	ids := append([]int(nil), m.ids...)
	sortNewestFirst(ids)
	return ids, nil
}

// Report implements Storage. The returned report is a copy.
func (m *Memory) Report(ctx context.Context, storageID int) (*ladybug.Report, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	r, ok := m.reports[storageID]
	if !ok {
		return nil, Wrap(m.name, "get", ErrNotFound, storageID)
	}
	return r.Clone(), nil
}

// Metadata implements Storage.
func (m *Memory) Metadata(ctx context.Context, req MetadataRequest) ([][]any, error) {
	filter, err := req.Normalize(m.extractor)
	if err != nil {
		return nil, Wrap(m.name, "metadata", err)
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	var res [][]any
	for i := len(m.ids) - 1; i >= 0 && !req.Full(len(res)); i-- {
		values := Record(m.extractor, m.reports[m.ids[i]], req.Fields)
		if !filter.Allow(values) {
			continue
		}
		res = append(res, FormatRecord(m.extractor, req.Fields, values, req.ValueType))
	}
	return res, nil
}

// Clear implements Storage.
func (m *Memory) Clear(ctx context.Context) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.reports = map[int]*ladybug.Report{}
	m.ids = nil
	return nil
}

// Size implements Storage.
func (m *Memory) Size(ctx context.Context) (int, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.ids), nil
}

// Close implements Storage.
func (m *Memory) Close() error { return nil }
