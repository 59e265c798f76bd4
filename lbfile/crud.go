package lbfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/frankframework/ladybug"
	"github.com/frankframework/ladybug/lbstore"
)

// CrudConfig defines the configuration parameters for a file crud storage.
type CrudConfig struct {
	// Path of the files, without suffix. Required. The storage writes two
	// pairs of files, Path-a and Path-b, and a Path.active marker.
	Path string

	// Name of the storage. Optional. By default, the base name of Path.
	Name string

	// Fields written as metadata columns. Optional. By default, DefaultFields.
	Fields []string

	// Extractor for metadata. Optional.
	Extractor lbstore.MetadataExtractor

	// Logger is optional.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *lbstore.Metrics
}

// Crud is a file crud storage. Stores append to the active pair of files.
// Updates and deletes copy every report into the inactive pair, switch the
// marker to it, and clear the previously active pair.
type Crud struct {
	name       string
	markerPath string
	logs       [2]*Log
	logger     *slog.Logger
	metrics    *lbstore.Metrics
	lastErr    *lbstore.LastError

	mtx    sync.RWMutex
	active int
	nextID int
}

var _ lbstore.CrudStorage = (*Crud)(nil)

var pairNames = [2]string{"a", "b"}

// NewCrud opens or creates a file crud storage.
func NewCrud(cfg CrudConfig) (*Crud, error) {
	if cfg.Path == "" {
		return nil, &lbstore.ConfigurationError{Problems: []string{"file storage: missing path"}}
	}
	if cfg.Name == "" {
		cfg.Name = filepath.Base(cfg.Path)
	}
	if cfg.Extractor == nil {
		cfg.Extractor = lbstore.NewExtractor()
	}

	c := &Crud{
		name:       cfg.Name,
		markerPath: cfg.Path + ".active",
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		lastErr:    lbstore.NewLastError(cfg.Name, cfg.Metrics),
	}

	for i, suffix := range pairNames {
		l, err := NewLog(LogConfig{
			Path:           cfg.Path + "-" + suffix,
			Name:           cfg.Name,
			MaxFileSize:    -1,
			MaxBackupIndex: -1,
			Fields:         cfg.Fields,
			Extractor:      cfg.Extractor,
			Logger:         cfg.Logger,
			Metrics:        cfg.Metrics,
		})
		if err != nil {
			return nil, err
		}
		c.logs[i] = l
	}
	c.logger = c.logs[0].logger

	active, nextID, err := readMarker(c.markerPath)
	if err != nil {
		return nil, lbstore.Wrap(c.name, "open", err)
	}
	c.active = active
	c.nextID = max(nextID, c.logs[active].nextID)

	// An interrupted update can leave reports in the inactive pair.
	if err := c.logs[1-active].Clear(context.Background()); err != nil {
		return nil, err
	}

	return c, nil
}

// Name implements lbstore.Storage.
func (c *Crud) Name() string { return c.name }

// StoreWithoutError implements lbstore.LogWriter, so a crud storage can be
// used as a tracer sink.
func (c *Crud) StoreWithoutError(ctx context.Context, r *ladybug.Report) {
	if err := c.Store(ctx, r); err != nil {
		c.lastErr.Record(err)
		c.logger.ErrorContext(ctx, "store report failed", "storage", c.name, "correlation_id", r.CorrelationID, "err", err)
	}
}

// WarningsAndErrors implements lbstore.LogWriter.
func (c *Crud) WarningsAndErrors() string { return c.lastErr.String() }

// Store implements lbstore.CrudWriter.
func (c *Crud) Store(ctx context.Context, r *ladybug.Report) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	l := c.logs[c.active]
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if err := l.store(r, c.nextID); err != nil {
		return err
	}

	c.nextID++
	c.metrics.IncStored(c.name)
	return nil
}

// Update implements lbstore.CrudWriter.
func (c *Crud) Update(ctx context.Context, r *ladybug.Report) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.rewrite("update", r.StorageID, r)
}

// Delete implements lbstore.CrudWriter.
func (c *Crud) Delete(ctx context.Context, r *ladybug.Report) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.rewrite("delete", r.StorageID, nil)
}

// rewrite copies every report from the active to the inactive pair,
// replacing the target with the replacement, or dropping it if the
// replacement is nil. Must be called with c.mtx held.
func (c *Crud) rewrite(op string, target int, replacement *ladybug.Report) error {
	var (
		src = c.logs[c.active]
		dst = c.logs[1-c.active]
	)

	src.mtx.Lock()
	defer src.mtx.Unlock()
	dst.mtx.Lock()
	defer dst.mtx.Unlock()

	if err := dst.clear(); err != nil {
		return err
	}

	files, err := src.parseAll()
	if err != nil {
		return err
	}

	var found bool
	for _, pf := range files {
		for _, row := range pf.rows {
			if row.id == target {
				found = true
				if replacement != nil {
					if err := dst.store(replacement, target); err != nil {
						return err
					}
				}
				continue
			}

			data, err := pf.blob(row)
			if err != nil {
				return lbstore.Wrap(c.name, op, err, row.id)
			}
			if err := dst.append(row.id, data, row.fields); err != nil {
				return err
			}
		}
	}

	if !found {
		return lbstore.Wrap(c.name, op, lbstore.ErrNotFound, target)
	}

	next := 1 - c.active
	if err := writeMarker(c.markerPath, next, c.nextID); err != nil {
		return lbstore.Wrap(c.name, op, err, target)
	}
	c.active = next

	if err := src.clear(); err != nil {
		c.logger.Warn("clear inactive files failed", "storage", c.name, "err", err)
	}

	return nil
}

// StorageIDs implements lbstore.Storage.
func (c *Crud) StorageIDs(ctx context.Context) ([]int, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.logs[c.active].StorageIDs(ctx)
}

// Report implements lbstore.Storage.
func (c *Crud) Report(ctx context.Context, storageID int) (*ladybug.Report, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.logs[c.active].Report(ctx, storageID)
}

// Metadata implements lbstore.Storage.
func (c *Crud) Metadata(ctx context.Context, req lbstore.MetadataRequest) ([][]any, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.logs[c.active].Metadata(ctx, req)
}

// Clear implements lbstore.Storage. Storage IDs aren't reused.
func (c *Crud) Clear(ctx context.Context) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	for _, l := range c.logs {
		if err := l.Clear(ctx); err != nil {
			return err
		}
	}
	return lbstore.Wrap(c.name, "clear", writeMarker(c.markerPath, c.active, c.nextID))
}

// Size implements lbstore.Storage.
func (c *Crud) Size(ctx context.Context) (int, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.logs[c.active].Size(ctx)
}

// Close implements lbstore.Storage.
func (c *Crud) Close() error { return nil }

// The marker file holds the active pair name and the next storage ID, e.g.
// "b 42".
func readMarker(path string) (active, nextID int, _ error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, 1, nil
	}
	if err != nil {
		return 0, 0, err
	}

	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("%s: invalid marker %q", path, string(data))
	}

	switch fields[0] {
	case pairNames[0]:
		active = 0
	case pairNames[1]:
		active = 1
	default:
		return 0, 0, fmt.Errorf("%s: invalid active pair %q", path, fields[0])
	}

	nextID, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%s: invalid next ID: %w", path, err)
	}

	return active, nextID, nil
}

func writeMarker(path string, active, nextID int) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(fmt.Sprintf("%s %d\n", pairNames[active], nextID)), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
