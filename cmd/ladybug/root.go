package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"

	"github.com/frankframework/ladybug/lbfile"
	"github.com/frankframework/ladybug/lbsql"
	"github.com/frankframework/ladybug/lbstore"
)

type rootConfig struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	logLevel string
	output   string

	logger *slog.Logger
}

func (cfg *rootConfig) registerBaseFlags(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'l', LongName: "log" /*    */, Value: ffval.NewEnum(&cfg.logLevel, "info", "i", "debug", "d", "none", "n") /* */, Usage: "log level: i/info, d/debug, n/none" /* */, Placeholder: "LEVEL"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'o', LongName: "output" /* */, Value: ffval.NewEnum(&cfg.output, "ndjson", "prettyjson") /*                 */, Usage: "output format: ndjson, prettyjson" /* */, Placeholder: "FORMAT"})
}

func (cfg *rootConfig) newLogger() (*slog.Logger, error) {
	var level slog.Level
	switch cfg.logLevel {
	case "n", "none":
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	case "i", "info":
		level = slog.LevelInfo
	case "d", "debug":
		level = slog.LevelDebug
	default:
		return nil, fmt.Errorf("invalid log level %q", cfg.logLevel)
	}
	return slog.New(slog.NewTextHandler(cfg.stderr, &slog.HandlerOptions{Level: level})), nil
}

func (cfg *rootConfig) newEncoder() *json.Encoder {
	enc := json.NewEncoder(cfg.stdout)
	if cfg.output == "prettyjson" {
		enc.SetIndent("", "    ")
	}
	return enc
}

//
//
//

type storageConfig struct {
	*rootConfig

	kind       string
	name       string
	path       string
	fieldsFile string
	codec      string
	storeXML   bool
	maxSize    int
	maxAge     time.Duration
	maxFile    int
	maxBackups int
}

func (cfg *storageConfig) registerStorageFlags(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 's', LongName: "storage" /*     */, Value: ffval.NewEnum(&cfg.kind, "memory", "file", "crud", "sqlite", "postgres") /* */, Usage: "storage: memory, file, crud, sqlite, postgres", Placeholder: "KIND"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "storage-name" /**/, Value: ffval.NewValueDefault(&cfg.name, "debug") /*                               */, Usage: "storage name"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'p', LongName: "path" /*        */, Value: ffval.NewValue(&cfg.path) /*                                                 */, Usage: "file path prefix, or database DSN", Placeholder: "PATH"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "fields" /*      */, Value: ffval.NewValue(&cfg.fieldsFile) /*                                           */, Usage: "YAML file with metadata fields", Placeholder: "FILE"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "codec" /*       */, Value: ffval.NewEnum(&cfg.codec, "gzip", "lz4") /*                                  */, Usage: "database report codec: gzip, lz4"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "store-xml" /*   */, Value: ffval.NewValue(&cfg.storeXML) /*                                             */, Usage: "also store reports as XML in the database", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "max-size" /*    */, Value: ffval.NewValue(&cfg.maxSize) /*                                              */, Usage: "maximum database size in bytes, 0 for unlimited"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "max-age" /*     */, Value: ffval.NewValue(&cfg.maxAge) /*                                               */, Usage: "database report age limit, 0 for unlimited"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "max-file-size" /**/, Value: ffval.NewValue(&cfg.maxFile) /*                                              */, Usage: "file storage rotation size in bytes, 0 for the default"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "max-backups" /* */, Value: ffval.NewValue(&cfg.maxBackups) /*                                           */, Usage: "file storage backup count, 0 for the default"})
}

// openStorage returns the configured storage. The caller must close it.
func (cfg *storageConfig) openStorage(ctx context.Context, metrics *lbstore.Metrics) (lbstore.Storage, error) {
	var (
		x      = lbstore.NewExtractor()
		fields []lbstore.FieldConfig
	)
	if cfg.fieldsFile != "" {
		f, err := os.Open(cfg.fieldsFile)
		if err != nil {
			return nil, fmt.Errorf("open fields file: %w", err)
		}
		defer f.Close()

		fields, err = lbstore.LoadFields(f, x)
		if err != nil {
			return nil, fmt.Errorf("load fields: %w", err)
		}
	}

	fieldNames := make([]string, 0, len(fields))
	for _, f := range fields {
		fieldNames = append(fieldNames, f.Name)
	}
	if len(fieldNames) <= 0 {
		fieldNames = nil
	}

	switch cfg.kind {
	case "memory":
		return lbstore.NewMemoryWithConfig(lbstore.MemoryConfig{
			Name:      cfg.name,
			Extractor: x,
			Logger:    cfg.logger,
			Metrics:   metrics,
		}), nil

	case "file":
		return lbfile.NewLog(lbfile.LogConfig{
			Path:           cfg.path,
			Name:           cfg.name,
			MaxFileSize:    int64(cfg.maxFile),
			MaxBackupIndex: cfg.maxBackups,
			Fields:         fieldNames,
			Extractor:      x,
			Logger:         cfg.logger,
			Metrics:        metrics,
		})

	case "crud":
		return lbfile.NewCrud(lbfile.CrudConfig{
			Path:      cfg.path,
			Name:      cfg.name,
			Fields:    fieldNames,
			Extractor: x,
			Logger:    cfg.logger,
			Metrics:   metrics,
		})

	case "sqlite", "postgres":
		dialect, err := lbsql.DialectByName(cfg.kind)
		if err != nil {
			return nil, err
		}
		codec, err := lbstore.CodecByName(cfg.codec)
		if err != nil {
			return nil, err
		}
		if cfg.path == "" {
			return nil, fmt.Errorf("--path (DSN) is required for %s", cfg.kind)
		}
		return lbsql.Open(ctx, cfg.path, lbsql.Config{
			Name:           cfg.name,
			Dialect:        dialect,
			Fields:         fields,
			Extractor:      x,
			Codec:          codec,
			StoreXML:       cfg.storeXML,
			MaxStorageSize: int64(cfg.maxSize),
			MaxAge:         cfg.maxAge,
			Logger:         cfg.logger,
			Metrics:        metrics,
		})

	default:
		return nil, fmt.Errorf("invalid storage %q", cfg.kind)
	}
}
