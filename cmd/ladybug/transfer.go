package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"

	"github.com/frankframework/ladybug"
	"github.com/frankframework/ladybug/lbstore"
)

type exportConfig struct {
	*storageConfig

	ids    []string
	output string
}

func (cfg *exportConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'i', LongName: "id" /*  */, Value: ffval.NewUniqueList(&cfg.ids) /* */, Usage: "storage ID to export (repeatable), default all"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "out" /* */, Value: ffval.NewValue(&cfg.output) /*   */, Usage: "output file, default stdout", Placeholder: "FILE"})
}

func (cfg *exportConfig) Exec(ctx context.Context, args []string) error {
	storage, err := cfg.openStorage(ctx, nil)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	var ids []int
	for _, s := range cfg.ids {
		id, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid storage ID %q", s)
		}
		ids = append(ids, id)
	}
	if len(ids) <= 0 {
		all, err := storage.StorageIDs(ctx)
		if err != nil {
			return err
		}
		ids = all
	}

	reports := make([]*ladybug.Report, 0, len(ids))
	for _, id := range ids {
		r, err := storage.Report(ctx, id)
		if err != nil {
			return err
		}
		reports = append(reports, r)
	}

	var w io.Writer = cfg.stdout
	if cfg.output != "" {
		f, err := os.Create(cfg.output)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := lbstore.Export(w, reports...); err != nil {
		return err
	}

	cfg.logger.Info("exported", "storage", storage.Name(), "count", len(reports))
	return nil
}

//
//
//

type importConfig struct {
	*storageConfig
}

func (cfg *importConfig) Exec(ctx context.Context, args []string) error {
	storage, err := cfg.openStorage(ctx, nil)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	var reports []*ladybug.Report
	if len(args) <= 0 {
		rs, err := lbstore.Import(cfg.stdin)
		if err != nil {
			return fmt.Errorf("stdin: %w", err)
		}
		reports = rs
	}
	for _, filename := range args {
		rs, err := importFile(filename)
		if err != nil {
			return fmt.Errorf("%s: %w", filename, err)
		}
		reports = append(reports, rs...)
	}

	switch x := storage.(type) {
	case lbstore.CrudWriter:
		for _, r := range reports {
			if err := x.Store(ctx, r); err != nil {
				return err
			}
			cfg.logger.Debug("imported", "name", r.Name, "storage_id", r.StorageID)
		}
	case lbstore.LogWriter:
		for _, r := range reports {
			x.StoreWithoutError(ctx, r)
		}
		if msg := x.WarningsAndErrors(); msg != "" {
			return fmt.Errorf("storage %q: %s", storage.Name(), msg)
		}
	default:
		return fmt.Errorf("storage %q is read-only", storage.Name())
	}

	cfg.logger.Info("imported", "storage", storage.Name(), "count", len(reports))
	return nil
}

func importFile(filename string) ([]*ladybug.Report, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return lbstore.Import(f)
}
