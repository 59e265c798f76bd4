package main

import (
	"context"
	"fmt"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"

	"github.com/frankframework/ladybug/lbstore"
)

type searchConfig struct {
	*storageConfig

	fields    []string
	searches  []string
	limit     int
	valueType string
}

func (cfg *searchConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'f', LongName: "field" /*  */, Value: ffval.NewList(&cfg.fields) /*                          */, Usage: "metadata field to print (repeatable)"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'q', LongName: "search" /* */, Value: ffval.NewList(&cfg.searches) /*                        */, Usage: "search value, parallel to --field (repeatable)"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'n', LongName: "limit" /*  */, Value: ffval.NewValueDefault(&cfg.limit, 10) /*               */, Usage: "maximum number of records, 0 for unlimited"})
	fs.AddFlag(ff.FlagConfig{ShortName: 't', LongName: "type" /*   */, Value: ffval.NewEnum(&cfg.valueType, "object", "string", "gui") /*    */, Usage: "value type: object, string, gui"})
}

func (cfg *searchConfig) Exec(ctx context.Context, args []string) error {
	storage, err := cfg.openStorage(ctx, nil)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	valueType, err := lbstore.ParseValueType(cfg.valueType)
	if err != nil {
		return err
	}

	req := lbstore.MetadataRequest{
		Fields:       cfg.fields,
		SearchValues: cfg.searches,
		Limit:        cfg.limit,
		ValueType:    valueType,
	}
	if len(req.Fields) <= 0 {
		req.Fields = []string{lbstore.FieldStorageID, lbstore.FieldEndTime, lbstore.FieldName, lbstore.FieldStatus}
	}

	cfg.logger.Debug("search", "storage", storage.Name(), "fields", req.Fields, "search", req.SearchValues, "limit", req.Limit)

	records, err := storage.Metadata(ctx, req)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	cfg.logger.Debug("search done", "records", len(records))

	enc := cfg.newEncoder()
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}

	return nil
}
