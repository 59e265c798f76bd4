package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"

	"github.com/frankframework/ladybug"
	"github.com/frankframework/ladybug/lbweb"
)

type streamConfig struct {
	*rootConfig

	uri           string
	name          string
	correlationID string
	sendBuf       int
	recvBuf       int
	statsInterval time.Duration
	retryInterval time.Duration
}

func (cfg *streamConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'u', LongName: "uri" /*            */, Value: ffval.NewValueDefault(&cfg.uri, "localhost:8080/tracer/stream") /* */, Usage: "server stream URI"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'n', LongName: "name" /*           */, Value: ffval.NewValue(&cfg.name) /*                                     */, Usage: "report name search value", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{ShortName: 'c', LongName: "correlation-id" /* */, Value: ffval.NewValue(&cfg.correlationID) /*                            */, Usage: "correlation id search value", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "send-buffer" /*    */, Value: ffval.NewValueDefault(&cfg.sendBuf, 100) /*                      */, Usage: "remote send buffer size"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "recv-buffer" /*    */, Value: ffval.NewValueDefault(&cfg.recvBuf, 100) /*                      */, Usage: "local receive buffer size"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "stats-interval" /* */, Value: ffval.NewValueDefault(&cfg.statsInterval, 10*time.Second) /*     */, Usage: "stats reporting interval"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "retry-interval" /* */, Value: ffval.NewValueDefault(&cfg.retryInterval, 1*time.Second) /*      */, Usage: "connection retry interval"})
}

func (cfg *streamConfig) Exec(ctx context.Context, args []string) error {
	reports := make(chan *ladybug.Report, cfg.recvBuf)

	client := &lbweb.StreamClient{
		URI:           cfg.uri,
		Name:          cfg.name,
		CorrelationID: cfg.correlationID,
		SendBuffer:    cfg.sendBuf,
		StatsInterval: cfg.statsInterval,
		RetryInterval: cfg.retryInterval,
		OnRead: func(ctx context.Context, eventType string, eventData []byte) {
			if eventType != "report" {
				cfg.logger.Debug(eventType, "data", string(eventData))
			}
		},
	}

	cfg.logger.Info("streaming", "uri", cfg.uri, "name", cfg.name, "correlation_id", cfg.correlationID)

	var g run.Group

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return client.Stream(ctx, reports)
		}, func(error) {
			cancel()
		})
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			enc := cfg.newEncoder()
			for {
				select {
				case r := <-reports:
					if err := enc.Encode(r); err != nil {
						return fmt.Errorf("write report: %w", err)
					}
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}, func(error) {
			cancel()
		})
	}

	{
		g.Add(run.SignalHandler(ctx, os.Interrupt, os.Kill))
	}

	return g.Run()
}
