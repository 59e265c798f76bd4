package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/unixtransport/unixproxy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frankframework/ladybug"
	"github.com/frankframework/ladybug/lbfile"
	"github.com/frankframework/ladybug/lbstore"
	"github.com/frankframework/ladybug/lbweb"
)

type serveConfig struct {
	*storageConfig

	listenAddr     string
	testPath       string
	maxCheckpoints int
	maxMessageLen  int
	regexFilter    string
	threadTimeout  time.Duration
	streamTimeout  time.Duration
	sweepInterval  time.Duration
}

func (cfg *serveConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "listen-addr" /*     */, Value: ffval.NewValueDefault(&cfg.listenAddr, "localhost:8080") /*    */, Usage: "HTTP listen address, or unix:// socket"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "test-path" /*       */, Value: ffval.NewValue(&cfg.testPath) /*                            */, Usage: "file path prefix of the test storage, or empty for memory", Placeholder: "PATH"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "max-checkpoints" /* */, Value: ffval.NewValueDefault(&cfg.maxCheckpoints, 2500) /*         */, Usage: "maximum checkpoints per report"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "max-message-length" /**/, Value: ffval.NewValueDefault(&cfg.maxMessageLen, 1000000) /*   */, Usage: "maximum message length in bytes, negative for unlimited"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "regex-filter" /*    */, Value: ffval.NewValue(&cfg.regexFilter) /*                         */, Usage: "suppress reports whose name matches this regex", Placeholder: "REGEX"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "thread-timeout" /*  */, Value: ffval.NewValueDefault(&cfg.threadTimeout, 5*time.Minute) /*  */, Usage: "close reports with idle open threads after this long"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "stream-timeout" /*  */, Value: ffval.NewValueDefault(&cfg.streamTimeout, 5*time.Minute) /*  */, Usage: "close idle message streams after this long"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "sweep-interval" /*  */, Value: ffval.NewValueDefault(&cfg.sweepInterval, 10*time.Second) /* */, Usage: "timeout sweep interval"})
}

func (cfg *serveConfig) Exec(ctx context.Context, args []string) error {
	logger := cfg.logger

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	storageMetrics := lbstore.NewMetrics(reg)

	debug, err := cfg.openStorage(ctx, storageMetrics)
	if err != nil {
		return fmt.Errorf("open debug storage: %w", err)
	}
	defer debug.Close()

	sink, ok := debug.(ladybug.ReportSink)
	if !ok {
		return fmt.Errorf("storage %q can't be written to by a tracer", debug.Name())
	}

	var test lbstore.Storage = lbstore.NewMemoryWithConfig(lbstore.MemoryConfig{
		Name:    "test",
		Logger:  logger,
		Metrics: storageMetrics,
	})
	if cfg.testPath != "" {
		crud, err := lbfile.NewCrud(lbfile.CrudConfig{
			Path:    cfg.testPath,
			Name:    "test",
			Logger:  logger,
			Metrics: storageMetrics,
		})
		if err != nil {
			return fmt.Errorf("open test storage: %w", err)
		}
		test = crud
	}
	defer test.Close()

	tracer, err := ladybug.NewTracer(ladybug.TracerConfig{
		Sink:             sink,
		Logger:           logger,
		Metrics:          ladybug.NewMetrics(reg),
		MaxCheckpoints:   cfg.maxCheckpoints,
		MaxMessageLength: cfg.maxMessageLen,
		RegexFilter:      cfg.regexFilter,
		ThreadTimeout:    &cfg.threadTimeout,
		StreamTimeout:    &cfg.streamTimeout,
		SweepInterval:    cfg.sweepInterval,
	})
	if err != nil {
		return fmt.Errorf("create tracer: %w", err)
	}

	server, err := lbweb.NewServer(lbweb.Config{
		Storages: []lbstore.Storage{debug, test},
		Tracer:   tracer,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", server)

	ln, err := unixproxy.ListenURI(ctx, cfg.listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	logger.Info("serving", "listen_addr", cfg.listenAddr, "debug", debug.Name(), "test", test.Name())

	var g run.Group

	{
		httpServer := &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Add(func() error {
			if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(ctx)
		})
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return tracer.Run(ctx)
		}, func(error) {
			cancel()
		})
	}

	{
		g.Add(run.SignalHandler(ctx, os.Interrupt, os.Kill))
	}

	err = g.Run()

	// Reports still in progress are stored as they are.
	if n := tracer.InProgressCount(); n > 0 {
		logger.Info("closing reports in progress", "count", n)
		for _, r := range tracer.InProgress() {
			tracer.Close(ctx, r.CorrelationID)
		}
	}

	return err
}
