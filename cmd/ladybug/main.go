// ladybug is a CLI tool for serving, searching, and moving ladybug reports.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

func main() {
	var (
		ctx    = context.Background()
		stdin  = os.Stdin
		stdout = os.Stdout
		stderr = os.Stderr
		args   = os.Args[1:]
	)
	err := exec(ctx, stdin, stdout, stderr, args)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.As(err, &(run.SignalError{})):
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func exec(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) (err error) {
	rootConfig := &rootConfig{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}

	rootFlags := ff.NewFlagSet("base")
	rootConfig.registerBaseFlags(rootFlags)

	storageConfig := &storageConfig{rootConfig: rootConfig}
	storageFlags := ff.NewFlagSet("storage").SetParent(rootFlags)
	storageConfig.registerStorageFlags(storageFlags)

	rootCommand := &ff.Command{
		Name:      "ladybug",
		ShortHelp: "serve, search, and move ladybug reports",
		Flags:     rootFlags,
	}

	// Config for `ladybug serve`.
	serveConfig := &serveConfig{storageConfig: storageConfig}
	serveFlags := ff.NewFlagSet("serve").SetParent(storageFlags)
	serveConfig.register(serveFlags)
	serveCommand := &ff.Command{
		Name:      "serve",
		ShortHelp: "run a tracer and serve its storages over HTTP",
		LongHelp:  "Serve the debug storage, and an optional test storage, with metadata search, reruns, and a stream of closed reports.",
		Flags:     serveFlags,
		Exec:      serveConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, serveCommand)

	// Config for `ladybug search`.
	searchConfig := &searchConfig{storageConfig: storageConfig}
	searchFlags := ff.NewFlagSet("search").SetParent(storageFlags)
	searchConfig.register(searchFlags)
	searchCommand := &ff.Command{
		Name:      "search",
		ShortHelp: "search report metadata in a storage",
		LongHelp:  "Print metadata records that match the search values, newest first.",
		Flags:     searchFlags,
		Exec:      searchConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, searchCommand)

	// Config for `ladybug export`.
	exportConfig := &exportConfig{storageConfig: storageConfig}
	exportFlags := ff.NewFlagSet("export").SetParent(storageFlags)
	exportConfig.register(exportFlags)
	exportCommand := &ff.Command{
		Name:      "export",
		ShortHelp: "export reports from a storage",
		Flags:     exportFlags,
		Exec:      exportConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, exportCommand)

	// Config for `ladybug import`.
	importConfig := &importConfig{storageConfig: storageConfig}
	importFlags := ff.NewFlagSet("import").SetParent(storageFlags)
	importCommand := &ff.Command{
		Name:      "import",
		ShortHelp: "import exported reports into a storage",
		LongHelp:  "Read export files named as arguments, or stdin, and store every report.",
		Flags:     importFlags,
		Exec:      importConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, importCommand)

	// Config for `ladybug stream`.
	streamConfig := &streamConfig{rootConfig: rootConfig}
	streamFlags := ff.NewFlagSet("stream").SetParent(rootFlags)
	streamConfig.register(streamFlags)
	streamCommand := &ff.Command{
		Name:      "stream",
		ShortHelp: "stream closed reports from a server to the terminal",
		Flags:     streamFlags,
		Exec:      streamConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, streamCommand)

	// Print help when appropriate.
	showHelp := true
	defer func() {
		errHelp := errors.Is(err, ff.ErrHelp) || errors.Is(err, ff.ErrNoExec)
		if showHelp || errHelp {
			fmt.Fprintf(stderr, "\n%s\n", ffhelp.Command(rootCommand))
		}
		if errHelp {
			err = nil
		}
	}()

	// Initial parsing.
	if err := rootCommand.Parse(args, ff.WithEnvVarPrefix("LADYBUG")); err != nil {
		return err
	}

	// Validation and set-up.
	logger, err := rootConfig.newLogger()
	if err != nil {
		return err
	}
	rootConfig.logger = logger

	// Run errors shouldn't show help by default.
	showHelp = false

	// Run the selected command.
	return rootCommand.Run(ctx)
}
