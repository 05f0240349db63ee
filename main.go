package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
)

var version = "dev"

func newConsoleWriter(out io.Writer) zerolog.ConsoleWriter {
	consoleWriter := zerolog.ConsoleWriter{Out: out, NoColor: false, TimeFormat: time.RFC3339}
	consoleWriter.TimeFormat = "[" + time.RFC3339 + "]"
	consoleWriter.PartsOrder = []string{
		zerolog.TimestampFieldName,
		zerolog.LevelFieldName,
		zerolog.CallerFieldName,
		zerolog.MessageFieldName,
	}
	return consoleWriter
}

func newLogger(w io.Writer) zerolog.Logger {
	logger := zerolog.New(w).
		With().Timestamp().Logger()

	level := zerolog.InfoLevel
	envLevel, ok := os.LookupEnv("LOG_LEVEL")
	if ok {
		parsed, err := zerolog.ParseLevel(envLevel)
		if err != nil {
			logger.Warn().Err(err).Msg("could not parse environment variable LOG_LEVEL")
			return logger.Level(level)
		}
		level = parsed
	}

	return logger.Level(level)
}

func main() {
	args := Command{}
	cli := kong.Parse(&args,
		kong.Name("pkgmirror"),
		kong.Description("Mirror VPM package listings and their artifacts."),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignals(cancel)

	console := newConsoleWriter(os.Stderr)
	logger := newLogger(console)

	var err error
	switch cli.Command() {
	case "version":
		fmt.Println(version)
	case "daemon":
		err = daemonCommand(ctx, args, console, logger)
	case "sync":
		err = syncCommand(ctx, args, console, logger)
	case "tasks":
		err = tasksCommand(ctx, args, os.Stdout, logger)
	case "status":
		err = statusCommand(ctx, args, os.Stdout, logger)
	case "packages":
		err = packagesCommand(ctx, args, os.Stdout, logger)
	case "cleanup":
		err = cleanupCommand(ctx, args, logger)
	default:
		panic(cli.Command())
	}
	if err != nil {
		logger.Error().Err(err).Str("command", cli.Command()).Msg("command failed")
		cli.Exit(1)
	}
}

func setupSignals(onSignal func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		onSignal()
	}()
}
