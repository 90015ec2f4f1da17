package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/xsbridge/internal/worker"
	"github.com/GriffinCanCode/xsbridge/internal/worker/sandbox"
)

const (
	exitUsage = 1
	exitIO    = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	defaults := sandbox.DefaultConfig()
	serverDefaults := worker.DefaultConfig()

	fs := flag.NewFlagSet("xsnap-worker", flag.ContinueOnError)
	timeout := fs.Duration("timeout", defaults.Timeout, "Per-evaluation timeout (0 disables)")
	stack := fs.Int("stack", defaults.MaxCallStackSize, "Maximum call stack depth")
	evalName := fs.String("name", serverDefaults.EvalName, "Script name reported for evaluated source")
	maxFrame := fs.Int("max-frame-size", serverDefaults.MaxFrameSize, "Largest accepted command frame")
	logLevel := fs.String("log-level", "warn", "Log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "xsnap-worker: unexpected arguments %v\n", fs.Args())
		return exitUsage
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = *logLevel
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xsnap-worker: %v\n", err)
		return exitUsage
	}
	defer logger.Sync()

	streams, err := worker.OpenStreams()
	if err != nil {
		logger.Error("missing bridge channels", zap.Error(err))
		return exitIO
	}
	defer streams.Close()

	engine, err := sandbox.New(sandbox.Config{
		Timeout:          *timeout,
		MaxCallStackSize: *stack,
		Output:           os.Stdout,
	})
	if err != nil {
		logger.Error("failed to create engine", zap.Error(err))
		return exitIO
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// unblock the pending command read
		<-ctx.Done()
		streams.Commands.Close()
	}()

	srv := worker.NewStreamServer(engine, logger, worker.Config{
		EvalName:     *evalName,
		MaxFrameSize: *maxFrame,
	}, streams)
	if err := srv.Serve(ctx); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		return exitIO
	}
	return 0
}
