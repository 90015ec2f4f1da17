package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/xsbridge/internal/bridge"
	"github.com/GriffinCanCode/xsbridge/internal/debugger"
	"github.com/GriffinCanCode/xsbridge/internal/domain/profiling"
	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/xsbridge/internal/infrastructure/server"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

type flags struct {
	configFile string
	script     string

	worker    string
	buildRoot string
	buildCfg  string
	stdio     string
	stopOn    string
	timeout   time.Duration
	artifact  string
	topHits   int
	status    string
	logLevel  string
	dev       bool
}

func parseFlags(args []string) (*flags, map[string]bool, error) {
	f := &flags{}
	fs := flag.NewFlagSet("xsbug", flag.ContinueOnError)
	fs.StringVar(&f.configFile, "config", "", "YAML or TOML configuration file")
	fs.StringVar(&f.script, "script", "test.js", "Script evaluated by the worker")
	fs.StringVar(&f.worker, "worker", "", "Worker executable (skips platform resolution)")
	fs.StringVar(&f.buildRoot, "build-root", "", "Build tree containing bin/<platform>/<configuration>")
	fs.StringVar(&f.buildCfg, "build-config", "", "Build configuration (debug, release)")
	fs.StringVar(&f.stdio, "stdio", "", "Worker output handling (inherit, pty, discard)")
	fs.StringVar(&f.stopOn, "stop-on", "", "What stops the capture (any, reply)")
	fs.DurationVar(&f.timeout, "timeout", 0, "How long to wait for results after stopping")
	fs.StringVar(&f.artifact, "artifact", "", "Profile output path (.gz and .zst compress)")
	fs.IntVar(&f.topHits, "top", 0, "Number of hits to report")
	fs.StringVar(&f.status, "status", "", "Status endpoint address")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.BoolVar(&f.dev, "dev", false, "Development logging")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() > 0 {
		return nil, nil, fmt.Errorf("unexpected arguments %v", fs.Args())
	}

	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	return f, set, nil
}

// loadConfig resolves env, file and flag settings, flags winning.
func loadConfig(f *flags, set map[string]bool) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configFile != "" {
		cfg, err = config.LoadFile(f.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if set["worker"] {
		cfg.Worker.Executable = f.worker
	}
	if set["build-root"] {
		cfg.Worker.BuildRoot = f.buildRoot
	}
	if set["build-config"] {
		cfg.Worker.Configuration = f.buildCfg
	}
	if set["stdio"] {
		cfg.Worker.Stdio = f.stdio
	}
	if set["stop-on"] {
		cfg.Session.StopOn = f.stopOn
	}
	if set["timeout"] {
		cfg.Session.CompletionTimeout = config.Duration(f.timeout)
	}
	if set["artifact"] {
		cfg.Artifact.Path = f.artifact
	}
	if set["top"] {
		cfg.Artifact.TopHits = f.topHits
	}
	if set["status"] {
		cfg.Status.Addr = f.status
	}
	if set["log-level"] {
		cfg.Logging.Level = f.logLevel
	}
	if set["dev"] {
		cfg.Logging.Development = f.dev
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.LogConfig) (*logging.Logger, error) {
	logCfg := logging.DefaultConfig()
	if cfg.Development {
		logCfg = logging.DevelopmentConfig()
	}
	if cfg.Level != "" {
		logCfg.Level = cfg.Level
	}
	return logging.New(logCfg)
}

// workerPath returns the configured executable or resolves it from the
// build tree for the current platform.
func workerPath(cfg config.WorkerConfig) (string, error) {
	if cfg.Executable != "" {
		return cfg.Executable, nil
	}
	return bridge.ResolveExecutable(bridge.CurrentPlatform(), bridge.DefaultPlatforms(), bridge.Layout{
		BuildRoot:     cfg.BuildRoot,
		Configuration: cfg.Configuration,
		Name:          cfg.Name,
	})
}

func run(args []string) int {
	f, set, err := parseFlags(args)
	if err != nil {
		if err != flag.ErrHelp {
			fmt.Fprintf(os.Stderr, "xsbug: %v\n", err)
		}
		return exitUsage
	}

	cfg, err := loadConfig(f, set)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xsbug: invalid configuration: %v\n", err)
		return exitUsage
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xsbug: %v\n", err)
		return exitUsage
	}
	defer logger.Sync()

	path, err := workerPath(cfg.Worker)
	if err != nil {
		logger.Error("Cannot locate worker", zap.Error(err))
		return exitUsage
	}

	script, err := os.ReadFile(f.script)
	if err != nil {
		logger.Error("Cannot read script", zap.String("script", f.script), zap.Error(err))
		return exitUsage
	}

	policy, err := profiling.ParseAckPolicy(cfg.Session.StopOn)
	if err != nil {
		logger.Error("Invalid stop trigger", zap.Error(err))
		return exitUsage
	}

	metrics := monitoring.NewMetrics()
	dbg := debugger.New(logger, metrics, debugger.Options{
		WorkerPath:        path,
		WorkerArgs:        cfg.Worker.Args,
		Stdio:             bridge.StdioMode(cfg.Worker.Stdio),
		Policy:            policy,
		CompletionTimeout: cfg.Session.CompletionTimeout.Std(),
		MaxFrameSize:      cfg.Protocol.MaxFrameSize,
		TopHits:           cfg.Artifact.TopHits,
	})

	if cfg.Status.Addr != "" {
		srv := server.NewServer(server.Config{
			Addr:              cfg.Status.Addr,
			Development:       cfg.Logging.Development,
			AllowOrigins:      cfg.Status.AllowOrigins,
			RequestsPerSecond: cfg.Status.RequestsPerSecond,
			Burst:             cfg.Status.Burst,
		}, dbg, metrics, logger)
		if _, err := srv.Start(); err != nil {
			logger.Error("Failed to start status server", zap.Error(err))
			return exitFailure
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := srv.Close(ctx); err != nil {
				logger.Warn("Status server shutdown failed", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Profiling script",
		zap.String("script", f.script),
		zap.String("worker", path),
		zap.String("artifact", cfg.Artifact.Path),
	)

	report, err := dbg.Run(ctx, debugger.Request{
		Script:       script,
		ArtifactPath: cfg.Artifact.Path,
	})
	if err != nil {
		// already logged by the debugger
		return exitFailure
	}

	logger.Info("Profiling run complete",
		zap.String("session", report.SessionID.String()),
		zap.Stringer("outcome", report.Outcome),
		zap.String("artifact", report.ArtifactPath),
	)
	return 0
}
