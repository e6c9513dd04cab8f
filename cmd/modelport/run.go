package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ekisa-team/modelport/internal/command"
	"github.com/ekisa-team/modelport/internal/config"
	"github.com/ekisa-team/modelport/internal/config/source"
	"github.com/ekisa-team/modelport/internal/console"
	"github.com/ekisa-team/modelport/internal/converter"
	"github.com/ekisa-team/modelport/internal/env"
	"github.com/ekisa-team/modelport/internal/envvar"
	"github.com/ekisa-team/modelport/internal/exporter"
	"github.com/ekisa-team/modelport/internal/exporter/ultralytics"
	"github.com/ekisa-team/modelport/internal/logger"
	"github.com/ekisa-team/modelport/internal/watch"
	"github.com/ekisa-team/modelport/internal/xfs"
)

type flags struct {
	configPath string
	schemaPath string
	modelID    string
	checkpoint string
	baseDir    string
	format     string
	imageSize  int
	python     string
	verify     bool
	timeout    time.Duration
	lockDir    string
	watch      bool
	logLevel   string
	logToFile  bool
	logFile    string
	set        map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	fs := flag.NewFlagSet("modelport", flag.ContinueOnError)
	fs.SetOutput(stderr)

	f := &flags{}
	fs.StringVar(&f.configPath, "config", "", "Path to config file (default "+config.DefaultConfigFile()+")")
	fs.StringVar(&f.schemaPath, "schema", "", "Path to a JSON schema overriding the embedded one")
	fs.StringVar(&f.modelID, "model", "", "Model id from the config (default: the config's default_model)")
	fs.StringVar(&f.checkpoint, "checkpoint", "", "Checkpoint path, overriding the model's configured path")
	fs.StringVar(&f.baseDir, "base-dir", "", "Base directory for relative checkpoint paths (default: the binary's directory)")
	fs.StringVar(&f.format, "format", "", "Target format (default onnx)")
	fs.IntVar(&f.imageSize, "imgsz", 0, "Input image size (default 640)")
	fs.StringVar(&f.python, "python", "", "Python interpreter with ultralytics installed")
	fs.BoolVar(&f.verify, "verify", false, "Verify the exported ONNX file")
	fs.DurationVar(&f.timeout, "timeout", 0, "Export timeout (default 30m)")
	fs.StringVar(&f.lockDir, "lock-dir", "", "Directory for export lock files")
	fs.BoolVar(&f.watch, "watch", false, "Re-export whenever the checkpoint changes")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.BoolVar(&f.logToFile, "log-to-file", false, "Also write logs to a rotating file")
	fs.StringVar(&f.logFile, "log-file", "", "Log file path (default logs/modelport.log)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	f.set = make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

// run executes one invocation and returns the process exit code. A nil runner
// executes real processes.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, runner command.CommandRunner) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		fmt.Fprintln(stderr, err)
		return ExitConfigError
	}

	printer := console.New(stdout, string(exporter.ProviderUltralytics), ultralytics.InstallHint)

	cfg, cfgPath, err := loadConfig(f)
	if err != nil {
		printer.Errorf("%v", err)
		return ExitConfigError
	}

	log := newLogger(f, cfg, stderr)
	slog.SetDefault(log)
	if cfgPath != "" {
		log.Debug("Config loaded", "config", cfgPath)
	}

	modelID, model, err := cfg.Model(f.modelID)
	if err != nil {
		printer.Errorf("%v", err)
		return ExitConfigError
	}

	registry := exporter.NewRegistry()
	defer registry.Close()

	if err := registry.Register(newUltralytics(f, cfg, runner)); err != nil {
		printer.Errorf("%v", err)
		return ExitConfigError
	}

	exp, err := registry.Get(exporter.Provider(model.Exporter))
	if err != nil {
		printer.Errorf("%v (available: %v)", err, registry.Providers())
		return ExitConfigError
	}

	job := buildJob(f, cfg, modelID, model)

	opts := []converter.Option{
		converter.WithObserver(printer.Observer(job)),
		converter.WithVerify(verifyEnabled(f, cfg)),
		converter.WithLockDir(firstNonEmpty(f.lockDir, cfg.Export.LockDir)),
	}
	if src := model.GetSource(); src != nil {
		dl, err := source.GetDownloader(src.Type())
		if err != nil {
			printer.Errorf("%v", err)
			return ExitConfigError
		}
		opts = append(opts, converter.WithSource(dl, src))
	}

	conv := converter.New(exp, job, opts...)

	code := convertOnce(ctx, conv, printer)
	if !f.watch {
		return code
	}

	return watchAndConvert(ctx, conv, printer, code)
}

func convertOnce(ctx context.Context, conv *converter.Converter, printer *console.Printer) int {
	res, err := conv.Convert(ctx)
	if err != nil {
		printer.Failure(err)
		return ExitFailure
	}

	printer.Success(res)
	return ExitSuccess
}

func watchAndConvert(ctx context.Context, conv *converter.Converter, printer *console.Printer, initial int) int {
	var code atomic.Int32
	code.Store(int32(initial))

	w, err := watch.NewWatcher(conv.Job().SourcePath, watch.DefaultDebounce, func(ctx context.Context) {
		code.Store(int32(convertOnce(ctx, conv, printer)))
	})
	if err != nil {
		printer.Errorf("%v", err)
		return ExitFailure
	}

	slog.Info("Watching checkpoint for changes", "path", conv.Job().SourcePath)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		printer.Errorf("%v", err)
		return ExitFailure
	}

	return int(code.Load())
}

// loadConfig reads the config file when one is given or present at the
// default location, and falls back to built-in defaults otherwise.
func loadConfig(f *flags) (*config.Config, string, error) {
	path := f.configPath
	explicit := path != ""
	if path == "" {
		if p := os.Getenv(envvar.ModelportConfig); p != "" {
			path, explicit = p, true
		}
	}
	if path == "" {
		path = config.DefaultConfigFile()
	}
	path = xfs.ExpandTilde(path)

	if _, err := os.Stat(path); err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("config %s: %w", path, err)
		}
		return config.Default(), "", nil
	}

	cfg, err := config.LoadAndValidate(path, f.schemaPath)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func newLogger(f *flags, cfg *config.Config, stderr io.Writer) *slog.Logger {
	return logger.New(env.FromEnv(),
		logger.WithWriter(stderr),
		logger.WithLevel(logger.ParseLevel(firstNonEmpty(f.logLevel, cfg.Logging.Level, "info"))),
		logger.WithLogToFile(f.logToFile || cfg.Logging.ToFile),
		logger.WithLogFile(firstNonEmpty(f.logFile, cfg.Logging.File)),
	)
}

// newUltralytics resolves the interpreter with precedence
// flag > MODELPORT_PYTHON > config > python3.
func newUltralytics(f *flags, cfg *config.Config, runner command.CommandRunner) exporter.Exporter {
	python := firstNonEmpty(f.python, os.Getenv(envvar.ModelportPython), cfg.Python, ultralytics.DefaultPython)

	timeout := cfg.Export.Timeout()
	if f.timeout > 0 {
		timeout = f.timeout
	}

	if runner != nil {
		return ultralytics.NewWithRunner(python, timeout, runner)
	}
	return ultralytics.New(python, timeout)
}

// buildJob resolves the checkpoint path. Relative paths are joined to the
// first of -base-dir, MODELPORT_MODELS_DIR, storage.models_dir and the
// binary's directory.
func buildJob(f *flags, cfg *config.Config, modelID string, model config.ModelConfig) converter.Job {
	path := firstNonEmpty(f.checkpoint, model.Path)
	baseDir := firstNonEmpty(f.baseDir, os.Getenv(envvar.ModelportModelsDir), cfg.Storage.ModelsDir)
	if baseDir == "" {
		baseDir = xfs.ExecutableDir()
	}

	job := converter.Job{
		ModelID:    modelID,
		SourcePath: config.ResolvePath(path, baseDir),
		Format:     firstNonEmpty(f.format, model.Format),
		ImageSize:  model.ImageSize,
		Parameters: model.Parameters,
	}
	if f.imageSize > 0 {
		job.ImageSize = f.imageSize
	}
	return job
}

func verifyEnabled(f *flags, cfg *config.Config) bool {
	if f.set["verify"] {
		return f.verify
	}
	return cfg.Export.VerifyEnabled()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
