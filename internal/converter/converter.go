// Package converter turns a checkpoint on disk into an interchange-format file
// by delegating to an exporter.
//
// A conversion runs through a linear state machine:
//
//	CheckingDependency -> [Fetching] -> CheckingFile -> Exporting -> [Verifying] -> Succeeded
//
// Every state has a single exit to Failed. Without a configured source
// nothing is written to disk before Exporting; Fetching may create the
// checkpoint's directory and the source's download marker.
package converter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ekisa-team/modelport/internal/config"
	"github.com/ekisa-team/modelport/internal/config/source"
	"github.com/ekisa-team/modelport/internal/exporter"
	"github.com/ekisa-team/modelport/internal/filelock"
	"github.com/ekisa-team/modelport/internal/onnxinfo"
)

// State is a step of a conversion.
type State string

const (
	StateCheckingDependency State = "checking_dependency"
	StateFetching           State = "fetching"
	StateCheckingFile       State = "checking_file"
	StateExporting          State = "exporting"
	StateVerifying          State = "verifying"
	StateSucceeded          State = "succeeded"
	StateFailed             State = "failed"
)

// Job describes what to convert.
type Job struct {
	ModelID    string
	SourcePath string
	Format     string
	ImageSize  int
	Parameters map[string]any
}

// Result describes a successful conversion.
type Result struct {
	ModelID    string
	SourcePath string
	// OutputPath is reported by the exporter and never derived locally.
	OutputPath string
	Format     string
	ImageSize  int
	Duration   time.Duration
	// Info is set when verification is enabled and the output was verified.
	Info     *onnxinfo.Info
	Metadata *exporter.ResponseMetadata
}

// Converter runs conversions of a single job. It holds no state between
// runs, so calling Convert repeatedly with unchanged inputs gives the same
// result.
type Converter struct {
	exporter   exporter.Exporter
	job        Job
	observer   func(State)
	verify     bool
	lockDir    string
	downloader source.Downloader
	src        config.ModelSource
}

// Option configures a Converter.
type Option func(*Converter)

// WithObserver registers a callback invoked on every state transition.
func WithObserver(fn func(State)) Option {
	return func(c *Converter) { c.observer = fn }
}

// WithVerify enables ONNX verification of the exported file. Off by default,
// since the output path belongs to the exporter.
func WithVerify(enabled bool) Option {
	return func(c *Converter) { c.verify = enabled }
}

// WithLockDir sets where export lock files live. Defaults to the OS temp dir.
func WithLockDir(dir string) Option {
	return func(c *Converter) { c.lockDir = dir }
}

// WithSource syncs the checkpoint from src before the file check. The
// downloader decides whether an existing file is up to date.
func WithSource(d source.Downloader, src config.ModelSource) Option {
	return func(c *Converter) {
		c.downloader = d
		c.src = src
	}
}

// New creates a converter for job.
func New(exp exporter.Exporter, job Job, opts ...Option) *Converter {
	if job.Format == "" {
		job.Format = exporter.FormatONNX
	}
	if job.ImageSize <= 0 {
		job.ImageSize = exporter.DefaultImageSize
	}

	c := &Converter{
		exporter: exp,
		job:      job,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Job returns the job being converted.
func (c *Converter) Job() Job {
	return c.job
}

// Convert runs one conversion. Failures are returned as *Error.
func (c *Converter) Convert(ctx context.Context) (*Result, error) {
	start := time.Now()
	log := slog.With("model_id", c.job.ModelID, "source", c.job.SourcePath)

	c.enter(StateCheckingDependency)
	if err := c.exporter.Check(ctx); err != nil {
		return nil, c.fail(log, KindDependencyMissing, err)
	}

	if c.downloader != nil && c.src != nil {
		c.enter(StateFetching)
		if _, upToDate, err := c.downloader.Download(ctx, c.src, c.job.SourcePath); err != nil {
			log.Warn("Failed to fetch checkpoint", "error", err)
		} else if upToDate {
			log.Debug("Checkpoint up to date with source")
		}
	}

	c.enter(StateCheckingFile)
	if present, err := c.sourcePresent(); err != nil || !present {
		return nil, c.fail(log, KindSourceNotFound, err)
	}

	c.enter(StateExporting)
	resp, err := c.export(ctx, log)
	if err != nil {
		if errors.Is(err, exporter.ErrDependencyMissing) {
			return nil, c.fail(log, KindDependencyMissing, err)
		}
		return nil, c.fail(log, KindExportFailed, err)
	}

	if strings.TrimSpace(resp.OutputPath) == "" {
		return nil, c.fail(log, KindExportFailed, errors.New("exporter returned an empty output path"))
	}

	result := &Result{
		ModelID:    c.job.ModelID,
		SourcePath: c.job.SourcePath,
		OutputPath: resp.OutputPath,
		Format:     c.job.Format,
		ImageSize:  c.job.ImageSize,
		Metadata:   resp.Metadata,
	}

	if c.verify && strings.EqualFold(c.job.Format, exporter.FormatONNX) {
		c.enter(StateVerifying)
		info, err := onnxinfo.ReadFile(resp.OutputPath)
		if err == nil {
			err = onnxinfo.Verify(info, c.job.ImageSize)
		}
		if err != nil {
			return nil, c.fail(log, KindExportFailed, fmt.Errorf("verify %s: %w", resp.OutputPath, err))
		}
		result.Info = info
		log.Debug("Exported model verified",
			"ir_version", info.IRVersion,
			"opset", info.OpsetVersion,
			"nodes", info.NodeCount,
		)
	}

	result.Duration = time.Since(start)
	c.enter(StateSucceeded)
	log.Info("Conversion succeeded", "output", result.OutputPath, "duration", result.Duration)
	return result, nil
}

// export holds the per-checkpoint lock around the exporter call.
func (c *Converter) export(ctx context.Context, log *slog.Logger) (*exporter.Response, error) {
	lock, err := filelock.ForTarget(c.lockDir, c.job.SourcePath)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(ctx); err != nil {
		return nil, err
	}
	log.Debug("Export lock acquired", "lock", lock.Path())
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn("Failed to release export lock", "error", err)
		}
	}()

	log.Info("Exporting checkpoint", "format", c.job.Format, "imgsz", c.job.ImageSize, "exporter", c.exporter.Provider())

	return c.exporter.Export(ctx, &exporter.Request{
		ModelPath:  c.job.SourcePath,
		Format:     c.job.Format,
		ImageSize:  c.job.ImageSize,
		Parameters: c.job.Parameters,
	})
}

// sourcePresent reports whether the checkpoint is an existing regular file.
func (c *Converter) sourcePresent() (bool, error) {
	if strings.TrimSpace(c.job.SourcePath) == "" {
		return false, errors.New("no checkpoint path configured")
	}

	info, err := os.Stat(c.job.SourcePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s is a directory", c.job.SourcePath)
	}
	return true, nil
}

func (c *Converter) enter(s State) {
	if c.observer != nil {
		c.observer(s)
	}
}

func (c *Converter) fail(log *slog.Logger, kind Kind, err error) error {
	c.enter(StateFailed)
	ce := &Error{Kind: kind, Path: c.job.SourcePath, Err: err}
	log.Error("Conversion failed", "kind", kind.String(), "error", err)
	return ce
}
