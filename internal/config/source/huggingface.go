package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ekisa-team/modelport/internal/command"
	"github.com/ekisa-team/modelport/internal/config"
	"github.com/ekisa-team/modelport/internal/xfs"
)

const (
	defaultRetryDelay = 2 * time.Second
	defaultMaxRetries = 3
	defaultTimeout    = 5 * time.Minute
	defaultBinary     = "hf"
	markerFilename    = ".modelport-downloaded"
)

// HuggingFaceDownloader downloads a checkpoint with the Hugging Face CLI.
type HuggingFaceDownloader struct {
	executor   *command.Executor
	retryDelay time.Duration
	maxRetries int
}

// HuggingFaceOption configures a HuggingFaceDownloader.
type HuggingFaceOption func(*hfOptions)

type hfOptions struct {
	runner     command.CommandRunner
	binary     string
	retryDelay time.Duration
}

// WithRunner runs the CLI through a custom command runner.
func WithRunner(r command.CommandRunner) HuggingFaceOption {
	return func(o *hfOptions) { o.runner = r }
}

// WithBinary overrides the hf CLI binary.
func WithBinary(bin string) HuggingFaceOption {
	return func(o *hfOptions) { o.binary = bin }
}

// WithRetryDelay overrides the delay between attempts.
func WithRetryDelay(d time.Duration) HuggingFaceOption {
	return func(o *hfOptions) { o.retryDelay = d }
}

// NewHuggingFaceDownloader creates a downloader.
func NewHuggingFaceDownloader(opts ...HuggingFaceOption) *HuggingFaceDownloader {
	o := &hfOptions{binary: defaultBinary, retryDelay: defaultRetryDelay}
	for _, opt := range opts {
		opt(o)
	}

	executor := command.NewExecutor(o.binary, defaultTimeout)
	if o.runner != nil {
		executor = command.NewExecutorWithRunner(o.binary, defaultTimeout, o.runner)
	}

	return &HuggingFaceDownloader{
		executor:   executor,
		retryDelay: o.retryDelay,
		maxRetries: defaultMaxRetries,
	}
}

// Download downloads the checkpoint from a Hugging Face repository into the
// directory of dest. Without include patterns only dest's file name is fetched.
func (d *HuggingFaceDownloader) Download(ctx context.Context, src config.ModelSource, dest string) (string, bool, error) {
	hfSource, ok := src.(config.HuggingFaceSource)
	if !ok {
		return "", false, fmt.Errorf("invalid source type: %T", src)
	}

	repo := strings.TrimSpace(hfSource.Repo)
	if repo == "" {
		return "", false, fmt.Errorf("invalid repo name: %q", hfSource.Repo)
	}

	targetDir := filepath.Dir(dest)
	markerPath := filepath.Join(targetDir, markerFilename)
	markerContent := d.markerContent(repo, hfSource.Revision, filepath.Base(dest))

	if exists, _ := xfs.IsRegularFile(dest); exists && !hfSource.ForceDownload {
		if !d.shouldRedownload(markerPath, markerContent) {
			slog.Info("Checkpoint already downloaded and up-to-date (marker match), skipping", "repo", repo, "path", dest)
			return dest, true, nil
		}
	}

	if err := EnsureModelsDirectory(targetDir); err != nil {
		return "", false, fmt.Errorf("failed to create directory: %w", err)
	}

	args := d.buildArgs(hfSource, repo, dest)

	var lastErr error
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Info("Retrying download", "repo", repo, "attempt", attempt+1, "last_error", lastErr)
			select {
			case <-ctx.Done():
				return "", false, fmt.Errorf("download canceled: %w", ctx.Err())
			case <-time.After(d.retryDelay):
			}
		} else {
			slog.Info("Downloading checkpoint", "repo", repo, "path", dest)
		}

		stdout, stderr, err := d.executor.Execute(ctx, args, nil)
		if err == nil {
			if err := os.WriteFile(markerPath, []byte(markerContent), 0o644); err != nil {
				slog.Warn("Failed to write download marker", "path", markerPath, "error", err)
			} else {
				slog.Debug("Download marker updated", "path", markerPath)
			}

			slog.Info("Checkpoint downloaded successfully", "repo", repo, "path", dest, "attempt", attempt+1)
			return dest, false, nil
		}

		lastErr = err
		slog.Error("Failed to download checkpoint", "repo", repo, "path", dest, "attempt", attempt+1, "error", err,
			"output", string(stdout)+string(stderr))

		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return "", false, fmt.Errorf("download canceled: %w", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("Download timed out", "repo", repo, "path", dest, "attempt", attempt+1)
		}
	}

	return "", false, fmt.Errorf("download %s failed after %d attempts: %w", repo, d.maxRetries, lastErr)
}

func (d *HuggingFaceDownloader) buildArgs(src config.HuggingFaceSource, repo, dest string) []string {
	args := []string{"download", repo}

	if len(src.Include) == 0 {
		args = append(args, filepath.Base(dest))
	}

	args = append(args, "--local-dir", filepath.Dir(dest))

	if src.Revision != "" {
		args = append(args, "--revision", src.Revision)
	}
	if src.RepoType != "" {
		args = append(args, "--repo-type", src.RepoType)
	}
	for _, inc := range src.Include {
		args = append(args, "--include", inc)
	}
	for _, exc := range src.Exclude {
		args = append(args, "--exclude", exc)
	}
	if src.ForceDownload {
		args = append(args, "--force-download")
	}
	if src.Token != "" {
		args = append(args, "--token", src.Token)
	}
	if src.MaxWorkers > 0 {
		args = append(args, "--max-workers", fmt.Sprintf("%d", src.MaxWorkers))
	}

	return args
}

// markerContent generates the expected content of the marker file.
// A mismatch means the source changed and the checkpoint is fetched again.
func (d *HuggingFaceDownloader) markerContent(repo, revision, file string) string {
	return fmt.Sprintf("repo: %s\nrevision: %s\nfile: %s\n", repo, revision, file)
}

// shouldRedownload checks if the checkpoint should be redownloaded by comparing marker content.
func (d *HuggingFaceDownloader) shouldRedownload(markerPath, expectedContent string) bool {
	content, err := os.ReadFile(markerPath)
	if err != nil {
		slog.Debug("Marker file missing or unreadable", "path", markerPath, "error", err)
		return true
	}

	if string(content) != expectedContent {
		slog.Info("Source config changed (marker mismatch), will redownload",
			"marker_path", markerPath,
			"expected_snippet", expectedContent,
			"actual_snippet", string(content))
		return true
	}

	return false
}
