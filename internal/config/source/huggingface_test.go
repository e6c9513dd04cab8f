package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/modelport/internal/config"
)

// fakeHF records invocations and writes the requested file on success.
type fakeHF struct {
	dest     string
	failures int
	calls    [][]string
}

func (f *fakeHF) Run(_ context.Context, _ string, args []string, _ io.Reader) ([]byte, []byte, error) {
	f.calls = append(f.calls, args)
	if len(f.calls) <= f.failures {
		return nil, []byte("503 Service Unavailable"), errors.New("exit status 1")
	}
	return []byte("done"), nil, os.WriteFile(f.dest, []byte("weights"), 0o644)
}

func (f *fakeHF) Start(context.Context, string, []string, io.Reader) (io.ReadCloser, io.ReadCloser, func() error, error) {
	return nil, nil, nil, errors.New("not used")
}

func TestHuggingFaceDownloader_Download(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "Models", "yolo26n.pt")
	fake := &fakeHF{dest: dest}
	d := NewHuggingFaceDownloader(WithRunner(fake), WithRetryDelay(0))

	src := config.HuggingFaceSource{Repo: "Ultralytics/YOLO26", Revision: "main"}
	path, skipped, err := d.Download(context.Background(), src, dest)
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.Equal(t, dest, path)

	require.Len(t, fake.calls, 1)
	assert.Equal(t, []string{
		"download", "Ultralytics/YOLO26", "yolo26n.pt",
		"--local-dir", filepath.Dir(dest),
		"--revision", "main",
	}, fake.calls[0])

	// marker matches and the file exists: skip
	path, skipped, err = d.Download(context.Background(), src, dest)
	require.NoError(t, err)
	assert.True(t, skipped)
	assert.Equal(t, dest, path)
	assert.Len(t, fake.calls, 1)

	// revision changed: fetch again
	src.Revision = "v2"
	_, skipped, err = d.Download(context.Background(), src, dest)
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.Len(t, fake.calls, 2)
}

func TestHuggingFaceDownloader_Retries(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "yolo26n.pt")
	fake := &fakeHF{dest: dest, failures: 2}
	d := NewHuggingFaceDownloader(WithRunner(fake), WithRetryDelay(0))

	_, _, err := d.Download(context.Background(), config.HuggingFaceSource{Repo: "org/repo"}, dest)
	require.NoError(t, err)
	assert.Len(t, fake.calls, 3)
}

func TestHuggingFaceDownloader_GivesUp(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "yolo26n.pt")
	fake := &fakeHF{dest: dest, failures: 10}
	d := NewHuggingFaceDownloader(WithRunner(fake), WithRetryDelay(0))

	_, _, err := d.Download(context.Background(), config.HuggingFaceSource{Repo: "org/repo"}, dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Len(t, fake.calls, 3)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), markerFilename))
}

func TestHuggingFaceDownloader_IncludePatterns(t *testing.T) {
	d := NewHuggingFaceDownloader(WithRunner(&fakeHF{}))

	args := d.buildArgs(config.HuggingFaceSource{
		Include:       []string{"*.pt"},
		Exclude:       []string{"*.onnx"},
		RepoType:      "model",
		Token:         "hf_x",
		MaxWorkers:    4,
		ForceDownload: true,
	}, "org/repo", "/m/yolo.pt")

	assert.Equal(t, []string{
		"download", "org/repo",
		"--local-dir", "/m",
		"--repo-type", "model",
		"--include", "*.pt",
		"--exclude", "*.onnx",
		"--force-download",
		"--token", "hf_x",
		"--max-workers", "4",
	}, args)
}

func TestHuggingFaceDownloader_InvalidSource(t *testing.T) {
	d := NewHuggingFaceDownloader(WithRunner(&fakeHF{}))

	_, _, err := d.Download(context.Background(), config.HuggingFaceSource{Repo: "  "}, "/m/x.pt")
	assert.Error(t, err)
}

func TestGetDownloader(t *testing.T) {
	d, err := GetDownloader(config.SourceTypeHuggingFace)
	require.NoError(t, err)
	assert.IsType(t, &HuggingFaceDownloader{}, d)

	_, err = GetDownloader("s3")
	assert.ErrorIs(t, err, ErrUnsupportedSource)
}

func TestEnsureModelsDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureModelsDirectory(dir))
	assert.DirExists(t, dir)
	require.NoError(t, EnsureModelsDirectory(dir))

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.Error(t, EnsureModelsDirectory(file))
}
