package source

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ekisa-team/modelport/internal/config"
)

// ErrUnsupportedSource is returned for source types without a downloader.
var ErrUnsupportedSource = errors.New("unsupported model source")

// Downloader fetches a checkpoint from a remote source.
type Downloader interface {
	// Download places the checkpoint at dest. It returns the path written and
	// whether the download was skipped because dest was already up to date.
	Download(ctx context.Context, src config.ModelSource, dest string) (string, bool, error)
}

// GetDownloader returns a downloader for the given source type.
func GetDownloader(t config.SourceType, opts ...HuggingFaceOption) (Downloader, error) {
	switch t {
	case config.SourceTypeHuggingFace:
		return NewHuggingFaceDownloader(opts...), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, t)
	}
}

// EnsureModelsDirectory creates the models directory if needed.
func EnsureModelsDirectory(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(path, 0o755)
}
