package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/ekisa-team/modelport/internal/xfs"
)

// SourceType represents the type of checkpoint source.
type SourceType string

const (
	// SourceTypeHuggingFace represents a Hugging Face model repository source.
	SourceTypeHuggingFace SourceType = "huggingface"
)

// ErrModelNotFound is returned when a model id is not present in the config.
var ErrModelNotFound = errors.New("model not found in config")

// Config holds the main configuration for the application.
type Config struct {
	Version      string                 `json:"version"                 yaml:"version"`
	Python       string                 `json:"python,omitempty"        yaml:"python,omitempty"`
	DefaultModel string                 `json:"default_model,omitempty" yaml:"default_model,omitempty"`
	Storage      StorageConfig          `json:"storage,omitempty"       yaml:"storage,omitempty"`
	Export       ExportConfig           `json:"export,omitempty"        yaml:"export,omitempty"`
	Logging      LoggingConfig          `json:"logging,omitempty"       yaml:"logging,omitempty"`
	Models       map[string]ModelConfig `json:"models"                  yaml:"models"`
}

// StorageConfig holds the location of checkpoints.
type StorageConfig struct {
	// ModelsDir is the base directory for relative model paths.
	ModelsDir string `json:"models_dir,omitempty" yaml:"models_dir,omitempty"`
}

// ExportConfig holds settings shared by every export.
type ExportConfig struct {
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	Verify         *bool  `json:"verify,omitempty"          yaml:"verify,omitempty"`
	LockDir        string `json:"lock_dir,omitempty"        yaml:"lock_dir,omitempty"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"   yaml:"level,omitempty"`
	ToFile bool   `json:"to_file,omitempty" yaml:"to_file,omitempty"`
	File   string `json:"file,omitempty"    yaml:"file,omitempty"`
}

// ModelConfig holds configuration for a specific checkpoint.
type ModelConfig struct {
	Path       string         `json:"path"                 yaml:"path"`
	Exporter   string         `json:"exporter,omitempty"   yaml:"exporter,omitempty"`
	Format     string         `json:"format,omitempty"     yaml:"format,omitempty"`
	ImageSize  int            `json:"image_size,omitempty" yaml:"image_size,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Source     SourceConfig   `json:"source,omitempty"     yaml:"source,omitempty"`
}

// SourceConfig wraps optional sources (only one should be set).
type SourceConfig struct {
	HuggingFace *HuggingFaceSource `json:"huggingface,omitempty" yaml:"huggingface,omitempty"`
}

// -------------------------
// Source definitions
// -------------------------

// ModelSource represents a remote source for a checkpoint.
type ModelSource interface {
	Type() SourceType
}

// HuggingFaceSource represents a Hugging Face model repository source.
type HuggingFaceSource struct {
	Repo          string   `json:"repo"                     yaml:"repo"`
	Revision      string   `json:"revision,omitempty"       yaml:"revision,omitempty"`
	RepoType      string   `json:"repo_type,omitempty"      yaml:"repo_type,omitempty"`
	Token         string   `json:"token,omitempty"          yaml:"token,omitempty"`
	Include       []string `json:"include,omitempty"        yaml:"include,omitempty"`
	Exclude       []string `json:"exclude,omitempty"        yaml:"exclude,omitempty"`
	MaxWorkers    int      `json:"max_workers,omitempty"    yaml:"max_workers,omitempty"`
	ForceDownload bool     `json:"force_download,omitempty" yaml:"force_download,omitempty"`
}

// Type returns the Hugging Face source type.
func (h HuggingFaceSource) Type() SourceType {
	return SourceTypeHuggingFace
}

// GetSource returns the active source for the model, or nil when the
// checkpoint is expected to be on disk already.
func (m *ModelConfig) GetSource() ModelSource {
	if m.Source.HuggingFace != nil {
		return *m.Source.HuggingFace
	}
	return nil
}

// SetHuggingFaceSource sets the Hugging Face source.
func (m *ModelConfig) SetHuggingFaceSource(source HuggingFaceSource) {
	m.Source.HuggingFace = &source
}

// Model returns the named model, or the default model when id is empty.
func (c *Config) Model(id string) (string, ModelConfig, error) {
	if id == "" {
		id = c.DefaultModel
	}
	if id == "" && len(c.Models) == 1 {
		for only := range c.Models {
			id = only
		}
	}

	m, ok := c.Models[id]
	if !ok {
		return id, ModelConfig{}, fmt.Errorf("%w: %q (available: %v)", ErrModelNotFound, id, c.ModelIDs())
	}
	return id, m, nil
}

// ModelIDs returns the configured model ids in sorted order.
func (c *Config) ModelIDs() []string {
	ids := make([]string, 0, len(c.Models))
	for id := range c.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResolvePath resolves a model path. Absolute paths are kept; relative ones
// are joined to baseDir after tilde expansion.
func ResolvePath(path, baseDir string) string {
	path = xfs.ExpandTilde(path)
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(xfs.ExpandTilde(baseDir), path)
}

// Timeout returns the export timeout.
func (e ExportConfig) Timeout() time.Duration {
	if e.TimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// VerifyEnabled reports whether exported ONNX files are verified. Off unless
// set.
func (e ExportConfig) VerifyEnabled() bool {
	return e.Verify != nil && *e.Verify
}
