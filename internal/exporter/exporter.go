package exporter

import (
	"context"
	"time"
)

// Provider is a string identifier for an export provider.
type Provider string

const (
	ProviderUltralytics Provider = "ultralytics"
)

// Format identifiers understood by exporters.
const (
	FormatONNX = "onnx"
)

// DefaultImageSize is the square input resolution used when none is configured.
const DefaultImageSize = 640

// Exporter defines the interface for libraries that convert a checkpoint
// into another serialization format.
type Exporter interface {
	// Provider returns the exporter identifier.
	Provider() Provider

	// Check verifies that the underlying library is installed and usable.
	// It returns an error wrapping ErrDependencyMissing when it is not.
	Check(ctx context.Context) error

	// Export converts the checkpoint and returns where the library wrote it.
	Export(ctx context.Context, req *Request) (*Response, error)

	// Close cleans up resources.
	Close() error
}

// Request encapsulates all parameters for an export call.
type Request struct {
	// ModelPath is the path to the source checkpoint.
	ModelPath string

	// Format is the target format identifier, e.g. "onnx".
	Format string

	// ImageSize is the square input resolution baked into the export.
	ImageSize int

	// Parameters contains exporter-specific options.
	Parameters map[string]any
}

// Response contains the result of an export.
type Response struct {
	// OutputPath is the path reported by the library. Its naming convention
	// belongs to the library and must be treated as opaque.
	OutputPath string

	// Metadata contains exporter-specific information.
	Metadata *ResponseMetadata
}

// ResponseMetadata contains metadata about the export.
type ResponseMetadata struct {
	Provider        Provider       `json:"provider"`
	Model           string         `json:"model"`
	Format          string         `json:"format"`
	LibraryVersion  string         `json:"library_version,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	DurationSeconds float64        `json:"duration_seconds"`
	BackendSpecific map[string]any `json:"backend_specific,omitempty"`
}
