package exporter

import "errors"

// Error definitions for the exporter package.
var (
	ErrNotFound          = errors.New("exporter not found in registry")
	ErrAlreadyRegistered = errors.New("exporter is already registered in the registry")
	ErrDependencyMissing = errors.New("export dependency is not installed")
	ErrExportFailed      = errors.New("export failed")
)
