package main

// Process exit codes.
const (
	ExitSuccess     = 0 // Conversion succeeded
	ExitFailure     = 1 // Dependency missing, checkpoint missing or export failed
	ExitConfigError = 2 // Invalid flags or configuration
)
