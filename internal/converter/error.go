package converter

import (
	"errors"
	"fmt"
)

// Kind classifies a failed conversion.
type Kind int

const (
	// KindDependencyMissing means the export library is not installed.
	KindDependencyMissing Kind = iota + 1
	// KindSourceNotFound means the checkpoint does not exist.
	KindSourceNotFound
	// KindExportFailed means the export library raised during export.
	KindExportFailed
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrDependencyMissing = errors.New("dependency missing")
	ErrSourceNotFound    = errors.New("source not found")
	ErrExportFailed      = errors.New("export failed")
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDependencyMissing:
		return "DependencyMissing"
	case KindSourceNotFound:
		return "SourceNotFound"
	case KindExportFailed:
		return "ExportFailed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindDependencyMissing:
		return ErrDependencyMissing
	case KindSourceNotFound:
		return ErrSourceNotFound
	case KindExportFailed:
		return ErrExportFailed
	default:
		return nil
	}
}

// Error is a terminal conversion failure.
type Error struct {
	Kind Kind
	// Path is the checkpoint path the conversion was attempted for.
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindSourceNotFound:
		return fmt.Sprintf("model file not found at %s", e.Path)
	case KindDependencyMissing, KindExportFailed:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind.sentinel(), e.Err)
		}
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Reason returns the cause's message without the kind prefix.
func (e *Error) Reason() string {
	if e.Err == nil {
		return e.Error()
	}
	return e.Err.Error()
}
