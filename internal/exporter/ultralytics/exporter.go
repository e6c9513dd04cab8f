// Package ultralytics exports YOLO checkpoints through the Ultralytics Python
// package, driven as a subprocess of the configured interpreter.
package ultralytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ekisa-team/modelport/internal/command"
	"github.com/ekisa-team/modelport/internal/exporter"
	"github.com/ekisa-team/modelport/internal/mapsafe"
)

const (
	// DefaultPython is the interpreter used when none is configured.
	DefaultPython = "python3"

	// DefaultTimeout bounds a single export.
	DefaultTimeout = 30 * time.Minute

	checkTimeout = 2 * time.Minute
)

// InstallHint tells the operator how to install the library.
const InstallHint = "pip install ultralytics"

// Exporter implements exporter.Exporter for Ultralytics YOLO checkpoints.
type Exporter struct {
	executor *command.Executor
	checker  *command.Executor
	version  string
}

// New creates an exporter that runs the given Python interpreter.
func New(pythonBin string, timeout time.Duration) *Exporter {
	pythonBin, timeout = defaults(pythonBin, timeout)
	return &Exporter{
		executor: command.NewExecutor(pythonBin, timeout),
		checker:  command.NewExecutor(pythonBin, checkTimeout),
	}
}

// NewWithRunner creates an exporter with a custom command runner.
func NewWithRunner(pythonBin string, timeout time.Duration, runner command.CommandRunner) *Exporter {
	pythonBin, timeout = defaults(pythonBin, timeout)
	return &Exporter{
		executor: command.NewExecutorWithRunner(pythonBin, timeout, runner),
		checker:  command.NewExecutorWithRunner(pythonBin, checkTimeout, runner),
	}
}

func defaults(pythonBin string, timeout time.Duration) (string, time.Duration) {
	if strings.TrimSpace(pythonBin) == "" {
		pythonBin = DefaultPython
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return pythonBin, timeout
}

// Provider returns the exporter provider.
func (e *Exporter) Provider() exporter.Provider {
	return exporter.ProviderUltralytics
}

// Version returns the library version seen by the last successful Check.
func (e *Exporter) Version() string {
	return e.version
}

// Check verifies that the interpreter exists and can import ultralytics.
func (e *Exporter) Check(ctx context.Context) error {
	bin, err := e.checker.Resolve()
	if err != nil {
		return fmt.Errorf("%w: python interpreter %q: %v", exporter.ErrDependencyMissing, e.checker.Binary(), err)
	}

	stdout, stderr, err := e.checker.Execute(ctx, []string{"-c", checkScript}, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		slog.Debug("ultralytics import check failed", "python", bin, "error", err, "stderr", string(stderr))
		return fmt.Errorf("%w: ultralytics is not importable by %s", exporter.ErrDependencyMissing, bin)
	}

	e.version = strings.TrimSpace(string(stdout))
	slog.Debug("ultralytics available", "python", bin, "version", e.version)
	return nil
}

// Export runs YOLO(path).export(format, imgsz, **kwargs) and returns the path
// reported by the library.
func (e *Exporter) Export(ctx context.Context, req *exporter.Request) (*exporter.Response, error) {
	if req == nil || strings.TrimSpace(req.ModelPath) == "" {
		return nil, fmt.Errorf("%w: empty model path", exporter.ErrExportFailed)
	}

	format := req.Format
	if format == "" {
		format = exporter.FormatONNX
	}
	imgsz := req.ImageSize
	if imgsz <= 0 {
		imgsz = exporter.DefaultImageSize
	}

	kwargs, err := json.Marshal(buildKwargs(req.Parameters))
	if err != nil {
		return nil, fmt.Errorf("%w: encode parameters: %v", exporter.ErrExportFailed, err)
	}

	args := []string{"-c", exportScript, req.ModelPath, format, strconv.Itoa(imgsz), string(kwargs)}

	start := time.Now()
	ch, err := e.executor.Stream(ctx, args, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", exporter.ErrExportFailed, err)
	}

	var (
		outputPath string
		reported   bool
		failure    *driverError
		parseErr   error
		exitErr    error
	)

	for chunk := range ch {
		if chunk.Done {
			exitErr = chunk.Error
			continue
		}

		line := strings.TrimRight(string(chunk.Data), "\r\n")
		switch {
		case strings.HasPrefix(line, resultMarker):
			var res driverResult
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, resultMarker)), &res); err != nil {
				parseErr = err
				continue
			}
			outputPath, reported = res.ExportPath, true
		case strings.HasPrefix(line, errorMarker):
			var de driverError
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, errorMarker)), &de); err != nil {
				de = driverError{Kind: "export", Message: strings.TrimPrefix(line, errorMarker)}
			}
			failure = &de
		default:
			slog.Debug("ultralytics", "line", line)
		}
	}

	if parseErr != nil && !reported && failure == nil {
		return nil, fmt.Errorf("%w: malformed result line: %v", exporter.ErrExportFailed, parseErr)
	}

	if failure != nil {
		if failure.Kind == "dependency" {
			return nil, fmt.Errorf("%w: %s", exporter.ErrDependencyMissing, failure.Message)
		}
		return nil, fmt.Errorf("%w: %s", exporter.ErrExportFailed, failure.Message)
	}

	if exitErr != nil {
		if errors.Is(exitErr, context.Canceled) || errors.Is(exitErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", exporter.ErrExportFailed, exitErr)
		}
		return nil, fmt.Errorf("%w: %s", exporter.ErrExportFailed, lastLine(exitErr.Error()))
	}

	if !reported {
		return nil, fmt.Errorf("%w: library did not report an output path", exporter.ErrExportFailed)
	}

	return &exporter.Response{
		OutputPath: outputPath,
		Metadata: &exporter.ResponseMetadata{
			Provider:        e.Provider(),
			Model:           req.ModelPath,
			Format:          format,
			LibraryVersion:  e.version,
			Timestamp:       time.Now(),
			DurationSeconds: time.Since(start).Seconds(),
			BackendSpecific: map[string]any{
				"python": e.executor.Binary(),
				"imgsz":  imgsz,
				"kwargs": string(kwargs),
			},
		},
	}, nil
}

// Close cleans up resources. The exporter holds no long-lived process.
func (e *Exporter) Close() error {
	return nil
}

type driverResult struct {
	ExportPath string `json:"export_path"`
}

type driverError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// boolParams are YOLO.export switches passed through when set to a boolean.
var boolParams = []string{"half", "dynamic", "simplify", "nms", "int8", "optimize"}

// buildKwargs maps supported parameters onto YOLO.export keyword arguments.
// Known parameters with a value of the wrong type are dropped with a warning.
func buildKwargs(p map[string]any) map[string]any {
	kwargs := make(map[string]any)
	if p == nil {
		return kwargs
	}

	for _, key := range boolParams {
		if v, ok := p[key].(bool); ok {
			kwargs[key] = v
		}
	}

	// Opset version
	if v := mapsafe.Get(p, "opset", 0); v > 0 {
		kwargs["opset"] = v
	}

	// Batch size
	if v := mapsafe.Get(p, "batch", 0); v > 0 {
		kwargs["batch"] = v
	}

	// Device, e.g. "cpu", "0" or a bare GPU index
	if v := mapsafe.Get(p, "device", ""); v != "" {
		kwargs["device"] = v
	} else if n := mapsafe.Get(p, "device", -1); n >= 0 {
		kwargs["device"] = strconv.Itoa(n)
	}

	for key, v := range p {
		if _, ok := kwargs[key]; ok {
			continue
		}
		if isKnownParam(key) {
			slog.Warn("Ignoring export parameter with invalid value", "key", key, "value", v)
			continue
		}
		slog.Debug("Ignoring unsupported export parameter", "key", key)
	}

	return kwargs
}

func isKnownParam(key string) bool {
	switch key {
	case "opset", "batch", "device":
		return true
	}
	return slices.Contains(boolParams, key)
}

// lastLine returns the last non-empty line of s; for a Python traceback that
// is the exception line.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return s
}
