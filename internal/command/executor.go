package command

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

// CommandRunner is the interface for running commands.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader) (stdout, stderr []byte, err error)
	Start(ctx context.Context, name string, args []string, stdin io.Reader) (stdout, stderr io.ReadCloser, wait func() error, err error)
}

// StreamChunk represents a single line of streamed output.
type StreamChunk struct {
	// Data is the chunk content.
	Data []byte

	// Done indicates if this is the final chunk.
	Done bool

	// Error if something went wrong.
	Error error
}

// ExecCommandRunner uses os/exec.
type ExecCommandRunner struct{}

// Run runs a command.
func (ExecCommandRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) (stdout, stderr []byte, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// Start starts a command.
func (ExecCommandRunner) Start(ctx context.Context, name string, args []string, stdin io.Reader) (stdout, stderr io.ReadCloser, wait func() error, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, err
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, nil, err
	}

	return stdoutPipe, stderrPipe, cmd.Wait, nil
}

// Executor runs commands.
type Executor struct {
	runner     CommandRunner
	lookPath   func(string) (string, error)
	binaryPath string
	timeout    time.Duration
}

// NewExecutor creates an executor backed by os/exec. The binary may be a bare
// name resolved through PATH; resolution happens on first use.
func NewExecutor(binaryPath string, timeout time.Duration) *Executor {
	return &Executor{
		binaryPath: binaryPath,
		timeout:    timeout,
		runner:     ExecCommandRunner{},
		lookPath:   exec.LookPath,
	}
}

// NewExecutorWithRunner creates an executor with a custom runner. The binary
// is handed to the runner as is.
func NewExecutorWithRunner(binaryPath string, timeout time.Duration, runner CommandRunner) *Executor {
	return &Executor{
		binaryPath: binaryPath,
		timeout:    timeout,
		runner:     runner,
		lookPath:   func(name string) (string, error) { return name, nil },
	}
}

// Binary returns the configured binary name or path.
func (e *Executor) Binary() string {
	return e.binaryPath
}

// Resolve returns the absolute path of the binary.
func (e *Executor) Resolve() (string, error) {
	path, err := e.lookPath(e.binaryPath)
	if err != nil {
		return "", fmt.Errorf("binary not found: %w", err)
	}
	return path, nil
}

// Execute runs the command and returns output.
func (e *Executor) Execute(ctx context.Context, args []string, stdin io.Reader) (stdout, stderr []byte, err error) {
	bin, err := e.Resolve()
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	return e.runner.Run(ctx, bin, args, stdin)
}

// Stream runs the command and streams output line by line. The last chunk
// has Done set; its Error carries the exit error with stderr appended.
func (e *Executor) Stream(ctx context.Context, args []string, stdin io.Reader) (<-chan StreamChunk, error) {
	bin, err := e.Resolve()
	if err != nil {
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx)

	stdout, stderr, wait, err := e.runner.Start(ctx, bin, args, stdin)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executor: failed to start command: %w", err)
	}

	ch := make(chan StreamChunk, 32)

	go func() {
		defer close(ch)
		defer cancel()

		// Read stderr in background
		stderrBuf := new(bytes.Buffer)
		stderrDone := make(chan struct{})
		go func() {
			if _, err := io.Copy(stderrBuf, stderr); err != nil {
				slog.Error("Failed to read stderr", "error", err)
			}
			close(stderrDone)
		}()

		// Stream stdout
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case <-ctx.Done():
				<-stderrDone
				_ = wait()
				ch <- StreamChunk{Error: ctx.Err(), Done: true}
				return
			case ch <- StreamChunk{Data: append(line, '\n')}:
			}
		}

		if err := scanner.Err(); err != nil {
			// Unblock a child still writing to a full pipe.
			_, _ = io.Copy(io.Discard, stdout)
			<-stderrDone
			_ = wait()
			ch <- StreamChunk{Error: err, Done: true}
			return
		}

		<-stderrDone
		err := wait()

		switch {
		case ctx.Err() != nil:
			ch <- StreamChunk{Error: ctx.Err(), Done: true}
		case err != nil:
			if s := stderrBuf.String(); s != "" {
				ch <- StreamChunk{Error: fmt.Errorf("%w: %s", err, s), Done: true}
			} else {
				ch <- StreamChunk{Error: err, Done: true}
			}
		default:
			ch <- StreamChunk{Done: true}
		}
	}()

	return ch, nil
}

func (e *Executor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}
