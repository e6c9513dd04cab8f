// Package console prints human-readable conversion progress and results.
package console

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/ekisa-team/modelport/internal/converter"
)

// Printer writes progress and result lines for an operator.
type Printer struct {
	w        io.Writer
	mu       sync.Mutex
	ok       *color.Color
	fail     *color.Color
	dim      *color.Color
	hint     string
	provider string
}

// New returns a printer writing to w. Colors are used only for a terminal
// stdout/stderr and when NO_COLOR is unset.
func New(w io.Writer, provider, installHint string) *Printer {
	useColor := (w == os.Stdout || w == os.Stderr) && !color.NoColor

	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}

	return &Printer{
		w:        w,
		ok:       mk(color.FgGreen),
		fail:     mk(color.FgRed, color.Bold),
		dim:      mk(color.FgHiBlack),
		hint:     installHint,
		provider: provider,
	}
}

// Observer returns a converter state observer that prints progress.
func (p *Printer) Observer(job converter.Job) func(converter.State) {
	return func(s converter.State) {
		switch s {
		case converter.StateFetching:
			p.println("Fetching checkpoint: %s", job.SourcePath)
		case converter.StateExporting:
			p.println("Converting PyTorch model: %s", job.SourcePath)
			p.println("This may take a few minutes...")
		case converter.StateVerifying:
			p.printDim("Verifying exported model...")
		}
	}
}

// Success prints the result of a successful conversion.
func (p *Printer) Success(res *converter.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w)
	p.ok.Fprintln(p.w, "✓ Conversion successful!")
	p.ok.Fprintf(p.w, "✓ %s model saved to: %s\n", strings.ToUpper(res.Format), res.OutputPath)

	if info := res.Info; info != nil {
		for _, in := range info.Inputs {
			p.dim.Fprintf(p.w, "  input  %s %s\n", in.Name, in.Shape())
		}
		for _, out := range info.Outputs {
			p.dim.Fprintf(p.w, "  output %s %s\n", out.Name, out.Shape())
		}
		p.dim.Fprintf(p.w, "  opset %d, %d nodes, producer %s %s\n",
			info.OpsetVersion, info.NodeCount, info.ProducerName, info.ProducerVersion)
	}

	fmt.Fprintln(p.w)
	fmt.Fprintf(p.w, "The application can now use the %s model for real-time video analysis.\n", strings.ToUpper(res.Format))
}

// Failure prints a conversion failure.
func (p *Printer) Failure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ce *converter.Error
	if !errors.As(err, &ce) {
		p.fail.Fprintf(p.w, "ERROR: %v\n", err)
		return
	}

	switch ce.Kind {
	case converter.KindDependencyMissing:
		p.fail.Fprintf(p.w, "ERROR: %s not installed\n", p.provider)
		if p.hint != "" {
			fmt.Fprintf(p.w, "Please run: %s\n", p.hint)
		}
		if ce.Err != nil {
			p.dim.Fprintf(p.w, "(%s)\n", ce.Reason())
		}
	case converter.KindSourceNotFound:
		p.fail.Fprintf(p.w, "ERROR: Model file not found at %s\n", ce.Path)
	default:
		fmt.Fprintln(p.w)
		p.fail.Fprintf(p.w, "ERROR during conversion: %s\n", ce.Reason())
	}
}

// Errorf prints a generic error line.
func (p *Printer) Errorf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail.Fprintf(p.w, "ERROR: "+format+"\n", args...)
}

func (p *Printer) println(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *Printer) printDim(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dim.Fprintf(p.w, format+"\n", args...)
}
