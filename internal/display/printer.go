package display

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Options configure a Printer
type Options struct {
	Out    io.Writer
	Err    io.Writer
	Color  bool
	Quiet  bool
	Format OutputFormat
}

// Printer writes user-facing messages. Results go to Out, status and
// diagnostics to Err, so structured output stays machine-readable.
type Printer struct {
	out    io.Writer
	err    io.Writer
	colors *ColorSystem
	theme  ColorTheme
	quiet  bool
	format OutputFormat
}

// NewPrinter creates a Printer; nil writers default to stdout and stderr
func NewPrinter(opts Options) *Printer {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	if opts.Format == "" {
		opts.Format = FormatTable
	}
	return &Printer{
		out:    opts.Out,
		err:    opts.Err,
		colors: NewColorSystem(opts.Err, opts.Color),
		theme:  DefaultTheme(),
		quiet:  opts.Quiet,
		format: opts.Format,
	}
}

// Out is the result stream
func (p *Printer) Out() io.Writer { return p.out }

// Format is the selected output format
func (p *Printer) Format() OutputFormat { return p.format }

// Structured reports whether results should be encoded rather than drawn
func (p *Printer) Structured() bool { return p.format != FormatTable }

// Colors exposes the color system used for status messages
func (p *Printer) Colors() *ColorSystem { return p.colors }

func (p *Printer) status(icon string, clr Color, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(p.err, "%s %s\n", p.colors.Colorize(icon, clr), msg)
}

// Success reports a completed step
func (p *Printer) Success(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	p.status("[ok]", p.theme.Success, format, args...)
}

// Info reports progress
func (p *Printer) Info(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	p.status("[..]", p.theme.Info, format, args...)
}

// Warning is shown even in quiet mode
func (p *Printer) Warning(format string, args ...interface{}) {
	p.status("[!!]", p.theme.Warning, format, args...)
}

// Error is shown even in quiet mode
func (p *Printer) Error(format string, args ...interface{}) {
	p.status("[xx]", p.theme.Error, format, args...)
}

// Hints prints indented suggestions under an error
func (p *Printer) Hints(hints []string) {
	if len(hints) == 0 {
		return
	}
	fmt.Fprintln(p.err, p.colors.Colorize("Hints:", ColorBold))
	for _, h := range hints {
		fmt.Fprintf(p.err, "  - %s\n", h)
	}
}

// Title prints a section heading on the result stream
func (p *Printer) Title(title string) {
	fmt.Fprintln(p.out, p.colors.Colorize(title, ColorBold))
	fmt.Fprintln(p.out, strings.Repeat("=", len(title)))
}

// KeyValues prints aligned "key: value" lines on the result stream
func (p *Printer) KeyValues(pairs [][2]string) {
	width := 0
	for _, kv := range pairs {
		if len(kv[0]) > width {
			width = len(kv[0])
		}
	}
	for _, kv := range pairs {
		fmt.Fprintf(p.out, "%-*s  %s\n", width+1, kv[0]+":", kv[1])
	}
}

// Colorize colors text for the result stream
func (p *Printer) Colorize(text string, clr Color) string {
	return p.colors.Colorize(text, clr)
}

// Emit encodes v in the structured format
func (p *Printer) Emit(v interface{}) error {
	return Encode(p.out, p.format, v)
}

// Table renders t on the result stream
func (p *Printer) Table(t *Table) error {
	return t.Render(p.out)
}

// Spinner returns a spinner on the status stream; it only animates on a terminal
func (p *Printer) Spinner() *Spinner {
	animate := false
	if f, ok := p.err.(*os.File); ok && !p.quiet {
		animate = isatty.IsTerminal(f.Fd())
	}
	return NewSpinner(p.err, p.colors, animate)
}

// Interactive reports whether in is a terminal a person can answer on
func Interactive(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
