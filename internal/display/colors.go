// Package display renders command output for terminals and scripts.
package display

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color names a foreground color
type Color string

const (
	ColorReset   Color = "reset"
	ColorRed     Color = "red"
	ColorGreen   Color = "green"
	ColorYellow  Color = "yellow"
	ColorBlue    Color = "blue"
	ColorCyan    Color = "cyan"
	ColorWhite   Color = "white"
	ColorBold    Color = "bold"
	ColorFaint   Color = "faint"
	ColorHiRed   Color = "hi-red"
	ColorHiGreen Color = "hi-green"
)

// ColorTheme maps message roles to colors
type ColorTheme struct {
	Primary Color
	Success Color
	Warning Color
	Error   Color
	Info    Color
	Muted   Color
}

// DefaultTheme suits dark and light terminals alike
func DefaultTheme() ColorTheme {
	return ColorTheme{
		Primary: ColorBlue,
		Success: ColorGreen,
		Warning: ColorYellow,
		Error:   ColorRed,
		Info:    ColorCyan,
		Muted:   ColorFaint,
	}
}

// ColorSystem applies colors when the output supports them
type ColorSystem struct {
	enabled bool
	colors  map[Color]*color.Color
}

// NewColorSystem creates a ColorSystem for out. Colors are used only when
// wanted is true, out is a terminal and the environment allows it.
func NewColorSystem(out io.Writer, wanted bool) *ColorSystem {
	cs := &ColorSystem{
		enabled: wanted && supportsColor(out),
		colors: map[Color]*color.Color{
			ColorReset:   color.New(color.Reset),
			ColorRed:     color.New(color.FgRed),
			ColorGreen:   color.New(color.FgGreen),
			ColorYellow:  color.New(color.FgYellow),
			ColorBlue:    color.New(color.FgBlue),
			ColorCyan:    color.New(color.FgCyan),
			ColorWhite:   color.New(color.FgWhite),
			ColorBold:    color.New(color.Bold),
			ColorFaint:   color.New(color.Faint),
			ColorHiRed:   color.New(color.FgHiRed, color.Bold),
			ColorHiGreen: color.New(color.FgHiGreen, color.Bold),
		},
	}
	for _, c := range cs.colors {
		if cs.enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return cs
}

// supportsColor checks the terminal and the NO_COLOR / TERM conventions
func supportsColor(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return termenv.NewOutput(f).Profile != termenv.Ascii
}

// Enabled reports whether colors are applied
func (cs *ColorSystem) Enabled() bool {
	return cs != nil && cs.enabled
}

// Colorize wraps text in the escape codes for clr
func (cs *ColorSystem) Colorize(text string, clr Color) string {
	if !cs.Enabled() {
		return text
	}
	if c, ok := cs.colors[clr]; ok {
		return c.Sprint(text)
	}
	return text
}

// Sprintf formats and colors
func (cs *ColorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}
