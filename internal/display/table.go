package display

import (
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment of a table column
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// Table is a bordered text table. The widest column is truncated when the
// table would not fit MaxWidth.
type Table struct {
	headers  []string
	rows     [][]string
	align    map[int]Alignment
	MaxWidth int
}

// NewTable creates a table sized to the terminal, if there is one
func NewTable(headers ...string) *Table {
	return &Table{
		headers:  headers,
		align:    map[int]Alignment{},
		MaxWidth: terminalWidth(),
	}
}

// AddRow appends a row; missing cells are blank
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

// SetAlignment sets the alignment of column i
func (t *Table) SetAlignment(i int, a Alignment) {
	t.align[i] = a
}

// Len is the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the table to w
func (t *Table) Render(w io.Writer) error {
	widths := t.columnWidths()

	var b strings.Builder
	border := func(left, mid, right string) {
		b.WriteString(left)
		for i, width := range widths {
			b.WriteString(strings.Repeat("-", width+2))
			if i < len(widths)-1 {
				b.WriteString(mid)
			}
		}
		b.WriteString(right + "\n")
	}
	line := func(cells []string) {
		b.WriteString("|")
		for i, width := range widths {
			b.WriteString(" " + t.pad(fit(cells[i], width), width, i) + " |")
		}
		b.WriteString("\n")
	}

	border("+", "+", "+")
	line(t.headers)
	border("+", "+", "+")
	for _, row := range t.rows {
		line(row)
	}
	border("+", "+", "+")

	_, err := io.WriteString(w, b.String())
	return err
}

func (t *Table) columnWidths() []int {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	if t.MaxWidth <= 0 || len(widths) == 0 {
		return widths
	}
	// borders and padding take 3 per column plus one
	total := 1
	for _, width := range widths {
		total += width + 3
	}
	for total > t.MaxWidth {
		widest := 0
		for i := range widths {
			if widths[i] > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= 8 {
			break
		}
		widths[widest]--
		total--
	}
	return widths
}

func (t *Table) pad(s string, width, col int) string {
	gap := width - utf8.RuneCountInString(s)
	if gap <= 0 {
		return s
	}
	if t.align[col] == AlignRight {
		return strings.Repeat(" ", gap) + s
	}
	return s + strings.Repeat(" ", gap)
}

func fit(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	if width <= 3 {
		return string([]rune(s)[:width])
	}
	return string([]rune(s)[:width-3]) + "..."
}

// terminalWidth returns the width of stdout, or 0 when it is not a terminal
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return width
}
