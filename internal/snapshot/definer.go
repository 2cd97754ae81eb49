package snapshot

import (
	"bytes"
	"io"
	"regexp"
)

// definerPattern matches DEFINER=user@host clauses as written by mysqldump
var definerPattern = regexp.MustCompile("DEFINER=(?:`[^`]*`|'[^']*'|[A-Za-z0-9_.%-]+)@(?:`[^`]*`|'[^']*'|[A-Za-z0-9_.%-]+) ?")

// classifyLen is how much of a line must be seen before deciding whether it
// can carry a DEFINER clause.
const classifyLen = len("CREATE")

const (
	lineUndecided = iota
	linePass
	lineBuffer
)

// definerFilter removes DEFINER clauses from dump output so the export
// carries no account ownership. Only DDL lines (starting with "CREATE" or a
// versioned comment) are rewritten; data lines stream through untouched.
type definerFilter struct {
	w    io.Writer
	head []byte
	line []byte
	mode int
}

func newDefinerFilter(w io.Writer) *definerFilter {
	return &definerFilter{w: w}
}

func (f *definerFilter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		switch f.mode {
		case lineUndecided:
			need := classifyLen - len(f.head)
			chunk := p
			if len(chunk) > need {
				chunk = chunk[:need]
			}
			if i := bytes.IndexByte(chunk, '\n'); i >= 0 {
				f.head = append(f.head, chunk[:i+1]...)
				p = p[i+1:]
				if err := f.emit(f.head, isDDLPrefix(f.head)); err != nil {
					return 0, err
				}
				f.head = f.head[:0]
				continue
			}
			f.head = append(f.head, chunk...)
			p = p[len(chunk):]
			if len(f.head) == classifyLen {
				if isDDLPrefix(f.head) {
					f.mode = lineBuffer
					f.line = append(f.line[:0], f.head...)
				} else {
					f.mode = linePass
					if _, err := f.w.Write(f.head); err != nil {
						return 0, err
					}
				}
				f.head = f.head[:0]
			}

		case linePass:
			i := bytes.IndexByte(p, '\n')
			if i < 0 {
				if _, err := f.w.Write(p); err != nil {
					return 0, err
				}
				return n, nil
			}
			if _, err := f.w.Write(p[:i+1]); err != nil {
				return 0, err
			}
			p = p[i+1:]
			f.mode = lineUndecided

		case lineBuffer:
			i := bytes.IndexByte(p, '\n')
			if i < 0 {
				f.line = append(f.line, p...)
				return n, nil
			}
			f.line = append(f.line, p[:i+1]...)
			p = p[i+1:]
			if err := f.emit(f.line, true); err != nil {
				return 0, err
			}
			f.line = f.line[:0]
			f.mode = lineUndecided
		}
	}
	return n, nil
}

// Close flushes a trailing line without newline. It does not close the
// underlying writer.
func (f *definerFilter) Close() error {
	var err error
	switch f.mode {
	case lineUndecided:
		if len(f.head) > 0 {
			err = f.emit(f.head, isDDLPrefix(f.head))
		}
	case lineBuffer:
		err = f.emit(f.line, true)
	}
	f.head, f.line, f.mode = nil, nil, lineUndecided
	return err
}

func (f *definerFilter) emit(line []byte, rewrite bool) error {
	if rewrite && bytes.Contains(line, []byte("DEFINER=")) {
		line = definerPattern.ReplaceAll(line, nil)
	}
	_, err := f.w.Write(line)
	return err
}

func isDDLPrefix(b []byte) bool {
	return bytes.HasPrefix(b, []byte("/*!")) || bytes.HasPrefix(b, []byte("CREATE"))
}
