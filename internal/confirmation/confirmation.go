// Package confirmation asks an operator to approve destructive operations.
package confirmation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cms-backup/internal/display"
)

// ErrDeclined is returned when the operator does not approve
var ErrDeclined = errors.New("operation cancelled by user")

const maxPrompts = 3

// RestorePlan summarises what a restore will replace
type RestorePlan struct {
	Archive    string
	Size       int64
	Database   string
	Uploads    string
	RestoreDB  bool
	RestoreFS  bool
	HasUploads bool
}

// Service prompts for confirmation on an input stream
type Service struct {
	in     *bufio.Reader
	out    io.Writer
	colors *display.ColorSystem
}

// NewService reads answers from in and writes prompts to out
func NewService(in io.Reader, out io.Writer, colors *display.ColorSystem) *Service {
	return &Service{in: bufio.NewReader(in), out: out, colors: colors}
}

// ConfirmRestore shows plan and asks for approval. autoApprove skips the
// prompt. ctx cancellation (e.g. Ctrl-C) counts as a refusal.
func (s *Service) ConfirmRestore(ctx context.Context, plan RestorePlan, autoApprove bool) error {
	s.describe(plan)
	if autoApprove {
		fmt.Fprintln(s.out, s.colors.Colorize("Auto-approving restore (--yes)", display.ColorGreen))
		return nil
	}
	return s.Ask(ctx, "Proceed with the restore? [y/N]: ")
}

// Ask prompts until it gets a yes or no answer
func (s *Service) Ask(ctx context.Context, prompt string) error {
	answers := make(chan string, 1)
	errs := make(chan error, 1)

	go func() {
		for i := 0; i < maxPrompts; i++ {
			fmt.Fprint(s.out, s.colors.Colorize(prompt, display.ColorBold))
			line, err := s.in.ReadString('\n')
			if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
				errs <- fmt.Errorf("failed to read answer: %w", err)
				return
			}
			switch answer := strings.ToLower(strings.TrimSpace(line)); answer {
			case "y", "yes", "n", "no", "":
				answers <- answer
				return
			default:
				fmt.Fprintf(s.out, "Invalid input '%s'. Please enter 'y' for yes or 'n' for no.\n", answer)
				if err != nil {
					answers <- ""
					return
				}
			}
		}
		answers <- ""
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(s.out)
		return ErrDeclined
	case err := <-errs:
		return err
	case answer := <-answers:
		if answer == "y" || answer == "yes" {
			return nil
		}
		return ErrDeclined
	}
}

func (s *Service) describe(plan RestorePlan) {
	fmt.Fprintln(s.out, s.colors.Colorize("RESTORE WILL REPLACE LIVE DATA", display.ColorHiRed))
	fmt.Fprintln(s.out, strings.Repeat("=", 50))
	fmt.Fprintf(s.out, "Archive:  %s (%s)\n", plan.Archive, display.FormatBytes(plan.Size))

	if plan.RestoreDB {
		fmt.Fprintf(s.out, "Database: every table, view, routine and event in %q will be dropped and re-created\n", plan.Database)
	} else {
		fmt.Fprintln(s.out, "Database: not restored")
	}

	switch {
	case !plan.RestoreFS:
		fmt.Fprintln(s.out, "Files:    not restored")
	case plan.HasUploads:
		fmt.Fprintf(s.out, "Files:    %s will be emptied and replaced\n", plan.Uploads)
	default:
		fmt.Fprintf(s.out, "Files:    %s will be emptied (archive has no uploads)\n", plan.Uploads)
	}

	fmt.Fprintln(s.out, s.colors.Colorize("A safety snapshot is taken first; a failed database restore is rolled back.", display.ColorFaint))
	fmt.Fprintln(s.out)
}
