package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Veraticus/circdesk/internal/circulation"
)

// ErrInputTerminated is returned when input ends before a valid choice.
var ErrInputTerminated = errors.New("input terminated")

// FinePrompter asks the desk operator how to settle a late return's fine.
// It implements circulation.FineDecider.
type FinePrompter struct {
	writer io.Writer
	reader *LineReader
}

// NewFinePrompter creates a prompter reading from reader and writing to writer.
func NewFinePrompter(reader io.Reader, writer io.Writer) *FinePrompter {
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}
	return &FinePrompter{
		reader: NewLineReader(reader),
		writer: writer,
	}
}

var fineChoices = map[string]circulation.Decision{
	"p": circulation.DecisionPayNow,
	"d": circulation.DecisionDefer,
	"x": circulation.DecisionCancel,
}

// DecideFine implements circulation.FineDecider.
func (p *FinePrompter) DecideFine(ctx context.Context, notice circulation.FineNotice) (circulation.Decision, error) {
	if _, err := fmt.Fprintln(p.writer, RenderBox("Late Return", formatNotice(notice))); err != nil {
		return circulation.DecisionNone, fmt.Errorf("failed to write fine notice: %w", err)
	}

	options := []string{
		"  [P] Pay now",
		"  [D] Add to the patron's balance",
		"  [X] Cancel this return",
	}
	if _, err := fmt.Fprintln(p.writer, FormatPrompt("Fine options:")+"\n"+strings.Join(options, "\n")+"\n"); err != nil {
		return circulation.DecisionNone, fmt.Errorf("failed to write fine options: %w", err)
	}

	for {
		if _, err := fmt.Fprint(p.writer, FormatPrompt("Choice")); err != nil {
			return circulation.DecisionNone, fmt.Errorf("failed to write prompt: %w", err)
		}

		input, err := p.reader.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return circulation.DecisionNone, ErrInputTerminated
			}
			return circulation.DecisionNone, err
		}

		if decision, ok := fineChoices[strings.ToLower(input)]; ok {
			return decision, nil
		}
		if _, err := fmt.Fprintln(p.writer, FormatError("Invalid choice. Please enter P, D or X.")); err != nil {
			slog.Warn("Failed to write error message", "error", err)
		}
	}
}

func formatNotice(notice circulation.FineNotice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Patron:   %s (%s)\n", BoldStyle.Render(notice.Patron.Name), notice.Patron.ID)
	fmt.Fprintf(&b, "Book:     %s\n", notice.Loan.BookTitle)
	fmt.Fprintf(&b, "Due:      %s\n", notice.Loan.DueDate.Thai())
	fmt.Fprintf(&b, "Late:     %d day(s)\n", notice.DaysLate)
	fmt.Fprintf(&b, "Fine:     %s", FormatMoney(notice.Amount))
	if notice.Patron.FinesOwed.IsPositive() {
		fmt.Fprintf(&b, "\n%s", SubtleStyle.Render("Already owes "+notice.Patron.FinesOwed.StringFixed(2)+" ฿"))
	}
	return b.String()
}
