package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/video-studio/internal/pipeline/steps"
	"github.com/jonathan/video-studio/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 72
	// maxRunsToShow caps run listings
	maxRunsToShow = 20
)

// Printer writes human-readable run summaries for the CLI.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		if len([]rune(line)) > boxWidth-4 {
			line = string([]rune(line)[:boxWidth-7]) + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintRun outputs one run with its persisted step records in execution order.
func (p *Printer) PrintRun(run *types.WorkflowRun, records []steps.Record) {
	if run == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Workflow: %s\n", run.Workflow))
	sb.WriteString(fmt.Sprintf("Video:    %s\n", run.VideoID))
	sb.WriteString(fmt.Sprintf("Status:   %s\n", run.Status))
	if run.ErrorMessage != nil {
		sb.WriteString(fmt.Sprintf("Error:    %s\n", *run.ErrorMessage))
	}

	if len(records) > 0 {
		sb.WriteString("\nSteps:\n")
		for _, rec := range records {
			line := fmt.Sprintf("  %-20s %-10s attempts=%d", rec.Step, rec.Status, rec.Attempts)
			if rec.DurationMS > 0 {
				line += fmt.Sprintf(" %dms", rec.DurationMS)
			}
			sb.WriteString(line + "\n")
			if rec.Error != "" {
				sb.WriteString(fmt.Sprintf("    ! %s\n", rec.Error))
			}
		}
	}

	p.printBox("RUN "+run.ID.String(), strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRuns outputs a compact listing of runs, newest first as given.
func (p *Printer) PrintRuns(runs []types.WorkflowRun) {
	if len(runs) == 0 {
		return
	}

	var sb strings.Builder
	count := min(len(runs), maxRunsToShow)
	for i := 0; i < count; i++ {
		run := runs[i]
		sb.WriteString(fmt.Sprintf("%s  %-11s %-9s %s\n",
			run.ID.String()[:8], run.Workflow, run.Status, run.CreatedAt.Format("2006-01-02 15:04")))
	}
	if len(runs) > maxRunsToShow {
		sb.WriteString(fmt.Sprintf("... and %d more\n", len(runs)-maxRunsToShow))
	}

	p.printBox(fmt.Sprintf("WORKFLOW RUNS (%d)", len(runs)), strings.TrimSuffix(sb.String(), "\n"))
}
