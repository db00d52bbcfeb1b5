package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/odyssey-erp/odyssey-ops/internal/consistency"
)

// Exit codes shared by the maintenance commands.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitFindings = 10
	ExitBusy     = 75
)

// MaintenanceCLI runs the consistency auditor and repairer from the command line.
type MaintenanceCLI struct {
	auditor  *consistency.Auditor
	repairer *consistency.Repairer
}

// NewMaintenanceCLI constructs the helper.
func NewMaintenanceCLI(auditor *consistency.Auditor, repairer *consistency.Repairer) *MaintenanceCLI {
	return &MaintenanceCLI{auditor: auditor, repairer: repairer}
}

// AuditOptions configures the audit command.
type AuditOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// AuditCommand prints every finding. It exits with ExitFindings when drift exists.
func (c *MaintenanceCLI) AuditCommand(ctx context.Context, opts AuditOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	findings, err := c.auditor.Scan(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "audit: %v\n", err)
		return ExitFailure
	}
	if findings == nil {
		findings = []consistency.Finding{}
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(findings); err != nil {
			_, _ = fmt.Fprintf(stderr, "audit: encode json: %v\n", err)
			return ExitFailure
		}
	} else {
		renderFindings(stdout, findings)
	}
	if len(findings) > 0 {
		return ExitFindings
	}
	return ExitOK
}

// RepairOptions configures the repair command. Without Apply the run is a dry run.
type RepairOptions struct {
	Apply              bool
	ConfirmDestructive bool
	ActorID            string
	JSONOutput         bool
	Stdout             io.Writer
	Stderr             io.Writer
}

// RepairCommand scans and repairs, printing the report.
func (c *MaintenanceCLI) RepairCommand(ctx context.Context, opts RepairOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	actor := opts.ActorID
	if actor == "" {
		actor = "system:cli"
	}
	report, err := consistency.ScanAndRun(ctx, c.auditor, c.repairer, consistency.RepairOptions{
		DryRun:             !opts.Apply,
		ConfirmDestructive: opts.ConfirmDestructive,
		ActorID:            actor,
	})
	if errors.Is(err, consistency.ErrMaintenanceInProgress) {
		_, _ = fmt.Fprintln(stderr, "repair: another repair run holds the maintenance lock")
		return ExitBusy
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "repair: %v\n", err)
		return ExitFailure
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(report); err != nil {
			_, _ = fmt.Fprintf(stderr, "repair: encode json: %v\n", err)
			return ExitFailure
		}
	} else {
		renderReport(stdout, report)
	}
	if report.Failed > 0 {
		return ExitFailure
	}
	return ExitOK
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}

func renderFindings(w io.Writer, findings []consistency.Finding) {
	if len(findings) == 0 {
		_, _ = fmt.Fprintln(w, "no drift found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CATEGORY\tRECORD\tSEVERITY\tDETAIL")
	for _, f := range findings {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Category, f.RecordID, f.Severity, f.Detail)
	}
	_ = tw.Flush()
}

func renderReport(w io.Writer, report consistency.RepairReport) {
	mode := "apply"
	if report.DryRun {
		mode = "dry-run"
	}
	_, _ = fmt.Fprintf(w, "repair run %s (%s)\n", report.RunID, mode)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CATEGORY\tRECORD\tSTATUS\tDESCRIPTION")
	for _, a := range report.Actions {
		desc := a.Description
		if a.Error != "" {
			desc += ": " + a.Error
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Finding.Category, a.Finding.RecordID, a.Status, desc)
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "findings=%d applied=%d planned=%d skipped=%d needs_confirmation=%d report_only=%d failed=%d\n",
		report.Findings, report.Applied, report.Planned, report.Skipped, report.NeedsConfirmation, report.ReportOnly, report.Failed)
}
