package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/example/schema-migrator/internal/persistence/sqlite/migration"
)

func renderRun(w io.Writer, result migration.RunResult) {
	for _, rec := range result.Records {
		verb := "Applied"
		switch {
		case rec.DryRun:
			verb = "Would apply"
		case rec.Direction == migration.DirectionDown:
			verb = "Reverted"
		}
		if rec.DryRun {
			fmt.Fprintf(w, "%s %03d_%s\n", verb, rec.Version, rec.Name)
		} else {
			fmt.Fprintf(w, "%s %03d_%s in %s\n", verb, rec.Version, rec.Name, rec.Duration.Round(time.Millisecond))
		}
	}

	if result.BackupPath != "" {
		size := "unknown size"
		if fi, err := os.Stat(result.BackupPath); err == nil {
			size = humanize.Bytes(uint64(fi.Size()))
		}
		fmt.Fprintf(w, "Backup written to %s (%s)\n", result.BackupPath, size)
	}

	switch {
	case len(result.Records) == 0 && (result.DryRun || result.Success):
		fmt.Fprintln(w, "Nothing to do")
	case result.Success:
		fmt.Fprintf(w, "%d migration(s) done in %s (run %s)\n",
			len(result.Records), result.Duration.Round(time.Millisecond), result.RunID)
	}
}

func renderStatus(w io.Writer, status []migration.StatusEntry, current int, hasCurrent, verbose bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATE\tAPPLIED")
	for _, s := range status {
		state := "pending"
		switch {
		case s.Orphaned:
			state = "orphaned"
		case s.Applied:
			state = "applied"
		}

		applied := "-"
		if s.AppliedAt != nil {
			applied = humanize.Time(*s.AppliedAt)
			if verbose {
				applied = s.AppliedAt.UTC().Format(time.RFC3339)
			}
		}
		fmt.Fprintf(tw, "%03d\t%s\t%s\t%s\n", s.Version, s.Name, state, applied)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if hasCurrent {
		fmt.Fprintf(w, "\nCurrent version: %03d\n", current)
	} else {
		fmt.Fprintln(w, "\nCurrent version: none")
	}
	return nil
}

func renderValidation(w io.Writer, report migration.ValidationReport) {
	for _, issue := range report.Issues {
		fmt.Fprintf(w, "ERROR   %s\n", issue)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "WARNING %s\n", warning)
	}
	if report.IsValid {
		fmt.Fprintln(w, "Catalog is valid")
	}
}
