package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/idreset/internal/logging"
	"github.com/blackwell-systems/idreset/internal/output"
	"github.com/blackwell-systems/idreset/internal/paths"
	"github.com/blackwell-systems/idreset/internal/procs"
	"github.com/blackwell-systems/idreset/internal/protect"
)

var (
	statusFamilies []string

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the identifiers currently in use",
		Long: `Show, for every installed family, the identifier values currently on
disk, whether the identifier files are protected against rewrites, and
which of the family's processes are running.`,
		Example: `  idreset status
  idreset status --families jetbrains`,
		RunE: runStatus,
	}
)

func init() {
	statusCmd.Flags().StringSliceVar(&statusFamilies, "families", nil, "families to show (default: all)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	families, err := e.families(statusFamilies)
	if err != nil {
		return err
	}

	snap, err := procs.Take(cmd.Context())
	if err != nil {
		logging.L("app").Debug("process snapshot failed", logging.KeyError, err)
	}

	out := cmd.OutOrStdout()
	for i, f := range families {
		if i > 0 {
			fmt.Fprintln(out)
		}
		printFamilyStatus(cmd, e, f, snap)
	}
	fmt.Fprintf(out, "\nProtection: %s\n", protectionSummary())
	return nil
}

func printFamilyStatus(cmd *cobra.Command, e *engine, f paths.Family, snap *procs.Snapshot) {
	out := cmd.OutOrStdout()
	roots := e.resolver.FamilyRoots(f)
	if len(roots) == 0 {
		fmt.Fprintf(out, "%s: not installed\n", f.ID)
		return
	}

	fmt.Fprintf(out, "%s\n", f.ID)
	for _, root := range roots {
		fmt.Fprintf(out, "  root: %s\n", root)
	}

	values, err := e.campaigns.CurrentValues(f.ID)
	if err != nil {
		fmt.Fprintf(out, "  ✗ cannot read identifiers: %v\n", err)
	} else {
		fmt.Fprintln(out)
		for _, line := range splitLines(output.RenderValues(values)) {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}

	protected, unprotected := 0, 0
	for _, a := range e.protectable([]paths.Family{f}) {
		if _, err := os.Stat(a.Path); err != nil {
			continue
		}
		if e.protector.IsProtected(a.Path) {
			protected++
		} else {
			unprotected++
		}
	}
	fmt.Fprintf(out, "\n  protected files: %d, writable: %d\n", protected, unprotected)

	if snap != nil {
		running := snap.Running(f)
		if len(running) == 0 {
			fmt.Fprintln(out, "  no running processes")
		}
		for _, m := range running {
			fmt.Fprintf(out, "  ⚠ running: %s (PID %d)\n", m.Name, m.PID)
		}
	}
}

func protectionSummary() string {
	if m := protect.Mechanism(); m != "permission bits" {
		return "permission bits plus " + m
	}
	return "permission bits"
}

func splitLines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}
