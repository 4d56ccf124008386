package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/idreset/internal/config"
	"github.com/blackwell-systems/idreset/internal/procs"
	"github.com/blackwell-systems/idreset/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose common issues",
	Long: `Runs diagnostic checks on the idreset setup.

Checks:
  • Configuration loads and validates
  • Backup directory is writable
  • History database is accessible
  • Which application families are installed
  • Whether any of their processes are running`,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Running idreset diagnostics...")
	fmt.Fprintln(out)

	criticalIssues := 0
	warningIssues := 0

	// Config
	cfgPath := cfgFile
	if cfgPath == "" {
		cfgPath, _ = config.Path()
	}
	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Fprintln(out, "✓ Config file:", cfgPath)
	} else {
		fmt.Fprintln(out, "✓ Using built-in defaults (no config file)")
		fmt.Fprintln(out, "  Create one with: idreset config init")
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintln(out, "⚠ Config:", p)
		}
		warningIssues++
	}

	e, err := newEngine()
	if err != nil {
		fmt.Fprintln(out, "✗ Cannot set up:", err)
		return fmt.Errorf("diagnostics found 1 critical issue")
	}
	defer e.Close()

	// Backups
	if canWrite(e.backups.Dir()) {
		records, _ := e.backups.List("")
		fmt.Fprintf(out, "✓ Backup directory writable: %s (%d backup(s))\n", e.backups.Dir(), len(records))
	} else {
		fmt.Fprintln(out, "✗ Backup directory not writable:", e.backups.Dir())
		fmt.Fprintln(out, "  Action: set backup_dir in the config file")
		criticalIssues++
	}

	// History
	if e.history == nil {
		fmt.Fprintln(out, "⚠ History database unavailable; resets will not be recorded")
		warningIssues++
	} else {
		campaigns, err := e.history.ListCampaigns(0)
		switch {
		case errors.Is(err, store.ErrNotInitialized):
			fmt.Fprintln(out, "✓ History database ready (empty)")
		case err != nil:
			fmt.Fprintln(out, "⚠ Cannot read history:", err)
			warningIssues++
		default:
			fmt.Fprintf(out, "✓ History database: %d campaign(s) recorded\n", len(campaigns))
		}
	}

	// Families
	installed := 0
	snap, snapErr := procs.Take(cmd.Context())
	for _, f := range e.resolver.Families() {
		roots := e.resolver.FamilyRoots(f)
		if len(roots) == 0 {
			fmt.Fprintf(out, "  %s: not installed\n", f.ID)
			continue
		}
		installed++
		fmt.Fprintf(out, "✓ %s: %d installation(s)\n", f.ID, len(roots))
		if snapErr != nil {
			continue
		}
		for _, m := range snap.Running(f) {
			fmt.Fprintf(out, "⚠ %s is running (%s, PID %d)\n", f.ID, m.Name, m.PID)
			fmt.Fprintln(out, "  Action: close it before running a reset")
			warningIssues++
		}
	}
	if installed == 0 {
		fmt.Fprintln(out, "⚠ No supported applications found")
		warningIssues++
	}
	if snapErr != nil {
		fmt.Fprintln(out, "⚠ Cannot list running processes:", snapErr)
		warningIssues++
	}

	fmt.Fprintf(out, "✓ Protection: %s\n", protectionSummary())

	fmt.Fprintln(out)
	if criticalIssues > 0 {
		return fmt.Errorf("diagnostics found %d critical issue(s)", criticalIssues)
	}
	if warningIssues > 0 {
		fmt.Fprintf(out, "Found %d warning(s). idreset will work, but see above.\n", warningIssues)
		return nil
	}
	fmt.Fprintln(out, "✓ All checks passed!")
	return nil
}

// canWrite reports whether a file can be created in dir.
func canWrite(dir string) bool {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".idreset-write-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(filepath.Clean(name))
	return true
}
