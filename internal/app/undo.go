package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/idreset/internal/output"
)

var (
	undoList bool
	undoYes  bool

	undoCmd = &cobra.Command{
		Use:   "undo <pattern>",
		Short: "Restore the newest backup matching a pattern",
		Long: `Restore the newest backup whose file name contains pattern.

The file is put back where it was taken from. The location is looked up
in the history database, or derived from the backup's label when the
database does not know the backup. A protected target is unlocked first.`,
		Example: `  idreset undo --list
  idreset undo machineId
  idreset undo vscode_storage.json --yes`,
		Args: cobra.MaximumNArgs(1),
		RunE: runUndo,
	}
)

func init() {
	undoCmd.Flags().BoolVar(&undoList, "list", false, "list backups instead of restoring")
	undoCmd.Flags().BoolVarP(&undoYes, "yes", "y", false, "skip the confirmation prompt")
}

func runUndo(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	out := cmd.OutOrStdout()
	pattern := ""
	if len(args) > 0 {
		pattern = args[0]
	}

	records, err := e.backups.List(pattern)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	if undoList {
		fmt.Fprint(out, output.RenderBackupTable(records))
		if len(records) > 0 {
			fmt.Fprintln(out, "\nRestore with: idreset undo <pattern>")
		}
		return nil
	}

	if pattern == "" {
		return fmt.Errorf("a backup pattern is required\n\nUsage: idreset undo <pattern>\n\nUse 'idreset undo --list' to see available backups")
	}
	if len(records) == 0 {
		return fmt.Errorf("no backups found matching pattern: %s", pattern)
	}

	latest := records[0]
	target := latest.Source
	if target == "" {
		target, _ = e.locate(latest.Label)
	}

	fmt.Fprintf(out, "Backup:  %s\n", filepath.Base(latest.Path))
	fmt.Fprintf(out, "Created: %s\n", latest.CreatedAt.Format("2006-01-02 15:04:05"))
	if target != "" {
		fmt.Fprintf(out, "Target:  %s\n", target)
	}
	fmt.Fprintln(out)

	if !undoYes && !confirm(cmd.InOrStdin(), out, "Restore this backup?") {
		fmt.Fprintln(out, "Restore cancelled.")
		return nil
	}

	if target != "" {
		if _, err := os.Stat(target); err == nil && e.protector.IsProtected(target) {
			e.protector.Unprotect(target)
		}
	}

	res := e.backups.AutoRestore(pattern, e.locate)
	if res.Err != nil {
		return res.Err
	}
	fmt.Fprintf(out, "✓ Restored %s to %s\n", filepath.Base(res.Backup.Path), res.Target)
	return nil
}
