package app

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/idreset/internal/output"
)

var (
	backupsTrim   int
	backupsVerify bool

	backupsCmd = &cobra.Command{
		Use:   "backups [pattern]",
		Short: "List, verify or trim backups",
		Long: `List the backups taken before artifacts were modified, newest first.
An optional pattern keeps only backups whose file name contains it.

With --verify every listed backup is read back to check that it is intact.
With --trim N all but the N newest backups are deleted.`,
		Example: `  idreset backups
  idreset backups machineId
  idreset backups --verify
  idreset backups --trim 5`,
		Args: cobra.MaximumNArgs(1),
		RunE: runBackups,
	}
)

func init() {
	backupsCmd.Flags().IntVar(&backupsTrim, "trim", -1, "keep only the N newest backups")
	backupsCmd.Flags().BoolVar(&backupsVerify, "verify", false, "check that every listed backup is readable")
}

func runBackups(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	out := cmd.OutOrStdout()

	if backupsTrim >= 0 {
		removed, err := e.backups.Trim(backupsTrim)
		if err != nil {
			return fmt.Errorf("failed to trim backups: %w", err)
		}
		if e.history != nil {
			if _, err := e.history.ForgetBackups(fileExists); err != nil {
				return fmt.Errorf("failed to prune backup catalog: %w", err)
			}
		}
		fmt.Fprintf(out, "Removed %d backup(s).\n", removed)
		return nil
	}

	pattern := ""
	if len(args) > 0 {
		pattern = args[0]
	}
	records, err := e.backups.List(pattern)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	fmt.Fprintf(out, "Backups in %s\n\n", e.backups.Dir())
	fmt.Fprint(out, output.RenderBackupTable(records))

	if !backupsVerify || len(records) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	bad := 0
	for _, rec := range records {
		if err := e.backups.Verify(rec.Path); err != nil {
			fmt.Fprintf(out, "✗ %s: %v\n", filepath.Base(rec.Path), err)
			bad++
			continue
		}
		fmt.Fprintf(out, "✓ %s\n", filepath.Base(rec.Path))
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d backup(s) failed verification", bad, len(records))
	}
	return nil
}
