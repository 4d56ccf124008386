package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	unlockFamilies []string

	unlockCmd = &cobra.Command{
		Use:   "unlock",
		Short: "Make protected identifier files writable again",
		Long: `Remove the protection a reset applied to identifier and config files so
that the applications can write them again.`,
		Example: `  idreset unlock
  idreset unlock --families vscode`,
		RunE: runUnlock,
	}
)

func init() {
	unlockCmd.Flags().StringSliceVar(&unlockFamilies, "families", nil, "families to unlock (default: all)")
}

func runUnlock(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	families, err := e.families(unlockFamilies)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	unlocked, failed := 0, 0
	for _, a := range e.protectable(families) {
		if _, err := os.Stat(a.Path); err != nil {
			continue
		}
		if !e.protector.IsProtected(a.Path) {
			continue
		}
		if e.protector.Unprotect(a.Path) {
			fmt.Fprintf(out, "✓ %s\n", a.Path)
			unlocked++
		} else {
			fmt.Fprintf(out, "✗ %s\n", a.Path)
			failed++
		}
	}

	if unlocked == 0 && failed == 0 {
		fmt.Fprintln(out, "No protected files found.")
		return nil
	}
	fmt.Fprintf(out, "\nUnlocked %d file(s).\n", unlocked)
	if failed > 0 {
		return fmt.Errorf("failed to unlock %d file(s)", failed)
	}
	return nil
}
