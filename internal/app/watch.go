package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/idreset/internal/mutator"
	"github.com/blackwell-systems/idreset/internal/watcher"
)

var (
	watchFamilies []string
	watchReapply  bool
	watchInterval time.Duration

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Watch identifier files for rewrites",
		Long: `Watch the identifier and config files of the selected families and
report when another program changes them, typically an editor putting its
old identifiers back.

With --reapply every change is answered with a fresh identifier
replacement, and the file is protected again. Stop with Ctrl+C.`,
		Example: `  idreset watch
  idreset watch --families vscode --reapply`,
		RunE: runWatch,
	}
)

func init() {
	watchCmd.Flags().StringSliceVar(&watchFamilies, "families", nil, "families to watch (default: all)")
	watchCmd.Flags().BoolVar(&watchReapply, "reapply", false, "replace identifiers again when a file changes")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", watcher.DefaultInterval, "how long to coalesce changes before reporting")
}

// reapplyQuiet is how long the watcher ignores a file after rewriting it.
const reapplyQuiet = 2 * time.Second

func runWatch(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	families, err := e.families(watchFamilies)
	if err != nil {
		return err
	}
	artifacts := e.protectable(families)

	out := cmd.OutOrStdout()
	var w *watcher.Watcher
	handler := func(ev watcher.Event) {
		what := "changed"
		if ev.Removed() {
			what = "removed"
		}
		fmt.Fprintf(out, "%s %s %s\n", ev.At.Format("15:04:05"), what, ev.Artifact.Path)
		if !watchReapply {
			return
		}

		w.Suppress(ev.Artifact.Path, reapplyQuiet)
		res := e.mutator.Apply(ev.Artifact, mutator.Options{
			Mode:    mutator.ModeReplace,
			Backup:  cfg.CreateBackups,
			Protect: cfg.Protect,
		})
		switch res.Outcome {
		case mutator.OutcomeFailed:
			fmt.Fprintf(out, "  ✗ reapply failed: %v\n", res.Err)
		case mutator.OutcomeMutated:
			fmt.Fprintf(out, "  ✓ %d identifier(s) replaced again\n", len(res.Changes))
		default:
			fmt.Fprintf(out, "  = %s\n", res.Outcome)
		}
	}

	w, err = watcher.New(artifacts, handler)
	if err != nil {
		return fmt.Errorf("nothing to watch for %v: %w", e.familyIDs(watchFamilies), err)
	}
	w.SetInterval(watchInterval)
	if err := w.Start(); err != nil {
		return err
	}

	fmt.Fprintf(out, "Watching %d file(s). Press Ctrl+C to stop.\n", len(artifacts))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case <-cmd.Context().Done():
	}

	fmt.Fprintln(out, "\nStopping...")
	return w.Stop()
}
