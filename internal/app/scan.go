package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/idreset/internal/artifact"
	"github.com/blackwell-systems/idreset/internal/output"
)

var (
	scanFamilies  []string
	scanWorkspace bool
	scanCaches    bool

	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "List the identity artifacts found on this machine",
		Long: `Scan every known application family and list the artifacts a reset
would touch: identifier files, storage.json configs and state databases.

Nothing is modified. Missing identifier files that a reset would create
are listed as missing.`,
		Example: `  # Scan every family
  idreset scan

  # Scan only VS Code style editors
  idreset scan --families vscode

  # Include per-project directories configured in deletion.workspace_dirs
  idreset scan --workspace

  # Include the cache directories 'reset --mode cache' removes
  idreset scan --caches`,
		RunE: runScan,
	}
)

func init() {
	scanCmd.Flags().StringSliceVar(&scanFamilies, "families", nil, "families to scan (default: all)")
	scanCmd.Flags().BoolVar(&scanWorkspace, "workspace", false, "include configured workspace directories")
	scanCmd.Flags().BoolVar(&scanCaches, "caches", false, "include cache directories")
}

func runScan(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	families, err := e.families(scanFamilies)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	spinner := output.NewSpinner("Scanning for identity artifacts")
	spinner.SetWriter(cmd.ErrOrStderr())
	spinner.Start()

	type section struct {
		id        string
		artifacts []artifact.Artifact
	}
	var sections []section
	total := 0
	for _, f := range families {
		found, err := e.campaigns.Discover(f.ID)
		if err != nil {
			spinner.Stop()
			return err
		}
		var extra []artifact.Artifact
		if scanWorkspace {
			extra = append(extra, e.resolver.WorkspaceDirs(f, cfg.Deletion.WorkspaceDirs)...)
		}
		if scanCaches {
			extra = append(extra, e.resolver.CacheDirs(f)...)
		}
		for _, a := range extra {
			a.Kind = e.mutator.Classify(a.Path)
			found = append(found, a)
		}
		sections = append(sections, section{id: f.ID, artifacts: found})
		total += len(found)
	}
	spinner.Stop()

	for _, s := range sections {
		fmt.Fprintf(out, "\n%s (%d)\n", s.id, len(s.artifacts))
		fmt.Fprint(out, output.RenderArtifactTable(s.artifacts))
	}

	fmt.Fprintf(out, "\n%d artifact(s) across %d famil%s.\n", total, len(sections), plural(len(sections), "y", "ies"))
	if total > 0 {
		fmt.Fprintln(out, "Run 'idreset reset' to reset them.")
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
