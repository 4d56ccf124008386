package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/idreset/internal/campaign"
	"github.com/blackwell-systems/idreset/internal/logging"
	"github.com/blackwell-systems/idreset/internal/mutator"
	"github.com/blackwell-systems/idreset/internal/output"
	"github.com/blackwell-systems/idreset/internal/paths"
	"github.com/blackwell-systems/idreset/internal/procs"
)

var (
	resetFamilies         []string
	resetModes            []string
	resetNoBackup         bool
	resetNoProtect        bool
	resetProtectDatabases bool
	resetDeep             bool
	resetYes              bool

	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Reset device identifiers",
		Long: `Reset the identity state of the selected families.

Modes:
  replace    replace identifier files, storage.json keys and key/value
             database entries with fresh values (default)
  delete     delete records matching the configured keywords from state
             databases
  workspace  delete matching records from per-project state databases and
             remove the configured per-project directories
  cache      remove cached extensions, logs and other cache directories

Every artifact is backed up before it is modified unless --no-backup is
given. Rewritten identifier and config files are protected against
rewrites; unlock them with 'idreset unlock'.

Close the affected applications first: a running editor may hold its
databases locked or write the old identifiers back on exit.`,
		Example: `  # Replace identifiers for every family
  idreset reset

  # Replace identifiers and delete telemetry records, no prompt
  idreset reset --mode replace,delete --yes

  # Include session and token records in the deletion
  idreset reset --mode delete --deep

  # Also clear the editors' cache directories
  idreset reset --mode replace,cache

  # Only JetBrains, without backups
  idreset reset --families jetbrains --no-backup`,
		RunE: runReset,
	}
)

func init() {
	resetCmd.Flags().StringSliceVar(&resetFamilies, "families", nil, "families to reset (default: all)")
	resetCmd.Flags().StringSliceVar(&resetModes, "mode", []string{"replace"}, "modes to run: replace, delete, workspace, cache")
	resetCmd.Flags().BoolVar(&resetNoBackup, "no-backup", false, "do not back up artifacts before modifying them")
	resetCmd.Flags().BoolVar(&resetNoProtect, "no-protect", false, "leave rewritten files writable")
	resetCmd.Flags().BoolVar(&resetProtectDatabases, "protect-databases", false, "also protect modified databases")
	resetCmd.Flags().BoolVar(&resetDeep, "deep", false, "add session, token and login patterns to record deletion")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "skip the confirmation prompt")
}

func runReset(cmd *cobra.Command, args []string) error {
	modes, err := parseModes(resetModes)
	if err != nil {
		return err
	}

	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	families, err := e.families(resetFamilies)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	warnRunning(cmd, families)

	if !resetYes {
		ids := make([]string, len(families))
		for i, f := range families {
			ids[i] = f.ID
		}
		prompt := fmt.Sprintf("Reset %s (%s)?", strings.Join(ids, ", "), modeNames(modes))
		if !confirm(cmd.InOrStdin(), out, prompt) {
			fmt.Fprintln(out, "Reset cancelled.")
			return nil
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := output.NewCampaignProgress(cmd.ErrOrStderr(), verbose)
	params := campaign.Params{
		Modes:            modes,
		Backup:           cfg.CreateBackups && !resetNoBackup,
		Protect:          cfg.Protect && !resetNoProtect,
		ProtectDatabases: resetProtectDatabases && !resetNoProtect,
		Keywords:         cfg.Deletion.Keywords,
		DeepPatterns:     cfg.Deletion.DeepPatterns,
		Deep:             resetDeep,
		WorkspaceDirs:    cfg.Deletion.WorkspaceDirs,
		Observer:         progress,
	}
	for _, f := range families {
		params.Families = append(params.Families, f.ID)
	}

	report, err := e.campaigns.Run(ctx, params)
	progress.Finish()
	if err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprint(out, output.RenderReport(report))
	recordCampaign(e, report)

	if report.Cancelled {
		return context.Canceled
	}
	if !report.Success && report.Failed > 0 {
		return fmt.Errorf("reset failed: %d artifact(s) could not be modified", report.Failed)
	}
	return nil
}

// recordCampaign stores the report and applies the retention policy. Both
// are best effort: the reset has already happened. Backups made by this
// run are never trimmed.
func recordCampaign(e *engine, report *campaign.Report) {
	log := logging.L("app")
	if e.history != nil {
		if id, err := e.history.RecordCampaign(report); err != nil {
			log.Warn("failed to record campaign", logging.KeyError, err)
		} else {
			log.Debug("recorded campaign", "id", id)
		}
	}

	if cfg.MaxBackups <= 0 {
		return
	}
	keep := make([]string, 0, len(report.Backups))
	for _, rec := range report.Backups {
		keep = append(keep, rec.Path)
	}
	removed, err := e.backups.Trim(cfg.MaxBackups, keep...)
	if err != nil {
		log.Warn("failed to trim backups", logging.KeyError, err)
		return
	}
	if removed > 0 && e.history != nil {
		if _, err := e.history.ForgetBackups(fileExists); err != nil {
			log.Warn("failed to prune backup catalog", logging.KeyError, err)
		}
	}
}

func parseModes(names []string) ([]mutator.Mode, error) {
	var modes []mutator.Mode
	for _, n := range names {
		m, err := mutator.ParseMode(n)
		if err != nil {
			return nil, fmt.Errorf("%w: %s (want replace, delete, workspace or cache)", campaign.ErrUnknownMode, n)
		}
		modes = append(modes, m)
	}
	if len(modes) == 0 {
		return nil, fmt.Errorf("%w: at least one --mode is required", campaign.ErrUnknownMode)
	}
	return modes, nil
}

func modeNames(modes []mutator.Mode) string {
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = m.String()
	}
	return strings.Join(names, ", ")
}

// warnRunning prints a warning for every running process of families.
func warnRunning(cmd *cobra.Command, families []paths.Family) {
	snap, err := procs.Take(cmd.Context())
	if err != nil {
		logging.L("app").Debug("process snapshot failed", logging.KeyError, err)
		return
	}
	w := cmd.ErrOrStderr()
	for _, f := range families {
		for _, m := range snap.Running(f) {
			fmt.Fprintf(w, "⚠ %s is running (%s, PID %d); close it before resetting\n", f.ID, m.Name, m.PID)
		}
	}
}

// confirm asks a yes/no question, defaulting to no.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)

	reader := bufio.NewReader(in)
	response, err := reader.ReadString('\n')
	if err != nil && response == "" {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
