package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/idreset/internal/output"
	"github.com/blackwell-systems/idreset/internal/store"
)

var (
	historyLimit int

	historyCmd = &cobra.Command{
		Use:   "history [campaign-id]",
		Short: "Show past resets",
		Long: `Show the resets recorded in the history database, newest first. With a
campaign ID, show what happened to every artifact in that reset.`,
		Example: `  idreset history
  idreset history --limit 5
  idreset history 3`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistory,
	}
)

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of campaigns to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	path, err := getDBPath()
	if err != nil {
		return fmt.Errorf("failed to get database path: %w", err)
	}
	st, err := store.New(path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	out := cmd.OutOrStdout()

	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid campaign ID: %s (must be a number)", args[0])
		}
		rows, err := st.GetResults(id)
		if errors.Is(err, store.ErrNotInitialized) {
			fmt.Fprintln(out, "No campaigns recorded yet.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Campaign %d\n\n", id)
		fmt.Fprint(out, output.RenderResultRows(rows))
		return nil
	}

	campaigns, err := st.ListCampaigns(historyLimit)
	if errors.Is(err, store.ErrNotInitialized) {
		fmt.Fprintln(out, "No campaigns recorded yet.")
		fmt.Fprintln(out, "Run 'idreset reset' to reset identifiers.")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprint(out, output.RenderHistoryTable(campaigns))
	if len(campaigns) > 0 {
		fmt.Fprintf(out, "\nModes of the latest campaign: %s\n", strings.Join(campaigns[0].Modes, ", "))
		fmt.Fprintln(out, "Details: idreset history <id>")
	}
	return nil
}
