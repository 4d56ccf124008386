// Package output renders idreset results for the terminal.
//
// Tables are plain text with optional ANSI colors; colors are only emitted
// when stdout is a terminal and NO_COLOR is unset. Progress indicators are
// safe for use from multiple goroutines.
package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/idreset/internal/artifact"
	"github.com/blackwell-systems/idreset/internal/backup"
	"github.com/blackwell-systems/idreset/internal/campaign"
	"github.com/blackwell-systems/idreset/internal/mutator"
	"github.com/blackwell-systems/idreset/internal/store"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// colorize wraps text in the given ANSI color code if color is enabled,
// otherwise returns the plain text.
func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// RenderArtifactTable renders discovered artifacts in discovery order.
func RenderArtifactTable(artifacts []artifact.Artifact) string {
	if len(artifacts) == 0 {
		return "No artifacts found.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-10s %-22s %-10s %s\n", "Scope", "Kind", "Size", "Path"))
	sb.WriteString(strings.Repeat("─", 90))
	sb.WriteString("\n")

	for _, a := range artifacts {
		size := "missing"
		if info, err := os.Stat(a.Path); err == nil {
			if info.IsDir() {
				size = "dir"
			} else {
				size = formatSize(info.Size())
			}
		}
		sb.WriteString(fmt.Sprintf("%-10s %-22s %-10s %s\n",
			a.Scope,
			a.Kind,
			size,
			truncateLeft(a.Path, 60)))
	}
	return sb.String()
}

// RenderValues renders the identifiers an installation currently holds,
// sorted by key.
func RenderValues(values map[string]string) string {
	if len(values) == 0 {
		return "No identifiers found.\n"
	}

	keys := make([]string, 0, len(values))
	width := 0
	for k := range values {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)
	if width > 60 {
		width = 60
	}

	var sb strings.Builder
	for _, k := range keys {
		v := values[k]
		if v == "" {
			v = colorize(colorGray, "(empty)")
		}
		sb.WriteString(fmt.Sprintf("%-*s  %s\n", width, truncateLeft(k, width), v))
	}
	return sb.String()
}

// RenderReport renders a campaign report: one section per family followed by
// a summary line.
func RenderReport(r *campaign.Report) string {
	var sb strings.Builder

	for _, fr := range r.Families {
		sb.WriteString(fmt.Sprintf("%s (%d found)\n", fr.Family, fr.Found))
		if len(fr.Results) == 0 {
			sb.WriteString("  nothing to do\n\n")
			continue
		}
		for _, res := range fr.Results {
			sb.WriteString(fmt.Sprintf("  %s %-10s %-40s %s\n",
				outcomeSymbol(res.Outcome),
				shortMode(res.Mode),
				truncate(res.Artifact.Label, 40),
				resultDetail(res)))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("Found %d, succeeded %d, failed %d, skipped %d; %d backup(s) taken in %s\n",
		r.Found, r.Succeeded, r.Failed, r.Skipped, len(r.Backups),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)))

	switch {
	case r.Cancelled:
		sb.WriteString(colorize(colorYellow, "Cancelled before all artifacts were processed.") + "\n")
	case r.Success:
		sb.WriteString(colorize(colorGreen, "Reset complete.") + " Restart the applications to pick up new identifiers.\n")
	default:
		sb.WriteString(colorize(colorRed, "Nothing was reset.") + "\n")
	}
	return sb.String()
}

func outcomeSymbol(o mutator.Outcome) string {
	switch o {
	case mutator.OutcomeMutated:
		return colorize(colorGreen, "✓")
	case mutator.OutcomeUnchanged:
		return colorize(colorGray, "=")
	case mutator.OutcomeSkipped:
		return colorize(colorGray, "-")
	default:
		return colorize(colorRed, "✗")
	}
}

func shortMode(m mutator.Mode) string {
	switch m {
	case mutator.ModeReplace:
		return "replace"
	case mutator.ModeDelete:
		return "delete"
	case mutator.ModeWorkspace:
		return "workspace"
	case mutator.ModeCache:
		return "cache"
	}
	return m.String()
}

// resultDetail summarizes what happened to one artifact.
func resultDetail(res mutator.Result) string {
	switch res.Outcome {
	case mutator.OutcomeFailed:
		if res.Err != nil {
			return res.Err.Error()
		}
		return "failed"
	case mutator.OutcomeSkipped:
		return res.Reason
	}

	var parts []string
	if len(res.Changes) > 0 {
		parts = append(parts, fmt.Sprintf("%d identifier(s) replaced", len(res.Changes)))
	}
	if res.Mode != mutator.ModeReplace {
		unit := "record(s)"
		if res.Artifact.Kind == artifact.KindDirectory {
			unit = "file(s)"
		}
		parts = append(parts, fmt.Sprintf("%d %s removed", res.RecordsAffected, unit))
	}
	if res.Outcome == mutator.OutcomeUnchanged && len(parts) == 0 {
		parts = append(parts, "nothing to change")
	}
	if res.Protected {
		parts = append(parts, "protected")
	}
	return strings.Join(parts, ", ")
}

// RenderBackupTable renders backups in the order given (List returns newest
// first).
func RenderBackupTable(records []backup.Record) string {
	if len(records) == 0 {
		return "No backups found.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-16s %-9s %-8s %-40s %s\n", "Created", "Size", "Kind", "Label", "Source"))
	sb.WriteString(strings.Repeat("─", 100))
	sb.WriteString("\n")

	for _, rec := range records {
		source := rec.Source
		if source == "" {
			source = colorize(colorGray, "unknown")
		}
		sb.WriteString(fmt.Sprintf("%-16s %-9s %-8s %-40s %s\n",
			formatRelativeTime(rec.CreatedAt),
			formatSize(rec.Size),
			rec.Kind,
			truncate(rec.Label, 40),
			source))
	}
	return sb.String()
}

// RenderHistoryTable renders recorded campaigns.
func RenderHistoryTable(campaigns []*store.Campaign) string {
	if len(campaigns) == 0 {
		return "No campaigns recorded.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-5s %-16s %-20s %-6s %-6s %-6s %s\n",
		"ID", "When", "Families", "Found", "OK", "Failed", "Status"))
	sb.WriteString(strings.Repeat("─", 80))
	sb.WriteString("\n")

	for _, c := range campaigns {
		status := colorize(colorGreen, "success")
		switch {
		case c.Cancelled:
			status = colorize(colorYellow, "cancelled")
		case !c.Success:
			status = colorize(colorRed, "no changes")
		}
		sb.WriteString(fmt.Sprintf("%-5d %-16s %-20s %-6d %-6d %-6d %s\n",
			c.ID,
			formatRelativeTime(c.StartedAt),
			truncate(strings.Join(c.Families, ","), 20),
			c.Found,
			c.Succeeded,
			c.Failed,
			status))
	}
	return sb.String()
}

// RenderResultRows renders the stored results of one campaign.
func RenderResultRows(rows []*store.ResultRow) string {
	if len(rows) == 0 {
		return "No results recorded for this campaign.\n"
	}

	var sb strings.Builder
	family := ""
	for _, r := range rows {
		if r.Family != family {
			if family != "" {
				sb.WriteString("\n")
			}
			family = r.Family
			sb.WriteString(family + "\n")
		}
		detail := r.Detail
		if detail == "" {
			switch {
			case r.Changes > 0:
				detail = fmt.Sprintf("%d identifier(s) replaced", r.Changes)
			case r.Records > 0:
				detail = fmt.Sprintf("%d removed", r.Records)
			}
		}
		if r.Protected {
			if detail != "" {
				detail += ", "
			}
			detail += "protected"
		}
		sb.WriteString(fmt.Sprintf("  %-9s %-26s %-40s %s\n",
			r.Outcome,
			r.Mode,
			truncate(r.Label, 40),
			detail))
	}
	return sb.String()
}

// formatSize converts bytes to a human-readable IEC size.
func formatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// formatRelativeTime converts a timestamp to relative time (e.g., "2 days ago").
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	if time.Since(t) < time.Minute {
		return "just now"
	}
	return humanize.Time(t)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// truncateLeft keeps the end of s, which is the informative part of a path.
func truncateLeft(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[len(s)-maxLen:]
	}
	return "..." + s[len(s)-maxLen+3:]
}
