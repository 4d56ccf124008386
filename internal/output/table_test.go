package output

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blackwell-systems/idreset/internal/artifact"
	"github.com/blackwell-systems/idreset/internal/backup"
	"github.com/blackwell-systems/idreset/internal/campaign"
	"github.com/blackwell-systems/idreset/internal/mutator"
	"github.com/blackwell-systems/idreset/internal/store"
)

func TestMain(m *testing.M) {
	// Keep table output free of escape codes.
	os.Setenv("NO_COLOR", "1")
	os.Exit(m.Run())
}

func assertContains(t *testing.T, got string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(got, w) {
			t.Errorf("output missing %q:\n%s", w, got)
		}
	}
}

func TestRenderArtifactTable(t *testing.T) {
	if got := RenderArtifactTable(nil); got != "No artifacts found.\n" {
		t.Errorf("empty table = %q", got)
	}

	dir := t.TempDir()
	existing := filepath.Join(dir, "storage.json")
	if err := os.WriteFile(existing, make([]byte, 2048), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got := RenderArtifactTable([]artifact.Artifact{
		{Path: existing, Kind: artifact.KindJSONConfig, Scope: artifact.ScopeConfig},
		{Path: filepath.Join(dir, "PermanentUserId"), Kind: artifact.KindPlainIdentifier, Scope: artifact.ScopeIdentity},
	})
	assertContains(t, got, "config", "json-config", "2.0 KiB", "identity", "missing")
}

func TestRenderValues(t *testing.T) {
	got := RenderValues(map[string]string{
		"vscode_VSCode_machineId":                        "abc",
		"vscode_VSCode_storage.json:telemetry.machineId": "",
	})
	assertContains(t, got, "abc", "(empty)")
	if strings.Index(got, "machineId  ") > strings.Index(got, "storage.json") {
		t.Errorf("values not sorted:\n%s", got)
	}
	if got := RenderValues(nil); got != "No identifiers found.\n" {
		t.Errorf("empty values = %q", got)
	}
}

func TestRenderReport(t *testing.T) {
	started := time.Now()
	report := &campaign.Report{
		Families: []campaign.FamilyReport{
			{
				Family: "vscode",
				Found:  3,
				Results: []mutator.Result{
					{
						Artifact:  artifact.Artifact{Label: "vscode_VSCode_machineId"},
						Mode:      mutator.ModeReplace,
						Outcome:   mutator.OutcomeMutated,
						Changes:   []mutator.Change{{Field: "machineId"}},
						Protected: true,
					},
					{
						Artifact:        artifact.Artifact{Label: "vscode_VSCode_state.vscdb", Kind: artifact.KindDatabase},
						Mode:            mutator.ModeDelete,
						Outcome:         mutator.OutcomeMutated,
						RecordsAffected: 7,
					},
					{
						Artifact: artifact.Artifact{Label: "vscode_VSCode_workspace_abc_state.vscdb"},
						Mode:     mutator.ModeWorkspace,
						Outcome:  mutator.OutcomeFailed,
						Err:      errors.New("database is locked"),
					},
				},
			},
			{Family: "jetbrains"},
		},
		Found:      3,
		Succeeded:  2,
		Failed:     1,
		Success:    true,
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
	}

	got := RenderReport(report)
	assertContains(t, got,
		"vscode (3 found)",
		"1 identifier(s) replaced, protected",
		"7 record(s) removed",
		"database is locked",
		"jetbrains (0 found)",
		"nothing to do",
		"Found 3, succeeded 2, failed 1, skipped 0",
		"1.5s",
		"Reset complete.",
	)

	report.Success = false
	assertContains(t, RenderReport(report), "Nothing was reset.")
	report.Cancelled = true
	assertContains(t, RenderReport(report), "Cancelled")
}

func TestResultDetail(t *testing.T) {
	tests := []struct {
		name string
		res  mutator.Result
		want string
	}{
		{
			name: "unchanged config",
			res:  mutator.Result{Mode: mutator.ModeReplace, Outcome: mutator.OutcomeUnchanged},
			want: "nothing to change",
		},
		{
			name: "skipped",
			res:  mutator.Result{Outcome: mutator.OutcomeSkipped, Reason: "not a recognized artifact"},
			want: "not a recognized artifact",
		},
		{
			name: "directory removed",
			res: mutator.Result{
				Artifact:        artifact.Artifact{Kind: artifact.KindDirectory},
				Mode:            mutator.ModeWorkspace,
				Outcome:         mutator.OutcomeMutated,
				RecordsAffected: 4,
			},
			want: "4 file(s) removed",
		},
		{
			name: "nothing deleted",
			res:  mutator.Result{Mode: mutator.ModeDelete, Outcome: mutator.OutcomeUnchanged},
			want: "0 record(s) removed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resultDetail(tt.res); got != tt.want {
				t.Errorf("resultDetail() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderBackupTable(t *testing.T) {
	if got := RenderBackupTable(nil); got != "No backups found.\n" {
		t.Errorf("empty table = %q", got)
	}
	got := RenderBackupTable([]backup.Record{
		{
			Source:    "/cfg/JetBrains/PermanentDeviceId",
			Label:     "jetbrains_PermanentDeviceId",
			CreatedAt: time.Now().Add(-2 * time.Hour),
			Kind:      backup.KindFile,
			Size:      36,
		},
		{
			Label:     "vscode_VSCode_workspace_abc_plugin",
			CreatedAt: time.Now().Add(-48 * time.Hour),
			Kind:      backup.KindArchive,
			Size:      3 << 20,
		},
	})
	assertContains(t, got,
		"jetbrains_PermanentDeviceId", "/cfg/JetBrains/PermanentDeviceId", "36 B", "2 hours ago",
		"archive", "3.0 MiB", "2 days ago", "unknown",
	)
}

func TestRenderHistoryTable(t *testing.T) {
	if got := RenderHistoryTable(nil); got != "No campaigns recorded.\n" {
		t.Errorf("empty table = %q", got)
	}
	got := RenderHistoryTable([]*store.Campaign{
		{ID: 2, StartedAt: time.Now(), Families: []string{"vscode", "jetbrains"}, Found: 5, Succeeded: 5, Success: true},
		{ID: 1, StartedAt: time.Now().Add(-time.Hour), Families: []string{"vscode"}, Cancelled: true},
	})
	assertContains(t, got, "vscode,jetbrains", "success", "cancelled", "just now")
}

func TestRenderResultRows(t *testing.T) {
	if got := RenderResultRows(nil); got != "No results recorded for this campaign.\n" {
		t.Errorf("empty rows = %q", got)
	}

	got := RenderResultRows([]*store.ResultRow{
		{Family: "jetbrains", Label: "jetbrains_PermanentDeviceId", Mode: "identifier-replacement", Outcome: "mutated", Changes: 1, Protected: true},
		{Family: "vscode", Label: "vscode_VSCode_state.vscdb", Mode: "record-deletion", Outcome: "mutated", Records: 4},
		{Family: "vscode", Label: "vscode_VSCode_storage.json", Mode: "identifier-replacement", Outcome: "failed", Detail: "permission denied"},
	})
	assertContains(t, got,
		"jetbrains\n",
		"1 identifier(s) replaced, protected",
		"vscode\n",
		"4 removed",
		"permission denied",
	)
	if n := strings.Count(got, "vscode\n"); n != 1 {
		t.Errorf("family header printed %d times, want 1", n)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
		left string
	}{
		{"short", 10, "short", "short"},
		{"abcdefghij", 8, "abcde...", "...fghij"},
		{"abcdef", 3, "abc", "def"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
		if got := truncateLeft(tt.in, tt.max); got != tt.left {
			t.Errorf("truncateLeft(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.left)
		}
	}
}
