package mutator

import (
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/blackwell-systems/idreset/internal/artifact"
	"github.com/blackwell-systems/idreset/internal/backup"
	"github.com/blackwell-systems/idreset/internal/identifier"
	"github.com/blackwell-systems/idreset/internal/protect"
)

type allowAll struct{}

func (allowAll) IsPathSafe(string) bool { return true }

type denyAll struct{}

func (denyAll) IsPathSafe(string) bool { return false }

var testIdentifierFiles = []string{"PermanentDeviceId", "PermanentUserId", "machineId", "User/machineId"}

func newTestMutator(t *testing.T) (*Mutator, *backup.Manager) {
	t.Helper()
	backups := backup.New(filepath.Join(t.TempDir(), "backups"), nil)
	return New(allowAll{}, backups, protect.New(), testIdentifierFiles), backups
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

// newTestDB creates a SQLite file and runs stmts against it.
func newTestDB(t *testing.T, path string, stmts ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to exec %q: %v", stmt, err)
		}
	}
}

func countRows(t *testing.T, path, query string, args ...any) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("Failed to query %q: %v", query, err)
	}
	return n
}

func TestClassify(t *testing.T) {
	dir := t.TempDir()
	m, _ := newTestMutator(t)

	writeTestFile(t, filepath.Join(dir, "PermanentDeviceId"), "x")
	writeTestFile(t, filepath.Join(dir, "storage.json"), "{}")
	writeTestFile(t, filepath.Join(dir, "notes.txt"), "hello")
	writeTestFile(t, filepath.Join(dir, "fake.db"), "not really a database")
	newTestDB(t, filepath.Join(dir, "state.vscdb"), "CREATE TABLE t (v TEXT)")
	os.MkdirAll(filepath.Join(dir, "ext"), 0755)

	tests := []struct {
		name string
		want artifact.Kind
	}{
		{"PermanentDeviceId", artifact.KindPlainIdentifier},
		{"machineId", artifact.KindPlainIdentifier}, // not on disk yet
		{"storage.json", artifact.KindJSONConfig},
		{"state.vscdb", artifact.KindDatabase},
		{"ext", artifact.KindDirectory},
		{"fake.db", artifact.KindUnrecognized},
		{"notes.txt", artifact.KindUnrecognized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Classify(filepath.Join(dir, tt.name)); got != tt.want {
				t.Errorf("Classify(%s) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestApplyPlainIdentifier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "JetBrains", "PermanentDeviceId")
	writeTestFile(t, path, "old-value-123")

	m, _ := newTestMutator(t)
	res := m.Apply(artifact.Artifact{Path: path, Label: "jetbrains_PermanentDeviceId"}, Options{Mode: ModeReplace, Backup: true})

	if !res.Success || res.Err != nil || res.Outcome != OutcomeMutated {
		t.Fatalf("Apply() = %+v", res)
	}
	got, _ := os.ReadFile(path)
	if !identifier.Valid(identifier.UUID, string(got)) {
		t.Errorf("file content %q is not a UUID", got)
	}
	if prior, ok := res.PriorValue(); !ok || prior != "old-value-123" {
		t.Errorf("PriorValue() = %q, %v", prior, ok)
	}
	if v, _ := res.NewValue(); v != string(got) {
		t.Errorf("NewValue() = %q, file holds %q", v, got)
	}

	rec := res.Backup()
	if rec == nil {
		t.Fatal("no backup record")
	}
	saved, err := os.ReadFile(rec.Path)
	if err != nil {
		t.Fatalf("Failed to read backup: %v", err)
	}
	if string(saved) != "old-value-123" {
		t.Errorf("backup content = %q, want old-value-123", saved)
	}
}

func TestApplyPlainIdentifierProtectedTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machineId")
	writeTestFile(t, path, "first")

	m, _ := newTestMutator(t)
	ctl := protect.New()
	t.Cleanup(func() { ctl.Unprotect(path) })

	opts := Options{Mode: ModeReplace, Protect: true}
	res := m.Apply(artifact.Artifact{Path: path}, opts)
	if !res.Success || !res.Protected {
		t.Fatalf("first Apply() = %+v", res)
	}
	if !ctl.IsProtected(path) {
		t.Fatal("file not protected after Apply()")
	}
	first, _ := os.ReadFile(path)
	if !identifier.Valid(identifier.Hex, string(first)) {
		t.Errorf("machineId content %q is not a 64-char hex token", first)
	}

	res = m.Apply(artifact.Artifact{Path: path}, opts)
	if !res.Success {
		t.Fatalf("second Apply() on a protected file = %+v", res)
	}
	second, _ := os.ReadFile(path)
	if string(second) == string(first) {
		t.Error("second Apply() did not change the value")
	}
}

func TestApplyPlainIdentifierCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "JetBrains", "new", "PermanentUserId")

	m, _ := newTestMutator(t)
	res := m.Apply(artifact.Artifact{Path: path}, Options{Mode: ModeReplace, Backup: true})
	if !res.Success {
		t.Fatalf("Apply() = %+v", res)
	}
	if _, known := res.PriorValue(); known {
		t.Error("PriorValue() reported a value for a file that did not exist")
	}
	if res.Backup() != nil {
		t.Error("backup recorded for a file that did not exist")
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("file not created: %v", err)
	}
	if !identifier.Valid(identifier.UUID, string(got)) {
		t.Errorf("content %q is not a UUID", got)
	}
}

func TestApplyJSONConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	writeTestFile(t, path, `{"telemetry.machineId": "abc", "unrelated.key": "keep-me"}`)

	m, _ := newTestMutator(t)
	res := m.Apply(artifact.Artifact{Path: path}, Options{Mode: ModeReplace, Backup: true})
	if !res.Success || res.Outcome != OutcomeMutated {
		t.Fatalf("Apply() = %+v", res)
	}

	data, _ := os.ReadFile(path)
	var got map[string]string
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if !identifier.Valid(identifier.Hex, got["telemetry.machineId"]) {
		t.Errorf("telemetry.machineId = %q, want 64 hex chars", got["telemetry.machineId"])
	}
	if got["unrelated.key"] != "keep-me" {
		t.Errorf("unrelated.key = %q, want keep-me", got["unrelated.key"])
	}

	want := []Change{{Field: "telemetry.machineId", Old: "abc", OldKnown: true, New: got["telemetry.machineId"]}}
	if diff := cmp.Diff(want, res.Changes); diff != "" {
		t.Errorf("Changes mismatch (-want +got):\n%s", diff)
	}
	if res.Backup() == nil {
		t.Error("no backup record")
	}
}

func TestApplyJSONConfigAllKeysAndComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	writeTestFile(t, path, `{
	// written by the editor
	"telemetry.machineId": "a",
	"telemetry.devDeviceId": "b",
	"telemetry.macMachineId": "c",
	"telemetry.sqmId": "d",
	"window.zoom": 1.25,
}`)

	m, _ := newTestMutator(t)
	res := m.Apply(artifact.Artifact{Path: path}, Options{Mode: ModeReplace})
	if !res.Success || len(res.Changes) != 4 {
		t.Fatalf("Apply() = %+v", res)
	}

	data, _ := os.ReadFile(path)
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if !identifier.Valid(identifier.UUID, got["telemetry.devDeviceId"].(string)) {
		t.Errorf("devDeviceId = %v, want UUID", got["telemetry.devDeviceId"])
	}
	if !identifier.Valid(identifier.Hash, got["telemetry.macMachineId"].(string)) {
		t.Errorf("macMachineId = %v, want hash", got["telemetry.macMachineId"])
	}
	if got["window.zoom"] != 1.25 {
		t.Errorf("window.zoom = %v, want 1.25", got["window.zoom"])
	}
}

func TestApplyJSONConfigWithoutKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	original := `{"other": true}`
	writeTestFile(t, path, original)

	m, backups := newTestMutator(t)
	res := m.Apply(artifact.Artifact{Path: path}, Options{Mode: ModeReplace, Backup: true, Protect: true})
	if !res.Success || res.Outcome != OutcomeUnchanged || len(res.Changes) != 0 {
		t.Fatalf("Apply() = %+v", res)
	}
	if data, _ := os.ReadFile(path); string(data) != original {
		t.Errorf("file rewritten without changes: %s", data)
	}
	if records, _ := backups.List(""); len(records) != 0 {
		t.Errorf("backups created for an unchanged file: %v", records)
	}
	if protect.New().IsProtected(path) {
		t.Error("unchanged file was protected")
	}
}

func TestApplyJSONConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	writeTestFile(t, path, `{"telemetry.machineId": `)

	m, _ := newTestMutator(t)
	res := m.Apply(artifact.Artifact{Path: path}, Options{Mode: ModeReplace})
	if res.Success || res.Outcome != OutcomeFailed || res.Err == nil {
		t.Errorf("Apply() = %+v, want failure", res)
	}
}

func TestApplyJSONConfigKeepsUnrelatedContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	writeTestFile(t, path, `{
	"zeta": "a <b> & c",
	"telemetry.machineId": "abc",
	"alpha": {"nested": [1, 2.50, "x&y"]}
}`)

	m, _ := newTestMutator(t)
	res := m.Apply(artifact.Artifact{Path: path}, Options{Mode: ModeReplace})
	if !res.Success || res.Outcome != OutcomeMutated {
		t.Fatalf("Apply() = %+v", res)
	}

	want := "{\n" +
		"    \"zeta\": \"a <b> & c\",\n" +
		"    \"telemetry.machineId\": \"" + res.Changes[0].New + "\",\n" +
		"    \"alpha\": {\n" +
		"        \"nested\": [\n" +
		"            1,\n" +
		"            2.50,\n" +
		"            \"x&y\"\n" +
		"        ]\n" +
		"    }\n" +
		"}"
	data, _ := os.ReadFile(path)
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Errorf("storage.json mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyRejectsMalformedIdentifier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machineId")
	writeTestFile(t, path, "keep")

	m, _ := newTestMutator(t)
	m.newID = func(string) string { return "not-a-token" }
	res := m.Apply(artifact.Artifact{Path: path}, Options{Mode: ModeReplace})
	if res.Success || res.Outcome != OutcomeFailed || res.Err == nil {
		t.Errorf("Apply() = %+v, want failure", res)
	}
	if data, _ := os.ReadFile(path); string(data) != "keep" {
		t.Errorf("file written with a malformed value: %q", data)
	}
}

func TestApplyUnsafePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "PermanentDeviceId")
	writeTestFile(t, path, "keep")

	backups := backup.New(t.TempDir(), nil)
	m := New(denyAll{}, backups, protect.New(), testIdentifierFiles)
	res := m.Apply(artifact.Artifact{Path: path}, Options{Mode: ModeReplace})
	if res.Success || !errors.Is(res.Err, ErrUnsafePath) {
		t.Errorf("Apply() = %+v, want ErrUnsafePath", res)
	}
	if data, _ := os.ReadFile(path); string(data) != "keep" {
		t.Errorf("unsafe file was modified: %q", data)
	}
}

func TestApplyModeMismatchSkips(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "PermanentDeviceId")
	writeTestFile(t, plain, "x")
	tree := filepath.Join(dir, "ext")
	os.MkdirAll(tree, 0755)
	other := filepath.Join(dir, "readme.txt")
	writeTestFile(t, other, "x")

	m, _ := newTestMutator(t)
	tests := []struct {
		name string
		path string
		mode Mode
	}{
		{"plain in delete mode", plain, ModeDelete},
		{"directory in replace mode", tree, ModeReplace},
		{"directory in delete mode", tree, ModeDelete},
		{"unrecognized file", other, ModeReplace},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.Apply(artifact.Artifact{Path: tt.path}, Options{Mode: tt.mode, Patterns: []string{"%x%"}})
			if res.Outcome != OutcomeSkipped || !res.Success || res.Err != nil {
				t.Errorf("Apply() = %+v, want skipped", res)
			}
		})
	}
	if _, err := os.Stat(tree); err != nil {
		t.Errorf("directory removed outside workspace mode: %v", err)
	}
}

func TestApplyTreeRemovesDirectory(t *testing.T) {
	tree := filepath.Join(t.TempDir(), "ws", "abc", "telemetry")
	writeTestFile(t, filepath.Join(tree, "a.json"), "{}")
	writeTestFile(t, filepath.Join(tree, "sub", "b.txt"), "b")

	m, _ := newTestMutator(t)
	res := m.Apply(artifact.Artifact{Path: tree, Label: "ws_abc_telemetry"}, Options{Mode: ModeWorkspace, Backup: true})
	if !res.Success || res.Outcome != OutcomeMutated {
		t.Fatalf("Apply() = %+v", res)
	}
	if res.RecordsAffected != 2 {
		t.Errorf("RecordsAffected = %d, want 2", res.RecordsAffected)
	}
	if _, err := os.Stat(tree); !os.IsNotExist(err) {
		t.Errorf("directory still exists: %v", err)
	}
	if rec := res.Backup(); rec == nil || rec.Kind != backup.KindArchive {
		t.Errorf("Backup() = %+v, want an archive", rec)
	}
}

func TestExpandKeyword(t *testing.T) {
	if diff := cmp.Diff([]string{"%augment%", "%Augment%", "%AUGMENT%"}, ExpandKeyword("augment")); diff != "" {
		t.Errorf("ExpandKeyword() mismatch (-want +got):\n%s", diff)
	}
	if got := ExpandKeyword("  "); got != nil {
		t.Errorf("ExpandKeyword(blank) = %v", got)
	}

	got := DeletionPatterns([]string{"telemetry", "Telemetry"}, []string{"%session%", " %token% "}, true)
	want := []string{"%telemetry%", "%Telemetry%", "%TELEMETRY%", "%session%", "%token%"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DeletionPatterns() mismatch (-want +got):\n%s", diff)
	}
	if got := DeletionPatterns([]string{"x"}, []string{"%session%"}, false); len(got) != 2 {
		t.Errorf("DeletionPatterns(deep=false) = %v", got)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"identifier-replacement":    ModeReplace,
		"delete":                    ModeDelete,
		"Workspace-Scoped-Deletion": ModeWorkspace,
		"caches":                    ModeCache,
		"cache-cleaning":            ModeCache,
	} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("nuke"); err == nil {
		t.Error("ParseMode(\"nuke\") returned no error")
	}
}
