package mutator

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/blackwell-systems/idreset/internal/artifact"
	"github.com/blackwell-systems/idreset/internal/identifier"
	"github.com/blackwell-systems/idreset/internal/protect"
)

func TestApplyDeleteRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.vscdb")
	newTestDB(t, path,
		"CREATE TABLE ItemTable (key TEXT, value BLOB)",
		"INSERT INTO ItemTable VALUES ('plugin.state', 'user-augment-session-42')",
		"INSERT INTO ItemTable VALUES ('augment.token', 'x')",
		"INSERT INTO ItemTable VALUES ('editor.fontSize', '14')",
		"CREATE TABLE counters (n INTEGER)",
		"INSERT INTO counters VALUES (1)",
	)

	before := countRows(t, path, "SELECT COUNT(*) FROM ItemTable WHERE key LIKE ? OR value LIKE ?", "%augment%", "%augment%")
	total := countRows(t, path, "SELECT COUNT(*) FROM ItemTable")

	m, _ := newTestMutator(t)
	opts := Options{Mode: ModeDelete, Backup: true, Patterns: []string{"%augment%"}}
	res := m.Apply(artifact.Artifact{Path: path, Kind: artifact.KindDatabase}, opts)
	if !res.Success || res.Outcome != OutcomeMutated {
		t.Fatalf("Apply() = %+v", res)
	}
	if res.RecordsAffected != int64(before) {
		t.Errorf("RecordsAffected = %d, want %d", res.RecordsAffected, before)
	}
	if n := countRows(t, path, "SELECT COUNT(*) FROM ItemTable WHERE key LIKE ? OR value LIKE ?", "%augment%", "%augment%"); n != 0 {
		t.Errorf("%d matching rows remain", n)
	}
	if n := countRows(t, path, "SELECT COUNT(*) FROM ItemTable"); n != total-before {
		t.Errorf("row count = %d, want %d", n, total-before)
	}
	if n := countRows(t, path, "SELECT COUNT(*) FROM counters"); n != 1 {
		t.Errorf("non-text table changed: %d rows", n)
	}
	if res.Backup() == nil {
		t.Error("no backup record")
	}

	again := m.Apply(artifact.Artifact{Path: path, Kind: artifact.KindDatabase}, opts)
	if !again.Success || again.RecordsAffected != 0 || again.Outcome != OutcomeUnchanged {
		t.Errorf("second Apply() = %+v, want zero deletions", again)
	}
}

func TestApplyDeleteCleansShadowCopy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.vscdb")
	shadow := path + ".backup"
	for _, p := range []string{path, shadow} {
		newTestDB(t, p,
			"CREATE TABLE ItemTable (key TEXT, value BLOB)",
			"INSERT INTO ItemTable VALUES ('telemetry.lastSession', '1')",
			"INSERT INTO ItemTable VALUES ('keep', '2')",
		)
	}

	m, _ := newTestMutator(t)
	res := m.Apply(artifact.Artifact{Path: path, Label: "vscode_state.vscdb"}, Options{
		Mode:     ModeDelete,
		Backup:   true,
		Patterns: ExpandKeyword("telemetry"),
	})
	if !res.Success {
		t.Fatalf("Apply() = %+v", res)
	}
	if res.RecordsAffected != 2 {
		t.Errorf("RecordsAffected = %d, want 2 (one per file)", res.RecordsAffected)
	}
	if len(res.Backups) != 2 {
		t.Errorf("got %d backups, want 2", len(res.Backups))
	}
	if n := countRows(t, shadow, "SELECT COUNT(*) FROM ItemTable"); n != 1 {
		t.Errorf("shadow copy has %d rows, want 1", n)
	}
}

func TestApplyDatabaseSkipsNonSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	writeTestFile(t, path, "this is not a database at all")

	m, _ := newTestMutator(t)
	for _, mode := range []Mode{ModeReplace, ModeDelete} {
		res := m.Apply(artifact.Artifact{Path: path, Kind: artifact.KindDatabase}, Options{Mode: mode, Patterns: []string{"%a%"}})
		if res.Outcome != OutcomeSkipped || !res.Success || res.Err != nil {
			t.Errorf("Apply(%v) = %+v, want skipped", mode, res)
		}
	}
}

func TestApplyDatabaseCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.db")
	garbage := make([]byte, 4096)
	copy(garbage, SQLiteMagic)
	for i := len(SQLiteMagic); i < len(garbage); i++ {
		garbage[i] = 0xff
	}
	if err := os.WriteFile(path, garbage, 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	m, _ := newTestMutator(t)
	res := m.Apply(artifact.Artifact{Path: path}, Options{Mode: ModeDelete, Patterns: []string{"%a%"}})
	if res.Success || res.Outcome != OutcomeFailed || res.Err == nil {
		t.Errorf("Apply() = %+v, want failure", res)
	}
}

func TestApplySubstituteKeyValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.vscdb")
	newTestDB(t, path,
		"CREATE TABLE ItemTable (key TEXT UNIQUE ON CONFLICT REPLACE, value BLOB)",
		"INSERT INTO ItemTable VALUES ('telemetry.machineId', 'abc')",
		`INSERT INTO ItemTable VALUES ('telemetry.devDeviceId', '"quoted"')`,
		"INSERT INTO ItemTable VALUES ('other', 'keep')",
		"CREATE TABLE blobs (id INTEGER PRIMARY KEY, data TEXT)",
		`INSERT INTO blobs (data) VALUES ('{"telemetry.sqmId": "old", "x": 1}')`,
		`INSERT INTO blobs (data) VALUES ('mentions telemetry.sqmId but is not JSON')`,
	)

	m, _ := newTestMutator(t)
	res := m.Apply(artifact.Artifact{Path: path}, Options{Mode: ModeReplace, Backup: true})
	if !res.Success || res.Outcome != OutcomeMutated {
		t.Fatalf("Apply() = %+v", res)
	}
	if len(res.Changes) != 3 {
		t.Fatalf("Changes = %+v, want 3", res.Changes)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	var machineID, deviceID, other, data string
	db.QueryRow("SELECT value FROM ItemTable WHERE key = 'telemetry.machineId'").Scan(&machineID)
	db.QueryRow("SELECT value FROM ItemTable WHERE key = 'telemetry.devDeviceId'").Scan(&deviceID)
	db.QueryRow("SELECT value FROM ItemTable WHERE key = 'other'").Scan(&other)
	db.QueryRow("SELECT data FROM blobs WHERE id = 1").Scan(&data)

	if !identifier.Valid(identifier.Hex, machineID) {
		t.Errorf("machineId = %q, want 64 hex chars", machineID)
	}
	var unquoted string
	if err := json.Unmarshal([]byte(deviceID), &unquoted); err != nil || !identifier.Valid(identifier.UUID, unquoted) {
		t.Errorf("devDeviceId = %q, want a JSON-quoted UUID", deviceID)
	}
	if other != "keep" {
		t.Errorf("unrelated row changed: %q", other)
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		t.Fatalf("embedded JSON broken: %v", err)
	}
	if s, _ := obj["telemetry.sqmId"].(string); !identifier.Valid(identifier.Hash, s) {
		t.Errorf("embedded sqmId = %v, want hash", obj["telemetry.sqmId"])
	}

	values, err := m.Peek(artifact.Artifact{Path: path})
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}
	if values["ItemTable.telemetry.machineId"] != machineID {
		t.Errorf("Peek() machineId = %q, want %q", values["ItemTable.telemetry.machineId"], machineID)
	}
	if values["ItemTable.telemetry.devDeviceId"] != unquoted {
		t.Errorf("Peek() devDeviceId = %q, want %q", values["ItemTable.telemetry.devDeviceId"], unquoted)
	}
}

func TestApplySubstituteNothingToReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	newTestDB(t, path, "CREATE TABLE t (name TEXT)", "INSERT INTO t VALUES ('x')")

	m, backups := newTestMutator(t)
	res := m.Apply(artifact.Artifact{Path: path}, Options{Mode: ModeReplace, Backup: true, Protect: true})
	if !res.Success || res.Outcome != OutcomeUnchanged || res.Protected {
		t.Errorf("Apply() = %+v, want unchanged and unprotected", res)
	}
	if len(res.Backups) != 0 {
		t.Errorf("Backups = %+v, want none for an unchanged database", res.Backups)
	}
	if records, _ := backups.List(""); len(records) != 0 {
		t.Errorf("backup files written for an unchanged database: %v", records)
	}
}

func TestApplyDeleteNothingMatchesMakesNoBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.vscdb")
	for _, p := range []string{path, path + ".backup"} {
		newTestDB(t, p, "CREATE TABLE ItemTable (key TEXT, value BLOB)", "INSERT INTO ItemTable VALUES ('keep', '1')")
	}

	m, backups := newTestMutator(t)
	res := m.Apply(artifact.Artifact{Path: path}, Options{Mode: ModeDelete, Backup: true, Patterns: []string{"%augment%"}})
	if !res.Success || res.Outcome != OutcomeUnchanged {
		t.Fatalf("Apply() = %+v, want unchanged", res)
	}
	if records, _ := backups.List(""); len(records) != 0 {
		t.Errorf("backup files written for an unchanged database: %v", records)
	}
}

func TestApplyDatabaseUnchangedStaysProtected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.vscdb")
	newTestDB(t, path,
		"CREATE TABLE ItemTable (key TEXT, value BLOB)",
		"INSERT INTO ItemTable VALUES ('editor.fontSize', '14')",
	)

	ctl := protect.New()
	if !ctl.Protect(path) {
		t.Fatal("Protect() failed")
	}
	t.Cleanup(func() { ctl.Unprotect(path) })

	m, _ := newTestMutator(t)
	for _, mode := range []Mode{ModeReplace, ModeDelete} {
		res := m.Apply(artifact.Artifact{Path: path}, Options{Mode: mode, Protect: true, Patterns: []string{"%augment%"}})
		if !res.Success || res.Outcome != OutcomeUnchanged {
			t.Errorf("Apply(%v) = %+v, want unchanged", mode, res)
		}
		if !ctl.IsProtected(path) {
			t.Errorf("Apply(%v) left a protected database writable", mode)
		}
	}
}

func TestApplySubstituteProtectedDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.vscdb")
	newTestDB(t, path,
		"CREATE TABLE ItemTable (key TEXT, value BLOB)",
		"INSERT INTO ItemTable VALUES ('telemetry.machineId', 'abc')",
	)

	ctl := protect.New()
	if !ctl.Protect(path) {
		t.Fatal("Protect() failed")
	}
	t.Cleanup(func() { ctl.Unprotect(path) })

	m, _ := newTestMutator(t)
	res := m.Apply(artifact.Artifact{Path: path}, Options{Mode: ModeReplace, Protect: true})
	if !res.Success || res.Outcome != OutcomeMutated || !res.Protected {
		t.Fatalf("Apply() = %+v, want mutated and protected", res)
	}
	if !ctl.IsProtected(path) {
		t.Error("database not protected after Apply()")
	}
}

func TestPeekFiles(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "PermanentUserId")
	writeTestFile(t, plain, "abc\n")
	cfg := filepath.Join(dir, "storage.json")
	writeTestFile(t, cfg, `{"telemetry.sqmId": "s", "other": 1}`)

	m, _ := newTestMutator(t)
	got, err := m.Peek(artifact.Artifact{Path: plain})
	if err != nil || got["PermanentUserId"] != "abc" {
		t.Errorf("Peek(plain) = %v, %v", got, err)
	}
	got, err = m.Peek(artifact.Artifact{Path: cfg})
	if err != nil || len(got) != 1 || got["telemetry.sqmId"] != "s" {
		t.Errorf("Peek(json) = %v, %v", got, err)
	}
	if _, err := m.Peek(artifact.Artifact{Path: filepath.Join(dir, "machineId")}); err == nil {
		t.Error("Peek() of a missing identifier file returned no error")
	}
}
