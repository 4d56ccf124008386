// Package mutator classifies discovered artifacts and rewrites or deletes
// the identifying data they hold.
//
// Every write follows the same bracket: back up, unprotect if protected,
// write, protect. Protection is always the last step.
package mutator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/blackwell-systems/idreset/internal/artifact"
	"github.com/blackwell-systems/idreset/internal/backup"
	"github.com/blackwell-systems/idreset/internal/identifier"
	"github.com/blackwell-systems/idreset/internal/logging"
)

// SQLiteMagic is the 16-byte header every SQLite 3 database starts with.
const SQLiteMagic = "SQLite format 3\x00"

// TelemetryKeys are the identifier keys replaced in JSON configs and
// key/value databases.
var TelemetryKeys = []string{
	"telemetry.machineId",
	"telemetry.devDeviceId",
	"telemetry.macMachineId",
	"telemetry.sqmId",
}

// SafetyChecker guards destructive operations against paths outside the
// expected territory. *paths.Resolver implements it.
type SafetyChecker interface {
	IsPathSafe(path string) bool
}

// Backupper copies artifacts aside. *backup.Manager implements it.
type Backupper interface {
	BackupFile(path, label string) *backup.Record
	BackupDirectory(path, label string) *backup.Record
}

// Protector toggles immutability. *protect.Controller implements it.
type Protector interface {
	Protect(path string) bool
	Unprotect(path string) bool
	IsProtected(path string) bool
}

// Mutator applies mutations. It holds no state between calls.
type Mutator struct {
	safety    SafetyChecker
	backups   Backupper
	protector Protector
	plain     map[string]bool
	newID     func(field string) string
	log       *slog.Logger
}

// New creates a Mutator. identifierFiles are the file names (or relative
// paths) classified as plain identifier files.
func New(safety SafetyChecker, backups Backupper, protector Protector, identifierFiles []string) *Mutator {
	plain := make(map[string]bool, len(identifierFiles))
	for _, f := range identifierFiles {
		plain[filepath.Base(filepath.FromSlash(f))] = true
	}
	return &Mutator{
		safety:    safety,
		backups:   backups,
		protector: protector,
		plain:     plain,
		newID:     identifier.ForField,
		log:       logging.L("mutator"),
	}
}

// Classify decides what kind of artifact path is. Rules, first match wins:
// known identifier file name, .json extension, directory, SQLite header.
// Anything else is unrecognized.
func (m *Mutator) Classify(path string) artifact.Kind {
	name := filepath.Base(path)
	if m.plain[name] {
		return artifact.KindPlainIdentifier
	}
	if strings.EqualFold(filepath.Ext(name), ".json") {
		return artifact.KindJSONConfig
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return artifact.KindDirectory
	}
	if IsSQLite(path) {
		return artifact.KindDatabase
	}
	return artifact.KindUnrecognized
}

// IsSQLite reports whether path starts with the SQLite header.
func IsSQLite(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, len(SQLiteMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return bytes.Equal(header, []byte(SQLiteMagic))
}

// Apply mutates one artifact according to opts. It never panics on I/O and
// always returns a Result; per-artifact problems are reported in it.
func (m *Mutator) Apply(a artifact.Artifact, opts Options) Result {
	if a.Kind == artifact.KindUnrecognized {
		a.Kind = m.Classify(a.Path)
	}
	res := &Result{Artifact: a, Mode: opts.Mode}

	if !m.safety.IsPathSafe(a.Path) {
		return res.fail(fmt.Errorf("%s: %w", a.Path, ErrUnsafePath))
	}

	log := m.log.With(logging.KeyPath, a.Path, "kind", a.Kind.String(), "mode", opts.Mode.String())
	log.Debug("applying mutation")

	var out Result
	switch a.Kind {
	case artifact.KindPlainIdentifier:
		if opts.Mode != ModeReplace {
			return res.skip("identifier files are only rewritten in replace mode")
		}
		out = m.applyPlain(res, opts)
	case artifact.KindJSONConfig:
		if opts.Mode != ModeReplace {
			return res.skip("config files are only rewritten in replace mode")
		}
		out = m.applyJSON(res, opts)
	case artifact.KindDatabase:
		if opts.Mode == ModeReplace {
			out = m.applySubstitute(res, opts)
		} else {
			out = m.applyDelete(res, opts)
		}
	case artifact.KindDirectory:
		if opts.Mode != ModeWorkspace && opts.Mode != ModeCache {
			return res.skip("directories are only removed in workspace and cache modes")
		}
		out = m.applyTree(res, opts)
	default:
		return res.skip("not a recognized artifact")
	}

	switch out.Outcome {
	case OutcomeFailed:
		log.Warn("mutation failed", logging.KeyError, out.Err)
	case OutcomeSkipped:
		log.Info("skipped", "reason", out.Reason)
	default:
		log.Info("mutation finished", "outcome", out.Outcome.String(), "changes", len(out.Changes), "records", out.RecordsAffected)
	}
	return out
}

// backupFile is the first step of every write. A failed backup is a
// warning; the write still goes ahead.
func (m *Mutator) backupFile(res *Result, path, label string, opts Options) {
	if !opts.Backup {
		return
	}
	rec := m.backups.BackupFile(path, label)
	if rec == nil {
		m.log.Warn("backup failed, continuing without one", logging.KeyPath, path)
		return
	}
	res.addBackup(rec)
}

// generate returns a fresh value for field and checks it has the shape the
// field needs before anything is written.
func (m *Mutator) generate(field string) (string, error) {
	kind := identifier.KindForField(field)
	v := m.newID(field)
	if !identifier.Valid(kind, v) {
		return "", fmt.Errorf("generated %s value for %s is malformed: %q", kind, field, v)
	}
	return v, nil
}

// unlock makes path writable if it is protected.
func (m *Mutator) unlock(path string) error {
	if !m.protector.IsProtected(path) {
		return nil
	}
	if !m.protector.Unprotect(path) {
		return fmt.Errorf("failed to unprotect %s", path)
	}
	return nil
}

// lock protects path when requested. It is only called after the last
// write to path.
func (m *Mutator) lock(res *Result, path string, opts Options) {
	if opts.Protect {
		res.Protected = m.protector.Protect(path)
	}
}

// writeFile writes data, creating a missing parent directory and retrying
// once.
func writeFile(path string, data []byte) error {
	err := os.WriteFile(path, data, 0644)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ExpandKeyword turns a keyword into LIKE patterns for its lower, title and
// upper case forms.
func ExpandKeyword(keyword string) []string {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil
	}
	lower := strings.ToLower(keyword)
	runes := []rune(lower)
	forms := []string{
		lower,
		string(unicode.ToUpper(runes[0])) + string(runes[1:]),
		strings.ToUpper(lower),
	}
	var patterns []string
	seen := make(map[string]bool)
	for _, f := range forms {
		p := "%" + f + "%"
		if !seen[p] {
			seen[p] = true
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// DeletionPatterns builds the pattern list for the deletion modes from
// configured keywords, plus the deep patterns when deep is set.
func DeletionPatterns(keywords, deepPatterns []string, deep bool) []string {
	var patterns []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			patterns = append(patterns, p)
		}
	}
	for _, kw := range keywords {
		for _, p := range ExpandKeyword(kw) {
			add(p)
		}
	}
	if deep {
		for _, p := range deepPatterns {
			add(strings.TrimSpace(p))
		}
	}
	return patterns
}
