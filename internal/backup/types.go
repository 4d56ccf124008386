// Package backup copies artifacts aside before they are rewritten and puts
// them back on request.
//
// Backups are plain files in one directory. Their names carry everything
// needed to list and order them:
//
//	<label>_<YYYYMMDD_HHMMSS>[_<n>].bak   single-file copy
//	<label>_<YYYYMMDD_HHMMSS>[_<n>].zip   directory archive
//
// The optional _<n> suffix separates backups taken within the same second.
package backup

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/blackwell-systems/idreset/internal/logging"
)

// Kind distinguishes single-file copies from directory archives.
type Kind string

const (
	KindFile    Kind = "file"
	KindArchive Kind = "archive"
)

// Extensions used on disk.
const (
	FileExt     = ".bak"
	ArchiveExt  = ".zip"
	failuresExt = ".failed.json"
)

// TimestampFormat is the layout embedded in backup file names.
const TimestampFormat = "20060102_150405"

// Failure is one file that could not be added to a directory archive.
type Failure struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// Record describes one saved copy.
type Record struct {
	Source    string // empty when unknown (listed from disk without a catalog hit)
	Path      string
	Label     string
	CreatedAt time.Time
	Kind      Kind
	Size      int64
	Failures  []Failure
}

// Catalog remembers where backups came from, so that a restore does not
// have to guess the target from the label. The history store implements it.
type Catalog interface {
	RecordBackup(rec Record) error
	SourceFor(backupPath string) (string, error)
}

// Manager creates, lists, trims and restores backups in one directory.
type Manager struct {
	dir     string
	catalog Catalog
	log     *slog.Logger
	now     func() time.Time
}

// New creates a Manager writing to dir. catalog may be nil.
func New(dir string, catalog Catalog) *Manager {
	return &Manager{
		dir:     dir,
		catalog: catalog,
		log:     logging.L("backup"),
		now:     time.Now,
	}
}

// Dir returns the backup directory.
func (m *Manager) Dir() string {
	return m.dir
}

// DefaultDir returns ~/.idreset/backups when it is writable. Otherwise it
// falls back to a backups directory next to the executable, then to
// ./backups.
func DefaultDir(home string) string {
	var candidates []string
	if home != "" {
		candidates = append(candidates, filepath.Join(home, ".idreset", "backups"))
	}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "backups"))
	}
	for _, dir := range candidates {
		if writable(dir) {
			return dir
		}
		logging.L("backup").Warn("backup location not writable, trying fallback", logging.KeyPath, dir)
	}
	if abs, err := filepath.Abs("backups"); err == nil {
		return abs
	}
	return "backups"
}

// writable creates dir if needed and checks it with a throwaway file.
func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".write_test_*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
