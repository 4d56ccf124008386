package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/blackwell-systems/idreset/internal/logging"
)

// RestoreFile overwrites target with the contents of backupPath, creating
// target's parent directories when missing. It returns false on any I/O
// failure.
func (m *Manager) RestoreFile(backupPath, target string) bool {
	if _, err := os.Stat(backupPath); err != nil {
		m.log.Error("backup file does not exist", "backup", backupPath, logging.KeyError, err)
		return false
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		m.log.Error("failed to create restore target directory", logging.KeyPath, target, logging.KeyError, err)
		return false
	}

	// Copy next to the target and rename so a failed copy leaves the
	// target untouched.
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".restore-*")
	if err != nil {
		m.log.Error("failed to stage restore", logging.KeyPath, target, logging.KeyError, err)
		return false
	}
	tmpName := tmp.Name()
	tmp.Close()

	if err := copyFile(backupPath, tmpName); err != nil {
		os.Remove(tmpName)
		m.log.Error("failed to restore backup", "backup", backupPath, logging.KeyPath, target, logging.KeyError, err)
		return false
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		m.log.Error("failed to restore backup", "backup", backupPath, logging.KeyPath, target, logging.KeyError, err)
		return false
	}

	m.log.Info("restored backup", "backup", backupPath, logging.KeyPath, target)
	return true
}

// Locator maps a backup label to the path it was taken from. It reports
// false when the label does not identify a path on its own.
type Locator func(label string) (string, bool)

// AutoRestoreResult is the outcome of AutoRestore.
type AutoRestoreResult struct {
	Backup   *Record
	Target   string
	Restored bool
	Err      error
}

// AutoRestore restores the newest backup whose name contains pattern. The
// target comes from the catalog when it knows the backup, otherwise from
// locate. A backup whose target cannot be determined is reported in Err and
// left alone.
func (m *Manager) AutoRestore(pattern string, locate Locator) AutoRestoreResult {
	records, err := m.List(pattern)
	if err != nil {
		return AutoRestoreResult{Err: err}
	}
	if len(records) == 0 {
		return AutoRestoreResult{Err: fmt.Errorf("no backups found matching pattern: %s", pattern)}
	}

	latest := records[0]
	res := AutoRestoreResult{Backup: &latest, Target: latest.Source}
	if res.Target == "" && locate != nil {
		if target, ok := locate(latest.Label); ok {
			res.Target = target
		}
	}
	if res.Target == "" {
		res.Err = fmt.Errorf("cannot determine original path for backup: %s", filepath.Base(latest.Path))
		return res
	}

	if latest.Kind == KindArchive {
		res.Restored = m.RestoreDirectory(latest.Path, res.Target)
	} else {
		res.Restored = m.RestoreFile(latest.Path, res.Target)
	}
	if !res.Restored {
		res.Err = fmt.Errorf("failed to restore %s to %s", filepath.Base(latest.Path), res.Target)
	}
	return res
}

// Verify checks that a backup is readable: archives must decompress with
// valid checksums, JSON must parse, anything else must be readable.
func (m *Manager) Verify(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ArchiveExt:
		zr, err := zip.OpenReader(path)
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		defer zr.Close()
		for _, f := range zr.File {
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("failed to open entry %s: %w", f.Name, err)
			}
			_, err = io.Copy(io.Discard, rc)
			rc.Close()
			if err != nil {
				return fmt.Errorf("corrupt entry %s: %w", f.Name, err)
			}
		}
		return nil
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read backup: %w", err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("backup %s is not valid JSON", filepath.Base(path))
		}
		return nil
	default:
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open backup: %w", err)
		}
		defer f.Close()
		if _, err := f.Read(make([]byte, 1024)); err != nil && err != io.EOF {
			return fmt.Errorf("failed to read backup: %w", err)
		}
		return nil
	}
}
