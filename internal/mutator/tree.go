package mutator

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// applyTree archives a per-project directory and removes it.
func (m *Mutator) applyTree(res *Result, opts Options) Result {
	path := res.Artifact.Path

	files := 0
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() {
			files++
		}
		return nil
	})
	if err != nil {
		return res.fail(fmt.Errorf("failed to walk %s: %w", path, err))
	}

	if opts.Backup {
		rec := m.backups.BackupDirectory(path, res.Artifact.Label)
		if rec == nil {
			m.log.Warn("directory backup failed, continuing without one", "path", path)
		} else {
			if len(rec.Failures) > 0 {
				m.log.Warn("directory backup is incomplete", "path", path, "failed", len(rec.Failures))
			}
			res.addBackup(rec)
		}
	}

	if err := os.RemoveAll(path); err != nil {
		return res.fail(fmt.Errorf("failed to remove %s: %w", path, err))
	}
	res.RecordsAffected = int64(files)
	return res.succeed(OutcomeMutated)
}
