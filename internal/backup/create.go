package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/blackwell-systems/idreset/internal/logging"
)

// BackupFile copies path into the backup directory under label. It returns
// nil when the source does not exist or the copy fails; the failure is
// logged and never returned, so callers decide whether to proceed.
func (m *Manager) BackupFile(path, label string) *Record {
	info, err := os.Stat(path)
	if err != nil {
		m.log.Warn("file does not exist, cannot back up", logging.KeyPath, path, logging.KeyError, err)
		return nil
	}
	if !info.Mode().IsRegular() {
		m.log.Warn("not a regular file, cannot back up", logging.KeyPath, path)
		return nil
	}
	if label == "" {
		label = filepath.Base(path)
	}

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		m.log.Error("failed to create backup directory", logging.KeyPath, m.dir, logging.KeyError, err)
		return nil
	}

	created := m.now()
	dest, err := m.reserve(label, created, FileExt)
	if err != nil {
		m.log.Error("failed to reserve backup name", logging.KeyPath, path, logging.KeyError, err)
		return nil
	}

	if err := copyFile(path, dest); err != nil {
		os.Remove(dest)
		m.log.Error("failed to create backup", logging.KeyPath, path, logging.KeyError, err)
		return nil
	}

	rec := &Record{
		Source:    path,
		Path:      dest,
		Label:     label,
		CreatedAt: created,
		Kind:      KindFile,
		Size:      info.Size(),
	}
	m.catalogue(rec)
	m.log.Info("created backup", logging.KeyPath, path, "backup", dest)
	return rec
}

// reserve picks a free name for label at t and creates it empty, so that two
// backups in the same second never overwrite each other.
func (m *Manager) reserve(label string, t time.Time, ext string) (string, error) {
	base := fmt.Sprintf("%s_%s", label, t.Format(TimestampFormat))
	for n := 0; n < 1000; n++ {
		name := base + ext
		if n > 0 {
			name = fmt.Sprintf("%s_%d%s", base, n, ext)
		}
		dest := filepath.Join(m.dir, name)
		f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			f.Close()
			return dest, nil
		}
		if !os.IsExist(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("too many backups named %s", base)
}

func (m *Manager) catalogue(rec *Record) {
	if m.catalog == nil {
		return
	}
	if err := m.catalog.RecordBackup(*rec); err != nil {
		m.log.Warn("failed to record backup in history", "backup", rec.Path, logging.KeyError, err)
	}
}

// copyFile copies src over dst, keeping src's permission bits and
// modification time.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy data: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close destination: %w", err)
	}

	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
