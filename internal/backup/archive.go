package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/blackwell-systems/idreset/internal/logging"
)

// BackupDirectory writes a deflate-compressed zip of the tree under path,
// keyed by slash-separated paths relative to it. Files that cannot be read
// are collected on the record (and in a .failed.json file beside the
// archive) instead of aborting. It returns nil when the directory does not
// exist or the archive itself cannot be written.
func (m *Manager) BackupDirectory(path, label string) *Record {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		m.log.Warn("directory does not exist, cannot back up", logging.KeyPath, path)
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
	dest, err := m.reserve(label, created, ArchiveExt)
	if err != nil {
		m.log.Error("failed to reserve backup name", logging.KeyPath, path, logging.KeyError, err)
		return nil
	}

	failures, err := writeArchive(path, dest)
	if err != nil {
		os.Remove(dest)
		m.log.Error("failed to create directory backup", logging.KeyPath, path, logging.KeyError, err)
		return nil
	}

	rec := &Record{
		Source:    path,
		Path:      dest,
		Label:     label,
		CreatedAt: created,
		Kind:      KindArchive,
		Failures:  failures,
	}
	if st, err := os.Stat(dest); err == nil {
		rec.Size = st.Size()
	}

	if len(failures) > 0 {
		sidecar := failuresPath(dest)
		data, _ := json.MarshalIndent(failures, "", "  ")
		if err := os.WriteFile(sidecar, data, 0644); err != nil {
			m.log.Warn("failed to write failure list", logging.KeyPath, sidecar, logging.KeyError, err)
		}
		m.log.Warn("some files were not archived", logging.KeyPath, path, "failed", len(failures), "list", sidecar)
	}

	m.catalogue(rec)
	m.log.Info("created directory backup", logging.KeyPath, path, "backup", dest)
	return rec
}

func writeArchive(root, dest string) ([]Failure, error) {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	zw := zip.NewWriter(out)

	var failures []Failure
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			failures = append(failures, Failure{File: path, Error: err.Error()})
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if path == dest || !d.Type().IsRegular() {
			return nil
		}
		if err := addFile(zw, root, path); err != nil {
			failures = append(failures, Failure{File: path, Error: err.Error()})
		}
		return nil
	})

	if err := zw.Close(); err != nil {
		out.Close()
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}
	if walkErr != nil {
		return nil, walkErr
	}
	return failures, nil
}

func addFile(zw *zip.Writer, root, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(rel)
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// RestoreDirectory extracts archive into targetDir, creating it if needed.
// Entries that would land outside targetDir are refused. It returns false
// on any failure.
func (m *Manager) RestoreDirectory(archive, targetDir string) bool {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		m.log.Error("failed to open archive", "backup", archive, logging.KeyError, err)
		return false
	}
	defer zr.Close()

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		m.log.Error("failed to create restore target", logging.KeyPath, targetDir, logging.KeyError, err)
		return false
	}

	for _, f := range zr.File {
		if err := extract(f, targetDir); err != nil {
			m.log.Error("failed to restore archive entry", "entry", f.Name, logging.KeyError, err)
			return false
		}
	}
	m.log.Info("restored directory backup", "backup", archive, logging.KeyPath, targetDir)
	return true
}

func extract(f *zip.File, targetDir string) error {
	name := filepath.FromSlash(f.Name)
	if filepath.IsAbs(name) {
		return fmt.Errorf("absolute entry name %q", f.Name)
	}
	dest := filepath.Join(targetDir, name)
	rel, err := filepath.Rel(targetDir, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("entry %q escapes target", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(dest, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func failuresPath(archive string) string {
	return strings.TrimSuffix(archive, ArchiveExt) + failuresExt
}
