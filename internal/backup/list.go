package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/blackwell-systems/idreset/internal/logging"
)

var namePattern = regexp.MustCompile(`^(.*)_(\d{8}_\d{6})(?:_(\d+))?\.(bak|zip)$`)

// parseName splits a backup file name into label, timestamp, sequence and
// kind. ok is false for files that are not backups.
func parseName(name string) (label string, created time.Time, seq int, kind Kind, ok bool) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return "", time.Time{}, 0, "", false
	}
	created, err := time.ParseInLocation(TimestampFormat, m[2], time.Local)
	if err != nil {
		return "", time.Time{}, 0, "", false
	}
	if m[3] != "" {
		seq, _ = strconv.Atoi(m[3])
	}
	kind = KindFile
	if m[4] == "zip" {
		kind = KindArchive
	}
	return m[1], created, seq, kind, true
}

// List returns the backups whose file name contains pattern (all backups
// when pattern is empty), newest first.
func (m *Manager) List(pattern string) ([]Record, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	type ordered struct {
		rec Record
		seq int
	}
	var found []ordered
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if pattern != "" && !strings.Contains(name, pattern) {
			continue
		}
		label, created, seq, kind, ok := parseName(name)
		if !ok {
			continue
		}

		rec := Record{
			Path:      filepath.Join(m.dir, name),
			Label:     label,
			CreatedAt: created,
			Kind:      kind,
		}
		if info, err := entry.Info(); err == nil {
			rec.Size = info.Size()
		}
		if m.catalog != nil {
			if src, err := m.catalog.SourceFor(rec.Path); err == nil {
				rec.Source = src
			}
		}
		found = append(found, ordered{rec: rec, seq: seq})
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.After(b.rec.CreatedAt)
		}
		if a.seq != b.seq {
			return a.seq > b.seq
		}
		return a.rec.Path > b.rec.Path
	})

	records := make([]Record, len(found))
	for i, o := range found {
		records[i] = o.rec
	}
	return records, nil
}

// Trim deletes all but the max newest backups and returns how many were
// removed. Backups whose path is in keep are never deleted but still count
// toward max. Deletion is best-effort per file. A negative max is a no-op.
func (m *Manager) Trim(max int, keep ...string) (int, error) {
	if max < 0 {
		return 0, nil
	}
	records, err := m.List("")
	if err != nil {
		return 0, err
	}
	if len(records) <= max {
		return 0, nil
	}

	kept := make(map[string]bool, len(keep))
	for _, p := range keep {
		kept[filepath.Clean(p)] = true
	}

	deleted := 0
	for _, rec := range records[max:] {
		if kept[filepath.Clean(rec.Path)] {
			continue
		}
		if err := os.Remove(rec.Path); err != nil {
			m.log.Warn("failed to delete old backup", "backup", rec.Path, logging.KeyError, err)
			continue
		}
		if rec.Kind == KindArchive {
			os.Remove(failuresPath(rec.Path))
		}
		deleted++
	}
	if deleted > 0 {
		m.log.Info("cleaned up old backups", "deleted", deleted)
	}
	return deleted, nil
}
