// Package procs checks whether applications of a family are running, so
// that a reset can warn before touching files they hold open.
package procs

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/blackwell-systems/idreset/internal/logging"
	"github.com/blackwell-systems/idreset/internal/paths"
)

// Match is one running process that belongs to a family.
type Match struct {
	Family string
	Name   string
	PID    int32
}

// Snapshot caches process names for batch matching.
type Snapshot struct {
	pids map[string][]int32 // lowercase process name -> pids
}

// Take lists running processes. Processes whose name cannot be read are
// skipped.
func Take(ctx context.Context) (*Snapshot, error) {
	list, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{pids: make(map[string][]int32, len(list))}
	skipped := 0
	for _, p := range list {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			skipped++
			continue
		}
		s.add(name, p.Pid)
	}
	if skipped > 0 {
		logging.L("procs").Debug("process snapshot skipped processes", "skipped", skipped, "total", len(list))
	}
	return s, nil
}

func (s *Snapshot) add(name string, pid int32) {
	key := strings.ToLower(filepath.Base(name))
	s.pids[key] = append(s.pids[key], pid)
}

// Running returns the processes of family, ordered by name then PID.
func (s *Snapshot) Running(family paths.Family) []Match {
	var found []Match
	seen := make(map[string]bool)
	for _, name := range family.ProcessNames {
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		for _, pid := range s.pids[key] {
			found = append(found, Match{Family: family.ID, Name: name, PID: pid})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].Name != found[j].Name {
			return found[i].Name < found[j].Name
		}
		return found[i].PID < found[j].PID
	})
	return found
}

// Count returns the number of distinct process names in the snapshot.
func (s *Snapshot) Count() int {
	return len(s.pids)
}
