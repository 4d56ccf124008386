package mutator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blackwell-systems/idreset/internal/artifact"
	"github.com/blackwell-systems/idreset/internal/backup"
)

// Mode selects which mutation a campaign asks for.
type Mode int

const (
	// ModeReplace rewrites identifiers in place.
	ModeReplace Mode = iota
	// ModeDelete deletes matching records from embedded databases.
	ModeDelete
	// ModeWorkspace deletes matching records from per-project databases and
	// removes configured per-project directories.
	ModeWorkspace
	// ModeCache removes the applications' cache and log directories.
	ModeCache
)

var modeNames = map[Mode]string{
	ModeReplace:   "identifier-replacement",
	ModeDelete:    "record-deletion",
	ModeWorkspace: "workspace-scoped-deletion",
	ModeCache:     "cache-cleaning",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode accepts the long mode names and the short forms replace,
// delete, workspace and cache.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "identifier-replacement", "replace", "ids":
		return ModeReplace, nil
	case "record-deletion", "delete", "db":
		return ModeDelete, nil
	case "workspace-scoped-deletion", "workspace", "ws":
		return ModeWorkspace, nil
	case "cache-cleaning", "cache", "caches":
		return ModeCache, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// Options controls one Apply call.
type Options struct {
	Mode Mode
	// Backup copies the artifact aside before the first write.
	Backup bool
	// Protect applies immutability as the last step after a write.
	Protect bool
	// Patterns are SQL LIKE patterns for the deletion modes.
	Patterns []string
}

// Outcome is the terminal state of one Apply call.
type Outcome int

const (
	OutcomeMutated Outcome = iota
	OutcomeUnchanged
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMutated:
		return "mutated"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Change is one identifier that was replaced.
type Change struct {
	Field string
	// Old is empty and OldKnown false when the prior value was unreadable.
	Old      string
	OldKnown bool
	New      string
}

// ErrUnsafePath is returned for artifacts that resolve outside every
// platform base directory.
var ErrUnsafePath = errors.New("path is outside the platform base directories")

// Result is the outcome of mutating one artifact. Success implies Err is
// nil; the two are only ever set together by succeed and fail.
type Result struct {
	Artifact artifact.Artifact
	Mode     Mode
	Outcome  Outcome
	Success  bool
	Changes  []Change
	// Backups holds the artifact's backup, when one was made, then any
	// shadow copy's.
	Backups         []backup.Record
	RecordsAffected int64
	Protected       bool
	// Reason explains a skip.
	Reason string
	Err    error
}

// Backup returns the artifact's own backup, or nil when none was made.
func (r *Result) Backup() *backup.Record {
	for i := range r.Backups {
		if r.Backups[i].Source == r.Artifact.Path {
			return &r.Backups[i]
		}
	}
	return nil
}

// PriorValue returns the first change's old value.
func (r *Result) PriorValue() (string, bool) {
	if len(r.Changes) == 0 {
		return "", false
	}
	return r.Changes[0].Old, r.Changes[0].OldKnown
}

// NewValue returns the first change's new value; deletions have none.
func (r *Result) NewValue() (string, bool) {
	if len(r.Changes) == 0 {
		return "", false
	}
	return r.Changes[0].New, true
}

func (r *Result) succeed(outcome Outcome) Result {
	r.Outcome = outcome
	r.Success = true
	r.Err = nil
	return *r
}

func (r *Result) fail(err error) Result {
	r.Outcome = OutcomeFailed
	r.Success = false
	r.Err = err
	return *r
}

func (r *Result) skip(reason string) Result {
	r.Outcome = OutcomeSkipped
	r.Success = true
	r.Err = nil
	r.Reason = reason
	return *r
}

func (r *Result) addBackup(rec *backup.Record) {
	if rec != nil {
		r.Backups = append(r.Backups, *rec)
	}
}
