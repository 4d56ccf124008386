package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/blackwell-systems/idreset/internal/artifact"
	"github.com/blackwell-systems/idreset/internal/backup"
	"github.com/blackwell-systems/idreset/internal/campaign"
	"github.com/blackwell-systems/idreset/internal/logging"
	"github.com/blackwell-systems/idreset/internal/mutator"
	"github.com/blackwell-systems/idreset/internal/paths"
	"github.com/blackwell-systems/idreset/internal/protect"
	"github.com/blackwell-systems/idreset/internal/store"
)

// engine wires the discovery and mutation components for one command.
type engine struct {
	resolver  *paths.Resolver
	backups   *backup.Manager
	protector *protect.Controller
	mutator   *mutator.Mutator
	campaigns *campaign.Orchestrator
	// history is nil when the history database could not be opened.
	history *store.Store
}

// newEngine builds the engine from the loaded config. The history database
// is optional: without it backups are still written, but restores fall back
// to label lookup.
func newEngine() (*engine, error) {
	e := &engine{
		resolver:  paths.New(paths.DefaultBases(), paths.DefaultFamilies()...),
		protector: protect.New(),
	}

	if st, err := openHistory(); err != nil {
		logging.L("app").Warn("history database unavailable", logging.KeyError, err)
	} else {
		e.history = st
	}

	dir, err := backupDir()
	if err != nil {
		e.Close()
		return nil, err
	}
	if e.history != nil {
		e.backups = backup.New(dir, e.history)
	} else {
		e.backups = backup.New(dir, nil)
	}

	e.mutator = mutator.New(e.resolver, e.backups, e.protector, identifierFiles(e.resolver.Families()))
	e.campaigns = campaign.New(e.resolver, e.mutator)
	return e, nil
}

// Close releases the history database.
func (e *engine) Close() {
	if e.history != nil {
		e.history.Close()
	}
}

// openHistory opens the history database and makes sure its schema exists.
func openHistory() (*store.Store, error) {
	path, err := getDBPath()
	if err != nil {
		return nil, err
	}
	st, err := store.New(path)
	if err != nil {
		return nil, err
	}
	if err := st.CreateSchema(); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func backupDir() (string, error) {
	if cfg.BackupDir != "" {
		if err := os.MkdirAll(cfg.BackupDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create backup directory: %w", err)
		}
		return cfg.BackupDir, nil
	}
	home, _ := os.UserHomeDir()
	return backup.DefaultDir(home), nil
}

func identifierFiles(families []paths.Family) []string {
	var files []string
	for _, f := range families {
		files = append(files, f.IdentifierFiles...)
	}
	return files
}

// familyIDs returns the requested families, or every known family when
// none was named.
func (e *engine) familyIDs(requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	var ids []string
	for _, f := range e.resolver.Families() {
		ids = append(ids, f.ID)
	}
	return ids
}

// families resolves requested IDs to families, rejecting unknown ones.
func (e *engine) families(requested []string) ([]paths.Family, error) {
	var out []paths.Family
	for _, id := range e.familyIDs(requested) {
		f, ok := e.resolver.Family(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s (known: %s)", campaign.ErrUnknownFamily, id, strings.Join(e.familyIDs(nil), ", "))
		}
		out = append(out, f)
	}
	return out, nil
}

// protectable returns the identifier and config artifacts of families, the
// ones a reset protects and the watcher follows.
func (e *engine) protectable(families []paths.Family) []artifact.Artifact {
	var out []artifact.Artifact
	for _, f := range families {
		for _, a := range e.resolver.Discover(f) {
			if a.Scope == artifact.ScopeIdentity || a.Scope == artifact.ScopeConfig {
				a.Kind = e.mutator.Classify(a.Path)
				out = append(out, a)
			}
		}
	}
	return out
}

// locate maps a backup label back to the artifact it was taken from. It is
// the fallback for backups the history database does not know.
func (e *engine) locate(label string) (string, bool) {
	shadow := strings.HasSuffix(label, ".backup")
	base := strings.TrimSuffix(label, ".backup")

	for _, f := range e.resolver.Families() {
		candidates := e.resolver.Discover(f)
		candidates = append(candidates, e.resolver.WorkspaceDirs(f, cfg.Deletion.WorkspaceDirs)...)
		candidates = append(candidates, e.resolver.CacheDirs(f)...)
		for _, a := range candidates {
			if a.Label != base {
				continue
			}
			if shadow {
				return a.Path + ".backup", true
			}
			return a.Path, true
		}
	}
	return "", false
}
