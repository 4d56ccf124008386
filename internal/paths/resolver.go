// Package paths discovers where each supported application family keeps its
// identity and state on the current machine.
//
// A Resolver is cheap to build and memoizes what it finds for its own
// lifetime. Build a fresh one per campaign run; hold on to one explicitly if
// cross-run caching is wanted.
package paths

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blackwell-systems/idreset/internal/artifact"
	"github.com/blackwell-systems/idreset/internal/logging"
)

// UnknownVariant is returned by VariantNameFor when no table entry matches.
const UnknownVariant = "unknown"

// Location is one storage directory discovered for a family.
type Location struct {
	Path  string
	Scope PatternScope
}

// Resolver finds family roots, storage locations and database files.
type Resolver struct {
	bases    Bases
	families []Family
	log      *slog.Logger

	mu        sync.Mutex
	roots     map[string][]string
	discovery map[string][]artifact.Artifact
}

// New creates a Resolver over the given bases. When no families are passed
// the built-in families are used.
func New(bases Bases, families ...Family) *Resolver {
	if len(families) == 0 {
		families = DefaultFamilies()
	}
	return &Resolver{
		bases:     bases,
		families:  families,
		log:       logging.L("paths"),
		roots:     make(map[string][]string),
		discovery: make(map[string][]artifact.Artifact),
	}
}

// Bases returns the platform bases the resolver searches.
func (r *Resolver) Bases() Bases {
	return r.bases
}

// Families returns the families the resolver knows about.
func (r *Resolver) Families() []Family {
	return r.families
}

// Family looks up a configured family by ID.
func (r *Resolver) Family(id string) (Family, bool) {
	return Lookup(r.families, id)
}

// FindFamilyRoot returns the first existing root directory for family,
// searching bases in priority order (config, data, home) and root names in
// declaration order.
func (r *Resolver) FindFamilyRoot(family Family) (string, bool) {
	for _, base := range r.bases.Ordered() {
		if base == "" {
			continue
		}
		for _, name := range family.RootNames {
			candidate := filepath.Join(base, name)
			if isDir(candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}

// FamilyRoots returns every existing root for family, one per installed
// variant, deduplicated and sorted.
func (r *Resolver) FamilyRoots(family Family) []string {
	r.mu.Lock()
	if roots, ok := r.roots[family.ID]; ok {
		r.mu.Unlock()
		return roots
	}
	r.mu.Unlock()

	seen := make(map[string]bool)
	var roots []string
	for _, base := range r.bases.Ordered() {
		if base == "" {
			continue
		}
		for _, name := range family.RootNames {
			candidate := filepath.Join(base, name)
			if !isDir(candidate) {
				continue
			}
			key := normalize(candidate)
			if seen[key] {
				continue
			}
			seen[key] = true
			roots = append(roots, candidate)
		}
	}
	sort.Strings(roots)

	if len(roots) == 0 {
		r.log.Debug("family not installed", "family", family.ID)
	}

	r.mu.Lock()
	r.roots[family.ID] = roots
	r.mu.Unlock()
	return roots
}

// EnumerateStorageLocations joins each storage pattern onto root and keeps
// the directories that exist. Workspace patterns contribute their immediate
// subdirectories instead of themselves. Entries that cannot be read are
// skipped; the result is deduplicated and sorted.
func (r *Resolver) EnumerateStorageLocations(root string, family Family) []Location {
	if root == "" || !isDir(root) {
		return nil
	}

	seen := make(map[string]bool)
	var locations []Location
	add := func(path string, scope PatternScope) {
		key := normalize(path)
		if seen[key] {
			return
		}
		seen[key] = true
		locations = append(locations, Location{Path: path, Scope: scope})
	}

	for _, pattern := range family.StoragePatterns {
		dir := filepath.Join(append([]string{root}, pattern.Segments...)...)
		if !isDir(dir) {
			continue
		}

		if pattern.Scope == PatternGlobal {
			add(dir, PatternGlobal)
			continue
		}

		for _, project := range r.readableSubdirs(dir) {
			add(project, PatternWorkspace)
		}
	}

	sort.Slice(locations, func(i, j int) bool {
		return locations[i].Path < locations[j].Path
	})
	return locations
}

// readableSubdirs lists the immediate subdirectories of dir that can be
// opened. A dir that vanished or cannot be listed yields nothing.
func (r *Resolver) readableSubdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		r.log.Warn("cannot list workspace storage", "dir", dir, "error", err)
		return nil
	}

	var dirs []string
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		// Stat follows symlinks; dangling links and vanished entries fail here.
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			continue
		}

		f, err := os.Open(path)
		if err != nil {
			r.log.Debug("skipping unreadable workspace", "path", path, "error", err)
			continue
		}
		_, err = f.Readdirnames(1)
		f.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			r.log.Debug("skipping unreadable workspace", "path", path, "error", err)
			continue
		}

		dirs = append(dirs, path)
	}
	return dirs
}

// EnumerateDatabaseFiles walks root and returns every regular file whose
// base name matches one of the family's database patterns. Subtrees that
// cannot be read are skipped.
func (r *Resolver) EnumerateDatabaseFiles(root string, family Family) []string {
	if root == "" || len(family.DatabasePatterns) == 0 || !isDir(root) {
		return nil
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			r.log.Debug("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if matchesAny(d.Name(), family.DatabasePatterns) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		r.log.Warn("database walk ended early", "root", root, "error", err)
	}

	sort.Strings(files)
	return files
}

// VariantNameFor infers which variant a storage path belongs to. The owning
// family is picked by matching its root names against path segments; its
// variant table is then evaluated in order. Paths that belong to no known
// root fall back to every table in family order.
func (r *Resolver) VariantNameFor(path string) string {
	segments := strings.Split(filepath.ToSlash(path), "/")

	for _, family := range r.families {
		if !containsSegment(segments, family.RootNames) {
			continue
		}
		if label, ok := matchVariant(path, family.Variants); ok {
			return label
		}
	}
	for _, family := range r.families {
		if label, ok := matchVariant(path, family.Variants); ok {
			return label
		}
	}
	return UnknownVariant
}

// IsPathSafe reports whether path resolves to a descendant of one of the
// platform bases. It guards destructive operations against misconfigured
// patterns; it is not a security boundary.
func (r *Resolver) IsPathSafe(path string) bool {
	target := resolve(path)
	if target == "" {
		return false
	}
	for _, base := range r.bases.Ordered() {
		if base == "" {
			continue
		}
		root := resolve(base)
		if root == "" {
			continue
		}
		rel, err := filepath.Rel(root, target)
		if err != nil {
			continue
		}
		if rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel) {
			return true
		}
	}
	r.log.Warn("path outside platform bases", "path", path)
	return false
}

func matchVariant(path string, variants []Variant) (string, bool) {
	for _, v := range variants {
		if strings.Contains(path, v.Match) {
			return v.Label, true
		}
	}
	return "", false
}

func containsSegment(segments, names []string) bool {
	for _, s := range segments {
		for _, n := range names {
			if s == n {
				return true
			}
		}
	}
	return false
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, err := filepath.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// normalize returns the cleaned absolute form of path used for dedup.
func normalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// resolve returns the absolute, symlink-free form of path. Paths that do
// not exist yet are resolved through their nearest existing ancestor.
func resolve(path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}

	var rest []string
	current := abs
	for {
		if real, err := filepath.EvalSymlinks(current); err == nil {
			return filepath.Join(append([]string{real}, rest...)...)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return abs
		}
		rest = append([]string{filepath.Base(current)}, rest...)
		current = parent
	}
}
