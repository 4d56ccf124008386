package paths

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blackwell-systems/idreset/internal/artifact"
)

// Discover returns every artifact the family keeps on this machine, ordered
// by scope (identity, config, database, workspace) and then by path. The
// result is memoized per family for the lifetime of the Resolver. A family
// that is not installed yields an empty slice.
func (r *Resolver) Discover(family Family) []artifact.Artifact {
	r.mu.Lock()
	if cached, ok := r.discovery[family.ID]; ok {
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	seen := make(map[string]bool)
	var found []artifact.Artifact
	add := func(a artifact.Artifact) {
		key := normalize(a.Path)
		if seen[key] {
			return
		}
		seen[key] = true
		found = append(found, a)
	}

	for _, root := range r.FamilyRoots(family) {
		variant := r.VariantNameFor(root)

		for _, rel := range family.IdentifierFiles {
			path := filepath.Join(root, filepath.FromSlash(rel))
			exists := isRegular(path)
			if !exists && !family.SeedIdentifierFiles {
				continue
			}
			if !exists {
				// Seeded files are only created next to an existing parent
				// or directly under the root.
				if strings.Contains(rel, "/") && !isDir(filepath.Dir(path)) {
					continue
				}
			}
			add(artifact.Artifact{
				Path:    path,
				Scope:   artifact.ScopeIdentity,
				Family:  family.ID,
				Variant: variant,
				Label:   Label(family.ID, variantLabel(family, variant), rel),
			})
		}

		for _, loc := range r.EnumerateStorageLocations(root, family) {
			locVariant := r.VariantNameFor(loc.Path)
			if loc.Scope == PatternGlobal {
				for _, name := range family.ConfigFiles {
					path := filepath.Join(loc.Path, name)
					if isRegular(path) {
						add(artifact.Artifact{
							Path:    path,
							Scope:   artifact.ScopeConfig,
							Family:  family.ID,
							Variant: locVariant,
							Label:   Label(family.ID, variantLabel(family, locVariant), name),
						})
					}
				}
				for _, name := range family.DatabaseFiles {
					path := filepath.Join(loc.Path, name)
					if isRegular(path) {
						add(artifact.Artifact{
							Path:    path,
							Scope:   artifact.ScopeDatabase,
							Family:  family.ID,
							Variant: locVariant,
							Label:   Label(family.ID, variantLabel(family, locVariant), name),
						})
					}
				}
				continue
			}

			project := filepath.Base(loc.Path)
			for _, name := range family.DatabaseFiles {
				path := filepath.Join(loc.Path, name)
				if isRegular(path) {
					add(artifact.Artifact{
						Path:    path,
						Scope:   artifact.ScopeWorkspace,
						Family:  family.ID,
						Variant: locVariant,
						Label:   Label(family.ID, variantLabel(family, locVariant), "workspace", project, name),
					})
				}
			}
		}

		for _, path := range r.EnumerateDatabaseFiles(root, family) {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = filepath.Base(path)
			}
			add(artifact.Artifact{
				Path:    path,
				Scope:   artifact.ScopeDatabase,
				Family:  family.ID,
				Variant: r.VariantNameFor(path),
				Label:   Label(family.ID, "db", filepath.ToSlash(rel)),
			})
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].Scope != found[j].Scope {
			return found[i].Scope < found[j].Scope
		}
		return found[i].Path < found[j].Path
	})

	r.log.Debug("discovery finished", "family", family.ID, "artifacts", len(found))

	r.mu.Lock()
	r.discovery[family.ID] = found
	r.mu.Unlock()
	return found
}

// WorkspaceDirs returns the per-project storage directories of family that
// contain a subdirectory with one of the given names.
func (r *Resolver) WorkspaceDirs(family Family, names []string) []artifact.Artifact {
	if len(names) == 0 {
		return nil
	}
	var found []artifact.Artifact
	for _, root := range r.FamilyRoots(family) {
		for _, loc := range r.EnumerateStorageLocations(root, family) {
			if loc.Scope != PatternWorkspace {
				continue
			}
			variant := r.VariantNameFor(loc.Path)
			for _, name := range names {
				path := filepath.Join(loc.Path, name)
				if !isDir(path) {
					continue
				}
				found = append(found, artifact.Artifact{
					Path:    path,
					Scope:   artifact.ScopeWorkspace,
					Family:  family.ID,
					Variant: variant,
					Label:   Label(family.ID, variantLabel(family, variant), "workspace", filepath.Base(loc.Path), name),
				})
			}
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
	return found
}

// CacheDirs returns the family's cache directories: the CacheDirs found
// under each root, then every directory below a root whose name is one of
// CacheDirNames. Matches are not searched further.
func (r *Resolver) CacheDirs(family Family) []artifact.Artifact {
	var found []artifact.Artifact
	seen := make(map[string]bool)
	add := func(root, path string) {
		key := normalize(path)
		if seen[key] {
			return
		}
		seen[key] = true
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		variant := r.VariantNameFor(path)
		found = append(found, artifact.Artifact{
			Path:    path,
			Kind:    artifact.KindDirectory,
			Scope:   artifact.ScopeCache,
			Family:  family.ID,
			Variant: variant,
			Label:   Label(family.ID, variantLabel(family, variant), "cache", filepath.ToSlash(rel)),
		})
	}

	for _, root := range r.FamilyRoots(family) {
		for _, rel := range family.CacheDirs {
			path := filepath.Join(root, filepath.FromSlash(rel))
			if isDir(path) {
				add(root, path)
			}
		}
		if len(family.CacheDirNames) == 0 {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				r.log.Debug("skipping unreadable path", "path", path, "error", err)
				if d != nil && d.IsDir() && path != root {
					return fs.SkipDir
				}
				return nil
			}
			if !d.IsDir() || path == root {
				return nil
			}
			for _, name := range family.CacheDirNames {
				if d.Name() == name {
					add(root, path)
					return fs.SkipDir
				}
			}
			return nil
		})
		if err != nil {
			r.log.Warn("cache walk ended early", "root", root, "error", err)
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
	return found
}

// Label builds a backup label from its parts. Characters that are awkward
// in file names become dashes and parts are joined with underscores.
func Label(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		cleaned = append(cleaned, sanitize(p))
	}
	return strings.Join(cleaned, "_")
}

// variantLabel drops the variant from labels of single-root families, so
// JetBrains labels stay "jetbrains_<file>".
func variantLabel(family Family, variant string) string {
	if len(family.RootNames) <= 1 {
		return ""
	}
	return variant
}

func sanitize(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-':
			b.WriteRune(c)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
