// Package artifact defines the types shared by discovery and mutation:
// what was found on disk, what kind of thing it is, and where it belongs.
package artifact

// Kind classifies a discovered artifact. It is decided once, by the mutator's
// classifier, and then passed along explicitly.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindPlainIdentifier
	KindJSONConfig
	KindDatabase
	KindDirectory
)

// String returns the on-report name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPlainIdentifier:
		return "plain-identifier-file"
	case KindJSONConfig:
		return "json-config"
	case KindDatabase:
		return "embedded-database"
	case KindDirectory:
		return "directory-tree"
	default:
		return "unrecognized"
	}
}

// Scope says where in a family's layout an artifact was found. Campaigns
// process scopes in declaration order so reports read from identity to history.
type Scope int

const (
	ScopeIdentity Scope = iota
	ScopeConfig
	ScopeDatabase
	ScopeWorkspace
	ScopeCache
)

// String returns the lowercase scope name.
func (s Scope) String() string {
	switch s {
	case ScopeIdentity:
		return "identity"
	case ScopeConfig:
		return "config"
	case ScopeDatabase:
		return "database"
	case ScopeWorkspace:
		return "workspace"
	case ScopeCache:
		return "cache"
	default:
		return "unknown"
	}
}

// Artifact is one concrete filesystem object found during a scan.
// Artifacts are never persisted; they live for one campaign run.
type Artifact struct {
	Path    string
	Kind    Kind // KindUnrecognized until classified
	Scope   Scope
	Family  string
	Variant string
	// Label is the source-derived prefix used for backup file names.
	Label string
}
