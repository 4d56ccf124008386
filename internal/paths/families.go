package paths

import "strings"

// PatternScope distinguishes storage patterns that are kept as-is from those
// whose immediate subdirectories are each one project's storage.
type PatternScope int

const (
	PatternGlobal PatternScope = iota
	PatternWorkspace
)

// StoragePattern is a sequence of path segments joined onto a family root.
type StoragePattern struct {
	Segments []string
	Scope    PatternScope
}

// Variant maps a path substring to a display label. Variant tables are
// evaluated in order and the first match wins, so more specific names must
// come before names they contain.
type Variant struct {
	Match string
	Label string
}

// Family describes one application family and how to find its state.
type Family struct {
	ID string
	// RootNames are directory names searched under every platform base.
	// Families whose variants live side by side (VSCode-style) list one
	// root per variant.
	RootNames []string
	// IdentifierFiles are paths relative to a family root.
	IdentifierFiles []string
	// SeedIdentifierFiles makes discovery report identifier files that do
	// not exist yet so that campaigns create them.
	SeedIdentifierFiles bool
	StoragePatterns     []StoragePattern
	// ConfigFiles and DatabaseFiles are looked up inside each global and
	// workspace storage location.
	ConfigFiles   []string
	DatabaseFiles []string
	// DatabasePatterns are matched against file base names during a
	// recursive walk of the family root.
	DatabasePatterns []string
	// CacheDirs are cache directories relative to a family root.
	CacheDirs []string
	// CacheDirNames are cache directory names matched at any depth below a
	// family root. The walk does not descend into a match.
	CacheDirNames []string
	Variants      []Variant
	// ProcessNames are executables that hold the family's files open.
	ProcessNames []string
}

// JetBrains is the family of IntelliJ-platform IDEs sharing one
// configuration directory.
var JetBrains = Family{
	ID:        "jetbrains",
	RootNames: []string{"JetBrains"},
	IdentifierFiles: []string{
		"PermanentDeviceId",
		"PermanentUserId",
	},
	SeedIdentifierFiles: true,
	DatabasePatterns:    []string{"*.db", "*.sqlite", "*.sqlite3"},
	CacheDirNames:       []string{"caches", "logs", "system", "temp"},
	Variants: []Variant{
		{Match: "IntelliJIdea", Label: "IntelliJ IDEA"},
		{Match: "IdeaIC", Label: "IntelliJ IDEA CE"},
		{Match: "PyCharmCE", Label: "PyCharm CE"},
		{Match: "PyCharm", Label: "PyCharm"},
		{Match: "GoLand", Label: "GoLand"},
		{Match: "WebStorm", Label: "WebStorm"},
		{Match: "CLion", Label: "CLion"},
		{Match: "PhpStorm", Label: "PhpStorm"},
		{Match: "RubyMine", Label: "RubyMine"},
		{Match: "Rider", Label: "Rider"},
		{Match: "DataGrip", Label: "DataGrip"},
		{Match: "AndroidStudio", Label: "Android Studio"},
		{Match: "Fleet", Label: "Fleet"},
		{Match: "JetBrains", Label: "JetBrains"},
	},
	ProcessNames: []string{
		"idea", "idea64.exe", "pycharm", "pycharm64.exe", "goland", "goland64.exe",
		"webstorm", "webstorm64.exe", "clion", "clion64.exe", "phpstorm", "phpstorm64.exe",
		"rubymine", "rubymine64.exe", "rider", "rider64.exe", "datagrip", "datagrip64.exe",
		"studio", "studio64.exe",
	},
}

// VSCode is the family of VS Code distributions and forks.
var VSCode = Family{
	ID:        "vscode",
	RootNames: []string{"Code", "Code - Insiders", "VSCodium", "Cursor", "code-server"},
	IdentifierFiles: []string{
		"machineId",
		"User/machineId",
		"data/machineId",
	},
	StoragePatterns: []StoragePattern{
		{Segments: []string{"User", "globalStorage"}, Scope: PatternGlobal},
		{Segments: []string{"data", "User", "globalStorage"}, Scope: PatternGlobal},
		{Segments: []string{"User", "workspaceStorage"}, Scope: PatternWorkspace},
		{Segments: []string{"data", "User", "workspaceStorage"}, Scope: PatternWorkspace},
	},
	ConfigFiles:   []string{"storage.json"},
	DatabaseFiles: []string{"state.vscdb"},
	CacheDirs:     []string{"CachedExtensions", "CachedData", "logs", "GPUCache", "Service Worker"},
	Variants: []Variant{
		{Match: "Code - Insiders", Label: "VSCode Insiders"},
		{Match: "VSCodium", Label: "VSCodium"},
		{Match: "Cursor", Label: "Cursor"},
		{Match: "code-server", Label: "code-server"},
		{Match: "Code", Label: "VSCode"},
	},
	ProcessNames: []string{
		"code", "Code.exe", "code-insiders", "Code - Insiders.exe", "codium",
		"VSCodium.exe", "cursor", "Cursor.exe", "code-server", "Electron",
	},
}

// DefaultFamilies returns the built-in families in report order.
func DefaultFamilies() []Family {
	return []Family{JetBrains, VSCode}
}

// Lookup finds a family by ID, case-insensitively.
func Lookup(families []Family, id string) (Family, bool) {
	for _, f := range families {
		if strings.EqualFold(f.ID, id) {
			return f, true
		}
	}
	return Family{}, false
}
