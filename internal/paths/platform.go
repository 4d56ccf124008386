package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// Bases holds the three platform base directories every family root is
// searched under. Any of them may be empty when the environment lacks the
// variable it comes from; callers must treat "" as "not available".
type Bases struct {
	Config string
	Data   string
	Home   string
}

// Ordered returns the bases in search priority: config, data, home.
func (b Bases) Ordered() []string {
	return []string{b.Config, b.Data, b.Home}
}

// DefaultBases resolves Bases for the running operating system.
func DefaultBases() Bases {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return ResolveBases(runtime.GOOS, os.Getenv, home)
}

// ResolveBases is the pure form of DefaultBases. It never fails: missing
// environment values degrade to empty strings.
func ResolveBases(goos string, getenv func(string) string, home string) Bases {
	switch goos {
	case "windows":
		return Bases{
			Config: getenv("APPDATA"),
			Data:   getenv("LOCALAPPDATA"),
			Home:   home,
		}
	case "darwin":
		support := ""
		if home != "" {
			support = filepath.Join(home, "Library", "Application Support")
		}
		return Bases{Config: support, Data: support, Home: home}
	default:
		config := getenv("XDG_CONFIG_HOME")
		if config == "" && home != "" {
			config = filepath.Join(home, ".config")
		}
		data := getenv("XDG_DATA_HOME")
		if data == "" && home != "" {
			data = filepath.Join(home, ".local", "share")
		}
		return Bases{Config: config, Data: data, Home: home}
	}
}
