package config

import (
	"fmt"
	"strings"
)

const maxBackupsLimit = 1000

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

// Validate checks the config and returns every problem found. Values that
// would make a campaign unsafe are clamped or dropped in place, so the
// config is usable after Validate returns.
func (c *Config) Validate() []error {
	var errs []error

	if c.MaxBackups < 0 {
		errs = append(errs, fmt.Errorf("max_backups %d is negative, clamping to 0 (keep all)", c.MaxBackups))
		c.MaxBackups = 0
	} else if c.MaxBackups > maxBackupsLimit {
		errs = append(errs, fmt.Errorf("max_backups %d exceeds maximum %d, clamping", c.MaxBackups, maxBackupsLimit))
		c.MaxBackups = maxBackupsLimit
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error; using warn", c.LogLevel))
		c.LogLevel = "warn"
	}
	if c.LogFormat != "" && !validLogFormats[strings.ToLower(c.LogFormat)] {
		errs = append(errs, fmt.Errorf("log_format %q is not text or json; using text", c.LogFormat))
		c.LogFormat = "text"
	}

	keywords := c.Deletion.Keywords[:0]
	for _, kw := range c.Deletion.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			errs = append(errs, fmt.Errorf("deletion.keywords contains an empty keyword, dropping it"))
			continue
		}
		keywords = append(keywords, kw)
	}
	c.Deletion.Keywords = keywords
	if len(c.Deletion.Keywords) == 0 {
		errs = append(errs, fmt.Errorf("deletion.keywords is empty; record deletion will only use deep patterns"))
	}

	patterns := c.Deletion.DeepPatterns[:0]
	for _, p := range c.Deletion.DeepPatterns {
		switch {
		case strings.Trim(p, "%_ ") == "":
			// "%" alone would delete every text row.
			errs = append(errs, fmt.Errorf("deletion.deep_patterns entry %q matches everything, dropping it", p))
			continue
		case !strings.ContainsAny(p, "%_"):
			errs = append(errs, fmt.Errorf("deletion.deep_patterns entry %q has no wildcard and only matches exact values", p))
		}
		patterns = append(patterns, p)
	}
	c.Deletion.DeepPatterns = patterns

	dirs := c.Deletion.WorkspaceDirs[:0]
	for _, d := range c.Deletion.WorkspaceDirs {
		if d == "" || d == "." || d == ".." || strings.ContainsAny(d, `/\`) {
			errs = append(errs, fmt.Errorf("deletion.workspace_dirs entry %q must be a plain directory name, dropping it", d))
			continue
		}
		dirs = append(dirs, d)
	}
	c.Deletion.WorkspaceDirs = dirs

	return errs
}
