// Package protect makes rewritten files resistant to being overwritten by
// the application that owns them.
//
// The owner-write permission bit is the guarantee every platform gets. On
// top of it the host's own mechanism is applied when there is one: the
// user immutable flag on macOS and FreeBSD, the read-only attribute on
// Windows. Failures of that extra mechanism are logged, not returned.
package protect

import (
	"log/slog"
	"os"

	"github.com/blackwell-systems/idreset/internal/logging"
)

// Controller toggles files between writable and protected.
type Controller struct {
	log *slog.Logger
}

// New creates a Controller.
func New() *Controller {
	return &Controller{log: logging.L("protect")}
}

// Mechanism names the OS-specific mechanism used in addition to
// permission bits.
func Mechanism() string {
	return mechanism
}

// Protect clears every write bit on path and then applies the OS flag.
// It returns true only if the owner-write bit was cleared.
func (c *Controller) Protect(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		c.log.Error("cannot protect missing file", logging.KeyPath, path, logging.KeyError, err)
		return false
	}

	ok := true
	if err := os.Chmod(path, info.Mode().Perm()&^0222); err != nil {
		c.log.Warn("failed to clear write permission", logging.KeyPath, path, logging.KeyError, err)
		ok = false
	}
	if err := setImmutable(path, true); err != nil {
		c.log.Warn("protection may not be fully effective", logging.KeyPath, path, "mechanism", mechanism, logging.KeyError, err)
	}

	if ok {
		c.log.Debug("protected file", logging.KeyPath, path)
	}
	return ok && c.IsProtected(path)
}

// Unprotect clears the OS flag and then restores the owner-write bit. It
// must succeed before a protected file is written again.
func (c *Controller) Unprotect(path string) bool {
	if err := setImmutable(path, false); err != nil {
		c.log.Warn("failed to clear immutable flag", logging.KeyPath, path, "mechanism", mechanism, logging.KeyError, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		c.log.Error("cannot unprotect missing file", logging.KeyPath, path, logging.KeyError, err)
		return false
	}
	if err := os.Chmod(path, info.Mode().Perm()|0200); err != nil {
		c.log.Error("failed to restore write permission", logging.KeyPath, path, logging.KeyError, err)
		return false
	}

	c.log.Debug("unprotected file", logging.KeyPath, path)
	return true
}

// IsProtected reports whether the owner-write bit of path is clear. Missing
// files are not protected.
func (c *Controller) IsProtected(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0200 == 0
}
