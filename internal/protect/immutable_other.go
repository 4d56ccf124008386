//go:build !darwin && !freebsd && !windows

package protect

const mechanism = "permission bits"

// Only permission bits are used here; chattr +i needs CAP_LINUX_IMMUTABLE.
func setImmutable(path string, on bool) error {
	return nil
}
