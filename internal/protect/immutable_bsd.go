//go:build darwin || freebsd

package protect

import "golang.org/x/sys/unix"

const mechanism = "chflags uchg"

func setImmutable(path string, on bool) error {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return err
	}
	flags := st.Flags
	if on {
		flags |= unix.UF_IMMUTABLE
	} else {
		flags &^= unix.UF_IMMUTABLE
	}
	if flags == st.Flags {
		return nil
	}
	return unix.Chflags(path, int(flags))
}
