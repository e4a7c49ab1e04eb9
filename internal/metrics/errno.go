package metrics

import (
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// errnoString returns the symbolic name used as a label, e.g. "EINVAL".
func errnoString(errno int32) string {
	if name := unix.ErrnoName(syscall.Errno(errno)); name != "" {
		return name
	}
	return strconv.Itoa(int(errno))
}
