package ctlplane

import (
	"errors"
	"syscall"

	"grimm.is/npfkit/internal/npf"
)

// Errno maps a backend error to the numeric code sent on the wire.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	var pe *npf.PeerError
	if errors.As(err, &pe) {
		return syscall.Errno(pe.Code)
	}
	switch {
	case errors.Is(err, ErrUnsupported):
		return syscall.EOPNOTSUPP
	case errors.Is(err, npf.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, npf.ErrAlreadyExists):
		return syscall.EEXIST
	case errors.Is(err, npf.ErrInvalidArgument), errors.Is(err, npf.ErrFormat):
		return syscall.EINVAL
	}
	return syscall.EIO
}
