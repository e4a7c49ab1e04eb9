package npf

import (
	"errors"
	"fmt"
	"syscall"

	"grimm.is/npfkit/internal/dict"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrAlreadyExists   = errors.New("already exists")
	ErrNotFound        = errors.New("not found")

	// ErrFormat matches malformed documents and inconsistent rule lists.
	ErrFormat = dict.ErrFormat

	// ErrProtocol matches transport-level failures of the control channel.
	ErrProtocol = errors.New("control channel failure")

	// ErrPeer matches failures reported by the filtering engine itself.
	ErrPeer = errors.New("peer reported failure")

	ErrMaterialized = fmt.Errorf("%w: configuration already built", ErrInvalidArgument)
	ErrVersion      = fmt.Errorf("%w: unsupported configuration version", ErrFormat)
)

// PeerError is the structured failure returned by the filtering engine.
// The fields are surfaced as received.
type PeerError struct {
	Code       int32
	ID         int64
	SourceFile string
	SourceLine uint32
}

func (e *PeerError) Error() string {
	msg := fmt.Sprintf("peer error %d (%s)", e.Code, syscall.Errno(e.Code))
	if e.ID != 0 {
		msg += fmt.Sprintf(", object %d", e.ID)
	}
	if e.SourceFile != "" {
		msg += fmt.Sprintf(" at %s:%d", e.SourceFile, e.SourceLine)
	}
	return msg
}

// Is reports whether target is ErrPeer.
func (e *PeerError) Is(target error) bool {
	return target == ErrPeer
}

// PeerErrorFromMap extracts a PeerError from a response document.
// It returns nil when the document reports success.
func PeerErrorFromMap(m *dict.Map) *PeerError {
	if m == nil {
		return nil
	}
	code, _ := m.GetInt32("errno")
	if code == 0 {
		return nil
	}
	e := &PeerError{Code: code}
	e.ID, _ = m.GetInt64("id")
	e.SourceFile, _ = m.GetString("source-file")
	e.SourceLine, _ = m.GetUint32("source-line")
	return e
}

// Map encodes e in the layout read by PeerErrorFromMap.
func (e *PeerError) Map() *dict.Map {
	m := dict.NewMap()
	m.SetInt32("errno", e.Code)
	m.SetInt64("id", e.ID)
	if e.SourceFile != "" {
		m.SetString("source-file", e.SourceFile)
		m.SetUint32("source-line", e.SourceLine)
	}
	return m
}
