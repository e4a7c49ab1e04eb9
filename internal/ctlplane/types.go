package ctlplane

import (
	"errors"
	"fmt"
	"syscall"

	"grimm.is/npfkit/internal/brand"
	"grimm.is/npfkit/internal/npf"
)

// GetSocketPath returns the path to the control channel socket.
func GetSocketPath() string {
	return brand.GetSocketPath()
}

// Command identifies a control channel request.
type Command uint32

const (
	CmdLoad Command = iota + 1
	CmdSave
	CmdRule
	CmdConnLookup
)

func (c Command) String() string {
	switch c {
	case CmdLoad:
		return "load"
	case CmdSave:
		return "save"
	case CmdRule:
		return "rule"
	case CmdConnLookup:
		return "conn-lookup"
	}
	return fmt.Sprintf("command-%d", uint32(c))
}

// Dynamic ruleset operations carried by CmdRule.
const (
	RuleAdd    uint32 = 1
	RuleRemKey uint32 = 2
	RuleRemove uint32 = 3
	RuleList   uint32 = 4
	RuleFlush  uint32 = 5
)

// ErrUnsupported is returned by a backend for commands it does not handle.
var ErrUnsupported = errors.New("unsupported command")

// ExchangeArgs is one request on the wire. Payload is a dict-encoded map,
// empty for commands without a request document.
type ExchangeArgs struct {
	Command   Command
	Payload   []byte
	WantReply bool
}

// ExchangeReply carries the engine's numeric result and, for send/receive
// exchanges, the encoded response document.
type ExchangeReply struct {
	Errno   int32
	Payload []byte
}

// TransportError is a failure of the channel itself; the request may not
// have reached the engine.
type TransportError struct {
	Op    string
	Errno syscall.Errno
	Err   error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("control channel %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("control channel %s: %v", e.Op, e.Errno)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports whether target is npf.ErrProtocol.
func (e *TransportError) Is(target error) bool {
	return target == npf.ErrProtocol
}
