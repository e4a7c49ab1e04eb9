// Package validation checks names that reach the engine or the kernel.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"grimm.is/npfkit/internal/npf"
)

// MaxInterfaceName is IFNAMSIZ without the terminating NUL.
const MaxInterfaceName = 15

// MaxIdentifier bounds table, procedure and ruleset names.
const MaxIdentifier = 64

var (
	// alphanumeric, dash, underscore, dot (for VLANs)
	interfaceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

var protocols = map[string]uint16{
	"icmp":      1,
	"igmp":      2,
	"tcp":       6,
	"udp":       17,
	"gre":       47,
	"esp":       50,
	"ah":        51,
	"icmp6":     58,
	"ipv6-icmp": 58,
	"sctp":      132,
	"udplite":   136,
}

// InterfaceName validates a network interface name.
func InterfaceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: interface name cannot be empty", npf.ErrInvalidArgument)
	}
	if len(name) > MaxInterfaceName {
		return fmt.Errorf("%w: interface name too long (max %d characters): %s", npf.ErrInvalidArgument, MaxInterfaceName, name)
	}
	if !interfaceNameRegex.MatchString(name) {
		return fmt.Errorf("%w: invalid interface name: %s (must be alphanumeric with -_.)", npf.ErrInvalidArgument, name)
	}
	return nil
}

// Identifier validates a table, procedure or ruleset name.
func Identifier(id string) error {
	if id == "" {
		return fmt.Errorf("%w: identifier cannot be empty", npf.ErrInvalidArgument)
	}
	if len(id) > MaxIdentifier {
		return fmt.Errorf("%w: identifier too long (max %d characters)", npf.ErrInvalidArgument, MaxIdentifier)
	}
	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("%w: invalid identifier: %s (must be alphanumeric with -_)", npf.ErrInvalidArgument, id)
	}
	return nil
}

// Protocol maps a protocol name or number to its IP protocol number.
func Protocol(proto string) (uint16, error) {
	if p, ok := protocols[strings.ToLower(proto)]; ok {
		return p, nil
	}
	n, err := strconv.ParseUint(proto, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown protocol %q", npf.ErrInvalidArgument, proto)
	}
	return uint16(n), nil
}
