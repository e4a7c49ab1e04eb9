//go:build !linux

package npf

import "net"

// NetlinkResolver falls back to the net package off Linux.
type NetlinkResolver struct{}

func (NetlinkResolver) InterfaceIndex(name string) (uint32, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return 0, err
	}
	return uint32(ifi.Index), nil
}
