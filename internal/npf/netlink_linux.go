//go:build linux

package npf

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// NetlinkResolver resolves interface names through rtnetlink.
type NetlinkResolver struct{}

func (NetlinkResolver) InterfaceIndex(name string) (uint32, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return uint32(link.Attrs().Index), nil
}
