package npf

import (
	"fmt"
	"net/netip"

	"grimm.is/npfkit/internal/dict"
)

// putAddr stores addr as a raw 4 or 16 byte blob.
func putAddr(m *dict.Map, key string, addr netip.Addr) error {
	if !addr.IsValid() {
		return fmt.Errorf("%w: invalid address for %q", ErrInvalidArgument, key)
	}
	m.SetBlob(key, addr.AsSlice())
	return nil
}

func getAddr(m *dict.Map, key string) (netip.Addr, bool) {
	b, ok := m.GetBlob(key)
	if !ok {
		return netip.Addr{}, false
	}
	switch b.Len() {
	case 4, 16:
		return netip.AddrFromSlice(b.Bytes())
	}
	return netip.Addr{}, false
}

func checkMask(addr netip.Addr, mask int) error {
	if mask < 0 || mask > addr.BitLen() {
		return fmt.Errorf("%w: prefix length %d for %s", ErrInvalidArgument, mask, addr)
	}
	return nil
}
