package npf

import (
	"fmt"
	"net/netip"
)

// NAT is a rule carrying a translation policy.
type NAT struct {
	Rule
}

// NewNAT creates a detached NAT policy translating to addr/mask and, for
// redirects, port. Outbound policies match outgoing traffic, everything
// else incoming.
func NewNAT(typ NATType, flags uint32, ifname string, addr netip.Addr, mask uint8, port uint16) (*NAT, error) {
	if typ != NATIn && typ != NATOut {
		return nil, fmt.Errorf("%w: nat type %d", ErrInvalidArgument, typ)
	}
	if !addr.IsValid() {
		return nil, fmt.Errorf("%w: invalid translation address", ErrInvalidArgument)
	}
	if err := checkMask(addr, int(mask)); err != nil {
		return nil, err
	}

	dir := RuleIn
	if typ == NATOut {
		dir = RuleOut
	}
	r := NewRule("", RulePass|RuleFinal|dir, ifname)
	r.m.SetInt32("type", int32(typ))
	r.m.SetUint32("flags", flags)
	if err := putAddr(r.m, "nat-ip", addr); err != nil {
		return nil, err
	}
	r.m.SetUint32("nat-mask", uint32(mask))
	r.m.SetUint16("nat-port", port)
	return &NAT{Rule: *r}, nil
}

// SetAlgo selects the translation algorithm.
func (n *NAT) SetAlgo(algo uint32) {
	n.m.SetUint32("nat-algo", algo)
}

// SetNPT66 selects NPTv6 translation with the given checksum adjustment.
func (n *NAT) SetNPT66(adj uint16) {
	n.SetAlgo(AlgoNPT66)
	n.m.SetUint16("npt66-adj", adj)
}

func (n *NAT) Type() NATType {
	t, _ := n.m.GetInt32("type")
	return NATType(t)
}

func (n *NAT) Flags() uint32 {
	f, _ := n.m.GetUint32("flags")
	return f
}

func (n *NAT) Algo() uint32 {
	a, _ := n.m.GetUint32("nat-algo")
	return a
}

// NPT66Adj returns the NPTv6 adjustment and whether one is set.
func (n *NAT) NPT66Adj() (uint16, bool) {
	return n.m.GetUint16("npt66-adj")
}

// Translation returns the translation prefix and port.
func (n *NAT) Translation() (netip.Prefix, uint16) {
	addr, ok := getAddr(n.m, "nat-ip")
	if !ok {
		return netip.Prefix{}, 0
	}
	mask, _ := n.m.GetUint32("nat-mask")
	port, _ := n.m.GetUint16("nat-port")
	return netip.PrefixFrom(addr, int(mask)), port
}
