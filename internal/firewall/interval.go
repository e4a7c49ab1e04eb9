//go:build linux

package firewall

import (
	"net/netip"
	"slices"

	"github.com/google/nftables"
)

func splitFamilies(entries []netip.Prefix) (v4, v6 []netip.Prefix) {
	for _, p := range entries {
		if p.Addr().Is4() {
			v4 = append(v4, p.Masked())
		} else {
			v6 = append(v6, p.Masked())
		}
	}
	return v4, v6
}

// span is a half-open address range. open marks ranges reaching the top
// of the address space, which have no end.
type span struct {
	start, end netip.Addr
	open       bool
}

// intervalElements converts prefixes into start/end element pairs. The end
// key is exclusive and is omitted for ranges reaching the top of the
// address space. Overlapping and adjacent prefixes are merged first; the
// kernel rejects overlapping intervals.
func intervalElements(entries []netip.Prefix) []nftables.SetElement {
	spans := mergeSpans(entries)
	elems := make([]nftables.SetElement, 0, 2*len(spans))
	for _, sp := range spans {
		elems = append(elems, nftables.SetElement{Key: sp.start.AsSlice()})
		if !sp.open {
			elems = append(elems, nftables.SetElement{Key: sp.end.AsSlice(), IntervalEnd: true})
		}
	}
	return elems
}

func mergeSpans(entries []netip.Prefix) []span {
	spans := make([]span, 0, len(entries))
	for _, p := range entries {
		end, ok := rangeEnd(p)
		spans = append(spans, span{start: p.Masked().Addr(), end: end, open: !ok})
	}
	slices.SortFunc(spans, func(a, b span) int { return a.start.Compare(b.start) })

	var out []span
	for _, sp := range spans {
		if len(out) == 0 {
			out = append(out, sp)
			continue
		}
		cur := &out[len(out)-1]
		if cur.start.Is4() != sp.start.Is4() || (!cur.open && sp.start.Compare(cur.end) > 0) {
			out = append(out, sp)
			continue
		}
		switch {
		case cur.open:
		case sp.open:
			cur.open = true
			cur.end = netip.Addr{}
		case sp.end.Compare(cur.end) > 0:
			cur.end = sp.end
		}
	}
	return out
}

// rangeEnd returns the first address after p.
func rangeEnd(p netip.Prefix) (netip.Addr, bool) {
	b := p.Masked().Addr().AsSlice()
	for i := p.Bits(); i < len(b)*8; i++ {
		b[i/8] |= 0x80 >> (i % 8)
	}
	last, _ := netip.AddrFromSlice(b)
	next := last.Next()
	return next, next.IsValid()
}
