package npf

import (
	"fmt"
	"iter"
	"net/netip"

	"grimm.is/npfkit/internal/dict"
)

// Conn is one entry of the engine's connection snapshot. Ports are in
// host byte order.
type Conn struct {
	Proto          uint16
	Src            netip.AddrPort
	Dst            netip.AddrPort
	TranslatedPort uint16
	Interface      string
}

// Connections iterates over the connection snapshot returned with a saved
// configuration. Malformed entries are skipped.
func (c *Config) Connections() iter.Seq[Conn] {
	return func(yield func(Conn) bool) {
		for m := range maps(c.conns) {
			conn, ok := connFromMap(m)
			if ok && !yield(conn) {
				return
			}
		}
	}
}

func connFromMap(m *dict.Map) (Conn, bool) {
	var conn Conn
	ifname, ok := m.GetString("ifname")
	if !ok {
		return conn, false
	}
	conn.Interface = ifname

	if v, present := m.Get("nat"); present {
		if nat, isMap := v.(*dict.Map); isMap {
			if conn.TranslatedPort, ok = nat.GetUint16("tport"); !ok {
				return conn, false
			}
		}
	}

	key, ok := m.GetMap("forw-key")
	if !ok {
		return conn, false
	}
	ck, ok := connKeyFromMap(key)
	if !ok {
		return conn, false
	}
	conn.Proto = ck.Proto
	conn.Src = ck.Src
	conn.Dst = ck.Dst
	return conn, true
}

// Map encodes the connection as the engine reports it.
func (conn Conn) Map() *dict.Map {
	m := dict.NewMap()
	m.SetString("ifname", conn.Interface)
	if conn.TranslatedPort != 0 {
		nat := dict.NewMap()
		nat.SetUint16("tport", conn.TranslatedPort)
		m.Set("nat", nat)
	}
	m.Set("forw-key", ConnKey{Proto: conn.Proto, Src: conn.Src, Dst: conn.Dst}.Map())
	return m
}

// AddConnection appends an entry to the connection snapshot. Only the
// engine populates this section.
func (c *Config) AddConnection(conn Conn) {
	if c.conns == nil {
		c.conns = dict.NewList()
		if c.root != nil {
			c.root.Set(keyConnList, c.conns)
		}
	}
	c.conns.Append(conn.Map())
}

// ConnKey is the 5-tuple identifying a connection.
type ConnKey struct {
	Proto uint16
	Src   netip.AddrPort
	Dst   netip.AddrPort
}

func (k ConnKey) String() string {
	return fmt.Sprintf("%d %s -> %s", k.Proto, k.Src, k.Dst)
}

// Map encodes the key. Both addresses must be valid and of one family.
func (k ConnKey) Map() *dict.Map {
	m := dict.NewMap()
	m.SetBlob("saddr", k.Src.Addr().AsSlice())
	m.SetBlob("daddr", k.Dst.Addr().AsSlice())
	m.SetUint16("sport", k.Src.Port())
	m.SetUint16("dport", k.Dst.Port())
	m.SetUint16("proto", k.Proto)
	return m
}

func connKeyFromMap(m *dict.Map) (ConnKey, bool) {
	var k ConnKey
	src, ok := getAddr(m, "saddr")
	if !ok {
		return k, false
	}
	dst, ok := getAddr(m, "daddr")
	if !ok || dst.BitLen() != src.BitLen() {
		return k, false
	}
	sport, ok1 := m.GetUint16("sport")
	dport, ok2 := m.GetUint16("dport")
	proto, ok3 := m.GetUint16("proto")
	if !ok1 || !ok2 || !ok3 {
		return k, false
	}
	return ConnKey{
		Proto: proto,
		Src:   netip.AddrPortFrom(src, sport),
		Dst:   netip.AddrPortFrom(dst, dport),
	}, true
}

// NATLookupRequest encodes a translation lookup for key seen in
// direction dir.
func NATLookupRequest(key ConnKey, dir uint16) (*dict.Map, error) {
	if !key.Src.Addr().IsValid() || !key.Dst.Addr().IsValid() {
		return nil, fmt.Errorf("%w: invalid connection address", ErrInvalidArgument)
	}
	if key.Src.Addr().BitLen() != key.Dst.Addr().BitLen() {
		return nil, fmt.Errorf("%w: mixed address families", ErrInvalidArgument)
	}
	if dir != DirIn && dir != DirOut {
		return nil, fmt.Errorf("%w: direction %d", ErrInvalidArgument, dir)
	}
	m := dict.NewMap()
	m.SetUint16("direction", dir)
	m.Set("key", key.Map())
	return m, nil
}

// ParseNATLookupRequest is the inverse of NATLookupRequest.
func ParseNATLookupRequest(m *dict.Map) (ConnKey, uint16, error) {
	dir, ok := m.GetUint16("direction")
	if !ok {
		return ConnKey{}, 0, fmt.Errorf("%w: lookup without direction", ErrFormat)
	}
	km, ok := m.GetMap("key")
	if !ok {
		return ConnKey{}, 0, fmt.Errorf("%w: lookup without key", ErrFormat)
	}
	key, ok := connKeyFromMap(km)
	if !ok {
		return ConnKey{}, 0, fmt.Errorf("%w: malformed lookup key", ErrFormat)
	}
	return key, dir, nil
}

// NATResult is the original endpoint and translated port of a connection.
type NATResult struct {
	Original       netip.AddrPort
	TranslatedPort uint16
}

// Map encodes the lookup response.
func (r NATResult) Map() *dict.Map {
	nat := dict.NewMap()
	nat.SetBlob("oaddr", r.Original.Addr().AsSlice())
	nat.SetUint16("oport", r.Original.Port())
	nat.SetUint16("tport", r.TranslatedPort)
	m := dict.NewMap()
	m.Set("nat", nat)
	return m
}

// ParseNATResult decodes a lookup response. A response without a
// translation is ErrNotFound.
func ParseNATResult(m *dict.Map) (NATResult, error) {
	nat, ok := m.GetMap("nat")
	if !ok {
		return NATResult{}, fmt.Errorf("%w: no translation", ErrNotFound)
	}
	addr, ok := getAddr(nat, "oaddr")
	if !ok {
		return NATResult{}, fmt.Errorf("%w: translation without address", ErrInvalidArgument)
	}
	oport, _ := nat.GetUint16("oport")
	tport, _ := nat.GetUint16("tport")
	return NATResult{Original: netip.AddrPortFrom(addr, oport), TranslatedPort: tport}, nil
}
