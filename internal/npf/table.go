package npf

import (
	"fmt"
	"net/netip"

	"grimm.is/npfkit/internal/dict"
)

// Table is a view of an address table document.
type Table struct {
	m *dict.Map
}

// NewTable creates a detached, empty table.
func NewTable(name string, id uint32, typ TableType) *Table {
	m := dict.NewMap()
	m.SetString("name", name)
	m.SetUint64("id", uint64(id))
	m.SetInt32("type", int32(typ))
	m.Set("entries", dict.NewList())
	return &Table{m: m}
}

// TableFromMap wraps an existing table document.
func TableFromMap(m *dict.Map) *Table {
	return &Table{m: m}
}

func (t *Table) Map() *dict.Map { return t.m }

// AddEntry appends an address/prefix-length entry.
func (t *Table) AddEntry(p netip.Prefix) error {
	if !p.IsValid() {
		return fmt.Errorf("%w: invalid table entry %v", ErrInvalidArgument, p)
	}
	ent := dict.NewMap()
	if err := putAddr(ent, "addr", p.Addr()); err != nil {
		return err
	}
	ent.SetUint8("mask", uint8(p.Bits()))

	entries, ok := t.m.GetList("entries")
	if !ok {
		entries = dict.NewList()
		t.m.Set("entries", entries)
	}
	entries.Append(ent)
	return nil
}

// SetData sets a pre-built engine-specific representation of the table.
func (t *Table) SetData(blob []byte) {
	t.m.SetBlob("data", blob)
}

func (t *Table) Name() string {
	s, _ := t.m.GetString("name")
	return s
}

// ID returns the table id, or ^uint32(0) when unset.
func (t *Table) ID() uint32 {
	id, ok := t.m.GetUint64("id")
	if !ok {
		return ^uint32(0)
	}
	return uint32(id)
}

func (t *Table) Type() TableType {
	typ, _ := t.m.GetInt32("type")
	return TableType(typ)
}

// Entries returns the table entries. Malformed entries are skipped.
func (t *Table) Entries() []netip.Prefix {
	entries, ok := t.m.GetList("entries")
	if !ok {
		return nil
	}
	out := make([]netip.Prefix, 0, entries.Len())
	for ent := range entries.Maps() {
		addr, ok := getAddr(ent, "addr")
		if !ok {
			continue
		}
		mask, ok := ent.GetUint8("mask")
		if !ok || checkMask(addr, int(mask)) != nil {
			continue
		}
		out = append(out, netip.PrefixFrom(addr, int(mask)))
	}
	return out
}

// Data returns the pre-built representation, if set.
func (t *Table) Data() ([]byte, bool) {
	b, ok := t.m.GetBlob("data")
	if !ok {
		return nil, false
	}
	return b.Bytes(), true
}

func (t *Table) validate() error {
	if t.Name() == "" {
		return fmt.Errorf("%w: table without a name", ErrInvalidArgument)
	}
	entries, _ := t.m.GetList("entries")
	if _, hasData := t.m.GetBlob("data"); hasData && entries != nil && entries.Len() > 0 {
		return fmt.Errorf("%w: table %q has both entries and data", ErrInvalidArgument, t.Name())
	}
	return nil
}
