package npf

import (
	"fmt"

	"grimm.is/npfkit/internal/dict"
)

// IndexResolver maps an interface name to its kernel index.
type IndexResolver interface {
	InterfaceIndex(name string) (uint32, error)
}

// AddDebugInterface records name and its index in the debug section.
// Names already recorded are ignored.
func (c *Config) AddDebugInterface(r IndexResolver, name string) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if c.debug == nil {
		c.debug = dict.NewMap()
		c.debug.Set("interfaces", dict.NewList())
	}
	ifaces, ok := c.debug.GetList("interfaces")
	if !ok {
		ifaces = dict.NewList()
		c.debug.Set("interfaces", ifaces)
	}
	if findByName(ifaces, name) != nil {
		return nil
	}
	idx, err := r.InterfaceIndex(name)
	if err != nil {
		return fmt.Errorf("resolve interface %q: %w", name, err)
	}
	m := dict.NewMap()
	m.SetString("name", name)
	m.SetUint32("index", idx)
	ifaces.Append(m)
	return nil
}

// DebugInterfaces returns the recorded interface indexes by name.
func (c *Config) DebugInterfaces() map[string]uint32 {
	out := make(map[string]uint32)
	if c.debug == nil {
		return out
	}
	ifaces, _ := c.debug.GetList("interfaces")
	for m := range maps(ifaces) {
		name, _ := m.GetString("name")
		idx, _ := m.GetUint32("index")
		out[name] = idx
	}
	return out
}
