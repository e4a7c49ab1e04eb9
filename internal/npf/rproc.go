package npf

import (
	"fmt"

	"grimm.is/npfkit/internal/dict"
)

// RuleProc is a named procedure of extension calls run on rule match.
type RuleProc struct {
	m *dict.Map
}

// NewRuleProc creates a detached rule procedure.
func NewRuleProc(name string) *RuleProc {
	m := dict.NewMap()
	m.SetString("name", name)
	m.Set("extcalls", dict.NewList())
	return &RuleProc{m: m}
}

// RuleProcFromMap wraps an existing procedure document.
func RuleProcFromMap(m *dict.Map) *RuleProc {
	return &RuleProc{m: m}
}

func (rp *RuleProc) Map() *dict.Map { return rp.m }

func (rp *RuleProc) Name() string {
	s, _ := rp.m.GetString("name")
	return s
}

// AddExt appends an extension call. Extension names are unique within a
// procedure.
func (rp *RuleProc) AddExt(ext *Ext) error {
	calls, ok := rp.m.GetList("extcalls")
	if !ok {
		calls = dict.NewList()
		rp.m.Set("extcalls", calls)
	}
	if findByName(calls, ext.Name()) != nil {
		return fmt.Errorf("%w: extension %q in procedure %q", ErrAlreadyExists, ext.Name(), rp.Name())
	}
	calls.Append(ext.m)
	return nil
}

// Exts returns the extension calls in order.
func (rp *RuleProc) Exts() []*Ext {
	calls, ok := rp.m.GetList("extcalls")
	if !ok {
		return nil
	}
	var out []*Ext
	for m := range calls.Maps() {
		out = append(out, &Ext{m: m})
	}
	return out
}

// Ext is one extension call with its named parameters.
type Ext struct {
	m *dict.Map
}

// NewExt creates an extension call for the named extension.
func NewExt(name string) *Ext {
	m := dict.NewMap()
	m.SetString("name", name)
	return &Ext{m: m}
}

func (e *Ext) Name() string {
	s, _ := e.m.GetString("name")
	return s
}

func (e *Ext) SetU32(key string, v uint32)    { e.m.SetUint32(key, v) }
func (e *Ext) SetBool(key string, v bool)     { e.m.SetBool(key, v) }
func (e *Ext) SetString(key string, v string) { e.m.SetString(key, v) }

// Params returns the parameter document, including the name entry.
func (e *Ext) Params() *dict.Map { return e.m }

func findByName(l *dict.List, name string) *dict.Map {
	if l == nil {
		return nil
	}
	for m := range l.Maps() {
		if n, ok := m.GetString("name"); ok && n == name {
			return m
		}
	}
	return nil
}
