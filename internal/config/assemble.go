package config

import (
	"encoding/base64"
	"fmt"
	"maps"
	"slices"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"grimm.is/npfkit/internal/npf"
)

// Assemble validates f and builds the configuration it describes. r
// resolves debug interface indexes and may be nil when the file lists
// none.
func (f *File) Assemble(r npf.IndexResolver) (*npf.Config, error) {
	if errs := f.Validate(); errs.HasErrors() {
		return nil, errs
	}
	if len(f.DebugInterfaces) > 0 && r == nil {
		return nil, fmt.Errorf("%w: debug interfaces need an index resolver", npf.ErrInvalidArgument)
	}

	cfg := npf.NewConfig()
	for _, name := range f.ALGs {
		if err := cfg.LoadALG(name); err != nil {
			return nil, fmt.Errorf("alg %q: %w", name, err)
		}
	}

	for _, p := range f.Procedures {
		rp := npf.NewRuleProc(p.Name)
		for _, eb := range p.Exts {
			ext, err := extParams(eb)
			if err != nil {
				return nil, fmt.Errorf("procedure %q: %w", p.Name, err)
			}
			if err := rp.AddExt(ext); err != nil {
				return nil, fmt.Errorf("procedure %q: %w", p.Name, err)
			}
		}
		if err := cfg.InsertRuleProc(rp); err != nil {
			return nil, fmt.Errorf("procedure %q: %w", p.Name, err)
		}
	}

	if err := f.addTables(cfg); err != nil {
		return nil, err
	}

	for i, nb := range f.NATs {
		n, err := natPolicy(nb)
		if err != nil {
			return nil, fmt.Errorf("nat[%d]: %w", i, err)
		}
		if err := cfg.InsertNAT(n); err != nil {
			return nil, fmt.Errorf("nat[%d]: %w", i, err)
		}
	}

	for _, rb := range f.Rules {
		if err := addRule(cfg, nil, rb); err != nil {
			return nil, err
		}
	}

	for _, name := range f.DebugInterfaces {
		if err := cfg.AddDebugInterface(r, name); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// addTables inserts the tables. Tables without an explicit id take the
// lowest id not used by any table.
func (f *File) addTables(cfg *npf.Config) error {
	used := make(map[uint32]bool)
	for _, tb := range f.Tables {
		if tb.ID != nil {
			used[uint32(*tb.ID)] = true
		}
	}
	next := uint32(1)
	for _, tb := range f.Tables {
		var id uint32
		if tb.ID != nil {
			id = uint32(*tb.ID)
		} else {
			for used[next] {
				next++
			}
			id = next
			used[id] = true
		}

		t := npf.NewTable(tb.Name, id, tableTypes[tb.Type])
		for _, e := range tb.Entries {
			p, _ := parsePrefix(e)
			if err := t.AddEntry(p); err != nil {
				return fmt.Errorf("table %q: %w", tb.Name, err)
			}
		}
		if tb.Data != "" {
			data, _ := base64.StdEncoding.DecodeString(tb.Data)
			t.SetData(data)
		}
		if err := cfg.InsertTable(t); err != nil {
			return fmt.Errorf("table %q: %w", tb.Name, err)
		}
	}
	return nil
}

func natPolicy(nb NATBlock) (*npf.NAT, error) {
	var flags uint32
	if nb.Ports {
		flags |= npf.NATPorts
	}
	if nb.PortMap {
		flags |= npf.NATPortMap
	}
	p, _ := parsePrefix(nb.Address)
	n, err := npf.NewNAT(natKinds[nb.Kind], flags, nb.Interface, p.Addr(), uint8(p.Bits()), uint16(nb.Port))
	if err != nil {
		return nil, err
	}
	if nb.Algorithm != "" {
		n.SetAlgo(natAlgos[nb.Algorithm])
	}
	if nb.Adjustment != nil {
		n.SetNPT66(uint16(*nb.Adjustment))
	}
	return n, nil
}

func addRule(cfg *npf.Config, parent *npf.Rule, rb *RuleBlock) error {
	attr := directions[rb.Direction]
	for _, flag := range []struct {
		set bool
		bit uint32
	}{
		{rb.Pass, npf.RulePass},
		{rb.Final, npf.RuleFinal},
		{rb.Stateful, npf.RuleStateful},
		{rb.ReturnRST, npf.RuleRetRST},
		{rb.ReturnICMP, npf.RuleRetICMP},
		{rb.IsGroup, npf.RuleGroup},
		{rb.Dynamic, npf.DynamicGroup},
	} {
		if flag.set {
			attr |= flag.bit
		}
	}

	r := npf.NewRule(rb.Name, attr, rb.Interface)
	if rb.Priority != nil {
		r.SetPriority(int32(*rb.Priority))
	}
	if rb.Procedure != "" {
		r.SetProc(rb.Procedure)
	}
	if rb.Key != "" {
		r.SetKey([]byte(rb.Key))
	}
	if rb.Info != "" {
		r.SetInfo([]byte(rb.Info))
	}
	mc, err := ruleCode(rb)
	if err != nil {
		return fmt.Errorf("rule %q: %w", rb.Name, err)
	}
	if mc != nil {
		if err := r.SetCode(mc.typ, mc.code); err != nil {
			return fmt.Errorf("rule %q: %w", rb.Name, err)
		}
	}

	if err := cfg.InsertRule(parent, r); err != nil {
		return fmt.Errorf("rule %q: %w", rb.Name, err)
	}
	for _, child := range rb.Rules {
		if err := addRule(cfg, r, child); err != nil {
			return err
		}
	}
	return nil
}

// extParams converts an ext block into an extension call. Parameters are
// added in name order.
func extParams(eb ExtBlock) (*npf.Ext, error) {
	ext := npf.NewExt(eb.Name)
	if eb.Params.IsNull() {
		return ext, nil
	}
	ty := eb.Params.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("ext %q: params must be an object", eb.Name)
	}
	if !eb.Params.IsWhollyKnown() {
		return nil, fmt.Errorf("ext %q: params must be known", eb.Name)
	}

	params := eb.Params.AsValueMap()
	for _, key := range slices.Sorted(maps.Keys(params)) {
		if key == "name" {
			return nil, fmt.Errorf("ext %q: parameter name is reserved", eb.Name)
		}
		v := params[key]
		if v.IsNull() {
			return nil, fmt.Errorf("ext %q: parameter %s is null", eb.Name, key)
		}
		switch v.Type() {
		case cty.String:
			ext.SetString(key, v.AsString())
		case cty.Bool:
			ext.SetBool(key, v.True())
		case cty.Number:
			var n uint32
			if err := gocty.FromCtyValue(v, &n); err != nil {
				return nil, fmt.Errorf("ext %q: parameter %s: %w", eb.Name, key, err)
			}
			ext.SetU32(key, n)
		default:
			return nil, fmt.Errorf("ext %q: parameter %s has unsupported type %s", eb.Name, key, v.Type().FriendlyName())
		}
	}
	return ext, nil
}
