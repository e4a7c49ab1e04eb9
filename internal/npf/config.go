package npf

import (
	"fmt"
	"iter"

	"grimm.is/npfkit/internal/dict"
)

// Root document keys.
const (
	keyVersion  = "version"
	keyRules    = "rules"
	keyALGs     = "algs"
	keyRProcs   = "rprocs"
	keyTables   = "tables"
	keyNAT      = "nat"
	keyConnList = "conn-list"
	keyFlush    = "flush"
	keyDebug    = "debug"
	keyActive   = "active"
)

// Config is a complete filtering configuration: rules, NAT policies,
// tables, rule procedures and ALGs.
//
// A Config is either assembled locally with the Insert methods and then
// built, or imported from a document received from the engine. Building
// materializes the document; from then on the Config is read-only and
// inserts fail with ErrMaterialized.
type Config struct {
	root *dict.Map

	// Before Build, rules holds the authored forest; afterwards the
	// linearized list stored in root.
	rules  *dict.List
	algs   *dict.List
	rprocs *dict.List
	tables *dict.List
	nat    *dict.List
	conns  *dict.List
	debug  *dict.Map
	flush  bool
}

// NewConfig returns an empty configuration.
func NewConfig() *Config {
	return &Config{
		rules:  dict.NewList(),
		algs:   dict.NewList(),
		rprocs: dict.NewList(),
		tables: dict.NewList(),
		nat:    dict.NewList(),
	}
}

// Import reconstructs a configuration from its transport form.
func Import(data []byte) (*Config, error) {
	root, err := dict.UnmarshalMap(data)
	if err != nil {
		return nil, fmt.Errorf("import configuration: %w", err)
	}
	return FromMap(root)
}

// FromMap wraps a received root document. Sections are views into root;
// absent sections read as empty. The result is materialized.
func FromMap(root *dict.Map) (*Config, error) {
	ver, ok, err := dict.Lookup[dict.Uint32](root, keyVersion)
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: missing version", ErrVersion)
	}
	if uint32(ver) != Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersion, ver, Version)
	}

	c := &Config{root: root}
	sections := []struct {
		key string
		dst **dict.List
	}{
		{keyRules, &c.rules},
		{keyALGs, &c.algs},
		{keyRProcs, &c.rprocs},
		{keyTables, &c.tables},
		{keyNAT, &c.nat},
		{keyConnList, &c.conns},
	}
	for _, s := range sections {
		l, _, err := dict.Lookup[*dict.List](root, s.key)
		if err != nil {
			return nil, fmt.Errorf("%w: section %v", ErrFormat, err)
		}
		*s.dst = l
	}
	if c.debug, _, err = dict.Lookup[*dict.Map](root, keyDebug); err != nil {
		return nil, fmt.Errorf("%w: section %v", ErrFormat, err)
	}
	c.flush, _ = root.GetBool(keyFlush)
	return c, nil
}

// Build linearizes the rules and assembles the root document. It runs
// once; later calls return the cached document.
func (c *Config) Build() (*dict.Map, error) {
	if c.root != nil {
		return c.root, nil
	}
	flat, err := Linearize(c.rules)
	if err != nil {
		return nil, fmt.Errorf("build configuration: %w", err)
	}

	root := dict.NewMap()
	root.SetUint32(keyVersion, Version)
	root.Set(keyRules, flat)
	root.Set(keyALGs, c.algs)
	root.Set(keyRProcs, c.rprocs)
	root.Set(keyTables, c.tables)
	root.Set(keyNAT, c.nat)
	root.SetBool(keyFlush, c.flush)
	if c.debug != nil {
		root.Set(keyDebug, c.debug)
	}
	c.rules = flat
	c.root = root
	return root, nil
}

// Export builds the configuration and returns its transport form.
func (c *Config) Export() ([]byte, error) {
	root, err := c.Build()
	if err != nil {
		return nil, err
	}
	return dict.Marshal(root)
}

// Materialized reports whether the root document has been built or
// imported.
func (c *Config) Materialized() bool { return c.root != nil }

func (c *Config) mutable() error {
	if c.root != nil {
		return ErrMaterialized
	}
	return nil
}

// SetFlush marks the configuration as replacing everything with an empty
// ruleset.
func (c *Config) SetFlush(flush bool) error {
	if err := c.mutable(); err != nil {
		return err
	}
	c.flush = flush
	return nil
}

func (c *Config) Flush() bool { return c.flush }

// Active reports whether the engine marked this configuration as the one
// currently loaded.
func (c *Config) Active() bool {
	if c.root == nil {
		return false
	}
	active, _ := c.root.GetBool(keyActive)
	return active
}

// Loaded reports whether the configuration carries a rules section.
func (c *Config) Loaded() bool { return c.rules != nil }

// InsertRule adds r as the last subrule of parent, or as the last
// top-level rule when parent is nil.
func (c *Config) InsertRule(parent, r *Rule) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("%w: nil rule", ErrInvalidArgument)
	}
	if contains(c.rules, r.m) {
		return fmt.Errorf("%w: rule %q is already in the configuration", ErrAlreadyExists, r.Name())
	}
	if parent == nil {
		c.rules.Append(r.m)
		return nil
	}
	if parent.m == r.m || contains(subrulesOf(r.m), parent.m) {
		return fmt.Errorf("%w: rule %q cannot be nested inside itself", ErrInvalidArgument, r.Name())
	}
	if contains(subrulesOf(parent.m), r.m) {
		return fmt.Errorf("%w: rule %q is already a subrule of %q", ErrAlreadyExists, r.Name(), parent.Name())
	}
	sub, ok := parent.m.GetList("subrules")
	if !ok {
		sub = dict.NewList()
		parent.m.Set("subrules", sub)
	}
	sub.Append(r.m)
	return nil
}

// contains reports whether target is one of the rule maps of the forest l.
func contains(l *dict.List, target *dict.Map) bool {
	if l == nil {
		return false
	}
	for m := range l.Maps() {
		if m == target || contains(subrulesOf(m), target) {
			return true
		}
	}
	return false
}

func subrulesOf(m *dict.Map) *dict.List {
	sub, _ := m.GetList("subrules")
	return sub
}

// RuleExists reports whether a top-level rule with the given name exists.
func (c *Config) RuleExists(name string) bool {
	return findByName(c.rules, name) != nil
}

// InsertRuleProc adds a rule procedure. Names are unique.
func (c *Config) InsertRuleProc(rp *RuleProc) error {
	if err := c.mutable(); err != nil {
		return err
	}
	name := rp.Name()
	if name == "" {
		return fmt.Errorf("%w: rule procedure without a name", ErrInvalidArgument)
	}
	if c.RuleProcExists(name) {
		return fmt.Errorf("%w: rule procedure %q", ErrAlreadyExists, name)
	}
	c.rprocs.Append(rp.m)
	return nil
}

func (c *Config) RuleProcExists(name string) bool {
	return findByName(c.rprocs, name) != nil
}

// InsertTable adds a table. Names and ids are unique.
func (c *Config) InsertTable(t *Table) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if err := t.validate(); err != nil {
		return err
	}
	if c.TableExists(t.Name()) {
		return fmt.Errorf("%w: table %q", ErrAlreadyExists, t.Name())
	}
	for other := range c.Tables() {
		if other.ID() == t.ID() {
			return fmt.Errorf("%w: table id %d", ErrAlreadyExists, t.ID())
		}
	}
	c.tables.Append(t.m)
	return nil
}

func (c *Config) TableExists(name string) bool {
	return findByName(c.tables, name) != nil
}

// InsertNAT adds a NAT policy. NAT policies are always evaluated last.
func (c *Config) InsertNAT(n *NAT) error {
	if err := c.mutable(); err != nil {
		return err
	}
	n.SetPriority(PriLast)
	c.nat.Append(n.m)
	return nil
}

// LoadALG enables the named application level gateway.
func (c *Config) LoadALG(name string) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: empty ALG name", ErrInvalidArgument)
	}
	if findByName(c.algs, name) != nil {
		return fmt.Errorf("%w: ALG %q", ErrAlreadyExists, name)
	}
	m := dict.NewMap()
	m.SetString("name", name)
	c.algs.Append(m)
	return nil
}

// UnloadALG removes the named ALG.
func (c *Config) UnloadALG(name string) error {
	if err := c.mutable(); err != nil {
		return err
	}
	for i, v := range c.algs.All() {
		if m, ok := v.(*dict.Map); ok {
			if n, _ := m.GetString("name"); n == name {
				c.algs.Remove(i)
				return nil
			}
		}
	}
	return fmt.Errorf("%w: ALG %q", ErrNotFound, name)
}

// Rules returns an iterator over the linearized rules, building the
// configuration first if needed.
func (c *Config) Rules() *RuleIterator {
	if _, err := c.Build(); err != nil {
		return &RuleIterator{err: err}
	}
	return NewRuleIterator(c.rules)
}

func (c *Config) NATs() iter.Seq[*NAT] {
	return func(yield func(*NAT) bool) {
		for m := range maps(c.nat) {
			if !yield(&NAT{Rule: Rule{m: m}}) {
				return
			}
		}
	}
}

func (c *Config) Tables() iter.Seq[*Table] {
	return func(yield func(*Table) bool) {
		for m := range maps(c.tables) {
			if !yield(&Table{m: m}) {
				return
			}
		}
	}
}

func (c *Config) RuleProcs() iter.Seq[*RuleProc] {
	return func(yield func(*RuleProc) bool) {
		for m := range maps(c.rprocs) {
			if !yield(&RuleProc{m: m}) {
				return
			}
		}
	}
}

func (c *Config) ALGs() iter.Seq[string] {
	return func(yield func(string) bool) {
		for m := range maps(c.algs) {
			name, ok := m.GetString("name")
			if ok && !yield(name) {
				return
			}
		}
	}
}

func maps(l *dict.List) iter.Seq[*dict.Map] {
	if l == nil {
		return func(func(*dict.Map) bool) {}
	}
	return l.Maps()
}

// FromRules wraps a linearized rule list received on its own, as returned
// when listing a dynamic ruleset.
func FromRules(rules *dict.List) *Config {
	root := dict.NewMap()
	root.SetUint32(keyVersion, Version)
	root.Set(keyRules, rules)
	c, _ := FromMap(root)
	return c
}
