// Package npf builds, serializes and walks packet filter configurations
// exchanged with an NPF-style filtering engine.
//
// # Overview
//
// A [Config] owns the rule forest, NAT policies, address tables, rule
// procedures and ALG names. Entities are created detached ([NewRule],
// [NewNAT], [NewTable], [NewRuleProc]) and handed to the Config with the
// Insert methods; after insertion the Config is authoritative and the
// handle is a view into its tree.
//
// # Rule groups
//
// Rules are authored as a tree: [Config.InsertRule] with a non-nil parent
// nests a rule under a group. The engine evaluates a flat array, so
// [Config.Build] runs [Linearize], which turns every "subrules" list into a
// "skip-to" index. A [RuleIterator] walks the flat form and reports the
// nesting level of each rule using only those indexes.
//
// # Lifecycle
//
//	cfg := npf.NewConfig()
//	grp := npf.NewRule("ext", npf.RuleGroup|npf.RuleIn, "eth0")
//	cfg.InsertRule(nil, grp)
//	cfg.InsertRule(grp, npf.NewRule("ssh", npf.RulePass|npf.RuleFinal, ""))
//	data, err := cfg.Export()
//
// Build caches the resulting document. From then on the Config is
// materialized and rejects further insertions with [ErrMaterialized].
// A Config and its iterators are not safe for concurrent use, and mutating
// a Config while an iterator over it is live is undefined.
package npf
