package engine

import (
	"fmt"

	"grimm.is/npfkit/internal/dict"
	"grimm.is/npfkit/internal/npf"
)

// unflatten rebuilds the authored forest from a linearized rule list using
// the nesting levels reported by the rule iterator. The returned maps are
// copies without skip-to.
func unflatten(rules *dict.List) (*dict.List, error) {
	forest := dict.NewList()
	var parents []*dict.Map

	it := npf.NewRuleIterator(rules)
	for it.Next() {
		r := it.Rule().Map().Clone()
		skip := it.Rule().SkipTo()
		r.Remove("skip-to")

		level := it.Level()
		if level > len(parents) {
			return nil, fmt.Errorf("%w: rule at level %d without parent", npf.ErrFormat, level)
		}
		parents = parents[:level]
		if level == 0 {
			forest.Append(r)
		} else {
			subrulesOf(parents[level-1]).Append(r)
		}
		if skip != 0 {
			r.Set("subrules", dict.NewList())
			parents = append(parents, r)
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return forest, nil
}

func subrulesOf(r *dict.Map) *dict.List {
	sub, ok := r.GetList("subrules")
	if !ok {
		sub = dict.NewList()
		r.Set("subrules", sub)
	}
	return sub
}

// findGroup returns the dynamic group called name, searching depth first.
func findGroup(forest *dict.List, name string) *dict.Map {
	for r := range forest.Maps() {
		rule := npf.RuleFromMap(r)
		if rule.Name() == name && rule.Attr()&npf.DynamicGroup == npf.DynamicGroup {
			return r
		}
		if sub, ok := r.GetList("subrules"); ok {
			if g := findGroup(sub, name); g != nil {
				return g
			}
		}
	}
	return nil
}

// countRules returns the number of rules in forest, groups included.
func countRules(forest *dict.List) int {
	n := 0
	for r := range forest.Maps() {
		n++
		if sub, ok := r.GetList("subrules"); ok {
			n += countRules(sub)
		}
	}
	return n
}
