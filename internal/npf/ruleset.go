package npf

import (
	"fmt"

	"grimm.is/npfkit/internal/dict"
)

// Linearize flattens an authored rule forest into the evaluation order
// used by the engine. Rules are visited in pre-order; each rule that heads
// a non-empty group loses its "subrules" list and gains "skip-to", the
// number of rules emitted up to and including the last rule of its group.
//
// Rule maps are moved, not copied: after a successful call the forest's
// maps belong to the returned list. The forest is validated first, so on
// error nothing has been modified.
func Linearize(forest *dict.List) (*dict.List, error) {
	out := dict.NewList()
	if forest == nil {
		return out, nil
	}
	if err := checkForest(forest, 0, make(map[*dict.Map]bool)); err != nil {
		return nil, err
	}
	flatten(forest, out)
	return out, nil
}

// checkForest validates l before anything is moved. seen holds every rule
// map visited so far; a map reachable twice would be emitted twice.
func checkForest(l *dict.List, depth int, seen map[*dict.Map]bool) error {
	for i, v := range l.All() {
		m, ok := v.(*dict.Map)
		if !ok {
			return fmt.Errorf("%w: rule %d at depth %d is %s", ErrFormat, i, depth, v.Kind())
		}
		if seen[m] {
			return fmt.Errorf("%w: rule %d at depth %d appears more than once", ErrInvalidArgument, i, depth)
		}
		seen[m] = true
		if m.Has("skip-to") {
			return fmt.Errorf("%w: rule %d at depth %d is already linearized", ErrInvalidArgument, i, depth)
		}
		sub, ok, err := dict.Lookup[*dict.List](m, "subrules")
		if err != nil {
			return fmt.Errorf("%w: rule %d: %v", ErrFormat, i, err)
		}
		if !ok || sub.Len() == 0 {
			continue
		}
		if depth+1 > MaxRuleDepth {
			return fmt.Errorf("%w: rule groups nested deeper than %d", ErrInvalidArgument, MaxRuleDepth)
		}
		if err := checkForest(sub, depth+1, seen); err != nil {
			return err
		}
	}
	return nil
}

func flatten(l *dict.List, out *dict.List) {
	for m := range l.Maps() {
		out.Append(m)
		sub, _ := m.GetList("subrules")
		m.Remove("subrules")
		if sub == nil || sub.Len() == 0 {
			continue
		}
		flatten(sub, out)
		m.SetUint32("skip-to", uint32(out.Len()))
	}
}
