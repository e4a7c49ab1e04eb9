package npf

import (
	"fmt"

	"grimm.is/npfkit/internal/dict"
)

// RuleIterator walks a linearized rule list and reports the group nesting
// level of every rule, rebuilt from the "skip-to" annotations alone.
//
// It is forward-only:
//
//	it := cfg.Rules()
//	for it.Next() {
//		fmt.Println(it.Level(), it.Rule().Name())
//	}
//	if err := it.Err(); err != nil { ... }
//
// Modifying the list while an iterator is live is undefined.
type RuleIterator struct {
	list *dict.List
	pos  int

	// counter is the 1-based position of the current rule. thresholds
	// holds the skip-to of every open group, innermost last.
	counter    uint32
	thresholds [MaxRuleDepth]uint32
	depth      int

	cur   *Rule
	level int
	err   error
}

// NewRuleIterator returns an iterator over a linearized rule list.
func NewRuleIterator(list *dict.List) *RuleIterator {
	return &RuleIterator{list: list}
}

// Next advances to the next rule. It returns false at the end of the list
// or on an inconsistent list, in which case Err reports why.
func (it *RuleIterator) Next() bool {
	it.cur = nil
	if it.err != nil || it.list == nil || it.pos >= it.list.Len() {
		return false
	}

	v := it.list.At(it.pos)
	it.pos++
	m, ok := v.(*dict.Map)
	if !ok {
		return it.fail("rule %d is %s", it.pos, v.Kind())
	}
	skip, hasSkip, err := dict.Lookup[dict.Uint32](m, "skip-to")
	if err != nil {
		return it.fail("rule %d: %v", it.pos, err)
	}

	it.level = it.depth
	it.counter++

	if hasSkip && skip != 0 {
		end := uint32(skip)
		switch {
		case end <= it.counter:
			return it.fail("rule %d: skip-to %d does not pass the rule itself", it.pos, end)
		case int64(end) > int64(it.list.Len()):
			return it.fail("rule %d: skip-to %d beyond %d rules", it.pos, end, it.list.Len())
		case it.depth > 0 && end > it.thresholds[it.depth-1]:
			return it.fail("rule %d: skip-to %d escapes the enclosing group ending at %d",
				it.pos, end, it.thresholds[it.depth-1])
		case it.depth == MaxRuleDepth:
			return it.fail("rule %d: groups nested deeper than %d", it.pos, MaxRuleDepth)
		}
		it.thresholds[it.depth] = end
		it.depth++
	}

	// Several groups may end on the same rule.
	for it.depth > 0 && it.thresholds[it.depth-1] == it.counter {
		it.depth--
	}

	it.cur = RuleFromMap(m)
	return true
}

// Rule returns the current rule.
func (it *RuleIterator) Rule() *Rule { return it.cur }

// Level returns the number of groups enclosing the current rule.
func (it *RuleIterator) Level() int { return it.level }

// Err returns the inconsistency that stopped the iteration, if any.
func (it *RuleIterator) Err() error { return it.err }

func (it *RuleIterator) fail(format string, args ...any) bool {
	it.err = fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
	return false
}
