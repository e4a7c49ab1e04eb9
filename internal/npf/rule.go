package npf

import (
	"fmt"

	"grimm.is/npfkit/internal/dict"
)

// bpfInsnSize is the size of one classic BPF instruction.
const bpfInsnSize = 8

// Rule is a view of a rule document.
type Rule struct {
	m *dict.Map
}

// NewRule creates a detached rule. Empty name and ifname are omitted.
func NewRule(name string, attr uint32, ifname string) *Rule {
	m := dict.NewMap()
	if name != "" {
		m.SetString("name", name)
	}
	m.SetUint32("attr", attr)
	if ifname != "" {
		m.SetString("ifname", ifname)
	}
	return &Rule{m: m}
}

// RuleFromMap wraps an existing rule document.
func RuleFromMap(m *dict.Map) *Rule {
	return &Rule{m: m}
}

// Map returns the underlying document.
func (r *Rule) Map() *dict.Map { return r.m }

// SetCode attaches a compiled match program. Only CodeNC and CodeBPF are
// accepted; on error the rule is left unchanged.
func (r *Rule) SetCode(typ CodeType, code []byte) error {
	switch typ {
	case CodeNC:
	case CodeBPF:
		if len(code)%bpfInsnSize != 0 {
			return fmt.Errorf("%w: bpf program of %d bytes", ErrInvalidArgument, len(code))
		}
	default:
		return fmt.Errorf("%w: code type %d", ErrInvalidArgument, typ)
	}
	r.m.SetUint32("code-type", uint32(typ))
	r.m.SetBlob("code", code)
	return nil
}

// SetKey sets the opaque key used to remove a dynamic rule.
func (r *Rule) SetKey(key []byte) { r.m.SetBlob("key", key) }

// SetInfo sets the free-form info blob.
func (r *Rule) SetInfo(info []byte) { r.m.SetBlob("info", info) }

// SetPriority sets the evaluation priority.
func (r *Rule) SetPriority(pri int32) { r.m.SetInt32("prio", pri) }

// SetProc names the rule procedure run on match.
func (r *Rule) SetProc(name string) { r.m.SetString("rproc", name) }

// Export serializes the rule on its own.
func (r *Rule) Export() ([]byte, error) {
	return dict.Marshal(r.m)
}

func (r *Rule) Name() string {
	s, _ := r.m.GetString("name")
	return s
}

func (r *Rule) Attr() uint32 {
	a, _ := r.m.GetUint32("attr")
	return a
}

func (r *Rule) Interface() string {
	s, _ := r.m.GetString("ifname")
	return s
}

// Priority returns the rule priority, PriLast when unset.
func (r *Rule) Priority() int32 {
	if p, ok := r.m.GetInt32("prio"); ok {
		return p
	}
	return PriLast
}

func (r *Rule) Proc() string {
	s, _ := r.m.GetString("rproc")
	return s
}

// ID returns the identifier assigned by the engine, zero if none.
func (r *Rule) ID() uint64 {
	id, _ := r.m.GetUint64("id")
	return id
}

func (r *Rule) Info() []byte { return blobOrNil(r.m, "info") }
func (r *Rule) Key() []byte  { return blobOrNil(r.m, "key") }

// Code returns the match program and its encoding.
func (r *Rule) Code() (CodeType, []byte) {
	typ, _ := r.m.GetUint32("code-type")
	return CodeType(typ), blobOrNil(r.m, "code")
}

// SkipTo returns the flat-list group end, zero for rules that head no group.
func (r *Rule) SkipTo() uint32 {
	n, _ := r.m.GetUint32("skip-to")
	return n
}

func blobOrNil(m *dict.Map, key string) []byte {
	b, ok := m.GetBlob(key)
	if !ok {
		return nil
	}
	return b.Bytes()
}
