package npf

// Version is the configuration layout version carried by every root
// document. Documents with any other version are rejected.
const Version uint32 = 19

// MaxRuleDepth is the number of nested rule groups a flat rule list may
// describe.
const MaxRuleDepth = 16

// Rule attributes.
const (
	RulePass     uint32 = 0x00000001
	RuleGroup    uint32 = 0x00000002
	RuleFinal    uint32 = 0x00000004
	RuleStateful uint32 = 0x00000008
	RuleRetRST   uint32 = 0x00000010
	RuleRetICMP  uint32 = 0x00000020
	RuleDynamic  uint32 = 0x00000040

	RuleIn      uint32 = 0x10000000
	RuleOut     uint32 = 0x20000000
	RuleDirMask        = RuleIn | RuleOut
	RuleForw    uint32 = 0x40000000

	DynamicGroup = RuleGroup | RuleDynamic
)

// Rule priorities. Lower values are evaluated first.
const (
	PriFirst int32 = -2
	PriLast  int32 = -1
)

// CodeType identifies the encoding of a rule's compiled match program.
type CodeType uint32

const (
	CodeNC  CodeType = 1
	CodeBPF CodeType = 2
)

func (c CodeType) String() string {
	switch c {
	case CodeNC:
		return "nc"
	case CodeBPF:
		return "bpf"
	}
	return "unknown"
}

// NATType is the class of a NAT policy.
type NATType int32

const (
	NATIn  NATType = 1
	NATOut NATType = 2
)

// NAT policy flags.
const (
	NATPorts   uint32 = 0x01
	NATPortMap uint32 = 0x02
)

// NAT translation algorithms.
const (
	AlgoHash  uint32 = 1
	AlgoRR    uint32 = 2
	AlgoNPT66 uint32 = 3
)

// TableType is the storage discipline the engine uses for a table.
type TableType int32

const (
	TableHash TableType = 1
	TableTree TableType = 2
	TableCDB  TableType = 3
)

func (t TableType) String() string {
	switch t {
	case TableHash:
		return "hash"
	case TableTree:
		return "tree"
	case TableCDB:
		return "cdb"
	}
	return "unknown"
}

// Connection directions for NAT lookups.
const (
	DirIn  uint16 = 1
	DirOut uint16 = 2
)
