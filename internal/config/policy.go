package config

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// File is a decoded policy file.
type File struct {
	Filename string

	ALGs            []string         `hcl:"algs,optional"`
	DebugInterfaces []string         `hcl:"debug_interfaces,optional"`
	Tables          []TableBlock     `hcl:"table,block"`
	NATs            []NATBlock       `hcl:"nat,block"`
	Procedures      []ProcedureBlock `hcl:"procedure,block"`

	// Rules and groups in source order, decoded from Remain.
	Rules  []*RuleBlock
	Remain hcl.Body `hcl:",remain"`
}

// RuleBlock is a "rule" or "group" block. Groups carry children.
type RuleBlock struct {
	Name    string
	IsGroup bool
	Range   hcl.Range
	Rules   []*RuleBlock

	Direction  string `hcl:"direction,optional"` // "in", "out" or "any" (default)
	Interface  string `hcl:"interface,optional"`
	Pass       bool   `hcl:"pass,optional"`
	Final      bool   `hcl:"final,optional"`
	Stateful   bool   `hcl:"stateful,optional"`
	ReturnRST  bool   `hcl:"return_rst,optional"`
	ReturnICMP bool   `hcl:"return_icmp,optional"`
	Dynamic    bool   `hcl:"dynamic,optional"` // groups only
	Priority   *int   `hcl:"priority,optional"`
	Procedure  string `hcl:"procedure,optional"`
	Key        string `hcl:"key,optional"`
	Info       string `hcl:"info,optional"`

	// Match program: either raw base64 code with its type, or classic
	// BPF instruction tuples [op, jt, jf, k].
	CodeType *int      `hcl:"code_type,optional"`
	Code     string    `hcl:"code,optional"`
	BPF      [][]int64 `hcl:"bpf,optional"`

	Remain hcl.Body `hcl:",remain"`
}

// TableBlock defines a lookup table. Tables of type "cdb" carry base64
// data; the others carry entries.
type TableBlock struct {
	Name    string   `hcl:"name,label"`
	ID      *int     `hcl:"id,optional"`
	Type    string   `hcl:"type"`
	Entries []string `hcl:"entries,optional"`
	Data    string   `hcl:"data,optional"`
}

// NATBlock defines a NAT policy. The label is "in" or "out".
type NATBlock struct {
	Kind       string `hcl:"kind,label"`
	Interface  string `hcl:"interface"`
	Address    string `hcl:"address"` // address or prefix
	Port       int    `hcl:"port,optional"`
	Ports      bool   `hcl:"ports,optional"`
	PortMap    bool   `hcl:"port_map,optional"`
	Algorithm  string `hcl:"algorithm,optional"` // "hash", "rr" or "npt66"
	Adjustment *int   `hcl:"npt66_adjustment,optional"`
}

// ProcedureBlock defines a rule procedure.
type ProcedureBlock struct {
	Name string     `hcl:"name,label"`
	Exts []ExtBlock `hcl:"ext,block"`
}

// ExtBlock is one extension call. Params is an object of string, bool
// and number values.
type ExtBlock struct {
	Name   string    `hcl:"name,label"`
	Params cty.Value `hcl:"params,optional"`
}
