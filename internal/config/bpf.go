package config

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"golang.org/x/net/bpf"

	"grimm.is/npfkit/internal/npf"
)

// sockFilterSize is the size of one struct sock_filter.
const sockFilterSize = 8

// encodeBPF checks a classic BPF program given as [op, jt, jf, k] tuples
// and encodes it as an array of sock_filter in host byte order.
func encodeBPF(tuples [][]int64) ([]byte, error) {
	if len(tuples) == 0 {
		return nil, fmt.Errorf("empty bpf program")
	}
	insns := make([]bpf.Instruction, 0, len(tuples))
	raw := make([]bpf.RawInstruction, 0, len(tuples))
	for i, t := range tuples {
		if len(t) != 4 {
			return nil, fmt.Errorf("bpf instruction %d: want [op, jt, jf, k], got %d values", i, len(t))
		}
		if t[0] < 0 || t[0] > 0xffff || t[1] < 0 || t[1] > 0xff || t[2] < 0 || t[2] > 0xff || t[3] < 0 || t[3] > 0xffffffff {
			return nil, fmt.Errorf("bpf instruction %d: field out of range", i)
		}
		ri := bpf.RawInstruction{Op: uint16(t[0]), Jt: uint8(t[1]), Jf: uint8(t[2]), K: uint32(t[3])}
		raw = append(raw, ri)
		insns = append(insns, ri.Disassemble())
	}
	// NewVM rejects out of range jumps and programs that do not return.
	if _, err := bpf.NewVM(insns); err != nil {
		return nil, fmt.Errorf("invalid bpf program: %w", err)
	}

	out := make([]byte, 0, len(raw)*sockFilterSize)
	for _, ri := range raw {
		out = binary.NativeEndian.AppendUint16(out, ri.Op)
		out = append(out, ri.Jt, ri.Jf)
		out = binary.NativeEndian.AppendUint32(out, ri.K)
	}
	return out, nil
}

// ruleCode returns the match program of rb, or nil if it has none.
func ruleCode(rb *RuleBlock) (*matchCode, error) {
	switch {
	case len(rb.BPF) > 0 && rb.Code != "":
		return nil, fmt.Errorf("code and bpf are mutually exclusive")
	case len(rb.BPF) > 0:
		if rb.CodeType != nil && *rb.CodeType != int(npf.CodeBPF) {
			return nil, fmt.Errorf("bpf requires code_type = code.bpf")
		}
		code, err := encodeBPF(rb.BPF)
		if err != nil {
			return nil, err
		}
		return &matchCode{typ: npf.CodeBPF, code: code}, nil
	case rb.Code != "":
		if rb.CodeType == nil {
			return nil, fmt.Errorf("code requires code_type")
		}
		typ := npf.CodeType(*rb.CodeType)
		if typ != npf.CodeNC && typ != npf.CodeBPF {
			return nil, fmt.Errorf("unknown code_type %d", *rb.CodeType)
		}
		code, err := base64.StdEncoding.DecodeString(rb.Code)
		if err != nil {
			return nil, fmt.Errorf("code: %w", err)
		}
		if typ == npf.CodeBPF && len(code)%sockFilterSize != 0 {
			return nil, fmt.Errorf("bpf code of %d bytes", len(code))
		}
		return &matchCode{typ: typ, code: code}, nil
	case rb.CodeType != nil:
		return nil, fmt.Errorf("code_type without code")
	}
	return nil, nil
}

type matchCode struct {
	typ  npf.CodeType
	code []byte
}
