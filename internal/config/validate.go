package config

import (
	"encoding/base64"
	"fmt"
	"math"
	"net/netip"
	"strings"

	"grimm.is/npfkit/internal/npf"
	"grimm.is/npfkit/internal/validation"
)

// ValidationError represents a policy validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Unwrap lets errors.Is match npf.ErrInvalidArgument.
func (e ValidationErrors) Unwrap() error {
	if len(e) == 0 {
		return nil
	}
	return npf.ErrInvalidArgument
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

var (
	tableTypes = map[string]npf.TableType{
		"hash": npf.TableHash,
		"tree": npf.TableTree,
		"cdb":  npf.TableCDB,
	}
	natKinds = map[string]npf.NATType{
		"in":  npf.NATIn,
		"out": npf.NATOut,
	}
	natAlgos = map[string]uint32{
		"hash":  npf.AlgoHash,
		"rr":    npf.AlgoRR,
		"npt66": npf.AlgoNPT66,
	}
	directions = map[string]uint32{
		"":    npf.RuleIn | npf.RuleOut,
		"any": npf.RuleIn | npf.RuleOut,
		"in":  npf.RuleIn,
		"out": npf.RuleOut,
	}
)

// Validate checks the file for errors the assembled configuration would
// reject or could not express.
func (f *File) Validate() ValidationErrors {
	var errs ValidationErrors

	for i, name := range f.ALGs {
		if name == "" {
			errs.add(fmt.Sprintf("algs[%d]", i), "empty ALG name")
		}
	}
	for i, name := range f.DebugInterfaces {
		if err := validation.InterfaceName(name); err != nil {
			errs.add(fmt.Sprintf("debug_interfaces[%d]", i), "%v", err)
		}
	}

	for _, t := range f.Tables {
		f.validateTable(&errs, t)
	}

	for i, n := range f.NATs {
		field := fmt.Sprintf("nat[%d]", i)
		if _, ok := natKinds[n.Kind]; !ok {
			errs.add(field, "kind must be \"in\" or \"out\", got %q", n.Kind)
		}
		if n.Interface == "" {
			errs.add(field, "interface is required")
		} else if err := validation.InterfaceName(n.Interface); err != nil {
			errs.add(field, "%v", err)
		}
		if _, err := parsePrefix(n.Address); err != nil {
			errs.add(field, "%v", err)
		}
		if n.Port < 0 || n.Port > 65535 {
			errs.add(field, "port %d out of range", n.Port)
		}
		if n.Algorithm != "" {
			if _, ok := natAlgos[n.Algorithm]; !ok {
				errs.add(field, "unknown algorithm %q", n.Algorithm)
			}
		}
		if n.Adjustment != nil {
			if n.Algorithm != "npt66" {
				errs.add(field, "npt66_adjustment requires algorithm \"npt66\"")
			}
			if *n.Adjustment < 0 || *n.Adjustment > 0xffff {
				errs.add(field, "npt66_adjustment %d out of range", *n.Adjustment)
			}
		}
	}

	procs := make(map[string]bool)
	for _, p := range f.Procedures {
		if err := validation.Identifier(p.Name); err != nil {
			errs.add("procedure."+p.Name, "%v", err)
		}
		procs[p.Name] = true
		for _, ext := range p.Exts {
			if _, err := extParams(ext); err != nil {
				errs.add(fmt.Sprintf("procedure.%s.ext.%s", p.Name, ext.Name), "%v", err)
			}
		}
	}

	for _, rb := range f.Rules {
		validateRule(&errs, rb, procs, 1)
	}
	return errs
}

func (f *File) validateTable(errs *ValidationErrors, t TableBlock) {
	field := "table." + t.Name
	if err := validation.Identifier(t.Name); err != nil {
		errs.add(field, "%v", err)
	}
	typ, ok := tableTypes[t.Type]
	if !ok {
		errs.add(field, "unknown type %q", t.Type)
	}
	if t.ID != nil && (*t.ID < 0 || int64(*t.ID) >= int64(^uint32(0))) {
		errs.add(field, "id %d out of range", *t.ID)
	}
	switch {
	case typ == npf.TableCDB && t.Data == "":
		errs.add(field, "cdb tables need data")
	case typ == npf.TableCDB && len(t.Entries) > 0:
		errs.add(field, "cdb tables take data, not entries")
	case typ != npf.TableCDB && t.Data != "":
		errs.add(field, "only cdb tables take data")
	}
	if t.Data != "" {
		if _, err := base64.StdEncoding.DecodeString(t.Data); err != nil {
			errs.add(field, "data: %v", err)
		}
	}
	for _, e := range t.Entries {
		if _, err := parsePrefix(e); err != nil {
			errs.add(field, "%v", err)
		}
	}
}

func validateRule(errs *ValidationErrors, rb *RuleBlock, procs map[string]bool, depth int) {
	kind := "rule"
	if rb.IsGroup {
		kind = "group"
	}
	field := fmt.Sprintf("%s.%s (%s)", kind, rb.Name, rb.Range)

	if rb.IsGroup && len(rb.Rules) > 0 && depth > npf.MaxRuleDepth {
		errs.add(field, "groups nest deeper than %d levels", npf.MaxRuleDepth)
		return
	}
	if _, ok := directions[rb.Direction]; !ok {
		errs.add(field, "direction must be \"in\", \"out\" or \"any\", got %q", rb.Direction)
	}
	if rb.Interface != "" {
		if err := validation.InterfaceName(rb.Interface); err != nil {
			errs.add(field, "%v", err)
		}
	}
	if rb.Priority != nil && (*rb.Priority < math.MinInt32 || *rb.Priority > math.MaxInt32) {
		errs.add(field, "priority %d out of range", *rb.Priority)
	}
	if rb.Dynamic && !rb.IsGroup {
		errs.add(field, "only groups can be dynamic")
	}
	if rb.Procedure != "" && !procs[rb.Procedure] {
		errs.add(field, "unknown procedure %q", rb.Procedure)
	}
	if _, err := ruleCode(rb); err != nil {
		errs.add(field, "%v", err)
	}
	for _, child := range rb.Rules {
		validateRule(errs, child, procs, depth+1)
	}
}

// parsePrefix accepts a prefix or a bare address, which is taken as a
// host prefix.
func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid prefix %q", s)
		}
		return p, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid address %q", s)
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
