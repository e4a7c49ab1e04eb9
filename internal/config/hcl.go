package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"grimm.is/npfkit/internal/npf"
)

// rulesSchema matches the rule and group blocks of a policy body. Both
// share one schema so their relative order survives decoding.
var rulesSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "rule", LabelNames: []string{"name"}},
		{Type: "group", LabelNames: []string{"name"}},
	},
}

// EvalContext returns the variables available to policy expressions.
func EvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"pri": cty.ObjectVal(map[string]cty.Value{
				"first": cty.NumberIntVal(int64(npf.PriFirst)),
				"last":  cty.NumberIntVal(int64(npf.PriLast)),
			}),
			"code": cty.ObjectVal(map[string]cty.Value{
				"nc":  cty.NumberIntVal(int64(npf.CodeNC)),
				"bpf": cty.NumberIntVal(int64(npf.CodeBPF)),
			}),
		},
	}
}

// LoadFile reads and decodes a policy file. The file name must end in
// .hcl, or .json for the JSON syntax.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes policy source. filename selects the syntax and is used in
// diagnostics.
func Parse(filename string, src []byte) (*File, error) {
	ctx := EvalContext()
	f := &File{}
	if err := hclsimple.Decode(filename, src, ctx, f); err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}
	rules, diags := decodeRules(f.Remain, ctx)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode policy: %w", diags)
	}
	f.Filename = filename
	f.Rules = rules
	f.Remain = nil
	return f, nil
}

func decodeRules(body hcl.Body, ctx *hcl.EvalContext) ([]*RuleBlock, hcl.Diagnostics) {
	content, diags := body.Content(rulesSchema)
	if diags.HasErrors() {
		return nil, diags
	}

	var out []*RuleBlock
	for _, blk := range content.Blocks {
		rb := &RuleBlock{
			Name:    blk.Labels[0],
			IsGroup: blk.Type == "group",
			Range:   blk.DefRange,
		}
		diags = append(diags, gohcl.DecodeBody(blk.Body, ctx, rb)...)
		if diags.HasErrors() {
			return nil, diags
		}

		if rb.IsGroup {
			children, more := decodeRules(rb.Remain, ctx)
			diags = append(diags, more...)
			if more.HasErrors() {
				return nil, diags
			}
			rb.Rules = children
		} else {
			// Rules take no nested blocks.
			_, more := rb.Remain.Content(&hcl.BodySchema{})
			diags = append(diags, more...)
			if more.HasErrors() {
				return nil, diags
			}
		}
		rb.Remain = nil
		out = append(out, rb)
	}
	return out, diags
}

// FormatSource returns src in canonical HCL layout.
func FormatSource(src []byte) ([]byte, error) {
	if _, diags := hclwrite.ParseConfig(src, "policy.hcl", hcl.Pos{Line: 1, Column: 1}); diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse policy: %w", diags)
	}
	return hclwrite.Format(src), nil
}
