package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"grimm.is/npfkit/internal/ctlplane"
	"grimm.is/npfkit/internal/dict"
	"grimm.is/npfkit/internal/npf"
)

// RunShow prints the rules, NAT policies and tables of a policy file, or
// of the engine's live configuration when configFile is empty.
func RunShow(configFile string) error {
	if configFile != "" {
		cfg, err := assemblePolicy(configFile)
		if err != nil {
			return err
		}
		return printConfig(stdout, cfg)
	}
	return withClient(func(c ctlplane.ControlPlaneClient) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		cfg, err := c.Retrieve(ctx)
		if err != nil {
			return fmt.Errorf("failed to retrieve configuration: %w", err)
		}
		return printConfig(stdout, cfg)
	})
}

// RunExport writes the transport form of a policy file's configuration,
// or its YAML rendering when asYAML is set. An empty outFile means stdout.
func RunExport(configFile, outFile string, asYAML bool) error {
	cfg, err := assemblePolicy(configFile)
	if err != nil {
		return err
	}
	return writeConfig(cfg, outFile, asYAML)
}

func writeConfig(cfg *npf.Config, outFile string, asYAML bool) error {
	var data []byte
	if asYAML {
		root, err := cfg.Build()
		if err != nil {
			return err
		}
		text, err := dict.Format(root)
		if err != nil {
			return err
		}
		data = []byte(text)
	} else {
		var err error
		if data, err = cfg.Export(); err != nil {
			return err
		}
	}
	if outFile == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(outFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outFile, err)
	}
	return nil
}

func printConfig(w io.Writer, cfg *npf.Config) error {
	Printer.Fprintln(w, "rules:")
	it := cfg.Rules()
	for it.Next() {
		Printer.Fprintf(w, "%s%s\n", strings.Repeat("  ", it.Level()+1), describeRule(it.Rule()))
	}
	if err := it.Err(); err != nil {
		return err
	}

	if count(cfg.NATs()) > 0 {
		Printer.Fprintln(w, "nat:")
		for n := range cfg.NATs() {
			Printer.Fprintf(w, "  %s\n", describeNAT(n))
		}
	}
	if count(cfg.Tables()) > 0 {
		Printer.Fprintln(w, "tables:")
		for t := range cfg.Tables() {
			Printer.Fprintf(w, "  %s id %d (%s, %d entries)\n", t.Name(), t.ID(), t.Type(), len(t.Entries()))
		}
	}
	return nil
}

func describeRule(r *npf.Rule) string {
	var parts []string
	attr := r.Attr()
	switch {
	case attr&npf.RuleGroup != 0:
		parts = append(parts, "group")
	case attr&npf.RulePass != 0:
		parts = append(parts, "pass")
	default:
		parts = append(parts, "block")
	}
	if r.Name() != "" {
		parts = append(parts, fmt.Sprintf("%q", r.Name()))
	}
	switch attr & npf.RuleDirMask {
	case npf.RuleIn:
		parts = append(parts, "in")
	case npf.RuleOut:
		parts = append(parts, "out")
	}
	if ifname := r.Interface(); ifname != "" {
		parts = append(parts, "on", ifname)
	}
	for _, f := range []struct {
		bit  uint32
		name string
	}{
		{npf.RuleFinal, "final"},
		{npf.RuleStateful, "stateful"},
		{npf.RuleRetRST, "return-rst"},
		{npf.RuleRetICMP, "return-icmp"},
		{npf.RuleDynamic, "dynamic"},
	} {
		if attr&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	if proc := r.Proc(); proc != "" {
		parts = append(parts, "apply", proc)
	}
	if id := r.ID(); id != 0 {
		parts = append(parts, fmt.Sprintf("# id %d", id))
	}
	return strings.Join(parts, " ")
}

func describeNAT(n *npf.NAT) string {
	kind := "map"
	if n.Type() == npf.NATIn {
		kind = "rdr"
	}
	prefix, port := n.Translation()
	s := fmt.Sprintf("%s on %s -> %s", kind, n.Interface(), prefix)
	if port != 0 {
		s += fmt.Sprintf(" port %d", port)
	}
	return s
}
