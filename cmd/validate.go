package cmd

import (
	"bytes"
	"fmt"
	"os"

	"grimm.is/npfkit/internal/brand"
	"grimm.is/npfkit/internal/config"
	"grimm.is/npfkit/internal/i18n"
	"grimm.is/npfkit/internal/npf"
)

// resolver maps debug interface names to indexes.
var resolver npf.IndexResolver = npf.NetlinkResolver{}

// assemblePolicy loads a policy file and builds its configuration.
func assemblePolicy(path string) (*npf.Config, error) {
	f, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := f.Assemble(resolver)
	if err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}
	if _, err := cfg.Build(); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}
	return cfg, nil
}

// RunValidate checks a policy file and prints a summary of what it
// defines.
func RunValidate(configFile string) error {
	if configFile == "" {
		return usageError(brand.BinaryName + " validate <policy-file>")
	}
	cfg, err := assemblePolicy(configFile)
	if err != nil {
		return err
	}
	rules, err := countRules(cfg)
	if err != nil {
		return err
	}
	Printer.Fprintf(stdout, i18n.MsgValid, configFile, rules, count(cfg.NATs()), count(cfg.Tables()))
	return nil
}

// RunFmt rewrites a policy file in canonical layout, or prints the result
// when write is false.
func RunFmt(configFile string, write bool) error {
	src, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}
	out, err := config.FormatSource(src)
	if err != nil {
		return err
	}
	if !write {
		_, err = stdout.Write(out)
		return err
	}
	if bytes.Equal(src, out) {
		return nil
	}
	info, err := os.Stat(configFile)
	if err != nil {
		return err
	}
	return os.WriteFile(configFile, out, info.Mode().Perm())
}

func countRules(cfg *npf.Config) (int, error) {
	n := 0
	it := cfg.Rules()
	for it.Next() {
		n++
	}
	return n, it.Err()
}
