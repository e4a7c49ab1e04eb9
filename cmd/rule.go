package cmd

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"strconv"

	"grimm.is/npfkit/internal/brand"
	"grimm.is/npfkit/internal/ctlplane"
	"grimm.is/npfkit/internal/i18n"
	"grimm.is/npfkit/internal/npf"
)

var ruleUsage = brand.BinaryName + " rule <ruleset> add|rem|rem-id|list|flush [args]"

// RunRule manipulates a dynamic ruleset of the live configuration.
//
//	rule <ruleset> add [-name n] [-dir in|out] [-pass] [-final] [-on ifname] [-key hex] [-proc name] [-prio n]
//	rule <ruleset> rem <key-hex>
//	rule <ruleset> rem-id <id>
//	rule <ruleset> list
//	rule <ruleset> flush
func RunRule(args []string) error {
	if len(args) < 2 {
		return usageError(ruleUsage)
	}
	ruleset, op, rest := args[0], args[1], args[2:]

	return withClient(func(c ctlplane.ControlPlaneClient) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		switch op {
		case "add":
			r, err := parseRule(rest)
			if err != nil {
				return err
			}
			id, err := c.RuleAdd(ctx, ruleset, r)
			if err != nil {
				return fmt.Errorf("failed to add rule: %w", err)
			}
			Printer.Fprintf(stdout, i18n.MsgRuleAdded, ruleset, id)

		case "rem":
			if len(rest) != 1 {
				return usageError(brand.BinaryName + " rule <ruleset> rem <key-hex>")
			}
			key, err := hex.DecodeString(rest[0])
			if err != nil {
				return fmt.Errorf("%w: key: %v", npf.ErrInvalidArgument, err)
			}
			if err := c.RuleRemoveKey(ctx, ruleset, key); err != nil {
				return fmt.Errorf("failed to remove rule: %w", err)
			}
			Printer.Fprintf(stdout, i18n.MsgRuleRemoved, ruleset)

		case "rem-id":
			if len(rest) != 1 {
				return usageError(brand.BinaryName + " rule <ruleset> rem-id <id>")
			}
			id, err := strconv.ParseUint(rest[0], 0, 64)
			if err != nil {
				return fmt.Errorf("%w: id: %v", npf.ErrInvalidArgument, err)
			}
			if err := c.RuleRemove(ctx, ruleset, id); err != nil {
				return fmt.Errorf("failed to remove rule: %w", err)
			}
			Printer.Fprintf(stdout, i18n.MsgRuleRemoved, ruleset)

		case "list":
			cfg, err := c.RuleList(ctx, ruleset)
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}
			it := cfg.Rules()
			for it.Next() {
				Printer.Fprintf(stdout, "%s\n", describeRule(it.Rule()))
			}
			return it.Err()

		case "flush":
			if err := c.RuleFlush(ctx, ruleset); err != nil {
				return fmt.Errorf("failed to flush ruleset: %w", err)
			}
			Printer.Fprintf(stdout, i18n.MsgRulesFlushed, ruleset)

		default:
			return usageError(ruleUsage)
		}
		return nil
	})
}

// parseRule builds a rule from the arguments of "rule add".
func parseRule(args []string) (*npf.Rule, error) {
	fs := flag.NewFlagSet("rule add", flag.ContinueOnError)
	name := fs.String("name", "", "Rule name")
	dir := fs.String("dir", "", "Direction: in, out or empty for both")
	pass := fs.Bool("pass", false, "Pass matching packets")
	final := fs.Bool("final", false, "Stop evaluation on match")
	stateful := fs.Bool("stateful", false, "Track connections")
	ifname := fs.String("on", "", "Interface")
	key := fs.String("key", "", "Rule key in hex")
	proc := fs.String("proc", "", "Rule procedure")
	prio := fs.Int("prio", int(npf.PriLast), "Priority")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", npf.ErrInvalidArgument, err)
	}

	var attr uint32
	switch *dir {
	case "in":
		attr |= npf.RuleIn
	case "out":
		attr |= npf.RuleOut
	case "", "any":
		attr |= npf.RuleDirMask
	default:
		return nil, fmt.Errorf("%w: direction %q", npf.ErrInvalidArgument, *dir)
	}
	if *pass {
		attr |= npf.RulePass
	}
	if *final {
		attr |= npf.RuleFinal
	}
	if *stateful {
		attr |= npf.RuleStateful
	}

	r := npf.NewRule(*name, attr, *ifname)
	if *key != "" {
		k, err := hex.DecodeString(*key)
		if err != nil {
			return nil, fmt.Errorf("%w: key: %v", npf.ErrInvalidArgument, err)
		}
		r.SetKey(k)
	}
	if *proc != "" {
		r.SetProc(*proc)
	}
	r.SetPriority(int32(*prio))
	return r, nil
}
