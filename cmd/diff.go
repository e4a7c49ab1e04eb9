package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/npfkit/internal/ctlplane"
	"grimm.is/npfkit/internal/dict"
	"grimm.is/npfkit/internal/i18n"
	"grimm.is/npfkit/internal/npf"
)

// ErrDiffers is returned by RunDiff when the policy and the live
// configuration disagree.
var ErrDiffers = errors.New("configuration differs")

// RunDiff compares the configuration of a policy file against the
// engine's live configuration.
func RunDiff(configFile string) error {
	cfg, err := assemblePolicy(configFile)
	if err != nil {
		return err
	}

	return withClient(func(c ctlplane.ControlPlaneClient) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		live, err := c.Retrieve(ctx)
		if err != nil {
			return fmt.Errorf("failed to retrieve configuration: %w", err)
		}

		want, err := normalized(cfg)
		if err != nil {
			return err
		}
		got, err := normalized(live)
		if err != nil {
			return err
		}
		if want == got {
			Printer.Fprintf(stdout, i18n.MsgNoDiff)
			return nil
		}

		diff := difflib.UnifiedDiff{
			A:        difflib.SplitLines(want),
			B:        difflib.SplitLines(got),
			FromFile: configFile,
			ToFile:   "Running",
			Context:  3,
		}
		text, _ := difflib.GetUnifiedDiffString(diff)
		fmt.Fprint(stdout, text)
		return ErrDiffers
	})
}

// normalized renders cfg without the fields only the engine fills in.
func normalized(cfg *npf.Config) (string, error) {
	root, err := cfg.Build()
	if err != nil {
		return "", err
	}
	doc := root.Clone()
	for _, key := range []string{"active", "conn-list", "flush"} {
		doc.Remove(key)
	}
	if rules, ok := doc.GetList("rules"); ok {
		for m := range rules.Maps() {
			m.Remove("id")
		}
	}
	return dict.Format(doc)
}
