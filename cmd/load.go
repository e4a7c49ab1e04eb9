package cmd

import (
	"context"
	"fmt"

	"grimm.is/npfkit/internal/brand"
	"grimm.is/npfkit/internal/ctlplane"
	"grimm.is/npfkit/internal/i18n"
)

// RunLoad assembles a policy file and loads it into the engine.
func RunLoad(configFile string) error {
	if configFile == "" {
		return usageError(brand.BinaryName + " load <policy-file>")
	}
	cfg, err := assemblePolicy(configFile)
	if err != nil {
		return err
	}
	rules, err := countRules(cfg)
	if err != nil {
		return err
	}
	return withClient(func(c ctlplane.ControlPlaneClient) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := c.Submit(ctx, cfg); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		Printer.Fprintf(stdout, i18n.MsgLoaded, rules)
		return nil
	})
}

// RunFlush replaces the engine's configuration with an empty one.
func RunFlush() error {
	return withClient(func(c ctlplane.ControlPlaneClient) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := c.Flush(ctx); err != nil {
			return fmt.Errorf("failed to flush configuration: %w", err)
		}
		Printer.Fprintf(stdout, i18n.MsgFlushed)
		return nil
	})
}

// RunSave retrieves the live configuration and writes it like RunExport.
func RunSave(outFile string, asYAML bool) error {
	return withClient(func(c ctlplane.ControlPlaneClient) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		cfg, err := c.Retrieve(ctx)
		if err != nil {
			return fmt.Errorf("failed to retrieve configuration: %w", err)
		}
		return writeConfig(cfg, outFile, asYAML)
	})
}
