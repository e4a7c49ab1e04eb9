package main

import (
	"flag"
	"os"

	"grimm.is/npfkit/cmd"
	"grimm.is/npfkit/internal/brand"
	"grimm.is/npfkit/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	defaultPolicy := brand.GetConfigPath()

	switch os.Args[1] {
	case "validate", "check":
		validateFlags := flag.NewFlagSet("validate", flag.ExitOnError)
		validateFlags.Parse(os.Args[2:])
		exitOnError("Validation failed", cmd.RunValidate(argOr(validateFlags, defaultPolicy)))

	case "fmt":
		fmtFlags := flag.NewFlagSet("fmt", flag.ExitOnError)
		write := fmtFlags.Bool("w", false, "Write result to the policy file")
		fmtFlags.Parse(os.Args[2:])
		exitOnError("Format failed", cmd.RunFmt(argOr(fmtFlags, defaultPolicy), *write))

	case "show":
		showFlags := flag.NewFlagSet("show", flag.ExitOnError)
		policy := showFlags.String("config", "", "Show a policy file instead of the live configuration")
		showFlags.StringVar(policy, "c", "", "Policy file (short)")
		showFlags.Parse(os.Args[2:])
		exitOnError("Show failed", cmd.RunShow(*policy))

	case "export":
		exportFlags := flag.NewFlagSet("export", flag.ExitOnError)
		out := exportFlags.String("o", "", "Output file (default stdout)")
		asYAML := exportFlags.Bool("yaml", false, "Render as YAML")
		exportFlags.Parse(os.Args[2:])
		exitOnError("Export failed", cmd.RunExport(argOr(exportFlags, defaultPolicy), *out, *asYAML))

	case "load", "reload":
		loadFlags := flag.NewFlagSet("load", flag.ExitOnError)
		loadFlags.Parse(os.Args[2:])
		exitOnError("Load failed", cmd.RunLoad(argOr(loadFlags, defaultPolicy)))

	case "flush":
		exitOnError("Flush failed", cmd.RunFlush())

	case "save":
		saveFlags := flag.NewFlagSet("save", flag.ExitOnError)
		out := saveFlags.String("o", "", "Output file (default stdout)")
		asYAML := saveFlags.Bool("yaml", false, "Render as YAML")
		saveFlags.Parse(os.Args[2:])
		exitOnError("Save failed", cmd.RunSave(*out, *asYAML))

	case "rule":
		exitOnError("Rule command failed", cmd.RunRule(os.Args[2:]))

	case "nat-lookup":
		natFlags := flag.NewFlagSet("nat-lookup", flag.ExitOnError)
		proto := natFlags.String("proto", "tcp", "Protocol name or number")
		dir := natFlags.String("dir", "out", "Direction: in or out")
		natFlags.Parse(os.Args[2:])
		exitOnError("NAT lookup failed", cmd.RunNATLookup(*proto, natFlags.Arg(0), natFlags.Arg(1), *dir))

	case "conn-list":
		exitOnError("Connection list failed", cmd.RunConnList())

	case "diff":
		diffFlags := flag.NewFlagSet("diff", flag.ExitOnError)
		diffFlags.Parse(os.Args[2:])
		exitOnError("Diff failed", cmd.RunDiff(argOr(diffFlags, defaultPolicy)))

	case "serve":
		opts := cmd.DefaultServeOptions()
		serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
		serveFlags.StringVar(&opts.Socket, "socket", opts.Socket, "Control socket path or vsock:<cid>:<port>")
		serveFlags.StringVar(&opts.StatePath, "state", opts.StatePath, "Snapshot database")
		serveFlags.StringVar(&opts.MetricsAddr, "metrics", "", "Listen address for /metrics and /status")
		serveFlags.StringVar(&opts.NFTable, "nft-table", "", "Mirror tables into sets of this nftables table")
		serveFlags.BoolVar(&opts.RequireRoot, "require-root", opts.RequireRoot, "Reject non-root socket peers")
		serveFlags.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level")
		serveFlags.BoolVar(&opts.JSONLog, "json", false, "Log as JSON")
		serveFlags.Parse(os.Args[2:])
		exitOnError("Engine failed", cmd.RunServe(opts))

	case "history":
		historyFlags := flag.NewFlagSet("history", flag.ExitOnError)
		statePath := historyFlags.String("state", brand.GetStatePath(), "Snapshot database")
		limit := historyFlags.Int("n", 20, "Number of snapshots")
		historyFlags.Parse(os.Args[2:])
		exitOnError("History failed", cmd.RunHistory(*statePath, *limit))

	case "rollback":
		rollbackFlags := flag.NewFlagSet("rollback", flag.ExitOnError)
		statePath := rollbackFlags.String("state", brand.GetStatePath(), "Snapshot database")
		rollbackFlags.Parse(os.Args[2:])
		if rollbackFlags.NArg() != 1 {
			printer.Fprintf(os.Stderr, "Usage: %s rollback [-state path] <snapshot-id>\n", brand.BinaryName)
			os.Exit(1)
		}
		exitOnError("Rollback failed", cmd.RunRollback(*statePath, rollbackFlags.Arg(0)))

	case "version", "-v", "--version":
		printer.Printf("%s %s\n", brand.Name, brand.Version)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func argOr(fs *flag.FlagSet, def string) string {
	if fs.NArg() > 0 {
		return fs.Arg(0)
	}
	return def
}

func exitOnError(what string, err error) {
	if err != nil {
		printer.Fprintf(os.Stderr, "%s: %v\n", what, err)
		os.Exit(1)
	}
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s <command> [options]

Policy Commands:
  validate  Check a policy file and summarize it (alias: check)
  fmt       Rewrite a policy file in canonical layout
            Options: -w
  export    Write the configuration of a policy file
            Options: -o <file>, -yaml
  diff      Compare a policy file with the live configuration

Engine Commands:
  load      Load a policy file into the engine (alias: reload)
  flush     Remove the live configuration
  save      Write the live configuration
            Options: -o <file>, -yaml
  show      Display the live configuration
            Options: --config (-c) <file>
  rule      Manage dynamic rulesets
            Subcommands: add, rem, rem-id, list, flush
  nat-lookup  Look up the translation of a connection
            Options: -proto <name>, -dir in|out
  conn-list List tracked connections

Daemon Commands:
  serve     Run the engine
            Options: -socket, -state, -metrics <addr>, -nft-table <name>
  history   List configuration snapshots
  rollback  Load a configuration snapshot

Examples:
  %s validate %s
  %s rule blocklist add -name scanner -dir in -key 0a01
  %s nat-lookup -dir in 192.0.2.1:1024 203.0.113.1:80
  %s serve -metrics :9100
`,
		brand.Name, brand.Get().Description,
		brand.LowerName,
		brand.BinaryName, brand.GetConfigPath(),
		brand.BinaryName, brand.BinaryName, brand.BinaryName)
}
