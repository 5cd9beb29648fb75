package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/hookline/internal/config"
	"github.com/mattjoyce/hookline/internal/doctor"
)

const redacted = "[REDACTED]"

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool
	var format string

	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	// Handle -json alias for format=json
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if jsonOut {
		format = "json"
	}

	if configPath == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		configPath = discovered
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, os.Environ()).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath, configDir string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.StringVar(&configDir, "config-dir", "", "Path to config directory")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	isVerbose := verbose || verboseShort

	if configPath != "" && configDir != "" {
		fmt.Fprintf(os.Stderr, "Error: use only one of --config or --config-dir\n")
		return 1
	}

	target := configPath
	if configDir != "" {
		target = configDir
	}
	if target == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		target = discovered
	}

	reports, err := config.LockConfig(target, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	for _, report := range reports {
		if isVerbose {
			fmt.Printf("Processing directory: %s\n", report.ConfigDir)
			for _, f := range report.Files {
				if f.Exists {
					fmt.Printf("  HASH %s: %s\n", f.Filename, f.Hash)
				} else {
					fmt.Printf("  SKIP %s: not found (optional)\n", f.Filename)
				}
			}
			if dryRun {
				fmt.Printf("  DRY-RUN .checksums: %s (not written)\n", report.ChecksumPath)
			} else {
				fmt.Printf("  WROTE .checksums: %s\n", report.ChecksumPath)
			}
		}
	}

	if dryRun {
		fmt.Printf("Dry run completed for %d directory/ies (no files written):\n", len(reports))
	} else {
		fmt.Printf("Successfully locked configuration in %d directory/ies:\n", len(reports))
	}
	for _, report := range reports {
		fmt.Printf("  - %s\n", report.ConfigDir)
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	configDir := fs.String("config-dir", "", "Path to configuration directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath, *configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	data, err := yaml.Marshal(redactConfig(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
		return 1
	}

	// Round-trip through a generic map so JSON keys match the YAML keys.
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
		return 1
	}

	var result any = doc
	if fs.NArg() > 0 {
		section := fs.Arg(0)
		v, ok := doc[section]
		if !ok {
			keys := make([]string, 0, len(doc))
			for k := range doc {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Error: unknown section %q (have: %s)\n", section, strings.Join(keys, ", "))
			return 1
		}
		result = v
	}

	if *jsonOut {
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	} else {
		out, _ := yaml.Marshal(result)
		fmt.Print(string(out))
	}
	return 0
}

// redactConfig returns a copy of cfg with every credential replaced.
func redactConfig(cfg *config.Config) *config.Config {
	out := *cfg
	out.SourceFiles = nil

	if out.API.Auth.APIKey != "" {
		out.API.Auth.APIKey = redacted
	}
	tokens := make([]config.APIToken, len(cfg.API.Auth.Tokens))
	for i, t := range cfg.API.Auth.Tokens {
		tokens[i] = config.APIToken{Token: redacted, Scopes: t.Scopes}
	}
	out.API.Auth.Tokens = tokens

	if cfg.Secrets != nil {
		out.Secrets = make(map[string]map[string]string, len(cfg.Secrets))
		for name, ids := range cfg.Secrets {
			masked := make(map[string]string, len(ids))
			for id := range ids {
				masked[id] = redacted
			}
			out.Secrets[name] = masked
		}
	}

	if cfg.Targets != nil {
		out.Targets = make(map[string]config.TargetConfig, len(cfg.Targets))
		for name, t := range cfg.Targets {
			if t.Secret != "" {
				t.Secret = redacted
			}
			t.Headers = redactHeaders(t.Headers)
			out.Targets[name] = t
		}
	}

	out.Tracing.Headers = redactHeaders(cfg.Tracing.Headers)
	return &out
}

func redactHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = redacted
	}
	return out
}

func loadConfigForTool(configPath, configDir string) (*config.Config, error) {
	if configPath != "" && configDir != "" {
		return nil, fmt.Errorf("use only one of --config or --config-dir")
	}
	if configDir != "" {
		configPath = configDir
	}
	if configPath == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

func printConfigCheckHelp() {
	fmt.Println("Usage: hookline config check [--config PATH] [--strict] [--format human|json]")
	fmt.Println("Validate configuration syntax, receiver definitions, routes, targets and secrets.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Valid")
	fmt.Println("  1  Invalid (or load error)")
	fmt.Println("  2  Valid with warnings (only with --strict)")
}

func printConfigLockHelp() {
	fmt.Println("Usage: hookline config lock [--config PATH | --config-dir PATH] [-v] [--dry-run]")
	fmt.Println("Write BLAKE3 .checksums manifests for every file in the config include tree.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: hookline config show [--config PATH] [--json] [section]")
	fmt.Println("Show resolved configuration with secrets, API keys and target credentials redacted.")
}
