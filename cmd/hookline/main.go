package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/hookline/internal/api"
	"github.com/mattjoyce/hookline/internal/auth"
	"github.com/mattjoyce/hookline/internal/config"
	"github.com/mattjoyce/hookline/internal/dispatch"
	"github.com/mattjoyce/hookline/internal/events"
	"github.com/mattjoyce/hookline/internal/inspect"
	"github.com/mattjoyce/hookline/internal/lock"
	"github.com/mattjoyce/hookline/internal/log"
	"github.com/mattjoyce/hookline/internal/queue"
	"github.com/mattjoyce/hookline/internal/receiver"
	"github.com/mattjoyce/hookline/internal/routes"
	"github.com/mattjoyce/hookline/internal/scheduler"
	"github.com/mattjoyce/hookline/internal/secrets"
	"github.com/mattjoyce/hookline/internal/sender"
	"github.com/mattjoyce/hookline/internal/storage"
	"github.com/mattjoyce/hookline/internal/tracing"
	"github.com/mattjoyce/hookline/internal/tui/watch"
	"github.com/mattjoyce/hookline/internal/webhook"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "receiver":
		return runReceiverNoun(args)
	case "receipt":
		return runReceiptNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "watch":
		if hasHelpFlag(args) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(args)
	case "doctor":
		return runConfigCheck(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: hookline version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("hookline %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`hookline - signature-verified webhook receiver

Usage:
  hookline <noun> <action> [flags]

Core Resources (Nouns):
  system    Service lifecycle and health
  config    Configuration and integrity
  receiver  Webhook sources hookline understands
  receipt   Recorded inbound requests

System Commands:
  system start      Start the webhook and admin servers in foreground
  system status     Show config, database and instance lock state
  system watch      Real-time monitoring TUI

Config Commands:
  config check      Validate syntax, cross references and secrets
  config lock       Authorize current state (update integrity hashes)
  config show       Show resolved configuration with secrets redacted

Receiver Commands:
  receiver list     Show receivers, their auth mode, secrets and routes

Receipt Commands:
  receipt inspect <id>  Show how a request was handled and its deliveries

General:
  watch             Alias for system watch
  --version         Show version information
  version           Show version information
  help              Show this help message

Use 'hookline <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runReceiverNoun(args []string) int {
	if len(args) < 1 {
		printReceiverNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printReceiverNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printReceiverListHelp()
			return 0
		}
		return runReceiverList(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown receiver action: %s\n", action)
		return 1
	}
}

func runReceiptNoun(args []string) int {
	if len(args) < 1 {
		printReceiptNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printReceiptNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "inspect":
		if hasHelpFlag(actionArgs) {
			printReceiptInspectHelp()
			return 0
		}
		return runReceiptInspect(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown receipt action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: hookline system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: hookline config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, show")
}

func printReceiverNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: hookline receiver <action>")
	fmt.Fprintln(w, "Actions: list")
}

func printReceiptNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: hookline receipt <action>")
	fmt.Fprintln(w, "Actions: inspect")
}

func printSystemStartHelp() {
	fmt.Println("Usage: hookline system start [--config PATH]")
	fmt.Println("Start the webhook receiver (and admin API, sender when enabled) in the foreground.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: hookline system status [--config PATH] [--json]")
	fmt.Println("Show configuration, database readiness, queue depth and instance lock state.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All required checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: hookline system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time monitoring TUI.")
	fmt.Println("Shows service health, per-receiver counters, outbound deliveries and the event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Admin API URL (default: http://localhost:8080)")
	fmt.Println("  --api-key KEY    API Bearer Token (or HOOKLINE_API_KEY env var)")
	fmt.Println("  --types LIST     Comma-separated event types or prefixes (e.g. webhook.,delivery.dead)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Navigate receivers")
}

func printReceiverListHelp() {
	fmt.Println("Usage: hookline receiver list [--config PATH] [--json]")
	fmt.Println("List receivers with their body type, auth mode, configured secret ids and routes.")
}

func printReceiptInspectHelp() {
	fmt.Println("Usage: hookline receipt inspect <receipt_id> [--config PATH] [--json]")
	fmt.Println("Show the stored receipt and every outbound delivery it spawned.")
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("hookline starting", "version", version, "config", *configPath)

	pidLockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.Service.Name, version)
	if err != nil {
		logger.Error("failed to initialize tracing", "endpoint", cfg.Tracing.Endpoint, "error", err)
		return 1
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	receipts := storage.NewReceiptStore(db)
	q := queue.New(db)
	hub := events.NewHub(256)

	table, err := receiver.Build(cfg.Receivers)
	if err != nil {
		logger.Error("invalid receiver configuration", "error", err)
		return 1
	}

	registry := dispatch.NewRegistry()
	err = routes.Register(registry, table, cfg.Routes, routes.Deps{
		Queue:       q,
		Targets:     cfg.Targets,
		MaxAttempts: cfg.Sender.MaxAttempts,
		Events:      hub,
		Logger:      log.Get(),
	})
	if err != nil {
		logger.Error("failed to register routes", "error", err)
		return 1
	}
	registry.Freeze()
	for _, name := range registry.Receivers() {
		logger.Info("receiver registered", "receiver", name)
	}

	store := secrets.NewStore(config.SecretKeys(cfg, os.Environ()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 3)
	var servers sync.WaitGroup

	sched := scheduler.New(scheduler.OptionsFromConfig(cfg), receipts, q, hub, log.Get())
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		return 1
	}
	defer sched.Stop()

	if cfg.Sender.Enabled {
		worker := sender.New(q, sender.TargetsFromConfig(cfg.Targets), sender.OptionsFromConfig(cfg), hub, log.Get())
		if err := worker.Start(ctx); err != nil {
			logger.Error("failed to start sender", "error", err)
			return 1
		}
		defer worker.Stop()
		logger.Info("sender enabled", "targets", len(cfg.Targets))
	}

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{
				Token:  t.Token,
				Scopes: t.Scopes,
			})
		}
		apiConfig := api.Config{
			Listen:      cfg.API.Listen,
			APIKey:      cfg.API.Auth.APIKey,
			Tokens:      tokens,
			Targets:     cfg.Targets,
			MaxAttempts: cfg.Sender.MaxAttempts,
			Tracing:     cfg.Tracing.Enabled,
		}
		apiServer := api.New(apiConfig, api.Deps{
			Receipts:   receipts,
			Deliveries: q,
			Receivers:  table,
			Handlers:   registry,
			Secrets:    store,
			Events:     hub,
			Logger:     log.WithComponent("api"),
		})
		servers.Add(1)
		go func() {
			defer servers.Done()
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	webhookConfig, err := webhook.FromGlobalConfig(cfg)
	if err != nil {
		logger.Error("failed to configure webhooks", "error", err)
		cancel()
		servers.Wait()
		return 1
	}
	webhookServer := webhook.New(webhookConfig, webhook.Deps{
		Receivers:  table,
		Secrets:    store,
		Dispatcher: dispatch.New(registry),
		Receipts:   receipts,
		Events:     hub,
		Logger:     log.WithComponent("webhook"),
	})
	servers.Add(1)
	go func() {
		defer servers.Done()
		if err := webhookServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("webhook: %w", err)
		}
	}()

	logger.Info("hookline running (press Ctrl+C to stop)", "listen", webhookConfig.Listen)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		servers.Wait()
		return 1
	}

	// Deferred closes of the worker and database must run after the servers drain.
	servers.Wait()

	logger.Info("hookline stopped")
	return 0
}

type statusCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

type statusReport struct {
	Healthy bool          `json:"healthy"`
	Checks  []statusCheck `json:"checks"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := systemStatus(*configPath)

	if *jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else {
		for _, c := range report.Checks {
			mark := "✓"
			if !c.OK {
				mark = "✗"
			}
			fmt.Printf("%s %-9s %s\n", mark, c.Name, c.Detail)
		}
	}

	if !report.Healthy {
		return 1
	}
	return 0
}

func systemStatus(configPath string) statusReport {
	report := statusReport{Healthy: true}
	add := func(name string, ok bool, detail string) {
		report.Checks = append(report.Checks, statusCheck{Name: name, OK: ok, Detail: detail})
		if !ok {
			report.Healthy = false
		}
	}

	cfg, err := loadConfigForTool(configPath, "")
	if err != nil {
		add("config", false, err.Error())
		return report
	}
	add("config", true, fmt.Sprintf("%d route(s), %d target(s)", len(cfg.Routes), len(cfg.Targets)))

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		add("database", false, err.Error())
	} else {
		defer db.Close()
		depth, err := queue.New(db).Depth(ctx)
		if err != nil {
			add("database", false, err.Error())
		} else {
			add("database", true, fmt.Sprintf("%s (outbound queue depth %d)", cfg.State.Path, depth))
		}
	}

	pidPath := lock.PathFor(cfg.State.Path)
	held, pid, err := lock.Holder(pidPath)
	switch {
	case err != nil:
		add("instance", false, err.Error())
	case held:
		add("instance", true, fmt.Sprintf("running (pid %d, lock %s)", pid, pidPath))
	default:
		add("instance", true, "not running")
	}
	return report
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Admin API URL")
	apiKey := fs.String("api-key", os.Getenv("HOOKLINE_API_KEY"), "API Bearer Token")
	types := fs.String("types", "", "Comma-separated event type filter")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or HOOKLINE_API_KEY env var.")
		return 1
	}

	m := watch.New(strings.TrimRight(*apiURL, "/"), *apiKey).WithTypes(*types)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// receiverRow is one line of `receiver list`.
type receiverRow struct {
	Name      string   `json:"name"`
	Body      string   `json:"body"`
	Mode      string   `json:"mode"`
	Verifies  bool     `json:"verifies"`
	Handshake string   `json:"handshake,omitempty"`
	SecretIDs []string `json:"secret_ids"`
	Routes    int      `json:"routes"`
}

func runReceiverList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	rows, err := receiverRows(cfg, os.Environ())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Receiver error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(rows, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECEIVER\tBODY\tAUTH\tHANDSHAKE\tSECRETS\tROUTES")
	for _, r := range rows {
		mode := r.Mode
		if !r.Verifies {
			mode += " (unverified)"
		}
		secretIDs := "-"
		if len(r.SecretIDs) > 0 {
			secretIDs = strings.Join(r.SecretIDs, ",")
		}
		handshake := r.Handshake
		if handshake == "" {
			handshake = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", r.Name, r.Body, mode, handshake, secretIDs, r.Routes)
	}
	_ = tw.Flush()
	return 0
}

func receiverRows(cfg *config.Config, environ []string) ([]receiverRow, error) {
	table, err := receiver.Build(cfg.Receivers)
	if err != nil {
		return nil, err
	}
	store := secrets.NewStore(config.SecretKeys(cfg, environ))

	routeCounts := make(map[string]int)
	for _, rc := range cfg.Routes {
		routeCounts[strings.ToLower(rc.Receiver)]++
	}

	names := table.Names()
	rows := make([]receiverRow, 0, len(names))
	for _, name := range names {
		m, _ := table.Lookup(name)
		row := receiverRow{
			Name:      name,
			Body:      string(m.Body),
			Mode:      string(m.Signature.Mode),
			Verifies:  m.Verifies(),
			SecretIDs: store.IDs(name),
			Routes:    routeCounts[name],
		}
		if row.SecretIDs == nil {
			row.SecretIDs = []string{}
		}
		if m.Handshake != nil {
			row.Handshake = fmt.Sprintf("%s %s", strings.Join(m.Handshake.Methods, "/"), m.Handshake.Mode)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func runReceiptInspect(args []string) int {
	var configPath string
	var jsonOut bool
	var receiptID string

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.BoolVar(&jsonOut, "json", false, "Output in structured JSON format")

	// The receipt id may appear before or after flags.
	var flagArgs []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") && receiptID == "" && (len(flagArgs) == 0 || flagArgs[len(flagArgs)-1] != "--config") {
			receiptID = arg
			continue
		}
		flagArgs = append(flagArgs, arg)
	}
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if receiptID == "" {
		fmt.Fprintln(os.Stderr, "Usage: hookline receipt inspect <receipt_id> [--config PATH] [--json]")
		return 1
	}

	cfg, err := loadConfigForTool(configPath, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	db, err := storage.OpenSQLite(context.Background(), cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	receipts := storage.NewReceiptStore(db)
	q := queue.New(db)

	var report string
	if jsonOut {
		report, err = inspect.BuildJSONReport(context.Background(), receipts, q, receiptID)
		report += "\n"
	} else {
		report, err = inspect.BuildReport(context.Background(), receipts, q, receiptID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}

	fmt.Print(report)
	return 0
}
