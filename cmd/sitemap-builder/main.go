package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-builder/pkg/config"
	"github.com/Sriram-PR/sitemap-builder/pkg/hygiene"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/orchestrate"
	"github.com/Sriram-PR/sitemap-builder/pkg/registry"
	"github.com/Sriram-PR/sitemap-builder/pkg/shard"
	"github.com/Sriram-PR/sitemap-builder/pkg/sitemap"
	"github.com/Sriram-PR/sitemap-builder/pkg/watch"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "generate":
		runGenerate(os.Args[2:])
	case "delta":
		runDelta(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	case "list-nodes":
		runListNodes(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("sitemap-builder %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `sitemap-builder - Hierarchical sitemap generator for large catalogs

Usage:
  sitemap-builder <command> [options]

Commands:
  generate    Generate one or more nodes of the sitemap tree
  delta       Track changed URLs and emit the incremental sitemap
  watch       Run delta emission, cleanup and regeneration on schedule
  validate    Validate configuration file
  verify      Check a generated sitemap tree on disk
  list-nodes  Show the configured sitemap tree
  mcp-server  Start MCP server for AI tool integration
  version     Show version info

Run 'sitemap-builder <command> -h' for command-specific help.`)
}

// loadConfig loads, parses and validates the config file, returning its warnings
func loadConfig(path string) (*config.AppConfig, []string, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}

func setupLogger(logLevelStr string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Debugf("Setting log level to: %s", level.String())
	}

	return log
}

func loadAndValidateConfig(configFile string, log *logrus.Logger) *config.AppConfig {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, warnings, err := loadConfig(configFile)
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	return appCfg
}

func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// handleSignals cancels on the first SIGINT/SIGTERM and forces exit on a second one or
// when shutdown takes longer than 30s. The returned func stops listening.
func handleSignals(cancel context.CancelFunc, log *logrus.Logger) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		var sig os.Signal
		select {
		case sig = <-sigChan:
		case <-done:
			return
		}
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

// splitList parses a comma-separated flag value
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// runGenerate handles the generate subcommand
func runGenerate(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	node := fs.String("node", "", "Node to generate (defaults to root_node)")
	nodes := fs.String("nodes", "", "Comma-separated nodes to generate in parallel")
	allRoots := fs.Bool("all-roots", false, "Generate every root node of the tree")
	publishFlag := fs.Bool("publish", false, "Upload generated files to the configured bucket")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	metricsAddr := fs.String("metrics-addr", "", "Prometheus listener address, overrides metrics_addr")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sitemap-builder generate [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  sitemap-builder generate\n")
		fmt.Fprintf(os.Stderr, "  sitemap-builder generate -node products -publish\n")
		fmt.Fprintf(os.Stderr, "  sitemap-builder generate -nodes brands,blog\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	var names []string
	switch {
	case *nodes != "":
		names = splitList(*nodes)
	case *node != "":
		names = []string{*node}
	}

	log := setupLogger(*logLevel, os.Stderr)
	startPprof(*pprofAddr, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := handleSignals(cancel, log)
	defer stop()

	exitCode := doGenerate(ctx, *configFile, names, *allRoots, *publishFlag, *metricsAddr, log, os.Stdout)
	stop()
	cancel()
	os.Exit(exitCode)
}

// doGenerate generates the named nodes and prints one line per node.
// Returns exit code (0 = every node succeeded, 1 = otherwise).
func doGenerate(ctx context.Context, configPath string, names []string, allRoots, publish bool, metricsAddr string, log *logrus.Logger, stdout io.Writer) int {
	appCfg, warnings, err := loadConfig(configPath)
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	if publish && !appCfg.Publish.Enabled {
		log.Error("-publish needs the publish section enabled in the config file")
		return 1
	}

	a, err := newApp(ctx, appCfg, log)
	if err != nil {
		log.Errorf("Initialization failed: %v", err)
		return 1
	}
	defer a.Close()

	if metricsAddr == "" {
		metricsAddr = appCfg.MetricsAddr
	}
	a.startMetricsServer(ctx, metricsAddr)

	switch {
	case allRoots:
		names = orchestrate.RootNodeNames(a.registry)
	case len(names) == 0:
		names = []string{appCfg.RootNode}
	}
	if err := orchestrate.ValidateNodeNames(a.registry, names); err != nil {
		log.Errorf("Invalid nodes: %v", err)
		return 1
	}

	var publisher orchestrate.Publisher
	if publish {
		publisher = a.publisher
	}
	orch := orchestrate.NewOrchestrator(ctx, a.generator, names, publisher, log.WithField("component", "generate"))
	results := orch.Run()

	exitCode := 0
	for _, r := range results {
		status := "OK"
		if !r.Success {
			status = "FAILED"
			exitCode = 1
		}
		files := 0
		if r.Run != nil {
			files = len(r.Run.Artifacts())
		}
		fmt.Fprintf(stdout, "%s: %s - %d URLs, %d files", status, r.Node, r.URLs, files)
		if r.Published > 0 {
			fmt.Fprintf(stdout, ", %d published", r.Published)
		}
		if r.Error != nil {
			fmt.Fprintf(stdout, " (%v)", r.Error)
		}
		fmt.Fprintln(stdout)
	}
	return exitCode
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sitemap-builder validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doValidate(*configFile, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, warnings, err := loadConfig(configPath)
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	reg, regWarnings, err := registry.Build(appCfg.Nodes, shard.DefaultPredicates())
	for _, w := range regWarnings {
		fmt.Fprintf(stdout, "WARN: [nodes] %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: [nodes] %v\n", err)
		return 1
	}
	if _, err := reg.Get(appCfg.RootNode); err != nil {
		fmt.Fprintf(stderr, "ERROR: root_node: %v\n", err)
		return 1
	}

	if appCfg.Hygiene.RobotsTxtPath != "" {
		if _, err := hygiene.LoadRobotsRule(appCfg.Hygiene.RobotsTxtPath, appCfg.Hygiene.UserAgent); err != nil {
			fmt.Fprintf(stderr, "ERROR: [hygiene] %v\n", err)
			return 1
		}
	}

	fmt.Fprintf(stdout, "OK: %d nodes, roots: %s\n", len(reg.Names()), strings.Join(orchestrate.RootNodeNames(reg), ", "))
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runVerify handles the verify subcommand
func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	path := fs.String("path", "", "Sitemap to verify, relative to output_dir (defaults to the root node's file)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sitemap-builder verify [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doVerify(context.Background(), *configFile, *path, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doVerify walks a generated tree and prints every problem found.
// Returns exit code (0 = no problems, 1 = problems or error).
func doVerify(ctx context.Context, configPath, rel string, stdout, stderr io.Writer) int {
	appCfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if rel == "" {
		reg, _, err := registry.Build(appCfg.Nodes, shard.DefaultPredicates())
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		root, err := reg.Get(appCfg.RootNode)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		rel = root.Path
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	report, err := sitemap.NewVerifier(appCfg.OutputDir, appCfg.BaseURL, logrus.NewEntry(log)).Verify(ctx, rel)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Verified %s: %d files (%d indexes), %d URLs\n", report.Root, len(report.Files), report.Indexes, report.URLs)
	for _, p := range report.Problems {
		fmt.Fprintf(stdout, "PROBLEM: %s\n", p)
	}
	if !report.OK() {
		fmt.Fprintf(stdout, "\n%d problems found.\n", len(report.Problems))
		return 1
	}
	fmt.Fprintln(stdout, "\nSitemap tree valid.")
	return 0
}

// runListNodes handles the list-nodes subcommand
func runListNodes(args []string) {
	fs := flag.NewFlagSet("list-nodes", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sitemap-builder list-nodes [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doListNodes(*configFile, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

func doListNodes(configPath string, stdout, stderr io.Writer) int {
	appCfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	reg, _, err := registry.Build(appCfg.Nodes, shard.DefaultPredicates())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Nodes in %s:\n\n", configPath)
	for _, root := range reg.Roots() {
		printNode(stdout, reg, root, 1)
	}
	return 0
}

// printNode writes n and its subtree, one indented line per node
func printNode(w io.Writer, reg *registry.Registry, n *registry.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(w, "%s%s [%s] %s", indent, n.Name, n.Kind, n.Path)
	if n.Kind == models.NodeKindFinal {
		fmt.Fprintf(w, " (entity: %s", n.Entity)
		if n.Sharded() {
			fmt.Fprintf(w, ", %s, %d shards", n.Strategy, len(n.Shards))
		}
		fmt.Fprint(w, ")")
	}
	fmt.Fprintln(w)
	for _, name := range n.Children {
		if child, err := reg.Get(name); err == nil {
			printNode(w, reg, child, depth+1)
		}
	}
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	metricsAddr := fs.String("metrics-addr", "", "Prometheus listener address, overrides metrics_addr")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sitemap-builder watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nIntervals come from the schedule section of the config file.\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	executeWatch(*configFile, *logLevel, *metricsAddr)
}

// watchJobs builds the scheduled jobs from the schedule section
func watchJobs(a *app) ([]watch.Job, error) {
	sched := a.cfg.Schedule

	emitInterval, err := watch.ParseInterval(sched.DeltaEmitInterval)
	if err != nil {
		return nil, fmt.Errorf("schedule.delta_emit_interval: %w", err)
	}
	cleanupInterval, err := watch.ParseInterval(sched.CleanupInterval)
	if err != nil {
		return nil, fmt.Errorf("schedule.cleanup_interval: %w", err)
	}
	jobs := []watch.Job{
		watch.DeltaEmitJob(a.delta, emitInterval),
		watch.CleanupJob(a.delta, cleanupInterval),
	}

	if sched.RegenerateInterval != "" {
		interval, err := watch.ParseInterval(sched.RegenerateInterval)
		if err != nil {
			return nil, fmt.Errorf("schedule.regenerate_interval: %w", err)
		}
		nodes := sched.RegenerateNodes
		if len(nodes) == 0 {
			nodes = []string{a.cfg.RootNode}
		}
		if err := orchestrate.ValidateNodeNames(a.registry, nodes); err != nil {
			return nil, fmt.Errorf("schedule.regenerate_nodes: %w", err)
		}
		jobs = append(jobs, watch.RegenerateJob(a.generator, nodes, a.publisher, interval, a.log))
	}
	return jobs, nil
}

func executeWatch(configFile, logLevelStr, metricsAddr string) {
	log := setupLogger(logLevelStr, os.Stderr)
	appCfg := loadAndValidateConfig(configFile, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, appCfg, log)
	if err != nil {
		log.Fatalf("Initialization failed: %v", err)
	}
	defer a.Close()

	if metricsAddr == "" {
		metricsAddr = appCfg.MetricsAddr
	}
	a.startMetricsServer(ctx, metricsAddr)

	jobs, err := watchJobs(a)
	if err != nil {
		log.Errorf("Invalid schedule: %v", err)
		return
	}

	scheduler := watch.NewScheduler(jobs, appCfg.StateDir, log.WithField("component", "watch"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warnf("Received signal %v, stopping watch...", sig)
		scheduler.Stop()
	}()

	if err := scheduler.Run(); err != nil {
		log.Errorf("Watch scheduler error: %v", err)
		return
	}

	log.Info("Watch mode stopped")
}
