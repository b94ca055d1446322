// Simlink - racing sim telemetry gateway
//
// Samples a simulator telemetry source, derives extra signals, and
// republishes snapshots via REST API, WebSocket, MQTT, Valkey and Kafka.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"simlink/config"
	"simlink/engine"
	"simlink/logging"
	"simlink/metrics"
	"simlink/sinkbench"
	"simlink/tui"
	"simlink/web"
)

// Version is set at build time via -ldflags
var Version = "dev"

// preprocessLogDebugFlag handles --log-debug without a value by injecting "all" as the default.
func preprocessLogDebugFlag() {
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--log-debug" || arg == "-log-debug" {
			if i+1 >= len(args) || (len(args[i+1]) > 0 && args[i+1][0] == '-') {
				os.Args = append(os.Args[:i+2], append([]string{"all"}, os.Args[i+2:]...)...)
			}
			return
		}
		if strings.HasPrefix(arg, "--log-debug=") || strings.HasPrefix(arg, "-log-debug=") {
			return
		}
	}
}

// Command line flags
var (
	configPath  = flag.String("config", config.DefaultPath(), "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
	noTUI       = flag.Bool("d", false, "Disable local TUI (headless mode)")
	noTUILong   = flag.Bool("no-tui", false, "Disable local TUI (headless mode)")
	namespace   = flag.String("namespace", "", "Set namespace (saved to config)")
	httpPort    = flag.Int("p", 0, "HTTP listen port (overrides config)")
	httpHost    = flag.String("host", "", "HTTP bind address (overrides config)")
	sourceFlag  = flag.String("source", "", "Telemetry source: mock, replay, bridge (overrides config)")
	replayPath  = flag.String("replay", "", "CSV file for the replay source (implies -source replay)")
	adminUser   = flag.String("admin-user", "", "Create/update admin user (saves to config)")
	adminPass   = flag.String("admin-pass", "", "Password for admin user (saves to config)")
	noAPI       = flag.Bool("no-api", false, "Disable REST API (ephemeral)")
	noMetrics   = flag.Bool("no-metrics", false, "Disable Prometheus endpoint (ephemeral)")
	logFile     = flag.String("log", "", "Path to log file (optional)")
	logDebug    = flag.String("log-debug", "", "Enable debug logging to debug.log")

	// Stress test flags
	testSinks    = flag.Bool("stress-test-sinks", false, "Run stress tests for enabled sinks and exit")
	testDuration = flag.Duration("test-duration", 10*time.Second, "Duration for each sink stress test")
	testValues   = flag.Int("test-values", 40, "Number of values per synthetic snapshot")
	testArrayLen = flag.Int("test-array", 64, "Length of the array value per synthetic snapshot")
	testYes      = flag.Bool("y", false, "Skip confirmation prompt for stress tests")
)

func main() {
	preprocessLogDebugFlag()

	flag.Parse()

	if *showVersion {
		fmt.Printf("simlink %s\n", Version)
		os.Exit(0)
	}

	headless := *noTUI || *noTUILong

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Handle --namespace flag: overwrite config and save
	if *namespace != "" {
		if !config.IsValidNamespace(*namespace) {
			fmt.Fprintf(os.Stderr, "Error: invalid namespace '%s' (use alphanumeric, hyphen, underscore, dot)\n", *namespace)
			os.Exit(1)
		}
		cfg.Namespace = *namespace
		if err := cfg.Save(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Namespace set to '%s' and saved to config\n", *namespace)
	}

	// Ephemeral overrides
	if *httpPort != 0 {
		cfg.Web.Port = *httpPort
	}
	if *httpHost != "" {
		cfg.Web.Host = *httpHost
	}
	if *noAPI {
		cfg.Web.API.Enabled = false
	}
	if *noMetrics {
		cfg.Web.Metrics.Enabled = false
	}
	if *noAPI && *noMetrics {
		cfg.Web.Enabled = false
	}
	if *replayPath != "" {
		cfg.Provider.Source = config.SourceReplay
		cfg.Provider.Replay.Path = *replayPath
	}
	if *sourceFlag != "" {
		cfg.Provider.Source = *sourceFlag
	}

	// Create/update admin user if credentials provided (persisted)
	if *adminUser != "" && *adminPass != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*adminPass), bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error hashing password: %v\n", err)
			os.Exit(1)
		}

		if existing := cfg.FindWebUser(*adminUser); existing != nil {
			existing.PasswordHash = string(hash)
			existing.Role = config.RoleAdmin
		} else {
			cfg.AddWebUser(config.WebUser{
				Username:     *adminUser,
				PasswordHash: string(hash),
				Role:         config.RoleAdmin,
			})
		}

		if err := cfg.Save(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Admin user '%s' configured for REST API\n", *adminUser)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if *testSinks {
		runSinkTests(cfg)
		return
	}

	run(cfg, headless)
}

// run is the unified startup flow for both TUI and headless modes.
func run(cfg *config.Config, headless bool) {
	// Set up file logging if specified
	var fileLogger *logging.FileLogger
	if *logFile != "" {
		var err error
		fileLogger, err = logging.NewFileLogger(*logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to open log file: %v\n", err)
		}
	}

	// Set up debug logging if specified
	var debugLoggerFile *logging.DebugLogger
	var debugMsg string
	if *logDebug != "" {
		var err error
		debugLoggerFile, err = logging.NewDebugLogger("debug.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to open debug log: %v\n", err)
		} else {
			filter := *logDebug
			if filter == "all" || filter == "true" || filter == "1" {
				filter = ""
			}
			debugLoggerFile.SetFilter(filter)
			logging.SetGlobalDebugLogger(debugLoggerFile)
			if filter == "" {
				debugMsg = "Debug logging enabled (all protocols) - writing to debug.log"
			} else {
				debugMsg = fmt.Sprintf("Debug logging enabled (filter: %s) - writing to debug.log", filter)
			}
		}
	}

	// The TUI debug tab owns the file logger in TUI mode; headless prints
	// to stdout and tees into the file directly.
	var logFn logging.LogFunc
	if headless {
		var fileFn logging.LogFunc
		if fileLogger != nil {
			fileFn = fileLogger.Log
		}
		logFn = logging.Tee(stdoutLog, fileFn)
	} else {
		logFn = tui.DebugLog
	}

	collector := metrics.New()
	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		LogFunc:    logFn,
		Observer:   collector,
	})
	if err := collector.RegisterSinks(func() []metrics.SinkState {
		return sinkStates(eng.SinkStatuses())
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to register sink metrics: %v\n", err)
	}

	// The TUI must exist before the engine starts so startup messages land
	// in its debug tab.
	var app *tui.App
	if !headless {
		app = tui.NewApp(eng)
		if fileLogger != nil {
			tui.SetDebugFileLogger(fileLogger)
		}
	}
	if debugMsg != "" {
		logFn("%s", debugMsg)
	}

	eng.Start()

	// Start HTTP server (unless disabled)
	var webServer *web.Server
	if cfg.Web.Enabled {
		ws := web.NewServer(&cfg.Web, eng, collector.Handler())
		if err := ws.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to start web server on port %d: %v\n", cfg.Web.Port, err)
			fmt.Fprintf(os.Stderr, "Continuing without HTTP server.\n")
		} else {
			webServer = ws
			fmt.Printf("Web server at %s\n", ws.Address())
			if cfg.Web.API.Enabled {
				fmt.Printf("  REST API: %s/api/\n", ws.Address())
				fmt.Printf("  Stream:   %s/api/stream\n", strings.Replace(ws.Address(), "http", "ws", 1))
			}
			if cfg.Web.Metrics.Enabled {
				path := cfg.Web.Metrics.Path
				if path == "" {
					path = "/metrics"
				}
				fmt.Printf("  Metrics:  %s%s\n", ws.Address(), path)
			}

			// Route mounts follow the runtime toggles.
			eng.Events.SubscribeTypes(func(engine.Event) {
				ws.Reload(&cfg.Web)
			}, engine.EventAPIToggled, engine.EventMetricsToggled)
		}
	}

	shutdown := func() {
		if webServer != nil {
			webServer.Stop()
		}
		eng.Stop()
		if fileLogger != nil {
			fileLogger.Close()
		}
		if debugLoggerFile != nil {
			debugLoggerFile.Close()
		}
	}

	if headless {
		fmt.Println("Running in headless mode. Press Ctrl+C to stop.")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		fmt.Printf("\nReceived %v, shutting down...\n", sig)

		shutdownDone := make(chan struct{})
		go func() {
			shutdown()
			close(shutdownDone)
		}()

		select {
		case <-shutdownDone:
		case <-time.After(2 * time.Second):
		}

		fmt.Println("Stopped")
		return
	}

	// TUI mode: redirect stderr to a file so runtime errors (data races,
	// panics) do not corrupt the terminal display.
	stderrPath := filepath.Join(filepath.Dir(*configPath), "simlink-crash.log")
	if f, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
		redirectStderr(f)
		defer f.Close()
	}

	if err := app.Run(); err != nil {
		shutdown()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	shutdown()
}

func stdoutLog(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
}

func sinkStates(statuses []engine.SinkStatus) []metrics.SinkState {
	out := make([]metrics.SinkState, len(statuses))
	for i, s := range statuses {
		out[i] = metrics.SinkState{Kind: s.Kind, Name: s.Name, Running: s.Running}
	}
	return out
}

// runSinkTests runs stress tests against the enabled sinks.
func runSinkTests(cfg *config.Config) {
	var sinkList []string
	for _, k := range cfg.Kafka {
		if k.Enabled {
			sinkList = append(sinkList, fmt.Sprintf("Kafka/%s (%s)", k.Name, strings.Join(k.Brokers, ",")))
		}
	}
	for _, m := range cfg.MQTT {
		if m.Enabled {
			sinkList = append(sinkList, fmt.Sprintf("MQTT/%s (%s:%d)", m.Name, m.Broker, m.Port))
		}
	}
	for _, v := range cfg.Valkey {
		if v.Enabled {
			sinkList = append(sinkList, fmt.Sprintf("Valkey/%s (%s)", v.Name, v.Address))
		}
	}

	if len(sinkList) == 0 {
		fmt.Println("No enabled sinks found in configuration.")
		fmt.Println("Enable sinks in your config file to run stress tests.")
		return
	}

	if !*testYes {
		fmt.Println()
		fmt.Println("WARNING: Stress test")
		fmt.Println()
		fmt.Printf("This will stress test %d sink(s) for %v under namespace %q:\n\n",
			len(sinkList), *testDuration, sinkbench.Namespace)
		for _, s := range sinkList {
			fmt.Printf("  - %s\n", s)
		}
		fmt.Println()
		fmt.Print("Continue? [y/N]: ")

		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}

	runner := sinkbench.NewRunner(cfg, sinkbench.TestConfig{
		Duration:  *testDuration,
		NumValues: *testValues,
		ArrayLen:  *testArrayLen,
	}, os.Stdout)

	for _, result := range runner.Run() {
		if !result.Success {
			os.Exit(1)
		}
	}
}
