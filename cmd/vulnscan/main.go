package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikhailDrugie/se-attack-modeling/internal/engine"
	"github.com/MikhailDrugie/se-attack-modeling/internal/logger"
	"github.com/MikhailDrugie/se-attack-modeling/internal/report"
	"github.com/MikhailDrugie/se-attack-modeling/internal/shutdown"
	"github.com/MikhailDrugie/se-attack-modeling/internal/store"
	"github.com/MikhailDrugie/se-attack-modeling/pkg/scanner"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	dbPath     string
	logLevel   string
	verbose    bool

	// Scan flags
	maxDepth     int
	concurrency  int
	requestDelay int
	timeout      int
	userAgent    string

	// Analyzer toggles
	noXSS         bool
	noSQLi        bool
	noCSRF        bool
	noBruteforce  bool
	noConfigAudit bool

	// Output flags
	outputFile string
	pretty     bool

	// Report flags
	scanID uint64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vulnscan",
		Short: "vulnscan - Web Application Vulnerability Scanner",
		Long: `vulnscan - A web application vulnerability scanner for security testing.

Crawls a target, maps its endpoints and forms, and probes them for XSS,
SQL injection, CSRF, bruteforce exposure and configuration weaknesses.
Can also run static analysis over uploaded source code archives.`,
		Version: version,
	}

	// Scan command
	scanCmd := &cobra.Command{
		Use:   "scan [target]",
		Short: "Scan a target URL",
		Long:  "Crawl a target URL and run all vulnerability analyzers against it.",
		Args:  cobra.ExactArgs(1),
		RunE:  runScan,
	}

	// SAST command
	sastCmd := &cobra.Command{
		Use:   "sast [archive]",
		Short: "Analyze a source code archive",
		Long:  "Extract a zip/tar/tar.gz archive and scan its source files for dangerous patterns.",
		Args:  cobra.ExactArgs(1),
		RunE:  runSAST,
	}

	// Report command
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Export findings of a stored scan",
		Long:  "Load a stored scan and its findings from the database and write a JSON report.",
		RunE:  runReport,
	}

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored scans",
		RunE:  runList,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "vulnscan.db", "Scan database path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	// Scan flags
	scanCmd.Flags().IntVarP(&maxDepth, "max-depth", "d", 3, "Maximum crawl depth")
	scanCmd.Flags().IntVarP(&concurrency, "concurrency", "w", 10, "Number of concurrent fetches")
	scanCmd.Flags().IntVar(&requestDelay, "delay", 100, "Minimum delay between requests in milliseconds")
	scanCmd.Flags().IntVarP(&timeout, "timeout", "t", 10, "Request timeout in seconds")
	scanCmd.Flags().StringVar(&userAgent, "user-agent", "", "Override the User-Agent header")

	// Analyzer toggles
	scanCmd.Flags().BoolVar(&noXSS, "no-xss", false, "Disable the XSS analyzer")
	scanCmd.Flags().BoolVar(&noSQLi, "no-sqli", false, "Disable the SQL injection analyzer")
	scanCmd.Flags().BoolVar(&noCSRF, "no-csrf", false, "Disable the CSRF analyzer")
	scanCmd.Flags().BoolVar(&noBruteforce, "no-bruteforce", false, "Disable the bruteforce analyzer")
	scanCmd.Flags().BoolVar(&noConfigAudit, "no-config-audit", false, "Disable the configuration audit")

	// Output flags (shared by scan, sast and report)
	for _, cmd := range []*cobra.Command{scanCmd, sastCmd, reportCmd} {
		cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
		cmd.Flags().BoolVar(&pretty, "pretty", true, "Pretty-print JSON output")
	}

	// Report flags
	reportCmd.Flags().Uint64Var(&scanID, "scan-id", 0, "Scan ID to report on (default: latest)")

	// Add commands
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(sastCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(listCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogger builds the process logger from the global flags and
// installs it as the global instance.
func setupLogger() (*logger.Logger, error) {
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	if verbose {
		level = logger.DebugLevel
	}

	log := logger.New(logger.Config{
		Level:  level,
		Pretty: true,
		Output: os.Stderr,
	})
	logger.SetGlobal(log)
	return log, nil
}

// newShutdownHandler builds the process shutdown handler. Its context
// is cancelled on SIGINT/SIGTERM and the store is closed on the way out.
func newShutdownHandler(st *store.Store) *shutdown.Handler {
	h := shutdown.NewDefault()
	h.Register("scan database", func(ctx context.Context) error { return st.Close() })
	h.RegisterFunc("notify", func() {
		fmt.Fprintf(os.Stderr, "\nReceived interrupt signal, stopping...\n")
	})
	return h
}

// openOutput resolves the report destination. The caller closes the
// returned writer only when it is a file.
func openOutput() (*os.File, bool, error) {
	if outputFile == "" {
		return os.Stdout, false, nil
	}
	f, err := os.Create(outputFile)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, true, nil
}

func buildScanConfig(cmd *cobra.Command, target string) (*scanner.Config, error) {
	var config *scanner.Config
	if configFile != "" {
		fileConfig, err := scanner.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = fileConfig
	} else {
		config = scanner.DefaultConfig()
	}

	config.Target = target

	// Command-line flags take precedence over the config file.
	if cmd.Flags().Changed("max-depth") {
		config.MaxDepth = maxDepth
	}
	if cmd.Flags().Changed("concurrency") {
		config.Fetcher.MaxConcurrent = concurrency
	}
	if cmd.Flags().Changed("delay") {
		config.Fetcher.MinDelay = time.Duration(requestDelay) * time.Millisecond
	}
	if cmd.Flags().Changed("timeout") {
		config.Fetcher.Timeout = time.Duration(timeout) * time.Second
	}
	if userAgent != "" {
		config.Fetcher.UserAgent = userAgent
	}
	config.Verbose = verbose

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func disabledAnalyzers() []string {
	var disabled []string
	for name, off := range map[string]bool{
		"xss":        noXSS,
		"sqli":       noSQLi,
		"csrf":       noCSRF,
		"bruteforce": noBruteforce,
		"config":     noConfigAudit,
	} {
		if off {
			disabled = append(disabled, name)
		}
	}
	return disabled
}

func runScan(cmd *cobra.Command, args []string) error {
	target := args[0]

	log, err := setupLogger()
	if err != nil {
		return err
	}

	config, err := buildScanConfig(cmd, target)
	if err != nil {
		return err
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open scan database: %w", err)
	}
	defer st.Close()

	record, err := st.CreateScan(target, "")
	if err != nil {
		return fmt.Errorf("failed to create scan record: %w", err)
	}

	ctx := newShutdownHandler(st).Context()
	eng := engine.New(st, log)
	eng.DisabledAnalyzers = disabledAnalyzers()

	startTime := time.Now()
	runErr := eng.RunWebScan(ctx, record.ID, config)
	duration := time.Since(startTime)

	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("scan failed: %w", runErr)
	}

	fmt.Fprintf(os.Stderr, "Scan #%d finished in %v\n", record.ID, duration.Round(time.Second))

	return exportScan(st, eng, record.ID)
}

func runSAST(cmd *cobra.Command, args []string) error {
	archive := args[0]

	log, err := setupLogger()
	if err != nil {
		return err
	}

	if _, err := os.Stat(archive); err != nil {
		return fmt.Errorf("archive not accessible: %w", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open scan database: %w", err)
	}
	defer st.Close()

	record, err := st.CreateScan("", archive)
	if err != nil {
		return fmt.Errorf("failed to create scan record: %w", err)
	}

	ctx := newShutdownHandler(st).Context()
	eng := engine.New(st, log)

	if err := eng.RunSASTScan(ctx, record.ID); err != nil && ctx.Err() == nil {
		return fmt.Errorf("SAST scan failed: %w", err)
	}

	return exportScan(st, eng, record.ID)
}

// exportScan writes the report for a scan the engine just ran.
func exportScan(st *store.Store, eng *engine.Engine, id uint64) error {
	record, err := st.GetScan(id)
	if err != nil {
		return err
	}
	findings, err := st.ListVulnerabilities(id)
	if err != nil {
		return err
	}

	summary := eng.Summary()

	out, isFile, err := openOutput()
	if err != nil {
		return err
	}

	w := report.NewWriter(out, report.Config{Format: "json", Pretty: pretty})
	if err := w.WriteReport(report.Build(record, summary, nil, findings)); err != nil {
		return err
	}
	if isFile {
		return w.Close()
	}
	return w.Flush()
}

func runReport(cmd *cobra.Command, args []string) error {
	if _, err := setupLogger(); err != nil {
		return err
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open scan database: %w", err)
	}
	defer st.Close()

	record, err := resolveScan(st, scanID)
	if err != nil {
		return err
	}

	findings, err := st.ListVulnerabilities(record.ID)
	if err != nil {
		return err
	}

	out, isFile, err := openOutput()
	if err != nil {
		return err
	}

	w := report.NewWriter(out, report.Config{Format: "json", Pretty: pretty})
	if err := w.WriteReport(report.Build(record, nil, nil, findings)); err != nil {
		return err
	}
	if isFile {
		return w.Close()
	}
	return w.Flush()
}

// resolveScan loads the requested scan, or the most recent one when no
// ID was given.
func resolveScan(st *store.Store, id uint64) (*store.ScanRecord, error) {
	if id != 0 {
		return st.GetScan(id)
	}

	scans, err := st.ListScans()
	if err != nil {
		return nil, err
	}
	if len(scans) == 0 {
		return nil, fmt.Errorf("no scans stored in %s", st.Path())
	}
	return scans[len(scans)-1], nil
}

func runList(cmd *cobra.Command, args []string) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open scan database: %w", err)
	}
	defer st.Close()

	scans, err := st.ListScans()
	if err != nil {
		return err
	}
	if len(scans) == 0 {
		fmt.Println("No scans stored")
		return nil
	}

	for _, s := range scans {
		subject := s.Target
		if subject == "" {
			subject = s.ArchivePath
		}
		line := fmt.Sprintf("#%d  %-10s  %s  created %s", s.ID, s.Status, subject, s.CreatedAt.Format(time.RFC3339))
		if s.FinishedAt != nil {
			line += fmt.Sprintf("  finished %s", s.FinishedAt.Format(time.RFC3339))
		}
		if s.Error != "" {
			line += fmt.Sprintf("  error: %s", s.Error)
		}
		fmt.Println(line)
	}
	return nil
}
