// Price Quality CLI
// This application provides command-line access to the point-in-time price
// data pipeline: loading universe price history through the vendor bridge
// with local caching, running data quality validation, resolving historical
// index constituents, and checking vendor service status.
//
// Usage:
//
//	priceq load --symbols AAPL,MSFT --start 2020-01-01 --end 2020-12-31 --universe test_universe
//	priceq validate --symbols AAPL,MSFT --start 2020-01-01 --end 2020-12-31 --universe test_universe
//	priceq constituents --index "Russell 1000" --date 2020-06-30
//	priceq export --universe test_universe --start 2020-01-01 --end 2020-12-31 --out prices.parquet
//	priceq status
//
// For detailed help on any command, use: priceq <command> --help
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/mfontaine/go-price-quality/internal/bridge"
	"github.com/mfontaine/go-price-quality/internal/cache"
	"github.com/mfontaine/go-price-quality/internal/config"
	"github.com/mfontaine/go-price-quality/internal/loader"
	"github.com/mfontaine/go-price-quality/internal/logger"
	"github.com/mfontaine/go-price-quality/internal/quality"
	"github.com/mfontaine/go-price-quality/internal/universe"
	"github.com/shopspring/decimal"
)

// CLI version information
const (
	Version    = "1.0.0"
	AppName    = "priceq"
	ConfigFile = "priceq.json"
)

// Exit codes following standard conventions
const (
	ExitSuccess       = 0
	ExitUsageError    = 1
	ExitConfigError   = 2
	ExitConnectionErr = 3
	ExitDataError     = 4
	ExitInterrupt     = 130
)

// CLI represents the main CLI application
type CLI struct {
	config     *config.AppConfig
	logManager *logger.Manager
	logger     *slog.Logger
	bridge     *bridge.Client
	cache      *cache.Store
	loader     *loader.Loader
	validator  *quality.Validator
	resolver   *universe.Resolver
}

// main is the entry point for the CLI application
func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	// Version and help need no initialized components
	switch command {
	case "--version", "-v":
		fmt.Printf("%s version %s\n", AppName, Version)
		return
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
		return
	}

	cli := &CLI{}
	if err := cli.initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize CLI: %v\n", err)
		os.Exit(ExitConfigError)
	}
	defer cli.shutdown()

	switch command {
	case "load":
		if err := cli.handleLoad(ctx, args); err != nil {
			cli.logger.Error("Load failed", "error", err)
			os.Exit(exitCodeFor(err))
		}
	case "validate":
		if err := cli.handleValidate(ctx, args); err != nil {
			cli.logger.Error("Validation failed", "error", err)
			os.Exit(exitCodeFor(err))
		}
	case "constituents":
		if err := cli.handleConstituents(ctx, args); err != nil {
			cli.logger.Error("Constituent resolution failed", "error", err)
			os.Exit(exitCodeFor(err))
		}
	case "export":
		if err := cli.handleExport(ctx, args); err != nil {
			cli.logger.Error("Export failed", "error", err)
			os.Exit(ExitDataError)
		}
	case "status":
		if err := cli.handleStatus(ctx, args); err != nil {
			cli.logger.Error("Status check failed", "error", err)
			os.Exit(ExitConnectionErr)
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	if ctx.Err() != nil {
		os.Exit(ExitInterrupt)
	}
}

// exitCodeFor maps error categories onto exit codes
func exitCodeFor(err error) int {
	switch {
	case isConnectionError(err):
		return ExitConnectionErr
	default:
		return ExitDataError
	}
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, bridge.ErrInterpreterNotFound) || errors.Is(err, bridge.ErrServiceNotRunning) {
		return true
	}
	var ce *bridge.CommError
	return errors.As(err, &ce)
}

// initialize sets up the CLI application components
func (cli *CLI) initialize(ctx context.Context) error {
	cfg, err := config.NewManager(ConfigFile, nil).Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cli.config = cfg

	logManager, err := logger.NewManager(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cli.logManager = logManager
	cli.logger = logManager.Logger()
	logManager.SetAsDefault()

	cli.bridge = bridge.NewClient(bridge.ClientConfig{
		Interpreter:   cfg.Bridge.Interpreter,
		VendorModule:  cfg.Bridge.VendorModule,
		Timeout:       time.Duration(cfg.Bridge.TimeoutSeconds) * time.Second,
		RetryAttempts: uint64(cfg.Bridge.RetryAttempts),
		RateLimit:     rate.Limit(cfg.Bridge.RateLimitPerSec),
	}, cli.logger)

	store, err := cache.NewStore(cfg.Cache.DatabasePath, cli.logger)
	if err != nil {
		return fmt.Errorf("failed to open price cache: %w", err)
	}
	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return fmt.Errorf("failed to initialize price cache: %w", err)
	}
	cli.cache = store

	cli.loader = loader.NewLoader(cli.bridge, cli.cache, cli.logger)

	cli.validator = quality.NewValidator(quality.Options{
		GapThresholdDays:       cfg.Quality.GapThresholdDays,
		JumpThreshold:          decimal.NewFromFloat(cfg.Quality.JumpThresholdPct),
		DelistingThresholdDays: cfg.Quality.DelistingThresholdDays,
	}, cli.logger)

	cli.resolver = universe.NewResolver(cli.bridge, universe.ResolverConfig{
		WindowDays: cfg.Universe.WindowDays,
		Timeout:    time.Duration(cfg.Universe.TimeoutSeconds) * time.Second,
	}, cli.logger)

	return nil
}

// shutdown releases CLI resources
func (cli *CLI) shutdown() {
	if cli.cache != nil {
		if err := cli.cache.Close(); err != nil {
			cli.logger.Warn("failed to close price cache", "error", err)
		}
	}
	if cli.logManager != nil {
		cli.logManager.Close()
	}
}

// LoadFlags holds parsed flags for the load and validate commands
type LoadFlags struct {
	Symbols      string
	Start        string
	End          string
	Universe     string
	ForceRefresh bool
	NoDelistings bool
	Help         bool
}

func parseLoadFlags(args []string) (*LoadFlags, error) {
	flags := &LoadFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--symbols", "-s":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--symbols requires a value")
			}
			flags.Symbols = args[i+1]
			i++
		case "--start":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--start requires a value")
			}
			flags.Start = args[i+1]
			i++
		case "--end":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--end requires a value")
			}
			flags.End = args[i+1]
			i++
		case "--universe", "-u":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--universe requires a value")
			}
			flags.Universe = args[i+1]
			i++
		case "--force-refresh", "-f":
			flags.ForceRefresh = true
		case "--no-delistings":
			flags.NoDelistings = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

func (f *LoadFlags) validate() ([]string, time.Time, time.Time, error) {
	if f.Symbols == "" {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("--symbols is required")
	}
	if f.Universe == "" {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("--universe is required")
	}
	if f.Start == "" || f.End == "" {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("--start and --end are required")
	}

	start, err := time.Parse("2006-01-02", f.Start)
	if err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("invalid start date format, use YYYY-MM-DD: %w", err)
	}
	end, err := time.Parse("2006-01-02", f.End)
	if err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("invalid end date format, use YYYY-MM-DD: %w", err)
	}
	if end.Before(start) {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("end date must not precede start date")
	}

	var symbols []string
	for _, s := range strings.Split(f.Symbols, ",") {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			symbols = append(symbols, trimmed)
		}
	}
	if len(symbols) == 0 {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("no valid symbols in --symbols")
	}

	return symbols, start, end, nil
}

// handleLoad handles the 'load' command for universe price acquisition
func (cli *CLI) handleLoad(ctx context.Context, args []string) error {
	flags, err := parseLoadFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("load")
		return nil
	}

	symbols, start, end, err := flags.validate()
	if err != nil {
		return err
	}

	ds, err := cli.loader.LoadUniverse(ctx, symbols, start, end, flags.Universe, flags.ForceRefresh)
	if err != nil {
		return err
	}

	dsStart, dsEnd := ds.DateRange()
	fmt.Printf("Loaded %d bars for %d symbols (%s to %s)\n",
		ds.Len(), len(ds.Symbols()),
		dsStart.Format("2006-01-02"), dsEnd.Format("2006-01-02"))

	return nil
}

// handleValidate handles the 'validate' command: load then quality-check
func (cli *CLI) handleValidate(ctx context.Context, args []string) error {
	flags, err := parseLoadFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("validate")
		return nil
	}

	symbols, start, end, err := flags.validate()
	if err != nil {
		return err
	}

	ds, err := cli.loader.LoadUniverse(ctx, symbols, start, end, flags.Universe, flags.ForceRefresh)
	if err != nil {
		return err
	}

	report := cli.validator.Validate(ds, !flags.NoDelistings)
	fmt.Println(report.Render())

	if !report.IsValid {
		return fmt.Errorf("dataset failed validation: %s", report.SummaryMessage)
	}
	return nil
}

// ConstituentFlags holds parsed flags for the constituents command
type ConstituentFlags struct {
	Index   string
	Date    string
	Symbols string
	Help    bool
}

func parseConstituentFlags(args []string) (*ConstituentFlags, error) {
	flags := &ConstituentFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--index", "-i":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--index requires a value")
			}
			flags.Index = args[i+1]
			i++
		case "--date", "-d":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--date requires a value")
			}
			flags.Date = args[i+1]
			i++
		case "--symbols", "-s":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--symbols requires a value")
			}
			flags.Symbols = args[i+1]
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// handleConstituents handles the 'constituents' command for point-in-time
// index membership resolution
func (cli *CLI) handleConstituents(ctx context.Context, args []string) error {
	flags, err := parseConstituentFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("constituents")
		return nil
	}

	if flags.Index == "" {
		return fmt.Errorf("--index is required")
	}
	if flags.Date == "" {
		return fmt.Errorf("--date is required")
	}
	targetDate, err := time.Parse("2006-01-02", flags.Date)
	if err != nil {
		return fmt.Errorf("invalid date format, use YYYY-MM-DD: %w", err)
	}

	var symbols []string
	if flags.Symbols != "" {
		for _, s := range strings.Split(flags.Symbols, ",") {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				symbols = append(symbols, trimmed)
			}
		}
	}

	members, err := cli.resolver.ResolveConstituents(ctx, flags.Index, targetDate, symbols)
	if err != nil {
		return err
	}

	fmt.Printf("%d member(s) of %s on %s:\n", len(members), flags.Index, flags.Date)
	for _, member := range members {
		fmt.Println(member)
	}
	return nil
}

// ExportFlags holds parsed flags for the export command
type ExportFlags struct {
	Universe string
	Start    string
	End      string
	Out      string
	Help     bool
}

func parseExportFlags(args []string) (*ExportFlags, error) {
	flags := &ExportFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--universe", "-u":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--universe requires a value")
			}
			flags.Universe = args[i+1]
			i++
		case "--start":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--start requires a value")
			}
			flags.Start = args[i+1]
			i++
		case "--end":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--end requires a value")
			}
			flags.End = args[i+1]
			i++
		case "--out", "-o":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--out requires a value")
			}
			flags.Out = args[i+1]
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// handleExport handles the 'export' command for parquet extraction
func (cli *CLI) handleExport(ctx context.Context, args []string) error {
	flags, err := parseExportFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("export")
		return nil
	}

	if flags.Universe == "" {
		return fmt.Errorf("--universe is required")
	}
	if flags.Start == "" || flags.End == "" {
		return fmt.Errorf("--start and --end are required")
	}
	if flags.Out == "" {
		return fmt.Errorf("--out is required")
	}

	start, err := time.Parse("2006-01-02", flags.Start)
	if err != nil {
		return fmt.Errorf("invalid start date format, use YYYY-MM-DD: %w", err)
	}
	end, err := time.Parse("2006-01-02", flags.End)
	if err != nil {
		return fmt.Errorf("invalid end date format, use YYYY-MM-DD: %w", err)
	}

	key := cache.Key{Universe: flags.Universe, Start: start, End: end}
	exists, err := cli.cache.HasEntry(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("no cached dataset for key %s; run 'priceq load' first", key.String())
	}

	if err := cli.cache.ExportParquet(ctx, key, flags.Out); err != nil {
		return err
	}

	fmt.Printf("Exported %s to %s\n", key.String(), flags.Out)
	return nil
}

// handleStatus handles the 'status' command for vendor service connectivity
func (cli *CLI) handleStatus(ctx context.Context, args []string) error {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			printCommandHelp("status")
			return nil
		}
	}

	if cli.bridge.CheckService(ctx) {
		fmt.Println("Vendor data service: AVAILABLE")
		return nil
	}

	fmt.Println("Vendor data service: UNAVAILABLE")
	return fmt.Errorf("vendor data service is not reachable")
}

// printUsage prints the main usage information
func printUsage() {
	fmt.Printf(`%s - Point-in-time price data quality pipeline

Usage:
  %s <command> [flags]

Commands:
  load          Fetch and cache price history for a universe of symbols
  validate      Load a universe and run data quality validation
  constituents  Resolve point-in-time index membership
  export        Export a cached dataset to a Parquet file
  status        Check vendor data service connectivity

Global:
  --version, -v    Show version information
  --help, -h       Show this help message

Use "%s <command> --help" for more information about a command.
`, AppName, AppName, AppName)
}

// printCommandHelp prints detailed help for a specific command
func printCommandHelp(command string) {
	switch command {
	case "load":
		fmt.Printf(`Fetch and cache price history for a universe of symbols.

Usage:
  %s load --symbols AAPL,MSFT --start 2020-01-01 --end 2020-12-31 --universe test_universe

Flags:
  --symbols, -s       Comma-separated ticker symbols (required)
  --start             Range start date, YYYY-MM-DD (required)
  --end               Range end date, YYYY-MM-DD (required)
  --universe, -u      Universe name used as the cache key (required)
  --force-refresh, -f Bypass the cache and fetch fresh data
`, AppName)
	case "validate":
		fmt.Printf(`Load a universe and run data quality validation against it.

Usage:
  %s validate --symbols AAPL,MSFT --start 2020-01-01 --end 2020-12-31 --universe test_universe

Flags:
  --symbols, -s       Comma-separated ticker symbols (required)
  --start             Range start date, YYYY-MM-DD (required)
  --end               Range end date, YYYY-MM-DD (required)
  --universe, -u      Universe name used as the cache key (required)
  --force-refresh, -f Bypass the cache and fetch fresh data
  --no-delistings     Skip delisting detection
`, AppName)
	case "constituents":
		fmt.Printf(`Resolve which symbols were members of an index on a historical date.

Usage:
  %s constituents --index "Russell 1000" --date 2020-06-30 [--symbols AAPL,MSFT]

Flags:
  --index, -i    Index or watchlist name (required)
  --date, -d     Target date, YYYY-MM-DD (required)
  --symbols, -s  Candidate symbols; defaults to the index watchlist
`, AppName)
	case "export":
		fmt.Printf(`Export a cached dataset to a Parquet file.

Usage:
  %s export --universe test_universe --start 2020-01-01 --end 2020-12-31 --out prices.parquet

Flags:
  --universe, -u  Universe name of the cached dataset (required)
  --start         Range start date, YYYY-MM-DD (required)
  --end           Range end date, YYYY-MM-DD (required)
  --out, -o       Output file path (required)
`, AppName)
	case "status":
		fmt.Printf(`Check vendor data service connectivity.

Usage:
  %s status
`, AppName)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
	}
}
