// Package main is the vecindex CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/vecindex/internal/cli"
	"github.com/hyperjump/vecindex/internal/config"
	"github.com/hyperjump/vecindex/internal/inbox"
	"github.com/hyperjump/vecindex/internal/index"
	"github.com/hyperjump/vecindex/internal/models"
	"github.com/hyperjump/vecindex/internal/search"
	"github.com/hyperjump/vecindex/internal/server"
	"github.com/hyperjump/vecindex/internal/storage"
	"github.com/hyperjump/vecindex/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/vecindex/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// When neither exists the config comes from defaults and VECINDEX_* variables only.
// Returns the config and the path that was actually loaded ("" for environment only).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, cfg.Validate()
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg, err := config.FromEnv()
			if err != nil {
				return nil, "", err
			}
			return cfg, "", cfg.Validate()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, cfg.Validate()
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "stats":
		runStats()
	case "documents":
		runDocuments()
	case "delete":
		runDelete()
	case "import":
		runImport()
	case "export":
		runExport()
	case "version", "--version", "-v":
		fmt.Printf("vecindex version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (requests, inserts, inbox files)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("debug", debugMode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	var box *inbox.Inbox
	if cfg.Inbox.Directory != "" {
		box = inbox.New(cfg.Inbox.Directory, components.Index,
			inbox.WithLogger(logger),
			inbox.WithDebounce(time.Duration(cfg.Inbox.DebounceMs)*time.Millisecond),
		)
		if err := box.Start(ctx); err != nil {
			logger.Fatal("Failed to start inbox", zap.Error(err))
		}
		n, err := box.Sync(ctx)
		if err != nil {
			logger.Warn("inbox sync failed", zap.Error(err))
		}
		logger.Info("inbox ready", zap.String("dir", box.Dir()), zap.Int("applied", n))
	}

	srv := server.NewServer(components.Index, components.Engine, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if box != nil {
		box.Stop()
	}
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: vecindex search [flags] <vector>\n\n")
	fmt.Fprintf(fs.Output(), "The query vector is all remaining arguments, separated by commas or spaces, brackets optional.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Scope:
  • --document restricts the search to one document (dimension mismatch is an error).
  • --documents searches a comma-separated subset; mismatched documents are skipped.
  • With neither, every document is searched.

Examples:
  vecindex search 0.6,0.8
  vecindex search "[0.6, 0.8]" --top-k 3
  vecindex search --document report-7 --threshold 0.5 0.6 0.8
  vecindex search --normalize --output json 3 4
`)
}

// buildQueryVector parses all positional args as one vector, so "0.1 0.2" and "0.1,0.2"
// behave the same with or without quoting. With normalize the vector is scaled to unit norm.
func buildQueryVector(args []string, normalize bool) ([]float32, error) {
	v, err := utils.ParseVector(strings.Join(args, " "))
	if err != nil {
		return nil, err
	}
	if normalize {
		if utils.NormalizeL2(v) == 0 {
			return nil, errors.New("cannot normalize a zero vector")
		}
	}
	return v, nil
}

// splitIDs splits a comma-separated id list, dropping blanks.
func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// searchConfigPathFromArgs returns the value of -config/--config from args if present, else defaultPath.
func searchConfigPathFromArgs(args []string, defaultPath string) string {
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultPath
}

// searchDefaultsFromConfig loads config at path and returns the default top_k and
// similarity threshold. On load failure, returns 5 and 0.
func searchDefaultsFromConfig(path string) (topK int, threshold float64) {
	topK, threshold = 5, 0
	cfg, _, err := loadConfig(path)
	if err != nil || cfg == nil {
		return topK, threshold
	}
	return cfg.Search.DefaultTopK, cfg.Search.DefaultThreshold
}

// searchBoolFlags take no value argument.
var searchBoolFlags = map[string]bool{"normalize": true, "include-vectors": true}

// searchArgsReorder moves every flag (and its value) to the front of the slice and the
// vector components after a "--" so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "vecindex search 0.6,0.8 -top-k 3" would
// otherwise leave -top-k unparsed, and it would reject a negative component such as
// "-0.5" as an unknown flag.
func searchArgsReorder(args []string) []string {
	var flags, rest []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			rest = append(rest, args[i+1:]...)
			break
		}
		if !isFlagArg(a) {
			rest = append(rest, a)
			continue
		}
		flags = append(flags, a)
		name := strings.TrimLeft(a, "-")
		if strings.Contains(name, "=") || searchBoolFlags[name] {
			continue
		}
		if i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return append(append(flags, "--"), rest...)
}

// isFlagArg reports whether a looks like a flag rather than a number.
func isFlagArg(a string) bool {
	if len(a) < 2 || a[0] != '-' {
		return false
	}
	c := strings.TrimLeft(a, "-")
	if c == "" {
		return false
	}
	return c[0] != '.' && (c[0] < '0' || c[0] > '9')
}

func runSearch() {
	searchArgs := searchArgsReorder(os.Args[2:])
	configPath := searchConfigPathFromArgs(searchArgs, defaultConfigPath)
	defaultTopK, defaultThreshold := searchDefaultsFromConfig(configPath)

	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPathFlag := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the store directly when the server is not running)")
	document := fs.String("document", "", "search only this document")
	documents := fs.String("documents", "", "comma-separated documents to search")
	topK := fs.Int("top-k", defaultTopK, "number of results")
	threshold := fs.Float64("threshold", defaultThreshold, "minimum similarity score")
	normalize := fs.Bool("normalize", false, "scale the query vector to unit length first")
	includeVectors := fs.Bool("include-vectors", false, "include stored vectors in results")
	outputFormat := fs.String("output", "text", "output format: text (human-readable), compact (one result per line), or json (parseable)")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgs)

	if fs.NArg() < 1 {
		printSearchUsage(fs)
		os.Exit(1)
	}
	vec, err := buildQueryVector(fs.Args(), *normalize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid query vector: %v\n", err)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	query := &models.SearchQuery{
		QueryVector:         vec,
		DocumentID:          *document,
		DocumentIDs:         splitIDs(*documents),
		TopK:                *topK,
		SimilarityThreshold: *threshold,
		IncludeVectors:      *includeVectors,
	}

	ctx := context.Background()
	var response *models.SearchResponse
	if *serverURL != "" {
		response, err = cli.NewClient(*serverURL).Search(ctx, query)
	} else {
		components := openDirect(*configPathFlag)
		defer components.Close()
		response, err = components.Engine.Search(ctx, query)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the store directly)")
	outputFormat := fs.String("output", "text", "output format: text, compact or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var stats models.Stats
	if *serverURL != "" {
		stats, err = cli.NewClient(*serverURL).Stats(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		components := openDirect(*configPath)
		defer components.Close()
		stats = components.Index.Stats()
	}
	if err := cli.WriteStats(os.Stdout, stats, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runDocuments() {
	fs := flag.NewFlagSet("documents", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the store directly)")
	outputFormat := fs.String("output", "text", "output format: text, compact or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var docs []models.DocumentInfo
	if *serverURL != "" {
		docs, err = cli.NewClient(*serverURL).Documents(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Listing documents failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		components := openDirect(*configPath)
		defer components.Close()
		docs = components.Index.Documents()
	}
	if err := cli.WriteDocuments(os.Stdout, docs, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the store directly)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: vecindex delete [flags] <document-id>")
		os.Exit(1)
	}
	docID := fs.Arg(0)

	var removed int
	var err error
	if *serverURL != "" {
		removed, err = cli.NewClient(*serverURL).DeleteDocument(context.Background(), docID)
	} else {
		components := openDirect(*configPath)
		defer components.Close()
		removed, err = components.Index.DeleteDocument(context.Background(), docID)
	}
	if err != nil {
		fmt.Printf("Deletion failed: %v\n", err)
		os.Exit(1)
	}
	if removed == 0 {
		fmt.Printf("Document not indexed: %s\n", docID)
		return
	}
	fmt.Printf("Document deleted: %s (%d vectors)\n", docID, removed)
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	force := fs.Bool("force", false, "import even though a server answers on the configured address")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: vecindex import [flags] <snapshot.json>")
		os.Exit(1)
	}
	cfg, logger := loadCLIConfig(*configPath)
	defer logger.Sync()

	ctx := context.Background()
	if !*force && serverRunning(ctx, configuredServerURL(cfg)) {
		fmt.Printf("A vecindex server is running at %s; stop it before importing (or pass --force).\n", configuredServerURL(cfg))
		fmt.Println("A running server keeps its own copy of the index and would not see the imported documents.")
		os.Exit(1)
	}
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		fmt.Printf("Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	n, err := storage.Import(ctx, store, fs.Arg(0))
	if err != nil {
		fmt.Printf("Import failed after %d document(s): %v\n", n, err)
		os.Exit(1)
	}
	logger.Debug("import finished", zap.String("path", fs.Arg(0)), zap.Int("documents", n))
	fmt.Printf("Imported %d document(s) into the %s store\n", n, cfg.Storage.Backend)
}

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: vecindex export [flags] <snapshot.json>")
		os.Exit(1)
	}
	cfg, logger := loadCLIConfig(*configPath)
	defer logger.Sync()

	ctx := context.Background()
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		fmt.Printf("Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	snap, err := storage.Export(ctx, store, fs.Arg(0))
	if err != nil {
		fmt.Printf("Export failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Exported %d document(s), %d vector(s) to %s\n", len(snap.Documents), snap.TotalVectors(), fs.Arg(0))
}

// configuredServerURL is the address the configured server listens on.
func configuredServerURL(cfg *config.Config) string {
	return "http://" + net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
}

// serverRunning reports whether a vecindex server answers at url.
func serverRunning(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := cli.NewClient(url).Stats(ctx)
	return err == nil
}

// Components holds initialized services.
type Components struct {
	Index  *index.Manager
	Engine *search.Engine
}

func (c *Components) Close() {
	if c.Index != nil {
		_ = c.Index.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	mgr, err := index.Open(ctx, store,
		index.WithLogger(logger),
		index.WithNormEpsilon(cfg.Index.NormEpsilon),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	engine := search.NewEngine(mgr,
		search.WithLogger(logger),
		search.WithMaxTopK(cfg.Search.MaxTopK),
		search.WithParallelism(cfg.Search.Parallelism),
		search.WithNormEpsilon(cfg.Index.NormEpsilon),
	)
	return &Components{Index: mgr, Engine: engine}, nil
}

// loadCLIConfig loads config for a one-shot command and returns it with a stderr logger,
// exiting on failure.
func loadCLIConfig(path string) (*config.Config, *zap.Logger) {
	cfg, _, err := loadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewCLILogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, logger
}

// openDirect opens the configured store in-process for commands run with --server "".
// Another process writing the same store is not seen until the next open.
func openDirect(configPath string) *Components {
	cfg, logger := loadCLIConfig(configPath)
	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return components
}

func printUsage() {
	fmt.Println(`vecindex - Exact vector similarity search engine

Usage:
  vecindex server [flags]             Start the HTTP server
  vecindex search [flags] <vector>    Search for the nearest vectors
  vecindex stats [flags]              Show index statistics
  vecindex documents [flags]          List indexed documents
  vecindex delete [flags] <id>        Delete a document
  vecindex import [flags] <file>      Load a snapshot file into the configured store
  vecindex export [flags] <file>      Write the configured store to a snapshot file
  vecindex version                    Show version
  vecindex help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/vecindex/config.yaml)
  --debug            Enable debug logging

Search Flags:
  --config string       Config file path (for direct mode; also used for default top-k and threshold)
  --server string       Server URL (default: http://localhost:8080). Use empty (--server "") to open the store directly.
  --document string     Search one document
  --documents string    Search a comma-separated set of documents
  --top-k int           Number of results (default from config, or 5)
  --threshold float     Minimum similarity score (default from config, or 0)
  --normalize           Scale the query vector to unit length
  --include-vectors     Include stored vectors in results
  --output string       Output format: text, compact or json (default: text)

Stats / Documents / Delete Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") to open the store directly.
  --output string    Output format: text, compact or json (stats and documents only)

Import / Export Flags:
  --config string    Config file path
  --force            Import even when a server answers on the configured address (import only)

  Import writes the configured store directly. Stop the server first: a running server
  does not see imported documents, and with the file backend its next write fails
  until it is restarted.

Examples:
  vecindex server
  vecindex search 0.6,0.8
  vecindex search --document report-7 --top-k 3 "[0.6, 0.8]"
  vecindex search --output json --normalize 3 4
  vecindex stats --output json
  vecindex documents --server ""
  vecindex delete report-7
  vecindex export backup.json
  vecindex import --config ./sqlite.yaml backup.json`)
}
