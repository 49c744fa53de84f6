// Package main is the Kotae CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/kotae/internal/answer"
	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/conversation"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kotae/config.yaml"
	defaultServerURL  = "http://localhost:8000"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory so "kotae server" from a project dir uses
// the project's config. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	config.LoadDotEnv()
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
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
	case "ask":
		runAsk()
	case "search":
		runSearch()
	case "index":
		runIndex()
	case "delete":
		runDelete()
	case "documents":
		runDocuments()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// setup loads config and builds a logger for commands that run the pipeline in-process.
func setup(configPath string, debugFlag bool) (*config.Config, string, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	cfg.Debug = cfg.Debug || debugFlag
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	return cfg, resolved, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (state transitions, file indexing, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger := setup(*configPath, *debug)
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug),
		zap.String("vector_store", cfg.Vector.Type),
		zap.String("llm_provider", cfg.LLM.Provider))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close(logger)

	watchOpts := []watcher.Option{}
	if cfg.Debug {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.NewWatcher(
		cfg.Watch.Directories,
		cfg.Documents.SupportedExtensions,
		cfg.Watch.RecursiveOrDefault(),
		components.Indexer,
		watchOpts...,
	)
	if err := watchSvc.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(server.Services{
		Indexer:      components.Indexer,
		Retriever:    components.Retriever,
		Orchestrator: components.Orchestrator,
		Index:        components.Index,
		Registry:     components.Registry,
		Generator:    components.Generator,
	}, cfg, logger, server.WithWatch(watchSvc, resolvedConfigPath), server.WithVersion(version))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", zap.Error(err))
		}
	}

	logger.Info("Shutting down...")
	watchSvc.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

// buildQuery joins positional args so multi-word queries work with or without quotes.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves flags that appear after the query to the front so flag.Parse
// sees them; the flag package stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func parseFormat(s string) cli.OutputFormat {
	f, err := cli.ParseFormat(s)
	if err != nil {
		fatalf("%v", err)
	}
	return f
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = run the pipeline in-process)")
	conversationID := fs.String("conversation", "", "continue an existing conversation")
	output := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	query := buildQuery(fs.Args())
	if query == "" {
		fmt.Println("Usage: kotae ask [flags] <question>")
		os.Exit(1)
	}
	format := parseFormat(*output)
	req := &models.ChatRequest{Query: query, ConversationID: *conversationID}

	var resp models.ChatResponse
	if *serverURL != "" {
		if err := newAPIClient(*serverURL).postJSON("/chat", req, &resp); err != nil {
			fatalf("Ask failed: %v", err)
		}
	} else {
		cfg, _, logger := setup(*configPath, false)
		defer logger.Sync()
		ctx := context.Background()
		components, err := initializeComponents(ctx, cfg, logger, true)
		if err != nil {
			fatalf("Failed to initialize: %v", err)
		}
		defer components.Close(logger)
		out, err := components.Orchestrator.Answer(ctx, req)
		if err != nil {
			fatalf("Ask failed: %v", err)
		}
		resp = *out
	}
	if err := cli.WriteAnswer(os.Stdout, &resp, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = run retrieval in-process)")
	topK := fs.Int("top-k", 0, "number of results (default from config)")
	output := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	query := buildQuery(fs.Args())
	if query == "" {
		fmt.Println("Usage: kotae search [flags] <query>")
		os.Exit(1)
	}
	format := parseFormat(*output)
	req := &models.SearchRequest{Query: query, TopK: *topK}

	var resp models.SearchResponse
	if *serverURL != "" {
		if err := newAPIClient(*serverURL).postJSON("/search", req, &resp); err != nil {
			fatalf("Search failed: %v", err)
		}
	} else {
		cfg, _, logger := setup(*configPath, false)
		defer logger.Sync()
		ctx := context.Background()
		components, err := initializeComponents(ctx, cfg, logger, false)
		if err != nil {
			fatalf("Failed to initialize: %v", err)
		}
		defer components.Close(logger)
		if err := req.Validate(cfg.RAG.TopK); err != nil {
			fatalf("Search failed: %v", err)
		}
		out, err := components.Retriever.Run(ctx, req, cfg.RAG.SimilarityThreshold)
		if err != nil {
			fatalf("Search failed: %v", err)
		}
		resp = *out
	}
	if err := cli.WriteSearchResults(os.Stdout, &resp, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "upload a single file to a running server instead of indexing in-process")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kotae index [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)
	info, err := os.Stat(path)
	if err != nil {
		fatalf("Failed to stat path: %v", err)
	}

	if *serverURL != "" {
		if info.IsDir() {
			fatalf("Uploading directories is not supported; index them in-process or add them to watch.directories")
		}
		resp, err := newAPIClient(*serverURL).upload(path)
		if err != nil {
			fatalf("Upload failed: %v", err)
		}
		fmt.Printf("%s (%s)\n", resp.Message, resp.DocumentID)
		return
	}

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	err = withComponents(context.Background(), cfg, logger, func(ctx context.Context, c *Components) error {
		if info.IsDir() {
			n, err := c.Indexer.IndexDirectory(ctx, path)
			if n > 0 {
				fmt.Printf("Indexed %d file(s) from %s\n", n, path)
			}
			if err != nil {
				return fmt.Errorf("indexing directory failed: %w", err)
			}
			return nil
		}
		if err := c.Indexer.IndexFile(ctx, path); err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}
		absPath, _ := filepath.Abs(path)
		fmt.Printf("Document indexed successfully: %s\n", fileid.FileDocID(absPath))
		return nil
	})
	if err != nil {
		fatalf("%v", err)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "delete through a running server instead of in-process")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kotae delete [flags] <document-id>")
		os.Exit(1)
	}
	docID := fs.Arg(0)

	if *serverURL != "" {
		if err := newAPIClient(*serverURL).do(http.MethodDelete, "/documents/"+url.PathEscape(docID), nil, "", nil); err != nil {
			fatalf("Deletion failed: %v", err)
		}
		fmt.Printf("Document deleted: %s\n", docID)
		return
	}

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	err := withComponents(context.Background(), cfg, logger, func(ctx context.Context, c *Components) error {
		if err := c.Indexer.DeleteDocument(ctx, docID); err != nil {
			return fmt.Errorf("deletion failed: %w", err)
		}
		return nil
	})
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Document deleted: %s\n", docID)
}

func runDocuments() {
	fs := flag.NewFlagSet("documents", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read the registry directly)")
	output := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*output)

	var docs []*models.DocumentInfo
	if *serverURL != "" {
		var list models.DocumentList
		if err := newAPIClient(*serverURL).do(http.MethodGet, "/documents", nil, "", &list); err != nil {
			fatalf("List failed: %v", err)
		}
		docs = list.Documents
	} else {
		cfg, _, logger := setup(*configPath, false)
		defer logger.Sync()
		ctx := context.Background()
		components, err := initializeComponents(ctx, cfg, logger, false)
		if err != nil {
			fatalf("Failed to initialize: %v", err)
		}
		defer components.Close(logger)
		docs, err = components.Indexer.ListDocuments(ctx)
		if err != nil {
			fatalf("List failed: %v", err)
		}
	}
	if err := cli.WriteDocuments(os.Stdout, docs, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read storage directly)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*output)

	var status server.StatusResponse
	if *serverURL != "" {
		if err := newAPIClient(*serverURL).do(http.MethodGet, "/status", nil, "", &status); err != nil {
			fatalf("Status failed: %v", err)
		}
	} else {
		cfg, _, logger := setup(*configPath, false)
		defer logger.Sync()
		ctx := context.Background()
		components, err := initializeComponents(ctx, cfg, logger, false)
		if err != nil {
			fatalf("Failed to initialize: %v", err)
		}
		defer components.Close(logger)
		res, err := server.Status(ctx, components.Index, components.Registry, cfg)
		if err != nil {
			fatalf("Status failed: %v", err)
		}
		status = *res
	}
	if err := cli.WriteStatus(os.Stdout, &status, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

// apiClient talks to a running Kotae server.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *apiClient) postJSON(path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(http.MethodPost, path, bytes.NewReader(body), "application/json", out)
}

func (c *apiClient) upload(path string) (*models.UploadResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	var resp models.UploadResponse
	if err := c.do(http.MethodPost, "/upload", &buf, mw.FormDataContentType(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) do(method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		b, _ := io.ReadAll(resp.Body)
		var envelope server.ErrorResponse
		if json.Unmarshal(b, &envelope) == nil && envelope.Error != "" {
			if envelope.Detail != "" {
				return fmt.Errorf("server returned %d: %s: %s", resp.StatusCode, envelope.Error, envelope.Detail)
			}
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, envelope.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Components holds initialized services.
type Components struct {
	Registry     storage.Registry
	Embedder     embedding.Embedder
	Index        vector.Index
	History      conversation.Store
	Generator    llm.Generator
	Indexer      *indexer.Indexer
	Retriever    *search.Retriever
	Orchestrator *answer.Orchestrator
}

// Close releases every opened backend. The memory index writes its snapshot here.
func (c *Components) Close(logger *zap.Logger) {
	closers := []struct {
		name string
		fn   func() error
	}{
		{"vector index", closerOf(c.Index)},
		{"registry", closerOf(c.Registry)},
		{"conversations", closerOf(c.History)},
		{"embedder", closerOf(c.Embedder)},
	}
	for _, cl := range closers {
		if cl.fn == nil {
			continue
		}
		if err := cl.fn(); err != nil && logger != nil {
			logger.Warn("close failed", zap.String("component", cl.name), zap.Error(err))
		}
	}
}

func closerOf(c interface{ Close() error }) func() error {
	if c == nil {
		return nil
	}
	return c.Close
}

// initializeComponents builds the pipeline from cfg. The generator is only
// created when withGenerator is set, so index and status commands work without
// model credentials.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, withGenerator bool) (_ *Components, err error) {
	c := &Components{}
	defer func() {
		if err != nil {
			c.Close(logger)
		}
	}()

	c.Registry, err = storage.NewRegistry(&cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize registry: %w", err)
	}
	c.Embedder, err = embedding.New(ctx, &cfg.Embedding, cfg.GoogleAPIKey, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Index, err = vector.NewIndex(ctx, &cfg.Vector, c.Embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	logger.Info("vector index initialized", zap.String("type", cfg.Vector.Type), zap.Int("dimensions", c.Embedder.Dimensions()))

	idxOpts := []indexer.IndexerOption{}
	retOpts := []search.RetrieverOption{}
	if cfg.Debug {
		idxOpts = append(idxOpts, indexer.WithLogger(logger))
		retOpts = append(retOpts, search.WithLogger(logger))
	}
	c.Indexer = indexer.NewIndexer(c.Registry, c.Embedder, c.Index, extract.NewExtractor(), &cfg.Documents, idxOpts...)
	c.Retriever = search.NewRetriever(c.Embedder, c.Index, retOpts...)

	if !withGenerator {
		return c, nil
	}
	c.History, err = conversation.NewStore(&cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize conversation store: %w", err)
	}
	c.Generator, err = llm.New(ctx, &cfg.LLM, cfg.GoogleAPIKey, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generator: %w", err)
	}
	c.Orchestrator = answer.NewOrchestrator(c.Retriever, c.Generator, c.History, &cfg.RAG,
		answer.WithLogger(logger),
		answer.WithGenerationTimeout(cfg.LLM.Timeout))
	return c, nil
}

// withComponents builds the pipeline without a generator, runs fn, and closes every
// backend before returning, so work done before a failure is still flushed.
func withComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, fn func(context.Context, *Components) error) error {
	c, err := initializeComponents(ctx, cfg, logger, false)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer c.Close(logger)
	return fn(ctx, c)
}

func printUsage() {
	fmt.Println(`kotae - Answers grounded in your own documents

Usage:
  kotae server [flags]              Start the HTTP server
  kotae ask [flags] <question>      Ask a question and get a cited answer
  kotae search [flags] <query>      Show matching passages without generating an answer
  kotae index [flags] <path>        Index a file or directory
  kotae delete [flags] <id>         Delete a document
  kotae documents [flags]           List indexed documents
  kotae status [flags]              Show index/registry status
  kotae version                     Show version
  kotae help                        Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/kotae/config.yaml, or ./config.yaml when present)
  --server string    Server URL for ask, search, documents, status (default: http://localhost:8000).
                     Use --server "" to run in-process against the configured storage.
  --output string    Output format: text, compact, or json

Server Flags:
  --debug            Enable debug logging

Ask Flags:
  --conversation string   Continue an existing conversation id

Search Flags:
  --top-k int        Number of results (default from config)

Examples:
  kotae server
  kotae index ~/papers
  kotae ask "What did the thesis conclude about consensus latency?"
  kotae ask --conversation conv_1a2b3c4d5e6f "And what about partitions?"
  kotae search --top-k 10 replicated logs
  kotae documents --output json
  kotae delete 3f2a9c0d1e4b5a6c`)
}
