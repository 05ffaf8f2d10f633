package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fabfab/docqa/answer"
	"github.com/fabfab/docqa/api"
	"github.com/fabfab/docqa/config"
	"github.com/fabfab/docqa/embeddings"
	"github.com/fabfab/docqa/index"
	"github.com/fabfab/docqa/ingestion"
	"github.com/fabfab/docqa/llm"
	"github.com/fabfab/docqa/state"
	"github.com/fabfab/docqa/storage"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "ingest":
		ingestCmd(cfg, logger, os.Args[2:])
	case "ask":
		askCmd(cfg, logger, os.Args[2:])
	case "remove":
		removeCmd(cfg, logger, os.Args[2:])
	case "stats":
		statsCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// app bundles the long-lived components every command needs.
type app struct {
	store    *state.Store
	indexer  index.Index
	embedder embeddings.Embedder
	ingest   *ingestion.Service
}

func buildApp(ctx context.Context, cfg config.Config, logger *log.Logger) (*app, error) {
	backend, err := storage.NewLocalBackend(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("storage setup: %w", err)
	}

	store := state.NewStore(backend, cfg.Limits.MaxDocuments, logger)
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder setup: %w", err)
	}

	idx, err := index.New(ctx, cfg, backend, logger)
	if err != nil {
		return nil, fmt.Errorf("index setup: %w", err)
	}

	return &app{
		store:    store,
		indexer:  idx,
		embedder: embedder,
		ingest:   ingestion.NewService(store, idx, embedder, backend, cfg, logger),
	}, nil
}

func (a *app) close(ctx context.Context, logger *log.Logger) {
	if err := a.indexer.Close(ctx); err != nil {
		logger.Printf("close index: %v", err)
	}
}

func serveCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.HTTPAddr, "address for the HTTP API to listen on")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	application, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	defer application.close(context.Background(), logger)

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		logger.Fatalf("llm setup: %v", err)
	}

	answers := answer.NewService(application.indexer, application.embedder, llmClient, application.store, cfg, logger)
	server := api.New(application.ingest, answers, application.store, logger)

	logger.Printf("listening on %s (index=%s embeddings=%s/%s llm=%s/%s)",
		*addr, cfg.IndexProvider,
		cfg.Embeddings.Provider, cfg.Embeddings.Model,
		cfg.LLM.Provider, cfg.LLM.Model)

	httpServer := &http.Server{Addr: *addr, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		if err := httpServer.Shutdown(context.Background()); err != nil {
			logger.Printf("shutdown: %v", err)
		}
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("serve: %v", err)
	}
}

func ingestCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ingest flags: %v", err)
	}
	paths := flags.Args()
	if len(paths) == 0 {
		logger.Fatal("ingest needs at least one file path")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	application, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	defer application.close(context.Background(), logger)

	uploads := make([]ingestion.Upload, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			logger.Fatalf("read %s: %v", p, err)
		}
		uploads = append(uploads, ingestion.Upload{Name: filepath.Base(p), Data: data})
	}

	failed := 0
	for _, result := range application.ingest.IngestAll(ctx, uploads) {
		if result.Err != nil {
			failed++
			fmt.Printf("FAILED %s: %v\n", result.Name, result.Err)
			continue
		}
		fmt.Printf("OK %s: %d chunks (id %s)\n", result.Name, result.Document.ChunkCount, result.Document.ID)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func askCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ask", flag.ExitOnError)
	question := flags.String("question", "", "question to ask about the uploaded documents")
	session := flags.String("session", "cli", "session id for conversation history")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ask flags: %v", err)
	}

	if strings.TrimSpace(*question) == "" {
		fmt.Print("Enter your question: ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			*question = scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Fatalf("read question: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	application, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	defer application.close(context.Background(), logger)

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		logger.Fatalf("llm setup: %v", err)
	}

	answers := answer.NewService(application.indexer, application.embedder, llmClient, application.store, cfg, logger)

	result, err := answers.Ask(ctx, *session, *question)
	if err != nil {
		logger.Fatalf("ask failed: %v", err)
	}

	if result.Refused() {
		fmt.Println(result.Refusal)
		return
	}

	fmt.Println(result.Answer)
	if len(result.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for i, source := range result.Sources {
			fmt.Printf("%d. %s (distance %.3f)\n", i+1, source.ChunkID, source.Distance)
		}
	}
}

func removeCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("remove", flag.ExitOnError)
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse remove flags: %v", err)
	}
	if flags.NArg() != 1 {
		logger.Fatal("remove needs exactly one document id")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	application, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	defer application.close(context.Background(), logger)

	doc, found, err := application.ingest.Remove(ctx, flags.Arg(0))
	if err != nil {
		logger.Fatalf("remove failed: %v", err)
	}
	if !found {
		logger.Fatalf("document %s not found", flags.Arg(0))
	}
	fmt.Printf("removed %s (%d chunks)\n", doc.OriginalName, doc.ChunkCount)
}

func statsCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("stats", flag.ExitOnError)
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse stats flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	application, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	defer application.close(context.Background(), logger)

	stats := application.store.Stats()
	fmt.Printf("documents: %d\n", stats.DocumentCount)
	fmt.Printf("conversations: %d\n", stats.ConversationCount)
	for _, doc := range application.store.ListDocuments() {
		fmt.Printf("  %s  %-30s %s  %d chunks  %d bytes\n",
			doc.ID, doc.OriginalName, doc.SourceType, doc.ChunkCount, doc.ByteSize)
	}
}

func printUsage() {
	fmt.Println("Usage: docqa <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve    Run the HTTP API")
	fmt.Println("  ingest   Upload one or more documents (pdf, docx, txt)")
	fmt.Println("  ask      Ask a question about the uploaded documents")
	fmt.Println("  remove   Delete a document and its chunks by id")
	fmt.Println("  stats    Show document and conversation counters")
}
