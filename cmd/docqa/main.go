package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/docstore"
	"docqa/internal/embedding/openai"
	"docqa/internal/extract"
	"docqa/internal/llm"
	"docqa/internal/pipeline"
	"docqa/internal/rag"
	"docqa/internal/retriever"
	"docqa/internal/tui"
	"docqa/internal/vectorstore"
	"docqa/internal/vectorstore/memory"
	"docqa/internal/vectorstore/qdrant"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "Path to YAML config file")
	flag.Parse()
	inputs := flag.Args()

	logFile, err := os.OpenFile("docqa.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("open log file: %v", err)
	}
	defer logFile.Close()
	logger := slog.New(slog.NewTextHandler(logFile, nil))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	embedder, err := openai.NewClient(openai.Config{
		BaseURL:        cfg.Embedding.BaseURL,
		APIKeyEnv:      cfg.Embedding.APIKeyEnv,
		Model:          cfg.Embedding.Model,
		Dimensions:     cfg.Embedding.Dimensions,
		BatchSize:      cfg.Embedding.BatchSize,
		MaxConcurrency: cfg.Embedding.MaxConcurrency,
		MaxRetries:     cfg.Embedding.MaxRetries,
		Timeout:        time.Duration(cfg.Embedding.TimeoutSecs) * time.Second,
	}, logger)
	if err != nil {
		log.Fatalf("embedding client init failed: %v", err)
	}

	var vectors vectorstore.Storage
	switch cfg.VectorStore.Type {
	case "memory", "":
		vectors = memory.NewStorage()
	case "qdrant":
		vectors, err = qdrant.NewStorage(qdrant.Config{
			Host:       cfg.VectorStore.Qdrant.Host,
			Port:       cfg.VectorStore.Qdrant.Port,
			APIKey:     cfg.VectorStore.Qdrant.APIKey,
			Collection: cfg.VectorStore.Qdrant.Collection,
		}, logger)
		if err != nil {
			log.Fatalf("qdrant init failed: %v", err)
		}
	default:
		log.Fatalf("unknown vector store: %s", cfg.VectorStore.Type)
	}
	defer vectors.Close()

	ctx := context.Background()
	if err := vectors.Init(ctx, cfg.Embedding.Dimensions); err != nil {
		log.Fatalf("vector store init failed: %v", err)
	}

	docs, err := docstore.Open(cfg.DocStore.Path)
	if err != nil {
		log.Fatalf("doc store init failed: %v", err)
	}
	defer docs.Close()

	chunk, err := chunker.NewWindowChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		log.Fatalf("chunker init failed: %v", err)
	}

	extractor := extract.New(cfg.Ingest.AllowedFileTypes)
	pipe := pipeline.New(extractor, chunk, embedder, vectors, docs,
		cfg.Ingest.MaxFileSizeMB*1024*1024, logger)

	for _, path := range inputs {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("read %s: %v", path, err)
		}
		doc, err := pipe.Ingest(ctx, filepath.Base(path), raw)
		if err != nil {
			log.Fatalf("ingest %s: %v", path, err)
		}
		fmt.Printf("ingested %s (%s)\n", doc.Filename, doc.Status)
	}

	completer, err := llm.NewClient(llm.Config{
		BaseURL:     cfg.Generation.BaseURL,
		APIKeyEnv:   cfg.Generation.APIKeyEnv,
		Model:       cfg.Generation.Model,
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
		Timeout:     time.Duration(cfg.Generation.TimeoutSecs) * time.Second,
	}, logger)
	if err != nil {
		log.Fatalf("completion client init failed: %v", err)
	}

	search := retriever.New(embedder, vectors, docs,
		cfg.Retrieval.TopK, cfg.Retrieval.SimilarityThreshold, logger)
	orchestrator := rag.NewOrchestrator(search, completer, docs,
		cfg.Generation.MaxContextChars, logger)
	registry := rag.NewRegistry(
		&rag.KnowledgeSearch{Search: search},
		&rag.DocumentInfo{Docs: docs},
	)

	m := tui.New(orchestrator, registry)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		log.Fatal(err)
	}
}
