// Package main provides the capri CLI: one subcommand per pipeline stage.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/capriai/capri-rag/internal/chunk"
	"github.com/capriai/capri-rag/internal/config"
	"github.com/capriai/capri-rag/internal/embedding"
	"github.com/capriai/capri-rag/internal/extract"
	"github.com/capriai/capri-rag/internal/fetch"
	"github.com/capriai/capri-rag/internal/ingest"
	"github.com/capriai/capri-rag/internal/mcpserver"
	"github.com/capriai/capri-rag/internal/retriever"
	"github.com/capriai/capri-rag/internal/snapshot"
	"github.com/capriai/capri-rag/internal/vectordb"
)

var rootCmd = &cobra.Command{
	Use:   "capri",
	Short: "Content pipeline: fetch, diff, extract, chunk, embed, index and query web pages",
	Long: `capri runs a file-based content pipeline stage by stage.

Stages communicate through files on disk:
  fetch    sources.csv        -> raw_data/*.html
  detect   raw_data/*.html    -> changelog.json, .state_hashes.json
  extract  raw_data/*.html    -> extracted/*.txt
  chunk    extracted/*.txt    -> chunks/*.json
  ingest   chunks/*.json      -> embeddings/embeddings.jsonl
  upsert   embeddings.jsonl   -> Qdrant index
  serve    POST /retrieve, /health and MCP at /mcp

Environment variables:
  OPENAI_API_KEY OpenAI API key for embeddings (required for ingest/serve)
  QDRANT_HOST    Qdrant hostname (default: localhost)
  QDRANT_PORT    Qdrant gRPC port (default: 6334)
  QDRANT_API_KEY Qdrant API key (optional)
  CAPRI_INDEX    index name (default: capri-index)`,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch all sources and store raw HTML snapshots",
	RunE:  runFetch,
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect snapshot content changes and update the changelog",
	RunE:  runDetect,
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Strip boilerplate from snapshots into plain text",
	RunE:  runExtract,
}

var chunkCmd = &cobra.Command{
	Use:   "chunk",
	Short: "Split extracted text into overlapping fragments",
	RunE:  runChunk,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Embed fragments and write the embeddings JSONL store",
	RunE:  runIngest,
}

var upsertCmd = &cobra.Command{
	Use:   "upsert",
	Short: "Push embedding records into the Qdrant index",
	RunE:  runUpsert,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the retrieval API and MCP search tool",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(fetchCmd, detectCmd, extractCmd, chunkCmd, ingestCmd, upsertCmd, serveCmd)
}

func main() {
	// Load .env if present (local development), ignore if missing.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	start := time.Now()
	fetcher := fetch.NewFetcher(cfg.RawDir, nil)
	result, err := fetcher.FetchAll(context.Background(), cfg.SourcesFile)
	if err != nil {
		return err
	}

	fmt.Printf("Fetched %d/%d sources in %s\n",
		result.Fetched, result.Total, time.Since(start).Round(time.Second))
	for _, skipped := range result.Skipped {
		fmt.Printf("  skipped %s: %s\n", skipped.URL, skipped.Reason)
	}
	return nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	detector := snapshot.NewDetector(cfg.RawDir, cfg.StateFile, cfg.ChangelogFile, nil)
	entries, err := detector.Run()
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No changes detected")
		return nil
	}
	fmt.Printf("Detected %d changed snapshot(s):\n", len(entries))
	for _, entry := range entries {
		fmt.Printf("  %s\n", entry.File)
	}
	return nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	extractor := extract.NewExtractor(cfg.RawDir, cfg.ExtractedDir, nil)
	result, err := extractor.Run()
	if err != nil {
		return err
	}

	fmt.Printf("Extracted %d/%d snapshots (%d failed)\n",
		result.Extracted, result.Total, result.Failed)
	return nil
}

func runChunk(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	chunker := chunk.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap, nil)
	total, err := chunker.Run(cfg.ExtractedDir, cfg.ChunksDir)
	if err != nil {
		return err
	}

	fmt.Printf("Chunking complete: %d fragments created\n", total)
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	embedder, err := embedding.NewEmbedder(cfg.EmbedBatchSize)
	if err != nil {
		return err
	}

	ingester := ingest.NewIngester(cfg.ChunksDir, cfg.EmbeddingsFile, cfg.EmbedBatchSize, embedder, nil)
	result, err := ingester.Run(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Completed embeddings for %d fragments (%d files, %d skipped)\n",
		result.Records, result.Files, result.SkippedFiles)
	fmt.Printf("Saved to %s\n", cfg.EmbeddingsFile)
	return nil
}

func runUpsert(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()

	fmt.Printf("Connecting to Qdrant at %s:%d...\n", cfg.QdrantHost, cfg.QdrantPort)
	index, err := vectordb.NewIndex(vectordb.Config{
		Host:   cfg.QdrantHost,
		Port:   cfg.QdrantPort,
		APIKey: cfg.QdrantAPIKey,
		UseTLS: cfg.QdrantUseTLS,
		Name:   cfg.IndexName,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer index.Close()

	if err := index.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("failed to ensure index: %w", err)
	}

	records, err := ingest.ReadRecords(cfg.EmbeddingsFile)
	if err != nil {
		return fmt.Errorf("%w (run the ingest stage first)", err)
	}

	points := make([]vectordb.Record, len(records))
	for i, record := range records {
		points[i] = vectordb.Record{
			ID:     record.ID,
			Text:   record.Text,
			Vector: record.Embedding,
		}
	}

	fmt.Printf("Uploading %d vectors to index %q...\n", len(points), cfg.IndexName)
	if err := index.Upsert(ctx, points, cfg.UpsertBatchSize); err != nil {
		return err
	}

	fmt.Println("Index updated successfully")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Cancel on SIGTERM/SIGINT for clean shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	index, err := vectordb.NewIndex(vectordb.Config{
		Host:   cfg.QdrantHost,
		Port:   cfg.QdrantPort,
		APIKey: cfg.QdrantAPIKey,
		UseTLS: cfg.QdrantUseTLS,
		Name:   cfg.IndexName,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer index.Close()

	if err := index.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("failed to ensure index: %w", err)
	}

	embedder, err := embedding.NewEmbedder(cfg.EmbedBatchSize)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()

	retrievalServer := retriever.NewServer(embedder, index, cfg.DefaultTopK, nil)
	retrievalServer.Routes(mux)

	mcpSrv := mcpserver.NewServer(&mcpserver.Config{
		Embedder: embedder,
		Index:    index,
		TopK:     cfg.DefaultTopK,
	})
	mux.Handle("/mcp", mcpSrv.HTTPHandler())

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("Serving retrieval API on %s (retrieve at /retrieve, MCP at /mcp, health at /health)", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}
