// Package ingest reads fragment files, generates embeddings in batches and
// appends embedding records to the JSONL output store.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Item is an (id, text) pair extracted from a fragment file.
type Item struct {
	ID   string
	Text string
}

// Record is one embedding record in the JSONL output store.
type Record struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

// Embedder turns a batch of texts into vectors, in input order.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Result contains statistics about an ingest run.
type Result struct {
	Files        int
	SkippedFiles int
	Items        int
	Records      int
}

// Ingester orchestrates the fragment -> embedding -> JSONL flow.
type Ingester struct {
	chunksDir string
	outFile   string
	batchSize int
	embedder  Embedder
	logger    *slog.Logger
}

// NewIngester creates an ingester reading fragments from chunksDir and
// appending records to outFile. If batchSize is 0 a batch of 16 is used.
func NewIngester(chunksDir, outFile string, batchSize int, embedder Embedder, logger *slog.Logger) *Ingester {
	if batchSize <= 0 {
		batchSize = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		chunksDir: chunksDir,
		outFile:   outFile,
		batchSize: batchSize,
		embedder:  embedder,
		logger:    logger,
	}
}

// Run discovers fragment files, embeds their texts batch by batch and
// writes one record per item. Each batch is flushed as soon as it succeeds:
// if a later batch fails the run aborts but completed batches stay in the
// output file.
func (ing *Ingester) Run(ctx context.Context) (*Result, error) {
	files, err := filepath.Glob(filepath.Join(ing.chunksDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list fragment files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no fragment files found in %s: run the chunk stage first", ing.chunksDir)
	}
	sort.Strings(files)

	result := &Result{Files: len(files)}

	var items []Item
	for _, path := range files {
		fileItems, err := ParseFragmentFile(path)
		if err != nil {
			ing.logger.Warn("Cannot parse fragment file, skipping", "path", path, "error", err)
			result.SkippedFiles++
			continue
		}
		items = append(items, fileItems...)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no text fragments could be read from %s", ing.chunksDir)
	}
	result.Items = len(items)

	if err := os.MkdirAll(filepath.Dir(ing.outFile), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	out, err := os.Create(ing.outFile)
	if err != nil {
		return nil, fmt.Errorf("create embeddings file: %w", err)
	}
	defer out.Close()
	writer := bufio.NewWriter(out)

	ing.logger.Info("Creating embeddings", "items", len(items), "batch_size", ing.batchSize)

	for i := 0; i < len(items); i += ing.batchSize {
		end := min(i+ing.batchSize, len(items))
		batch := items[i:end]

		texts := make([]string, len(batch))
		for j, item := range batch {
			texts[j] = item.Text
		}

		vectors, err := ing.embedder.GenerateEmbeddings(ctx, texts)
		if err != nil {
			return result, fmt.Errorf("embed batch %d-%d: %w", i, end, err)
		}
		if len(vectors) != len(batch) {
			return result, fmt.Errorf("embed batch %d-%d: got %d vectors for %d texts", i, end, len(vectors), len(batch))
		}

		for j, item := range batch {
			record := Record{ID: item.ID, Text: item.Text, Embedding: vectors[j]}
			line, err := json.Marshal(record)
			if err != nil {
				return result, fmt.Errorf("encode record %s: %w", item.ID, err)
			}
			if _, err := writer.Write(append(line, '\n')); err != nil {
				return result, fmt.Errorf("write record %s: %w", item.ID, err)
			}
			result.Records++
		}
		if err := writer.Flush(); err != nil {
			return result, fmt.Errorf("flush embeddings file: %w", err)
		}
		ing.logger.Debug("Flushed batch", "from", i, "to", end)
	}

	ing.logger.Info("Ingest complete", "records", result.Records, "file", ing.outFile)
	return result, nil
}

// ParseFragmentFile extracts (id, text) items from one fragment file.
// Recognized shapes, tried in order: an object holding a "chunks" list, a
// single text-bearing object, a raw list of objects, and finally
// line-delimited JSON objects. Objects without a recognized text field are
// skipped silently; a file that matches no shape returns an error.
func ParseFragmentFile(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		// Fall back to line-delimited JSON.
		list, lineErr := parseLines(data)
		if lineErr != nil {
			return nil, fmt.Errorf("not valid JSON or JSONL: %w", err)
		}
		raw = list
	}

	switch v := raw.(type) {
	case map[string]any:
		if chunks, ok := v["chunks"].([]any); ok {
			return itemsFromList(chunks, stem), nil
		}
		if item, ok := itemFromObject(v, stem); ok {
			return []Item{item}, nil
		}
		return nil, nil
	case []any:
		return itemsFromList(v, stem), nil
	default:
		return nil, fmt.Errorf("unsupported JSON shape %T", raw)
	}
}

func parseLines(data []byte) ([]any, error) {
	var list []any
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var obj any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			return nil, err
		}
		list = append(list, obj)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	return list, nil
}

func itemsFromList(list []any, stem string) []Item {
	var items []Item
	for _, elem := range list {
		obj, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		fallbackID := fmt.Sprintf("%s_%d", stem, len(items))
		if item, ok := itemFromObject(obj, fallbackID); ok {
			items = append(items, item)
		}
	}
	return items
}

// itemFromObject extracts one item from an object. Text keys are tried in
// fixed priority order; objects without any text field are skipped.
func itemFromObject(obj map[string]any, fallbackID string) (Item, bool) {
	text := firstString(obj, "text", "content", "body", "page_text")
	if text == "" {
		return Item{}, false
	}
	id := firstString(obj, "id", "url")
	if id == "" {
		id = fallbackID
	}
	return Item{ID: id, Text: text}, true
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
