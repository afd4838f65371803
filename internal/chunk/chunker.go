// Package chunk splits normalized text documents into overlapping
// fixed-size fragments ready for embedding.
package chunk

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Fragment is one overlapping slice of a source document with a stable,
// globally addressable identity.
type Fragment struct {
	ChunkID     string `json:"chunk_id"`
	Source      string `json:"source"`
	ChunkIndex  int    `json:"chunk_index"`
	GeneratedAt string `json:"generated_at"`
	Text        string `json:"text"`
}

// FragmentID builds the identity string for a fragment of a source document.
func FragmentID(source string, index int) string {
	return fmt.Sprintf("%s__chunk%d", source, index)
}

// Chunker slices text into windows of size characters overlapping by
// overlap characters.
type Chunker struct {
	size    int
	overlap int
	logger  *slog.Logger

	now func() time.Time
}

// NewChunker creates a chunker with the given window size and overlap.
// Non-positive values fall back to the defaults (3000/600).
func NewChunker(size, overlap int, logger *slog.Logger) *Chunker {
	if size <= 0 {
		size = 3000
	}
	if overlap < 0 {
		overlap = 600
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{
		size:    size,
		overlap: overlap,
		logger:  logger,
		now:     time.Now,
	}
}

// Split produces the ordered window slices of text. The final slice is the
// one whose window reaches the end of the text and may be shorter than the
// window size. Empty input yields no slices.
func (c *Chunker) Split(text string) []string {
	if len(text) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for {
		end := start + c.size
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			return chunks
		}
		chunks = append(chunks, text[start:end])
		start = end - c.overlap
		if start < 0 {
			// Unreachable with overlap < size, guarded anyway.
			start = 0
		}
	}
}

// FragmentDocument splits a document and wraps each slice in a Fragment
// with increasing indexes.
func (c *Chunker) FragmentDocument(source, text string) []Fragment {
	slices := c.Split(text)
	generatedAt := c.now().UTC().Format(time.RFC3339)

	fragments := make([]Fragment, len(slices))
	for i, s := range slices {
		fragments[i] = Fragment{
			ChunkID:     FragmentID(source, i),
			Source:      source,
			ChunkIndex:  i,
			GeneratedAt: generatedAt,
			Text:        s,
		}
	}
	return fragments
}

// Run chunks every extracted text file in inDir, writing one JSON file per
// fragment into outDir, named by the fragment's identity. Returns the total
// number of fragments created.
func (c *Chunker) Run(inDir, outDir string) (int, error) {
	files, err := filepath.Glob(filepath.Join(inDir, "*.txt"))
	if err != nil {
		return 0, fmt.Errorf("list extracted files: %w", err)
	}
	if len(files) == 0 {
		c.logger.Info("No extracted text files found, run extract first", "dir", inDir)
		return 0, nil
	}
	sort.Strings(files)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, fmt.Errorf("create chunks directory: %w", err)
	}

	total := 0
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return total, fmt.Errorf("read %s: %w", path, err)
		}

		source := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		fragments := c.FragmentDocument(source, string(data))

		for _, frag := range fragments {
			if err := writeFragment(outDir, frag); err != nil {
				return total, err
			}
		}

		c.logger.Info("Chunked document", "source", source, "fragments", len(fragments))
		total += len(fragments)
	}

	return total, nil
}

func writeFragment(dir string, frag Fragment) error {
	data, err := json.Marshal(frag)
	if err != nil {
		return fmt.Errorf("encode fragment %s: %w", frag.ChunkID, err)
	}
	path := filepath.Join(dir, frag.ChunkID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fragment %s: %w", frag.ChunkID, err)
	}
	return nil
}
