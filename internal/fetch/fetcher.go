// Package fetch downloads source pages and stores raw HTML snapshots.
package fetch

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// userAgent mirrors a desktop browser; several of the indexed sites refuse
// requests with a default Go client UA.
const userAgent = "Mozilla/5.0"

// Result contains statistics about a fetch run.
type Result struct {
	Total   int
	Fetched int
	Skipped []SkippedSource
}

// SkippedSource records a source URL that failed to fetch.
type SkippedSource struct {
	URL    string
	Reason string
}

// Fetcher downloads pages from a source list and writes snapshots to disk.
type Fetcher struct {
	client *http.Client
	rawDir string
	logger *slog.Logger
}

// NewFetcher creates a fetcher writing snapshots into rawDir.
func NewFetcher(rawDir string, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client: &http.Client{Timeout: 20 * time.Second},
		rawDir: rawDir,
		logger: logger,
	}
}

// ParseSources reads a CSV source list and returns the values of its "url"
// column. The header row is required; a list without a url column is a
// configuration error.
func ParseSources(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read source list header: %w", err)
	}

	urlCol := -1
	for i, name := range header {
		if strings.TrimSpace(name) == "url" {
			urlCol = i
			break
		}
	}
	if urlCol < 0 {
		return nil, fmt.Errorf("source list has no %q column", "url")
	}

	var urls []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read source list row: %w", err)
		}
		if urlCol >= len(record) {
			continue
		}
		if url := strings.TrimSpace(record[urlCol]); url != "" {
			urls = append(urls, url)
		}
	}

	return urls, nil
}

// SnapshotName derives the snapshot filename for a source URL: scheme prefix
// removed, slashes replaced with underscores, ".html" suffix.
func SnapshotName(url string) string {
	name := strings.TrimPrefix(url, "https://")
	name = strings.TrimPrefix(name, "http://")
	name = strings.ReplaceAll(name, "/", "_")
	return name + ".html"
}

// FetchAll fetches every URL in the source list file and writes one snapshot
// per page. Fetch failures are logged and skipped; the run continues.
func (f *Fetcher) FetchAll(ctx context.Context, sourcesFile string) (*Result, error) {
	file, err := os.Open(sourcesFile)
	if err != nil {
		return nil, fmt.Errorf("open source list: %w", err)
	}
	defer file.Close()

	urls, err := ParseSources(file)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(f.rawDir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	result := &Result{Total: len(urls)}
	for _, url := range urls {
		f.logger.Info("Fetching", "url", url)
		content, err := f.FetchPage(ctx, url)
		if err != nil {
			f.logger.Warn("Failed to fetch", "url", url, "error", err)
			result.Skipped = append(result.Skipped, SkippedSource{URL: url, Reason: err.Error()})
			continue
		}
		if err := f.saveSnapshot(url, content); err != nil {
			f.logger.Warn("Failed to save snapshot", "url", url, "error", err)
			result.Skipped = append(result.Skipped, SkippedSource{URL: url, Reason: err.Error()})
			continue
		}
		result.Fetched++
	}

	return result, nil
}

// FetchPage retrieves the HTML content of a single page.
func (f *Fetcher) FetchPage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return body, nil
}

// saveSnapshot writes the raw page content wholesale, overwriting any
// previous snapshot of the same source.
func (f *Fetcher) saveSnapshot(url string, content []byte) error {
	path := filepath.Join(f.rawDir, SnapshotName(url))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	f.logger.Info("Saved snapshot", "path", path)
	return nil
}
