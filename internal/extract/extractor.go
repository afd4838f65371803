// Package extract strips markup and boilerplate from HTML snapshots and
// writes normalized plain-text documents.
package extract

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// minTextLength is the threshold below which an extraction is flagged as
// suspiciously short.
const minTextLength = 50

// noiseTags are elements removed wholesale before extraction.
var noiseTags = map[string]bool{
	"script":   true,
	"style":    true,
	"nav":      true,
	"footer":   true,
	"aside":    true,
	"header":   true,
	"form":     true,
	"noscript": true,
}

// noiseKeywords flag site chrome by id/class substring: cookie notices,
// banners, subscription modals and ads. Matching is case-sensitive.
var noiseKeywords = []string{
	"cookie", "consent", "banner", "modal",
	"subscribe", "newsletter", "promo", "advert",
}

// contentTags are the elements whose visible text makes up the extracted
// document: headings (levels 1-4), paragraphs and list items.
var contentTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true,
	"p": true, "li": true,
}

// Result contains statistics about an extraction run.
type Result struct {
	Total     int
	Extracted int
	Failed    int
}

// Extractor converts raw HTML snapshots into cleaned text files.
type Extractor struct {
	rawDir string
	outDir string
	logger *slog.Logger

	now func() time.Time
}

// NewExtractor creates an extractor reading snapshots from rawDir and
// writing text files into outDir.
func NewExtractor(rawDir, outDir string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		rawDir: rawDir,
		outDir: outDir,
		logger: logger,
		now:    time.Now,
	}
}

// Run processes every snapshot in the raw directory. Per-file read/write
// failures are logged and skipped so one bad snapshot cannot halt the run.
func (e *Extractor) Run() (*Result, error) {
	files, err := filepath.Glob(filepath.Join(e.rawDir, "*.html"))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	if len(files) == 0 {
		e.logger.Info("No HTML snapshots found, run fetch first", "dir", e.rawDir)
		return &Result{}, nil
	}
	sort.Strings(files)

	if err := os.MkdirAll(e.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	result := &Result{Total: len(files)}
	for _, path := range files {
		if err := e.processFile(path); err != nil {
			e.logger.Warn("Failed to extract", "path", path, "error", err)
			result.Failed++
			continue
		}
		result.Extracted++
	}

	return result, nil
}

// processFile extracts one snapshot and writes the cleaned text with a
// provenance header.
func (e *Extractor) processFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	text, err := Clean(raw)
	if err != nil {
		return fmt.Errorf("clean html: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if len(text) < minTextLength {
		e.logger.Warn("Extracted text seems very short", "file", base, "length", len(text))
	}

	header := fmt.Sprintf("<!-- source: %s  extracted: %s UTC -->\n\n",
		base, e.now().UTC().Format("2006-01-02T15:04:05"))

	outPath := filepath.Join(e.outDir, base+".txt")
	if err := os.WriteFile(outPath, []byte(header+text), 0o644); err != nil {
		return fmt.Errorf("write text file: %w", err)
	}

	e.logger.Info("Extracted", "path", outPath)
	return nil
}

// Clean returns readable text from raw HTML. Noise elements are dropped,
// extraction is rooted at the first <main> (else <article>, else the whole
// document), and heading/paragraph/list text is collected in document order,
// joined by blank lines. If nothing is collected the root's full text is
// used as a fallback.
func Clean(raw []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	root := findFirst(doc, "main")
	if root == nil {
		root = findFirst(doc, "article")
	}
	if root == nil {
		root = doc
	}

	var lines []string
	collectContent(root, &lines)

	if len(lines) == 0 {
		lines = fallbackLines(root)
	}

	return strings.Join(lines, "\n\n"), nil
}

// isNoise reports whether an element (and its whole subtree) should be
// ignored, either by tag name or by a noise keyword in its id/class.
func isNoise(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if noiseTags[n.Data] {
		return true
	}
	for _, attr := range n.Attr {
		if attr.Key != "id" && attr.Key != "class" {
			continue
		}
		for _, kw := range noiseKeywords {
			if strings.Contains(attr.Val, kw) {
				return true
			}
		}
	}
	return false
}

// findFirst returns the first element with the given tag in document order,
// never descending into noise subtrees.
func findFirst(n *html.Node, tag string) *html.Node {
	if isNoise(n) {
		return nil
	}
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// collectContent appends the text of every content element under n in
// document order. Nested matches (a <p> inside an <li>) are collected
// separately, each carrying its full subtree text.
func collectContent(n *html.Node, lines *[]string) {
	if isNoise(n) {
		return
	}
	if n.Type == html.ElementNode && contentTags[n.Data] {
		if line := elementText(n); line != "" {
			*lines = append(*lines, line)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectContent(c, lines)
	}
}

// elementText returns the visible text of a subtree with internal
// whitespace collapsed to single spaces.
func elementText(n *html.Node) string {
	var words []string
	gatherWords(n, &words)
	return strings.Join(words, " ")
}

func gatherWords(n *html.Node, words *[]string) {
	if isNoise(n) {
		return
	}
	if n.Type == html.TextNode {
		*words = append(*words, strings.Fields(n.Data)...)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		gatherWords(c, words)
	}
}

// fallbackLines returns all non-empty trimmed text lines under the root,
// used when no content elements were found.
func fallbackLines(root *html.Node) []string {
	var parts []string
	gatherText(root, &parts)

	var lines []string
	for _, part := range parts {
		for _, ln := range strings.Split(part, "\n") {
			if trimmed := strings.TrimSpace(ln); trimmed != "" {
				lines = append(lines, trimmed)
			}
		}
	}
	return lines
}

func gatherText(n *html.Node, parts *[]string) {
	if isNoise(n) {
		return
	}
	if n.Type == html.TextNode {
		if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
			*parts = append(*parts, trimmed)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		gatherText(c, parts)
	}
}
