package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean_PrefersMain(t *testing.T) {
	raw := `<html><body>
		<header><h1>Site Title</h1></header>
		<main><h1>Article Heading</h1><p>Main body text.</p></main>
		<footer><p>Footer text.</p></footer>
	</body></html>`

	text, err := Clean([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "Article Heading\n\nMain body text.", text)
}

func TestClean_FallsBackToArticle(t *testing.T) {
	raw := `<html><body>
		<div><p>Sidebar noise outside the article.</p></div>
		<article><h2>Section</h2><p>Article paragraph.</p></article>
	</body></html>`

	text, err := Clean([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "Section\n\nArticle paragraph.", text)
	assert.NotContains(t, text, "Sidebar noise")
}

func TestClean_WholeDocumentWithoutMainOrArticle(t *testing.T) {
	raw := `<html><body><h1>Title</h1><p>First.</p><p>Second.</p></body></html>`

	text, err := Clean([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "Title\n\nFirst.\n\nSecond.", text)
}

func TestClean_RemovesNoiseTags(t *testing.T) {
	raw := `<html><body>
		<script>var x = 1;</script>
		<style>p { color: red }</style>
		<nav><li>Home</li></nav>
		<aside><p>Related links</p></aside>
		<form><p>Sign in</p></form>
		<p>Kept paragraph.</p>
	</body></html>`

	text, err := Clean([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "Kept paragraph.", text)
}

func TestClean_RemovesNoiseByIDAndClass(t *testing.T) {
	raw := `<html><body>
		<div id="cookie-notice"><p>We use cookies.</p></div>
		<div class="newsletter-signup"><p>Subscribe now!</p></div>
		<div class="promo-box"><p>Special offer.</p></div>
		<p>Real content.</p>
	</body></html>`

	text, err := Clean([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "Real content.", text)
}

func TestClean_KeywordMatchIsCaseSensitive(t *testing.T) {
	// "Cookie" does not match the lowercase keyword list.
	raw := `<html><body><div class="Cookie"><p>Visible.</p></div></body></html>`

	text, err := Clean([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "Visible.", text)
}

func TestClean_CollapsesWhitespace(t *testing.T) {
	raw := "<html><body><p>  spaced\n\tout   <b>text</b>  </p></body></html>"

	text, err := Clean([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "spaced out text", text)
}

func TestClean_HeadingLevels(t *testing.T) {
	raw := `<html><body><main>
		<h1>One</h1><h2>Two</h2><h3>Three</h3><h4>Four</h4><h5>Five</h5>
	</main></body></html>`

	text, err := Clean([]byte(raw))
	require.NoError(t, err)

	// h5 and below are not collected.
	assert.Equal(t, "One\n\nTwo\n\nThree\n\nFour", text)
}

func TestClean_FallbackFullText(t *testing.T) {
	// No headings, paragraphs or list items anywhere.
	raw := `<html><body><div>loose text line</div><span>another piece</span></body></html>`

	text, err := Clean([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "loose text line\n\nanother piece", text)
}

func TestRun_WritesProvenanceHeader(t *testing.T) {
	rawDir := t.TempDir()
	outDir := t.TempDir()

	raw := `<html><body><main><p>Snapshot body with enough text to avoid the short warning entirely.</p></main></body></html>`
	require.NoError(t, os.WriteFile(filepath.Join(rawDir, "example.com_page.html"), []byte(raw), 0o644))

	e := NewExtractor(rawDir, outDir, nil)
	e.now = func() time.Time { return time.Date(2026, 8, 26, 9, 30, 0, 0, time.UTC) }

	result, err := e.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Extracted)
	assert.Equal(t, 0, result.Failed)

	data, err := os.ReadFile(filepath.Join(outDir, "example.com_page.txt"))
	require.NoError(t, err)

	content := string(data)
	assert.True(t, strings.HasPrefix(content,
		"<!-- source: example.com_page  extracted: 2026-08-26T09:30:00 UTC -->\n\n"),
		"unexpected header: %q", content)
	assert.Contains(t, content, "Snapshot body with enough text")
}

func TestRun_ContinuesPastBadFiles(t *testing.T) {
	rawDir := t.TempDir()
	outDir := t.TempDir()

	// A directory where a file is expected triggers a read error.
	require.NoError(t, os.MkdirAll(filepath.Join(rawDir, "broken.html"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rawDir, "ok.html"),
		[]byte("<html><body><p>fine</p></body></html>"), 0o644))

	e := NewExtractor(rawDir, outDir, nil)
	result, err := e.Run()
	require.NoError(t, err)

	assert.Equal(t, 1, result.Extracted)
	assert.Equal(t, 1, result.Failed)
	_, err = os.Stat(filepath.Join(outDir, "ok.txt"))
	assert.NoError(t, err)
}

func TestRun_EmptyDirIsNoop(t *testing.T) {
	e := NewExtractor(t.TempDir(), t.TempDir(), nil)
	result, err := e.Run()
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
}
