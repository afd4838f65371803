package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDetector(t *testing.T) (*Detector, string) {
	t.Helper()
	dir := t.TempDir()
	rawDir := filepath.Join(dir, "raw_data")
	d := NewDetector(rawDir, filepath.Join(dir, ".state_hashes.json"), filepath.Join(dir, "changelog.json"), nil)
	d.now = func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) }
	return d, rawDir
}

func writeSnapshot(t *testing.T, rawDir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(rawDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rawDir, name), []byte(content), 0o644))
}

func hexDigest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestRun_NewFiles(t *testing.T) {
	d, rawDir := newTestDetector(t)
	writeSnapshot(t, rawDir, "example.com_a.html", "<html>a</html>")
	writeSnapshot(t, rawDir, "example.com_b.html", "<html>b</html>")

	entries, err := d.Run()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Unseen files carry a null old hash.
	assert.Equal(t, "example.com_a.html", entries[0].File)
	assert.Nil(t, entries[0].OldHash)
	assert.Equal(t, hexDigest("<html>a</html>"), entries[0].NewHash)
	assert.Equal(t, "2026-08-26T12:00:00Z", entries[0].DetectedAt)

	// State file holds one entry per snapshot, equal to the current digest.
	data, err := os.ReadFile(d.stateFile)
	require.NoError(t, err)
	state := map[string]string{}
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Len(t, state, 2)
	assert.Equal(t, hexDigest("<html>a</html>"), state["example.com_a.html"])
	assert.Equal(t, hexDigest("<html>b</html>"), state["example.com_b.html"])
}

func TestRun_Idempotent(t *testing.T) {
	d, rawDir := newTestDetector(t)
	writeSnapshot(t, rawDir, "example.com_a.html", "<html>a</html>")

	first, err := d.Run()
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Second run with no modification writes nothing.
	second, err := d.Run()
	require.NoError(t, err)
	assert.Empty(t, second)

	var log []ChangelogEntry
	data, err := os.ReadFile(d.changelogFile)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &log))
	assert.Len(t, log, 1)
}

func TestRun_ChangedFile(t *testing.T) {
	d, rawDir := newTestDetector(t)
	writeSnapshot(t, rawDir, "example.com_a.html", "version one")

	_, err := d.Run()
	require.NoError(t, err)

	writeSnapshot(t, rawDir, "example.com_a.html", "version two")
	entries, err := d.Run()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NotNil(t, entries[0].OldHash)
	assert.Equal(t, hexDigest("version one"), *entries[0].OldHash)
	assert.Equal(t, hexDigest("version two"), entries[0].NewHash)

	// Changelog is append-only: both the initial and the change entry remain.
	var log []ChangelogEntry
	data, err := os.ReadFile(d.changelogFile)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &log))
	require.Len(t, log, 2)
	assert.Nil(t, log[0].OldHash)
	assert.NotNil(t, log[1].OldHash)
}

func TestRun_MissingDirCreatedEmpty(t *testing.T) {
	d, rawDir := newTestDetector(t)

	entries, err := d.Run()
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The snapshot directory now exists, and no state was written.
	info, err := os.Stat(rawDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	_, err = os.Stat(d.stateFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(d.changelogFile)
	assert.True(t, os.IsNotExist(err))
}

func TestRun_IgnoresNonHTMLFiles(t *testing.T) {
	d, rawDir := newTestDetector(t)
	writeSnapshot(t, rawDir, "notes.txt", "not a snapshot")
	writeSnapshot(t, rawDir, "example.com_a.html", "<html>a</html>")

	entries, err := d.Run()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "example.com_a.html", entries[0].File)
}
