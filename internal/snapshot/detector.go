// Package snapshot manages raw page snapshots and detects content changes
// between pipeline runs.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ChangelogEntry records one detected content change. OldHash is nil for
// snapshots seen for the first time.
type ChangelogEntry struct {
	File       string  `json:"file"`
	OldHash    *string `json:"old_hash"`
	NewHash    string  `json:"new_hash"`
	DetectedAt string  `json:"detected_at"`
}

// Detector compares snapshot content hashes against the persisted state of
// the previous run and appends changelog entries for every difference.
type Detector struct {
	rawDir        string
	stateFile     string
	changelogFile string
	logger        *slog.Logger

	now func() time.Time
}

// NewDetector creates a change detector over the given snapshot directory.
func NewDetector(rawDir, stateFile, changelogFile string, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		rawDir:        rawDir,
		stateFile:     stateFile,
		changelogFile: changelogFile,
		logger:        logger,
		now:           time.Now,
	}
}

// Run hashes every snapshot and records changes. The hash state is rewritten
// (atomically) only when at least one change was found; the changelog is
// append-only. A missing snapshot directory is created and treated as empty.
// Any I/O failure while hashing aborts the whole run.
func (d *Detector) Run() ([]ChangelogEntry, error) {
	if err := os.MkdirAll(d.rawDir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(d.rawDir, "*.html"))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	if len(files) == 0 {
		d.logger.Info("No snapshots found, run fetch first", "dir", d.rawDir)
		return nil, nil
	}
	sort.Strings(files)

	state, err := d.loadState()
	if err != nil {
		return nil, err
	}

	var entries []ChangelogEntry
	for _, path := range files {
		digest, err := fileHash(path)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", path, err)
		}

		name := filepath.Base(path)
		old, seen := state[name]
		if seen && old == digest {
			continue
		}

		d.logger.Info("Change detected", "file", name)
		entry := ChangelogEntry{
			File:       name,
			NewHash:    digest,
			DetectedAt: d.now().UTC().Format(time.RFC3339),
		}
		if seen {
			entry.OldHash = &old
		}
		entries = append(entries, entry)
		state[name] = digest
	}

	if len(entries) == 0 {
		d.logger.Info("No changes detected")
		return nil, nil
	}

	if err := d.appendChangelog(entries); err != nil {
		return nil, err
	}
	if err := d.saveState(state); err != nil {
		return nil, err
	}
	d.logger.Info("Changelog updated", "file", d.changelogFile, "changes", len(entries))

	return entries, nil
}

// fileHash streams a file through SHA-256 and returns the hex digest.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// loadState reads the filename -> digest map. A missing state file means a
// first run and yields an empty map.
func (d *Detector) loadState() (map[string]string, error) {
	data, err := os.ReadFile(d.stateFile)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	state := map[string]string{}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	return state, nil
}

// saveState persists the hash map atomically via temp file + rename, so a
// crashed run never leaves a truncated state file behind.
func (d *Detector) saveState(state map[string]string) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := d.stateFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, d.stateFile); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// appendChangelog appends entries to the changelog JSON array. Existing
// entries are never mutated or removed.
func (d *Detector) appendChangelog(entries []ChangelogEntry) error {
	var log []ChangelogEntry

	data, err := os.ReadFile(d.changelogFile)
	if err == nil {
		if err := json.Unmarshal(data, &log); err != nil {
			return fmt.Errorf("parse changelog: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read changelog: %w", err)
	}

	log = append(log, entries...)

	out, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("encode changelog: %w", err)
	}
	if err := os.WriteFile(d.changelogFile, out, 0o644); err != nil {
		return fmt.Errorf("write changelog: %w", err)
	}
	return nil
}
