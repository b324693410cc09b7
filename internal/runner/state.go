package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/MikeSquared-Agency/verdict/internal/slack"
)

const (
	stateVersion  = 1
	maxRunHistory = 50
)

// State records which transcripts were classified, keyed by path and content
// digest, so a rerun skips unchanged files and retries edited or failed ones.
type State struct {
	Version  int                  `json:"version"`
	Files    map[string]FileEntry `json:"files"`
	Failures map[string]string    `json:"failures,omitempty"`
	Runs     []RunEntry           `json:"runs"`

	path string
}

// FileEntry is the last successful classification of one transcript.
type FileEntry struct {
	Digest        string    `json:"digest"`
	RunID         string    `json:"run_id"`
	Conversations int       `json:"conversations"`
	ClassifiedAt  time.Time `json:"classified_at"`
}

// RunEntry summarises one classify invocation. Only the most recent runs are kept.
type RunEntry struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitzero"`
	Sources       int       `json:"sources"`
	Conversations int       `json:"conversations"`
	Failed        int       `json:"failed"`
	Interrupted   bool      `json:"interrupted,omitempty"`
}

// LoadState loads state from path, or starts a new one if the file is absent.
func LoadState(path string) (*State, error) {
	p := expandHome(path)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return newState(p), nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	s := newState(p)
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	if s.Version > stateVersion {
		return nil, fmt.Errorf("state %s has version %d, newer than %d", p, s.Version, stateVersion)
	}
	if s.Files == nil {
		s.Files = make(map[string]FileEntry)
	}
	if s.Failures == nil {
		s.Failures = make(map[string]string)
	}
	s.path = p
	return s, nil
}

func newState(path string) *State {
	return &State{
		Version:  stateVersion,
		Files:    make(map[string]FileEntry),
		Failures: make(map[string]string),
		path:     path,
	}
}

// Path returns the file the state is saved to.
func (s *State) Path() string { return s.path }

// Save writes the state through a temp file and rename, so a crash mid-write
// leaves the previous state intact.
func (s *State) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Classified reports whether path was classified with exactly this content.
func (s *State) Classified(path, digest string) bool {
	e, ok := s.Files[path]
	return ok && digest != "" && e.Digest == digest
}

// Record marks path as classified by runID and clears any earlier failure.
func (s *State) Record(path, digest, runID string, conversations int) {
	s.Files[path] = FileEntry{
		Digest:        digest,
		RunID:         runID,
		Conversations: conversations,
		ClassifiedAt:  time.Now().UTC(),
	}
	delete(s.Failures, path)
}

// Fail records the latest error for path.
func (s *State) Fail(path string, err error) {
	s.Failures[path] = err.Error()
}

// StartRun opens a run entry.
func (s *State) StartRun(id string) {
	s.Runs = append(s.Runs, RunEntry{ID: id, StartedAt: time.Now().UTC()})
	if len(s.Runs) > maxRunHistory {
		s.Runs = s.Runs[len(s.Runs)-maxRunHistory:]
	}
}

// FinishRun closes the open run entry with the totals from sum.
func (s *State) FinishRun(sum *slack.RunSummary, interrupted bool) {
	if len(s.Runs) == 0 || s.Runs[len(s.Runs)-1].ID != sum.RunID {
		return
	}
	run := &s.Runs[len(s.Runs)-1]
	run.FinishedAt = time.Now().UTC()
	run.Sources = sum.Sources
	run.Conversations = sum.Conversations
	run.Failed = len(sum.Failed)
	run.Interrupted = interrupted
}

// Conversations returns the number of conversations across classified files.
func (s *State) Conversations() int {
	n := 0
	for _, e := range s.Files {
		n += e.Conversations
	}
	return n
}

// fileDigest is the hex SHA-256 of the file at path.
func fileDigest(path string) (string, error) {
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

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
