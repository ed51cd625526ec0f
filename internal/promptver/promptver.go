// Package promptver tracks which instruction content was active when a
// task ran. The full set of instruction documents is hashed into a short
// content-addressed id; every claimed task is stamped with it so outcome
// quality can later be correlated against exact instructions.
package promptver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yazinsai/mic-worker/internal/task"
)

// IDLength is the truncated hex length of the content hash.
const IDLength = 12

const docSeparator = "\n---\n"

// Tracker computes and caches the active prompt version.
type Tracker struct {
	promptsDir string
	guidelines []string
	store      task.Store

	mu sync.Mutex
	id string
}

// New builds a tracker over the instruction document locations.
func New(store task.Store, promptsDir string, guidelines []string) *Tracker {
	return &Tracker{
		promptsDir: promptsDir,
		guidelines: guidelines,
		store:      store,
	}
}

// Init hashes the current instruction content, get-or-creates the version
// record, and caches the id for the process lifetime.
func (t *Tracker) Init(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.id != "" {
		return t.id, nil
	}
	id, err := t.computeID()
	if err != nil {
		return "", err
	}
	_, err = t.store.PromptVersion(ctx, id)
	switch {
	case err == nil:
	case err == task.ErrPromptVersionNotFound:
		if err := t.store.CreatePromptVersion(ctx, task.PromptVersion{
			ID:        id,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return "", fmt.Errorf("promptver: create version %s: %w", id, err)
		}
	default:
		return "", fmt.Errorf("promptver: lookup version %s: %w", id, err)
	}
	t.id = id
	return id, nil
}

// ID returns the cached version id, or "" before Init.
func (t *Tracker) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// computeID concatenates every instruction document in a fixed order and
// hashes the result. Prompt templates sort by file name; the higher-level
// guideline documents follow in their configured order. Missing guideline
// files contribute nothing rather than failing, so an absent optional doc
// does not change the worker's ability to run.
func (t *Tracker) computeID() (string, error) {
	var parts []string

	entries, err := os.ReadDir(t.promptsDir)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("promptver: read prompts dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(t.promptsDir, name))
		if err != nil {
			return "", fmt.Errorf("promptver: read %s: %w", name, err)
		}
		parts = append(parts, string(data))
	}

	for _, path := range t.guidelines {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("promptver: read %s: %w", path, err)
		}
		parts = append(parts, string(data))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, docSeparator)))
	return hex.EncodeToString(sum[:])[:IDLength], nil
}
