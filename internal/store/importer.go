package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	. "github.com/roelfdiedericks/autoreply/internal/logging"
	"github.com/roelfdiedericks/autoreply/internal/rules"
)

// RulesFile is the on-disk rule set format (YAML, or JSON as a YAML subset).
type RulesFile struct {
	Rules []rules.Rule `yaml:"rules"`
}

// ImportResult summarizes an import run.
type ImportResult struct {
	Created int
	Updated int
}

// LoadRulesFile parses and validates a rules file without touching the store.
func LoadRulesFile(path string) ([]rules.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Rules))
	for i := range f.Rules {
		r := &f.Rules[i]
		r.Normalize()
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d (%q): %w", i+1, r.Name, err)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("rule %d: duplicate name %q", i+1, r.Name)
		}
		seen[r.Name] = true
	}
	return f.Rules, nil
}

// ImportRulesFile upserts every rule in the file, keyed by name. The whole
// file is validated before anything is written.
func (s *SQLiteStore) ImportRulesFile(ctx context.Context, path string) (ImportResult, error) {
	var res ImportResult

	incoming, err := LoadRulesFile(path)
	if err != nil {
		return res, err
	}

	for i := range incoming {
		r := incoming[i]
		existing, err := s.FindRuleByName(ctx, r.Name)
		switch {
		case errors.Is(err, ErrNotFound):
			if err := s.CreateRule(ctx, &r); err != nil {
				return res, err
			}
			res.Created++
		case err != nil:
			return res, err
		default:
			r.ID = existing.ID
			if err := s.UpdateRule(ctx, &r); err != nil {
				return res, err
			}
			res.Updated++
		}
	}

	L_info("rules: imported file", "path", path, "created", res.Created, "updated", res.Updated)
	return res, nil
}

// Watcher re-imports a rules file whenever it changes on disk.
type Watcher struct {
	path     string
	store    *SQLiteStore
	debounce time.Duration
	onImport func(ImportResult, error)

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

// NewWatcher creates a watcher for path. onImport may be nil.
func NewWatcher(s *SQLiteStore, path string, onImport func(ImportResult, error)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     abs,
		store:    s,
		debounce: 250 * time.Millisecond,
		onImport: onImport,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. The directory is watched so editors that replace
// the file by rename are still seen.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	L_info("rules: watching file", "file", filepath.Base(w.path), "dir", dir)
	go w.loop(ctx)
	return nil
}

// Stop stops watching.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	close(w.stopCh)
	w.watcher.Close()
	w.running = false
	L_debug("rules: watcher stopped")
}

func (w *Watcher) loop(ctx context.Context) {
	target := filepath.Base(w.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			res, err := w.store.ImportRulesFile(ctx, w.path)
			if err != nil {
				L_warn("rules: re-import failed, keeping previous rules", "file", target, "error", err)
			}
			if w.onImport != nil {
				w.onImport(res, err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			L_warn("rules: watcher error", "error", err)
		}
	}
}
