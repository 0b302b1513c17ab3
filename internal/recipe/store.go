package recipe

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/aifactory/internal/apperror"
	"github.com/giantswarm/aifactory/pkg/logging"
)

const subsystem = "recipe"

// Store loads and caches recipes from a recipes/<category>/<name>
// directory tree and keeps the cache current by watching the tree
// with fsnotify (teacher pattern: a debounced filesystem watch rather
// than reloading on every raw fs event).
type Store struct {
	root string

	mu      sync.RWMutex
	recipes map[string]*Recipe // keyed by "<category>/<name>"

	watcher          *fsnotify.Watcher
	debounceInterval time.Duration
	pending          map[string]*time.Timer
	pendingMu        sync.Mutex
}

// NewStore constructs a Store rooted at root. Call Load to populate
// the cache and Watch to keep it current.
func NewStore(root string) *Store {
	return &Store{
		root:             root,
		recipes:          make(map[string]*Recipe),
		debounceInterval: 300 * time.Millisecond,
		pending:          make(map[string]*time.Timer),
	}
}

// Load walks the recipe tree and parses every recipe.yaml found,
// logging and skipping (rather than failing outright) any file that
// doesn't parse, so one bad recipe doesn't take the whole store down.
func (s *Store) Load() error {
	categories, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Warn(subsystem, "recipes directory %s does not exist, starting empty", s.root)
			return nil
		}
		return apperror.Internal(subsystem, err, "reading recipes directory")
	}

	loaded := make(map[string]*Recipe)
	for _, catEntry := range categories {
		if !catEntry.IsDir() {
			continue
		}
		category := catEntry.Name()
		catDir := filepath.Join(s.root, category)

		names, err := os.ReadDir(catDir)
		if err != nil {
			logging.Warn(subsystem, "reading category directory %s: %v", catDir, err)
			continue
		}
		for _, nameEntry := range names {
			if !nameEntry.IsDir() {
				continue
			}
			key := category + "/" + nameEntry.Name()
			recipePath := filepath.Join(catDir, nameEntry.Name(), "recipe.yaml")
			r, err := loadOne(recipePath)
			if err != nil {
				s.mu.RLock()
				prev, hadPrev := s.recipes[key]
				s.mu.RUnlock()
				if hadPrev {
					logging.Warn(subsystem, "recipe %s failed to reload, keeping previous version: %v", key, err)
					loaded[key] = prev
				} else {
					logging.Warn(subsystem, "skipping recipe %s: %v", key, err)
				}
				continue
			}
			r.Path = key
			loaded[key] = r
		}
	}

	s.mu.Lock()
	s.recipes = loaded
	s.mu.Unlock()

	logging.Info(subsystem, "loaded %d recipes from %s", len(loaded), s.root)
	return nil
}

func loadOne(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	r.applyDefaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Get returns the recipe for "<category>/<name>", or for a bare name
// searched across all categories — an ambiguous bare name resolves
// deterministically to the first match in category/name sort order.
func (s *Store) Get(name string) (*Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if strings.Contains(name, "/") {
		if r, ok := s.recipes[name]; ok {
			return r, nil
		}
		return nil, apperror.NotFound("recipe %s not found", name)
	}

	var matchKeys []string
	for key := range s.recipes {
		if strings.HasSuffix(key, "/"+name) {
			matchKeys = append(matchKeys, key)
		}
	}
	if len(matchKeys) == 0 {
		return nil, apperror.NotFound("recipe %s not found", name)
	}
	sort.Strings(matchKeys)
	return s.recipes[matchKeys[0]], nil
}

// List returns every cached recipe, optionally filtered by category.
func (s *Store) List(category Category) []*Recipe {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Recipe, 0, len(s.recipes))
	for _, r := range s.recipes {
		if category != "" && r.Category != category {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Watch starts an fsnotify watch over the recipe tree and reloads the
// whole store (debounced) whenever something underneath changes. It
// returns once the watcher is established; reloads happen on a
// background goroutine until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return apperror.Internal(subsystem, err, "creating recipe directory watcher")
	}
	s.watcher = watcher

	if err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = watcher.Add(path)
		}
		return nil
	}); err != nil {
		logging.Warn(subsystem, "walking recipe tree for watches: %v", err)
	}

	go s.processEvents(ctx)
	logging.Info(subsystem, "watching %s for recipe changes", s.root)
	return nil
}

func (s *Store) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = s.watcher.Close()
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.debounceReload(event.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn(subsystem, "recipe watcher error: %v", err)
		}
	}
}

func (s *Store) debounceReload(path string) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if t, ok := s.pending[path]; ok {
		t.Stop()
	}
	s.pending[path] = time.AfterFunc(s.debounceInterval, func() {
		if err := s.Load(); err != nil {
			logging.Error(subsystem, err, "reloading recipes after change to %s", path)
		}
	})
}
