package flow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/devicelab-dev/visual-runner/pkg/logger"
)

// TemplateStore resolves templates by ID.
type TemplateStore interface {
	Get(id string) (*Template, bool)
	List() []*Template
}

// DirStore is a TemplateStore backed by a directory of YAML files.
type DirStore struct {
	dir       string
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewDirStore loads all templates found under dir.
func NewDirStore(dir string) (*DirStore, error) {
	s := &DirStore{dir: dir, templates: make(map[string]*Template)}
	if err := s.Refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh rescans the templates directory. Invalid files are skipped with a
// warning; a duplicate ID is an error.
func (s *DirStore) Refresh() error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("templates directory: %w", err)
	}
	files, err := yamlFiles(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read templates directory: %w", err)
	}
	sort.Strings(files)

	loaded := make(map[string]*Template, len(files))
	for _, file := range files {
		tpl, err := ParseTemplateFile(file)
		if err != nil {
			logger.Warn("skipping template %s: %v", file, err)
			continue
		}
		if prev, ok := loaded[tpl.ID]; ok {
			return fmt.Errorf("template %q defined in both %s and %s", tpl.ID,
				filepath.Base(prev.SourcePath), filepath.Base(file))
		}
		loaded[tpl.ID] = tpl
	}

	s.mu.Lock()
	s.templates = loaded
	s.mu.Unlock()
	return nil
}

// Get retrieves a template by ID
func (s *DirStore) Get(id string) (*Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[id]
	return tpl, ok
}

// List returns all templates sorted by ID
func (s *DirStore) List() []*Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedTemplates(s.templates)
}

// Count returns the number of loaded templates
func (s *DirStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.templates)
}

// MemoryStore is an in-memory TemplateStore.
type MemoryStore map[string]*Template

// NewMemoryStore builds a store from templates keyed by their ID.
func NewMemoryStore(templates ...*Template) MemoryStore {
	m := make(MemoryStore, len(templates))
	for _, t := range templates {
		m[t.ID] = t
	}
	return m
}

// Get retrieves a template by ID
func (m MemoryStore) Get(id string) (*Template, bool) {
	t, ok := m[id]
	return t, ok
}

// List returns all templates sorted by ID
func (m MemoryStore) List() []*Template {
	return sortedTemplates(m)
}

func sortedTemplates(m map[string]*Template) []*Template {
	out := make([]*Template, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
