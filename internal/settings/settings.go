// Package settings persists small key/value groups, one YAML document per group.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// ErrInvalidGroup is returned for group names that are not safe file names.
var ErrInvalidGroup = errors.New("invalid settings group")

// Store represents a directory of settings groups.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates the settings directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("settings dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create settings dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string {
	return s.dir
}

// Open loads a group from disk. A group that was never saved opens empty.
func (s *Store) Open(group string) (*Group, error) {
	path, err := s.groupPath(group)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := readGroup(path)
	if err != nil {
		return nil, err
	}
	return &Group{store: s, name: group, values: values}, nil
}

// Groups lists saved group names.
func (s *Store) Groups() []string {
	names := []string{}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return names
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		names = append(names, entry.Name()[:len(entry.Name())-len(".yaml")])
	}
	sort.Strings(names)
	return names
}

func (s *Store) groupPath(group string) (string, error) {
	if !safeNamePattern.MatchString(group) {
		return "", fmt.Errorf("%w: %q", ErrInvalidGroup, group)
	}
	return filepath.Join(s.dir, group+".yaml"), nil
}

func (s *Store) write(group string, values map[string]string) error {
	path, err := s.groupPath(group)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(values)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readGroup(path string) (map[string]string, error) {
	values := map[string]string{}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode settings %s: %w", filepath.Base(path), err)
	}
	if values == nil {
		values = map[string]string{}
	}
	return values, nil
}

// Group is an in-memory view of one settings group. Changes are kept
// until Save writes the whole group atomically.
type Group struct {
	store  *Store
	name   string
	mu     sync.Mutex
	values map[string]string
}

// Name returns the group name.
func (g *Group) Name() string {
	return g.name
}

// GetString returns the value for key or fallback.
func (g *Group) GetString(key string, fallback string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.values[key]; ok {
		return v
	}
	return fallback
}

// GetInt returns the integer value for key or fallback when missing or malformed.
func (g *Group) GetInt(key string, fallback int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.values[key]
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// SetString executes the setString method.
func (g *Group) SetString(key string, value string) {
	g.mu.Lock()
	g.values[key] = value
	g.mu.Unlock()
}

// SetInt executes the setInt method.
func (g *Group) SetInt(key string, value int) {
	g.SetString(key, strconv.Itoa(value))
}

// Erase removes key from the group.
func (g *Group) Erase(key string) {
	g.mu.Lock()
	delete(g.values, key)
	g.mu.Unlock()
}

// Save writes the group to disk.
func (g *Group) Save() error {
	g.mu.Lock()
	snapshot := make(map[string]string, len(g.values))
	for k, v := range g.values {
		snapshot[k] = v
	}
	g.mu.Unlock()
	return g.store.write(g.name, snapshot)
}
