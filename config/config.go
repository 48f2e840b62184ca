// Package config is the settings store handed to wallpaper plugins: named
// groups of ordered key-value pairs, persisted as TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Group is an ordered set of settings. Values are kept as strings and
// converted on read, so a group written by one plugin version can be read
// by another with different types.
type Group struct {
	name   string
	keys   []string
	values map[string]string
}

// NewGroup creates an empty group.
func NewGroup(name string) *Group {
	return &Group{
		name:   name,
		values: make(map[string]string),
	}
}

// Name returns the group's name.
func (g *Group) Name() string {
	return g.name
}

// Keys returns the keys in insertion order.
func (g *Group) Keys() []string {
	return append([]string(nil), g.keys...)
}

// HasKey reports whether key has a value.
func (g *Group) HasKey(key string) bool {
	_, ok := g.values[key]
	return ok
}

// Delete removes key.
func (g *Group) Delete(key string) {
	if _, ok := g.values[key]; !ok {
		return
	}
	delete(g.values, key)
	for i, k := range g.keys {
		if k == key {
			g.keys = append(g.keys[:i], g.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of keys.
func (g *Group) Len() int {
	return len(g.keys)
}

// Clone returns a deep copy of g.
func (g *Group) Clone() *Group {
	c := NewGroup(g.name)
	for _, k := range g.keys {
		c.WriteString(k, g.values[k])
	}
	return c
}

// Equal reports whether g and o hold the same keys, values and order.
func (g *Group) Equal(o *Group) bool {
	if g.Len() != o.Len() {
		return false
	}
	for i, k := range g.keys {
		if o.keys[i] != k || o.values[k] != g.values[k] {
			return false
		}
	}
	return true
}

// ReadString returns the value of key, or def when unset.
func (g *Group) ReadString(key, def string) string {
	if v, ok := g.values[key]; ok {
		return v
	}
	return def
}

// ReadInt returns the value of key as an int, or def when unset or malformed.
func (g *Group) ReadInt(key string, def int) int {
	v, ok := g.values[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// ReadBool returns the value of key as a bool, or def when unset or malformed.
func (g *Group) ReadBool(key string, def bool) bool {
	v, ok := g.values[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// ReadFloat returns the value of key as a float64, or def when unset or malformed.
func (g *Group) ReadFloat(key string, def float64) float64 {
	v, ok := g.values[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// WriteString sets key. New keys are appended to the order.
func (g *Group) WriteString(key, value string) {
	if _, ok := g.values[key]; !ok {
		g.keys = append(g.keys, key)
	}
	g.values[key] = value
}

func (g *Group) WriteInt(key string, value int) {
	g.WriteString(key, strconv.Itoa(value))
}

func (g *Group) WriteBool(key string, value bool) {
	g.WriteString(key, strconv.FormatBool(value))
}

func (g *Group) WriteFloat(key string, value float64) {
	g.WriteString(key, strconv.FormatFloat(value, 'g', -1, 64))
}

// Store is a collection of named groups.
type Store struct {
	groups map[string]*Group
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{groups: make(map[string]*Group)}
}

// Group returns the group called name, creating it when missing.
func (s *Store) Group(name string) *Group {
	g, ok := s.groups[name]
	if !ok {
		g = NewGroup(name)
		s.groups[name] = g
	}
	return g
}

// Groups returns the group names, sorted.
func (s *Store) Groups() []string {
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads a TOML store from path. A missing file yields an empty store.
// Within a group, keys come back sorted, since TOML tables are unordered.
func Load(path string) (*Store, error) {
	s := NewStore()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var raw map[string]map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	for name, table := range raw {
		keys := make([]string, 0, len(table))
		for k := range table {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		g := s.Group(name)
		for _, k := range keys {
			g.WriteString(k, fmt.Sprint(table[k]))
		}
	}
	return s, nil
}

// Save writes the store to path as TOML.
func (s *Store) Save(path string) error {
	raw := make(map[string]map[string]string, len(s.groups))
	for name, g := range s.groups {
		table := make(map[string]string, g.Len())
		for _, k := range g.keys {
			table[k] = g.values[k]
		}
		raw[name] = table
	}
	data, err := toml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename config: %w", err)
	}
	return nil
}
