// Package prefs implements the "preferences" persistence abstraction
// §6 describes: a flat string-keyed store with scalar and list values,
// validated defaults, and explicit Load/Save. It is the only persistence
// primitive the universe store (§4.2) and the port/device registry
// (§4.3) are allowed to touch; neither owns a file format of its own.
//
// Adapted from the teacher's fs/persistent_md.go marker/persist idiom
// (create-if-missing, log-and-continue on write failure) but collapsed
// into a single flat JSON document instead of one marker file per key,
// since preferences here are small and read back as a whole at startup.
/*
 * Copyright (c) 2024, OLA control core contributors.
 */
package prefs

import (
	"os"
	"strconv"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/olalite/olad/cmn/nlog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Validator checks a raw stored string value before SetDefaultValue
// keeps it in place of the bootstrap default for a key, e.g.
// rejecting a negative RDM discovery interval.
type Validator func(value string) bool

// Store is a flat, file-backed key/value preferences document. The zero
// value is usable in-memory only; call Load to attach a backing path.
type Store struct {
	mu    sync.RWMutex
	path  string
	vals  map[string]string
	lists map[string][]string
}

// New returns an empty, in-memory Store (no backing file yet).
func New() *Store {
	return &Store{vals: make(map[string]string), lists: make(map[string][]string)}
}

type document struct {
	Values map[string]string   `json:"values"`
	Lists  map[string][]string `json:"lists"`
}

// Load reads path into the Store, replacing its current contents. A
// missing file is not an error: Load simply leaves the Store empty and
// remembers path for a later Save, matching the original's
// create-on-first-save persistence model.
func (s *Store) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.vals = make(map[string]string)
		s.lists = make(map[string][]string)
		return nil
	}
	if err != nil {
		return err
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		nlog.Warningf("prefs: discarding unparsable store at %q: %v", path, err)
		s.vals = make(map[string]string)
		s.lists = make(map[string][]string)
		return nil
	}
	if doc.Values == nil {
		doc.Values = make(map[string]string)
	}
	if doc.Lists == nil {
		doc.Lists = make(map[string][]string)
	}
	s.vals, s.lists = doc.Values, doc.Lists
	return nil
}

// Save persists the current contents to the path last given to Load.
func (s *Store) Save() error {
	s.mu.RLock()
	doc := document{Values: copyMap(s.vals), Lists: copyListMap(s.lists)}
	path := s.path
	s.mu.RUnlock()

	if path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		nlog.Warningf("prefs: saving store to %q: %v", path, err)
		return err
	}
	return nil
}

func (s *Store) SetValue(key, value string) {
	s.mu.Lock()
	s.vals[key] = value
	s.mu.Unlock()
}

// GetValue returns the stored value and whether key was present.
func (s *Store) GetValue(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[key]
	return v, ok
}

func (s *Store) SetValueList(key string, values []string) {
	s.mu.Lock()
	s.lists[key] = append([]string(nil), values...)
	s.mu.Unlock()
}

func (s *Store) GetValueList(key string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.lists[key]
	return append([]string(nil), v...), ok
}

// RemoveValue deletes key from both the scalar and list maps, whichever
// it was in.
func (s *Store) RemoveValue(key string) {
	s.mu.Lock()
	delete(s.vals, key)
	delete(s.lists, key)
	s.mu.Unlock()
}

// SetDefaultValue seeds key with def if it is absent, or discards
// whatever is stored if it fails validate — restore is best-effort per
// §4.3: "invalid values ... are skipped silently".
func (s *Store) SetDefaultValue(key string, validate Validator, def string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vals[key]
	if !ok || (validate != nil && !validate(v)) {
		s.vals[key] = def
	}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyListMap(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// ParseIntInRange builds a Validator that accepts a decimal integer in
// lo..hi, e.g. for a priority value. The universe store and port registry
// do not use it; they parse their numeric keys with strconv directly.
func ParseIntInRange(lo, hi int) Validator {
	return func(value string) bool {
		n, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		return n >= lo && n <= hi
	}
}
