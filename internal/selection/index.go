// Package selection decides which entity ids a run covers and loads the
// stores those ids are drawn from.
package selection

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// AuthoredIndex maps an entity id to the authoring date of its consent.
// Read-only after load.
type AuthoredIndex map[string]string

// LoadAuthoredIndex reads a JSON object of id -> date string.
// Malformed JSON is an error; the caller treats it as fatal.
func LoadAuthoredIndex(path string) (AuthoredIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read authored dates %s: %w", path, err)
	}

	var idx AuthoredIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse authored dates %s: %w", path, err)
	}
	if idx == nil {
		idx = AuthoredIndex{}
	}
	return idx, nil
}

// IDs returns every id in the index, sorted ascending.
func (idx AuthoredIndex) IDs() []string {
	ids := make([]string, 0, len(idx))
	for id := range idx {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Lookup returns the authored date for id, or a LookupError.
func (idx AuthoredIndex) Lookup(id string) (string, error) {
	authored, ok := idx[id]
	if !ok {
		return "", &LookupError{ID: id, Store: "authored dates"}
	}
	return authored, nil
}

// LookupError reports an id with no entry in a store.
type LookupError struct {
	ID    string
	Store string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("entity %q not found in %s", e.ID, e.Store)
}

// IsLookupError reports whether err (or anything it wraps) is a LookupError.
func IsLookupError(err error) bool {
	var le *LookupError
	return errors.As(err, &le)
}

// RecordStore is a directory holding one {id}.json payload per entity.
type RecordStore struct {
	Dir string
}

// Path returns the payload location for id.
func (s RecordStore) Path(id string) string {
	return filepath.Join(s.Dir, id+".json")
}

// IDs enumerates the stems of all *.json files in the directory, sorted.
func (s RecordStore) IDs() ([]string, error) {
	info, err := os.Stat(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("records directory %s: %w", s.Dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", s.Dir)
	}

	matches, err := filepath.Glob(filepath.Join(s.Dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scan records directory: %w", err)
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(m), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Payload reads the record for id as opaque bytes. A missing file is a
// LookupError.
func (s RecordStore) Payload(id string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &LookupError{ID: id, Store: "records directory " + s.Dir}
		}
		return nil, fmt.Errorf("read record %s: %w", id, err)
	}
	return data, nil
}
