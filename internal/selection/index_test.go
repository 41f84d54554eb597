package selection

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadAuthoredIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authored.json")
	writeFile(t, path, `{"p2":"2024-01-02","p1":"2024-01-01"}`)

	idx, err := LoadAuthoredIndex(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, idx.IDs())

	authored, err := idx.Lookup("p2")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", authored)
}

func TestLoadAuthoredIndex_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authored.json")
	writeFile(t, path, `{"p1": 42}`)

	_, err := LoadAuthoredIndex(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse authored dates")
}

func TestLoadAuthoredIndex_NullIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authored.json")
	writeFile(t, path, `null`)

	idx, err := LoadAuthoredIndex(path)
	require.NoError(t, err)
	assert.Empty(t, idx.IDs())
}

func TestLoadAuthoredIndex_Missing(t *testing.T) {
	_, err := LoadAuthoredIndex(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read authored dates")
}

func TestAuthoredIndex_LookupUnknown(t *testing.T) {
	_, err := AuthoredIndex{}.Lookup("ghost")
	require.Error(t, err)
	assert.True(t, IsLookupError(err))
	assert.True(t, IsLookupError(fmt.Errorf("wrapped: %w", err)))
	assert.Contains(t, err.Error(), `"ghost"`)
}

func TestRecordStore_IDsAndPayload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.json"), `{"id":"b"}`)
	writeFile(t, filepath.Join(dir, "a.json"), `{"id":"a"}`)
	writeFile(t, filepath.Join(dir, "notes.txt"), `ignored`)

	store := RecordStore{Dir: dir}
	ids, err := store.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	data, err := store.Payload("a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a"}`, string(data))
}

func TestRecordStore_MissingPayload(t *testing.T) {
	store := RecordStore{Dir: t.TempDir()}
	_, err := store.Payload("nobody")
	require.Error(t, err)
	assert.True(t, IsLookupError(err))
}

func TestRecordStore_NotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.json")
	writeFile(t, path, `{}`)

	_, err := RecordStore{Dir: path}.IDs()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestRecordStore_EmptyDirectory(t *testing.T) {
	ids, err := RecordStore{Dir: t.TempDir()}.IDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}
