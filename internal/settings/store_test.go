package settings

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timxx/qgitc-sub000/internal/errors"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_GetSetDelete(t *testing.T) {
	s := openMemory(t)

	_, err := s.Get("missing")
	var nf *errors.NotFoundError
	require.ErrorAs(t, err, &nf)

	require.NoError(t, s.Set("a", []byte("1")))
	require.NoError(t, s.Set("a", []byte("2")))
	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))

	require.NoError(t, s.Delete("a"))
	require.NoError(t, s.Delete("a"))
	_, err = s.Get("a")
	assert.Error(t, err)
}

func TestStore_LargeValuesRoundTrip(t *testing.T) {
	s := openMemory(t)

	big := bytes.Repeat([]byte("chat message "), 2000)
	require.NoError(t, s.Set("chatHistory/x", big))

	var stored int
	require.NoError(t, s.db.QueryRow("SELECT length(value) FROM settings WHERE key = ?", "chatHistory/x").Scan(&stored))
	assert.Less(t, stored, len(big), "large values should be compressed")

	got, err := s.Get("chatHistory/x")
	require.NoError(t, err)
	assert.Equal(t, big, got)
}

func TestStore_Keys(t *testing.T) {
	s := openMemory(t)
	for _, k := range []string{"chatHistory/b", "chatHistory/a", "submodules/repo", "chat"} {
		require.NoError(t, s.Set(k, []byte("{}")))
	}

	keys, err := s.Keys("chatHistory/")
	require.NoError(t, err)
	assert.Equal(t, []string{"chatHistory/a", "chatHistory/b"}, keys)

	all, err := s.Keys("")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, SetJSON(s, "commitActions/main", []string{"make"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var got []string
	require.NoError(t, GetJSON(s, "commitActions/main", &got))
	assert.Equal(t, []string{"make"}, got)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "submodules/C:/work/repo", Key("submodules", `C:/work/repo/`))
	assert.Equal(t, "chatHistory/abc", Key("chatHistory", "abc"))
	assert.Equal(t, "commitActions//", Key("commitActions", "/"))
}
