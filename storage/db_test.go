package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, db.Put([]byte("alpha"), []byte("one")))
	value, err := db.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), value)

	ok, err := db.Has([]byte("alpha"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, db.Put([]byte("alpha"), []byte("two")))
	value, err = db.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte("two"), value)

	require.NoError(t, db.Delete([]byte("alpha")))
	ok, err = db.Has([]byte("alpha"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	testDatabase(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value := []byte("payload")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'X'

	stored, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), stored)
}

func TestLevelDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db, err := NewLevelDB(path)
	require.NoError(t, err)
	defer db.Close()
	testDatabase(t, db)
}
