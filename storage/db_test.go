package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	got, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)

	ok, err := db.Has([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)

	batch := NewBatch()
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("a"))
	require.Equal(t, 2, batch.Len())
	require.NoError(t, db.Write(batch))

	ok, err = db.Has([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)
	got, err = db.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)

	require.NoError(t, db.Delete([]byte("b")))
	require.NoError(t, db.Delete([]byte("never-there")))
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemDBGetReturnsCopy(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("k"), []byte("value")))
	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	got[0] = 'X'
	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), again)
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	exerciseDatabase(t, db1)

	batch := NewBatch()
	batch.Put([]byte("durable"), []byte("yes"))
	require.NoError(t, db1.Write(batch))
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get([]byte("durable"))
	require.NoError(t, err)
	require.Equal(t, []byte("yes"), got)
}

func TestBoltDBPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	db1, err := Open(BackendBolt, path)
	require.NoError(t, err)
	exerciseDatabase(t, db1)
	require.NoError(t, db1.Put([]byte("durable"), []byte("yes")))
	db1.Close()

	db2, err := NewBoltDB(path)
	require.NoError(t, err)
	defer db2.Close()
	got, err := db2.Get([]byte("durable"))
	require.NoError(t, err)
	require.Equal(t, []byte("yes"), got)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open("rocksdb", t.TempDir())
	require.ErrorIs(t, err, ErrUnknownBackend)
}
