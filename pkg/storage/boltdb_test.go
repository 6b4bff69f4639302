package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openStore(t *testing.T, dir string) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	return s
}

func TestBoltStoreAdminState(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	_, err := s.GetAdminState("web/192.0.2.1")
	assert.ErrorIs(t, err, ErrNotFound)

	set := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutAdminState(&AdminState{ID: "a", Desc: "web/192.0.2.2", State: "DOWN", SetAt: set}))
	require.NoError(t, s.PutAdminState(&AdminState{ID: "b", Desc: "web/192.0.2.1", State: "UP/60", Reason: "maintenance"}))

	got, err := s.GetAdminState("web/192.0.2.2")
	require.NoError(t, err)
	assert.Equal(t, "DOWN", got.State)
	assert.True(t, set.Equal(got.SetAt))

	list, err := s.ListAdminStates()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "web/192.0.2.1", list[0].Desc, "listed in key order")
	assert.Equal(t, "maintenance", list[0].Reason)

	require.NoError(t, s.PutAdminState(&AdminState{ID: "c", Desc: "web/192.0.2.2", State: "UP"}))
	got, err = s.GetAdminState("web/192.0.2.2")
	require.NoError(t, err)
	assert.Equal(t, "c", got.ID, "put replaces")

	require.NoError(t, s.DeleteAdminState("web/192.0.2.2"))
	assert.ErrorIs(t, s.DeleteAdminState("web/192.0.2.2"), ErrNotFound)
}

func TestBoltStorePersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	s := openStore(t, dir)
	require.NoError(t, s.PutAdminState(&AdminState{Desc: "web/192.0.2.1", State: "DOWN/30"}))
	assert.Equal(t, filepath.Join(dir, DBFile), s.Path())
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	defer s.Close()
	got, err := s.GetAdminState("web/192.0.2.1")
	require.NoError(t, err)
	st, err := got.STTL()
	require.NoError(t, err)
	assert.True(t, st.IsDown())
	assert.EqualValues(t, 30, st.TTL())
}

func TestBoltStoreIsExclusive(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	defer s.Close()

	_, err := NewBoltStore(dir)
	assert.Error(t, err, "a second opener times out on the file lock")
}

func TestBoltStoreRejectsUnknownSchema(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o750))
	db, err := bolt.Open(filepath.Join(dir, DBFile), 0o600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		return b.Put(keySchema, []byte("99"))
	}))
	require.NoError(t, db.Close())

	_, err = NewBoltStore(dir)
	assert.Error(t, err)
}
