package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DBFile is the database file name inside the data directory.
const DBFile = "dynadns.db"

var (
	// Bucket names
	bucketAdminState = []byte("admin_state")
	bucketMeta       = []byte("meta")

	keySchema     = []byte("schema")
	schemaVersion = []byte("1")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the database in dataDir. bbolt
// holds an exclusive file lock, so a second opener fails after a short
// wait instead of hanging while the daemon runs.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DBFile)

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAdminState, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keySchema); v != nil && string(v) != string(schemaVersion) {
			return fmt.Errorf("unsupported database schema %q", v)
		}
		return meta.Put(keySchema, schemaVersion)
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.db.Path()
}

func (s *BoltStore) PutAdminState(st *AdminState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAdminState)
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		return b.Put([]byte(st.Desc), data)
	})
}

func (s *BoltStore) GetAdminState(desc string) (*AdminState, error) {
	var st AdminState
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAdminState).Get([]byte(desc))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, desc)
		}
		return json.Unmarshal(data, &st)
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ListAdminStates returns every stored override in key order.
func (s *BoltStore) ListAdminStates() ([]*AdminState, error) {
	var states []*AdminState
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAdminState).ForEach(func(k, v []byte) error {
			var st AdminState
			if err := json.Unmarshal(v, &st); err != nil {
				return fmt.Errorf("admin state %s: %w", k, err)
			}
			states = append(states, &st)
			return nil
		})
	})
	return states, err
}

func (s *BoltStore) DeleteAdminState(desc string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAdminState)
		if b.Get([]byte(desc)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, desc)
		}
		return b.Delete([]byte(desc))
	})
}
