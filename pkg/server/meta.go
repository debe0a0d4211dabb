package server

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hddong/uniffle/pkg/types"
)

var appsBucket = []byte("apps")

// AppMeta is the durable record of one registered application. The buffer
// pool and shuffle state are volatile, but the meta store survives a server
// restart so leftover on-disk data of dead apps can be cleared.
type AppMeta struct {
	AppID         string                  `json:"appId"`
	RemoteStorage types.RemoteStorageInfo `json:"remoteStorage"`
	RegisteredAt  time.Time               `json:"registeredAt"`
}

// MetaStore is a small bbolt database of registered apps
type MetaStore struct {
	db *bolt.DB
}

// OpenMetaStore opens (or creates) the meta database at path
func OpenMetaStore(path string) (*MetaStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open meta store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(appsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &MetaStore{db: db}, nil
}

// SaveApp records an app registration
func (s *MetaStore) SaveApp(meta AppMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appsBucket).Put([]byte(meta.AppID), data)
	})
}

// DeleteApp removes an app record
func (s *MetaStore) DeleteApp(appID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appsBucket).Delete([]byte(appID))
	})
}

// ListApps returns every recorded app
func (s *MetaStore) ListApps() ([]AppMeta, error) {
	var out []AppMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(appsBucket).ForEach(func(_, v []byte) error {
			var meta AppMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			out = append(out, meta)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the database
func (s *MetaStore) Close() error {
	return s.db.Close()
}
