package apps

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketApps    = []byte("apps")
	bucketAppKeys = []byte("app_keys")
)

// BoltManager persists apps in a BoltDB file. Apps are stored JSON-encoded
// by id, with a secondary key -> id index.
type BoltManager struct {
	db *bolt.DB
}

// NewBoltManager opens (or creates) the database at path
func NewBoltManager(path string) (*BoltManager, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open app database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketApps, bucketAppKeys} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltManager{db: db}, nil
}

// Close closes the database
func (m *BoltManager) Close() error {
	return m.db.Close()
}

// Put creates or replaces an app
func (m *BoltManager) Put(app *App) error {
	if app.ID == "" || app.Key == "" {
		return fmt.Errorf("app id and key are required")
	}
	data, err := json.Marshal(app)
	if err != nil {
		return err
	}

	return m.db.Update(func(tx *bolt.Tx) error {
		apps := tx.Bucket(bucketApps)
		keys := tx.Bucket(bucketAppKeys)

		if owner := keys.Get([]byte(app.Key)); owner != nil && string(owner) != app.ID {
			return fmt.Errorf("app key %s already belongs to app %s", app.Key, owner)
		}
		if prev := apps.Get([]byte(app.ID)); prev != nil {
			var old App
			if err := json.Unmarshal(prev, &old); err == nil && old.Key != app.Key {
				if err := keys.Delete([]byte(old.Key)); err != nil {
					return err
				}
			}
		}

		if err := apps.Put([]byte(app.ID), data); err != nil {
			return err
		}
		return keys.Put([]byte(app.Key), []byte(app.ID))
	})
}

// Delete removes an app by id
func (m *BoltManager) Delete(id string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		apps := tx.Bucket(bucketApps)
		data := apps.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var app App
		if err := json.Unmarshal(data, &app); err != nil {
			return err
		}
		if err := tx.Bucket(bucketAppKeys).Delete([]byte(app.Key)); err != nil {
			return err
		}
		return apps.Delete([]byte(id))
	})
}

// List returns every stored app
func (m *BoltManager) List() ([]*App, error) {
	var apps []*App
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketApps).ForEach(func(k, v []byte) error {
			var app App
			if err := json.Unmarshal(v, &app); err != nil {
				return err
			}
			apps = append(apps, &app)
			return nil
		})
	})
	return apps, err
}

func (m *BoltManager) FindByID(_ context.Context, id string) (*App, error) {
	var app App
	err := m.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketApps).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &app)
	})
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (m *BoltManager) FindByKey(ctx context.Context, key string) (*App, error) {
	var id string
	err := m.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAppKeys).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		id = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.FindByID(ctx, id)
}

var _ Manager = (*BoltManager)(nil)
