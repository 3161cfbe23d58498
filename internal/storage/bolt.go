package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// settingsBucket holds one nested bucket per namespace
	settingsBucket = "_settings"

	// publishBucket stores manual publish history keyed by time
	publishBucket = "_publishes"
)

// BoltStorage is a bbolt implementation of the Storage interface
type BoltStorage struct {
	db *bbolt.DB
}

// NewBoltStorage opens (or creates) the database at path
func NewBoltStorage(path string) (*BoltStorage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{settingsBucket, publishBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db}, nil
}

// Get retrieves raw data by namespace and key
func (s *BoltStorage) Get(namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		ns := tx.Bucket([]byte(settingsBucket)).Bucket([]byte(namespace))
		if ns == nil {
			return ErrNotFound
		}

		data := ns.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}

		// bbolt memory is only valid inside the transaction
		value = make([]byte, len(data))
		copy(value, data)
		return nil
	})

	return value, err
}

// GetJSON retrieves and unmarshals JSON data
func (s *BoltStorage) GetJSON(namespace, key string, v any) error {
	data, err := s.Get(namespace, key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s/%s: %w", namespace, key, err)
	}

	return nil
}

// Set stores raw data under namespace and key
func (s *BoltStorage) Set(namespace, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ns, err := tx.Bucket([]byte(settingsBucket)).CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return fmt.Errorf("failed to create namespace bucket: %w", err)
		}
		return ns.Put([]byte(key), value)
	})
}

// SetJSON marshals and stores JSON data
func (s *BoltStorage) SetJSON(namespace, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return s.Set(namespace, key, data)
}

// Delete removes a key
func (s *BoltStorage) Delete(namespace, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ns := tx.Bucket([]byte(settingsBucket)).Bucket([]byte(namespace))
		if ns == nil {
			return ErrNotFound
		}
		return ns.Delete([]byte(key))
	})
}

// List returns all keys and values in a namespace
func (s *BoltStorage) List(namespace string) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := s.db.View(func(tx *bbolt.Tx) error {
		ns := tx.Bucket([]byte(settingsBucket)).Bucket([]byte(namespace))
		if ns == nil {
			return nil
		}

		return ns.ForEach(func(k, v []byte) error {
			value := make([]byte, len(v))
			copy(value, v)
			result[string(k)] = value
			return nil
		})
	})

	return result, err
}

// SavePublish appends rec to the publish history
func (s *BoltStorage) SavePublish(rec PublishRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(publishBucket))

		if _, v := bucket.Cursor().Last(); v != nil {
			var last PublishRecord
			if err := json.Unmarshal(v, &last); err == nil && last.sameMessage(rec) {
				return nil
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal publish record: %w", err)
		}

		// Zero-padded UnixNano keys sort chronologically; bump on collision.
		ts := rec.Timestamp.UnixNano()
		key := []byte(fmt.Sprintf("%020d", ts))
		for bucket.Get(key) != nil {
			ts++
			key = []byte(fmt.Sprintf("%020d", ts))
		}
		return bucket.Put(key, data)
	})
}

// PublishHistory returns up to limit records, oldest first
func (s *BoltStorage) PublishHistory(limit int) ([]PublishRecord, error) {
	records := []PublishRecord{}
	if limit <= 0 {
		return records, nil
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(publishBucket)).Cursor()

		// Walk backwards from the newest entry, then reverse.
		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var rec PublishRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue // Skip corrupted entries
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// TrimPublishHistory keeps only the newest keep records
func (s *BoltStorage) TrimPublishHistory(keep int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(publishBucket))

		count := 0
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}

		excess := count - keep
		if excess <= 0 {
			return nil
		}

		// Collect first; deleting while iterating skips keys.
		keys := make([][]byte, 0, excess)
		for k, _ := c.First(); k != nil && len(keys) < excess; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("failed to delete old entry: %w", err)
			}
		}
		return nil
	})
}

// Close closes the storage
func (s *BoltStorage) Close() error {
	return s.db.Close()
}
