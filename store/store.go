// Package store persists the definitions of a deployment (folders,
// contexts, error codes and rules) in a bbolt database, one bucket per
// kind of definition, one JSON document per key. It also keeps the
// execution logs of rules evaluated in debug mode.
package store

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketElements = "elements"
	bucketContexts = "contexts"
	bucketErrors   = "errors"
	bucketRules    = "rules"
	bucketLogs     = "logs"
)

// ErrNotFound is returned when no definition has the requested key.
var ErrNotFound = errors.New("not found")

// initDB is the list of functions run in one transaction when a
// database is opened.
var initDB = map[string]func(tx *bolt.Tx) error{}

func init() {
	for _, b := range []string{bucketElements, bucketContexts, bucketErrors, bucketRules, bucketLogs} {
		name := b
		initDB["initialize "+name+" bucket"] = func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists([]byte(name))
			return err
		}
	}
}

// Store is a bbolt database of definitions. It is safe for concurrent
// use; bbolt allows one writer and many readers.
type Store struct {
	db *bolt.DB
}

// Options configure how the database is opened.
type Options struct {
	// Timeout waiting for the lock of a database opened by another
	// process (0 waits forever).
	Timeout time.Duration

	ReadOnly bool
}

// Open opens or creates the database at path, waiting at most one
// second for the file lock.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, Options{Timeout: time.Second})
}

// OpenWithOptions opens or creates the database at path.
func OpenWithOptions(path string, opts Options) (*Store, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: opts.Timeout, ReadOnly: opts.ReadOnly})
	if err != nil {
		return nil, errors.Wrapf(err, "opening store %s", path)
	}
	if !opts.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			names := make([]string, 0, len(initDB))
			for name := range initDB {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if err := initDB[name](tx); err != nil {
					return errors.Wrap(err, name)
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path is the file of the database.
func (s *Store) Path() string {
	return s.db.Path()
}

func put(tx *bolt.Tx, bucket, key string, v any) error {
	if key == "" {
		return errors.Errorf("empty key in %s", bucket)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encoding %s %s", bucket, key)
	}
	return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
}

func get(tx *bolt.Tx, bucket, key string, v any) error {
	data := tx.Bucket([]byte(bucket)).Get([]byte(key))
	if data == nil {
		return errors.Wrapf(ErrNotFound, "%s %s", bucket, key)
	}
	return errors.Wrapf(json.Unmarshal(data, v), "decoding %s %s", bucket, key)
}

func del(tx *bolt.Tx, bucket, key string) error {
	b := tx.Bucket([]byte(bucket))
	if b.Get([]byte(key)) == nil {
		return errors.Wrapf(ErrNotFound, "%s %s", bucket, key)
	}
	return b.Delete([]byte(key))
}

// list decodes every document of the bucket, in key order.
func list[T any](tx *bolt.Tx, bucket string) ([]T, error) {
	var out []T
	c := tx.Bucket([]byte(bucket)).Cursor()
	for k, data := c.First(); k != nil; k, data = c.Next() {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, errors.Wrapf(err, "decoding %s %s", bucket, k)
		}
		out = append(out, v)
	}
	return out, nil
}

func view[T any](s *Store, f func(tx *bolt.Tx) (T, error)) (T, error) {
	var out T
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = f(tx)
		return err
	})
	return out, err
}
