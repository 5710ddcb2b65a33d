package store

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/ezachrisen/arbiter"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var _ arbiter.LogStore = (*Store)(nil)

// logTime orders the logs of a rule by time in the keys.
const logTime = "20060102T150405.000000000"

func logPrefix(rule string) []byte {
	return []byte(rule + "/")
}

// PutLog stores an execution log under its rule.
func (s *Store) PutLog(l arbiter.ExecutionLog) error {
	if l.Time.IsZero() {
		l.Time = time.Now()
	}
	key := string(logPrefix(l.Rule)) + l.Time.UTC().Format(logTime) + "/" + l.EvalID
	return s.db.Update(func(tx *bolt.Tx) error {
		if l.Rule == "" {
			return errors.New("execution log without a rule")
		}
		return put(tx, bucketLogs, key, l)
	})
}

// Logs returns the execution logs of the rule, newest first.
func (s *Store) Logs(rule string) ([]arbiter.ExecutionLog, error) {
	return view(s, func(tx *bolt.Tx) ([]arbiter.ExecutionLog, error) {
		var out []arbiter.ExecutionLog
		err := eachLog(tx, rule, func(k, data []byte) error {
			var l arbiter.ExecutionLog
			if err := json.Unmarshal(data, &l); err != nil {
				return errors.Wrapf(err, "decoding %s %s", bucketLogs, k)
			}
			out = append(out, l)
			return nil
		})
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		return out, err
	})
}

// Log returns the execution log of the evaluation.
func (s *Store) Log(rule, evalID string) (arbiter.ExecutionLog, error) {
	logs, err := s.Logs(rule)
	if err != nil {
		return arbiter.ExecutionLog{}, err
	}
	for _, l := range logs {
		if l.EvalID == evalID {
			return l, nil
		}
	}
	return arbiter.ExecutionLog{}, errors.Wrapf(ErrNotFound, "%s %s/%s", bucketLogs, rule, evalID)
}

// DeleteLogs removes the execution logs of the rule and returns how many
// there were.
func (s *Store) DeleteLogs(rule string) (int, error) {
	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		n, err = deleteLogs(tx, rule)
		return err
	})
	return n, err
}

func deleteLogs(tx *bolt.Tx, rule string) (int, error) {
	var keys [][]byte
	err := eachLog(tx, rule, func(k, _ []byte) error {
		keys = append(keys, bytes.Clone(k))
		return nil
	})
	if err != nil {
		return 0, err
	}
	b := tx.Bucket([]byte(bucketLogs))
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func eachLog(tx *bolt.Tx, rule string, f func(k, data []byte) error) error {
	prefix := logPrefix(rule)
	b := tx.Bucket([]byte(bucketLogs))
	if b == nil {
		// read-only database created before logs were kept
		return nil
	}
	c := b.Cursor()
	for k, data := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, data = c.Next() {
		if err := f(k, data); err != nil {
			return err
		}
	}
	return nil
}
