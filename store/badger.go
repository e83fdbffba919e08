package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/alimasry/go-block-editor/ot"
)

const (
	docKeyPrefix = "doc:" // doc:<id> -> DocumentInfo
	opKeyPrefix  = "op:"  // op:<id>:<index> -> ot.Operation
)

// BadgerStore is an embedded, on-disk implementation of DocumentStore.
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerStore opens (or creates) a Badger database in dir.
func NewBadgerStore(dir string, log *logrus.Entry) (*BadgerStore, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create badger dir %s: %w", dir, err)
	}
	opts := badger.DefaultOptions(dir).
		WithLogger(log.WithField("component", "badgerdb")).
		WithNumVersionsToKeep(1)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database at %s: %w", dir, err)
	}
	log.WithField("dir", dir).Info("badger store opened")
	return &BadgerStore{db: db, log: log.WithField("component", "badger_store")}, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func docKey(id string) []byte { return []byte(docKeyPrefix + id) }

func opPrefix(id string) []byte { return []byte(opKeyPrefix + id + ":") }

func opKey(id string, index int) []byte {
	return []byte(opKeyPrefix + id + ":" + historyKey(index))
}

const maxConflictRetries = 10

// update wraps db.Update, retrying on transaction conflicts.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("transaction conflict not resolved after %d retries", maxConflictRetries)
}

func getInfo(txn *badger.Txn, id string) (*DocumentInfo, error) {
	item, err := txn.Get(docKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var info DocumentInfo
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &info)
	}); err != nil {
		return nil, fmt.Errorf("decode document %q: %w", id, err)
	}
	return &info, nil
}

func putInfo(txn *badger.Txn, info *DocumentInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return txn.Set(docKey(info.ID), data)
}

func (s *BadgerStore) Create(_ context.Context, id, content string) error {
	return s.update(func(txn *badger.Txn) error {
		_, err := txn.Get(docKey(id))
		if err == nil {
			return fmt.Errorf("%w: %q", ErrExists, id)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		now := time.Now()
		return putInfo(txn, &DocumentInfo{ID: id, Content: content, CreatedAt: now, UpdatedAt: now})
	})
}

func (s *BadgerStore) Get(_ context.Context, id string) (*DocumentInfo, error) {
	var info *DocumentInfo
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		info, err = getInfo(txn, id)
		return err
	})
	return info, err
}

// List returns all documents ordered by ID.
func (s *BadgerStore) List(_ context.Context) ([]DocumentInfo, error) {
	var result []DocumentInfo
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(docKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var info DocumentInfo
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			result = append(result, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *BadgerStore) UpdateContent(_ context.Context, id, content string, version int) error {
	return s.update(func(txn *badger.Txn) error {
		info, err := getInfo(txn, id)
		if err != nil {
			return err
		}
		info.Content = content
		info.Version = version
		info.UpdatedAt = time.Now()
		return putInfo(txn, info)
	})
}

// AppendOperation stores op under index version-1, matching the
// history[fromVersion:] semantics of GetOperations. The document's
// version only moves with UpdateContent, so a reader can tell which
// operations the stored content is missing.
func (s *BadgerStore) AppendOperation(_ context.Context, id string, op ot.Operation, version int) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode operation: %w", err)
	}
	return s.update(func(txn *badger.Txn) error {
		info, err := getInfo(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Set(opKey(id, version-1), data); err != nil {
			return err
		}
		info.UpdatedAt = time.Now()
		return putInfo(txn, info)
	})
}

func (s *BadgerStore) GetOperations(_ context.Context, id string, fromVersion int) ([]ot.Operation, error) {
	if fromVersion < 0 {
		return nil, fmt.Errorf("invalid version %d", fromVersion)
	}
	var ops []ot.Operation
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := getInfo(txn, id); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = opPrefix(id)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opKey(id, fromVersion)); it.Valid(); it.Next() {
			var op ot.Operation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &op)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			ops = append(ops, op)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}
