// Package store is the storage capability the scheduling engine is handed.
// Values are JSON documents addressed by collection key. Update runs a
// read-modify-write over several keys as one atomic write, so a writer never
// loses records another writer added to the same collection.
package store

import (
	"context"
	"errors"
)

var ErrConflict = errors.New("store: concurrent update, transaction aborted")

// Txn is the view a transaction function gets. Get sees the transaction's own
// pending writes.
type Txn interface {
	Get(key string) []byte
	Put(key string, value []byte)
}

type Store interface {
	// Get returns nil when key has never been written.
	Get(ctx context.Context, key string) ([]byte, error)
	// Update reads keys, calls fn and commits fn's writes atomically. fn must
	// list in keys every key it reads or writes and may run more than once.
	Update(ctx context.Context, keys []string, fn func(Txn) error) error
	Ping(ctx context.Context) error
	Close() error
}

type txn struct {
	read   map[string][]byte
	writes map[string][]byte
}

func newTxn(read map[string][]byte) *txn {
	return &txn{read: read, writes: make(map[string][]byte)}
}

func (t *txn) Get(key string) []byte {
	if v, ok := t.writes[key]; ok {
		return v
	}
	return t.read[key]
}

func (t *txn) Put(key string, value []byte) {
	t.writes[key] = append([]byte(nil), value...)
}
