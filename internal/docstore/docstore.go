// Package docstore abstracts the document database behind get/set/delete by
// path plus a multi-write transaction, which is all the pool needs.
package docstore

import (
	"context"
	"errors"
)

// ErrNotFound reports that no document exists at the requested path. Absence
// is a normal domain condition here (week not migrated yet, user without
// picks), so it is a sentinel rather than a classified failure.
var ErrNotFound = errors.New("docstore: document not found")

// Txn is the view of the store inside a transaction. Reads issued through it
// are part of the transaction, so read-modify-write sequences are isolated
// by the underlying store.
type Txn interface {
	Get(path string, out any) error
	Set(path string, data any) error
}

type Store interface {
	Get(ctx context.Context, path string, out any) error
	Set(ctx context.Context, path string, data any) error
	Delete(ctx context.Context, path string) error
	RunTransaction(ctx context.Context, fn func(tx Txn) error) error
}
