package docstore

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"confidencePoolAPI/internal/recovery"
)

// FirestoreStore adapts a Firestore client to the Store interface. Failures
// are classified at this layer so callers dispatch on error kind, not on
// message text.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) Get(ctx context.Context, path string, out any) error {
	snap, err := s.client.Doc(path).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return recovery.Wrap("firestore.get", err)
	}
	return decodeSnapshot(snap, out)
}

// decodeSnapshot classifies decode failures as data errors so both the plain
// and transactional read paths degrade to the safe default.
func decodeSnapshot(snap *firestore.DocumentSnapshot, out any) error {
	if err := snap.DataTo(out); err != nil {
		return &recovery.Error{Kind: recovery.KindData, Op: "firestore.decode", Err: err}
	}
	return nil
}

func (s *FirestoreStore) Set(ctx context.Context, path string, data any) error {
	if _, err := s.client.Doc(path).Set(ctx, data); err != nil {
		return recovery.Wrap("firestore.set", err)
	}
	return nil
}

func (s *FirestoreStore) Delete(ctx context.Context, path string) error {
	if _, err := s.client.Doc(path).Delete(ctx); err != nil {
		return recovery.Wrap("firestore.delete", err)
	}
	return nil
}

func (s *FirestoreStore) RunTransaction(ctx context.Context, fn func(tx Txn) error) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, t *firestore.Transaction) error {
		return fn(&firestoreTxn{client: s.client, tx: t})
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return recovery.Wrap("firestore.txn", err)
	}
	return nil
}

type firestoreTxn struct {
	client *firestore.Client
	tx     *firestore.Transaction
}

func (t *firestoreTxn) Get(path string, out any) error {
	snap, err := t.tx.Get(t.client.Doc(path))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return recovery.Wrap("firestore.txn.get", err)
	}
	return decodeSnapshot(snap, out)
}

func (t *firestoreTxn) Set(path string, data any) error {
	return t.tx.Set(t.client.Doc(path), data)
}
