package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Store.Get when no document matches.
var ErrNotFound = errors.New("not found")

// Document is one stored record. Data holds the JSON encoding of the domain
// value; the other fields are the indexed columns it can be looked up by.
type Document struct {
	Kind      string
	ID        string
	OwnerID   string
	Key       string
	Status    string
	CreatedAt time.Time
	Data      []byte
}

// Filter matches documents of one kind. Empty fields match anything.
type Filter struct {
	OwnerID string
	Key     string
	Status  string
}

func (f Filter) match(d Document) bool {
	return (f.OwnerID == "" || d.OwnerID == f.OwnerID) &&
		(f.Key == "" || d.Key == f.Key) &&
		(f.Status == "" || d.Status == f.Status)
}

// Store persists documents for the development backend.
type Store interface {
	// Put inserts or replaces the document with the same kind and id.
	Put(ctx context.Context, doc Document) error
	Get(ctx context.Context, kind, id string) (Document, error)
	// Find returns matches ordered by CreatedAt, then ID.
	Find(ctx context.Context, kind string, f Filter) ([]Document, error)
	Close() error
}

const (
	kindUser         = "user"
	kindJob          = "job"
	kindOffer        = "offer"
	kindPayment      = "payment"
	kindWallet       = "wallet"
	kindTransaction  = "wallet_tx"
	kindPayout       = "payout"
	kindReview       = "review"
	kindProvider     = "provider"
	kindConversation = "conversation"
	kindMessage      = "message"
)

type index struct {
	OwnerID   string
	Key       string
	Status    string
	CreatedAt time.Time
}

func putDoc[T any](ctx context.Context, st Store, kind, id string, idx index, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	return st.Put(ctx, Document{
		Kind:      kind,
		ID:        id,
		OwnerID:   idx.OwnerID,
		Key:       idx.Key,
		Status:    idx.Status,
		CreatedAt: idx.CreatedAt.UTC(),
		Data:      data,
	})
}

func getDoc[T any](ctx context.Context, st Store, kind, id string) (T, error) {
	var v T
	doc, err := st.Get(ctx, kind, id)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(doc.Data, &v); err != nil {
		return v, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return v, nil
}

func findDocs[T any](ctx context.Context, st Store, kind string, f Filter) ([]T, error) {
	docs, err := st.Find(ctx, kind, f)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal(doc.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", kind, doc.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}
