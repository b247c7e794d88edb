// Package docstore is the document database the services persist to: keyed
// documents grouped in collections, with conditional creates, shallow merges,
// generated keys, filtered/ordered queries and change subscriptions.
package docstore

import (
	"context"
	"encoding/json"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/apperr"
)

var (
	ErrNotFound = apperr.New(apperr.NotFound, "document not found")
	ErrExists   = apperr.New(apperr.Conflict, "document already exists")
)

type ChangeKind string

const (
	Added   ChangeKind = "added"
	Changed ChangeKind = "changed"
	Removed ChangeKind = "removed"
)

// Change is delivered to subscribers after a write is committed. Doc is nil
// for removals.
type Change struct {
	Collection string          `json:"collection"`
	Key        string          `json:"key"`
	Kind       ChangeKind      `json:"kind"`
	Doc        json.RawMessage `json:"-"`
}

type Record struct {
	Key string
	Doc json.RawMessage
}

func (r Record) Decode(out any) error {
	return json.Unmarshal(r.Doc, out)
}

// Query selects documents of one collection. Zero values disable a clause:
// an empty Field means no filter, an empty OrderBy orders by key and a zero
// LimitToLast returns every match. Results are always ascending.
type Query struct {
	Field       string
	Equals      any
	OrderBy     string
	LimitToLast int
}

type Store interface {
	Get(ctx context.Context, collection, key string, out any) error
	// Set writes the whole document, creating it if needed.
	Set(ctx context.Context, collection, key string, doc any) error
	// Create writes only if no document exists under key; ErrExists otherwise.
	Create(ctx context.Context, collection, key string, doc any) error
	// Update merges top-level fields into an existing document.
	Update(ctx context.Context, collection, key string, fields map[string]any) error
	// Remove deletes the document; removing a missing key is not an error.
	Remove(ctx context.Context, collection, key string) error
	// Push inserts under a generated, time ordered key.
	Push(ctx context.Context, collection string, doc any) (string, error)
	Query(ctx context.Context, collection string, q Query) ([]Record, error)
	// Subscribe registers fn for changes in collection. The returned func
	// cancels the subscription and may be called more than once.
	Subscribe(collection string, fn func(Change)) (cancel func())
}
