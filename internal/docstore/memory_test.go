package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type doc struct {
	Name      string `json:"name"`
	Status    string `json:"status,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	IsPinned  bool   `json:"isPinned,omitempty"`
}

func TestMemoryGetSetUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var got doc
	require.ErrorIs(t, m.Get(ctx, "users", "u1", &got), ErrNotFound)

	require.NoError(t, m.Set(ctx, "users", "u1", doc{Name: "alice"}))
	require.NoError(t, m.Update(ctx, "users", "u1", map[string]any{"status": "active"}))
	require.NoError(t, m.Get(ctx, "users", "u1", &got))
	require.Equal(t, doc{Name: "alice", Status: "active"}, got)

	err := m.Update(ctx, "users", "missing", map[string]any{"status": "x"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCreateIsConditional(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, "usernames", "alice", "uid-1"))
	err := m.Create(ctx, "usernames", "alice", "uid-2")
	require.True(t, errors.Is(err, ErrExists))

	var uid string
	require.NoError(t, m.Get(ctx, "usernames", "alice", &uid))
	require.Equal(t, "uid-1", uid)
}

func TestMemoryRemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "updates", "p1", doc{Name: "x"}))
	require.NoError(t, m.Remove(ctx, "updates", "p1"))
	require.NoError(t, m.Remove(ctx, "updates", "p1"))
	var got doc
	require.ErrorIs(t, m.Get(ctx, "updates", "p1", &got), ErrNotFound)
}

func TestMemoryQueryFilterOrderLimit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "updates", "a", doc{Name: "a", Timestamp: 30, Status: "x"}))
	require.NoError(t, m.Set(ctx, "updates", "b", doc{Name: "b", Timestamp: 10, Status: "x"}))
	require.NoError(t, m.Set(ctx, "updates", "c", doc{Name: "c", Timestamp: 20, Status: "y"}))
	require.NoError(t, m.Set(ctx, "updates", "d", doc{Name: "d", Timestamp: 20, Status: "x"}))

	recs, err := m.Query(ctx, "updates", Query{OrderBy: "timestamp"})
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "d", "a"}, keys(recs))

	recs, err = m.Query(ctx, "updates", Query{OrderBy: "timestamp", LimitToLast: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"d", "a"}, keys(recs))

	recs, err = m.Query(ctx, "updates", Query{Field: "status", Equals: "x"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "d"}, keys(recs))

	recs, err = m.Query(ctx, "updates", Query{Field: "timestamp", Equals: 20})
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d"}, keys(recs))

	var first doc
	require.NoError(t, recs[0].Decode(&first))
	require.Equal(t, "c", first.Name)
}

func TestMemoryPushKeysAreOrdered(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	k1, err := m.Push(ctx, "applications", doc{Name: "one"})
	require.NoError(t, err)
	k2, err := m.Push(ctx, "applications", doc{Name: "two"})
	require.NoError(t, err)
	require.Greater(t, k2, k1)

	recs, err := m.Query(ctx, "applications", Query{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

func TestMemorySubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var got []Change
	cancel := m.Subscribe("updates", func(c Change) { got = append(got, c) })

	require.NoError(t, m.Set(ctx, "updates", "p1", doc{Name: "x"}))
	require.NoError(t, m.Update(ctx, "updates", "p1", map[string]any{"isPinned": true}))
	require.NoError(t, m.Remove(ctx, "updates", "p1"))
	require.NoError(t, m.Set(ctx, "users", "u1", doc{Name: "other collection"}))

	require.Len(t, got, 3)
	require.Equal(t, Added, got[0].Kind)
	require.Equal(t, Changed, got[1].Kind)
	require.Equal(t, Removed, got[2].Kind)
	require.Nil(t, got[2].Doc)

	require.Equal(t, 1, m.Subscribers("updates"))
	cancel()
	cancel()
	require.Equal(t, 0, m.Subscribers("updates"))

	require.NoError(t, m.Set(ctx, "updates", "p2", doc{Name: "y"}))
	require.Len(t, got, 3)
}

func TestCompareValues(t *testing.T) {
	require.Equal(t, -1, compareValues(nil, "a"))
	require.Equal(t, -1, compareValues("z", 1.0))
	require.Equal(t, -1, compareValues(1.0, 2.0))
	require.Equal(t, 1, compareValues(true, false))
	require.Equal(t, 0, compareValues("a", "a"))
}

func keys(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Key
	}
	return out
}
