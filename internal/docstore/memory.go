package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/ovaphlow/pitchfork/service-membership-go/pkg/utilities"
)

// Memory is an in-process Store used for development and tests.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]json.RawMessage
	hub  *hub
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]json.RawMessage), hub: newHub()}
}

func (m *Memory) Get(ctx context.Context, collection, key string, out any) error {
	m.mu.RLock()
	raw, ok := m.data[collection][key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (m *Memory) Set(ctx context.Context, collection, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	m.mu.Lock()
	_, existed := m.data[collection][key]
	m.put(collection, key, raw)
	m.mu.Unlock()

	kind := Added
	if existed {
		kind = Changed
	}
	m.hub.publish(Change{Collection: collection, Key: key, Kind: kind, Doc: raw})
	return nil
}

func (m *Memory) Create(ctx context.Context, collection, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	m.mu.Lock()
	if _, ok := m.data[collection][key]; ok {
		m.mu.Unlock()
		return ErrExists
	}
	m.put(collection, key, raw)
	m.mu.Unlock()

	m.hub.publish(Change{Collection: collection, Key: key, Kind: Added, Doc: raw})
	return nil
}

func (m *Memory) Update(ctx context.Context, collection, key string, fields map[string]any) error {
	m.mu.Lock()
	raw, ok := m.data[collection][key]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	merged, err := merge(raw, fields)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("merge %s/%s: %w", collection, key, err)
	}
	m.put(collection, key, merged)
	m.mu.Unlock()

	m.hub.publish(Change{Collection: collection, Key: key, Kind: Changed, Doc: merged})
	return nil
}

func (m *Memory) Remove(ctx context.Context, collection, key string) error {
	m.mu.Lock()
	_, ok := m.data[collection][key]
	delete(m.data[collection], key)
	m.mu.Unlock()
	if ok {
		m.hub.publish(Change{Collection: collection, Key: key, Kind: Removed})
	}
	return nil
}

func (m *Memory) Push(ctx context.Context, collection string, doc any) (string, error) {
	key := utilities.NewPushKey()
	if err := m.Create(ctx, collection, key, doc); err != nil {
		return "", err
	}
	return key, nil
}

func (m *Memory) Query(ctx context.Context, collection string, q Query) ([]Record, error) {
	var want any
	if q.Field != "" {
		var err error
		if want, err = normalize(q.Equals); err != nil {
			return nil, fmt.Errorf("encode filter: %w", err)
		}
	}

	type row struct {
		rec Record
		ord any
	}
	m.mu.RLock()
	rows := make([]row, 0, len(m.data[collection]))
	for key, raw := range m.data[collection] {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			m.mu.RUnlock()
			return nil, fmt.Errorf("decode %s/%s: %w", collection, key, err)
		}
		if q.Field != "" && !reflect.DeepEqual(fields[q.Field], want) {
			continue
		}
		r := row{rec: Record{Key: key, Doc: raw}}
		if q.OrderBy != "" {
			r.ord = fields[q.OrderBy]
		}
		rows = append(rows, r)
	}
	m.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if c := compareValues(rows[i].ord, rows[j].ord); c != 0 {
			return c < 0
		}
		return rows[i].rec.Key < rows[j].rec.Key
	})
	if q.LimitToLast > 0 && len(rows) > q.LimitToLast {
		rows = rows[len(rows)-q.LimitToLast:]
	}
	out := make([]Record, len(rows))
	for i, r := range rows {
		out[i] = r.rec
	}
	return out, nil
}

func (m *Memory) Subscribe(collection string, fn func(Change)) func() {
	return m.hub.subscribe(collection, fn)
}

// Subscribers reports the live subscription count for collection.
func (m *Memory) Subscribers(collection string) int {
	return m.hub.count(collection)
}

// put must be called with m.mu held.
func (m *Memory) put(collection, key string, raw json.RawMessage) {
	if m.data[collection] == nil {
		m.data[collection] = make(map[string]json.RawMessage)
	}
	m.data[collection][key] = raw
}

func merge(raw json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		doc[k] = v
	}
	return json.Marshal(doc)
}

// normalize gives v the shape it would have after a JSON round trip, so a
// filter on an int matches a decoded float64.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(raw, &out)
	return out, err
}

// compareValues orders missing < string < number < bool, the same order
// jsonb uses for scalars.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case string:
		bv := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case string:
		return 1
	case float64:
		return 2
	case bool:
		return 3
	default:
		return 4
	}
}
