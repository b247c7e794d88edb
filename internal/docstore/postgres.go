package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership-go/pkg/utilities"
)

// NotifyChannel is the LISTEN/NOTIFY channel the documents trigger publishes on.
const NotifyChannel = "docstore_changes"

// Postgres stores documents as jsonb rows keyed by (collection, key).
// Change notifications come from a trigger and are delivered by Watch.
type Postgres struct {
	db  *sqlx.DB
	hub *hub
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db, hub: newHub()}
}

// EnsureTable creates the documents table and its notify trigger (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (p *Postgres) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
  collection TEXT NOT NULL,
  key TEXT NOT NULL,
  body JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  PRIMARY KEY (collection, key)
);
CREATE INDEX IF NOT EXISTS idx_documents_body ON documents USING GIN (body jsonb_path_ops);
CREATE OR REPLACE FUNCTION docstore_notify() RETURNS trigger AS $$
BEGIN
  IF TG_OP = 'DELETE' THEN
    PERFORM pg_notify('docstore_changes', json_build_object('collection', OLD.collection, 'key', OLD.key, 'kind', 'removed')::text);
    RETURN OLD;
  END IF;
  PERFORM pg_notify('docstore_changes', json_build_object('collection', NEW.collection, 'key', NEW.key,
    'kind', CASE WHEN TG_OP = 'INSERT' THEN 'added' ELSE 'changed' END)::text);
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;
DROP TRIGGER IF EXISTS documents_notify ON documents;
CREATE TRIGGER documents_notify AFTER INSERT OR UPDATE OR DELETE ON documents
  FOR EACH ROW EXECUTE FUNCTION docstore_notify();
`
	_, err := p.db.ExecContext(ctx, ddl)
	return err
}

func (p *Postgres) Get(ctx context.Context, collection, key string, out any) error {
	const q = `SELECT body FROM documents WHERE collection=$1 AND key=$2`
	var body []byte
	if err := p.db.GetContext(ctx, &body, q, collection, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return unavailable("get", collection, key, err)
	}
	return json.Unmarshal(body, out)
}

func (p *Postgres) Set(ctx context.Context, collection, key string, doc any) error {
	const q = `INSERT INTO documents (collection, key, body) VALUES ($1, $2, $3)
		ON CONFLICT (collection, key) DO UPDATE SET body=EXCLUDED.body, updated_at=NOW()`
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	if _, err := p.db.ExecContext(ctx, q, collection, key, body); err != nil {
		return unavailable("set", collection, key, err)
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, collection, key string, doc any) error {
	const q = `INSERT INTO documents (collection, key, body) VALUES ($1, $2, $3)
		ON CONFLICT (collection, key) DO NOTHING`
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	res, err := p.db.ExecContext(ctx, q, collection, key, body)
	if err != nil {
		return unavailable("create", collection, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("create", collection, key, err)
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, collection, key string, fields map[string]any) error {
	const q = `UPDATE documents SET body = body || $3::jsonb, updated_at=NOW() WHERE collection=$1 AND key=$2`
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	res, err := p.db.ExecContext(ctx, q, collection, key, patch)
	if err != nil {
		return unavailable("update", collection, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("update", collection, key, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Remove(ctx context.Context, collection, key string) error {
	const q = `DELETE FROM documents WHERE collection=$1 AND key=$2`
	if _, err := p.db.ExecContext(ctx, q, collection, key); err != nil {
		return unavailable("remove", collection, key, err)
	}
	return nil
}

func (p *Postgres) Push(ctx context.Context, collection string, doc any) (string, error) {
	key := utilities.NewPushKey()
	if err := p.Create(ctx, collection, key, doc); err != nil {
		return "", err
	}
	return key, nil
}

type documentRow struct {
	Key  string `db:"key"`
	Body []byte `db:"body"`
}

func (p *Postgres) Query(ctx context.Context, collection string, q Query) ([]Record, error) {
	stmt, args, err := buildQuery(collection, q)
	if err != nil {
		return nil, err
	}
	var rows []documentRow
	if err := p.db.SelectContext(ctx, &rows, stmt, args...); err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "query "+collection, err)
	}
	out := make([]Record, len(rows))
	// LimitToLast selects descending; flip back to ascending.
	for i, r := range rows {
		idx := i
		if q.LimitToLast > 0 {
			idx = len(rows) - 1 - i
		}
		out[idx] = Record{Key: r.Key, Doc: r.Body}
	}
	return out, nil
}

func buildQuery(collection string, q Query) (string, []any, error) {
	var b strings.Builder
	args := []any{collection}
	b.WriteString(`SELECT key, body FROM documents WHERE collection=$1`)
	if q.Field != "" {
		want, err := json.Marshal(q.Equals)
		if err != nil {
			return "", nil, fmt.Errorf("encode filter: %w", err)
		}
		args = append(args, q.Field, want)
		fmt.Fprintf(&b, ` AND body->$%d = $%d::jsonb`, len(args)-1, len(args))
	}
	dir, nulls := "", "FIRST"
	if q.LimitToLast > 0 {
		dir, nulls = " DESC", "LAST"
	}
	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		fmt.Fprintf(&b, ` ORDER BY body->$%d%s NULLS %s, key%s`, len(args), dir, nulls, dir)
	} else {
		fmt.Fprintf(&b, ` ORDER BY key%s`, dir)
	}
	if q.LimitToLast > 0 {
		b.WriteString(` LIMIT ` + strconv.Itoa(q.LimitToLast))
	}
	return b.String(), args, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Subscribe(collection string, fn func(Change)) func() {
	return p.hub.subscribe(collection, fn)
}

func unavailable(op, collection, key string, err error) error {
	return apperr.Wrap(apperr.Unavailable, fmt.Sprintf("%s %s/%s", op, collection, key), err)
}
