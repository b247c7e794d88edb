package repo

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/application/entity"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/docstore"
)

const collection = "applications"

type ApplicationRepo struct {
	docs docstore.Store
}

func NewApplicationRepo(docs docstore.Store) *ApplicationRepo {
	return &ApplicationRepo{docs: docs}
}

// Insert stores a under a generated key and sets a.ID.
func (r *ApplicationRepo) Insert(ctx context.Context, a *entity.Application) error {
	a.ID = ""
	key, err := r.docs.Push(ctx, collection, a)
	if err != nil {
		return err
	}
	a.ID = key
	return nil
}

func (r *ApplicationRepo) Get(ctx context.Context, id string) (*entity.Application, error) {
	var a entity.Application
	if err := r.docs.Get(ctx, collection, id, &a); err != nil {
		return nil, err
	}
	a.ID = id
	return &a, nil
}

func (r *ApplicationRepo) Update(ctx context.Context, id string, fields map[string]any) error {
	return r.docs.Update(ctx, collection, id, fields)
}

// ByUser returns every application submitted by uid.
func (r *ApplicationRepo) ByUser(ctx context.Context, uid string) ([]*entity.Application, error) {
	return r.query(ctx, docstore.Query{Field: "userId", Equals: uid})
}

func (r *ApplicationRepo) ByStatus(ctx context.Context, status entity.Status) ([]*entity.Application, error) {
	return r.query(ctx, docstore.Query{Field: "status", Equals: string(status)})
}

func (r *ApplicationRepo) List(ctx context.Context) ([]*entity.Application, error) {
	return r.query(ctx, docstore.Query{})
}

// Watch calls fn with the owner of every added, changed or removed
// application. Removals carry no document, so uid is "" for them.
func (r *ApplicationRepo) Watch(fn func(uid string)) (cancel func()) {
	return r.docs.Subscribe(collection, func(c docstore.Change) {
		var a struct {
			UserID string `json:"userId"`
		}
		if c.Doc != nil {
			_ = (docstore.Record{Doc: c.Doc}).Decode(&a)
		}
		fn(a.UserID)
	})
}

func (r *ApplicationRepo) query(ctx context.Context, q docstore.Query) ([]*entity.Application, error) {
	recs, err := r.docs.Query(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Application, 0, len(recs))
	for _, rec := range recs {
		var a entity.Application
		if err := rec.Decode(&a); err != nil {
			return nil, err
		}
		a.ID = rec.Key
		out = append(out, &a)
	}
	return out, nil
}
