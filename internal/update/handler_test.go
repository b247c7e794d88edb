package update

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/update/entity"
)

func newMux(t *testing.T) (*http.ServeMux, *Service) {
	t.Helper()
	s, _, _, _ := newTestService(t, 0)
	h := NewHandler(s, zap.NewNop().Sugar())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /updates", h.List)
	mux.HandleFunc("POST /updates", h.Create)
	mux.HandleFunc("PUT /updates/{id}/pin", h.Pin)
	mux.HandleFunc("DELETE /updates/{id}", h.Delete)
	return mux, s
}

func as(t *testing.T, r *http.Request, uid string) *http.Request {
	t.Helper()
	clock := clockwork.NewFakeClock()
	s := session.NewManager(session.NewIssuer("k", "test", clock), session.NewMemoryStore(clock), time.Hour).New()
	if uid != "" {
		_, err := s.SignIn(context.Background(), uid)
		require.NoError(t, err)
	}
	return r.WithContext(session.WithContext(r.Context(), s))
}

func serve(mux http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)
	return rec
}

func TestHandlerFeed(t *testing.T) {
	mux, _ := newMux(t)

	rec := serve(mux, as(t, httptest.NewRequest(http.MethodPost, "/updates", strings.NewReader(`{"message":"hi"}`)), ""))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(mux, as(t, httptest.NewRequest(http.MethodPost, "/updates", strings.NewReader(`{"message":"hi"}`)), "u-alice"))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(mux, as(t, httptest.NewRequest(http.MethodPost, "/updates", strings.NewReader(`{"message":"hi"}`)), "u-lord"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var p entity.Post
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))

	rec = serve(mux, as(t, httptest.NewRequest(http.MethodPut, "/updates/"+p.ID+"/pin", strings.NewReader(`{"pinned":true}`)), "u-lord"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(mux, httptest.NewRequest(http.MethodGet, "/updates?limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var posts []entity.Post
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posts))
	require.Len(t, posts, 1)
	require.True(t, posts[0].IsPinned)

	rec = serve(mux, httptest.NewRequest(http.MethodGet, "/updates?limit=x", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	for i := 0; i < 2; i++ {
		rec = serve(mux, as(t, httptest.NewRequest(http.MethodDelete, "/updates/"+p.ID, nil), "u-lord"))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
}
