package user

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
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/user/entity"
)

func signedIn(t *testing.T, r *http.Request, uid string) *http.Request {
	t.Helper()
	clock := clockwork.NewFakeClock()
	m := session.NewManager(session.NewIssuer("secret", "test", clock), session.NewMemoryStore(clock), time.Hour)
	s := m.New()
	if uid != "" {
		_, err := s.SignIn(context.Background(), uid)
		require.NoError(t, err)
	}
	return r.WithContext(session.WithContext(r.Context(), s))
}

func TestHandlerProfile(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	h := NewHandler(f.svc, zap.NewNop().Sugar())

	rec := httptest.NewRecorder()
	h.Profile(rec, signedIn(t, httptest.NewRequest(http.MethodGet, "/profile", nil), ""))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	body := strings.NewReader(`{"bio":"hi","username":"alice_b"}`)
	h.UpdateProfile(rec, signedIn(t, httptest.NewRequest(http.MethodPatch, "/profile", body), alice.UID))
	require.Equal(t, http.StatusOK, rec.Code)
	var got entity.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "alice_b", got.Username)
	require.Equal(t, "hi", got.Bio)

	rec = httptest.NewRecorder()
	body = strings.NewReader(`{"isBanned":false}`)
	h.UpdateProfile(rec, signedIn(t, httptest.NewRequest(http.MethodPatch, "/profile", body), alice.UID))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerLookupUsername(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	h := NewHandler(f.svc, zap.NewNop().Sugar())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /usernames/{username}", h.LookupUsername)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/usernames/ALICE", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "email")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/usernames/bob", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerBan(t *testing.T) {
	f := newFixture(t)
	admin := f.register(t, "krsxh")
	alice := f.register(t, "alice")
	h := NewHandler(f.svc, zap.NewNop().Sugar())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/users/{username}/ban", h.Ban)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, signedIn(t, httptest.NewRequest(http.MethodPost, "/admin/users/krsxh/ban", nil), alice.UID))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, signedIn(t, httptest.NewRequest(http.MethodPost, "/admin/users/alice/ban", nil), admin.UID))
	require.Equal(t, http.StatusNoContent, rec.Code)

	acct, err := f.svc.Get(context.Background(), alice.UID)
	require.NoError(t, err)
	require.True(t, acct.IsBanned)
}
