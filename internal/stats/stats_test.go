package stats

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appentity "github.com/ovaphlow/pitchfork/service-membership-go/internal/application/entity"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/update"
	updateentity "github.com/ovaphlow/pitchfork/service-membership-go/internal/update/entity"
)

type counts struct {
	accounts int
	byStatus map[appentity.Status]int
	err      error
}

func (c counts) CountAccounts(context.Context) (int, error) { return c.accounts, c.err }

func (c counts) CountByStatus(_ context.Context, s appentity.Status) (int, error) {
	return c.byStatus[s], nil
}

type feed struct{ post *updateentity.Post }

func (f feed) Latest(context.Context) (*updateentity.Post, error) {
	if f.post == nil {
		return nil, update.ErrNotFound
	}
	return f.post, nil
}

func TestSummary(t *testing.T) {
	c := counts{accounts: 5, byStatus: map[appentity.Status]int{appentity.StatusApproved: 3, appentity.StatusPending: 1}}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	sum, err := NewService(c, c, feed{post: &updateentity.Post{Timestamp: at.UnixMilli()}}).Summary(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, sum.Accounts)
	require.Equal(t, 3, sum.Members)
	require.Equal(t, 1, sum.Pending)
	require.Equal(t, at, *sum.LatestUpdate)

	sum, err = NewService(c, c, feed{}).Summary(context.Background())
	require.NoError(t, err)
	require.Nil(t, sum.LatestUpdate)
}

func TestSummaryHandlerError(t *testing.T) {
	c := counts{err: errors.New("boom")}
	h := NewHandler(NewService(c, c, feed{}), zap.NewNop().Sugar())
	rec := httptest.NewRecorder()
	h.Summary(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
