package hub_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/castflow/internal/gate"
	"github.com/jonesrussell/castflow/internal/hub"
	"github.com/jonesrussell/castflow/internal/logger"
	"github.com/jonesrussell/castflow/internal/metrics"
	"github.com/jonesrussell/castflow/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) *hub.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g := gate.New(gate.Config{
		MaxRetries:        -1,
		RetryInitialDelay: time.Millisecond,
	}, logger.NewNopLogger(), metrics.NewNop())

	return hub.NewClient(hub.Config{BaseURL: srv.URL}, g, logger.NewNopLogger())
}

func TestProofByHandleResolvesIdentity(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/proofByHandle", r.URL.Path)
		assert.Equal(t, "dwr", r.URL.Query().Get("name"))
		_, _ = w.Write([]byte(`{"messages": [{"data": {"type": 11, "fid": 5650}, "hash": "0x01"}]}`))
	}))

	fid, err := client.ProofByHandle(context.Background(), "dwr")
	require.NoError(t, err)
	assert.Equal(t, uint64(5650), fid)
}

func TestProofByHandleMapsMissingProofToNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": "no proof"}`, http.StatusNotFound)
	}))

	_, err := client.ProofByHandle(context.Background(), "ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPostsByIdentitySendsPaginationParams(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "5650", q.Get("fid"))
		assert.Equal(t, "40", q.Get("pageSize"))
		assert.Equal(t, "true", q.Get("reverse"))
		assert.Equal(t, "tok-1", q.Get("pageToken"))
		_, _ = w.Write([]byte(`{"messages": [], "nextPageToken": "tok-2"}`))
	}))

	env, err := client.PostsByIdentity(context.Background(), 5650, 40, true, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", env.NextPageToken)
}

func TestReactionCountCountsEnvelopeRecords(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "5650", q.Get("target_fid"))
		assert.Equal(t, "0xabc", q.Get("target_hash"))
		assert.Equal(t, hub.ReactionLike, q.Get("reaction_type"))
		_, _ = w.Write([]byte(`{"messages": [
			{"data": {"type": 3, "fid": 1}, "hash": "0x10"},
			{"data": {"type": 3, "fid": 2}, "hash": "0x11"},
			{"data": {"type": 3, "fid": 3}, "hash": "0x12"}
		]}`))
	}))

	count, err := client.ReactionCount(context.Background(),
		models.PostRef{Fid: 5650, Hash: "0xabc"}, hub.ReactionLike)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestClientMapsRateLimitToTransientError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.ProfileDataByIdentity(context.Background(), 5650)
	assert.ErrorIs(t, err, models.ErrRateLimited)
	assert.True(t, models.IsTransient(err))
}

func TestClientWrapsServerErrors(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))

	_, err := client.ProfileDataByIdentity(context.Background(), 5650)

	var upstream *models.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, hub.EndpointProfileDataByIdentity, upstream.Endpoint)
	assert.Equal(t, http.StatusInternalServerError, upstream.StatusCode)
	assert.False(t, models.IsTransient(err))
}

func TestClientWrapsMalformedEnvelopes(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"messages": [`))
	}))

	_, err := client.ProfileDataByIdentity(context.Background(), 5650)

	var upstream *models.UpstreamError
	assert.ErrorAs(t, err, &upstream)
}

func TestPostByIDReturnsFirstRecord(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0xparent", r.URL.Query().Get("hash"))
		_, _ = w.Write([]byte(`{"messages": [{"data": {"type": 1, "fid": 99, "timestamp": 50,
			"castAddBody": {"text": "the parent"}}, "hash": "0xparent"}]}`))
	}))

	msg, err := client.PostByID(context.Background(), models.PostRef{Fid: 99, Hash: "0xparent"})
	require.NoError(t, err)

	post, ok := msg.ToPost()
	require.True(t, ok)
	assert.Equal(t, "the parent", post.Text)
	assert.Equal(t, uint64(99), post.AuthorFid)
}

func TestPostByIDEmptyEnvelopeIsNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"messages": []}`))
	}))

	_, err := client.PostByID(context.Background(), models.PostRef{Fid: 99, Hash: "0xgone"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}
