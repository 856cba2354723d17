package keap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/source"
)

func newTestClient(t *testing.T, h http.HandlerFunc, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		BaseURL:     srv.URL,
		AccessToken: "secret-token",
		Timeout:     time.Second,
		MaxRetries:  retries,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}, slog.Default())
}

func TestClient_ListChanged(t *testing.T) {
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		assert.Equal(t, "4", r.URL.Query().Get("offset"))
		assert.Equal(t, "2024-06-01T00:00:00Z", r.URL.Query().Get("since"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"orders": [{"id": 5}, {"id": 6}], "count": 7}`))
	}, 0)

	page, err := client.ListChanged(context.Background(), entity.TypeOrder, &since, source.PageRequest{Offset: 4, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.JSONEq(t, `{"id": 5}`, string(page.Items[0]))
	assert.True(t, page.HasMore)
}

func TestClient_ListChanged_HasMore(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{name: "count exhausted", body: `{"tags": [{"id": 1}], "count": 1}`, want: false},
		{name: "next link", body: `{"tags": [{"id": 1}], "next": "https://api/v1/tags?offset=1"}`, want: true},
		{name: "no hints", body: `{"tags": [{"id": 1}]}`, want: false},
		{name: "empty page", body: `{"tags": [], "next": "https://api/v1/tags?offset=1"}`, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}, 0)
			page, err := client.ListChanged(context.Background(), entity.TypeTag, nil, source.PageRequest{Limit: 1})
			require.NoError(t, err)
			assert.Equal(t, tt.want, page.HasMore)
		})
	}
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id": 42}`))
	}, 3)

	raw, err := client.GetEntity(context.Background(), entity.TypeContact, "42")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": 42}`, string(raw))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, 2)

	_, err := client.ListChanged(context.Background(), entity.TypeContact, nil, source.PageRequest{Limit: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrTransientFetch)

	var terr *source.TransientFetchError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 3, terr.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_TimeoutIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, 1)
	client.timeout = 20 * time.Millisecond

	_, err := client.GetEntity(context.Background(), entity.TypeOrder, "1")
	assert.ErrorIs(t, err, source.ErrTransientFetch)
}

func TestClient_NotFoundAndClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/v1/contacts/404" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message": "Invalid Access Token"}`))
	}, 3)

	_, err := client.GetEntity(context.Background(), entity.TypeContact, "404")
	assert.ErrorIs(t, err, source.ErrEntityNotFound)

	_, err = client.GetEntity(context.Background(), entity.TypeContact, "1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, source.ErrTransientFetch)
	assert.Contains(t, err.Error(), "Invalid Access Token")
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_RetryDelay(t *testing.T) {
	c := NewClient(Options{BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}, slog.Default())

	assert.Equal(t, 100*time.Millisecond, c.retryDelay(1, ""))
	assert.Equal(t, 200*time.Millisecond, c.retryDelay(2, ""))
	assert.Equal(t, 800*time.Millisecond, c.retryDelay(4, ""))
	assert.Equal(t, 2*time.Second, c.retryDelay(10, ""))
	assert.Equal(t, time.Second, c.retryDelay(1, "1"))
	assert.Equal(t, 2*time.Second, c.retryDelay(1, "30"))
	assert.Equal(t, 100*time.Millisecond, c.retryDelay(1, "soon"))
}
