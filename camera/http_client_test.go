package camera

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchMapPayload_Success(t *testing.T) {
	doc := squareHypferDoc(10, 5, [2]int{5, 5}, [2]int{1, 1}, 0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	defer srv.Close()

	body, err := FetchMapPayload(context.Background(), srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	assert.Equal(t, doc, body)
}

func TestFetchMapPayload_EmptyURL(t *testing.T) {
	_, err := FetchMapPayload(context.Background(), "")
	assert.ErrorContains(t, err, "API URL is empty")
}

func TestFetchMapPayload_Undecodable(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte(`{"pixelSize": 5}`))
	}))
	defer srv.Close()

	_, err := FetchMapPayload(context.Background(), srv.URL, WithHTTPClient(srv.Client()), WithBaseBackoff(time.Millisecond))
	assert.ErrorIs(t, err, ErrSchema)
	assert.Equal(t, int32(1), attempts.Load(), "decode errors are not retried")
}

func TestFetchMapPayload_Retries(t *testing.T) {
	doc := squareHypferDoc(10, 5, [2]int{5, 5}, [2]int{1, 1}, 0)

	tests := []struct {
		name         string
		failures     int32
		status       int
		maxRetries   int
		wantErr      bool
		wantAttempts int32
	}{
		{"recovers after 5xx", 2, http.StatusInternalServerError, 3, false, 3},
		{"gives up after max retries", 5, http.StatusBadGateway, 2, true, 2},
		{"4xx is permanent", 5, http.StatusNotFound, 3, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if attempts.Add(1) <= tt.failures {
					w.WriteHeader(tt.status)
					return
				}
				_, _ = w.Write(doc)
			}))
			defer srv.Close()

			_, err := FetchMapPayload(context.Background(), srv.URL,
				WithHTTPClient(srv.Client()),
				WithMaxRetries(tt.maxRetries),
				WithBaseBackoff(time.Millisecond))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantAttempts, attempts.Load())
		})
	}
}

func TestFetchMapPayload_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := FetchMapPayload(ctx, srv.URL, WithHTTPClient(srv.Client()), WithBaseBackoff(time.Hour))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchMapPayload_SeedsSession(t *testing.T) {
	doc := squareHypferDoc(10, 2, [2]int{5, 5}, [2]int{1, 1}, 0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(doc)
	}))
	defer srv.Close()

	body, err := FetchMapPayload(context.Background(), srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	s := newTestSession(t, FormatHypfer, nil)
	require.True(t, s.Seed(body))
	frame, rendered, err := s.UpdateData(context.Background())
	require.NoError(t, err)
	assert.True(t, rendered)
	assert.Equal(t, "n-10", frame.Snapshot.Metadata.Nonce)
}
