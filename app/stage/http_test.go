package stage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStageServer(t *testing.T, status int, body string) (*httptest.Server, *httpStageRequest) {
	t.Helper()
	got := &httpStageRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestHTTPHandlerSuccess(t *testing.T) {
	srv, got := newStageServer(t, http.StatusOK, `{"cost":1.25,"output_ref":"s3://bucket/video.mp4"}`)
	h := NewHTTPHandler("video", srv.URL, 5*time.Second)
	defer h.Close()

	res, err := h.Run(context.Background(), 42)
	require.NoError(t, err)
	assert.InDelta(t, 1.25, res.Cost, 1e-9)
	assert.Equal(t, "s3://bucket/video.mp4", res.OutputRef)
	assert.Equal(t, uint(42), got.TaskID)
	assert.Equal(t, "video", got.Stage)
}

func TestHTTPHandlerStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   Outcome
	}{
		{http.StatusBadRequest, OutcomeNonRetriable},
		{http.StatusUnprocessableEntity, OutcomeNonRetriable},
		{http.StatusNotFound, OutcomeNonRetriable},
		{http.StatusGone, OutcomeNonRetriable},
		{http.StatusTooManyRequests, OutcomeRateLimited},
		{http.StatusInternalServerError, OutcomeRetriable},
		{http.StatusBadGateway, OutcomeRetriable},
	}
	for _, c := range cases {
		t.Run(http.StatusText(c.status), func(t *testing.T) {
			srv, _ := newStageServer(t, c.status, `{"message":"nope"}`)
			h := NewHTTPHandler("audio", srv.URL, 5*time.Second)
			defer h.Close()

			_, err := h.Run(context.Background(), 7)
			require.Error(t, err)
			assert.Equal(t, c.want, Classify(err))
		})
	}
}

func TestHTTPHandlerTimeoutIsRetriable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	h := NewHTTPHandler("video", srv.URL, 50*time.Millisecond)
	defer h.Close()

	_, err := h.Run(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, OutcomeRetriable, Classify(err))
}

func TestRegisterHTTP(t *testing.T) {
	r := NewRegistry()
	handlers, err := RegisterHTTP(r, map[string]string{
		"video":  "http://render:8080/run",
		"upload": "http://uploader:8080/run",
	}, time.Second)
	require.NoError(t, err)
	require.Len(t, handlers, 2)
	for _, h := range handlers {
		assert.NoError(t, h.Close())
	}

	assert.True(t, r.Has("video"))
	assert.True(t, r.Has("upload"))
	assert.Equal(t, []string{"assets", "composites", "audio", "sfx", "assembly"}, r.Missing())
}

func TestRegisterHTTPRejectsUnknownStage(t *testing.T) {
	r := NewRegistry()
	_, err := RegisterHTTP(r, map[string]string{
		"video":     "http://render:8080/run",
		"thumbnail": "http://thumb:8080/run",
	}, time.Second)
	assert.Error(t, err)
	assert.False(t, r.Has("video"))
	assert.Len(t, r.Missing(), 7)
}
