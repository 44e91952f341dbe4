package detector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveSkipReturnsMock(t *testing.T) {
	c := New("http://unused", true)

	obs, err := c.Observe(context.Background(), "sess", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 80.0, obs.Overall)
	assert.Equal(t, map[string]float64{"a": 75, "b": 75}, obs.Students)
	st, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Cameras)
}

func TestObserve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/attention", r.URL.Path)
		var req struct {
			SessionID  string   `json:"session_id"`
			StudentIDs []string `json:"student_ids"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sess", req.SessionID)
		assert.Equal(t, []string{"a"}, req.StudentIDs)
		_, _ = w.Write([]byte(`{"overall":62.5,"students":{"a":91},"hand_raised":"a","frames":12}`))
	}))
	defer srv.Close()

	obs, err := New(srv.URL, false).Observe(context.Background(), "sess", []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 62.5, obs.Overall)
	assert.Equal(t, 91.0, obs.Students["a"])
	assert.Equal(t, "a", obs.HandRaised)
}

func TestObserveFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `boom`},
		{name: "bad json", status: http.StatusOK, body: `{`},
		{name: "no frames", status: http.StatusOK, body: `{"overall":50}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, false).Observe(context.Background(), "sess", nil)
			assert.Error(t, err)
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		cameras int
		wantErr error
		anyErr  bool
	}{
		{name: "ready", status: http.StatusOK, body: `{"cameras":2,"frames":30}`, cameras: 2},
		{name: "no cameras", status: http.StatusOK, body: `{"cameras":0}`, wantErr: ErrNoCameras},
		{name: "unavailable", status: http.StatusServiceUnavailable, anyErr: true},
		{name: "bad payload", status: http.StatusOK, body: `nope`, anyErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			st, err := New(srv.URL, false).Health(context.Background())
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.anyErr:
				assert.Error(t, err)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.cameras, st.Cameras)
			}
		})
	}
}
