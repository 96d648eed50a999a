package httpfetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MartiMan79/gatewatch/pkg/internal/testoutput"
	"github.com/MartiMan79/gatewatch/pkg/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/repo/version.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version": 5}`))
	})
	mux.HandleFunc("/repo/lib/ota.py", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("print('ota')\n"))
	})
	mux.HandleFunc("/repo/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	srv := testServer(t)
	c, err := New(testoutput.Logger(t, "fetch"), srv.URL+"/repo")
	require.NoError(t, err)
	ctx := context.Background()

	body, err := c.Fetch(ctx, "version.json")
	assert.NoError(t, err)
	assert.Equal(t, `{"version": 5}`, string(body))

	body, err = c.Fetch(ctx, "/lib/ota.py")
	assert.NoError(t, err)
	assert.Equal(t, "print('ota')\n", string(body))
}

func TestFetchStatusMapping(t *testing.T) {
	srv := testServer(t)
	c, err := New(testoutput.Logger(t, "fetch"), srv.URL+"/repo/")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Fetch(ctx, "missing.py")
	assert.True(t, errors.Is(err, platform.ErrNotFound))
	assert.Contains(t, err.Error(), "missing.py")

	_, err = c.Fetch(ctx, "broken")
	assert.True(t, errors.Is(err, platform.ErrUnavailable))
	assert.False(t, errors.Is(err, platform.ErrNotFound))
}

func TestFetchUnreachable(t *testing.T) {
	srv := testServer(t)
	c, err := New(testoutput.Logger(t, "fetch"), srv.URL)
	require.NoError(t, err)
	srv.Close()

	_, err = c.Fetch(context.Background(), "version.json")
	assert.True(t, errors.Is(err, platform.ErrUnavailable))
}

func TestRepositoryURL(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{"www", "https://www.github.com/owner/repo/main/", "https://raw.githubusercontent.com/owner/repo/main/"},
		{"bare", "https://github.com/owner/repo/main", "https://raw.githubusercontent.com/owner/repo/main/"},
		{"raw", "https://raw.githubusercontent.com/owner/repo/main/", "https://raw.githubusercontent.com/owner/repo/main/"},
		{"other", "http://updates.local/gate", "http://updates.local/gate/"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, RepositoryURL(tc.in))
		})
	}
}
