package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catalogHandler(t *testing.T, hits *int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		*hits++
		assert.Equal(t, "apass", r.URL.Query().Get("catalog"))
		assert.NotEmpty(t, r.URL.Query().Get("ra"))
		assert.NotEmpty(t, r.URL.Query().Get("radius"))

		json.NewEncoder(w).Encode([]Source{
			{ID: "s1", RA: 150.01, Dec: 20.01, Mag: 12.3, MagErr: 0.02},
			{ID: "s2", RA: 150.02, Dec: 19.99, Mag: 13.1, MagErr: 0.04},
		})
	}
}

func TestConeSearch(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(catalogHandler(t, &hits))
	defer srv.Close()

	c := NewClient(srv.URL, "apass")
	sources, err := c.ConeSearch(context.Background(), 150.0, 20.0, 0.5)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "s1", sources[0].ID)
	assert.Equal(t, 12.3, sources[0].Mag)
	assert.Equal(t, 1, hits)
}

func TestConeSearchEmptyField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "apass")
	_, err := c.ConeSearch(context.Background(), 150, 20, 0.5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConeSearchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "apass")
	_, err := c.ConeSearch(context.Background(), 150, 20, 0.5)
	require.Error(t, err)
}

func TestConeSearchCached(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(catalogHandler(t, &hits))

	cache, err := OpenQueryCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer cache.Close()

	c := NewClient(srv.URL, "apass")
	c.Cache = cache

	first, err := c.ConeSearch(context.Background(), 150.0, 20.0, 0.5)
	require.NoError(t, err)
	require.Equal(t, 1, hits)

	// the server goes away; the same query must come from the cache
	srv.Close()

	second, err := c.ConeSearch(context.Background(), 150.0, 20.0, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
	assert.Equal(t, first, second)

	// a different query can't be served
	_, err = c.ConeSearch(context.Background(), 151.0, 20.0, 0.5)
	require.Error(t, err)
}

func TestQueryCache(t *testing.T) {
	cache, err := OpenQueryCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer cache.Close()

	t.Run("miss", func(t *testing.T) {
		_, ok, err := cache.Get("apass", 1, 2, 3)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("put then get", func(t *testing.T) {
		require.NoError(t, cache.Put("apass", 1, 2, 3, []byte(`[{"id":"x"}]`)))
		body, ok, err := cache.Get("apass", 1, 2, 3)
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `[{"id":"x"}]`, string(body))
	})

	t.Run("keyed by all params", func(t *testing.T) {
		_, ok, err := cache.Get("gaia", 1, 2, 3)
		require.NoError(t, err)
		assert.False(t, ok)
		_, ok, err = cache.Get("apass", 1, 2, 4)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("replace", func(t *testing.T) {
		require.NoError(t, cache.Put("apass", 1, 2, 3, []byte(`[]`)))
		body, ok, err := cache.Get("apass", 1, 2, 3)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `[]`, string(body))
	})

	t.Run("prune", func(t *testing.T) {
		n, err := cache.Prune(-time.Second)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))
		_, ok, err := cache.Get("apass", 1, 2, 3)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
