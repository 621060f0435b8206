package metadata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memCache) Get(ctx context.Context, uri string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.data[uri]
	return d, ok, nil
}

func (c *memCache) Set(ctx context.Context, uri string, data []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[uri] = data
	return nil
}

func gateway(t *testing.T, hits *int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		switch r.URL.Path {
		case "/cid/Lapin.json":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"name":"Lapin","type":"animal","tier":2,"value":700,"image":"ipfs://img/Lapin.png"}`))
		case "/cid/broken.json":
			w.Write([]byte(`{not json`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGatewayURL(t *testing.T) {
	r := NewResolver("https://gw.example/ipfs")
	assert.Equal(t, "https://gw.example/ipfs/cid/Lapin.json", r.GatewayURL("ipfs://cid/Lapin.json"))
	assert.Equal(t, "https://host/x.json", r.GatewayURL("https://host/x.json"))

	def := NewResolver("")
	assert.Equal(t, "https://ipfs.io/ipfs/cid", def.GatewayURL("ipfs://cid"))
}

func TestResolve(t *testing.T) {
	var hits int32
	srv := gateway(t, &hits)
	cache := &memCache{data: map[string][]byte{}}
	r := NewResolver(srv.URL, WithCache(cache, time.Hour))

	d, err := r.Resolve(context.Background(), "ipfs://cid/Lapin.json")
	require.NoError(t, err)
	assert.Equal(t, "Lapin", d.Name)
	assert.Equal(t, 2, d.Tier)
	assert.EqualValues(t, 700, d.Value)
	assert.Equal(t, srv.URL+"/img/Lapin.png", d.ImageURL)

	_, err = r.Resolve(context.Background(), "ipfs://cid/Lapin.json")
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits, "second resolve should hit the local cache")
	assert.Contains(t, cache.data, "ipfs://cid/Lapin.json")

	// A fresh resolver sharing the cache does not refetch
	other := NewResolver(srv.URL, WithCache(cache, time.Hour))
	d, err = other.Resolve(context.Background(), "ipfs://cid/Lapin.json")
	require.NoError(t, err)
	assert.Equal(t, "Lapin", d.Name)
	assert.EqualValues(t, 1, hits)
}

func TestResolve_Failures(t *testing.T) {
	var hits int32
	srv := gateway(t, &hits)
	r := NewResolver(srv.URL)

	tests := []struct {
		name string
		uri  string
	}{
		{"Empty", ""},
		{"NotFound", "ipfs://cid/missing.json"},
		{"BadJSON", "ipfs://cid/broken.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tt.uri)
			assert.True(t, errors.Is(err, ErrUpstream), "got %v", err)
		})
	}
}
