// Package metadata resolves asset URIs to their JSON descriptions.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

const (
	DefaultGateway = "https://ipfs.io/ipfs/"
	ipfsScheme     = "ipfs://"
	maxDocument    = 1 << 20
	localEntries   = 512
)

// ErrUpstream reports that the document could not be fetched or decoded
var ErrUpstream = errors.New("metadata upstream failure")

// Description is the metadata document an asset URI points to
type Description struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Tier        int    `json:"tier"`
	Value       int64  `json:"value"`
	Image       string `json:"image,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// Cache is a shared byte cache keyed by URI
type Cache interface {
	Get(ctx context.Context, uri string) ([]byte, bool, error)
	Set(ctx context.Context, uri string, data []byte, ttl time.Duration) error
}

// Option configures a Resolver
type Option func(*Resolver)

// WithHTTPClient replaces the default client
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithCache stores fetched documents in c for ttl
func WithCache(c Cache, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = c
		r.ttl = ttl
	}
}

// WithLogger sets the logger for cache failures
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Resolver) { r.log = l }
}

// Resolver fetches metadata over HTTP, rewriting ipfs:// URIs to a gateway.
// Documents are immutable so hits are never revalidated.
type Resolver struct {
	client  *http.Client
	gateway string
	cache   Cache
	ttl     time.Duration
	local   *lru.Cache[string, Description]
	log     logrus.FieldLogger
}

// NewResolver creates a resolver for gateway, DefaultGateway if empty
func NewResolver(gateway string, opts ...Option) *Resolver {
	if gateway == "" {
		gateway = DefaultGateway
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	local, _ := lru.New[string, Description](localEntries)
	r := &Resolver{
		client:  &http.Client{Timeout: 10 * time.Second},
		gateway: gateway,
		local:   local,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GatewayURL maps an ipfs:// URI onto the gateway. Other URIs are returned as is.
func (r *Resolver) GatewayURL(uri string) string {
	if strings.HasPrefix(uri, ipfsScheme) {
		return r.gateway + strings.TrimPrefix(uri, ipfsScheme)
	}
	return uri
}

// Resolve returns the description behind uri
func (r *Resolver) Resolve(ctx context.Context, uri string) (Description, error) {
	if uri == "" {
		return Description{}, fmt.Errorf("%w: empty uri", ErrUpstream)
	}
	if d, ok := r.local.Get(uri); ok {
		return d, nil
	}

	if r.cache != nil {
		data, ok, err := r.cache.Get(ctx, uri)
		if err != nil {
			r.log.WithError(err).WithField("uri", uri).Warn("metadata cache read failed")
		}
		if ok {
			if d, err := r.decode(data); err == nil {
				r.local.Add(uri, d)
				return d, nil
			}
		}
	}

	data, err := r.fetch(ctx, uri)
	if err != nil {
		return Description{}, err
	}
	d, err := r.decode(data)
	if err != nil {
		return Description{}, fmt.Errorf("%w: decode %s: %v", ErrUpstream, uri, err)
	}

	r.local.Add(uri, d)
	if r.cache != nil {
		if err := r.cache.Set(ctx, uri, data, r.ttl); err != nil {
			r.log.WithError(err).WithField("uri", uri).Warn("metadata cache write failed")
		}
	}
	return d, nil
}

func (r *Resolver) fetch(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.GatewayURL(uri), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrUpstream, uri, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocument))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUpstream, uri, err)
	}
	return data, nil
}

func (r *Resolver) decode(data []byte) (Description, error) {
	var d Description
	if err := json.Unmarshal(data, &d); err != nil {
		return Description{}, err
	}
	if d.Image != "" {
		d.ImageURL = r.GatewayURL(d.Image)
	}
	return d, nil
}
