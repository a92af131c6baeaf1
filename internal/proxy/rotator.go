// Package proxy cycles outbound requests through a configured pool of proxy endpoints.
package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// ErrInvalidEndpoint indicates that a configured proxy URI cannot be used.
var ErrInvalidEndpoint = errors.New("proxy: invalid endpoint")

// Rotator hands out pool members round-robin. It is safe for concurrent use.
type Rotator struct {
	mu        sync.Mutex
	endpoints []*url.URL
	cursor    int
}

// NewRotator validates the raw endpoints. An empty pool yields direct connections.
func NewRotator(rawEndpoints []string) (*Rotator, error) {
	endpoints := make([]*url.URL, 0, len(rawEndpoints))
	for _, raw := range rawEndpoints {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
		}
		switch parsed.Scheme {
		case "http", "https", "socks5":
		default:
			return nil, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidEndpoint, trimmed)
		}
		if parsed.Host == "" {
			return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidEndpoint, trimmed)
		}
		endpoints = append(endpoints, parsed)
	}
	return &Rotator{endpoints: endpoints}, nil
}

// Next returns the endpoint under the cursor and advances it. The boolean is false when the pool is empty.
func (r *Rotator) Next() (*url.URL, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.endpoints) == 0 {
		return nil, false
	}
	endpoint := r.endpoints[r.cursor]
	r.cursor = (r.cursor + 1) % len(r.endpoints)

	clone := *endpoint
	return &clone, true
}

// Len reports the pool size.
func (r *Rotator) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.endpoints)
}
