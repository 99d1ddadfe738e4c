package client

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/Sternrassler/order-api-client/pkg/cache"
)

// Request describes one logical upstream call. Build a fresh value per call.
type Request struct {
	// Resource is the upstream path relative to the base URL, e.g. "orders/12/notes".
	Resource string

	// Operation names the call for cache keys and logs, e.g. "list", "get".
	Operation string

	// Method defaults to GET.
	Method string

	// Path overrides Resource as the URL path when set.
	Path string

	Query url.Values

	// Body is JSON-encoded once before the first attempt. []byte is sent as-is.
	Body any

	// Cacheable marks a GET whose response may be served from and written to the cache.
	Cacheable bool

	// Tags are attached to the cache entry written for this request.
	Tags []string

	// Invalidates lists cache tags dropped after a successful write.
	Invalidates []string
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

func (r Request) cacheable() bool {
	return r.Cacheable && r.method() == http.MethodGet
}

func (r Request) cacheKey() cache.Key {
	op := r.Operation
	if op == "" {
		op = strings.ToLower(r.method())
	}
	return cache.Key{Resource: r.Resource, Operation: op, Params: r.Query}
}
