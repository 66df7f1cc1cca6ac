// Package httpclient provides a shared, pooled HTTP client factory.
// The only outbound HTTP traffic in this service is the
// certificate-transparency lookup, but every client goes through this
// factory so connection pooling and timeouts stay in one place.
package httpclient

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// Option configures a client produced by New.
type Option func(*options)

type options struct {
	timeout         time.Duration
	dialTimeout     time.Duration
	maxIdleConns    int
	maxConnsPerHost int
	idleConnTimeout time.Duration
}

func defaultOptions() options {
	return options{
		timeout:         30 * time.Second,
		dialTimeout:     10 * time.Second,
		maxIdleConns:    100,
		maxConnsPerHost: 25,
		idleConnTimeout: 90 * time.Second,
	}
}

// WithTimeout sets the total request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxConnsPerHost caps the number of connections per host.
func WithMaxConnsPerHost(n int) Option {
	return func(o *options) { o.maxConnsPerHost = n }
}

var (
	defaultClient *http.Client
	defaultOnce   sync.Once
)

// Default returns a shared, pre-configured HTTP client.
// The client is safe for concurrent use and employs connection pooling.
func Default() *http.Client {
	defaultOnce.Do(func() {
		defaultClient = New()
	})
	return defaultClient
}

// New creates an HTTP client with the given options applied on top of
// the package defaults.
func New(opts ...Option) *http.Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   o.dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        o.maxIdleConns,
		MaxConnsPerHost:     o.maxConnsPerHost,
		MaxIdleConnsPerHost: o.maxConnsPerHost,
		IdleConnTimeout:     o.idleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &http.Client{
		Timeout:   o.timeout,
		Transport: transport,
	}
}
