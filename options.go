package flagkit

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flagkit/flagkit-go-client/dataadapter"
	"github.com/flagkit/flagkit-go-client/eventlogger"
	"github.com/flagkit/flagkit-go-client/flagengine"
	"github.com/flagkit/flagkit-go-client/network"
	"github.com/flagkit/flagkit-go-client/storage"
)

type Option func(c *Client)

var _ = []Option{
	WithAPI(""),
	WithEndpointURL(network.EndpointInitialize, ""),
	WithFallbackURLs(),
	WithRequestTimeout(0),
	WithInitTimeout(0),
	WithRefreshInterval(0),
	WithFlushInterval(0),
	WithMaxQueueSize(0),
	WithLoggingPolicy(eventlogger.PolicyInteractive),
	WithDisableLogging(),
	WithDisableCompression(),
	WithDisableErrorReporting(),
	WithDisableBackgroundCacheRefresh(),
	WithStickyValues(),
}

// WithAPI overrides the base URL of every endpoint.
func WithAPI(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.config.api = url
		}
	}
}

// WithEndpointURL overrides the full URL of a single endpoint.
func WithEndpointURL(endpoint network.Endpoint, url string) Option {
	return func(c *Client) {
		if url == "" {
			return
		}
		if c.config.endpointURLs == nil {
			c.config.endpointURLs = map[network.Endpoint]string{}
		}
		c.config.endpointURLs[endpoint] = url
	}
}

// WithFallbackURLs sets base URLs tried in order when the primary API cannot be reached.
func WithFallbackURLs(urls ...string) Option {
	return func(c *Client) {
		c.config.fallbackURLs = append(c.config.fallbackURLs, urls...)
	}
}

func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.config.timeout = timeout
		}
	}
}

// WithInitTimeout bounds how long async initialization waits for the network
// before serving cached values.
func WithInitTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.config.initTimeout = timeout
		}
	}
}

// WithRefreshInterval sets how often an on-device client polls for new specs.
func WithRefreshInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.config.refreshInterval = interval
		}
	}
}

func WithFlushInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.config.flushInterval = interval
		}
	}
}

func WithMaxQueueSize(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.config.maxQueueSize = size
		}
	}
}

// WithFailedLogLimits bounds the events kept after failed uploads.
func WithFailedLogLimits(maxEvents, maxBytes int) Option {
	return func(c *Client) {
		c.config.maxFailedEvents = maxEvents
		c.config.maxFailedBytes = maxBytes
	}
}

func WithLoggingPolicy(policy eventlogger.Policy) Option {
	return func(c *Client) {
		c.config.loggingPolicy = policy
	}
}

// WithDisableLogging stops exposure and custom event logging unless the
// logging policy is PolicyAlways.
func WithDisableLogging() Option {
	return func(c *Client) {
		c.config.disableLogging = true
	}
}

func WithDisableCompression() Option {
	return func(c *Client) {
		c.config.disableCompression = true
	}
}

// WithDisableErrorReporting stops sdk_exception reports. Errors are still logged.
func WithDisableErrorReporting() Option {
	return func(c *Client) {
		c.config.disableErrorReporting = true
	}
}

func WithDisableBackgroundCacheRefresh() Option {
	return func(c *Client) {
		c.config.disableBackgroundCacheRefresh = true
	}
}

func WithCustomCacheKey(fn dataadapter.CacheKeyFunc) Option {
	return func(c *Client) {
		c.config.customCacheKey = fn
	}
}

func WithMaxCachedEntries(n int) Option {
	return func(c *Client) {
		c.config.maxCachedEntries = n
	}
}

// WithEnvironmentTier tags every unit with the given tier, e.g. "staging".
func WithEnvironmentTier(tier string) Option {
	return func(c *Client) {
		c.config.environmentTier = tier
	}
}

// WithBootstrapData serves raw until fresher values arrive.
// Precomputed clients expect an initialize payload for the constructor's unit.
func WithBootstrapData(raw string) Option {
	return func(c *Client) {
		c.config.bootstrap = raw
	}
}

// WithStickyValues keeps a unit's assignment in active experiments across spec changes.
func WithStickyValues() Option {
	return func(c *Client) {
		c.config.stickyValues = true
	}
}

func WithStorageProvider(provider storage.Provider) Option {
	return func(c *Client) {
		c.storage = provider
	}
}

func WithTransport(transport network.HTTPTransport) Option {
	return func(c *Client) {
		c.config.transport = transport
	}
}

// WithOverrideProviders appends providers consulted before every returned value.
func WithOverrideProviders(providers ...flagengine.OverrideProvider) Option {
	return func(c *Client) {
		c.overrides = append(c.overrides, providers...)
	}
}

// WithRegistry registers the client in r under its SDK key.
func WithRegistry(r *Registry) Option {
	return func(c *Client) {
		c.registry = r
	}
}

func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.registerer = reg
	}
}

// WithSlogLogger sets the logger used by the client and all of its workers.
func WithSlogLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.log = logger
		}
	}
}

// WithContext sets the context that bounds the client's background workers.
func WithContext(ctx context.Context) Option {
	return func(c *Client) {
		c.ctx = ctx
	}
}

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}
