package flagkit

import (
	"time"

	"github.com/flagkit/flagkit-go-client/dataadapter"
	"github.com/flagkit/flagkit-go-client/eventlogger"
	"github.com/flagkit/flagkit-go-client/network"
)

const (
	// Number of seconds to wait for a request to
	// complete before terminating the request.
	DefaultTimeout = network.DefaultTimeout

	// Default base URL for the API.
	DefaultAPI = network.DefaultAPI

	// How long InitializeAsync and UpdateUnitAsync wait for the network.
	DefaultInitTimeout = dataadapter.DefaultTimeout

	// Polling interval of on-device clients.
	DefaultRefreshInterval = 10 * time.Second

	DefaultFlushInterval   = eventlogger.DefaultFlushInterval
	DefaultMaxQueueSize    = eventlogger.DefaultMaxQueueSize
	DefaultMaxFailedEvents = eventlogger.DefaultMaxFailedEvents
	DefaultMaxFailedBytes  = eventlogger.DefaultMaxFailedBytes

	// A session rotates after this much inactivity or this much total age.
	SessionIdleTimeout = 30 * time.Minute
	SessionMaxAge      = 4 * time.Hour
)

type config struct {
	api                string
	endpointURLs       map[network.Endpoint]string
	fallbackURLs       []string
	timeout            time.Duration
	initTimeout        time.Duration
	disableCompression bool
	transport          network.HTTPTransport

	refreshInterval               time.Duration
	disableBackgroundCacheRefresh bool
	customCacheKey                dataadapter.CacheKeyFunc
	maxCachedEntries              int

	loggingPolicy   eventlogger.Policy
	disableLogging  bool
	flushInterval   time.Duration
	maxQueueSize    int
	maxFailedEvents int
	maxFailedBytes  int

	disableErrorReporting bool
	environmentTier       string
	bootstrap             string
	stickyValues          bool
}

func defaultConfig() config {
	return config{
		timeout:         DefaultTimeout,
		initTimeout:     DefaultInitTimeout,
		refreshInterval: DefaultRefreshInterval,
		flushInterval:   DefaultFlushInterval,
		maxQueueSize:    DefaultMaxQueueSize,
	}
}
