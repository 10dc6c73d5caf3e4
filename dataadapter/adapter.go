// Package dataadapter reconciles bootstrap, cached and network payloads into
// values for a specstore.Store.
package dataadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/flagkit/flagkit-go-client/flagengine/specs"
	"github.com/flagkit/flagkit-go-client/flagengine/utils"
	"github.com/flagkit/flagkit-go-client/network"
	"github.com/flagkit/flagkit-go-client/specstore"
	"github.com/flagkit/flagkit-go-client/storage"
	"github.com/flagkit/flagkit-go-client/unit"
)

const (
	DefaultTimeout          = 3 * time.Second
	DefaultMaxCachedEntries = 10
)

var (
	// ErrTimeout is reported when the network did not answer within the fetch timeout.
	// The request keeps running and its response is still written to the cache.
	ErrTimeout = errors.New("dataadapter: network request timed out")
	// ErrNoUnit is returned when evaluations are requested without a unit.
	ErrNoUnit = errors.New("dataadapter: unit is required for evaluations")
)

// CacheKeyFunc derives the storage key of a unit's payload.
type CacheKeyFunc func(sdkKey string, u *unit.Unit) string

// Poster is the part of network.Network the adapter uses.
type Poster interface {
	Post(ctx context.Context, endpoint network.Endpoint, body any, opts network.PostOptions) (*network.Response, error)
}

// Options configures an Adapter.
type Options struct {
	// Timeout bounds how long GetDataAsync waits for the network.
	Timeout time.Duration
	// DisableBackgroundCacheRefresh stops GetDataSync from refreshing the cache in the background.
	DisableBackgroundCacheRefresh bool
	// CustomCacheKey replaces the default sdk key + unit fingerprint cache key.
	CustomCacheKey CacheKeyFunc
	// MaxCachedEntries bounds the number of cached evaluation payloads.
	MaxCachedEntries int
	// SessionID reports the current session. Cached payloads written in the
	// same session keep their original source when read back from storage.
	SessionID func() string
	Logger    *slog.Logger
	Now       func() time.Time
}

// FetchResult is the outcome of a network fetch.
type FetchResult struct {
	Result  *specstore.AdapterResult
	Success bool
	Error   error
}

// Adapter fetches payloads of one kind.
type Adapter struct {
	kind    specstore.PayloadKind
	sdkKey  string
	storage storage.Provider
	net     Poster
	opts    Options
	log     *slog.Logger
	group   singleflight.Group

	mu        sync.Mutex
	memCache  map[string]*specstore.AdapterResult
	bootstrap map[string]*specstore.AdapterResult

	evictMu sync.Mutex
	bg      sync.WaitGroup
}

// New creates an adapter. provider may be nil, in which case an in-memory provider is used.
func New(kind specstore.PayloadKind, sdkKey string, provider storage.Provider, net Poster, opts Options) *Adapter {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxCachedEntries <= 0 {
		opts.MaxCachedEntries = DefaultMaxCachedEntries
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if provider == nil {
		provider = storage.NewMemoryProvider()
	}
	return &Adapter{
		kind:      kind,
		sdkKey:    sdkKey,
		storage:   provider,
		net:       net,
		opts:      opts,
		log:       opts.Logger.With(slog.String("worker", "data_adapter")),
		memCache:  map[string]*specstore.AdapterResult{},
		bootstrap: map[string]*specstore.AdapterResult{},
	}
}

// CacheKey is the storage key for u's payload.
func (a *Adapter) CacheKey(u *unit.Unit) string {
	if a.opts.CustomCacheKey != nil {
		return a.opts.CustomCacheKey(a.sdkKey, u)
	}
	if a.kind == specstore.PayloadSpecs {
		return storage.CachedSpecsKey(storage.Fingerprint(a.sdkKey))
	}
	return storage.CachedEvaluationsKey(storage.Fingerprint(a.sdkKey, u.Fingerprint()))
}

// SetBootstrapData injects a payload for u. The payload is validated before it is kept.
func (a *Adapter) SetBootstrapData(u *unit.Unit, raw string) error {
	var err error
	if a.kind == specstore.PayloadSpecs {
		_, err = specs.ParseSpecs(raw)
	} else {
		if u == nil {
			return ErrNoUnit
		}
		_, err = specs.ParseInitialize(raw)
	}
	if err != nil {
		return fmt.Errorf("invalid bootstrap payload: %w", err)
	}
	res := &specstore.AdapterResult{
		Data:       raw,
		Source:     specstore.SourceBootstrap,
		ReceivedAt: a.opts.Now(),
		UnitHash:   a.unitHash(u),
	}
	a.mu.Lock()
	a.bootstrap[a.CacheKey(u)] = res
	a.mu.Unlock()
	return nil
}

// GetDataSync returns the freshest payload available without the network:
// bootstrap first, then cache when it is at least as new.
// Unless disabled, a background fetch refreshes the cache for the next read.
func (a *Adapter) GetDataSync(u *unit.Unit) *specstore.AdapterResult {
	staged := a.GetCachedData(u)
	if !a.opts.DisableBackgroundCacheRefresh {
		a.refreshInBackground(u, staged)
	}
	return staged
}

// GetCachedData is GetDataSync without the background refresh.
func (a *Adapter) GetCachedData(u *unit.Unit) *specstore.AdapterResult {
	key := a.CacheKey(u)

	a.mu.Lock()
	staged := a.bootstrap[key]
	a.mu.Unlock()

	if cached := a.readCache(key); cached != nil {
		if staged == nil || lcutOf(cached) >= lcutOf(staged) {
			staged = cached
		}
	}
	return staged
}

func (a *Adapter) refreshInBackground(u *unit.Unit, current *specstore.AdapterResult) {
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		if r := <-a.fetchShared(u, current); r.Err != nil {
			a.log.Debug("background refresh failed", "error", r.Err)
		}
	}()
}

// fetchShared joins the in flight fetch for u's cache key, or starts one.
func (a *Adapter) fetchShared(u *unit.Unit, current *specstore.AdapterResult) <-chan singleflight.Result {
	return a.group.DoChan(a.CacheKey(u), func() (any, error) {
		return a.fetch(u, current)
	})
}

// GetDataAsync fetches from the network and waits up to the timeout.
// On timeout the request continues and writes its response to the cache.
func (a *Adapter) GetDataAsync(ctx context.Context, u *unit.Unit, current *specstore.AdapterResult) FetchResult {
	if a.kind == specstore.PayloadEvaluations && u == nil {
		return FetchResult{Error: ErrNoUnit}
	}
	ch := a.fetchShared(u, current)

	timer := time.NewTimer(a.opts.Timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.Err != nil {
			return FetchResult{Error: r.Err}
		}
		return FetchResult{Result: r.Val.(*specstore.AdapterResult), Success: true}
	case <-timer.C:
		return FetchResult{Error: ErrTimeout}
	case <-ctx.Done():
		return FetchResult{Error: ctx.Err()}
	}
}

// Prefetch warms the cache for u.
func (a *Adapter) Prefetch(ctx context.Context, u *unit.Unit) error {
	res := a.GetDataAsync(ctx, u, nil)
	return res.Error
}

// Wait blocks until background refreshes have finished.
func (a *Adapter) Wait() {
	a.bg.Wait()
}

func (a *Adapter) fetch(u *unit.Unit, current *specstore.AdapterResult) (*specstore.AdapterResult, error) {
	ctx := context.Background()
	endpoint, body := a.request(u, current)

	resp, err := a.net.Post(ctx, endpoint, body, network.PostOptions{})
	if err != nil {
		return nil, err
	}
	raw := string(resp.Body)
	res := &specstore.AdapterResult{
		Data:       raw,
		Source:     specstore.SourceNetwork,
		ReceivedAt: a.opts.Now(),
		UnitHash:   a.unitHash(u),
	}
	if !specs.HasUpdates(raw) {
		res.Source = specstore.SourceNetworkNotModified
		res.Data = ""
		return res, nil
	}
	a.writeCache(ctx, a.CacheKey(u), res)
	return res, nil
}

func (a *Adapter) request(u *unit.Unit, current *specstore.AdapterResult) (network.Endpoint, map[string]any) {
	body := map[string]any{}
	if current != nil && current.Source.HasValues() && current.UnitHash == a.unitHash(u) {
		if since := lcutOf(current); since > 0 {
			body["sinceTime"] = since
		}
	}
	if a.kind == specstore.PayloadSpecs {
		return network.EndpointDownloadConfigSpecs, body
	}
	body["user"] = u
	body["hash"] = utils.HashAlgoDJB2
	return network.EndpointInitialize, body
}

func (a *Adapter) unitHash(u *unit.Unit) string {
	if a.kind == specstore.PayloadSpecs || u == nil {
		return ""
	}
	return u.Fingerprint()
}

func lcutOf(res *specstore.AdapterResult) int64 {
	if res == nil {
		return 0
	}
	return specs.ExtractLCUT(res.Data)
}
