// Package flagkit is a feature gate and experimentation client.
//
// A Client resolves gates, dynamic configs, experiments, layers and parameter
// stores for one unit at a time. Precomputed clients fetch values the service
// evaluated for the unit; on-device clients download the rule set and evaluate
// locally. Both serve cached values immediately and log exposures in batches.
package flagkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flagkit/flagkit-go-client/dataadapter"
	"github.com/flagkit/flagkit-go-client/eventlogger"
	"github.com/flagkit/flagkit-go-client/flagengine"
	"github.com/flagkit/flagkit-go-client/network"
	"github.com/flagkit/flagkit-go-client/specstore"
	"github.com/flagkit/flagkit-go-client/storage"
	"github.com/flagkit/flagkit-go-client/unit"
)

// ClientKind selects where values are evaluated.
type ClientKind int

const (
	// Precomputed clients receive values evaluated by the service for their unit.
	Precomputed ClientKind = iota
	// OnDevice clients download the rule set and evaluate it locally.
	OnDevice
)

func (k ClientKind) String() string {
	switch k {
	case Precomputed:
		return "precomputed"
	case OnDevice:
		return "on_device"
	}
	return "unknown"
}

// LoadingStatus is the initialization state of a Client.
type LoadingStatus int

const (
	StatusUninitialized LoadingStatus = iota
	StatusLoading
	StatusReady
)

func (s LoadingStatus) String() string {
	switch s {
	case StatusUninitialized:
		return "Uninitialized"
	case StatusLoading:
		return "Loading"
	case StatusReady:
		return "Ready"
	}
	return "Unknown"
}

// Client provides gate, config, experiment and layer reads for a single unit.
type Client struct {
	kind   ClientKind
	sdkKey string
	config config
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time

	storage    storage.Provider
	registerer prometheus.Registerer
	registry   *Registry
	overrides  flagengine.OverrideChain

	net       *network.Network
	adapter   *dataadapter.Adapter
	store     *specstore.Store
	evaluator *flagengine.Evaluator
	logger    *eventlogger.Logger
	boundary  *errorBoundary
	emitter   *emitter
	memo      *memo
	session   *session
	stableID  string

	mu     sync.RWMutex
	unit   unit.Unit
	unitFP string
	status LoadingStatus

	workersOnce sync.Once
	closed      atomic.Bool
}

// NewPrecomputedClient creates a client that fetches values evaluated for u by the service.
func NewPrecomputedClient(sdkKey string, u unit.Unit, options ...Option) *Client {
	return newClient(Precomputed, sdkKey, u, options)
}

// NewOnDeviceClient creates a client that evaluates the downloaded rule set locally.
func NewOnDeviceClient(sdkKey string, u unit.Unit, options ...Option) *Client {
	return newClient(OnDevice, sdkKey, u, options)
}

func newClient(kind ClientKind, sdkKey string, u unit.Unit, options []Option) *Client {
	c := &Client{
		kind:   kind,
		sdkKey: sdkKey,
		config: defaultConfig(),
		log:    slog.Default(),
		ctx:    context.Background(),
		now:    time.Now,
		memo:   newMemo(),
	}
	for _, opt := range options {
		opt(c)
	}
	c.log = c.log.With(slog.String("client", kind.String()))
	c.ctx, c.cancel = context.WithCancel(c.ctx)
	c.emitter = newEmitter(c.log)
	if c.storage == nil {
		c.storage = storage.NewMemoryProvider()
	}

	stableID, err := loadStableID(c.ctx, c.storage, sdkKey)
	if err != nil {
		c.log.Warn("failed to persist stable id", "error", err)
	}
	c.stableID = stableID
	c.session = newSession(c.ctx, c.storage, sdkKey, c.now, c.log)

	transport := c.config.transport
	if transport == nil {
		transport = network.NewRestyTransport(c.config.timeout, c.log)
	}
	c.net = network.New(network.Options{
		SDKKey:             sdkKey,
		API:                c.config.api,
		EndpointURLs:       c.config.endpointURLs,
		FallbackURLs:       c.config.fallbackURLs,
		Timeout:            c.config.timeout,
		DisableCompression: c.config.disableCompression,
		SDKType:            sdkType,
		SDKVersion:         sdkVersion(),
		UserAgent:          getUserAgent(),
		SessionID:          c.session.ID,
		Transport:          transport,
		Logger:             c.log,
	})
	c.boundary = newErrorBoundary(c.net, c.log, c.config.disableErrorReporting, c.metadata)

	payload := specstore.PayloadEvaluations
	if kind == OnDevice {
		payload = specstore.PayloadSpecs
	}
	c.store = specstore.New(payload)
	c.adapter = dataadapter.New(payload, sdkKey, c.storage, c.net, dataadapter.Options{
		Timeout:                       c.config.initTimeout,
		DisableBackgroundCacheRefresh: c.config.disableBackgroundCacheRefresh,
		CustomCacheKey:                c.config.customCacheKey,
		MaxCachedEntries:              c.config.maxCachedEntries,
		SessionID:                     c.session.ID,
		Logger:                        c.log,
		Now:                           c.now,
	})
	if kind == OnDevice {
		c.evaluator = flagengine.NewEvaluator(c.store, flagengine.WithLogger(c.log), flagengine.WithClock(c.now))
	}

	c.logger = eventlogger.New(c.net, eventlogger.Options{
		SDKKey:          sdkKey,
		Policy:          c.config.loggingPolicy,
		FlushInterval:   c.config.flushInterval,
		MaxQueueSize:    c.config.maxQueueSize,
		MaxFailedEvents: c.config.maxFailedEvents,
		MaxFailedBytes:  c.config.maxFailedBytes,
		// diagnostics follow the error reporting switch, not the logging one
		DisableDiagnostics: c.config.disableErrorReporting,
		Storage:            c.storage,
		Metadata:           c.metadata,
		Registerer:         c.registerer,
		Logger:             c.log,
		Now:                c.now,
	})
	c.logger.SetLoggingDisabled(c.config.disableLogging)
	c.logger.OnFlush(func(r eventlogger.FlushResult) {
		c.emitter.emit(ClientEvent{Name: EventLogsFlushed, Events: r.Events, Err: r.Err})
	})

	if c.config.stickyValues {
		c.overrides = append(c.overrides, NewStickyValues(c.storage, sdkKey, c.log))
	}

	c.setUnit(u)
	if sdkKey == "" {
		c.boundary.report("constructor", ErrNoSDKKey)
	}
	if c.config.bootstrap != "" {
		bu := c.currentUnit()
		if err := c.adapter.SetBootstrapData(&bu, c.config.bootstrap); err != nil {
			c.boundary.report("bootstrap", err)
		}
	}
	if c.registry != nil {
		c.registry.Register(sdkKey, c)
	}
	return c
}

// Kind reports whether the client is precomputed or on-device.
func (c *Client) Kind() ClientKind {
	return c.kind
}

// LoadingStatus returns the initialization state.
func (c *Client) LoadingStatus() LoadingStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// InitializeSync loads bootstrap or cached values without waiting for the network.
// Unless disabled, a background fetch refreshes the cache for the next start.
func (c *Client) InitializeSync() error {
	if c.closed.Load() {
		return ErrShutdown
	}
	return captureValue[error](c.boundary, "initializeSync", nil, func() error {
		started := c.now()
		c.setStatus(StatusLoading)
		u := c.currentUnit()
		if res := c.adapter.GetDataSync(&u); res != nil {
			c.apply(res)
		}
		c.finishLoading()
		c.logDiagnostics("initialize", started, nil)
		c.startWorkers()
		return nil
	})
}

// InitializeAsync serves cached values first and then waits for the network, up to
// the init timeout. The client is ready afterwards even when the network failed;
// the returned error reports that failure.
func (c *Client) InitializeAsync(ctx context.Context) error {
	if c.closed.Load() {
		return ErrShutdown
	}
	return captureValue[error](c.boundary, "initializeAsync", nil, func() error {
		started := c.now()
		c.setStatus(StatusLoading)
		err := c.load(ctx, c.currentUnit())
		c.finishLoading()
		c.logDiagnostics("initialize", started, err)
		c.startWorkers()
		return err
	})
}

// UpdateUnitSync switches to u, serving its cached values.
func (c *Client) UpdateUnitSync(u unit.Unit) error {
	if c.closed.Load() {
		return ErrShutdown
	}
	return captureValue[error](c.boundary, "updateUnitSync", nil, func() error {
		c.switchUnit(u)
		if c.kind == OnDevice {
			c.emitter.emit(ClientEvent{Name: EventValuesUpdated, Status: c.LoadingStatus()})
			return nil
		}
		c.store.Reset()
		c.setStatus(StatusLoading)
		nu := c.currentUnit()
		if res := c.adapter.GetDataSync(&nu); res != nil {
			c.apply(res)
		}
		c.finishLoading()
		return nil
	})
}

// UpdateUnitAsync switches to u and waits for its values from the network.
func (c *Client) UpdateUnitAsync(ctx context.Context, u unit.Unit) error {
	if c.closed.Load() {
		return ErrShutdown
	}
	return captureValue[error](c.boundary, "updateUnitAsync", nil, func() error {
		c.switchUnit(u)
		if c.kind == OnDevice {
			c.emitter.emit(ClientEvent{Name: EventValuesUpdated, Status: c.LoadingStatus()})
			return nil
		}
		started := c.now()
		c.store.Reset()
		c.setStatus(StatusLoading)
		err := c.load(ctx, c.currentUnit())
		c.finishLoading()
		c.logDiagnostics("update_user", started, err)
		return err
	})
}

// PrefetchData fetches and caches values for units so a later UpdateUnitSync
// can serve them without waiting for the network. On-device clients share one
// rule set for every unit, so this is a no-op for them.
func (c *Client) PrefetchData(ctx context.Context, units ...unit.Unit) error {
	if c.closed.Load() {
		return ErrShutdown
	}
	if c.kind == OnDevice {
		return nil
	}
	return captureValue[error](c.boundary, "prefetchData", nil, func() error {
		var errs []error
		for _, u := range units {
			u = c.normalizeUnit(u)
			if err := c.adapter.Prefetch(ctx, &u); err != nil {
				errs = append(errs, toAPIError(err))
			}
		}
		return errors.Join(errs...)
	})
}

// load applies cached values for u, then fetches from the network.
func (c *Client) load(ctx context.Context, u unit.Unit) error {
	if cached := c.adapter.GetCachedData(&u); cached != nil {
		c.apply(cached)
	}
	res := c.adapter.GetDataAsync(ctx, &u, c.store.Current())
	if !res.Success {
		c.reportFetchError("initialize", res.Error)
		return toAPIError(res.Error)
	}
	c.apply(res.Result)
	return nil
}

// refreshSpecs polls for a newer rule set. It is used by the on-device refresh loop.
func (c *Client) refreshSpecs(ctx context.Context) error {
	res := c.adapter.GetDataAsync(ctx, nil, c.store.Current())
	if !res.Success {
		return res.Error
	}
	if c.apply(res.Result) && res.Result.Source != specstore.SourceNetworkNotModified {
		c.emitter.emit(ClientEvent{Name: EventValuesUpdated, Status: c.LoadingStatus()})
	}
	return nil
}

// SetBootstrapData serves raw until fresher values arrive. For precomputed
// clients raw must be an initialize payload for the current unit.
func (c *Client) SetBootstrapData(raw string) error {
	u := c.currentUnit()
	if err := c.adapter.SetBootstrapData(&u, raw); err != nil {
		return err
	}
	res := &specstore.AdapterResult{Data: raw, Source: specstore.SourceBootstrap, ReceivedAt: c.now()}
	if c.kind == Precomputed {
		res.UnitHash = u.Fingerprint()
	}
	if c.apply(res) {
		if c.LoadingStatus() != StatusLoading {
			c.setStatus(StatusReady)
		}
		c.emitter.emit(ClientEvent{Name: EventValuesUpdated, Status: c.LoadingStatus()})
	}
	return nil
}

// apply hands res to the store. It reports whether the store accepted it.
func (c *Client) apply(res *specstore.AdapterResult) bool {
	if c.kind == Precomputed && res.Source != specstore.SourceNetworkNotModified && res.UnitHash != c.currentUnitFingerprint() {
		c.log.Debug("dropping values for a previous unit", "source", res.Source)
		return false
	}
	err := c.store.SetFromAdapterResult(res)
	switch {
	case err == nil:
		return true
	case errors.Is(err, specstore.ErrStaleValues):
		c.log.Debug("ignoring older values", "source", res.Source, "error", err)
	default:
		c.boundary.report("setValues", err)
	}
	return false
}

func (c *Client) finishLoading() {
	c.store.Finalize()
	c.setStatus(StatusReady)
	c.emitter.emit(ClientEvent{Name: EventValuesUpdated, Status: StatusReady})
}

// logDiagnostics records how long a load took and what it ended with.
func (c *Client) logDiagnostics(phase string, started time.Time, err error) {
	markers := map[string]string{
		"durationMs": strconv.FormatInt(c.now().Sub(started).Milliseconds(), 10),
		"source":     c.store.Source().String(),
		"success":    strconv.FormatBool(err == nil),
	}
	u := c.currentUnit()
	c.logger.Enqueue(eventlogger.Diagnostics(&u, phase, markers))
}

func (c *Client) reportFetchError(tag string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, dataadapter.ErrTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.log.Warn("network did not answer in time, serving cached values", "error", err)
	} else {
		c.boundary.report(tag, err)
	}
	c.emitter.emit(ClientEvent{Name: EventError, Err: err})
}

func toAPIError(err error) error {
	var ne *network.Error
	if errors.As(err, &ne) {
		return APIError{
			msg:        fmt.Sprintf("flagkit: request to %s failed: %v", ne.Endpoint, ne),
			StatusCode: ne.StatusCode,
			Err:        err,
		}
	}
	return err
}

func (c *Client) startWorkers() {
	c.workersOnce.Do(func() {
		c.logger.Start(c.ctx)
		if c.kind == OnDevice && c.config.refreshInterval > 0 {
			go newRefresher(c, c.config.refreshInterval).start(c.ctx)
		}
	})
}

// Flush uploads queued events now.
func (c *Client) Flush(ctx context.Context) error {
	return c.logger.Flush(ctx)
}

// SetVisibility tells the client whether the host application is in the foreground.
// Going to the background flushes events; returning retries failed uploads.
func (c *Client) SetVisibility(v eventlogger.Visibility) {
	c.logger.SetVisibility(v)
}

// Shutdown stops background work and flushes remaining events.
func (c *Client) Shutdown(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.emitter.emit(ClientEvent{Name: EventPreShutdown})
	c.cancel()
	err := c.logger.Shutdown(ctx, false)
	if c.registry != nil {
		c.registry.Unregister(c.sdkKey, c)
	}
	return err
}

// On registers fn for events named name, or for every event with EventAny.
func (c *Client) On(name EventName, fn Listener) ListenerID {
	return c.emitter.on(name, fn)
}

// Off removes a listener registered with On.
func (c *Client) Off(id ListenerID) {
	c.emitter.off(id)
}

// ClientContext describes the client's current identity and values.
type ClientContext struct {
	Kind       ClientKind
	Unit       unit.Unit
	StableID   string
	SessionID  string
	Status     LoadingStatus
	Source     specstore.DataSource
	LCUT       int64
	ReceivedAt time.Time
}

func (c *Client) GetContext() ClientContext {
	return ClientContext{
		Kind:       c.kind,
		Unit:       c.currentUnit(),
		StableID:   c.stableID,
		SessionID:  c.session.ID(),
		Status:     c.LoadingStatus(),
		Source:     c.store.Source(),
		LCUT:       c.store.LastChangedTime(),
		ReceivedAt: c.store.ReceivedAt(),
	}
}

func (c *Client) metadata() map[string]string {
	return map[string]string{
		"sdkType":    sdkType,
		"sdkVersion": sdkVersion(),
		"sessionID":  c.session.ID(),
		"stableID":   c.stableID,
	}
}

// versioned is implemented by override providers whose answers can change between reads.
type versioned interface {
	Version() uint64
}

// valuesVersion changes whenever the store or a versioned override provider changes.
func (c *Client) valuesVersion() uint64 {
	v := c.store.Version()
	for _, p := range c.overrides {
		if vp, ok := p.(versioned); ok {
			v += vp.Version()
		}
	}
	return v
}

func (c *Client) setStatus(s LoadingStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Client) currentUnit() unit.Unit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneUnit(c.unit)
}

func (c *Client) currentUnitFingerprint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unitFP
}

// normalizeUnit attaches the stable id and environment tier the client sends with every unit.
func (c *Client) normalizeUnit(u unit.Unit) unit.Unit {
	u = cloneUnit(u)
	if u.UnitID(unit.IDTypeStableID) == "" && c.stableID != "" {
		u = u.WithCustomID(unit.IDTypeStableID, c.stableID)
	}
	if c.config.environmentTier != "" && u.Tier() == "" {
		if u.Environment == nil {
			u.Environment = map[string]string{}
		}
		u.Environment["tier"] = c.config.environmentTier
	}
	return u
}

// setUnit stores a normalized copy of u.
func (c *Client) setUnit(u unit.Unit) {
	u = c.normalizeUnit(u)
	fp := u.Fingerprint()
	c.mu.Lock()
	c.unit = u
	c.unitFP = fp
	c.mu.Unlock()
}

func (c *Client) switchUnit(u unit.Unit) {
	c.logger.OnUnitChanged()
	c.setUnit(u)
	c.memo.clear()
}
