// Package eventlogger queues exposures and custom events and uploads them in batches.
package eventlogger

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/flagkit/flagkit-go-client/network"
	"github.com/flagkit/flagkit-go-client/storage"
)

const (
	DefaultFlushInterval = 10 * time.Second
	DefaultMaxQueueSize  = 50
	DefaultDedupeWindow  = time.Minute
)

// ErrShutdown is returned by Flush after Shutdown.
var ErrShutdown = errors.New("eventlogger: logger is shut down")

// Poster is the part of network.Network the logger uses.
type Poster interface {
	Post(ctx context.Context, endpoint network.Endpoint, body any, opts network.PostOptions) (*network.Response, error)
	SendFireAndForget(endpoint network.Endpoint, body any) bool
}

// Policy controls whether events are recorded at all.
type Policy int

const (
	// PolicyInteractive logs unless logging was disabled at runtime.
	PolicyInteractive Policy = iota
	PolicyDisabled
	// PolicyAlways logs even when logging was disabled at runtime.
	PolicyAlways
)

// State is the lifecycle state of a Logger.
type State int32

const (
	StateIdle State = iota
	StateFlushing
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateFlushing:
		return "Flushing"
	case StateShutdown:
		return "Shutdown"
	}
	return "Unknown"
}

// Visibility is the foreground state reported by the host application.
type Visibility int

const (
	VisibilityForeground Visibility = iota
	VisibilityBackground
)

// FlushResult is passed to flush hooks after every upload attempt.
type FlushResult struct {
	Events  []Event
	Success bool
	Err     error
}

type Options struct {
	SDKKey        string
	Policy        Policy
	FlushInterval time.Duration
	MaxQueueSize  int
	// DedupeWindow suppresses identical exposures for the same unit. Zero uses the default, negative disables it.
	DedupeWindow    time.Duration
	MaxFailedEvents int
	MaxFailedBytes  int
	Storage         storage.Provider
	// DisableDiagnostics drops diagnostics events. They ignore Policy and the runtime toggle.
	DisableDiagnostics bool
	// Metadata is attached to every upload.
	Metadata   func() map[string]string
	Registerer prometheus.Registerer
	Logger     *slog.Logger
	Now        func() time.Time
}

// Logger batches events and uploads them to the rgstr endpoint.
type Logger struct {
	net     Poster
	opts    Options
	log     *slog.Logger
	metrics *Metrics
	failed  *FailedLogStore

	mu         sync.Mutex
	queue      []Event
	nonExposed map[string]int
	seen       map[string]time.Time
	disabled   bool
	hooks      []func(FlushResult)

	flushMu sync.Mutex
	state   atomic.Int32

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(net Poster, opts Options) *Logger {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = DefaultMaxQueueSize
	}
	if opts.DedupeWindow == 0 {
		opts.DedupeWindow = DefaultDedupeWindow
	}
	if opts.Storage == nil {
		opts.Storage = storage.NewMemoryProvider()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger.With(slog.String("component", "eventlogger"))
	return &Logger{
		net:        net,
		opts:       opts,
		log:        log,
		metrics:    NewMetrics(opts.Registerer),
		failed:     NewFailedLogStore(opts.Storage, opts.SDKKey, opts.MaxFailedEvents, opts.MaxFailedBytes, log),
		nonExposed: map[string]int{},
		seen:       map[string]time.Time{},
	}
}

// Metrics returns the collectors updated by the logger.
func (l *Logger) Metrics() *Metrics { return l.metrics }

// State returns the current lifecycle state.
func (l *Logger) State() State { return State(l.state.Load()) }

// Start runs the periodic flush loop until ctx is done or Shutdown is called.
// Batches left over from a previous run are retried once on start.
func (l *Logger) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		l.mu.Lock()
		l.cancel = cancel
		l.mu.Unlock()
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.RetryFailedLogs(ctx)
			l.loop(ctx)
		}()
	})
}

func (l *Logger) loop(ctx context.Context) {
	ticker := time.NewTicker(l.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := l.Flush(ctx); err != nil && !errors.Is(err, ErrShutdown) {
				l.log.Warn("failed to flush events", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// SetLoggingDisabled toggles logging at runtime. PolicyAlways ignores the toggle.
func (l *Logger) SetLoggingDisabled(disabled bool) {
	l.mu.Lock()
	l.disabled = disabled
	l.mu.Unlock()
}

func (l *Logger) enabledLocked() bool {
	switch l.opts.Policy {
	case PolicyDisabled:
		return false
	case PolicyAlways:
		return true
	}
	return !l.disabled
}

func (l *Logger) acceptsLocked(e Event) bool {
	if e.EventName == DiagnosticsEvent {
		return !l.opts.DisableDiagnostics
	}
	return l.enabledLocked()
}

// OnFlush registers fn to be called after every upload attempt.
func (l *Logger) OnFlush(fn func(FlushResult)) {
	l.mu.Lock()
	l.hooks = append(l.hooks, fn)
	l.mu.Unlock()
}

// Enqueue adds e to the queue. Reaching the max queue size triggers a flush.
func (l *Logger) Enqueue(e Event) {
	if l.State() == StateShutdown {
		l.metrics.EventsDropped.WithLabelValues(dropShutdown).Inc()
		return
	}
	l.mu.Lock()
	if !l.acceptsLocked(e) {
		l.mu.Unlock()
		l.metrics.EventsDropped.WithLabelValues(dropDisabled).Inc()
		return
	}
	if e.IsExposure() && l.isDuplicateLocked(e) {
		l.mu.Unlock()
		l.metrics.EventsDropped.WithLabelValues(dropDuplicate).Inc()
		return
	}
	l.queue = append(l.queue, e)
	size := len(l.queue)
	l.mu.Unlock()

	l.metrics.EventsEnqueued.Inc()
	l.metrics.QueueSize.Set(float64(size))
	if size >= l.opts.MaxQueueSize {
		l.flushInBackground()
	}
}

func (l *Logger) isDuplicateLocked(e Event) bool {
	if l.opts.DedupeWindow < 0 {
		return false
	}
	key := dedupeKey(e)
	now := l.opts.Now()
	if at, ok := l.seen[key]; ok && now.Sub(at) < l.opts.DedupeWindow {
		return true
	}
	if len(l.seen) > 1000 {
		for k, at := range l.seen {
			if now.Sub(at) >= l.opts.DedupeWindow {
				delete(l.seen, k)
			}
		}
	}
	l.seen[key] = now
	return false
}

func dedupeKey(e Event) string {
	var b strings.Builder
	b.WriteString(e.EventName)
	b.WriteByte('|')
	b.WriteString(e.User.Fingerprint())
	keys := maps.Keys(e.Metadata)
	slices.Sort(keys)
	for _, k := range keys {
		if k == "lcut" || k == "receivedAt" {
			continue
		}
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(e.Metadata[k])
	}
	return b.String()
}

// IncrementNonExposedCheck counts a read of name that did not log an exposure.
func (l *Logger) IncrementNonExposedCheck(name string) {
	l.mu.Lock()
	l.nonExposed[name]++
	l.mu.Unlock()
}

// OnUnitChanged queues the pending non-exposed checks and clears the exposure dedupe window.
func (l *Logger) OnUnitChanged() {
	l.mu.Lock()
	checks := l.takeNonExposedLocked()
	l.seen = map[string]time.Time{}
	l.mu.Unlock()
	if checks != nil {
		l.Enqueue(NonExposedChecks(checks))
	}
}

func (l *Logger) takeNonExposedLocked() map[string]int {
	if len(l.nonExposed) == 0 {
		return nil
	}
	checks := l.nonExposed
	l.nonExposed = map[string]int{}
	return checks
}

// SetVisibility flushes when the host goes to the background and retries
// failed uploads when it returns to the foreground.
func (l *Logger) SetVisibility(v Visibility) {
	if l.State() == StateShutdown {
		return
	}
	switch v {
	case VisibilityBackground:
		l.flushInBackground()
	case VisibilityForeground:
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.RetryFailedLogs(context.Background())
		}()
	}
}

func (l *Logger) flushInBackground() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.Flush(context.Background()); err != nil && !errors.Is(err, ErrShutdown) {
			l.log.Warn("failed to flush events", "error", err)
		}
	}()
}

// Flush uploads every queued event. A failed batch is persisted for a later retry.
func (l *Logger) Flush(ctx context.Context) error {
	if l.State() == StateShutdown {
		return ErrShutdown
	}
	return l.flush(ctx)
}

func (l *Logger) flush(ctx context.Context) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	events := l.drain()
	if len(events) == 0 {
		return nil
	}
	if State(l.state.Load()) != StateShutdown {
		l.state.Store(int32(StateFlushing))
		defer l.state.CompareAndSwap(int32(StateFlushing), int32(StateIdle))
	}

	err := l.send(ctx, events)
	if err != nil {
		l.metrics.Flushes.WithLabelValues(flushFailure).Inc()
		l.persist(ctx, events)
	} else {
		l.metrics.Flushes.WithLabelValues(flushSuccess).Inc()
	}
	l.notify(FlushResult{Events: events, Success: err == nil, Err: err})
	return err
}

func (l *Logger) drain() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if checks := l.takeNonExposedLocked(); checks != nil && l.enabledLocked() {
		l.queue = append(l.queue, NonExposedChecks(checks))
	}
	events := l.queue
	l.queue = nil
	l.metrics.QueueSize.Set(0)
	return events
}

func (l *Logger) send(ctx context.Context, events []Event) error {
	_, err := l.net.Post(ctx, network.EndpointRegister, l.payload(events), network.PostOptions{
		Compress: true,
		Query:    map[string]string{"ec": strconv.Itoa(len(events))},
	})
	return err
}

func (l *Logger) payload(events []Event) map[string]any {
	body := map[string]any{"events": events}
	if l.opts.Metadata != nil {
		body["statsigMetadata"] = l.opts.Metadata()
	}
	return body
}

func (l *Logger) persist(ctx context.Context, events []Event) {
	batch := FailedBatch{ID: uuid.NewString(), Events: events, CreatedAt: l.opts.Now().UnixMilli()}
	evicted, err := l.failed.Add(context.WithoutCancel(ctx), batch)
	if err != nil {
		l.log.Error("failed to persist events", "count", len(events), "error", err)
		l.metrics.EventsDropped.WithLabelValues(dropEvicted).Add(float64(len(events)))
		return
	}
	if evicted > 0 {
		l.metrics.EventsDropped.WithLabelValues(dropEvicted).Add(float64(evicted))
	}
	l.metrics.FailedEvents.Set(float64(l.failed.Count(ctx)))
}

func (l *Logger) notify(res FlushResult) {
	l.mu.Lock()
	hooks := slices.Clone(l.hooks)
	l.mu.Unlock()
	for _, fn := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.log.Error("flush hook panicked", "panic", r)
				}
			}()
			fn(res)
		}()
	}
}

// RetryFailedLogs uploads persisted batches. Successful batches are removed,
// failed ones stay for the next attempt.
func (l *Logger) RetryFailedLogs(ctx context.Context) {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	batches, err := l.failed.Load(ctx)
	if err != nil {
		l.log.Warn("failed to load persisted events", "error", err)
		return
	}
	for _, b := range batches {
		if err := l.send(ctx, b.Events); err != nil {
			l.log.Debug("retry of persisted events failed", "batch", b.ID, "error", err)
			l.metrics.Flushes.WithLabelValues(flushFailure).Inc()
			continue
		}
		l.metrics.Flushes.WithLabelValues(flushSuccess).Inc()
		if err := l.failed.Remove(ctx, b.ID); err != nil {
			l.log.Warn("failed to remove retried events", "batch", b.ID, "error", err)
		}
	}
	l.metrics.FailedEvents.Set(float64(l.failed.Count(ctx)))
}

// Shutdown stops the flush loop and flushes what is left.
// With fireAndForget the final batch is handed to the transport without waiting for a reply.
func (l *Logger) Shutdown(ctx context.Context, fireAndForget bool) error {
	if State(l.state.Swap(int32(StateShutdown))) == StateShutdown {
		return nil
	}
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.wg.Wait()

	if !fireAndForget {
		return l.flush(ctx)
	}
	events := l.drain()
	if len(events) == 0 {
		return nil
	}
	if !l.net.SendFireAndForget(network.EndpointRegister, l.payload(events)) {
		l.persist(ctx, events)
		return errors.New("eventlogger: final batch could not be queued")
	}
	return nil
}
