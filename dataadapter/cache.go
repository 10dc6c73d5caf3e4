package dataadapter

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/flagkit/flagkit-go-client/specstore"
	"github.com/flagkit/flagkit-go-client/storage"
)

// cacheEntry is the persisted form of a payload. Source and SessionID record
// where the payload came from, so a reader in the same session keeps that label.
type cacheEntry struct {
	Data       string `json:"data"`
	ReceivedAt int64  `json:"receivedAt"`
	UnitHash   string `json:"unitHash,omitempty"`
	Source     string `json:"source,omitempty"`
	SessionID  string `json:"sessionID,omitempty"`
}

// cachedSource labels a payload read from storage. Payloads written in an
// earlier session are served as Cache.
func (a *Adapter) cachedSource(entry cacheEntry) specstore.DataSource {
	if entry.SessionID == "" || a.opts.SessionID == nil || entry.SessionID != a.opts.SessionID() {
		return specstore.SourceCache
	}
	if src := specstore.ParseDataSource(entry.Source); src.HasValues() {
		return src
	}
	return specstore.SourceCache
}

func (a *Adapter) readCache(key string) *specstore.AdapterResult {
	a.mu.Lock()
	if res, ok := a.memCache[key]; ok {
		a.mu.Unlock()
		return res
	}
	a.mu.Unlock()

	if !a.storage.IsReadySync() {
		return nil
	}
	raw, err := a.storage.GetItem(context.Background(), key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			a.log.Warn("failed to read cache", "key", key, "error", err)
		}
		return nil
	}
	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.Data == "" {
		a.log.Warn("discarding unreadable cache entry", "key", key)
		return nil
	}
	res := &specstore.AdapterResult{
		Data:       entry.Data,
		Source:     a.cachedSource(entry),
		ReceivedAt: time.UnixMilli(entry.ReceivedAt),
		UnitHash:   entry.UnitHash,
	}
	a.mu.Lock()
	a.memCache[key] = res
	a.mu.Unlock()
	return res
}

func (a *Adapter) writeCache(ctx context.Context, key string, res *specstore.AdapterResult) {
	cached := &specstore.AdapterResult{
		Data:       res.Data,
		Source:     res.Source,
		ReceivedAt: res.ReceivedAt,
		UnitHash:   res.UnitHash,
	}
	a.mu.Lock()
	if prev, ok := a.memCache[key]; ok && lcutOf(prev) > lcutOf(cached) {
		a.mu.Unlock()
		return
	}
	a.memCache[key] = cached
	a.mu.Unlock()

	entry := cacheEntry{
		Data:       res.Data,
		ReceivedAt: res.ReceivedAt.UnixMilli(),
		UnitHash:   res.UnitHash,
		Source:     res.Source.String(),
	}
	if a.opts.SessionID != nil {
		entry.SessionID = a.opts.SessionID()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := a.storage.SetItem(ctx, key, string(raw)); err != nil {
		a.log.Warn("failed to write cache", "key", key, "error", err)
		return
	}
	if a.kind == specstore.PayloadEvaluations {
		a.evictOldEntries(ctx, key)
	}
}

// evictOldEntries keeps at most MaxCachedEntries evaluation payloads for this SDK key.
// The index holds every key this adapter has written, custom cache keys included.
func (a *Adapter) evictOldEntries(ctx context.Context, written string) {
	a.evictMu.Lock()
	defer a.evictMu.Unlock()

	indexKey := storage.LastModifiedKey(storage.Fingerprint(a.sdkKey))
	times := map[string]int64{}
	if raw, err := a.storage.GetItem(ctx, indexKey); err == nil {
		_ = json.Unmarshal([]byte(raw), &times)
	}
	times[written] = a.opts.Now().UnixMilli()

	if len(times) > a.opts.MaxCachedEntries {
		keys := make([]string, 0, len(times))
		for k := range times {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if times[keys[i]] == times[keys[j]] {
				return keys[i] < keys[j]
			}
			return times[keys[i]] < times[keys[j]]
		})
		for _, k := range keys[:len(keys)-a.opts.MaxCachedEntries] {
			if k == written {
				continue
			}
			if err := a.storage.RemoveItem(ctx, k); err != nil {
				a.log.Warn("failed to evict cache entry", "key", k, "error", err)
				continue
			}
			delete(times, k)
			a.mu.Lock()
			delete(a.memCache, k)
			a.mu.Unlock()
		}
	}

	raw, err := json.Marshal(times)
	if err != nil {
		return
	}
	if err := a.storage.SetItem(ctx, indexKey, string(raw)); err != nil {
		a.log.Warn("failed to write cache index", "error", err)
	}
}
