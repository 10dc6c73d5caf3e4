// Package storage persists cached values, failed logs and client identity
// in a pluggable key-value provider.
package storage

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ErrNotFound is returned by GetItem when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Provider is a string key-value store.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Ready blocks until the provider can serve reads, or ctx is done.
	Ready(ctx context.Context) error
	// IsReadySync reports whether reads can be served without waiting.
	IsReadySync() bool
	GetItem(ctx context.Context, key string) (string, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	GetAllKeys(ctx context.Context) ([]string, error)
	Close() error
}

const keyPrefix = "flagkit."

const (
	cachedSpecsPrefix       = keyPrefix + "cached.specs."
	cachedEvaluationsPrefix = keyPrefix + "cached.evaluations."
	failedLogsPrefix        = keyPrefix + "failed_logs."
	stableIDPrefix          = keyPrefix + "stable_id."
	sessionIDPrefix         = keyPrefix + "session_id."
	localOverridesPrefix    = keyPrefix + "local_overrides."
	stickyValuesPrefix      = keyPrefix + "sticky_values."
	lastModifiedPrefix      = keyPrefix + "last_modified_time."
)

func CachedSpecsKey(fp string) string       { return cachedSpecsPrefix + fp }
func CachedEvaluationsKey(fp string) string { return cachedEvaluationsPrefix + fp }
func FailedLogsKey(fp string) string        { return failedLogsPrefix + fp }
func StableIDKey(fp string) string          { return stableIDPrefix + fp }
func SessionIDKey(fp string) string         { return sessionIDPrefix + fp }
func LocalOverridesKey(fp string) string    { return localOverridesPrefix + fp }
func StickyValuesKey(fp string) string      { return stickyValuesPrefix + fp }

// LastModifiedKey holds the write times of cached evaluation entries for an SDK key.
func LastModifiedKey(fp string) string { return lastModifiedPrefix + fp }

// IsCachedEvaluationsKey reports whether key holds a cached precomputed payload.
func IsCachedEvaluationsKey(key string) bool {
	return strings.HasPrefix(key, cachedEvaluationsPrefix)
}

// Fingerprint derives a short stable identifier from an SDK key and optional parts.
func Fingerprint(sdkKey string, parts ...string) string {
	h := xxhash.New()
	_, _ = h.WriteString(sdkKey)
	for _, p := range parts {
		_, _ = h.WriteString("|")
		_, _ = h.WriteString(p)
	}
	return strconv.FormatUint(h.Sum64(), 36)
}
