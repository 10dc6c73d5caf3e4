package flagkit

import (
	"strconv"
	"sync"
)

const maxMemoEntries = 3000

type memoKey struct {
	method  string
	name    string
	options string
	unit    string
	version uint64
}

// memo caches read results per unit and store version.
type memo struct {
	mu      sync.Mutex
	entries map[memoKey]any
}

func newMemo() *memo {
	return &memo{entries: map[memoKey]any{}}
}

func newMemoKey(method, name string, opts EvaluationOptions, unitFingerprint string, version uint64) memoKey {
	return memoKey{
		method:  method,
		name:    name,
		options: "dx=" + strconv.FormatBool(opts.DisableExposureLog),
		unit:    unitFingerprint,
		version: version,
	}
}

func (m *memo) get(k memoKey) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[k]
	return v, ok
}

func (m *memo) put(k memoKey, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) >= maxMemoEntries {
		m.entries = map[memoKey]any{}
	}
	m.entries[k] = v
}

func (m *memo) clear() {
	m.mu.Lock()
	m.entries = map[memoKey]any{}
	m.mu.Unlock()
}

func (m *memo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
