package flagkit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/flagkit/flagkit-go-client/flagengine"
	"github.com/flagkit/flagkit-go-client/flagengine/specs"
	"github.com/flagkit/flagkit-go-client/storage"
	"github.com/flagkit/flagkit-go-client/unit"
)

// RuleIDOverride is the rule id of values served by LocalOverrides.
const RuleIDOverride = "override"

// LocalOverrides replaces evaluation results with values set by the application.
// Overrides are persisted and apply to every unit.
type LocalOverrides struct {
	mu       sync.RWMutex
	provider storage.Provider
	key      string
	log      *slog.Logger
	values   overrideValues
	version  atomic.Uint64
}

type overrideValues struct {
	Gates   map[string]bool           `json:"gates"`
	Configs map[string]map[string]any `json:"configs"`
	Layers  map[string]map[string]any `json:"layers"`
}

var _ flagengine.OverrideProvider = (*LocalOverrides)(nil)

// NewLocalOverrides loads overrides previously saved for sdkKey. provider may be nil.
func NewLocalOverrides(provider storage.Provider, sdkKey string, log *slog.Logger) *LocalOverrides {
	if provider == nil {
		provider = storage.NewMemoryProvider()
	}
	if log == nil {
		log = slog.Default()
	}
	o := &LocalOverrides{
		provider: provider,
		key:      storage.LocalOverridesKey(storage.Fingerprint(sdkKey)),
		log:      log,
	}
	o.reset()
	if raw, err := provider.GetItem(context.Background(), o.key); err == nil {
		if err := json.Unmarshal([]byte(raw), &o.values); err != nil {
			log.Warn("ignoring unreadable local overrides", "error", err)
			o.reset()
		}
	}
	return o
}

func (o *LocalOverrides) reset() {
	o.values = overrideValues{
		Gates:   map[string]bool{},
		Configs: map[string]map[string]any{},
		Layers:  map[string]map[string]any{},
	}
}

func (o *LocalOverrides) OverrideGate(name string, value bool) {
	o.mu.Lock()
	o.values.Gates[name] = value
	o.saveLocked()
	o.mu.Unlock()
}

// OverrideDynamicConfig overrides a dynamic config or experiment.
func (o *LocalOverrides) OverrideDynamicConfig(name string, value map[string]any) {
	o.mu.Lock()
	o.values.Configs[name] = copyValue(value)
	o.saveLocked()
	o.mu.Unlock()
}

func (o *LocalOverrides) OverrideLayer(name string, value map[string]any) {
	o.mu.Lock()
	o.values.Layers[name] = copyValue(value)
	o.saveLocked()
	o.mu.Unlock()
}

// Remove deletes every override named name.
func (o *LocalOverrides) Remove(name string) {
	o.mu.Lock()
	delete(o.values.Gates, name)
	delete(o.values.Configs, name)
	delete(o.values.Layers, name)
	o.saveLocked()
	o.mu.Unlock()
}

func (o *LocalOverrides) RemoveAll() {
	o.mu.Lock()
	o.reset()
	o.saveLocked()
	o.mu.Unlock()
}

func (o *LocalOverrides) Override(kind specs.Kind, name string, _ *unit.Unit, core flagengine.EvaluationResult) *flagengine.EvaluationResult {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var value any
	switch kind {
	case specs.KindGate:
		v, ok := o.values.Gates[name]
		if !ok {
			return nil
		}
		value = v
	case specs.KindConfig:
		v, ok := o.values.Configs[name]
		if !ok {
			return nil
		}
		value = copyValue(v)
	case specs.KindLayer:
		v, ok := o.values.Layers[name]
		if !ok {
			return nil
		}
		value = copyValue(v)
	default:
		return nil
	}
	return &flagengine.EvaluationResult{
		Value:          value,
		RuleID:         RuleIDOverride,
		IDType:         core.IDType,
		Recognized:     true,
		OverrideReason: "LocalOverride",
	}
}

// Version changes every time an override is set or removed.
func (o *LocalOverrides) Version() uint64 {
	return o.version.Load()
}

func (o *LocalOverrides) saveLocked() {
	o.version.Add(1)
	raw, err := json.Marshal(o.values)
	if err != nil {
		return
	}
	if err := o.provider.SetItem(context.Background(), o.key, string(raw)); err != nil {
		o.log.Warn("failed to persist local overrides", "error", err)
	}
}
