package flagkit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/flagkit/flagkit-go-client/flagengine"
	"github.com/flagkit/flagkit-go-client/flagengine/specs"
	"github.com/flagkit/flagkit-go-client/storage"
	"github.com/flagkit/flagkit-go-client/unit"
)

// StickyValues keeps the first assignment a unit received in an active experiment.
// Assignments are dropped once the experiment is no longer active.
type StickyValues struct {
	mu       sync.Mutex
	provider storage.Provider
	key      string
	log      *slog.Logger
	now      func() time.Time
	values   map[string]stickyValue
}

type stickyValue struct {
	Value              map[string]any            `json:"value"`
	RuleID             string                    `json:"rule_id"`
	GroupName          string                    `json:"group_name,omitempty"`
	IDType             string                    `json:"id_type,omitempty"`
	SecondaryExposures []specs.SecondaryExposure `json:"secondary_exposures,omitempty"`
	Time               int64                     `json:"time"`
}

var _ flagengine.OverrideProvider = (*StickyValues)(nil)

func NewStickyValues(provider storage.Provider, sdkKey string, log *slog.Logger) *StickyValues {
	if provider == nil {
		provider = storage.NewMemoryProvider()
	}
	if log == nil {
		log = slog.Default()
	}
	s := &StickyValues{
		provider: provider,
		key:      storage.StickyValuesKey(storage.Fingerprint(sdkKey)),
		log:      log,
		now:      time.Now,
		values:   map[string]stickyValue{},
	}
	if raw, err := provider.GetItem(context.Background(), s.key); err == nil {
		if err := json.Unmarshal([]byte(raw), &s.values); err != nil {
			log.Warn("ignoring unreadable sticky values", "error", err)
			s.values = map[string]stickyValue{}
		}
	}
	return s
}

func stickyKey(u *unit.Unit, idType, name string) string {
	return u.UnitID(idType) + "|" + idType + "|" + name
}

func (s *StickyValues) Override(kind specs.Kind, name string, u *unit.Unit, core flagengine.EvaluationResult) *flagengine.EvaluationResult {
	if kind != specs.KindConfig || u == nil || !core.Recognized {
		return nil
	}
	key := stickyKey(u, core.IDType, name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if core.IsExperimentActive == nil || !*core.IsExperimentActive {
		if _, ok := s.values[key]; ok {
			delete(s.values, key)
			s.saveLocked()
		}
		return nil
	}
	if v, ok := s.values[key]; ok {
		inExperiment := true
		active := true
		return &flagengine.EvaluationResult{
			Value:              copyValue(v.Value),
			RuleID:             v.RuleID,
			GroupName:          v.GroupName,
			IDType:             v.IDType,
			SecondaryExposures: v.SecondaryExposures,
			IsExperimentGroup:  true,
			IsExperimentActive: &active,
			IsUserInExperiment: &inExperiment,
			Recognized:         true,
			OverrideReason:     "Persisted",
		}
	}
	if core.IsUserInExperiment != nil && *core.IsUserInExperiment {
		s.values[key] = stickyValue{
			Value:              copyValue(core.JSONValue()),
			RuleID:             core.RuleID,
			GroupName:          core.GroupName,
			IDType:             core.IDType,
			SecondaryExposures: core.SecondaryExposures,
			Time:               s.now().UnixMilli(),
		}
		s.saveLocked()
	}
	return nil
}

// Clear forgets every assignment.
func (s *StickyValues) Clear() {
	s.mu.Lock()
	s.values = map[string]stickyValue{}
	s.saveLocked()
	s.mu.Unlock()
}

func (s *StickyValues) saveLocked() {
	raw, err := json.Marshal(s.values)
	if err != nil {
		return
	}
	if err := s.provider.SetItem(context.Background(), s.key, string(raw)); err != nil {
		s.log.Warn("failed to persist sticky values", "error", err)
	}
}
