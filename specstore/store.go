// Package specstore holds the latest accepted snapshot of flag values.
package specstore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flagkit/flagkit-go-client/flagengine/specs"
	"github.com/flagkit/flagkit-go-client/flagengine/utils"
)

var (
	// ErrStaleValues is returned when a candidate snapshot is older than the current one.
	ErrStaleValues = errors.New("values are older than the current snapshot")
	// ErrMalformedValues is returned when a candidate snapshot cannot be decoded.
	ErrMalformedValues = errors.New("values could not be decoded")
)

// PayloadKind selects the payload a Store decodes.
type PayloadKind int

const (
	// PayloadSpecs is a full rule set evaluated on device.
	PayloadSpecs PayloadKind = iota
	// PayloadEvaluations is a precomputed set of results for a single unit.
	PayloadEvaluations
)

type specIndex struct {
	byName map[string]*specs.Spec
	byHash map[string]*specs.Spec
}

// Store is safe for concurrent use. Readers always observe a complete snapshot.
type Store struct {
	kind   PayloadKind
	digest utils.Digest

	mu         sync.RWMutex
	source     DataSource
	lcut       int64
	receivedAt time.Time
	unitHash   string
	raw        string
	version    uint64

	specs       map[specs.Kind]specIndex
	idLists     map[string]map[string]struct{}
	paramStores map[string]specs.ParamStore
	appID       string

	precomputed *specs.InitializeResponse
}

// New creates an empty store in the Uninitialized state.
func New(kind PayloadKind) *Store {
	return &Store{kind: kind, digest: utils.DefaultDigest}
}

// Kind returns the payload kind the store accepts.
func (s *Store) Kind() PayloadKind {
	return s.kind
}

// SetFromAdapterResult accepts res when its lcut is not older than the current one.
func (s *Store) SetFromAdapterResult(res *AdapterResult) error {
	if res == nil {
		return ErrMalformedValues
	}
	if res.Source == SourceNetworkNotModified {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.source.HasValues() {
			return ErrMalformedValues
		}
		s.source = res.Source
		s.receivedAt = res.ReceivedAt
		s.version++
		return nil
	}

	candidate := specs.ExtractLCUT(res.Data)
	s.mu.RLock()
	current := s.lcut
	s.mu.RUnlock()
	if candidate < current {
		return fmt.Errorf("%w: %d < %d", ErrStaleValues, candidate, current)
	}

	switch s.kind {
	case PayloadEvaluations:
		parsed, err := specs.ParseInitialize(res.Data)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedValues, err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if parsed.Time < s.lcut {
			return fmt.Errorf("%w: %d < %d", ErrStaleValues, parsed.Time, s.lcut)
		}
		s.precomputed = parsed
		s.paramStores = parsed.ParamStores
		s.accept(res, parsed.Time)
	default:
		parsed, err := specs.ParseSpecs(res.Data)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedValues, err)
		}
		index := s.indexSpecs(parsed)
		lists := indexIDLists(parsed.IDLists)
		s.mu.Lock()
		defer s.mu.Unlock()
		if parsed.Time < s.lcut {
			return fmt.Errorf("%w: %d < %d", ErrStaleValues, parsed.Time, s.lcut)
		}
		s.specs = index
		s.idLists = lists
		s.paramStores = parsed.ParamStores
		s.appID = parsed.AppID
		s.accept(res, parsed.Time)
	}
	return nil
}

func (s *Store) accept(res *AdapterResult, lcut int64) {
	s.source = res.Source
	s.lcut = lcut
	s.receivedAt = res.ReceivedAt
	s.unitHash = res.UnitHash
	s.raw = res.Data
	s.version++
}

func (s *Store) indexSpecs(parsed *specs.SpecsResponse) map[specs.Kind]specIndex {
	out := map[specs.Kind]specIndex{}
	add := func(kind specs.Kind, list []specs.Spec) {
		idx := specIndex{
			byName: make(map[string]*specs.Spec, len(list)),
			byHash: make(map[string]*specs.Spec, len(list)),
		}
		for i := range list {
			sp := &list[i]
			idx.byName[sp.Name] = sp
			idx.byHash[s.digest.HashName(sp.Name, utils.HashAlgoDJB2)] = sp
		}
		out[kind] = idx
	}
	add(specs.KindGate, parsed.FeatureGates)
	add(specs.KindConfig, parsed.DynamicConfigs)
	add(specs.KindLayer, parsed.LayerConfigs)
	return out
}

func indexIDLists(lists map[string][]string) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(lists))
	for name, ids := range lists {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		out[name] = set
	}
	return out
}

// Reset drops the current values and moves to Loading. Used when the unit changes.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = SourceLoading
	s.lcut = 0
	s.receivedAt = time.Time{}
	s.unitHash = ""
	s.raw = ""
	s.specs = nil
	s.idLists = nil
	s.paramStores = nil
	s.precomputed = nil
	s.version++
}

// Finalize moves a store that never received values into NoValues.
func (s *Store) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source.HasValues() {
		return
	}
	s.source = SourceNoValues
	s.version++
}

// GetSpec finds a spec by name, or by the hash of its name.
func (s *Store) GetSpec(kind specs.Kind, name string) *specs.Spec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.specs[kind]
	if !ok {
		return nil
	}
	if sp, ok := idx.byName[name]; ok {
		return sp
	}
	return idx.byHash[name]
}

// SpecNames returns the names of every spec of kind.
func (s *Store) SpecNames(kind specs.Kind) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.specs[kind].byName))
	for name := range s.specs[kind].byName {
		names = append(names, name)
	}
	return names
}

func (s *Store) IDList(name string) (map[string]struct{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.idLists[name]
	return l, ok
}

// AppID is the application the rule set was downloaded for.
func (s *Store) AppID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appID
}

func (s *Store) precomputedKey(name string) string {
	algo := utils.HashAlgoNone
	if s.precomputed != nil && s.precomputed.HashUsed != "" {
		algo = s.precomputed.HashUsed
	}
	return s.digest.HashName(name, algo)
}

func (s *Store) GetPrecomputedGate(name string) *specs.PrecomputedGate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.precomputed == nil {
		return nil
	}
	if g, ok := s.precomputed.FeatureGates[s.precomputedKey(name)]; ok {
		return &g
	}
	return nil
}

func (s *Store) GetPrecomputedConfig(name string) *specs.PrecomputedConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.precomputed == nil {
		return nil
	}
	if c, ok := s.precomputed.DynamicConfigs[s.precomputedKey(name)]; ok {
		return &c
	}
	return nil
}

func (s *Store) GetPrecomputedLayer(name string) *specs.PrecomputedLayer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.precomputed == nil {
		return nil
	}
	if l, ok := s.precomputed.LayerConfigs[s.precomputedKey(name)]; ok {
		return &l
	}
	return nil
}

// GetParamStore looks a parameter store up by name, falling back to its hashed name.
func (s *Store) GetParamStore(name string) (specs.ParamStore, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ps, ok := s.paramStores[name]; ok {
		return ps, true
	}
	if s.precomputed != nil {
		ps, ok := s.paramStores[s.precomputedKey(name)]
		return ps, ok
	}
	return specs.ParamStore{}, false
}

func (s *Store) Source() DataSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// LastChangedTime is the lcut of the accepted snapshot, zero when empty.
func (s *Store) LastChangedTime() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lcut
}

func (s *Store) ReceivedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.receivedAt
}

// UnitHash is the fingerprint of the unit precomputed values belong to.
func (s *Store) UnitHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unitHash
}

// Raw returns the accepted payload as received.
func (s *Store) Raw() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raw
}

// Current returns the accepted payload as an adapter result, or nil when the store has no values.
func (s *Store) Current() *AdapterResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.source.HasValues() || s.raw == "" {
		return nil
	}
	return &AdapterResult{Data: s.raw, Source: s.source, ReceivedAt: s.receivedAt, UnitHash: s.unitHash}
}

// Version changes every time the store's content or provenance changes.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Details derives the evaluation reason from the store's provenance.
func (s *Store) Details(recognized bool) Details {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.source.HasValues() {
		return Details{Reason: s.source.String()}
	}
	recognition := "Unrecognized"
	if recognized {
		recognition = "Recognized"
	}
	return Details{
		Reason:     s.source.String() + ":" + recognition,
		LCUT:       s.lcut,
		ReceivedAt: s.receivedAt,
	}
}
