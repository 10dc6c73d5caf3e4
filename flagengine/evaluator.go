package flagengine

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/flagkit/flagkit-go-client/flagengine/specs"
	"github.com/flagkit/flagkit-go-client/flagengine/utils"
	"github.com/flagkit/flagkit-go-client/unit"
)

// maxDepth bounds gate references and config delegation chains.
const maxDepth = 32

var (
	// ErrNilUnit is returned when Evaluate is called without a unit.
	ErrNilUnit = errors.New("unit is required for evaluation")
	// ErrMaxDepth is reported when spec references form a cycle or nest too deep.
	ErrMaxDepth = errors.New("maximum evaluation depth exceeded")
)

// SpecLookup is the read side of the spec store used during evaluation.
type SpecLookup interface {
	GetSpec(kind specs.Kind, name string) *specs.Spec
	// IDList returns the hashed member ids of a segment list.
	IDList(name string) (map[string]struct{}, bool)
}

// Evaluator walks spec rule chains for a unit.
type Evaluator struct {
	store  SpecLookup
	digest utils.Digest
	log    *slog.Logger
	now    func() time.Time
	appID  string
}

// Option configures an Evaluator.
type Option func(e *Evaluator)

// WithDigest replaces the bucketing digest.
func WithDigest(d utils.Digest) Option {
	return func(e *Evaluator) {
		if d != nil {
			e.digest = d
		}
	}
}

// WithLogger sets the logger used for evaluation warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock sets the time source for current_time conditions.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// WithAppID sets the application id matched by target_app conditions.
// Without it the id comes from the store when the store reports one.
func WithAppID(appID string) Option {
	return func(e *Evaluator) {
		e.appID = appID
	}
}

// NewEvaluator creates an evaluator reading specs from store.
func NewEvaluator(store SpecLookup, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:  store,
		digest: utils.DefaultDigest,
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) currentAppID() string {
	if e.appID != "" {
		return e.appID
	}
	if s, ok := e.store.(interface{ AppID() string }); ok {
		return s.AppID()
	}
	return ""
}

// evalState is carried through one top level evaluation.
type evalState struct {
	unit  *unit.Unit
	depth int
}

// Evaluate resolves spec name of the given kind for u.
// A missing spec is not an error: the result carries the default value and Recognized=false.
func (e *Evaluator) Evaluate(u *unit.Unit, name string, kind specs.Kind) (EvaluationResult, error) {
	if u == nil {
		return unrecognized(kind), ErrNilUnit
	}
	spec := e.store.GetSpec(kind, name)
	if spec == nil {
		return unrecognized(kind), nil
	}
	st := &evalState{unit: u}
	res, err := e.evalSpec(st, spec)
	if err != nil {
		e.log.Warn("evaluation aborted", "spec", name, "error", err)
		return EvaluationResult{Value: decodeValue(kind, spec.DefaultValue), RuleID: RuleIDDefault, IDType: spec.IDType, Recognized: true, Unsupported: true}, nil
	}
	return res, nil
}

func (e *Evaluator) evalSpec(st *evalState, spec *specs.Spec) (EvaluationResult, error) {
	if st.depth > maxDepth {
		return EvaluationResult{}, ErrMaxDepth
	}
	st.depth++
	defer func() { st.depth-- }()

	res := EvaluationResult{
		IDType:             spec.IDType,
		Recognized:         true,
		IsExperimentActive: spec.IsActive,
	}
	if !spec.Enabled {
		res.Value = decodeValue(spec.Type, spec.DefaultValue)
		res.RuleID = RuleIDDisabled
		return res, nil
	}

	var exposures []specs.SecondaryExposure
	for i := range spec.Rules {
		rule := &spec.Rules[i]
		matched, ruleExposures, unsupported, err := e.evalConditions(st, rule)
		if err != nil {
			return EvaluationResult{}, err
		}
		exposures = append(exposures, ruleExposures...)
		if unsupported {
			res.Unsupported = true
		}
		if !matched {
			continue
		}

		if rule.ConfigDelegate != "" {
			delegated, ok, err := e.evalDelegate(st, spec, rule, exposures)
			if err != nil {
				return EvaluationResult{}, err
			}
			if ok {
				return delegated, nil
			}
		}

		unitID := st.unit.UnitID(idTypeOf(rule.IDType, spec.IDType))
		if !utils.PassesPercentage(e.digest, rule.BucketSalt(), unitID, rule.PassPercentage) {
			continue
		}

		res.Value = decodeRuleValue(spec.Type, rule.ReturnValue)
		res.RuleID = rule.ID
		res.GroupName = rule.GroupName
		res.SecondaryExposures = exposures
		res.UndelegatedSecondaryExposures = exposures
		if rule.IsExperimentGroup != nil {
			res.IsExperimentGroup = *rule.IsExperimentGroup
			inExperiment := res.IsExperimentGroup
			res.IsUserInExperiment = &inExperiment
		}
		return res, nil
	}

	res.Value = decodeValue(spec.Type, spec.DefaultValue)
	res.RuleID = RuleIDDefault
	res.SecondaryExposures = exposures
	res.UndelegatedSecondaryExposures = exposures
	if spec.IsExperiment() {
		notIn := false
		res.IsUserInExperiment = &notIn
	}
	return res, nil
}

// evalDelegate resolves a layer rule into the experiment it allocates to.
// Only the explicit parameters of the deepest delegate come from the experiment;
// every other parameter keeps the layer's own default.
func (e *Evaluator) evalDelegate(st *evalState, layer *specs.Spec, rule *specs.Rule, exposures []specs.SecondaryExposure) (EvaluationResult, bool, error) {
	delegate := e.store.GetSpec(specs.KindConfig, rule.ConfigDelegate)
	if delegate == nil {
		return EvaluationResult{}, false, nil
	}
	inner, err := e.evalSpec(st, delegate)
	if err != nil {
		return EvaluationResult{}, false, err
	}

	allocated := delegate.Name
	explicit := delegate.ExplicitParameters
	if inner.ConfigDelegate != "" {
		allocated = inner.ConfigDelegate
		explicit = inner.ExplicitParameters
	}

	value := copyMap(decodeMap(layer.DefaultValue))
	delegatedValue := inner.JSONValue()
	for _, p := range explicit {
		if v, ok := delegatedValue[p]; ok {
			value[p] = v
		}
	}

	res := EvaluationResult{
		Value:                         value,
		RuleID:                        inner.RuleID,
		GroupName:                     inner.GroupName,
		IDType:                        layer.IDType,
		SecondaryExposures:            append(append([]specs.SecondaryExposure{}, exposures...), inner.SecondaryExposures...),
		UndelegatedSecondaryExposures: exposures,
		ConfigDelegate:                allocated,
		ExplicitParameters:            explicit,
		IsExperimentGroup:             inner.IsExperimentGroup,
		IsExperimentActive:            delegate.IsActive,
		IsUserInExperiment:            inner.IsUserInExperiment,
		Recognized:                    true,
		Unsupported:                   inner.Unsupported,
	}
	return res, true, nil
}

func (e *Evaluator) evalConditions(st *evalState, rule *specs.Rule) (matched bool, exposures []specs.SecondaryExposure, unsupported bool, err error) {
	results := make([]bool, len(rule.Conditions))
	for i := range rule.Conditions {
		out, err := e.evalCondition(st, rule, &rule.Conditions[i])
		if err != nil {
			return false, nil, false, err
		}
		exposures = append(exposures, out.exposures...)
		if out.unsupported {
			unsupported = true
		}
		results[i] = out.pass
	}
	return utils.All(results), exposures, unsupported, nil
}

func idTypeOf(ruleIDType, specIDType string) string {
	if ruleIDType != "" {
		return ruleIDType
	}
	return specIDType
}

func decodeRuleValue(kind specs.Kind, raw json.RawMessage) any {
	if kind == specs.KindGate && len(raw) == 0 {
		return true
	}
	return decodeValue(kind, raw)
}

func decodeValue(kind specs.Kind, raw json.RawMessage) any {
	if kind == specs.KindGate {
		var b bool
		_ = json.Unmarshal(raw, &b)
		return b
	}
	return decodeMap(raw)
}

func decodeMap(raw json.RawMessage) map[string]any {
	m := map[string]any{}
	if len(raw) == 0 {
		return m
	}
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
