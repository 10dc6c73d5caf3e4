package flagengine

import (
	"github.com/flagkit/flagkit-go-client/flagengine/specs"
)

// Rule ids produced by the evaluator itself rather than by a spec rule.
const (
	RuleIDDisabled = "disabled"
	RuleIDDefault  = "default"
)

// EvaluationResult is the outcome of evaluating a single spec for a unit.
// Results are values; callers must not mutate the slices or maps they carry.
type EvaluationResult struct {
	// Value is a bool for gates and a map[string]any for configs and layers.
	Value     any
	RuleID    string
	GroupName string
	IDType    string

	SecondaryExposures            []specs.SecondaryExposure
	UndelegatedSecondaryExposures []specs.SecondaryExposure

	// ConfigDelegate is the experiment a layer allocated the unit to.
	ConfigDelegate     string
	ExplicitParameters []string

	IsExperimentGroup  bool
	IsExperimentActive *bool
	IsUserInExperiment *bool

	// Recognized is false when the spec was not found in the store.
	Recognized bool
	// Unsupported is set when a condition or operator type was not understood.
	Unsupported bool
	// OverrideReason is set by the override provider that produced this result.
	OverrideReason string
}

// BoolValue interprets the value as a gate result.
func (r EvaluationResult) BoolValue() bool {
	b, _ := r.Value.(bool)
	return b
}

// JSONValue interprets the value as a config or layer value.
func (r EvaluationResult) JSONValue() map[string]any {
	m, _ := r.Value.(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}

// IsExplicitParameter reports whether param is delegated to the allocated experiment.
func (r EvaluationResult) IsExplicitParameter(param string) bool {
	for _, p := range r.ExplicitParameters {
		if p == param {
			return true
		}
	}
	return false
}

func unrecognized(kind specs.Kind) EvaluationResult {
	return EvaluationResult{Value: defaultFor(kind), Recognized: false}
}

func defaultFor(kind specs.Kind) any {
	if kind == specs.KindGate {
		return false
	}
	return map[string]any{}
}
