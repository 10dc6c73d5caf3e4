package flagkit

import (
	"github.com/flagkit/flagkit-go-client/flagengine"
	"github.com/flagkit/flagkit-go-client/flagengine/specs"
	"github.com/flagkit/flagkit-go-client/specstore"
)

// EvaluationDetails explains where a value came from.
type EvaluationDetails = specstore.Details

// FeatureGate is the result of a gate check.
type FeatureGate struct {
	Name    string
	Value   bool
	RuleID  string
	IDType  string
	Details EvaluationDetails
}

// DynamicConfig is the result of a dynamic config read.
type DynamicConfig struct {
	Name      string
	Value     map[string]any
	RuleID    string
	GroupName string
	IDType    string
	Details   EvaluationDetails

	IsExperimentActive *bool
	IsUserInExperiment *bool
}

// Get returns the value at key, or fallback when it is missing or of another JSON type.
func (c DynamicConfig) Get(key string, fallback any) any {
	if c.Value == nil {
		return fallback
	}
	return flagengine.ValueOrFallback(c.Value[key], fallback)
}

// Experiment is a dynamic config with allocation semantics.
type Experiment struct {
	DynamicConfig
}

// Layer is the result of a layer read. Exposures are logged per parameter on Get.
type Layer struct {
	Name                    string
	RuleID                  string
	GroupName               string
	IDType                  string
	AllocatedExperimentName string
	Details                 EvaluationDetails

	value    map[string]any
	logParam func(param string)
}

// Get returns param, or fallback when it is missing or of another JSON type.
// Reading a present parameter logs a layer exposure.
func (l Layer) Get(param string, fallback any) any {
	v, ok := l.value[param]
	if !ok || v == nil {
		return fallback
	}
	if l.logParam != nil {
		l.logParam(param)
	}
	return flagengine.ValueOrFallback(v, fallback)
}

// Value returns a copy of the layer's parameters without logging exposures.
func (l Layer) Value() map[string]any {
	return copyValue(l.value)
}

// ParameterStore resolves parameters that reference gates, configs, experiments and layers.
type ParameterStore struct {
	Name    string
	Details EvaluationDetails

	params  specs.ParamStore
	resolve func(p specs.Parameter, fallback any) any
}

// Get resolves param, logging exposures for whatever it references.
func (p ParameterStore) Get(param string, fallback any) any {
	ref, ok := p.params.Parameters[param]
	if !ok || p.resolve == nil {
		return fallback
	}
	return p.resolve(ref, fallback)
}

func copyValue(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
