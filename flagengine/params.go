package flagengine

import (
	"github.com/flagkit/flagkit-go-client/flagengine/specs"
)

// EvaluateFunc evaluates a referenced spec while resolving a parameter.
// Callers pass a function that also records any exposures the reference implies.
type EvaluateFunc func(kind specs.Kind, name string) EvaluationResult

// ResolveParameter returns the value of p, or fallback when the reference
// cannot be resolved or resolves to a value of a different JSON type.
func ResolveParameter(p specs.Parameter, fallback any, eval EvaluateFunc) any {
	var (
		value any
		ok    bool
	)
	switch p.RefType {
	case specs.RefStatic:
		value, ok = p.Value, p.Value != nil
	case specs.RefGate:
		if eval(specs.KindGate, p.GateName).BoolValue() {
			value, ok = p.PassValue, true
		} else {
			value, ok = p.FailValue, true
		}
	case specs.RefConfig:
		value, ok = eval(specs.KindConfig, p.ConfigName).JSONValue()[p.ParamName]
	case specs.RefExperiment:
		value, ok = eval(specs.KindConfig, p.ExperimentName).JSONValue()[p.ParamName]
	case specs.RefLayer:
		value, ok = eval(specs.KindLayer, p.LayerName).JSONValue()[p.ParamName]
	}
	if !ok {
		return fallback
	}
	return ValueOrFallback(value, fallback)
}

// ValueOrFallback returns value unless it is nil or its JSON type differs from fallback's.
// A nil fallback accepts any value.
func ValueOrFallback(value, fallback any) any {
	if value == nil || !sameJSONType(value, fallback) {
		return fallback
	}
	return value
}

func sameJSONType(value, fallback any) bool {
	if fallback == nil {
		return true
	}
	return jsonType(value) == jsonType(fallback)
}

func jsonType(v any) string {
	switch v.(type) {
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, float32, int, int32, int64, uint, uint32, uint64:
		return "number"
	case []any, []string:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	}
	return "unknown"
}
