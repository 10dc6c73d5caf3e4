package flagengine

import (
	"github.com/flagkit/flagkit-go-client/flagengine/specs"
	"github.com/flagkit/flagkit-go-client/unit"
)

// OverrideProvider can replace the result of a core evaluation.
// Returning nil leaves the result untouched.
type OverrideProvider interface {
	Override(kind specs.Kind, name string, u *unit.Unit, core EvaluationResult) *EvaluationResult
}

// OverrideProviderFunc adapts a function to OverrideProvider.
type OverrideProviderFunc func(kind specs.Kind, name string, u *unit.Unit, core EvaluationResult) *EvaluationResult

func (f OverrideProviderFunc) Override(kind specs.Kind, name string, u *unit.Unit, core EvaluationResult) *EvaluationResult {
	return f(kind, name, u, core)
}

// OverrideChain consults providers in order; the first non-nil replacement wins.
type OverrideChain []OverrideProvider

// Apply returns the overridden result and true, or core and false when no provider intervened.
func (c OverrideChain) Apply(kind specs.Kind, name string, u *unit.Unit, core EvaluationResult) (EvaluationResult, bool) {
	for _, p := range c {
		if p == nil {
			continue
		}
		if res := p.Override(kind, name, u, core); res != nil {
			return *res, true
		}
	}
	return core, false
}
