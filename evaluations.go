package flagkit

import (
	"github.com/flagkit/flagkit-go-client/eventlogger"
	"github.com/flagkit/flagkit-go-client/flagengine"
	"github.com/flagkit/flagkit-go-client/flagengine/specs"
	"github.com/flagkit/flagkit-go-client/unit"
)

// EvaluationOptions tune a single read.
type EvaluationOptions struct {
	// DisableExposureLog skips the exposure event. The read is counted as a non-exposed check instead.
	DisableExposureLog bool
}

func firstOptions(opts []EvaluationOptions) EvaluationOptions {
	if len(opts) == 0 {
		return EvaluationOptions{}
	}
	return opts[0]
}

func errorDetails() EvaluationDetails {
	return EvaluationDetails{Reason: "Error"}
}

// CheckGate reports whether the current unit passes gate name.
func (c *Client) CheckGate(name string, opts ...EvaluationOptions) bool {
	return c.GetFeatureGate(name, opts...).Value
}

func (c *Client) GetFeatureGate(name string, opts ...EvaluationOptions) FeatureGate {
	o := firstOptions(opts)
	fallback := FeatureGate{Name: name, Details: errorDetails()}
	return captureValue(c.boundary, "getFeatureGate", fallback, func() FeatureGate {
		u := c.currentUnit()
		key := newMemoKey("gate", name, o, c.currentUnitFingerprint(), c.valuesVersion())
		if v, ok := c.memo.get(key); ok {
			c.logger.IncrementNonExposedCheck(name)
			return v.(FeatureGate)
		}

		res, details := c.evaluate(specs.KindGate, name, &u)
		gate := FeatureGate{
			Name:    name,
			Value:   res.BoolValue(),
			RuleID:  res.RuleID,
			IDType:  res.IDType,
			Details: details,
		}
		if o.DisableExposureLog {
			c.logger.IncrementNonExposedCheck(name)
		} else {
			c.logger.Enqueue(eventlogger.GateExposure(&u, name, gate.Value, res.RuleID, res.SecondaryExposures, details))
		}
		c.memo.put(key, gate)
		c.emitter.emit(ClientEvent{Name: EventGateEvaluation, Gate: &gate})
		return gate
	})
}

func (c *Client) GetDynamicConfig(name string, opts ...EvaluationOptions) DynamicConfig {
	o := firstOptions(opts)
	fallback := DynamicConfig{Name: name, Value: map[string]any{}, Details: errorDetails()}
	return captureValue(c.boundary, "getDynamicConfig", fallback, func() DynamicConfig {
		cfg := c.getConfig("config", name, o)
		c.emitter.emit(ClientEvent{Name: EventConfigEvaluation, Config: &cfg})
		return cfg
	})
}

func (c *Client) GetExperiment(name string, opts ...EvaluationOptions) Experiment {
	o := firstOptions(opts)
	fallback := Experiment{DynamicConfig{Name: name, Value: map[string]any{}, Details: errorDetails()}}
	return captureValue(c.boundary, "getExperiment", fallback, func() Experiment {
		exp := Experiment{c.getConfig("experiment", name, o)}
		c.emitter.emit(ClientEvent{Name: EventExperimentEvaluation, Experiment: &exp})
		return exp
	})
}

func (c *Client) getConfig(method, name string, o EvaluationOptions) DynamicConfig {
	u := c.currentUnit()
	key := newMemoKey(method, name, o, c.currentUnitFingerprint(), c.valuesVersion())
	if v, ok := c.memo.get(key); ok {
		c.logger.IncrementNonExposedCheck(name)
		return v.(DynamicConfig)
	}

	res, details := c.evaluate(specs.KindConfig, name, &u)
	cfg := DynamicConfig{
		Name:               name,
		Value:              copyValue(res.JSONValue()),
		RuleID:             res.RuleID,
		GroupName:          res.GroupName,
		IDType:             res.IDType,
		Details:            details,
		IsExperimentActive: res.IsExperimentActive,
		IsUserInExperiment: res.IsUserInExperiment,
	}
	if o.DisableExposureLog {
		c.logger.IncrementNonExposedCheck(name)
	} else {
		c.logger.Enqueue(eventlogger.ConfigExposure(&u, name, res.RuleID, res.SecondaryExposures, details))
	}
	c.memo.put(key, cfg)
	return cfg
}

// GetLayer returns the layer's values. Exposures are logged when parameters are read with Layer.Get.
func (c *Client) GetLayer(name string, opts ...EvaluationOptions) Layer {
	o := firstOptions(opts)
	fallback := Layer{Name: name, Details: errorDetails()}
	return captureValue(c.boundary, "getLayer", fallback, func() Layer {
		u := c.currentUnit()
		key := newMemoKey("layer", name, o, c.currentUnitFingerprint(), c.valuesVersion())
		if v, ok := c.memo.get(key); ok {
			c.logger.IncrementNonExposedCheck(name)
			return v.(Layer)
		}

		res, details := c.evaluate(specs.KindLayer, name, &u)
		layer := Layer{
			Name:                    name,
			RuleID:                  res.RuleID,
			GroupName:               res.GroupName,
			IDType:                  res.IDType,
			AllocatedExperimentName: res.ConfigDelegate,
			Details:                 details,
			value:                   copyValue(res.JSONValue()),
		}
		if o.DisableExposureLog {
			layer.logParam = func(string) { c.logger.IncrementNonExposedCheck(name) }
		} else {
			layer.logParam = func(param string) { c.logLayerExposure(&u, name, res, param, details) }
		}
		c.memo.put(key, layer)
		c.emitter.emit(ClientEvent{Name: EventLayerEvaluation, Layer: &layer})
		return layer
	})
}

// logLayerExposure attributes explicit parameters to the allocated experiment and
// every other parameter to the layer itself.
func (c *Client) logLayerExposure(u *unit.Unit, name string, res flagengine.EvaluationResult, param string, details EvaluationDetails) {
	c.boundary.capture("logLayerExposure", func() {
		explicit := res.IsExplicitParameter(param)
		allocated := ""
		exposures := res.UndelegatedSecondaryExposures
		if explicit {
			allocated = res.ConfigDelegate
			exposures = res.SecondaryExposures
		}
		c.logger.Enqueue(eventlogger.LayerExposure(u, name, res.RuleID, allocated, param, explicit, exposures, details))
	})
}

// GetParameterStore returns the named parameter store. Parameters are resolved,
// and their references exposed, on ParameterStore.Get.
func (c *Client) GetParameterStore(name string, opts ...EvaluationOptions) ParameterStore {
	o := firstOptions(opts)
	fallback := ParameterStore{Name: name, Details: errorDetails()}
	return captureValue(c.boundary, "getParameterStore", fallback, func() ParameterStore {
		ps, ok := c.store.GetParamStore(name)
		return ParameterStore{
			Name:    name,
			Details: c.store.Details(ok),
			params:  ps,
			resolve: func(p specs.Parameter, fallback any) any {
				return captureValue(c.boundary, "parameterStore.get", fallback, func() any {
					return flagengine.ResolveParameter(p, fallback, c.referenceEvaluator(p, o))
				})
			},
		}
	})
}

// referenceEvaluator reads parameter references through the public accessors
// so that they log exposures like direct reads.
func (c *Client) referenceEvaluator(p specs.Parameter, o EvaluationOptions) flagengine.EvaluateFunc {
	return func(kind specs.Kind, ref string) flagengine.EvaluationResult {
		switch kind {
		case specs.KindGate:
			return flagengine.EvaluationResult{Value: c.GetFeatureGate(ref, o).Value}
		case specs.KindConfig:
			return flagengine.EvaluationResult{Value: c.getConfig("config", ref, o).Value}
		case specs.KindLayer:
			v := c.GetLayer(ref, o).Get(p.ParamName, nil)
			return flagengine.EvaluationResult{Value: map[string]any{p.ParamName: v}}
		}
		return flagengine.EvaluationResult{}
	}
}

// LogEvent records a custom event for the current unit.
func (c *Client) LogEvent(name string, value any, metadata map[string]string) {
	c.boundary.capture("logEvent", func() {
		if name == "" {
			c.log.Warn("ignoring event without a name", "error", ClientError{msg: "event name is required"})
			return
		}
		u := c.currentUnit()
		c.logger.Enqueue(eventlogger.CustomEvent(&u, name, value, metadata))
	})
}

// evaluate resolves name for u and applies the override providers.
func (c *Client) evaluate(kind specs.Kind, name string, u *unit.Unit) (flagengine.EvaluationResult, EvaluationDetails) {
	var res flagengine.EvaluationResult
	switch c.kind {
	case Precomputed:
		res = c.precomputedResult(kind, name)
	case OnDevice:
		r, err := c.evaluator.Evaluate(u, name, kind)
		if err != nil {
			c.boundary.report("evaluate", err)
		}
		res = r
	}
	details := c.store.Details(res.Recognized)

	if out, ok := c.overrides.Apply(kind, name, u, res); ok {
		reason := out.OverrideReason
		if reason == "" {
			reason = "Override"
		}
		details.Reason = reason + ":Recognized"
		res = out
	}
	return res, details
}

func (c *Client) precomputedResult(kind specs.Kind, name string) flagengine.EvaluationResult {
	switch kind {
	case specs.KindGate:
		g := c.store.GetPrecomputedGate(name)
		if g == nil {
			return flagengine.EvaluationResult{Value: false}
		}
		return flagengine.EvaluationResult{
			Value:              g.Value,
			RuleID:             g.RuleID,
			IDType:             g.IDType,
			SecondaryExposures: g.SecondaryExposures,
			Recognized:         true,
		}
	case specs.KindConfig:
		cfg := c.store.GetPrecomputedConfig(name)
		if cfg == nil {
			return flagengine.EvaluationResult{Value: map[string]any{}}
		}
		return flagengine.EvaluationResult{
			Value:              nonNilValue(cfg.Value),
			RuleID:             cfg.RuleID,
			GroupName:          cfg.GroupName,
			IDType:             cfg.IDType,
			SecondaryExposures: cfg.SecondaryExposures,
			ExplicitParameters: cfg.ExplicitParameters,
			IsExperimentActive: cfg.IsExperimentActive,
			IsUserInExperiment: cfg.IsUserInExperiment,
			Recognized:         true,
		}
	case specs.KindLayer:
		l := c.store.GetPrecomputedLayer(name)
		if l == nil {
			return flagengine.EvaluationResult{Value: map[string]any{}}
		}
		return flagengine.EvaluationResult{
			Value:                         nonNilValue(l.Value),
			RuleID:                        l.RuleID,
			GroupName:                     l.GroupName,
			IDType:                        l.IDType,
			SecondaryExposures:            l.SecondaryExposures,
			UndelegatedSecondaryExposures: l.UndelegatedSecondaryExposures,
			ConfigDelegate:                l.AllocatedExperimentName,
			ExplicitParameters:            l.ExplicitParameters,
			IsExperimentActive:            l.IsExperimentActive,
			IsUserInExperiment:            l.IsUserInExperiment,
			Recognized:                    true,
		}
	}
	return flagengine.EvaluationResult{}
}

func nonNilValue(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
