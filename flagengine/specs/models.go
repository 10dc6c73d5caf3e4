package specs

import (
	"encoding/json"
)

// Kind is the type of a spec.
type Kind string

const (
	KindGate   Kind = "feature_gate"
	KindConfig Kind = "dynamic_config"
	KindLayer  Kind = "layer"
)

// Entity narrows a dynamic config into what the console created it as.
const (
	EntityExperiment = "experiment"
	EntityAutotune   = "autotune"
	EntitySegment    = "segment"
	EntityHoldout    = "holdout"
)

// Spec is a gate, dynamic config or layer definition.
type Spec struct {
	Name               string          `json:"name"`
	Type               Kind            `json:"type"`
	Salt               string          `json:"salt"`
	IDType             string          `json:"idType"`
	Enabled            bool            `json:"enabled"`
	DefaultValue       json.RawMessage `json:"defaultValue"`
	Rules              []Rule          `json:"rules"`
	Entity             string          `json:"entity,omitempty"`
	IsActive           *bool           `json:"isActive,omitempty"`
	HasSharedParams    bool            `json:"hasSharedParams,omitempty"`
	ExplicitParameters []string        `json:"explicitParameters,omitempty"`
	TargetAppIDs       []string        `json:"targetAppIDs,omitempty"`
	Version            int             `json:"version,omitempty"`
}

// IsExperiment reports whether the spec carries allocation semantics.
func (s *Spec) IsExperiment() bool {
	return s.Entity == EntityExperiment || s.Entity == EntityAutotune
}

// Rule is one step of a spec's rule chain.
type Rule struct {
	Name              string          `json:"name"`
	ID                string          `json:"id"`
	Salt              string          `json:"salt"`
	PassPercentage    float64         `json:"passPercentage"`
	Conditions        []Condition     `json:"conditions"`
	ReturnValue       json.RawMessage `json:"returnValue"`
	IDType            string          `json:"idType"`
	GroupName         string          `json:"groupName,omitempty"`
	ConfigDelegate    string          `json:"configDelegate,omitempty"`
	IsExperimentGroup *bool           `json:"isExperimentGroup,omitempty"`
}

// BucketSalt is the salt used for pass percentage bucketing.
func (r *Rule) BucketSalt() string {
	if r.Salt != "" {
		return r.Salt
	}
	return r.ID
}

// Condition is an opaque predicate interpreted by the evaluator.
type Condition struct {
	Type             string         `json:"type"`
	Operator         string         `json:"operator,omitempty"`
	Field            string         `json:"field,omitempty"`
	TargetValue      any            `json:"targetValue"`
	AdditionalValues map[string]any `json:"additionalValues,omitempty"`
	IDType           string         `json:"idType"`
}

// SecondaryExposure records an upstream gate consulted while evaluating.
type SecondaryExposure struct {
	Gate      string `json:"gate"`
	GateValue string `json:"gateValue"`
	RuleID    string `json:"ruleID"`
}

// Parameter reference types inside a parameter store.
const (
	RefStatic     = "static"
	RefGate       = "gate"
	RefConfig     = "dynamic_config"
	RefExperiment = "experiment"
	RefLayer      = "layer"
)

// Parameter is a single entry of a parameter store.
type Parameter struct {
	RefType        string `json:"ref_type"`
	ParamType      string `json:"param_type"`
	Value          any    `json:"value,omitempty"`
	GateName       string `json:"gate_name,omitempty"`
	PassValue      any    `json:"pass_value,omitempty"`
	FailValue      any    `json:"fail_value,omitempty"`
	ConfigName     string `json:"config_name,omitempty"`
	ExperimentName string `json:"experiment_name,omitempty"`
	LayerName      string `json:"layer_name,omitempty"`
	ParamName      string `json:"param_name,omitempty"`
}

// ParamStore is a named bundle of parameters.
type ParamStore struct {
	Parameters map[string]Parameter `json:"parameters"`
}

// SpecsResponse is the payload of the download_config_specs endpoint.
type SpecsResponse struct {
	FeatureGates   []Spec                `json:"feature_gates"`
	DynamicConfigs []Spec                `json:"dynamic_configs"`
	LayerConfigs   []Spec                `json:"layer_configs"`
	ParamStores    map[string]ParamStore `json:"param_stores,omitempty"`
	IDLists        map[string][]string   `json:"id_lists,omitempty"`
	Time           int64                 `json:"time"`
	HasUpdates     bool                  `json:"has_updates"`
	HashUsed       string                `json:"hash_used,omitempty"`
	AppID          string                `json:"app_id,omitempty"`
}

// PrecomputedGate is a server evaluated gate.
type PrecomputedGate struct {
	Name               string              `json:"name"`
	Value              bool                `json:"value"`
	RuleID             string              `json:"rule_id"`
	IDType             string              `json:"id_type,omitempty"`
	SecondaryExposures []SecondaryExposure `json:"secondary_exposures,omitempty"`
}

// PrecomputedConfig is a server evaluated dynamic config or experiment.
type PrecomputedConfig struct {
	Name               string              `json:"name"`
	Value              map[string]any      `json:"value"`
	RuleID             string              `json:"rule_id"`
	GroupName          string              `json:"group_name,omitempty"`
	IDType             string              `json:"id_type,omitempty"`
	IsDeviceBased      bool                `json:"is_device_based,omitempty"`
	IsExperimentActive *bool               `json:"is_experiment_active,omitempty"`
	IsUserInExperiment *bool               `json:"is_user_in_experiment,omitempty"`
	IsInLayer          bool                `json:"is_in_layer,omitempty"`
	ExplicitParameters []string            `json:"explicit_parameters,omitempty"`
	SecondaryExposures []SecondaryExposure `json:"secondary_exposures,omitempty"`
}

// PrecomputedLayer is a server evaluated layer.
type PrecomputedLayer struct {
	Name                          string              `json:"name"`
	Value                         map[string]any      `json:"value"`
	RuleID                        string              `json:"rule_id"`
	GroupName                     string              `json:"group_name,omitempty"`
	IDType                        string              `json:"id_type,omitempty"`
	AllocatedExperimentName       string              `json:"allocated_experiment_name,omitempty"`
	IsExperimentActive            *bool               `json:"is_experiment_active,omitempty"`
	IsUserInExperiment            *bool               `json:"is_user_in_experiment,omitempty"`
	ExplicitParameters            []string            `json:"explicit_parameters,omitempty"`
	SecondaryExposures            []SecondaryExposure `json:"secondary_exposures,omitempty"`
	UndelegatedSecondaryExposures []SecondaryExposure `json:"undelegated_secondary_exposures,omitempty"`
}

// InitializeResponse is the payload of the initialize endpoint.
type InitializeResponse struct {
	FeatureGates   map[string]PrecomputedGate   `json:"feature_gates"`
	DynamicConfigs map[string]PrecomputedConfig `json:"dynamic_configs"`
	LayerConfigs   map[string]PrecomputedLayer  `json:"layer_configs"`
	ParamStores    map[string]ParamStore        `json:"param_stores,omitempty"`
	Time           int64                        `json:"time"`
	HasUpdates     bool                         `json:"has_updates"`
	HashUsed       string                       `json:"hash_used,omitempty"`
	User           json.RawMessage              `json:"user,omitempty"`
	DerivedFields  map[string]string            `json:"derived_fields,omitempty"`
}
