package fixtures

import (
	"encoding/json"

	"github.com/flagkit/flagkit-go-client/flagengine/specs"
)

const (
	GateName   = "a_gate"
	ConfigName = "a_config"
	LayerName  = "a_layer"

	ExperimentName = "an_experiment"
	UserID         = "u1"
)

// Store is an in-memory spec lookup for engine tests.
type Store struct {
	specs map[specs.Kind]map[string]*specs.Spec
	lists map[string]map[string]struct{}
}

func NewStore(all ...*specs.Spec) *Store {
	s := &Store{
		specs: map[specs.Kind]map[string]*specs.Spec{},
		lists: map[string]map[string]struct{}{},
	}
	for _, sp := range all {
		s.Add(sp)
	}
	return s
}

func (s *Store) Add(sp *specs.Spec) {
	if s.specs[sp.Type] == nil {
		s.specs[sp.Type] = map[string]*specs.Spec{}
	}
	s.specs[sp.Type][sp.Name] = sp
}

func (s *Store) AddIDList(name string, hashedIDs ...string) {
	set := make(map[string]struct{}, len(hashedIDs))
	for _, id := range hashedIDs {
		set[id] = struct{}{}
	}
	s.lists[name] = set
}

func (s *Store) GetSpec(kind specs.Kind, name string) *specs.Spec {
	return s.specs[kind][name]
}

func (s *Store) IDList(name string) (map[string]struct{}, bool) {
	l, ok := s.lists[name]
	return l, ok
}

func PublicCondition() specs.Condition {
	return specs.Condition{Type: "public"}
}

func FieldCondition(field, operator string, target any) specs.Condition {
	return specs.Condition{Type: "user_field", Field: field, Operator: operator, TargetValue: target}
}

func GateCondition(gate string, pass bool) specs.Condition {
	t := "pass_gate"
	if !pass {
		t = "fail_gate"
	}
	return specs.Condition{Type: t, TargetValue: gate}
}

func Rule(id string, passPercentage float64, returnValue string, conditions ...specs.Condition) specs.Rule {
	r := specs.Rule{
		Name:           id,
		ID:             id,
		Salt:           id + "_salt",
		PassPercentage: passPercentage,
		Conditions:     conditions,
		IDType:         "userID",
	}
	if returnValue != "" {
		r.ReturnValue = json.RawMessage(returnValue)
	}
	return r
}

func Gate(name string, rules ...specs.Rule) *specs.Spec {
	return &specs.Spec{
		Name:         name,
		Type:         specs.KindGate,
		Salt:         name + "_salt",
		IDType:       "userID",
		Enabled:      true,
		DefaultValue: json.RawMessage("false"),
		Rules:        rules,
	}
}

func Config(name, defaultValue string, rules ...specs.Rule) *specs.Spec {
	return &specs.Spec{
		Name:         name,
		Type:         specs.KindConfig,
		Salt:         name + "_salt",
		IDType:       "userID",
		Enabled:      true,
		DefaultValue: json.RawMessage(defaultValue),
		Rules:        rules,
	}
}

func Experiment(name, defaultValue string, explicit []string, rules ...specs.Rule) *specs.Spec {
	active := true
	sp := Config(name, defaultValue, rules...)
	sp.Entity = specs.EntityExperiment
	sp.IsActive = &active
	sp.ExplicitParameters = explicit
	return sp
}

func Layer(name, defaultValue string, rules ...specs.Rule) *specs.Spec {
	sp := Config(name, defaultValue, rules...)
	sp.Type = specs.KindLayer
	return sp
}

// AGate is a gate passing everyone through rule R1 at the given percentage.
func AGate(passPercentage float64) *specs.Spec {
	return &specs.Spec{
		Name:    GateName,
		Type:    specs.KindGate,
		Enabled: true,
		Rules: []specs.Rule{{
			ID:             "R1",
			PassPercentage: passPercentage,
			Conditions:     []specs.Condition{},
			ReturnValue:    json.RawMessage("true"),
		}},
	}
}
