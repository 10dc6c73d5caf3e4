package flagengine_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagkit/flagkit-go-client/flagengine"
	"github.com/flagkit/flagkit-go-client/flagengine/specs"
	"github.com/flagkit/flagkit-go-client/flagengine/utils"
	"github.com/flagkit/flagkit-go-client/flagengine/utils/fixtures"
	"github.com/flagkit/flagkit-go-client/unit"
)

func TestEvaluateGatePassesAtFullPercentage(t *testing.T) {
	t.Parallel()
	// Given
	store := fixtures.NewStore(fixtures.AGate(100))
	e := flagengine.NewEvaluator(store)

	// When
	res, err := e.Evaluate(&unit.Unit{UserID: fixtures.UserID}, fixtures.GateName, specs.KindGate)

	// Then
	require.NoError(t, err)
	assert.Equal(t, true, res.Value)
	assert.Equal(t, "R1", res.RuleID)
	assert.True(t, res.Recognized)
}

func TestEvaluateGateFailsAtZeroPercentage(t *testing.T) {
	t.Parallel()
	store := fixtures.NewStore(fixtures.AGate(0))
	e := flagengine.NewEvaluator(store)

	res, err := e.Evaluate(&unit.Unit{UserID: fixtures.UserID}, fixtures.GateName, specs.KindGate)

	require.NoError(t, err)
	assert.Equal(t, false, res.Value)
	assert.Equal(t, flagengine.RuleIDDefault, res.RuleID)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	t.Parallel()
	store := fixtures.NewStore(fixtures.AGate(50))
	e := flagengine.NewEvaluator(store)
	u := &unit.Unit{UserID: "user-123"}

	first, err := e.Evaluate(u, fixtures.GateName, specs.KindGate)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := e.Evaluate(u, fixtures.GateName, specs.KindGate)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEvaluateMissingSpecIsUnrecognized(t *testing.T) {
	t.Parallel()
	e := flagengine.NewEvaluator(fixtures.NewStore())

	gate, err := e.Evaluate(&unit.Unit{UserID: "u"}, "missing", specs.KindGate)
	require.NoError(t, err)
	assert.False(t, gate.Recognized)
	assert.Equal(t, false, gate.Value)

	config, err := e.Evaluate(&unit.Unit{UserID: "u"}, "missing", specs.KindConfig)
	require.NoError(t, err)
	assert.False(t, config.Recognized)
	assert.Equal(t, map[string]any{}, config.Value)
}

func TestEvaluateNilUnit(t *testing.T) {
	t.Parallel()
	e := flagengine.NewEvaluator(fixtures.NewStore(fixtures.AGate(100)))

	res, err := e.Evaluate(nil, fixtures.GateName, specs.KindGate)

	assert.ErrorIs(t, err, flagengine.ErrNilUnit)
	assert.Equal(t, false, res.Value)
}

func TestEvaluateDisabledSpec(t *testing.T) {
	t.Parallel()
	gate := fixtures.AGate(100)
	gate.Enabled = false
	e := flagengine.NewEvaluator(fixtures.NewStore(gate))

	res, err := e.Evaluate(&unit.Unit{UserID: "u"}, fixtures.GateName, specs.KindGate)

	require.NoError(t, err)
	assert.Equal(t, false, res.Value)
	assert.Equal(t, flagengine.RuleIDDisabled, res.RuleID)
}

func TestEvaluateUnknownConditionFailsClosed(t *testing.T) {
	t.Parallel()
	// Given a gate whose only rule uses a condition type the evaluator does not know
	gate := fixtures.Gate("future_gate",
		fixtures.Rule("R1", 100, "true", specs.Condition{Type: "quantum_field", TargetValue: "x"}),
	)
	e := flagengine.NewEvaluator(fixtures.NewStore(gate))

	// When
	res, err := e.Evaluate(&unit.Unit{UserID: "u"}, "future_gate", specs.KindGate)

	// Then
	require.NoError(t, err)
	assert.Equal(t, false, res.Value)
	assert.Equal(t, flagengine.RuleIDDefault, res.RuleID)
	assert.True(t, res.Unsupported)
}

func TestEvaluateUnknownOperatorFailsClosed(t *testing.T) {
	t.Parallel()
	gate := fixtures.Gate("op_gate",
		fixtures.Rule("R1", 100, "true", fixtures.FieldCondition("email", "sounds_like", "x")),
	)
	e := flagengine.NewEvaluator(fixtures.NewStore(gate))

	res, err := e.Evaluate(&unit.Unit{UserID: "u", Email: "x"}, "op_gate", specs.KindGate)

	require.NoError(t, err)
	assert.Equal(t, false, res.Value)
	assert.True(t, res.Unsupported)
}

func TestEvaluateFirstMatchingRuleWins(t *testing.T) {
	t.Parallel()
	config := fixtures.Config(fixtures.ConfigName, `{"color":"grey"}`,
		fixtures.Rule("employees", 100, `{"color":"red"}`, fixtures.FieldCondition("email", "str_ends_with_any", []any{"@example.com"})),
		fixtures.Rule("everyone", 100, `{"color":"blue"}`, fixtures.PublicCondition()),
	)
	e := flagengine.NewEvaluator(fixtures.NewStore(config))

	employee, err := e.Evaluate(&unit.Unit{UserID: "a", Email: "jo@EXAMPLE.com"}, fixtures.ConfigName, specs.KindConfig)
	require.NoError(t, err)
	assert.Equal(t, "employees", employee.RuleID)
	assert.Equal(t, "red", employee.JSONValue()["color"])

	other, err := e.Evaluate(&unit.Unit{UserID: "b", Email: "b@other.org"}, fixtures.ConfigName, specs.KindConfig)
	require.NoError(t, err)
	assert.Equal(t, "everyone", other.RuleID)
	assert.Equal(t, "blue", other.JSONValue()["color"])
}

func TestEvaluateConditionsAreConjunctive(t *testing.T) {
	t.Parallel()
	gate := fixtures.Gate("and_gate",
		fixtures.Rule("R1", 100, "true",
			fixtures.FieldCondition("country", "any", []any{"US", "CA"}),
			fixtures.FieldCondition("appVersion", "version_gte", "2.0.0"),
		),
	)
	e := flagengine.NewEvaluator(fixtures.NewStore(gate))

	both, _ := e.Evaluate(&unit.Unit{UserID: "u", Country: "us", AppVersion: "2.1"}, "and_gate", specs.KindGate)
	assert.True(t, both.BoolValue())

	oneOnly, _ := e.Evaluate(&unit.Unit{UserID: "u", Country: "us", AppVersion: "1.9.9"}, "and_gate", specs.KindGate)
	assert.False(t, oneOnly.BoolValue())
}

func TestEvaluateNestedGateRecordsSecondaryExposures(t *testing.T) {
	t.Parallel()
	// Given
	inner := fixtures.Gate("inner", fixtures.Rule("inner_rule", 100, "true", fixtures.PublicCondition()))
	segment := fixtures.Gate("segment:beta", fixtures.Rule("seg_rule", 100, "true", fixtures.PublicCondition()))
	outer := fixtures.Gate("outer", fixtures.Rule("outer_rule", 100, "true",
		fixtures.GateCondition("inner", true),
		fixtures.GateCondition("segment:beta", true),
	))
	e := flagengine.NewEvaluator(fixtures.NewStore(inner, segment, outer))

	// When
	res, err := e.Evaluate(&unit.Unit{UserID: "u"}, "outer", specs.KindGate)

	// Then
	require.NoError(t, err)
	assert.True(t, res.BoolValue())
	assert.Equal(t, []specs.SecondaryExposure{{Gate: "inner", GateValue: "true", RuleID: "inner_rule"}}, res.SecondaryExposures)
}

func TestEvaluateFailGateCondition(t *testing.T) {
	t.Parallel()
	blocked := fixtures.Gate("blocked", fixtures.Rule("blocked_rule", 100, "true", fixtures.FieldCondition("userID", "any", []any{"bad"})))
	gate := fixtures.Gate("allowed", fixtures.Rule("R1", 100, "true", fixtures.GateCondition("blocked", false)))
	e := flagengine.NewEvaluator(fixtures.NewStore(blocked, gate))

	good, _ := e.Evaluate(&unit.Unit{UserID: "good"}, "allowed", specs.KindGate)
	bad, _ := e.Evaluate(&unit.Unit{UserID: "bad"}, "allowed", specs.KindGate)

	assert.True(t, good.BoolValue())
	assert.False(t, bad.BoolValue())
	assert.Equal(t, "false", good.SecondaryExposures[0].GateValue)
	assert.Equal(t, "true", bad.SecondaryExposures[0].GateValue)
}

func TestEvaluateGateCycleIsBounded(t *testing.T) {
	t.Parallel()
	a := fixtures.Gate("a", fixtures.Rule("ra", 100, "true", fixtures.GateCondition("b", true)))
	b := fixtures.Gate("b", fixtures.Rule("rb", 100, "true", fixtures.GateCondition("a", true)))
	e := flagengine.NewEvaluator(fixtures.NewStore(a, b))

	res, err := e.Evaluate(&unit.Unit{UserID: "u"}, "a", specs.KindGate)

	require.NoError(t, err)
	assert.False(t, res.BoolValue())
	assert.True(t, res.Unsupported)
}

func TestEvaluateLayerDelegatesOnlyExplicitParameters(t *testing.T) {
	t.Parallel()
	// Given a layer whose default sets both params and an experiment that owns only "button"
	exp := fixtures.Experiment(fixtures.ExperimentName, `{"button":"grey","title":"exp default"}`, []string{"button"},
		fixtures.Rule("treatment", 100, `{"button":"green","title":"from experiment"}`, fixtures.PublicCondition()),
	)
	layerRule := fixtures.Rule("layer_rule", 100, "", fixtures.PublicCondition())
	layerRule.ConfigDelegate = fixtures.ExperimentName
	layer := fixtures.Layer(fixtures.LayerName, `{"button":"blue","title":"layer title"}`, layerRule)
	e := flagengine.NewEvaluator(fixtures.NewStore(exp, layer))

	// When
	res, err := e.Evaluate(&unit.Unit{UserID: "u"}, fixtures.LayerName, specs.KindLayer)

	// Then
	require.NoError(t, err)
	assert.Equal(t, "green", res.JSONValue()["button"])
	assert.Equal(t, "layer title", res.JSONValue()["title"])
	assert.Equal(t, fixtures.ExperimentName, res.ConfigDelegate)
	assert.Equal(t, "treatment", res.RuleID)
	assert.True(t, res.IsExplicitParameter("button"))
	assert.False(t, res.IsExplicitParameter("title"))
}

func TestEvaluateNestedDelegateUsesDeepestExplicitParameters(t *testing.T) {
	t.Parallel()
	deep := fixtures.Experiment("deep", `{}`, []string{"title"},
		fixtures.Rule("deep_rule", 100, `{"title":"deep title","button":"deep button"}`, fixtures.PublicCondition()),
	)
	middleRule := fixtures.Rule("middle_rule", 100, "", fixtures.PublicCondition())
	middleRule.ConfigDelegate = "deep"
	middle := fixtures.Experiment("middle", `{}`, []string{"button"}, middleRule)
	layerRule := fixtures.Rule("layer_rule", 100, "", fixtures.PublicCondition())
	layerRule.ConfigDelegate = "middle"
	layer := fixtures.Layer(fixtures.LayerName, `{"button":"layer button","title":"layer title"}`, layerRule)
	e := flagengine.NewEvaluator(fixtures.NewStore(deep, middle, layer))

	res, err := e.Evaluate(&unit.Unit{UserID: "u"}, fixtures.LayerName, specs.KindLayer)

	require.NoError(t, err)
	assert.Equal(t, "deep", res.ConfigDelegate)
	assert.Equal(t, []string{"title"}, res.ExplicitParameters)
	assert.Equal(t, "deep title", res.JSONValue()["title"])
	assert.Equal(t, "layer button", res.JSONValue()["button"])
}

func TestEvaluateExperimentMembership(t *testing.T) {
	t.Parallel()
	inGroup := true
	rule := fixtures.Rule("control", 100, `{"v":1}`, fixtures.FieldCondition("userID", "any", []any{"in"}))
	rule.IsExperimentGroup = &inGroup
	rule.GroupName = "Control"
	exp := fixtures.Experiment(fixtures.ExperimentName, `{"v":0}`, nil, rule)
	e := flagengine.NewEvaluator(fixtures.NewStore(exp))

	in, _ := e.Evaluate(&unit.Unit{UserID: "in"}, fixtures.ExperimentName, specs.KindConfig)
	out, _ := e.Evaluate(&unit.Unit{UserID: "out"}, fixtures.ExperimentName, specs.KindConfig)

	require.NotNil(t, in.IsUserInExperiment)
	assert.True(t, *in.IsUserInExperiment)
	assert.Equal(t, "Control", in.GroupName)
	require.NotNil(t, out.IsUserInExperiment)
	assert.False(t, *out.IsUserInExperiment)
	assert.Equal(t, float64(0), out.JSONValue()["v"])
}

func TestEvaluateSegmentList(t *testing.T) {
	t.Parallel()
	store := fixtures.NewStore(fixtures.Gate("listed", fixtures.Rule("R1", 100, "true",
		specs.Condition{Type: "unit_id", Operator: "in_segment_list", TargetValue: "beta_users", IDType: "userID"},
	)))
	// first eight characters of base64(sha256("u1"))
	store.AddIDList("beta_users", "u4IDDbwr")
	e := flagengine.NewEvaluator(store)

	listed, _ := e.Evaluate(&unit.Unit{UserID: "u1"}, "listed", specs.KindGate)
	other, _ := e.Evaluate(&unit.Unit{UserID: "u2"}, "listed", specs.KindGate)

	assert.True(t, listed.BoolValue())
	assert.False(t, other.BoolValue())
}

func TestOverrideChainFirstNonNilWins(t *testing.T) {
	t.Parallel()
	// Given
	calls := []string{}
	skip := flagengine.OverrideProviderFunc(func(kind specs.Kind, name string, u *unit.Unit, core flagengine.EvaluationResult) *flagengine.EvaluationResult {
		calls = append(calls, "skip")
		return nil
	})
	force := flagengine.OverrideProviderFunc(func(kind specs.Kind, name string, u *unit.Unit, core flagengine.EvaluationResult) *flagengine.EvaluationResult {
		calls = append(calls, "force")
		return &flagengine.EvaluationResult{Value: true, RuleID: "forced", OverrideReason: "LocalOverride"}
	})
	never := flagengine.OverrideProviderFunc(func(kind specs.Kind, name string, u *unit.Unit, core flagengine.EvaluationResult) *flagengine.EvaluationResult {
		calls = append(calls, "never")
		return &flagengine.EvaluationResult{Value: false}
	})
	chain := flagengine.OverrideChain{skip, nil, force, never}

	// When
	res, overridden := chain.Apply(specs.KindGate, "g", &unit.Unit{}, flagengine.EvaluationResult{Value: false})

	// Then
	assert.True(t, overridden)
	assert.Equal(t, "forced", res.RuleID)
	assert.Equal(t, []string{"skip", "force"}, calls)
}

func TestOverrideChainWithoutProviders(t *testing.T) {
	t.Parallel()
	core := flagengine.EvaluationResult{Value: true, RuleID: "R1"}

	res, overridden := flagengine.OverrideChain(nil).Apply(specs.KindGate, "g", &unit.Unit{}, core)

	assert.False(t, overridden)
	assert.Equal(t, core, res)
}

// recordingDigest remembers every bucketing input.
type recordingDigest struct {
	utils.Digest
	inputs []string
}

func (d *recordingDigest) Bucket(input string) uint64 {
	d.inputs = append(d.inputs, input)
	return d.Digest.Bucket(input)
}

func TestEvaluateUserBucketSalt(t *testing.T) {
	t.Parallel()
	bucketGate := func(additional map[string]any) *specs.Spec {
		return &specs.Spec{
			Name:         "bucket_gate",
			Type:         specs.KindGate,
			IDType:       "userID",
			Enabled:      true,
			DefaultValue: json.RawMessage("false"),
			Rules: []specs.Rule{{
				ID:             "R7",
				Salt:           "rule-salt",
				PassPercentage: 100,
				Conditions: []specs.Condition{{
					Type:             "user_bucket",
					Operator:         "lt",
					TargetValue:      float64(1000),
					AdditionalValues: additional,
					IDType:           "userID",
				}},
				ReturnValue: json.RawMessage("true"),
			}},
		}
	}
	tests := []struct {
		name       string
		additional map[string]any
		want       string
	}{
		{"rule salt without condition salt", nil, "rule-salt.u1"},
		{"condition salt wins", map[string]any{"salt": "cond-salt"}, "cond-salt.u1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given
			digest := &recordingDigest{Digest: utils.DefaultDigest}
			e := flagengine.NewEvaluator(fixtures.NewStore(bucketGate(tt.additional)), flagengine.WithDigest(digest))

			// When
			res, err := e.Evaluate(&unit.Unit{UserID: "u1"}, "bucket_gate", specs.KindGate)

			// Then
			require.NoError(t, err)
			assert.Equal(t, true, res.Value)
			assert.Contains(t, digest.inputs, tt.want)
			assert.NotContains(t, digest.inputs, "<nil>.u1")
		})
	}
}
