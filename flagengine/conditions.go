package flagengine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mssola/useragent"
	"github.com/ohler55/ojg/jp"

	"github.com/flagkit/flagkit-go-client/flagengine/specs"
	"github.com/flagkit/flagkit-go-client/unit"
)

// ConditionType is the closed set of condition types the evaluator understands.
type ConditionType string

const (
	ConditionPublic           ConditionType = "public"
	ConditionPassGate         ConditionType = "pass_gate"
	ConditionFailGate         ConditionType = "fail_gate"
	ConditionMultiPassGate    ConditionType = "multi_pass_gate"
	ConditionMultiFailGate    ConditionType = "multi_fail_gate"
	ConditionUserField        ConditionType = "user_field"
	ConditionCustomField      ConditionType = "custom_field"
	ConditionEnvironmentField ConditionType = "environment_field"
	ConditionIPBased          ConditionType = "ip_based"
	ConditionUABased          ConditionType = "ua_based"
	ConditionCurrentTime      ConditionType = "current_time"
	ConditionUserBucket       ConditionType = "user_bucket"
	ConditionUnitID           ConditionType = "unit_id"
	ConditionTargetApp        ConditionType = "target_app"
)

// segmentPrefix marks gates that are segments; they never produce secondary exposures.
const segmentPrefix = "segment:"

type conditionResult struct {
	pass        bool
	unsupported bool
	exposures   []specs.SecondaryExposure
}

func (e *Evaluator) evalCondition(st *evalState, rule *specs.Rule, c *specs.Condition) (conditionResult, error) {
	var value any
	switch ConditionType(strings.ToLower(c.Type)) {
	case ConditionPublic:
		return conditionResult{pass: true}, nil
	case ConditionPassGate, ConditionFailGate:
		return e.evalGateCondition(st, c)
	case ConditionMultiPassGate, ConditionMultiFailGate:
		return e.evalMultiGateCondition(st, c)
	case ConditionUserField:
		value = userFieldValue(st.unit, c.Field)
	case ConditionCustomField:
		value = customFieldValue(st.unit, c.Field)
	case ConditionEnvironmentField:
		value = environmentValue(st.unit, c.Field)
	case ConditionIPBased:
		value = ipValue(st.unit, c.Field)
	case ConditionUABased:
		value = uaValue(st.unit, c.Field)
	case ConditionCurrentTime:
		value = e.now().UnixMilli()
	case ConditionUserBucket:
		value = e.userBucket(st.unit, c, rule.BucketSalt())
	case ConditionUnitID:
		value = nilIfEmpty(st.unit.UnitID(c.IDType))
	case ConditionTargetApp:
		value = nilIfEmpty(e.currentAppID())
	default:
		return conditionResult{pass: false, unsupported: true}, nil
	}

	pass, supported := e.evalOperator(c.Operator, value, c.TargetValue)
	return conditionResult{pass: pass, unsupported: !supported}, nil
}

func (e *Evaluator) evalGateCondition(st *evalState, c *specs.Condition) (conditionResult, error) {
	name := fmt.Sprint(c.TargetValue)
	passed, exposures, unsupported, err := e.evalNestedGate(st, name)
	if err != nil {
		return conditionResult{}, err
	}
	pass := passed
	if ConditionType(strings.ToLower(c.Type)) == ConditionFailGate {
		pass = !passed
	}
	return conditionResult{pass: pass, exposures: exposures, unsupported: unsupported}, nil
}

// evalMultiGateCondition passes when any listed gate passes (multi_pass_gate)
// or when any listed gate fails (multi_fail_gate).
func (e *Evaluator) evalMultiGateCondition(st *evalState, c *specs.Condition) (conditionResult, error) {
	names, ok := c.TargetValue.([]any)
	if !ok {
		return conditionResult{pass: false}, nil
	}
	wantPass := ConditionType(strings.ToLower(c.Type)) == ConditionMultiPassGate
	out := conditionResult{}
	for _, n := range names {
		passed, exposures, unsupported, err := e.evalNestedGate(st, fmt.Sprint(n))
		if err != nil {
			return conditionResult{}, err
		}
		out.exposures = append(out.exposures, exposures...)
		out.unsupported = out.unsupported || unsupported
		if passed == wantPass {
			out.pass = true
			return out, nil
		}
	}
	return out, nil
}

func (e *Evaluator) evalNestedGate(st *evalState, name string) (bool, []specs.SecondaryExposure, bool, error) {
	var res EvaluationResult
	if gate := e.store.GetSpec(specs.KindGate, name); gate != nil {
		var err error
		res, err = e.evalSpec(st, gate)
		if err != nil {
			return false, nil, false, err
		}
	} else {
		res = unrecognized(specs.KindGate)
	}

	exposures := append([]specs.SecondaryExposure{}, res.SecondaryExposures...)
	if !strings.HasPrefix(name, segmentPrefix) {
		exposures = append(exposures, specs.SecondaryExposure{
			Gate:      name,
			GateValue: strconv.FormatBool(res.BoolValue()),
			RuleID:    res.RuleID,
		})
	}
	return res.BoolValue(), exposures, res.Unsupported, nil
}

// userBucket places the unit in one of 1000 buckets. The condition's own salt
// wins over the rule's.
func (e *Evaluator) userBucket(u *unit.Unit, c *specs.Condition, ruleSalt string) any {
	salt := ruleSalt
	if v, ok := c.AdditionalValues["salt"]; ok && v != nil {
		salt = fmt.Sprint(v)
	}
	unitID := u.UnitID(c.IDType)
	return e.digest.Bucket(salt+"."+unitID) % 1000
}

func userFieldValue(u *unit.Unit, field string) any {
	if strings.HasPrefix(field, "$.") {
		return customFieldValue(u, field)
	}
	v, _ := u.Field(field)
	return v
}

// customFieldValue reads custom attributes, accepting JSONPath expressions such as $.plan.tier.
func customFieldValue(u *unit.Unit, field string) any {
	if !strings.HasPrefix(field, "$") {
		if v, ok := u.Custom[field]; ok {
			return v
		}
		return u.PrivateAttributes[field]
	}
	path, err := jp.ParseString(field)
	if err != nil {
		return nil
	}
	for _, source := range []map[string]any{u.Custom, u.PrivateAttributes} {
		if source == nil {
			continue
		}
		if results := path.Get(source); len(results) > 0 {
			return results[0]
		}
	}
	return nil
}

func environmentValue(u *unit.Unit, field string) any {
	for k, v := range u.Environment {
		if strings.EqualFold(k, field) {
			return v
		}
	}
	return nil
}

// ipValue resolves ip based fields. Without a bundled geo database the
// country is taken from the unit when it was provided.
func ipValue(u *unit.Unit, field string) any {
	if v, ok := u.Field(field); ok {
		return v
	}
	switch strings.ToLower(field) {
	case "country":
		return nilIfEmpty(u.Country)
	case "ip":
		return nilIfEmpty(u.IP)
	}
	return nil
}

func uaValue(u *unit.Unit, field string) any {
	if v, ok := u.Custom[field]; ok {
		return v
	}
	if u.UserAgent == "" {
		return nil
	}
	ua := useragent.New(u.UserAgent)
	switch strings.ToLower(field) {
	case "os_name", "osname":
		return nilIfEmpty(ua.OSInfo().Name)
	case "os_version", "osversion":
		return nilIfEmpty(ua.OSInfo().Version)
	case "browser_name", "browsername":
		name, _ := ua.Browser()
		return nilIfEmpty(name)
	case "browser_version", "browserversion":
		_, version := ua.Browser()
		return nilIfEmpty(version)
	case "mobile":
		return ua.Mobile()
	case "bot":
		return ua.Bot()
	}
	return nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
