package flagengine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/blang/semver/v4"
	"github.com/itlightning/dateparse"
	"golang.org/x/exp/slices"

	"github.com/flagkit/flagkit-go-client/flagengine/utils"
)

// Operator is the comparison applied between a resolved value and a condition target.
type Operator string

const (
	OpGT                  Operator = "gt"
	OpGTE                 Operator = "gte"
	OpLT                  Operator = "lt"
	OpLTE                 Operator = "lte"
	OpVersionGT           Operator = "version_gt"
	OpVersionGTE          Operator = "version_gte"
	OpVersionLT           Operator = "version_lt"
	OpVersionLTE          Operator = "version_lte"
	OpVersionEQ           Operator = "version_eq"
	OpVersionNEQ          Operator = "version_neq"
	OpAny                 Operator = "any"
	OpNone                Operator = "none"
	OpAnyCaseSensitive    Operator = "any_case_sensitive"
	OpNoneCaseSensitive   Operator = "none_case_sensitive"
	OpStartsWithAny       Operator = "str_starts_with_any"
	OpEndsWithAny         Operator = "str_ends_with_any"
	OpContainsAny         Operator = "str_contains_any"
	OpContainsNone        Operator = "str_contains_none"
	OpMatches             Operator = "str_matches"
	OpEQ                  Operator = "eq"
	OpNEQ                 Operator = "neq"
	OpBefore              Operator = "before"
	OpAfter               Operator = "after"
	OpOn                  Operator = "on"
	OpInSegmentList       Operator = "in_segment_list"
	OpNotInSegmentList    Operator = "not_in_segment_list"
	OpArrayContainsAny    Operator = "array_contains_any"
	OpArrayContainsNone   Operator = "array_contains_none"
	OpArrayContainsAll    Operator = "array_contains_all"
	OpNotArrayContainsAll Operator = "not_array_contains_all"
)

// evalOperator returns the comparison outcome and whether the operator is known.
func (e *Evaluator) evalOperator(op string, value, target any) (bool, bool) {
	switch Operator(strings.ToLower(op)) {
	case OpGT, OpGTE, OpLT, OpLTE:
		return compareNumbers(Operator(strings.ToLower(op)), value, target), true
	case OpVersionGT, OpVersionGTE, OpVersionLT, OpVersionLTE, OpVersionEQ, OpVersionNEQ:
		return compareVersions(Operator(strings.ToLower(op)), value, target), true
	case OpAny:
		return value != nil && anyMatch(value, target, matchEqualFold), true
	case OpNone:
		return value == nil || !anyMatch(value, target, matchEqualFold), true
	case OpAnyCaseSensitive:
		return value != nil && anyMatch(value, target, matchEqual), true
	case OpNoneCaseSensitive:
		return value == nil || !anyMatch(value, target, matchEqual), true
	case OpStartsWithAny:
		return value != nil && anyMatch(value, target, foldPredicate(strings.HasPrefix)), true
	case OpEndsWithAny:
		return value != nil && anyMatch(value, target, foldPredicate(strings.HasSuffix)), true
	case OpContainsAny:
		return value != nil && anyMatch(value, target, foldPredicate(strings.Contains)), true
	case OpContainsNone:
		return value == nil || !anyMatch(value, target, foldPredicate(strings.Contains)), true
	case OpMatches:
		return value != nil && matchRegex(toString(value), toString(target)), true
	case OpEQ:
		return equalValues(value, target), true
	case OpNEQ:
		return !equalValues(value, target), true
	case OpBefore, OpAfter, OpOn:
		return compareTimes(Operator(strings.ToLower(op)), value, target), true
	case OpInSegmentList, OpNotInSegmentList:
		in := e.inSegmentList(value, target)
		if Operator(strings.ToLower(op)) == OpNotInSegmentList {
			return !in, true
		}
		return in, true
	case OpArrayContainsAny, OpArrayContainsNone, OpArrayContainsAll, OpNotArrayContainsAll:
		return compareArrays(Operator(strings.ToLower(op)), value, target), true
	}
	return false, false
}

func compareNumbers(op Operator, value, target any) bool {
	v, ok1 := toFloat(value)
	t, ok2 := toFloat(target)
	if !ok1 || !ok2 {
		return false
	}
	switch op {
	case OpGT:
		return v > t
	case OpGTE:
		return v >= t
	case OpLT:
		return v < t
	case OpLTE:
		return v <= t
	}
	return false
}

// parseVersion ignores anything after the first '-' and pads missing components with zero.
func parseVersion(v any) (semver.Version, bool) {
	s := strings.TrimSpace(toString(v))
	if i := strings.Index(s, "-"); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return semver.Version{}, false
	}
	version, err := semver.ParseTolerant(s)
	if err != nil {
		return semver.Version{}, false
	}
	return version, true
}

func compareVersions(op Operator, value, target any) bool {
	if value == nil {
		return false
	}
	v, ok1 := parseVersion(value)
	t, ok2 := parseVersion(target)
	if !ok1 || !ok2 {
		return false
	}
	switch op {
	case OpVersionGT:
		return v.GT(t)
	case OpVersionGTE:
		return v.GE(t)
	case OpVersionLT:
		return v.LT(t)
	case OpVersionLTE:
		return v.LTE(t)
	case OpVersionEQ:
		return v.EQ(t)
	case OpVersionNEQ:
		return v.NE(t)
	}
	return false
}

type stringPredicate func(value, candidate string) bool

func matchEqual(value, candidate string) bool     { return value == candidate }
func matchEqualFold(value, candidate string) bool { return strings.EqualFold(value, candidate) }

func foldPredicate(fn func(s, sub string) bool) stringPredicate {
	return func(value, candidate string) bool {
		return fn(strings.ToLower(value), strings.ToLower(candidate))
	}
}

func anyMatch(value, target any, pred stringPredicate) bool {
	s := toString(value)
	return slices.ContainsFunc(toList(target), func(candidate any) bool {
		return pred(s, toString(candidate))
	})
}

func matchRegex(value, pattern string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

func equalValues(value, target any) bool {
	if value == nil || target == nil {
		return value == nil && target == nil
	}
	if v, ok := toFloat(value); ok {
		if t, ok := toFloat(target); ok {
			return v == t
		}
	}
	if vb, ok := value.(bool); ok {
		tb, ok := target.(bool)
		return ok && vb == tb
	}
	return toString(value) == toString(target)
}

func compareTimes(op Operator, value, target any) bool {
	v, ok1 := toTime(value)
	t, ok2 := toTime(target)
	if !ok1 || !ok2 {
		return false
	}
	switch op {
	case OpBefore:
		return v.Before(t)
	case OpAfter:
		return v.After(t)
	case OpOn:
		vy, vm, vd := v.UTC().Date()
		ty, tm, td := t.UTC().Date()
		return vy == ty && vm == tm && vd == td
	}
	return false
}

func compareArrays(op Operator, value, target any) bool {
	values, ok := value.([]any)
	if !ok {
		if strs, isStrs := value.([]string); isStrs {
			values = make([]any, len(strs))
			for i, s := range strs {
				values[i] = s
			}
		} else if op == OpArrayContainsNone || op == OpNotArrayContainsAll {
			return true
		} else {
			return false
		}
	}
	contains := func(candidate any) bool {
		return slices.ContainsFunc(values, func(v any) bool { return equalValues(v, candidate) })
	}
	targets := toList(target)
	switch op {
	case OpArrayContainsAny:
		return slices.ContainsFunc(targets, contains)
	case OpArrayContainsNone:
		return !slices.ContainsFunc(targets, contains)
	case OpArrayContainsAll:
		return allOf(targets, contains)
	case OpNotArrayContainsAll:
		return !allOf(targets, contains)
	}
	return false
}

func allOf(items []any, pred func(any) bool) bool {
	for _, it := range items {
		if !pred(it) {
			return false
		}
	}
	return true
}

// inSegmentList checks membership of value in an id list. Lists hold the first
// eight characters of the base64 SHA-256 of each member.
func (e *Evaluator) inSegmentList(value, target any) bool {
	if value == nil {
		return false
	}
	list, ok := e.store.IDList(toString(target))
	if !ok {
		return false
	}
	hashed := e.digest.HashName(toString(value), utils.HashAlgoSHA256)
	if len(hashed) > 8 {
		hashed = hashed[:8]
	}
	_, in := list[hashed]
	return in
}

func toList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(v)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// toTime accepts unix seconds, unix milliseconds or any date string dateparse understands.
func toTime(v any) (time.Time, bool) {
	if v == nil {
		return time.Time{}, false
	}
	if f, ok := toFloat(v); ok {
		ms := int64(f)
		if ms < 1e11 {
			ms *= 1000
		}
		return time.UnixMilli(ms), true
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
