package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/t77yq/escalation-engine/internal/model"
)

// Evaluation is the outcome of testing one sample against one threshold
type Evaluation struct {
	Breached bool
	Message  string
}

// Evaluate tests a sample against a threshold definition. It is pure: it
// never touches the ledger and never panics on malformed definitions —
// anything unusable evaluates to not-breached.
func Evaluate(t *model.Threshold, sample *model.AlertMetric) Evaluation {
	if t.Operator == "" {
		return Evaluation{Message: "no operator configured"}
	}

	ok, err := compareNumeric(t.Operator, sample.Value, t.Value)
	if err != nil {
		return Evaluation{Message: err.Error()}
	}
	if !ok {
		return Evaluation{Message: fmt.Sprintf("value %.4g within threshold %.4g", sample.Value, t.Value)}
	}

	if t.Conditions != nil {
		for _, cond := range t.Conditions.All {
			if !matchCondition(cond, sample) {
				return Evaluation{Message: fmt.Sprintf("condition on %q not met", cond.Field)}
			}
		}
		if len(t.Conditions.Any) > 0 {
			anyMatched := false
			for _, cond := range t.Conditions.Any {
				if matchCondition(cond, sample) {
					anyMatched = true
					break
				}
			}
			if !anyMatched {
				return Evaluation{Message: "no alternative condition met"}
			}
		}
	}

	return Evaluation{
		Breached: true,
		Message:  fmt.Sprintf("value %.4g %s threshold %.4g", sample.Value, t.Operator, t.Value),
	}
}

func compareNumeric(op model.ThresholdOperator, value, threshold float64) (bool, error) {
	switch op {
	case model.OperatorGreaterThan:
		return value > threshold, nil
	case model.OperatorLessThan:
		return value < threshold, nil
	case model.OperatorEquals:
		return value == threshold, nil
	case model.OperatorNotEquals:
		return value != threshold, nil
	case model.OperatorGreaterOrEqual:
		return value >= threshold, nil
	case model.OperatorLessOrEqual:
		return value <= threshold, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// matchCondition evaluates one field condition against the sample. Malformed
// conditions are treated as non-matching.
func matchCondition(cond model.Condition, sample *model.AlertMetric) bool {
	field, ok := sample.Field(cond.Field)
	if !ok {
		return false
	}

	switch cond.Operator {
	case model.ConditionEquals:
		return stringEquals(toString(field), toString(cond.Value), cond.CaseSensitive)
	case model.ConditionContains:
		haystack, needle := toString(field), toString(cond.Value)
		if !cond.CaseSensitive {
			haystack, needle = strings.ToLower(haystack), strings.ToLower(needle)
		}
		return strings.Contains(haystack, needle)
	case model.ConditionGreaterThan:
		fv, fok := toFloat(field)
		cv, cok := toFloat(cond.Value)
		return fok && cok && fv > cv
	case model.ConditionLessThan:
		fv, fok := toFloat(field)
		cv, cok := toFloat(cond.Value)
		return fok && cok && fv < cv
	case model.ConditionIn:
		return inSet(field, cond.Value, cond.CaseSensitive)
	case model.ConditionNotIn:
		set, ok := toSlice(cond.Value)
		if !ok {
			return false
		}
		for _, item := range set {
			if stringEquals(toString(field), toString(item), cond.CaseSensitive) {
				return false
			}
		}
		return true
	case model.ConditionRegex:
		re, err := regexp.Compile(toString(cond.Value))
		if err != nil {
			return false
		}
		return re.MatchString(toString(field))
	default:
		return false
	}
}

func inSet(field, setValue interface{}, caseSensitive bool) bool {
	set, ok := toSlice(setValue)
	if !ok {
		return false
	}
	for _, item := range set {
		if stringEquals(toString(field), toString(item), caseSensitive) {
			return true
		}
	}
	return false
}

func stringEquals(a, b string, caseSensitive bool) bool {
	if caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toSlice(v interface{}) ([]interface{}, bool) {
	switch x := v.(type) {
	case []interface{}:
		return x, true
	case []string:
		out := make([]interface{}, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}
