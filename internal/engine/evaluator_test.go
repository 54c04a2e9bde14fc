package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/t77yq/escalation-engine/internal/model"
)

func sample(value float64) *model.AlertMetric {
	return &model.AlertMetric{
		DeviceID:   "device-1",
		DeviceName: "web-01",
		MetricType: "cpu_usage",
		Value:      value,
	}
}

func TestEvaluate_GreaterThanIsStrict(t *testing.T) {
	threshold := &model.Threshold{
		Name:     "High CPU",
		Operator: model.OperatorGreaterThan,
		Value:    90,
	}

	require.True(t, Evaluate(threshold, sample(91)).Breached)
	require.False(t, Evaluate(threshold, sample(89)).Breached)

	// The boundary value itself does not breach
	require.False(t, Evaluate(threshold, sample(90)).Breached)
}

func TestEvaluate_Operators(t *testing.T) {
	cases := []struct {
		operator model.ThresholdOperator
		value    float64
		breached bool
	}{
		{model.OperatorLessThan, 100, true},
		{model.OperatorLessThan, 50, false},
		{model.OperatorEquals, 50, true},
		{model.OperatorNotEquals, 49, true},
		{model.OperatorGreaterOrEqual, 50, true},
		{model.OperatorGreaterOrEqual, 51, false},
		{model.OperatorLessOrEqual, 50, true},
		{model.OperatorLessOrEqual, 49, false},
	}

	for _, tc := range cases {
		threshold := &model.Threshold{Name: "t", Operator: tc.operator, Value: tc.value}
		result := Evaluate(threshold, sample(50))
		require.Equal(t, tc.breached, result.Breached,
			"operator %s value %v", tc.operator, tc.value)
	}
}

func TestEvaluate_NoOperatorNeverBreaches(t *testing.T) {
	threshold := &model.Threshold{Name: "broken"}
	result := Evaluate(threshold, sample(1000))
	require.False(t, result.Breached)
	require.NotEmpty(t, result.Message)
}

func TestEvaluate_UnknownOperatorNeverBreaches(t *testing.T) {
	threshold := &model.Threshold{Name: "broken", Operator: "between", Value: 10}
	require.False(t, Evaluate(threshold, sample(1000)).Breached)
}

func TestEvaluate_CompositeAllConditions(t *testing.T) {
	threshold := &model.Threshold{
		Name:     "Composite",
		Operator: model.OperatorGreaterThan,
		Value:    90,
		Conditions: &model.ConditionSet{
			All: []model.Condition{
				{Field: "metric_type", Operator: model.ConditionEquals, Value: "cpu_usage"},
				{Field: "device_name", Operator: model.ConditionContains, Value: "web"},
			},
		},
	}

	require.True(t, Evaluate(threshold, sample(95)).Breached)

	s := sample(95)
	s.MetricType = "memory_usage"
	require.False(t, Evaluate(threshold, s).Breached)
}

func TestEvaluate_CompositeAnyConditions(t *testing.T) {
	threshold := &model.Threshold{
		Name:     "Composite",
		Operator: model.OperatorGreaterThan,
		Value:    90,
		Conditions: &model.ConditionSet{
			Any: []model.Condition{
				{Field: "device_name", Operator: model.ConditionEquals, Value: "db-01"},
				{Field: "device_name", Operator: model.ConditionEquals, Value: "web-01"},
			},
		},
	}

	require.True(t, Evaluate(threshold, sample(95)).Breached)

	s := sample(95)
	s.DeviceName = "cache-01"
	require.False(t, Evaluate(threshold, s).Breached)
}

func TestEvaluate_CaseSensitivity(t *testing.T) {
	insensitive := &model.Threshold{
		Name:     "t",
		Operator: model.OperatorGreaterThan,
		Value:    0,
		Conditions: &model.ConditionSet{
			All: []model.Condition{
				{Field: "device_name", Operator: model.ConditionEquals, Value: "WEB-01"},
			},
		},
	}
	require.True(t, Evaluate(insensitive, sample(1)).Breached)

	sensitive := &model.Threshold{
		Name:     "t",
		Operator: model.OperatorGreaterThan,
		Value:    0,
		Conditions: &model.ConditionSet{
			All: []model.Condition{
				{Field: "device_name", Operator: model.ConditionEquals, Value: "WEB-01", CaseSensitive: true},
			},
		},
	}
	require.False(t, Evaluate(sensitive, sample(1)).Breached)
}

func TestEvaluate_SetMembership(t *testing.T) {
	threshold := &model.Threshold{
		Name:     "t",
		Operator: model.OperatorGreaterThan,
		Value:    0,
		Conditions: &model.ConditionSet{
			All: []model.Condition{
				{Field: "metric_type", Operator: model.ConditionIn, Value: []string{"cpu_usage", "memory_usage"}},
				{Field: "device_name", Operator: model.ConditionNotIn, Value: []string{"test-01"}},
			},
		},
	}

	require.True(t, Evaluate(threshold, sample(1)).Breached)

	s := sample(1)
	s.MetricType = "disk_usage"
	require.False(t, Evaluate(threshold, s).Breached)
}

func TestEvaluate_Regex(t *testing.T) {
	threshold := &model.Threshold{
		Name:     "t",
		Operator: model.OperatorGreaterThan,
		Value:    0,
		Conditions: &model.ConditionSet{
			All: []model.Condition{
				{Field: "device_name", Operator: model.ConditionRegex, Value: `^web-\d+$`},
			},
		},
	}
	require.True(t, Evaluate(threshold, sample(1)).Breached)

	// Invalid regex is treated as non-matching, not an error
	broken := &model.Threshold{
		Name:     "t",
		Operator: model.OperatorGreaterThan,
		Value:    0,
		Conditions: &model.ConditionSet{
			All: []model.Condition{
				{Field: "device_name", Operator: model.ConditionRegex, Value: `([`},
			},
		},
	}
	require.False(t, Evaluate(broken, sample(1)).Breached)
}

func TestEvaluate_MetadataFields(t *testing.T) {
	threshold := &model.Threshold{
		Name:     "t",
		Operator: model.OperatorGreaterThan,
		Value:    0,
		Conditions: &model.ConditionSet{
			All: []model.Condition{
				{Field: "client", Operator: model.ConditionEquals, Value: "acme"},
				{Field: "error_count", Operator: model.ConditionGreaterThan, Value: 5},
			},
		},
	}

	s := sample(1)
	s.Metadata = map[string]interface{}{"client": "acme", "error_count": 7.0}
	require.True(t, Evaluate(threshold, s).Breached)

	// Missing field is non-matching
	s.Metadata = map[string]interface{}{"client": "acme"}
	require.False(t, Evaluate(threshold, s).Breached)
}
