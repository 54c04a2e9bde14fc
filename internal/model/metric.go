package model

import "time"

// AlertMetric represents one incoming metric sample from a monitoring source.
// Samples are ephemeral: the engine evaluates them against active thresholds
// and keeps only the resulting breach records.
type AlertMetric struct {
	DeviceID   string                 `json:"device_id"`
	DeviceName string                 `json:"device_name,omitempty"`
	MetricType string                 `json:"metric_type"`
	Value      float64                `json:"value"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Field returns a named value from the sample for condition matching.
// Known field names resolve to the sample's own attributes; anything else is
// looked up in the metadata map.
func (m *AlertMetric) Field(name string) (interface{}, bool) {
	switch name {
	case "device_id":
		return m.DeviceID, true
	case "device_name":
		return m.DeviceName, true
	case "metric_type":
		return m.MetricType, true
	case "value":
		return m.Value, true
	}
	if m.Metadata != nil {
		v, ok := m.Metadata[name]
		return v, ok
	}
	return nil, false
}
