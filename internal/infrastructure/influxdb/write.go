package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementAction = "action_metrics"
	MeasurementRun    = "run_metrics"
)

// WriteActionMetric records one executed action.
//
// Tags: agent_id, kind, success and error_class (failures only).
// Fields: duration_ms, run_id.
func (c *Client) WriteActionMetric(runID, kind, errorClass string, success bool, duration time.Duration, ts time.Time) {
	tags := map[string]string{
		"kind":    kind,
		"success": strconv.FormatBool(success),
	}
	if errorClass != "" {
		tags["error_class"] = errorClass
	}

	c.writePoint(MeasurementAction, tags, map[string]any{
		"duration_ms": durationMS(duration),
		"run_id":      runID,
	}, ts)
}

// WriteRunMetric records one finished run.
//
// Tags: agent_id, status, source. Fields: succeeded, failed, duration_ms, run_id.
func (c *Client) WriteRunMetric(runID, status, source string, succeeded, failed int, duration time.Duration, ts time.Time) {
	tags := map[string]string{"status": status}
	if source != "" {
		tags["source"] = source
	}

	c.writePoint(MeasurementRun, tags, map[string]any{
		"succeeded":   succeeded,
		"failed":      failed,
		"duration_ms": durationMS(duration),
		"run_id":      runID,
	}, ts)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	if c.agentID != "" {
		tags["agent_id"] = c.agentID
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
