// Package data defines the canonical records that flow between pipeline
// stages.
package data

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// MetaTimestampFallback is set in Metadata when a decoder supplied a
// timestamp that could not be coerced to a float and the record fell back
// to wall-clock time.
const MetaTimestampFallback = "timestamp_fallback"

// MetaAnalysis is set in Metadata on records produced by analyzers so that
// downstream stages can tell analysis results from measurement records.
const MetaAnalysis = "analysis"

// SensorData is the canonical record produced by decoders and owned by
// value as it moves through the queue graph. Values, Units and Metadata are
// always non-nil, possibly empty.
type SensorData struct {
	ID           string             `json:"id"`
	SensorID     string             `json:"sensor_id"`
	DataType     string             `json:"data_type"`
	Timestamp    float64            `json:"timestamp"` // seconds since epoch
	RawTimestamp any                `json:"raw_timestamp,omitempty"`
	Values       map[string]float64 `json:"values"`
	Units        map[string]string  `json:"units"`
	Metadata     map[string]any     `json:"metadata"`
}

// New creates a SensorData record with all maps initialized and a fresh ID.
func New(sensorID, dataType string) *SensorData {
	return &SensorData{
		ID:        uuid.NewString(),
		SensorID:  sensorID,
		DataType:  dataType,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Values:    make(map[string]float64),
		Units:     make(map[string]string),
		Metadata:  make(map[string]any),
	}
}

// Normalize ensures the map invariants hold on records built literally.
func (d *SensorData) Normalize() {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Values == nil {
		d.Values = make(map[string]float64)
	}
	if d.Units == nil {
		d.Units = make(map[string]string)
	}
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
}

// Clone returns a deep copy. Fan-out edges hand each consumer its own copy
// so stages never mutate a record they do not own.
func (d *SensorData) Clone() *SensorData {
	if d == nil {
		return nil
	}
	c := &SensorData{
		ID:           d.ID,
		SensorID:     d.SensorID,
		DataType:     d.DataType,
		Timestamp:    d.Timestamp,
		RawTimestamp: d.RawTimestamp,
		Values:       make(map[string]float64, len(d.Values)),
		Units:        make(map[string]string, len(d.Units)),
		Metadata:     make(map[string]any, len(d.Metadata)),
	}
	for k, v := range d.Values {
		c.Values[k] = v
	}
	for k, v := range d.Units {
		c.Units[k] = v
	}
	for k, v := range d.Metadata {
		c.Metadata[k] = v
	}
	return c
}

// SetTimestamp coerces raw into the float Timestamp field. Accepted inputs
// are numeric types, numeric strings, and time.Time. Anything else falls
// back to wall-clock time and marks MetaTimestampFallback so the fallback
// is observable. The original value is preserved in RawTimestamp either way.
func (d *SensorData) SetTimestamp(raw any) {
	d.RawTimestamp = raw

	if ts, ok := coerceTimestamp(raw); ok {
		d.Timestamp = ts
		return
	}

	d.Timestamp = float64(time.Now().UnixNano()) / float64(time.Second)
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
	d.Metadata[MetaTimestampFallback] = true
}

func coerceTimestamp(raw any) (float64, bool) {
	switch v := raw.(type) {
	case nil:
		return 0, false
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case time.Time:
		return float64(v.UnixNano()) / float64(time.Second), true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// IsAnalysis reports whether the record is an analysis result re-entering
// the stream rather than a decoded measurement.
func (d *SensorData) IsAnalysis() bool {
	_, ok := d.Metadata[MetaAnalysis]
	return ok
}

func (d *SensorData) String() string {
	return fmt.Sprintf("SensorData(id=%s, sensor=%s, type=%s, ts=%.6f, channels=%d)",
		d.ID, d.SensorID, d.DataType, d.Timestamp, len(d.Values))
}

// AnalysisResult carries the outcome of an analyzer evaluation. Analyzers
// typically fold it back into the stream via AsRecord so that visualizers
// and writers consume one unified type.
type AnalysisResult struct {
	ID           string             `json:"id"`
	SourceID     string             `json:"source_id"` // ID of the analyzed record
	SensorID     string             `json:"sensor_id"`
	Timestamp    float64            `json:"timestamp"`
	AnomalyScore float64            `json:"anomaly_score"` // 0..1, higher is more anomalous
	Prediction   string             `json:"prediction,omitempty"`
	Confidence   float64            `json:"confidence"`
	Results      map[string]float64 `json:"results"`
	Metadata     map[string]any     `json:"metadata"`
}

// NewAnalysisResult creates a result referencing the record it was derived
// from, with maps initialized.
func NewAnalysisResult(src *SensorData) *AnalysisResult {
	r := &AnalysisResult{
		ID:        uuid.NewString(),
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Results:   make(map[string]float64),
		Metadata:  make(map[string]any),
	}
	if src != nil {
		r.SourceID = src.ID
		r.SensorID = src.SensorID
	}
	return r
}

// AsRecord converts the result into a SensorData record tagged with
// MetaAnalysis so it can merge back into the stream ahead of visualizers
// and the writer.
func (r *AnalysisResult) AsRecord(dataType string) *SensorData {
	rec := New(r.SensorID, dataType)
	rec.Timestamp = r.Timestamp
	rec.Values["anomaly_score"] = r.AnomalyScore
	rec.Values["confidence"] = r.Confidence
	for k, v := range r.Results {
		rec.Values[k] = v
	}
	rec.Metadata[MetaAnalysis] = true
	rec.Metadata["source_id"] = r.SourceID
	if r.Prediction != "" {
		rec.Metadata["prediction"] = r.Prediction
	}
	for k, v := range r.Metadata {
		rec.Metadata[k] = v
	}
	return rec
}
