// Package viz maps a decoded result payload onto the visualization its
// analysis type calls for.
package viz

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/mo"

	"idh-tui/internal/result"
	"idh-tui/internal/service"
)

// PassVerdict is the QC verdict that counts as a pass.
const PassVerdict = "APROVADO"

// Visualization is one of AnomalyChart, RULChart, VerdictBanner or Unsupported.
type Visualization interface {
	isVisualization()
}

type AnomalyPoint struct {
	Index     int
	Timestamp string
	Error     float64
	Anomaly   bool
}

type AnomalyChart struct {
	Points    []AnomalyPoint
	Threshold mo.Option[float64]
}

type RULPoint struct {
	Cycle float64
	RUL   float64
}

type RULChart struct {
	Points []RULPoint
}

type VerdictBanner struct {
	Verdict    string
	Pass       bool
	Confidence mo.Option[float64]
	RawScore   mo.Option[float64]
}

type Unsupported struct {
	AnalysisType service.AnalysisType
}

func (AnomalyChart) isVisualization()  {}
func (RULChart) isVisualization()      {}
func (VerdictBanner) isVisualization() {}
func (Unsupported) isVisualization()   {}

func (c AnomalyChart) Errors() []float64 {
	out := make([]float64, len(c.Points))
	for i, p := range c.Points {
		out[i] = p.Error
	}
	return out
}

func (c AnomalyChart) AnomalyCount() int {
	n := 0
	for _, p := range c.Points {
		if p.Anomaly {
			n++
		}
	}
	return n
}

func (c RULChart) Predictions() []float64 {
	out := make([]float64, len(c.Points))
	for i, p := range c.Points {
		out[i] = p.RUL
	}
	return out
}

func (b VerdictBanner) ConfidenceLabel() string {
	if v, ok := b.Confidence.Get(); ok {
		return fmt.Sprintf("%.2f%%", v)
	}
	return "N/A"
}

func (u Unsupported) Message() string {
	name := string(u.AnalysisType)
	if name == "" {
		name = "unknown"
	}
	return fmt.Sprintf("Analysis type %s has no detailed visualization.", name)
}

// RenderError reports a payload field that does not fit its analysis type.
type RenderError struct {
	AnalysisType service.AnalysisType
	Field        string
	Reason       string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: field %q %s", e.AnalysisType, e.Field, e.Reason)
}

// Route validates parsed against the shape analysisType requires and builds
// its visualization. Unknown types yield Unsupported, never an error.
func Route(analysisType service.AnalysisType, parsed result.Parsed) (Visualization, error) {
	switch analysisType {
	case service.AnomalyDetection:
		return anomalyChart(parsed)
	case service.RULPrediction:
		return rulChart(parsed)
	case service.QCVisualClassification:
		return verdictBanner(parsed)
	default:
		return Unsupported{AnalysisType: analysisType}, nil
	}
}

func anomalyChart(parsed result.Parsed) (Visualization, error) {
	fail := failer(service.AnomalyDetection)

	timestamps, err := list(parsed, "timestamps")
	if err != nil {
		return nil, fail("timestamps", err.Error())
	}
	errs, err := numbers(parsed, "reconstruction_errors")
	if err != nil {
		return nil, fail("reconstruction_errors", err.Error())
	}
	if len(errs) != len(timestamps) {
		return nil, fail("reconstruction_errors", fmt.Sprintf("has %d values but timestamps has %d", len(errs), len(timestamps)))
	}

	threshold := mo.None[float64]()
	if raw, ok := parsed["threshold"]; ok && raw != nil {
		v, ok := asFloat(raw)
		if !ok {
			return nil, fail("threshold", "is not a number")
		}
		threshold = mo.Some(v)
	}

	var flags []bool
	if raw, ok := parsed["is_anomaly"]; ok && raw != nil {
		items, ok := raw.([]any)
		if !ok {
			return nil, fail("is_anomaly", "is not a list")
		}
		if len(items) != len(timestamps) {
			return nil, fail("is_anomaly", fmt.Sprintf("has %d values but timestamps has %d", len(items), len(timestamps)))
		}
		flags = make([]bool, len(items))
		for i, item := range items {
			flag, ok := asFlag(item)
			if !ok {
				return nil, fail("is_anomaly", fmt.Sprintf("element %d is not a flag", i))
			}
			flags[i] = flag
		}
	}

	chart := AnomalyChart{Points: make([]AnomalyPoint, len(timestamps)), Threshold: threshold}
	limit, hasLimit := threshold.Get()
	for i := range timestamps {
		point := AnomalyPoint{Index: i, Timestamp: label(timestamps[i]), Error: errs[i]}
		if flags != nil {
			point.Anomaly = flags[i]
		} else if hasLimit {
			point.Anomaly = errs[i] > limit
		}
		chart.Points[i] = point
	}
	return chart, nil
}

func rulChart(parsed result.Parsed) (Visualization, error) {
	fail := failer(service.RULPrediction)

	cycles, err := numbers(parsed, "cycles")
	if err != nil {
		return nil, fail("cycles", err.Error())
	}
	preds, err := numbers(parsed, "rul_predictions")
	if err != nil {
		return nil, fail("rul_predictions", err.Error())
	}
	if len(preds) != len(cycles) {
		return nil, fail("rul_predictions", fmt.Sprintf("has %d values but cycles has %d", len(preds), len(cycles)))
	}

	chart := RULChart{Points: make([]RULPoint, len(cycles))}
	for i := range cycles {
		chart.Points[i] = RULPoint{Cycle: cycles[i], RUL: preds[i]}
	}
	return chart, nil
}

func verdictBanner(parsed result.Parsed) (Visualization, error) {
	fail := failer(service.QCVisualClassification)

	raw, ok := parsed["verdict"]
	if !ok || raw == nil {
		return nil, fail("verdict", "is missing")
	}
	verdict, ok := raw.(string)
	if !ok || strings.TrimSpace(verdict) == "" {
		return nil, fail("verdict", "is not a non-empty string")
	}
	verdict = strings.TrimSpace(verdict)

	banner := VerdictBanner{
		Verdict:    verdict,
		Pass:       strings.EqualFold(verdict, PassVerdict),
		Confidence: mo.None[float64](),
		RawScore:   mo.None[float64](),
	}
	if raw, ok := parsed["confidence_percent"]; ok && raw != nil {
		v, ok := asFloat(raw)
		if !ok {
			return nil, fail("confidence_percent", "is not a number")
		}
		banner.Confidence = mo.Some(v)
	}
	if raw, ok := parsed["prediction_raw"]; ok && raw != nil {
		if v, ok := asFloat(raw); ok {
			banner.RawScore = mo.Some(v)
		}
	}
	return banner, nil
}

func failer(analysisType service.AnalysisType) func(field, reason string) error {
	return func(field, reason string) error {
		return &RenderError{AnalysisType: analysisType, Field: field, Reason: reason}
	}
}

func list(parsed result.Parsed, key string) ([]any, error) {
	raw, ok := parsed[key]
	if !ok || raw == nil {
		return nil, fmt.Errorf("is missing")
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("is not a list")
	}
	return items, nil
}

func numbers(parsed result.Parsed, key string) ([]float64, error) {
	items, err := list(parsed, key)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(items))
	for i, item := range items {
		v, ok := asFloat(item)
		if !ok {
			return nil, fmt.Errorf("element %d is not a number", i)
		}
		out[i] = v
	}
	return out, nil
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asFlag(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	default:
		f, ok := asFloat(v)
		return f != 0, ok
	}
}

func label(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	}
	if f, ok := asFloat(value); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", value)
}
