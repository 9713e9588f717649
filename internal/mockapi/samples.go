package mockapi

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"idh-tui/internal/service"
)

const (
	anomalyThreshold = 0.050353
	anomalyWindows   = 48
	rulCycles        = 40
)

var anomalyStart = time.Date(2020, 3, 9, 10, 14, 33, 0, time.UTC)

// sampleResult fabricates worker output for a job. The same job id always
// produces the same result.
func sampleResult(analysisType service.AnalysisType, jobID int64) (string, map[string]any) {
	rng := rand.New(rand.NewSource(jobID))
	switch analysisType {
	case service.AnomalyDetection:
		return anomalySample(rng)
	case service.RULPrediction:
		return rulSample(rng)
	case service.QCVisualClassification:
		return qcSample(rng)
	default:
		return fmt.Sprintf("No worker registered for %s.", analysisType), map[string]any{}
	}
}

func anomalySample(rng *rand.Rand) (string, map[string]any) {
	timestamps := make([]string, anomalyWindows)
	errs := make([]float64, anomalyWindows)
	flags := make([]int, anomalyWindows)
	spike := anomalyWindows/2 + rng.Intn(anomalyWindows/4)
	anomalies := 0
	for i := 0; i < anomalyWindows; i++ {
		timestamps[i] = anomalyStart.Add(time.Duration(i) * time.Second).Format("2006-01-02 15:04:05")
		v := 0.018 + rng.Float64()*0.02
		if i >= spike && i < spike+6 {
			v += 0.03 + rng.Float64()*0.03
		}
		errs[i] = round(v, 6)
		if errs[i] > anomalyThreshold {
			flags[i] = 1
			anomalies++
		}
	}
	summary := fmt.Sprintf("%d anomalies detected in %d windows.", anomalies, anomalyWindows)
	return summary, map[string]any{
		"timestamps":            timestamps,
		"reconstruction_errors": errs,
		"threshold":             anomalyThreshold,
		"is_anomaly":            flags,
	}
}

func rulSample(rng *rand.Rand) (string, map[string]any) {
	start := 50 + rng.Intn(30)
	cycles := make([]int, rulCycles)
	preds := make([]float64, rulCycles)
	initial := 110 + rng.Float64()*30
	for i := 0; i < rulCycles; i++ {
		cycles[i] = start + i
		decay := initial * (1 - float64(i)/float64(rulCycles))
		preds[i] = round(math.Max(0, decay+rng.NormFloat64()*3), 2)
	}
	summary := fmt.Sprintf("Final RUL prediction: %.2f cycles remaining.", preds[rulCycles-1])
	return summary, map[string]any{
		"cycles":          cycles,
		"rul_predictions": preds,
	}
}

func qcSample(rng *rand.Rand) (string, map[string]any) {
	prob := rng.Float64()
	verdict := "DEFEITUOSO"
	confidence := (1 - prob) * 100
	if prob > 0.5 {
		verdict = "APROVADO"
		confidence = prob * 100
	}
	summary := fmt.Sprintf("Verdict: %s (%.2f%%)", verdict, confidence)
	return summary, map[string]any{
		"verdict":            verdict,
		"confidence_percent": round(confidence, 4),
		"prediction_raw":     round(prob, 6),
	}
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
