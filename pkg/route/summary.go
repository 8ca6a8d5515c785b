package route

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary condenses a measurement sequence for the route header.
type Summary struct {
	Count        int           `json:"count"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	Duration     time.Duration `json:"duration"`
	MinDoseRate  float64       `json:"minDoseRate"`
	MeanDoseRate float64       `json:"meanDoseRate"`
	MaxDoseRate  float64       `json:"maxDoseRate"`
	StdDoseRate  float64       `json:"stdDoseRate"`
	MeanCPM      float64       `json:"meanCPM"`
	PeakID       int64         `json:"peakID"`
}

// Summarize computes a Summary. An empty sequence yields the zero Summary.
func Summarize(ms []Measurement) Summary {
	if len(ms) == 0 {
		return Summary{}
	}
	dose := make([]float64, len(ms))
	cpm := make([]float64, len(ms))
	start, end := ms[0].Timestamp, ms[0].Timestamp
	for i, m := range ms {
		dose[i] = m.DoseRate
		cpm[i] = m.CountRate
		if m.Timestamp.Before(start) {
			start = m.Timestamp
		}
		if m.Timestamp.After(end) {
			end = m.Timestamp
		}
	}
	mean, std := stat.MeanStdDev(dose, nil)
	if len(dose) < 2 {
		std = 0
	}
	return Summary{
		Count:        len(ms),
		Start:        start,
		End:          end,
		Duration:     end.Sub(start),
		MinDoseRate:  floats.Min(dose),
		MeanDoseRate: mean,
		MaxDoseRate:  floats.Max(dose),
		StdDoseRate:  std,
		MeanCPM:      stat.Mean(cpm, nil),
		PeakID:       ms[floats.MaxIdx(dose)].ID,
	}
}
