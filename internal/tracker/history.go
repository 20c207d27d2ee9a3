package tracker

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MaxHistoryLength is the number of recent samples kept for statistics.
const MaxHistoryLength = 100

// History keeps the most recent bearings and ranges.
type History struct {
	angles    []float64
	distances []float64
}

// HistoryStats summarises the samples in a History.
type HistoryStats struct {
	Count          int     `json:"count"`
	DistanceMean   float64 `json:"distance_mean"`
	DistanceStdDev float64 `json:"distance_stddev"`
	DistanceMin    float64 `json:"distance_min"`
	DistanceMax    float64 `json:"distance_max"`
	AngleMean      float64 `json:"angle_mean"`
	AngleStdDev    float64 `json:"angle_stddev"`
}

func (h *History) Add(angle, distance float64) {
	h.angles = append(h.angles, angle)
	h.distances = append(h.distances, distance)
	if len(h.angles) > MaxHistoryLength {
		h.angles = h.angles[1:]
		h.distances = h.distances[1:]
	}
}

func (h *History) Len() int {
	return len(h.distances)
}

// Stats returns the summary. Standard deviations need two samples and are
// zero until then.
func (h *History) Stats() HistoryStats {
	n := len(h.distances)
	if n == 0 {
		return HistoryStats{}
	}
	s := HistoryStats{
		Count:       n,
		DistanceMin: floats.Min(h.distances),
		DistanceMax: floats.Max(h.distances),
	}
	if n == 1 {
		s.DistanceMean = h.distances[0]
		s.AngleMean = h.angles[0]
		return s
	}
	s.DistanceMean, s.DistanceStdDev = stat.MeanStdDev(h.distances, nil)
	s.AngleMean, s.AngleStdDev = stat.MeanStdDev(h.angles, nil)
	return s
}
