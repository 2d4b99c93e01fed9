package risk

import "math"

// TimingStats is a scalar Welford accumulator. Variance is defined only once
// two samples exist; a constant stream has stddev 0, so consumers must guard
// the division themselves.
type TimingStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"`
}

// Update folds one observation into the running mean/variance.
func (s *TimingStats) Update(value float64) {
	s.Count++
	delta := value - s.Mean
	s.Mean += delta / float64(s.Count)
	delta2 := value - s.Mean
	s.M2 += delta * delta2
}

// Variance returns the sample variance, 0 when fewer than two samples.
func (s *TimingStats) Variance() float64 {
	if s.Count < 2 {
		return 0
	}
	return s.M2 / float64(s.Count-1)
}

// Stddev returns the sample standard deviation.
func (s *TimingStats) Stddev() float64 {
	return math.Sqrt(s.Variance())
}

// FeatureStats is the vector form of the Welford accumulator used by the
// attack predictor. Dimensions are fixed by the first Update call.
type FeatureStats struct {
	Count int       `json:"count"`
	Mean  []float64 `json:"mean"`
	M2    []float64 `json:"m2"`
}

// Update folds one feature vector into the running statistics.
func (s *FeatureStats) Update(vector []float64) {
	if len(s.Mean) == 0 {
		s.Mean = make([]float64, len(vector))
		s.M2 = make([]float64, len(vector))
	}
	s.Count++
	for i, value := range vector {
		delta := value - s.Mean[i]
		s.Mean[i] += delta / float64(s.Count)
		delta2 := value - s.Mean[i]
		s.M2[i] += delta * delta2
	}
}

// Stddev returns per-dimension standard deviations shaped for z-scoring:
// with fewer than two samples every dimension reports 1.0, and an exact 0
// (constant dimension) is clamped to 1.0 so downstream division stays finite.
func (s *FeatureStats) Stddev() []float64 {
	stds := make([]float64, len(s.Mean))
	if s.Count < 2 {
		for i := range stds {
			stds[i] = 1.0
		}
		return stds
	}
	for i, m2 := range s.M2 {
		std := math.Sqrt(m2 / float64(s.Count-1))
		if std == 0 {
			std = 1.0
		}
		stds[i] = std
	}
	return stds
}
