package audio

import "math"

// SilenceFloorDB is the energy reported for silent or empty input.
const SilenceFloorDB = -120.0

// minMeanSquare is the mean-square level below which input counts as silence.
const minMeanSquare = 1e-10

// EnergyDB returns 10*log10(mean(x^2)) for the given samples. Empty input or
// a mean square below 1e-10 yields exactly [SilenceFloorDB]. A full-scale
// signal (every sample ±1.0) yields 0 dB.
//
// Both the VAD and [AudioFrame.EnergyDB] use this function so that frame
// classification and reported energy can never disagree.
func EnergyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return SilenceFloorDB
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	mean := sum / float64(len(samples))
	if mean < minMeanSquare {
		return SilenceFloorDB
	}
	return 10 * math.Log10(mean)
}
