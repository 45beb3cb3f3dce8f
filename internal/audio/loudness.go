package audio

import (
	"errors"
	"math"
)

// ErrSilent 音频能量为零，无法计算响度或做归一化。
var ErrSilent = errors.New("audio: 音频全为静音")

// RMS 返回均方根幅度。
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DBFS 返回相对满幅的分贝值，静音时为 -Inf。
func DBFS(samples []float64) float64 {
	rms := RMS(samples)
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}

// NormalizeRMS 缩放 samples，使其均方根电平等于 dbLevel（dBFS）。
func NormalizeRMS(samples []float64, dbLevel float64) ([]float64, error) {
	rms := RMS(samples)
	if rms == 0 || math.IsInf(dbLevel, 0) || math.IsNaN(dbLevel) {
		return nil, ErrSilent
	}
	gain := math.Pow(10, dbLevel/20) / rms
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s * gain
	}
	return out, nil
}
