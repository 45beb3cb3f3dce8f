// Package pitch 提取逐帧基频轨迹，并提供音分换算等辅助函数。
package pitch

import (
	"math"
	"sort"
)

// Contour 逐帧基频（Hz），0 表示清音/静音帧。
type Contour struct {
	Hz         []float64
	HopSize    int
	SampleRate int
	// Coarse 梅尔刻度量化后的基频，仅当提取时配置了量化级数才有值。
	Coarse []int
}

// FrameCount 返回 n 个采样在 hop 帧移下的帧数：ceil(n / hop)。
func FrameCount(n, hop int) int {
	if n <= 0 || hop <= 0 {
		return 0
	}
	return (n + hop - 1) / hop
}

// Voiced 返回浊音帧的基频。
func (c Contour) Voiced() []float64 {
	out := make([]float64, 0, len(c.Hz))
	for _, f := range c.Hz {
		if f > 0 {
			out = append(out, f)
		}
	}
	return out
}

// Cents 将浊音帧换算为相对 440Hz 的音分：1200 * log2(f / 440)。清音帧被丢弃。
func Cents(hz []float64) []float64 {
	out := make([]float64, 0, len(hz))
	for _, f := range hz {
		if f > 0 {
			out = append(out, 1200*math.Log2(f/440))
		}
	}
	return out
}

// Median 返回中位数，偶数个元素时取中间两个的平均值。空切片返回 0。
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// SubMedianCents 换算为音分后减去中位数，消除说话人之间的整体音高差异，
// 只保留轨迹形状。结果只包含浊音帧。
func SubMedianCents(hz []float64) []float64 {
	cents := Cents(hz)
	m := Median(cents)
	for i := range cents {
		cents[i] -= m
	}
	return cents
}

// Quantize 将基频按梅尔刻度量化到 [1, bins-1]，清音帧为 1。
func (c Contour) Quantize(bins int, fmin, fmax float64) []int {
	melMin := hzToMel(fmin)
	melMax := hzToMel(fmax)
	out := make([]int, len(c.Hz))
	for i, f := range c.Hz {
		mel := hzToMel(f)
		if f > 0 {
			mel = (mel-melMin)*float64(bins-2)/(melMax-melMin) + 1
		}
		if mel <= 1 {
			mel = 1
		}
		if mel > float64(bins-1) {
			mel = float64(bins - 1)
		}
		out[i] = int(math.Round(mel))
	}
	return out
}

func hzToMel(f float64) float64 {
	return 1127 * math.Log(1+f/700)
}
