package pitch

import (
	"context"
	"fmt"
	"math"

	"github.com/iabetor/ttseval/internal/audio"
)

// Tracker 从音频中提取基频轨迹。
type Tracker interface {
	Track(ctx context.Context, seq audio.Sequence) (Contour, error)
}

// Config 基频提取参数。
type Config struct {
	SampleRate       int
	HopSize          int
	F0Min            float64
	F0Max            float64
	VoicingThreshold float64

	// 量化级数与范围，Bins 为 0 时不量化；范围为 0 时沿用 F0Min / F0Max
	Bins     int
	PitchMin float64
	PitchMax float64
}

// 局部峰值低于全局峰值的该比例时视为静音帧。
const silenceRatio = 0.03

// Autocorrelation 基于归一化自相关的基频提取器。
// 每帧以 i*HopSize 为中心，在 [SampleRate/F0Max, SampleRate/F0Min] 的延迟范围内找自相关峰，
// 峰值低于 VoicingThreshold 的帧记为清音。
type Autocorrelation struct {
	cfg Config
}

var _ Tracker = (*Autocorrelation)(nil)

// NewAutocorrelation 创建基频提取器。
func NewAutocorrelation(cfg Config) (*Autocorrelation, error) {
	if cfg.SampleRate <= 0 || cfg.HopSize <= 0 {
		return nil, fmt.Errorf("采样率和帧移必须为正数: rate=%d hop=%d", cfg.SampleRate, cfg.HopSize)
	}
	if cfg.F0Min <= 0 || cfg.F0Max <= cfg.F0Min {
		return nil, fmt.Errorf("基频范围无效: %.1f..%.1f", cfg.F0Min, cfg.F0Max)
	}
	if cfg.PitchMin == 0 {
		cfg.PitchMin = cfg.F0Min
	}
	if cfg.PitchMax == 0 {
		cfg.PitchMax = cfg.F0Max
	}
	if cfg.Bins == 1 || cfg.Bins < 0 || cfg.PitchMax <= cfg.PitchMin {
		return nil, fmt.Errorf("基频量化参数无效: bins=%d min=%.1f max=%.1f", cfg.Bins, cfg.PitchMin, cfg.PitchMax)
	}
	return &Autocorrelation{cfg: cfg}, nil
}

// Track 实现 Tracker。输入必须已经是 cfg.SampleRate 采样率，帧数为 ceil(n / hop)。
func (a *Autocorrelation) Track(ctx context.Context, seq audio.Sequence) (Contour, error) {
	if seq.SampleRate != a.cfg.SampleRate {
		return Contour{}, fmt.Errorf("采样率不一致: 输入 %d，期望 %d", seq.SampleRate, a.cfg.SampleRate)
	}

	x := seq.Samples
	rate := float64(a.cfg.SampleRate)
	minLag := int(math.Floor(rate / a.cfg.F0Max))
	maxLag := int(math.Ceil(rate / a.cfg.F0Min))
	if minLag < 1 {
		minLag = 1
	}
	window := 2 * maxLag

	var globalPeak float64
	for _, s := range x {
		globalPeak = math.Max(globalPeak, math.Abs(s))
	}

	frames := FrameCount(len(x), a.cfg.HopSize)
	out := Contour{Hz: make([]float64, frames), HopSize: a.cfg.HopSize, SampleRate: a.cfg.SampleRate}
	if globalPeak == 0 {
		if a.cfg.Bins > 0 {
			out.Coarse = out.Quantize(a.cfg.Bins, a.cfg.PitchMin, a.cfg.PitchMax)
		}
		return out, nil
	}

	seg := make([]float64, window+maxLag+1)
	r := make([]float64, maxLag+2)
	for i := 0; i < frames; i++ {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return Contour{}, err
			}
		}

		// 取以帧中心为起点的一段，越界部分补零，并去直流
		start := i*a.cfg.HopSize - window/2
		var mean, localPeak float64
		for k := range seg {
			j := start + k
			if j >= 0 && j < len(x) {
				seg[k] = x[j]
			} else {
				seg[k] = 0
			}
		}
		for k := 0; k < window; k++ {
			mean += seg[k]
		}
		mean /= float64(window)
		for k := range seg {
			seg[k] -= mean
			if k < window {
				localPeak = math.Max(localPeak, math.Abs(seg[k]))
			}
		}
		if localPeak < silenceRatio*globalPeak {
			continue
		}

		best := 0.0
		for lag := minLag; lag <= maxLag+1; lag++ {
			r[lag] = normalizedAC(seg, window, lag)
			if lag <= maxLag && r[lag] > best {
				best = r[lag]
			}
		}
		if best < a.cfg.VoicingThreshold {
			continue
		}

		// 取第一个接近全局最大值的局部峰，避免倍周期误判
		lag := -1
		for l := minLag + 1; l <= maxLag; l++ {
			if r[l] >= r[l-1] && r[l] >= r[l+1] && r[l] >= 0.9*best {
				lag = l
				break
			}
		}
		if lag < 0 {
			continue
		}

		// 抛物线插值细化延迟
		refined := float64(lag)
		den := r[lag-1] - 2*r[lag] + r[lag+1]
		if den != 0 {
			refined += 0.5 * (r[lag-1] - r[lag+1]) / den
		}
		f0 := rate / refined
		if f0 >= a.cfg.F0Min && f0 <= a.cfg.F0Max {
			out.Hz[i] = f0
		}
	}
	if a.cfg.Bins > 0 {
		out.Coarse = out.Quantize(a.cfg.Bins, a.cfg.PitchMin, a.cfg.PitchMax)
	}
	return out, nil
}

// normalizedAC 计算 seg[0:n] 与 seg[lag:lag+n] 的归一化互相关。
func normalizedAC(seg []float64, n, lag int) float64 {
	var xy, xx, yy float64
	for k := 0; k < n; k++ {
		a, b := seg[k], seg[k+lag]
		xy += a * b
		xx += a * a
		yy += b * b
	}
	if xx == 0 || yy == 0 {
		return 0
	}
	return xy / math.Sqrt(xx*yy)
}
