package audio

import (
	"fmt"
	"math"
)

// 低通核参数：单侧 32 个过零点的 Kaiser 窗 sinc，截止频率取两侧较低奈奎斯特频率的 90%。
const (
	sincZeros  = 32
	sincRes    = 512 // 每个过零间隔的查表点数
	rolloff    = 0.9
	kaiserBeta = 8.6
)

var sincTable = buildSincTable()

// Resample 将序列重采样到 target。每个输出点由 Kaiser 窗 sinc 低通核对输入加权求和，
// 降采样时截止频率低于目标奈奎斯特频率，避免混叠。
// 输出长度为 ceil(len * target / rate)，用整数计算保证确定性。
func Resample(seq Sequence, target int) (Sequence, error) {
	if seq.SampleRate <= 0 || target <= 0 {
		return Sequence{}, fmt.Errorf("无法在采样率 %d 与 %d 之间转换", seq.SampleRate, target)
	}
	if seq.SampleRate == target || len(seq.Samples) == 0 {
		return Sequence{
			Samples:    append([]float64(nil), seq.Samples...),
			SampleRate: target,
		}, nil
	}

	src := seq.Samples
	rate := float64(seq.SampleRate)
	// omega 为截止频率的两倍，按输入采样率归一化
	omega := rolloff * math.Min(rate, float64(target)) / rate
	half := float64(sincZeros) / omega
	step := rate / float64(target)

	n := int((int64(len(src))*int64(target) + int64(seq.SampleRate) - 1) / int64(seq.SampleRate))
	out := make([]float64, n)
	last := len(src) - 1
	for i := range out {
		t := float64(i) * step
		lo := max(0, int(math.Ceil(t-half)))
		hi := min(last, int(math.Floor(t+half)))
		var acc float64
		for k := lo; k <= hi; k++ {
			acc += src[k] * kernel(math.Abs(t-float64(k))*omega)
		}
		out[i] = omega * acc
	}
	return Sequence{Samples: out, SampleRate: target}, nil
}

// kernel 查表返回窗函数加权的 sinc，x 以过零间隔为单位且非负。
func kernel(x float64) float64 {
	p := x * sincRes
	i := int(p)
	if i >= len(sincTable)-1 {
		return 0
	}
	f := p - float64(i)
	return sincTable[i]*(1-f) + sincTable[i+1]*f
}

func buildSincTable() []float64 {
	table := make([]float64, sincZeros*sincRes+2)
	norm := besselI0(kaiserBeta)
	for i := range table {
		x := float64(i) / sincRes
		if x >= sincZeros {
			continue
		}
		r := x / sincZeros
		w := besselI0(kaiserBeta*math.Sqrt(1-r*r)) / norm
		s := 1.0
		if x != 0 {
			s = math.Sin(math.Pi*x) / (math.Pi * x)
		}
		table[i] = s * w
	}
	return table
}

// besselI0 第一类零阶修正贝塞尔函数，级数展开。
func besselI0(x float64) float64 {
	sum, term := 1.0, 1.0
	for k := 1; k < 64; k++ {
		h := x / (2 * float64(k))
		term *= h * h
		sum += term
		if term < sum*1e-17 {
			break
		}
	}
	return sum
}
