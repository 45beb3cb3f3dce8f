// Package align 将长度不同的两段序列（音频采样或基频轨迹）对齐到相同长度。
package align

import (
	"errors"
	"fmt"
)

// Strategy 对齐策略。
type Strategy string

const (
	// Cut 截断到较短序列的长度，保留开头部分。
	Cut Strategy = "cut"
	// DTW 动态时间规整，按最优路径成对输出。
	DTW Strategy = "dtw"
)

// ParseStrategy 解析配置中的策略名称。
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case Cut, DTW:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("未知的对齐策略: %q", s)
}

var (
	// ErrInsufficientData 任一输入长度不超过 1，无法对齐。
	ErrInsufficientData = errors.New("align: 序列长度不足")
	// ErrTooLarge 即使收窄到最小带宽，DTW 回溯表仍超出配置的单元数上限。
	ErrTooLarge = errors.New("align: DTW 矩阵过大")
)

// Result 对齐结果，Ref 与 Deg 长度始终相等。
type Result struct {
	Ref      []float64
	Deg      []float64
	Strategy Strategy
}

// Len 返回对齐后的序列长度。
func (r Result) Len() int { return len(r.Ref) }

// Aligner 持有对齐参数。零值可用，表示不限制 DTW 矩阵大小。
type Aligner struct {
	// MaxCells DTW 回溯表允许的最大单元数，<= 0 表示不限制。
	// len(ref)*len(deg) 超出时改用 Sakoe-Chiba 带，半径取上限内能容纳的最大值。
	MaxCells int64
}

// Align 使用默认 Aligner 对齐两段序列。
func Align(ref, deg []float64, strategy Strategy) (Result, error) {
	return Aligner{}.Align(ref, deg, strategy)
}

// Align 按指定策略对齐 ref 与 deg。输入不会被修改。
func (a Aligner) Align(ref, deg []float64, strategy Strategy) (Result, error) {
	if len(ref) <= 1 || len(deg) <= 1 {
		return Result{Strategy: strategy}, ErrInsufficientData
	}

	switch strategy {
	case Cut:
		n := min(len(ref), len(deg))
		return Result{
			Ref:      append([]float64(nil), ref[:n]...),
			Deg:      append([]float64(nil), deg[:n]...),
			Strategy: Cut,
		}, nil
	case DTW:
		radius, err := a.bandRadius(len(ref), len(deg))
		if err != nil {
			return Result{Strategy: DTW}, err
		}
		path := PathBand(ref, deg, radius)
		out := Result{
			Ref:      make([]float64, len(path)),
			Deg:      make([]float64, len(path)),
			Strategy: DTW,
		}
		for k, p := range path {
			out.Ref[k] = ref[p.I]
			out.Deg[k] = deg[p.J]
		}
		return out, nil
	}
	return Result{}, fmt.Errorf("未知的对齐策略: %q", strategy)
}

// bandRadius 返回 DTW 的带宽半径。完整矩阵不超过 MaxCells 时不限制；
// 否则取每行 2r+1 个单元、共 n 行能放进 MaxCells 的最大 r。
// r 小于保证路径连通的最小半径时返回 ErrTooLarge。
func (a Aligner) bandRadius(n, m int) (int, error) {
	if a.MaxCells <= 0 || int64(n)*int64(m) <= a.MaxCells {
		return m, nil
	}
	width := a.MaxCells / int64(n)
	// 相邻两行的中心最多相差 ceil((m-1)/(n-1)) 列
	slope := int64((m - 1 + n - 2) / (n - 1))
	need := slope / 2
	if width < 1 || (width-1)/2 < need {
		return 0, fmt.Errorf("%w: %d x %d 在 %d 个单元内容纳不下半径 %d 的带", ErrTooLarge, n, m, a.MaxCells, need)
	}
	return int((width - 1) / 2), nil
}
