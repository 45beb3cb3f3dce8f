package metrics

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/iabetor/ttseval/internal/align"
	"github.com/iabetor/ttseval/internal/logger"
	"github.com/iabetor/ttseval/internal/pitch"
)

// F0RMSE 基频均方根误差。
// 默认把有声帧换算成音分并减去各自的中位数，消除说话人整体音高差异；RawHz 时直接比较赫兹值。
type F0RMSE struct {
	Tracker    pitch.Tracker
	SampleRate int
	Aligner    align.Aligner
	Strategy   align.Strategy
	RawHz      bool
}

func (F0RMSE) Name() string { return NameF0RMSE }

func (m F0RMSE) Extract(ctx context.Context, p *Pair, rec *Record) error {
	ref, deg, err := p.At(m.SampleRate)
	if err != nil {
		return err
	}

	refContour, err := m.Tracker.Track(ctx, ref)
	if err != nil {
		return collaborator(NameF0RMSE, err)
	}
	degContour, err := m.Tracker.Track(ctx, deg)
	if err != nil {
		return collaborator(NameF0RMSE, err)
	}

	a, b := refContour.Hz, degContour.Hz
	if !m.RawHz {
		a, b = pitch.SubMedianCents(a), pitch.SubMedianCents(b)
	}

	rmse, err := ContourRMSE(a, b, m.Aligner, m.Strategy)
	if err != nil {
		return err
	}
	logger.Debugf("[metrics] f0 帧数 ref=%d deg=%d 有声 ref=%d deg=%d coarse ref=%d deg=%d rmse=%.3f",
		len(refContour.Hz), len(degContour.Hz), len(refContour.Voiced()), len(degContour.Voiced()),
		voicedBinMedian(refContour.Coarse), voicedBinMedian(degContour.Coarse), rmse)
	rec.F0RMSE = float(rmse)
	return nil
}

// voicedBinMedian 浊音帧量化级别的中位数（下取整），清音帧的级别为 1 不参与统计。没有浊音帧时返回 0。
func voicedBinMedian(coarse []int) int {
	var bins []float64
	for _, b := range coarse {
		if b > 1 {
			bins = append(bins, float64(b))
		}
	}
	return int(pitch.Median(bins))
}

// ContourRMSE 对齐两条基频轨迹后计算均方根误差。
// 较短的一条不超过 1 帧时返回 0。交换两条轨迹结果不变。
func ContourRMSE(a, b []float64, aligner align.Aligner, strategy align.Strategy) (float64, error) {
	// DTW 的平局规则区分参考与合成，按固定顺序传入保证结果与参数顺序无关
	if precedes(b, a) {
		a, b = b, a
	}

	res, err := aligner.Align(a, b, strategy)
	if errors.Is(err, align.ErrInsufficientData) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("基频轨迹对齐失败: %w", err)
	}

	var sum float64
	for i := range res.Ref {
		d := res.Ref[i] - res.Deg[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(res.Len())), nil
}

// precedes 按长度、再按字典序比较两条序列。
func precedes(x, y []float64) bool {
	if len(x) != len(y) {
		return len(x) < len(y)
	}
	for i := range x {
		if x[i] != y[i] {
			return x[i] < y[i]
		}
	}
	return false
}
