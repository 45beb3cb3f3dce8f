package metrics

import (
	"context"
	"fmt"

	"github.com/iabetor/ttseval/internal/align"
	"github.com/iabetor/ttseval/internal/audio"
	"github.com/iabetor/ttseval/internal/logger"
)

// PESQ 评分采样率。
const pesqRate = 16000

// QualityScorer 感知语音质量模型。
type QualityScorer interface {
	PESQ(ctx context.Context, ref, deg audio.Sequence) (float64, error)
}

// DistortionScorer 梅尔倒谱失真计算器，自己负责对齐。
type DistortionScorer interface {
	MCD(ctx context.Context, refPath, degPath string) (float64, error)
}

// MOSPredictor 自然度 MOS 预测模型。
type MOSPredictor interface {
	UTMOS(ctx context.Context, deg audio.Sequence) (float64, error)
}

// PESQ 两段音频重采样到 16kHz，长度不一致时按 Strategy 对齐后打分。
type PESQ struct {
	Scorer   QualityScorer
	Aligner  align.Aligner
	Strategy align.Strategy
}

func (PESQ) Name() string { return NamePESQ }

func (m PESQ) Extract(ctx context.Context, p *Pair, rec *Record) error {
	ref, deg, err := p.At(pesqRate)
	if err != nil {
		return err
	}
	if len(ref.Samples) != len(deg.Samples) {
		res, err := m.Aligner.Align(ref.Samples, deg.Samples, m.Strategy)
		if err != nil {
			return fmt.Errorf("PESQ 对齐失败: %w", err)
		}
		logger.Debugf("[metrics] PESQ %s 对齐: %d/%d → %d", m.Strategy, len(ref.Samples), len(deg.Samples), res.Len())
		ref = audio.Sequence{Samples: res.Ref, SampleRate: pesqRate}
		deg = audio.Sequence{Samples: res.Deg, SampleRate: pesqRate}
	}

	score, err := m.Scorer.PESQ(ctx, ref, deg)
	if err != nil {
		return collaborator(NamePESQ, err)
	}
	rec.PESQ = float(score)
	return nil
}

// MCD 把原始文件交给失真计算器。
type MCD struct {
	Scorer DistortionScorer
}

func (MCD) Name() string { return NameMCD }

func (m MCD) Extract(ctx context.Context, p *Pair, rec *Record) error {
	score, err := m.Scorer.MCD(ctx, p.RefPath, p.DegPath)
	if err != nil {
		return collaborator(NameMCD, err)
	}
	rec.MCD = float(score)
	return nil
}

// UTMOS 合成音频先按参考音频的响度做 RMS 归一化，再预测 MOS。
type UTMOS struct {
	Predictor MOSPredictor
	Rate      int // 预测器输入采样率，默认 16000
}

func (UTMOS) Name() string { return NameUTMOS }

func (m UTMOS) Extract(ctx context.Context, p *Pair, rec *Record) error {
	rate := m.Rate
	if rate <= 0 {
		rate = 16000
	}
	ref, deg, err := p.At(rate)
	if err != nil {
		return err
	}

	level := audio.DBFS(ref.Samples)
	normalized, err := audio.NormalizeRMS(deg.Samples, level)
	if err != nil {
		return fmt.Errorf("响度归一化失败 (ref=%.1f dBFS): %w", level, err)
	}

	score, err := m.Predictor.UTMOS(ctx, audio.Sequence{Samples: normalized, SampleRate: rate})
	if err != nil {
		return collaborator(NameUTMOS, err)
	}
	rec.UTMOS = float(score)
	return nil
}
