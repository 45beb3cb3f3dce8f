package metrics

import (
	"context"
	"fmt"

	"github.com/iabetor/ttseval/internal/asr"
	"github.com/iabetor/ttseval/internal/editdist"
	"github.com/iabetor/ttseval/internal/logger"
	"github.com/iabetor/ttseval/internal/textnorm"
)

// WER 识别合成音频，与参考文本比较得到字/词错误率。
// 中文按字、英文按词切分；Pinyin 为 true 时中文额外输出拼音错误率。
type WER struct {
	Recognizer asr.Recognizer
	Normalizer textnorm.Normalizer
	Pinyin     bool
}

func (WER) Name() string { return NameWER }

func (m WER) Extract(ctx context.Context, p *Pair, rec *Record) error {
	_, deg, err := p.At(asr.SampleRate)
	if err != nil {
		return err
	}

	refTokens := m.Normalizer.Normalize(p.Text)
	if len(refTokens) == 0 {
		return fmt.Errorf("参考文本归一化后为空: %w", editdist.ErrDivisionUndefined)
	}

	hyp, err := m.Recognizer.Recognize(ctx, deg)
	if err != nil {
		return collaborator(NameWER, err)
	}
	hypTokens := m.Normalizer.Normalize(hyp)

	res, err := editdist.Score(refTokens, hypTokens)
	if err != nil {
		return err
	}

	refText, hypText := m.Normalizer.Join(refTokens), m.Normalizer.Join(hypTokens)
	rec.WER = float(res.ErrorRate)
	rec.RefText = &refText
	rec.HypText = &hypText
	rec.Del = &res.Deletions
	rec.Sub = &res.Substitutions
	rec.Ins = &res.Insertions

	logger.Debugf("[metrics] wer=%.3f ref=%q hyp=%q cor=%d sub=%d del=%d ins=%d",
		res.ErrorRate, refText, hypText, res.Matches, res.Substitutions, res.Deletions, res.Insertions)

	if m.Pinyin && m.Normalizer.Locale() == textnorm.CJK {
		per, err := editdist.Score(textnorm.Pinyin(refTokens), textnorm.Pinyin(hypTokens))
		if err != nil {
			return err
		}
		rec.PER = float(per.ErrorRate)
	}
	return nil
}
