package metrics

import (
	"context"

	"github.com/iabetor/ttseval/internal/speaker"
)

// SpeakerSimilarity 参考音频与合成音频说话人向量的余弦相似度。
type SpeakerSimilarity struct {
	Embedder speaker.Embedder
}

func (SpeakerSimilarity) Name() string { return NameCosSim }

func (m SpeakerSimilarity) Extract(ctx context.Context, p *Pair, rec *Record) error {
	ref, deg, err := p.At(speaker.SampleRate)
	if err != nil {
		return err
	}
	sim, err := speaker.Similarity(ctx, m.Embedder, ref, deg)
	if err != nil {
		return collaborator(NameCosSim, err)
	}
	rec.CosSim = float(sim)
	return nil
}
