package speaker

import (
	"context"
	"fmt"
	"math"

	"github.com/iabetor/ttseval/internal/audio"
)

// CosineSimilarity 计算两个向量的余弦相似度。
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("向量维度不一致: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("向量为空")
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, fmt.Errorf("零向量无法计算余弦相似度")
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// Similarity 分别提取两段音频的说话人向量并返回余弦相似度。
func Similarity(ctx context.Context, e Embedder, ref, deg audio.Sequence) (float64, error) {
	refEmb, err := e.Embed(ctx, ref)
	if err != nil {
		return 0, fmt.Errorf("提取参考音频说话人向量失败: %w", err)
	}
	degEmb, err := e.Embed(ctx, deg)
	if err != nil {
		return 0, fmt.Errorf("提取合成音频说话人向量失败: %w", err)
	}
	return CosineSimilarity(refEmb, degEmb)
}
