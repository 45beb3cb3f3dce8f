// Package speaker 提取说话人向量并计算两段语音的相似度。
package speaker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/iabetor/ttseval/internal/audio"
	"github.com/iabetor/ttseval/internal/logger"
	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

// SampleRate 说话人模型要求的输入采样率。
const SampleRate = 16000

// ErrNotLoaded 在 Load 之前调用 Embed。
var ErrNotLoaded = errors.New("speaker: 模型尚未加载")

// Embedder 从 16kHz 单声道音频提取说话人向量。
type Embedder interface {
	Embed(ctx context.Context, seq audio.Sequence) ([]float32, error)
}

// Config 说话人模型配置。
type Config struct {
	Name       string // embedding_model_a / embedding_model_b，用于日志
	ModelPath  string
	NumThreads int
	Provider   string // cpu / cuda / coreml
}

// SherpaEmbedder 封装 sherpa-onnx SpeakerEmbeddingExtractor。
// 构造只保存配置，Load 才真正加载模型，加载失败与推理失败分开上报。
// 同一个实例可以被多个 goroutine 共享，调用在内部串行化。
type SherpaEmbedder struct {
	cfg  Config
	mu   sync.Mutex
	impl *sherpa.SpeakerEmbeddingExtractor
}

var _ Embedder = (*SherpaEmbedder)(nil)

// NewSherpaEmbedder 创建未加载的说话人向量提取器。
func NewSherpaEmbedder(cfg Config) *SherpaEmbedder {
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = 1
	}
	if cfg.Provider == "" {
		cfg.Provider = "cpu"
	}
	return &SherpaEmbedder{cfg: cfg}
}

// Load 加载 ONNX 模型。重复调用无副作用。
func (e *SherpaEmbedder) Load() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.impl != nil {
		return nil
	}
	if e.cfg.ModelPath == "" {
		return fmt.Errorf("说话人模型 %s 未配置模型路径", e.cfg.Name)
	}

	impl := sherpa.NewSpeakerEmbeddingExtractor(&sherpa.SpeakerEmbeddingExtractorConfig{
		Model:      e.cfg.ModelPath,
		NumThreads: e.cfg.NumThreads,
		Debug:      0,
		Provider:   e.cfg.Provider,
	})
	if impl == nil {
		return fmt.Errorf("创建说话人向量提取器失败，模型路径: %s", e.cfg.ModelPath)
	}
	e.impl = impl

	logger.Infof("[speaker] %s 已加载 (model=%s, dim=%d, provider=%s)",
		e.cfg.Name, e.cfg.ModelPath, impl.Dim(), e.cfg.Provider)
	return nil
}

// Embed 实现 Embedder。
func (e *SherpaEmbedder) Embed(ctx context.Context, seq audio.Sequence) ([]float32, error) {
	if seq.SampleRate != SampleRate {
		return nil, fmt.Errorf("说话人模型需要 %d Hz 输入，实际 %d Hz", SampleRate, seq.SampleRate)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.impl == nil {
		return nil, ErrNotLoaded
	}

	stream := e.impl.CreateStream()
	if stream == nil {
		return nil, fmt.Errorf("创建说话人向量提取流失败")
	}
	defer sherpa.DeleteOnlineStream(stream)

	stream.AcceptWaveform(SampleRate, audio.ToFloat32(seq.Samples))
	stream.InputFinished()

	if !e.impl.IsReady(stream) {
		return nil, fmt.Errorf("音频过短（%v），无法提取说话人向量", seq.Duration())
	}
	return e.impl.Compute(stream), nil
}

// Close 释放底层资源。
func (e *SherpaEmbedder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.impl != nil {
		sherpa.DeleteSpeakerEmbeddingExtractor(e.impl)
		e.impl = nil
		logger.Infof("[speaker] %s 已关闭", e.cfg.Name)
	}
}
