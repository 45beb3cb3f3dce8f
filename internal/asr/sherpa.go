package asr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/iabetor/ttseval/internal/audio"
	"github.com/iabetor/ttseval/internal/logger"
	"github.com/iabetor/ttseval/internal/textnorm"
	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

// SherpaRecognizer 封装 sherpa-onnx 离线识别器。
// 中文使用 Paraformer，英文使用 Whisper，由 Locale 决定。
type SherpaRecognizer struct {
	cfg Config

	mu         sync.Mutex
	recognizer *sherpa.OfflineRecognizer
}

var _ Engine = (*SherpaRecognizer)(nil)

// NewSherpaRecognizer 创建未加载的离线识别器。
func NewSherpaRecognizer(cfg Config) *SherpaRecognizer {
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = 1
	}
	if cfg.Provider == "" {
		cfg.Provider = "cpu"
	}
	return &SherpaRecognizer{cfg: cfg}
}

// Name 实现 Engine。
func (r *SherpaRecognizer) Name() string {
	if r.cfg.Locale == textnorm.CJK {
		return "sherpa-paraformer"
	}
	return "sherpa-whisper"
}

// offlineConfig 按语种构造 sherpa 配置。
func (r *SherpaRecognizer) offlineConfig() (*sherpa.OfflineRecognizerConfig, error) {
	config := sherpa.OfflineRecognizerConfig{}
	config.FeatConfig.SampleRate = SampleRate
	config.FeatConfig.FeatureDim = 80
	config.ModelConfig.NumThreads = r.cfg.NumThreads
	config.ModelConfig.Provider = r.cfg.Provider
	config.DecodingMethod = "greedy_search"

	switch r.cfg.Locale {
	case textnorm.CJK:
		if r.cfg.ParaformerModel == "" || r.cfg.ParaformerTokens == "" {
			return nil, fmt.Errorf("中文识别需要配置 paraformer 模型和词表")
		}
		config.ModelConfig.Paraformer.Model = r.cfg.ParaformerModel
		config.ModelConfig.Tokens = r.cfg.ParaformerTokens
	default:
		if r.cfg.WhisperEncoder == "" || r.cfg.WhisperDecoder == "" || r.cfg.WhisperTokens == "" {
			return nil, fmt.Errorf("英文识别需要配置 whisper 编码器、解码器和词表")
		}
		config.ModelConfig.Whisper.Encoder = r.cfg.WhisperEncoder
		config.ModelConfig.Whisper.Decoder = r.cfg.WhisperDecoder
		config.ModelConfig.Whisper.Language = "en"
		config.ModelConfig.Whisper.Task = "transcribe"
		config.ModelConfig.Whisper.TailPaddings = -1
		config.ModelConfig.Tokens = r.cfg.WhisperTokens
	}
	return &config, nil
}

// Load 创建 sherpa 离线识别器。
func (r *SherpaRecognizer) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recognizer != nil {
		return nil
	}
	config, err := r.offlineConfig()
	if err != nil {
		return err
	}

	rec := sherpa.NewOfflineRecognizer(config)
	if rec == nil {
		return fmt.Errorf("创建 %s 识别器失败，请检查模型路径", r.Name())
	}
	r.recognizer = rec

	logger.Infof("[asr] %s 识别器已加载 (threads=%d, provider=%s)", r.Name(), r.cfg.NumThreads, r.cfg.Provider)
	return nil
}

// Recognize 实现 Recognizer。
func (r *SherpaRecognizer) Recognize(ctx context.Context, seq audio.Sequence) (string, error) {
	if err := checkInput(seq); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recognizer == nil {
		return "", ErrNotLoaded
	}

	stream := sherpa.NewOfflineStream(r.recognizer)
	if stream == nil {
		return "", fmt.Errorf("创建离线识别流失败")
	}
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(SampleRate, audio.ToFloat32(seq.Samples))
	r.recognizer.Decode(stream)

	text := strings.TrimSpace(stream.GetResult().Text)
	logger.Debugf("[asr] %s 识别结果: %s (时长: %v)", r.Name(), text, seq.Duration())
	return text, nil
}

// Close 释放 sherpa-onnx 资源。
func (r *SherpaRecognizer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(r.recognizer)
		r.recognizer = nil
		logger.Infof("[asr] %s 识别器已关闭", r.Name())
	}
}
