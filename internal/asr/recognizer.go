// Package asr 把整段语音转写成文本，供字/词错误率计算使用。
package asr

import (
	"context"
	"errors"
	"fmt"

	"github.com/iabetor/ttseval/internal/audio"
	"github.com/iabetor/ttseval/internal/logger"
	"github.com/iabetor/ttseval/internal/textnorm"
)

// SampleRate 所有识别后端的输入采样率。
const SampleRate = 16000

// ErrNotLoaded 在 Load 之前调用 Recognize。
var ErrNotLoaded = errors.New("asr: 模型尚未加载")

// Recognizer 识别一段 16kHz 单声道音频，返回原始转写文本。
type Recognizer interface {
	Recognize(ctx context.Context, seq audio.Sequence) (string, error)
}

// Engine 是带生命周期的识别器：构造只保存配置，Load 加载模型或建立客户端。
type Engine interface {
	Recognizer
	Load() error
	Close()
	Name() string
}

// Backend 识别后端类型。
type Backend string

const (
	BackendSherpa  Backend = "sherpa"  // 离线引擎
	BackendTencent Backend = "tencent" // 腾讯云一句话识别
)

// Config 识别器配置。
type Config struct {
	Backend    Backend
	Locale     textnorm.Locale
	Provider   string
	NumThreads int

	// 离线模型，按语种二选一
	ParaformerModel  string
	ParaformerTokens string
	WhisperEncoder   string
	WhisperDecoder   string
	WhisperTokens    string

	Tencent TencentConfig
}

// New 按后端创建识别引擎，不加载模型。
func New(cfg Config) (Engine, error) {
	switch cfg.Backend {
	case BackendSherpa, "":
		return NewSherpaRecognizer(cfg), nil
	case BackendTencent:
		return NewTencentRecognizer(cfg.Tencent, cfg.Locale), nil
	default:
		return nil, fmt.Errorf("不支持的识别后端: %s", cfg.Backend)
	}
}

// Trimmer 识别前裁剪静音。
type Trimmer interface {
	Trim(seq audio.Sequence) (audio.Sequence, error)
}

// WithTrimmer 在识别前先经过 t 裁剪静音；t 为 nil 时原样返回 e。
func WithTrimmer(e Engine, t Trimmer) Engine {
	if t == nil {
		return e
	}
	return &trimmedEngine{Engine: e, trimmer: t}
}

type trimmedEngine struct {
	Engine
	trimmer Trimmer
}

func (e *trimmedEngine) Recognize(ctx context.Context, seq audio.Sequence) (string, error) {
	trimmed, err := e.trimmer.Trim(seq)
	if err != nil {
		logger.Warnf("[asr] 静音裁剪失败，使用原始音频: %v", err)
		trimmed = seq
	}
	return e.Engine.Recognize(ctx, trimmed)
}

func checkInput(seq audio.Sequence) error {
	if seq.SampleRate != SampleRate {
		return fmt.Errorf("识别器需要 %d Hz 输入，实际 %d Hz", SampleRate, seq.SampleRate)
	}
	if len(seq.Samples) == 0 {
		return fmt.Errorf("音频为空")
	}
	return nil
}
