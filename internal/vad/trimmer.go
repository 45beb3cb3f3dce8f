// Package vad 用 Silero VAD 裁掉整段音频中的静音部分。
package vad

import (
	"errors"
	"fmt"
	"sync"

	"github.com/iabetor/ttseval/internal/audio"
	"github.com/iabetor/ttseval/internal/logger"
	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

// SampleRate Silero VAD 的输入采样率。
const SampleRate = 16000

// Silero 每次接收的窗口长度（采样点）。
const windowSize = 512

// ErrNotLoaded 在 Load 之前调用 Trim。
var ErrNotLoaded = errors.New("vad: 模型尚未加载")

// Config 静音裁剪参数。
type Config struct {
	ModelPath    string
	Threshold    float32 // 检测灵敏度，典型值 0.5
	MinSilenceMs int     // 超过此时长的静音被切开
	Provider     string
}

// Trimmer 把整段音频送入 VAD，只保留检测到的语音片段。
// sherpa 的检测器是有状态的，调用在内部串行化，每次裁剪前清空状态。
type Trimmer struct {
	cfg Config
	mu  sync.Mutex
	vad *sherpa.VoiceActivityDetector
}

// NewTrimmer 创建未加载的裁剪器。
func NewTrimmer(cfg Config) *Trimmer {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.5
	}
	if cfg.MinSilenceMs <= 0 {
		cfg.MinSilenceMs = 700
	}
	if cfg.Provider == "" {
		cfg.Provider = "cpu"
	}
	return &Trimmer{cfg: cfg}
}

// Load 加载 Silero VAD 模型。
func (t *Trimmer) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.vad != nil {
		return nil
	}
	if t.cfg.ModelPath == "" {
		return fmt.Errorf("VAD 模型路径未配置")
	}

	config := sherpa.VadModelConfig{
		SileroVad: sherpa.SileroVadModelConfig{
			Model:              t.cfg.ModelPath,
			Threshold:          t.cfg.Threshold,
			MinSilenceDuration: float32(t.cfg.MinSilenceMs) / 1000.0,
			MinSpeechDuration:  0.1,
			MaxSpeechDuration:  30.0,
			WindowSize:         windowSize,
		},
		SampleRate: SampleRate,
		NumThreads: 1,
		Provider:   t.cfg.Provider,
	}

	// 第二个参数是缓冲区秒数，需要容纳整段待评测音频
	v := sherpa.NewVoiceActivityDetector(&config, float32(120))
	if v == nil {
		return fmt.Errorf("创建语音活动检测器失败，模型: %s", t.cfg.ModelPath)
	}
	t.vad = v

	logger.Infof("[vad] 语音活动检测器已创建: model=%s threshold=%.2f minSilenceMs=%d",
		t.cfg.ModelPath, t.cfg.Threshold, t.cfg.MinSilenceMs)
	return nil
}

// Trim 返回只包含语音片段的新序列。未检测到语音时原样返回。
func (t *Trimmer) Trim(seq audio.Sequence) (audio.Sequence, error) {
	if seq.SampleRate != SampleRate {
		return audio.Sequence{}, fmt.Errorf("VAD 需要 %d Hz 输入，实际 %d Hz", SampleRate, seq.SampleRate)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.vad == nil {
		return audio.Sequence{}, ErrNotLoaded
	}
	t.vad.Clear()

	samples := audio.ToFloat32(seq.Samples)
	for start := 0; start < len(samples); start += windowSize {
		end := start + windowSize
		if end > len(samples) {
			end = len(samples)
		}
		t.vad.AcceptWaveform(samples[start:end])
	}
	t.vad.Flush()

	var speech []float64
	for !t.vad.IsEmpty() {
		segment := t.vad.Front()
		t.vad.Pop()
		for _, s := range segment.Samples {
			speech = append(speech, float64(s))
		}
	}

	if len(speech) == 0 {
		return seq, nil
	}
	logger.Debugf("[vad] 静音裁剪: %d → %d 采样点", len(seq.Samples), len(speech))
	return audio.Sequence{Samples: speech, SampleRate: SampleRate}, nil
}

// Close 释放底层 sherpa-onnx VAD 资源。
func (t *Trimmer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.vad != nil {
		sherpa.DeleteVoiceActivityDetector(t.vad)
		t.vad = nil
		logger.Info("[vad] 语音活动检测器已关闭")
	}
}
