package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 对齐策略。
const (
	StrategyCut = "cut"
	StrategyDTW = "dtw"
)

// 文本语种。
const (
	LanguageLatin = "latin"
	LanguageCJK   = "cjk"
)

// 说话人相似度模型。
const (
	SpeakerModelA = "embedding_model_a" // ERes2Net
	SpeakerModelB = "embedding_model_b" // WavLM x-vector
)

// 语音识别后端。
const (
	ASRBackendSherpa  = "sherpa"
	ASRBackendTencent = "tencent"
)

// Config 是 ttseval 的顶层配置结构。
type Config struct {
	Eval    EvalConfig    `yaml:"eval"`
	Pitch   PitchConfig   `yaml:"pitch"`
	ASR     ASRConfig     `yaml:"asr"`
	VAD     VADConfig     `yaml:"vad"`
	Speaker SpeakerConfig `yaml:"speaker"`
	Scoring ScoringConfig `yaml:"scoring"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
}

// EvalConfig 评测流程配置。
type EvalConfig struct {
	// WavDir 合成音频目录，合成音频路径为 {wav_dir}/{out_key}.wav。
	WavDir string `yaml:"wav_dir"`

	AlignmentStrategy string `yaml:"alignment_strategy"`
	Language          string `yaml:"language"`
	SpeakerModel      string `yaml:"speaker_model"`
	// ComputeDevice 透传给 sherpa-onnx 的 provider（cpu / cuda / coreml）。
	ComputeDevice string `yaml:"compute_device"`

	// Metrics 启用的指标，为空表示全部启用。
	Metrics []string `yaml:"metrics"`

	// Workers 并发处理的记录数，默认 1（严格串行）。
	Workers int `yaml:"workers"`

	// RecordTimeout 单条记录的超时时间（秒），超时按该记录失败处理。0 表示不限制。
	RecordTimeout int `yaml:"record_timeout"`

	// FailFast 任一指标失败即终止整个评测。默认关闭，只跳过失败的指标。
	FailFast bool `yaml:"fail_fast"`

	// PinyinErrorRate 中文评测时额外输出拼音错误率（per）。
	PinyinErrorRate bool `yaml:"pinyin_error_rate"`

	// MaxDTWCells DTW 回溯表的最大单元数。超出时收窄为带状约束，最小带宽也放不下才让该指标失败。
	MaxDTWCells int64 `yaml:"max_dtw_cells"`
}

// PitchConfig 基频提取参数，替代原先的动态属性对象。
type PitchConfig struct {
	SampleRate       int     `yaml:"sample_rate"`
	HopSize          int     `yaml:"hop_size"`
	F0Min            float64 `yaml:"f0_min"`
	F0Max            float64 `yaml:"f0_max"`
	VoicingThreshold float64 `yaml:"voicing_threshold"`
	PitchBin         int     `yaml:"pitch_bin"`
	PitchMin         float64 `yaml:"pitch_min"`
	PitchMax         float64 `yaml:"pitch_max"`
	// RawHz 直接比较赫兹基频，不做音分中值归一化。
	RawHz bool `yaml:"raw_hz"`
}

// ASRConfig 语音识别配置。
type ASRConfig struct {
	Backend    string        `yaml:"backend"`
	NumThreads int           `yaml:"num_threads"`
	Paraformer ParaformerCfg `yaml:"paraformer"`
	Whisper    WhisperCfg    `yaml:"whisper"`
	Tencent    TencentCfg    `yaml:"tencent"`
}

// ParaformerCfg 中文离线识别模型（sherpa-onnx paraformer）。
type ParaformerCfg struct {
	Model  string `yaml:"model"`
	Tokens string `yaml:"tokens"`
}

// WhisperCfg 英文离线识别模型（sherpa-onnx whisper）。
type WhisperCfg struct {
	Encoder string `yaml:"encoder"`
	Decoder string `yaml:"decoder"`
	Tokens  string `yaml:"tokens"`
}

// TencentCfg 腾讯云一句话识别配置。
type TencentCfg struct {
	SecretID  string `yaml:"secret_id"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// VADConfig 识别前的静音裁剪，ModelPath 为空则不裁剪。
type VADConfig struct {
	ModelPath    string  `yaml:"model_path"`
	Threshold    float32 `yaml:"threshold"`
	MinSilenceMs int     `yaml:"min_silence_ms"`
}

// SpeakerConfig 说话人向量模型配置。
type SpeakerConfig struct {
	ModelA     string `yaml:"embedding_model_a"`
	ModelB     string `yaml:"embedding_model_b"`
	NumThreads int    `yaml:"num_threads"`
}

// ScoringConfig PESQ / MCD / UTMOS 推理服务配置。
type ScoringConfig struct {
	URL     string `yaml:"url"`
	Timeout int    `yaml:"timeout"` // 秒
}

// StoreConfig 结果数据库配置，Path 为空则不持久化。
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Load 读取 YAML 配置文件并返回校验过的 Config。
// 配置文件同目录下的 .env 会先被加载，随后展开 ${VAR_NAME} 形式的环境变量。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("加载环境变量文件 %s 失败: %w", envFile, err)
	}

	expanded := os.Expand(string(data), os.Getenv)

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	setDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置文件 %s 无效: %w", path, err)
	}
	return cfg, nil
}

// setDefaults 为未设置的配置项填充默认值，并把别名统一成规范写法。
func setDefaults(cfg *Config) {
	e := &cfg.Eval
	e.AlignmentStrategy = canonical(e.AlignmentStrategy, StrategyCut, nil)
	e.Language = canonical(e.Language, LanguageLatin, map[string]string{
		"en": LanguageLatin, "zh": LanguageCJK,
	})
	e.SpeakerModel = canonical(e.SpeakerModel, SpeakerModelA, map[string]string{
		"eres2net": SpeakerModelA, "wavlm": SpeakerModelB,
	})
	e.ComputeDevice = canonical(e.ComputeDevice, "cpu", nil)
	if e.Workers == 0 {
		e.Workers = 1
	}
	if e.MaxDTWCells == 0 {
		e.MaxDTWCells = 1 << 28
	}
	for i, m := range e.Metrics {
		e.Metrics[i] = strings.ToLower(strings.TrimSpace(m))
	}

	p := &cfg.Pitch
	if p.SampleRate == 0 {
		p.SampleRate = 22050
	}
	if p.HopSize == 0 {
		p.HopSize = 256
	}
	if p.F0Min == 0 {
		p.F0Min = 50
	}
	if p.F0Max == 0 {
		p.F0Max = 1100
	}
	if p.VoicingThreshold == 0 {
		p.VoicingThreshold = 0.6
	}
	if p.PitchBin == 0 {
		p.PitchBin = 256
	}
	if p.PitchMin == 0 {
		p.PitchMin = p.F0Min
	}
	if p.PitchMax == 0 {
		p.PitchMax = p.F0Max
	}

	cfg.ASR.Backend = canonical(cfg.ASR.Backend, ASRBackendSherpa, nil)
	if cfg.ASR.NumThreads == 0 {
		cfg.ASR.NumThreads = 1
	}
	if cfg.ASR.Tencent.Region == "" {
		cfg.ASR.Tencent.Region = "ap-guangzhou"
	}
	cfg.ASR.Tencent.SecretID = strings.TrimSpace(cfg.ASR.Tencent.SecretID)
	cfg.ASR.Tencent.SecretKey = strings.TrimSpace(cfg.ASR.Tencent.SecretKey)

	if cfg.VAD.Threshold == 0 {
		cfg.VAD.Threshold = 0.5
	}
	if cfg.VAD.MinSilenceMs == 0 {
		cfg.VAD.MinSilenceMs = 700
	}

	if cfg.Speaker.NumThreads == 0 {
		cfg.Speaker.NumThreads = 1
	}

	if cfg.Scoring.Timeout == 0 {
		cfg.Scoring.Timeout = 60
	}
	cfg.Scoring.URL = strings.TrimRight(cfg.Scoring.URL, "/")

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if strings.HasPrefix(cfg.Store.Path, "~/") {
		// Go 不会自动展开 ~
		if home, _ := os.UserHomeDir(); home != "" {
			cfg.Store.Path = home + cfg.Store.Path[1:]
		}
	}
}

func canonical(v, fallback string, aliases map[string]string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return fallback
	}
	if a, ok := aliases[v]; ok {
		return a
	}
	return v
}

// 可单独启用的指标名称，与结果文件中的字段名一致。
var knownMetrics = map[string]bool{
	"pesq": true, "cos_sim": true, "f0_rmse": true, "wer": true, "mcd": true, "utmos": true,
}

// Validate 校验配置取值，返回第一个发现的问题。
func (c *Config) Validate() error {
	e := c.Eval
	switch e.AlignmentStrategy {
	case StrategyCut, StrategyDTW:
	default:
		return fmt.Errorf("alignment_strategy 只能是 cut 或 dtw，当前为 %q", e.AlignmentStrategy)
	}
	switch e.Language {
	case LanguageLatin, LanguageCJK:
	default:
		return fmt.Errorf("language 只能是 latin 或 cjk，当前为 %q", e.Language)
	}
	switch e.SpeakerModel {
	case SpeakerModelA, SpeakerModelB:
	default:
		return fmt.Errorf("speaker_model 只能是 %s 或 %s，当前为 %q", SpeakerModelA, SpeakerModelB, e.SpeakerModel)
	}
	for _, m := range e.Metrics {
		if !knownMetrics[m] {
			return fmt.Errorf("未知指标 %q", m)
		}
	}
	if e.Workers < 0 {
		return fmt.Errorf("workers 不能为负数: %d", e.Workers)
	}
	if e.RecordTimeout < 0 {
		return fmt.Errorf("record_timeout 不能为负数: %d", e.RecordTimeout)
	}
	if e.MaxDTWCells < 0 {
		return fmt.Errorf("max_dtw_cells 不能为负数: %d", e.MaxDTWCells)
	}

	p := c.Pitch
	if p.SampleRate <= 0 || p.HopSize <= 0 {
		return fmt.Errorf("pitch.sample_rate 和 pitch.hop_size 必须为正数")
	}
	if p.F0Min <= 0 || p.F0Max <= p.F0Min {
		return fmt.Errorf("基频范围无效: f0_min=%.1f f0_max=%.1f", p.F0Min, p.F0Max)
	}
	if p.F0Max >= float64(p.SampleRate)/2 {
		return fmt.Errorf("f0_max=%.1f 超过奈奎斯特频率", p.F0Max)
	}
	if p.VoicingThreshold <= 0 || p.VoicingThreshold >= 1 {
		return fmt.Errorf("voicing_threshold 必须在 (0, 1) 之间: %.2f", p.VoicingThreshold)
	}
	if p.PitchBin < 2 || p.PitchMax <= p.PitchMin {
		return fmt.Errorf("基频量化参数无效: bins=%d min=%.1f max=%.1f", p.PitchBin, p.PitchMin, p.PitchMax)
	}

	switch c.ASR.Backend {
	case ASRBackendSherpa:
	case ASRBackendTencent:
		if c.MetricEnabled("wer") && (c.ASR.Tencent.SecretID == "" || c.ASR.Tencent.SecretKey == "") {
			return fmt.Errorf("asr.backend=tencent 需要配置 secret_id 和 secret_key")
		}
	default:
		return fmt.Errorf("不支持的识别后端: %q", c.ASR.Backend)
	}

	if c.Scoring.Timeout < 0 {
		return fmt.Errorf("scoring.timeout 不能为负数: %d", c.Scoring.Timeout)
	}
	return nil
}

// MetricEnabled 判断某个指标是否启用。
func (c *Config) MetricEnabled(name string) bool {
	if len(c.Eval.Metrics) == 0 {
		return true
	}
	for _, m := range c.Eval.Metrics {
		if m == name {
			return true
		}
	}
	return false
}

// RecordTimeout 返回单条记录的超时时长，0 表示不限制。
func (c *Config) RecordTimeout() time.Duration {
	return time.Duration(c.Eval.RecordTimeout) * time.Second
}

// ScoringTimeout 返回评分服务单次请求的超时时长。
func (c *Config) ScoringTimeout() time.Duration {
	return time.Duration(c.Scoring.Timeout) * time.Second
}
