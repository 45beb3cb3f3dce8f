// Package metrics 实现逐条语音的客观评测指标。
//
// 每个 Extractor 只依赖一个外部协作者（识别器、说话人模型、评分服务或基频提取器），
// 把结果写入 Record 的对应字段；失败时字段保持为 nil。
package metrics

import (
	"context"
	"fmt"

	"github.com/iabetor/ttseval/internal/audio"
)

// 指标名称，同时也是配置 eval.metrics 中的取值。
const (
	NamePESQ   = "pesq"
	NameCosSim = "cos_sim"
	NameF0RMSE = "f0_rmse"
	NameWER    = "wer"
	NameMCD    = "mcd"
	NameUTMOS  = "utmos"
)

// Record 一条语音的全部指标，字段顺序即输出 JSON 的键顺序。
type Record struct {
	PESQ    *float64 `json:"pesq,omitempty"`
	CosSim  *float64 `json:"cos_sim,omitempty"`
	F0RMSE  *float64 `json:"f0_rmse,omitempty"`
	WER     *float64 `json:"wer,omitempty"`
	RefText *string  `json:"ref_txt,omitempty"`
	HypText *string  `json:"hyp_txt,omitempty"`
	Del     *int     `json:"del,omitempty"`
	Sub     *int     `json:"sub,omitempty"`
	Ins     *int     `json:"ins,omitempty"`
	MCD     *float64 `json:"mcd,omitempty"`
	UTMOS   *float64 `json:"utmos,omitempty"`
	PER     *float64 `json:"per,omitempty"`
}

// Extractor 计算一个指标。
type Extractor interface {
	Name() string
	Extract(ctx context.Context, p *Pair, rec *Record) error
}

// CollaboratorError 外部协作者（模型或服务）返回的错误。
type CollaboratorError struct {
	Metric string
	Err    error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: 外部模型调用失败: %v", e.Metric, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

func collaborator(metric string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Metric: metric, Err: err}
}

// Pair 一条记录的参考音频与合成音频。
// 原始音频只读一次，按采样率缓存重采样结果；同一 Pair 不在 goroutine 间共享。
type Pair struct {
	RefPath string
	DegPath string
	Text    string

	loaded   bool
	ref, deg audio.Sequence
	cache    map[int][2]audio.Sequence
}

// NewPair 创建按需加载的音频对。
func NewPair(refPath, degPath, text string) *Pair {
	return &Pair{RefPath: refPath, DegPath: degPath, Text: text}
}

// PairFromAudio 用已解码的音频构造 Pair，路径仅用于日志和需要原始文件的协作者。
func PairFromAudio(ref, deg audio.Sequence, text string) *Pair {
	return &Pair{Text: text, loaded: true, ref: ref, deg: deg}
}

// Load 读取两段原始音频。重复调用无副作用。
func (p *Pair) Load() error {
	if p.loaded {
		return nil
	}
	ref, err := audio.Load(p.RefPath)
	if err != nil {
		return fmt.Errorf("读取参考音频失败: %w", err)
	}
	deg, err := audio.Load(p.DegPath)
	if err != nil {
		return fmt.Errorf("读取合成音频失败: %w", err)
	}
	p.ref, p.deg, p.loaded = ref, deg, true
	return nil
}

// At 返回重采样到 rate 的参考音频和合成音频。
func (p *Pair) At(rate int) (ref, deg audio.Sequence, err error) {
	if err := p.Load(); err != nil {
		return audio.Sequence{}, audio.Sequence{}, err
	}
	if got, ok := p.cache[rate]; ok {
		return got[0], got[1], nil
	}
	if p.ref.SampleRate <= 0 || p.deg.SampleRate <= 0 {
		return audio.Sequence{}, audio.Sequence{}, fmt.Errorf("采样率无效: ref=%d deg=%d", p.ref.SampleRate, p.deg.SampleRate)
	}
	if ref, err = audio.Resample(p.ref, rate); err != nil {
		return audio.Sequence{}, audio.Sequence{}, fmt.Errorf("参考音频重采样失败: %w", err)
	}
	if deg, err = audio.Resample(p.deg, rate); err != nil {
		return audio.Sequence{}, audio.Sequence{}, fmt.Errorf("合成音频重采样失败: %w", err)
	}
	if p.cache == nil {
		p.cache = make(map[int][2]audio.Sequence)
	}
	p.cache[rate] = [2]audio.Sequence{ref, deg}
	return ref, deg, nil
}

func float(v float64) *float64 { return &v }
