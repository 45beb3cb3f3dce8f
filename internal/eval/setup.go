package eval

import (
	"fmt"

	"github.com/iabetor/ttseval/internal/align"
	"github.com/iabetor/ttseval/internal/asr"
	"github.com/iabetor/ttseval/internal/config"
	"github.com/iabetor/ttseval/internal/logger"
	"github.com/iabetor/ttseval/internal/metrics"
	"github.com/iabetor/ttseval/internal/pitch"
	"github.com/iabetor/ttseval/internal/scoring"
	"github.com/iabetor/ttseval/internal/speaker"
	"github.com/iabetor/ttseval/internal/textnorm"
	"github.com/iabetor/ttseval/internal/vad"
)

// Toolkit 按配置创建的全部指标及其依赖的模型，Close 释放模型。
type Toolkit struct {
	Extractors []metrics.Extractor

	recognizer asr.Engine
	trimmer    *vad.Trimmer
	embedder   *speaker.SherpaEmbedder
}

// NewToolkit 按配置创建并加载启用的指标。任一模型加载失败即返回错误。
func NewToolkit(cfg *config.Config) (*Toolkit, error) {
	t := &Toolkit{}

	strategy, err := align.ParseStrategy(cfg.Eval.AlignmentStrategy)
	if err != nil {
		return nil, err
	}
	locale, err := textnorm.ParseLocale(cfg.Eval.Language)
	if err != nil {
		return nil, err
	}
	aligner := align.Aligner{MaxCells: cfg.Eval.MaxDTWCells}
	device := cfg.Eval.ComputeDevice

	var client *scoring.Client
	if cfg.MetricEnabled(metrics.NamePESQ) || cfg.MetricEnabled(metrics.NameMCD) || cfg.MetricEnabled(metrics.NameUTMOS) {
		if cfg.Scoring.URL == "" {
			return nil, fmt.Errorf("启用 pesq / mcd / utmos 需要配置 scoring.url")
		}
		client = scoring.New(cfg.Scoring.URL, cfg.ScoringTimeout())
	}

	if cfg.MetricEnabled(metrics.NamePESQ) {
		t.Extractors = append(t.Extractors, metrics.PESQ{Scorer: client, Aligner: aligner, Strategy: strategy})
	}

	if cfg.MetricEnabled(metrics.NameCosSim) {
		path := cfg.Speaker.ModelA
		if cfg.Eval.SpeakerModel == config.SpeakerModelB {
			path = cfg.Speaker.ModelB
		}
		t.embedder = speaker.NewSherpaEmbedder(speaker.Config{
			Name:       cfg.Eval.SpeakerModel,
			ModelPath:  path,
			NumThreads: cfg.Speaker.NumThreads,
			Provider:   device,
		})
		if err := t.embedder.Load(); err != nil {
			t.Close()
			return nil, fmt.Errorf("加载说话人模型失败: %w", err)
		}
		t.Extractors = append(t.Extractors, metrics.SpeakerSimilarity{Embedder: t.embedder})
	}

	if cfg.MetricEnabled(metrics.NameF0RMSE) {
		tracker, err := pitch.NewAutocorrelation(pitch.Config{
			SampleRate:       cfg.Pitch.SampleRate,
			HopSize:          cfg.Pitch.HopSize,
			F0Min:            cfg.Pitch.F0Min,
			F0Max:            cfg.Pitch.F0Max,
			VoicingThreshold: cfg.Pitch.VoicingThreshold,
			Bins:             cfg.Pitch.PitchBin,
			PitchMin:         cfg.Pitch.PitchMin,
			PitchMax:         cfg.Pitch.PitchMax,
		})
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("初始化基频提取失败: %w", err)
		}
		t.Extractors = append(t.Extractors, metrics.F0RMSE{
			Tracker:    tracker,
			SampleRate: cfg.Pitch.SampleRate,
			Aligner:    aligner,
			Strategy:   strategy,
			RawHz:      cfg.Pitch.RawHz,
		})
	}

	if cfg.MetricEnabled(metrics.NameWER) {
		engine, err := asr.New(asr.Config{
			Backend:          asr.Backend(cfg.ASR.Backend),
			Locale:           locale,
			Provider:         device,
			NumThreads:       cfg.ASR.NumThreads,
			ParaformerModel:  cfg.ASR.Paraformer.Model,
			ParaformerTokens: cfg.ASR.Paraformer.Tokens,
			WhisperEncoder:   cfg.ASR.Whisper.Encoder,
			WhisperDecoder:   cfg.ASR.Whisper.Decoder,
			WhisperTokens:    cfg.ASR.Whisper.Tokens,
			Tencent: asr.TencentConfig{
				SecretID:  cfg.ASR.Tencent.SecretID,
				SecretKey: cfg.ASR.Tencent.SecretKey,
				Region:    cfg.ASR.Tencent.Region,
			},
		})
		if err != nil {
			t.Close()
			return nil, err
		}
		if err := engine.Load(); err != nil {
			t.Close()
			return nil, fmt.Errorf("加载识别模型 %s 失败: %w", engine.Name(), err)
		}
		t.recognizer = engine

		// 静音裁剪是可选的，加载失败只告警
		if cfg.VAD.ModelPath != "" {
			tr := vad.NewTrimmer(vad.Config{
				ModelPath:    cfg.VAD.ModelPath,
				Threshold:    cfg.VAD.Threshold,
				MinSilenceMs: cfg.VAD.MinSilenceMs,
				Provider:     device,
			})
			if err := tr.Load(); err != nil {
				logger.Warnf("[eval] VAD 加载失败，识别前不裁剪静音: %v", err)
			} else {
				t.trimmer = tr
				engine = asr.WithTrimmer(engine, tr)
			}
		}

		t.Extractors = append(t.Extractors, metrics.WER{
			Recognizer: engine,
			Normalizer: textnorm.ForLocale(locale),
			Pinyin:     cfg.Eval.PinyinErrorRate,
		})
	}

	if cfg.MetricEnabled(metrics.NameMCD) {
		t.Extractors = append(t.Extractors, metrics.MCD{Scorer: client})
	}
	if cfg.MetricEnabled(metrics.NameUTMOS) {
		t.Extractors = append(t.Extractors, metrics.UTMOS{Predictor: client})
	}

	names := make([]string, len(t.Extractors))
	for i, ex := range t.Extractors {
		names[i] = ex.Name()
	}
	logger.Infof("[eval] 已启用指标: %v (对齐=%s, 语种=%s, 设备=%s)", names, strategy, locale, device)
	return t, nil
}

// Close 释放已加载的模型。
func (t *Toolkit) Close() {
	if t.recognizer != nil {
		t.recognizer.Close()
	}
	if t.trimmer != nil {
		t.trimmer.Close()
	}
	if t.embedder != nil {
		t.embedder.Close()
	}
}
