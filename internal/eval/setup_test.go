package eval

import (
	"strings"
	"testing"

	"github.com/iabetor/ttseval/internal/config"
)

func toolkitConfig(metrics ...string) *config.Config {
	return &config.Config{
		Eval: config.EvalConfig{
			AlignmentStrategy: config.StrategyDTW,
			Language:          config.LanguageLatin,
			SpeakerModel:      config.SpeakerModelA,
			ComputeDevice:     "cpu",
			Metrics:           metrics,
			MaxDTWCells:       1 << 20,
		},
		Pitch: config.PitchConfig{
			SampleRate: 22050, HopSize: 256, F0Min: 50, F0Max: 1100, VoicingThreshold: 0.6,
			PitchBin: 256, PitchMin: 50, PitchMax: 1100,
		},
		ASR:     config.ASRConfig{Backend: config.ASRBackendSherpa, NumThreads: 1},
		Scoring: config.ScoringConfig{URL: "http://127.0.0.1:1", Timeout: 1},
	}
}

func TestNewToolkit_MetricOrder(t *testing.T) {
	tk, err := NewToolkit(toolkitConfig("utmos", "mcd", "f0_rmse", "pesq"))
	if err != nil {
		t.Fatal(err)
	}
	defer tk.Close()

	var names []string
	for _, ex := range tk.Extractors {
		names = append(names, ex.Name())
	}
	if got := strings.Join(names, ","); got != "pesq,f0_rmse,mcd,utmos" {
		t.Errorf("extractor order = %s", got)
	}
}

func TestNewToolkit_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"scoring url", func(c *config.Config) { c.Eval.Metrics = []string{"pesq"}; c.Scoring.URL = "" }, "scoring.url"},
		{"speaker model", func(c *config.Config) { c.Eval.Metrics = []string{"cos_sim"} }, "说话人模型"},
		{"asr model", func(c *config.Config) { c.Eval.Metrics = []string{"wer"} }, "识别模型"},
		{"strategy", func(c *config.Config) { c.Eval.AlignmentStrategy = "stretch" }, "对齐策略"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := toolkitConfig("f0_rmse")
			tt.mutate(cfg)
			_, err := NewToolkit(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
