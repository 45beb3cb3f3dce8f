package metrics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iabetor/ttseval/internal/align"
	"github.com/iabetor/ttseval/internal/audio"
	"github.com/iabetor/ttseval/internal/logger"
	"github.com/iabetor/ttseval/internal/pitch"
)

func TestContourRMSE_Symmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, strategy := range []align.Strategy{align.Cut, align.DTW} {
		for trial := 0; trial < 50; trial++ {
			a := make([]float64, 2+rng.Intn(30))
			b := make([]float64, 2+rng.Intn(30))
			for i := range a {
				a[i] = float64(rng.Intn(5)) * 100
			}
			for i := range b {
				b[i] = float64(rng.Intn(5)) * 100
			}
			ab, err := ContourRMSE(a, b, align.Aligner{}, strategy)
			if err != nil {
				t.Fatal(err)
			}
			ba, err := ContourRMSE(b, a, align.Aligner{}, strategy)
			if err != nil {
				t.Fatal(err)
			}
			if ab != ba {
				t.Fatalf("%s: rmse(a,b)=%f != rmse(b,a)=%f for a=%v b=%v", strategy, ab, ba, a, b)
			}
		}
	}
}

func TestContourRMSE_InsufficientDataIsZero(t *testing.T) {
	for _, tt := range [][2][]float64{
		{nil, {1, 2, 3}},
		{{5}, {1, 2, 3}},
		{{1, 2}, {}},
	} {
		got, err := ContourRMSE(tt[0], tt[1], align.Aligner{}, align.DTW)
		if err != nil {
			t.Fatalf("expected recovery, got %v", err)
		}
		if got != 0 {
			t.Errorf("ContourRMSE(%v, %v) = %f, want 0", tt[0], tt[1], got)
		}
	}
}

func TestContourRMSE_Cut(t *testing.T) {
	// cut 后为 [0,0,0] 与 [3,4,0]，均方误差 25/3
	got, err := ContourRMSE([]float64{0, 0, 0, 9}, []float64{3, 4, 0}, align.Aligner{}, align.Cut)
	if err != nil {
		t.Fatal(err)
	}
	if want := math.Sqrt(25.0 / 3); math.Abs(got-want) > 1e-12 {
		t.Errorf("got %f, want %f", got, want)
	}
}

func TestContourRMSE_DTWAbsorbsTimeStretch(t *testing.T) {
	a := []float64{100, 200, 300}
	b := []float64{100, 100, 200, 200, 300, 300}
	got, err := ContourRMSE(a, b, align.Aligner{}, align.DTW)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("time-stretched contour should have zero DTW rmse, got %f", got)
	}
}

func TestContourRMSE_TooLarge(t *testing.T) {
	a := make([]float64, 100)
	_, err := ContourRMSE(a, a, align.Aligner{MaxCells: 10}, align.DTW)
	if !errors.Is(err, align.ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}

// fakeTracker 按采样点数返回预设的基频轨迹。
type fakeTracker struct {
	byLen map[int][]float64
	err   error
}

func (f fakeTracker) Track(_ context.Context, seq audio.Sequence) (pitch.Contour, error) {
	if f.err != nil {
		return pitch.Contour{}, f.err
	}
	return pitch.Contour{Hz: f.byLen[len(seq.Samples)], HopSize: 256, SampleRate: seq.SampleRate}, nil
}

func TestF0RMSE_MedianCentring(t *testing.T) {
	ref := audio.Sequence{Samples: make([]float64, 10), SampleRate: 22050}
	deg := audio.Sequence{Samples: make([]float64, 20), SampleRate: 22050}
	tracker := fakeTracker{byLen: map[int][]float64{
		10: {200, 0, 220, 240, 210},
		20: {400, 440, 0, 480, 420}, // 同一旋律高一个八度
	}}

	m := F0RMSE{Tracker: tracker, SampleRate: 22050, Strategy: align.Cut}
	var rec Record
	if err := m.Extract(context.Background(), PairFromAudio(ref, deg, ""), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.F0RMSE == nil || math.Abs(*rec.F0RMSE) > 1e-9 {
		t.Errorf("octave-shifted contour should score 0 after centring, got %v", rec.F0RMSE)
	}

	m.RawHz = true
	rec = Record{}
	if err := m.Extract(context.Background(), PairFromAudio(ref, deg, ""), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.F0RMSE == nil || *rec.F0RMSE < 100 {
		t.Errorf("raw Hz comparison should see the octave gap, got %v", rec.F0RMSE)
	}
}

func TestF0RMSE_SilentContour(t *testing.T) {
	ref := audio.Sequence{Samples: make([]float64, 10), SampleRate: 22050}
	deg := audio.Sequence{Samples: make([]float64, 20), SampleRate: 22050}
	tracker := fakeTracker{byLen: map[int][]float64{
		10: {0, 0, 0},
		20: {100, 110, 120},
	}}
	var rec Record
	m := F0RMSE{Tracker: tracker, SampleRate: 22050, Strategy: align.DTW}
	if err := m.Extract(context.Background(), PairFromAudio(ref, deg, ""), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.F0RMSE == nil || *rec.F0RMSE != 0 {
		t.Errorf("silent contour should yield 0, got %v", rec.F0RMSE)
	}
}

func TestF0RMSE_TrackerFailure(t *testing.T) {
	seq := audio.Sequence{Samples: make([]float64, 10), SampleRate: 22050}
	m := F0RMSE{Tracker: fakeTracker{err: errors.New("tracker down")}, SampleRate: 22050, Strategy: align.Cut}
	var rec Record
	err := m.Extract(context.Background(), PairFromAudio(seq, seq, ""), &rec)
	var ce *CollaboratorError
	if !errors.As(err, &ce) || ce.Metric != NameF0RMSE {
		t.Errorf("expected CollaboratorError for f0_rmse, got %v", err)
	}
	if rec.F0RMSE != nil {
		t.Error("failed metric must stay nil")
	}
}

func TestF0RMSE_RealTracker(t *testing.T) {
	tr, err := pitch.NewAutocorrelation(pitch.Config{SampleRate: 22050, HopSize: 256, F0Min: 50, F0Max: 1100, VoicingThreshold: 0.6})
	if err != nil {
		t.Fatal(err)
	}
	tone := func(freq float64, n int) audio.Sequence {
		s := make([]float64, n)
		for i := range s {
			s[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/22050)
		}
		return audio.Sequence{Samples: s, SampleRate: 22050}
	}

	// 恒定音高的轨迹去中位数后接近 0；不去中位数时两者相差约 702 音分
	var rec Record
	m := F0RMSE{Tracker: tr, SampleRate: 22050, Strategy: align.DTW}
	if err := m.Extract(context.Background(), PairFromAudio(tone(200, 11025), tone(300, 13000), ""), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.F0RMSE == nil || *rec.F0RMSE > 150 {
		t.Errorf("centred constant tones should be close, got %v", rec.F0RMSE)
	}
}

func TestVoicedBinMedian(t *testing.T) {
	tests := []struct {
		coarse []int
		want   int
	}{
		{nil, 0},
		{[]int{1, 1, 1}, 0},
		{[]int{1, 40, 1, 60, 50}, 50},
		{[]int{30, 41}, 35},
	}
	for _, tt := range tests {
		if got := voicedBinMedian(tt.coarse); got != tt.want {
			t.Errorf("voicedBinMedian(%v) = %d, want %d", tt.coarse, got, tt.want)
		}
	}
}

func TestF0RMSE_LogsCoarsePitch(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	saved := logger.L
	logger.L = zap.New(core).Sugar()
	defer func() { logger.L = saved }()

	tr, err := pitch.NewAutocorrelation(pitch.Config{
		SampleRate: 22050, HopSize: 256, F0Min: 50, F0Max: 1100, VoicingThreshold: 0.6,
		Bins: 256, PitchMin: 50, PitchMax: 1100,
	})
	if err != nil {
		t.Fatal(err)
	}
	tone := func(freq float64) audio.Sequence {
		s := make([]float64, 11025)
		for i := range s {
			s[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/22050)
		}
		return audio.Sequence{Samples: s, SampleRate: 22050}
	}
	ref, deg := tone(200), tone(300)
	refContour, err := tr.Track(context.Background(), ref)
	if err != nil {
		t.Fatal(err)
	}
	degContour, err := tr.Track(context.Background(), deg)
	if err != nil {
		t.Fatal(err)
	}
	refBin, degBin := voicedBinMedian(refContour.Coarse), voicedBinMedian(degContour.Coarse)
	if refBin <= 1 || degBin <= refBin {
		t.Fatalf("coarse medians ref=%d deg=%d, want 1 < ref < deg", refBin, degBin)
	}

	var rec Record
	m := F0RMSE{Tracker: tr, SampleRate: 22050, Strategy: align.DTW}
	if err := m.Extract(context.Background(), PairFromAudio(ref, deg, ""), &rec); err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("coarse ref=%d deg=%d", refBin, degBin)
	if n := logs.FilterMessageSnippet(want).Len(); n != 1 {
		t.Errorf("expected one debug entry containing %q, got %d (all: %v)", want, n, logs.All())
	}
}
