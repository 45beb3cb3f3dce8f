package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iabetor/ttseval/internal/audio"
	"github.com/iabetor/ttseval/internal/metrics"
	"github.com/iabetor/ttseval/internal/store"
	"github.com/iabetor/ttseval/internal/textnorm"
)

// fakeExtractor 用闭包实现 metrics.Extractor。
type fakeExtractor struct {
	name string
	fn   func(ctx context.Context, p *metrics.Pair, rec *metrics.Record) error
}

func (f fakeExtractor) Name() string { return f.name }

func (f fakeExtractor) Extract(ctx context.Context, p *metrics.Pair, rec *metrics.Record) error {
	return f.fn(ctx, p, rec)
}

type fakeRecognizer struct{ text string }

func (f fakeRecognizer) Recognize(context.Context, audio.Sequence) (string, error) {
	return f.text, nil
}

func ptr(v float64) *float64 { return &v }

// corpus 在临时目录中生成参考音频和合成音频，返回清单内容与合成音频目录。
func corpus(t *testing.T, keys ...string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	refDir := filepath.Join(dir, "ref")
	wavDir := filepath.Join(dir, "gen")
	for _, d := range []string{refDir, wavDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}

	samples := make([]float64, 1600)
	for i := range samples {
		samples[i] = 0.3 * math.Sin(2*math.Pi*220*float64(i)/16000)
	}
	wav, err := audio.EncodeWAV(audio.Sequence{Samples: samples, SampleRate: 16000})
	if err != nil {
		t.Fatal(err)
	}

	var manifest strings.Builder
	for _, k := range keys {
		ref := filepath.Join(refDir, k+".wav")
		if err := os.WriteFile(ref, wav, 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(wavDir, k+".wav"), wav, 0644); err != nil {
			t.Fatal(err)
		}
		line, _ := json.Marshal(map[string]string{"text": "hello world", "gt_wav": ref, "out_key": k})
		manifest.Write(line)
		manifest.WriteByte('\n')
	}
	return manifest.String(), wavDir
}

func decodeLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var recs []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(out), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(l), &m); err != nil {
			t.Fatalf("invalid output line %q: %v", l, err)
		}
		recs = append(recs, m)
	}
	return recs
}

func keyOf(rec map[string]any) string {
	return strings.TrimSuffix(filepath.Base(rec["gen_wav"].(string)), ".wav")
}

func TestRun_HelloWorld(t *testing.T) {
	manifest, wavDir := corpus(t, "utt1")
	wer := metrics.WER{Recognizer: fakeRecognizer{text: "hello word"}, Normalizer: textnorm.ForLocale(textnorm.Latin)}

	var out bytes.Buffer
	sum, err := New([]metrics.Extractor{wer}, Options{WavDir: wavDir}).Run(context.Background(), strings.NewReader(manifest), &out)
	if err != nil {
		t.Fatal(err)
	}

	recs := decodeLines(t, out.String())
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	r := recs[0]
	if r["wer"] != 0.5 || r["sub"] != 1.0 || r["del"] != 0.0 || r["ins"] != 0.0 {
		t.Errorf("unexpected metrics: %v", r)
	}
	if r["ref_txt"] != "hello world" || r["hyp_txt"] != "hello word" {
		t.Errorf("unexpected texts: %v", r)
	}
	if r["gen_wav"] != filepath.Join(wavDir, "utt1.wav") {
		t.Errorf("gen_wav = %v", r["gen_wav"])
	}
	if _, ok := r["pesq"]; ok {
		t.Error("metrics that were not computed must be omitted")
	}
	if sum.Total != 1 || sum.Complete != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRun_PreservesOrderWithWorkers(t *testing.T) {
	keys := make([]string, 20)
	for i := range keys {
		keys[i] = fmt.Sprintf("u%02d", i)
	}
	manifest, wavDir := corpus(t, keys...)

	// 前面的记录更慢，迫使结果乱序到达
	slow := fakeExtractor{name: "utmos", fn: func(ctx context.Context, p *metrics.Pair, rec *metrics.Record) error {
		var i int
		fmt.Sscanf(filepath.Base(p.DegPath), "u%02d.wav", &i)
		time.Sleep(time.Duration(20-i) * time.Millisecond)
		rec.UTMOS = ptr(float64(i))
		return nil
	}}

	var out bytes.Buffer
	_, err := New([]metrics.Extractor{slow}, Options{WavDir: wavDir, Workers: 4}).Run(context.Background(), strings.NewReader(manifest), &out)
	if err != nil {
		t.Fatal(err)
	}
	recs := decodeLines(t, out.String())
	if len(recs) != len(keys) {
		t.Fatalf("expected %d records, got %d", len(keys), len(recs))
	}
	for i, r := range recs {
		if keyOf(r) != keys[i] || r["utmos"] != float64(i) {
			t.Fatalf("record %d out of order: %v", i, r)
		}
	}
}

func TestRun_IsolatesMetricFailures(t *testing.T) {
	manifest, wavDir := corpus(t, "a", "b", "c")
	flaky := fakeExtractor{name: "pesq", fn: func(ctx context.Context, p *metrics.Pair, rec *metrics.Record) error {
		if strings.HasSuffix(p.DegPath, "b.wav") {
			return &metrics.CollaboratorError{Metric: "pesq", Err: errors.New("device error")}
		}
		rec.PESQ = ptr(4)
		return nil
	}}
	mos := fakeExtractor{name: "utmos", fn: func(ctx context.Context, p *metrics.Pair, rec *metrics.Record) error {
		rec.UTMOS = ptr(3)
		return nil
	}}

	var out bytes.Buffer
	sum, err := New([]metrics.Extractor{flaky, mos}, Options{WavDir: wavDir}).Run(context.Background(), strings.NewReader(manifest), &out)
	if err != nil {
		t.Fatalf("per-record failure must not abort the run: %v", err)
	}
	recs := decodeLines(t, out.String())
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if _, ok := recs[1]["pesq"]; ok {
		t.Error("failed metric should be omitted")
	}
	if recs[1]["utmos"] != 3.0 {
		t.Error("other metrics of the failing record should still be computed")
	}
	if sum.Complete != 2 || sum.Partial != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRun_FailFast(t *testing.T) {
	manifest, wavDir := corpus(t, "a", "b", "c")
	failing := fakeExtractor{name: "mcd", fn: func(ctx context.Context, p *metrics.Pair, rec *metrics.Record) error {
		if strings.HasSuffix(p.DegPath, "b.wav") {
			return &metrics.CollaboratorError{Metric: "mcd", Err: errors.New("calculator crashed")}
		}
		rec.MCD = ptr(5)
		return nil
	}}

	var out bytes.Buffer
	_, err := New([]metrics.Extractor{failing}, Options{WavDir: wavDir, FailFast: true}).Run(context.Background(), strings.NewReader(manifest), &out)
	var ce *metrics.CollaboratorError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CollaboratorError, got %v", err)
	}
	recs := decodeLines(t, out.String())
	if len(recs) != 1 || keyOf(recs[0]) != "a" {
		t.Errorf("only records before the failure should be written, got %v", recs)
	}
}

func TestRun_MissingAudio(t *testing.T) {
	manifest, wavDir := corpus(t, "a", "b")
	os.Remove(filepath.Join(wavDir, "a.wav"))

	called := int32(0)
	ex := fakeExtractor{name: "utmos", fn: func(ctx context.Context, p *metrics.Pair, rec *metrics.Record) error {
		atomic.AddInt32(&called, 1)
		rec.UTMOS = ptr(2)
		return nil
	}}

	var out bytes.Buffer
	sum, err := New([]metrics.Extractor{ex}, Options{WavDir: wavDir}).Run(context.Background(), strings.NewReader(manifest), &out)
	if err != nil {
		t.Fatal(err)
	}
	recs := decodeLines(t, out.String())
	if len(recs) != 2 {
		t.Fatalf("every input line must produce an output line, got %d", len(recs))
	}
	if len(recs[0]) != 1 {
		t.Errorf("record with missing audio should only carry gen_wav, got %v", recs[0])
	}
	if called != 1 || sum.Failed != 1 {
		t.Errorf("called=%d summary=%+v", called, sum)
	}
}

func TestRun_RecordTimeout(t *testing.T) {
	manifest, wavDir := corpus(t, "a", "b")
	hang := fakeExtractor{name: "utmos", fn: func(ctx context.Context, p *metrics.Pair, rec *metrics.Record) error {
		if strings.HasSuffix(p.DegPath, "a.wav") {
			<-ctx.Done()
			return ctx.Err()
		}
		rec.UTMOS = ptr(4)
		return nil
	}}
	never := fakeExtractor{name: "mcd", fn: func(ctx context.Context, p *metrics.Pair, rec *metrics.Record) error {
		if ctx.Err() == nil {
			rec.MCD = ptr(1)
		}
		return ctx.Err()
	}}

	var out bytes.Buffer
	opts := Options{WavDir: wavDir, RecordTimeout: 50 * time.Millisecond}
	sum, err := New([]metrics.Extractor{hang, never}, opts).Run(context.Background(), strings.NewReader(manifest), &out)
	if err != nil {
		t.Fatalf("timeout must be a per-record failure: %v", err)
	}
	recs := decodeLines(t, out.String())
	if len(recs) != 2 || recs[1]["utmos"] != 4.0 || recs[1]["mcd"] != 1.0 {
		t.Fatalf("unexpected output %v", recs)
	}
	if _, ok := recs[0]["mcd"]; ok {
		t.Error("extractors after the timeout should not run")
	}
	if sum.Failed != 1 || sum.Complete != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRun_ManifestError(t *testing.T) {
	manifest, wavDir := corpus(t, "a")
	manifest += "{not json}\n"
	ok := fakeExtractor{name: "utmos", fn: func(context.Context, *metrics.Pair, *metrics.Record) error { return nil }}

	_, err := New([]metrics.Extractor{ok}, Options{WavDir: wavDir}).Run(context.Background(), strings.NewReader(manifest), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "第 2 行") {
		t.Errorf("expected manifest error on line 2, got %v", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	manifest, wavDir := corpus(t, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok := fakeExtractor{name: "utmos", fn: func(context.Context, *metrics.Pair, *metrics.Record) error { return nil }}

	_, err := New([]metrics.Extractor{ok}, Options{WavDir: wavDir}).Run(ctx, strings.NewReader(manifest), &bytes.Buffer{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRun_ResumeFromStore(t *testing.T) {
	manifest, wavDir := corpus(t, "a", "b", "c")
	st, err := store.Open(filepath.Join(t.TempDir(), "ttseval.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	runID := store.NewRunID()
	st.CreateRun(runID, "manifest.jsonl", "")

	var calls int32
	broken := true
	ex := fakeExtractor{name: "utmos", fn: func(ctx context.Context, p *metrics.Pair, rec *metrics.Record) error {
		atomic.AddInt32(&calls, 1)
		if broken && strings.HasSuffix(p.DegPath, "b.wav") {
			return errors.New("transient")
		}
		rec.UTMOS = ptr(3.5)
		return nil
	}}

	opts := Options{WavDir: wavDir, Store: st, RunID: runID}
	var first bytes.Buffer
	if _, err := New([]metrics.Extractor{ex}, opts).Run(context.Background(), strings.NewReader(manifest), &first); err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("first run calls = %d", calls)
	}

	broken = false
	atomic.StoreInt32(&calls, 0)
	opts.Resume = true
	var second bytes.Buffer
	sum, err := New([]metrics.Extractor{ex}, opts).Run(context.Background(), strings.NewReader(manifest), &second)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("only the incomplete record should be recomputed, calls = %d", calls)
	}
	if sum.Resumed != 2 || sum.Complete != 1 {
		t.Errorf("summary = %+v", sum)
	}

	recs := decodeLines(t, second.String())
	if len(recs) != 3 || keyOf(recs[1]) != "b" || recs[1]["utmos"] != 3.5 {
		t.Errorf("resumed output = %v", recs)
	}
	done, _ := st.Completed(runID)
	if len(done) != 3 {
		t.Errorf("all records should now be complete, got %d", len(done))
	}
}

func TestResult_EncodeNoEscaping(t *testing.T) {
	ref, hyp := "<a&b>", "你好"
	r := Result{GenWav: "out/x.wav", Record: metrics.Record{RefText: &ref, HypText: &hyp, WER: ptr(0)}}
	line, err := r.Encode()
	if err != nil {
		t.Fatal(err)
	}
	s := string(line)
	if !strings.Contains(s, `"ref_txt":"<a&b>"`) || !strings.Contains(s, `"hyp_txt":"你好"`) {
		t.Errorf("unexpected escaping: %s", s)
	}
	if !strings.HasPrefix(s, `{"gen_wav":"out/x.wav","wer":0,`) {
		t.Errorf("unexpected key order: %s", s)
	}
	if strings.HasSuffix(s, "\n") {
		t.Error("encoded line must not end with newline")
	}
}
