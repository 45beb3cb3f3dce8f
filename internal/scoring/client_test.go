package scoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iabetor/ttseval/internal/audio"
)

func testSeq(n int) audio.Sequence {
	s := make([]float64, n)
	for i := range s {
		s[i] = 0.1
	}
	return audio.Sequence{Samples: s, SampleRate: 16000}
}

func mustWAV(t *testing.T, seq audio.Sequence) []byte {
	t.Helper()
	data, err := audio.EncodeWAV(seq)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestPESQ_UploadsBothFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pesq" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		for _, field := range []string{"ref", "deg"} {
			f, _, err := r.FormFile(field)
			if err != nil {
				t.Errorf("missing %s: %v", field, err)
				continue
			}
			seq, err := audio.DecodeWAV(f)
			f.Close()
			if err != nil {
				t.Errorf("%s is not a WAV: %v", field, err)
			}
			if seq.SampleRate != 16000 || len(seq.Samples) != 800 {
				t.Errorf("%s: rate=%d len=%d", field, seq.SampleRate, len(seq.Samples))
			}
		}
		json.NewEncoder(w).Encode(map[string]float64{"score": 3.25})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	got, err := c.PESQ(context.Background(), testSeq(800), testSeq(800))
	if err != nil {
		t.Fatal(err)
	}
	if got != 3.25 {
		t.Errorf("PESQ = %f, want 3.25", got)
	}
}

func TestMCD_SendsFilesAndMode(t *testing.T) {
	dir := t.TempDir()
	refPath := filepath.Join(dir, "ref.wav")
	degPath := filepath.Join(dir, "utt1.wav")
	for _, p := range []string{refPath, degPath} {
		if err := os.WriteFile(p, mustWAV(t, testSeq(160)), 0644); err != nil {
			t.Fatal(err)
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if r.FormValue("mode") != MCDMode {
			t.Errorf("mode = %q", r.FormValue("mode"))
		}
		_, hdr, err := r.FormFile("deg")
		if err != nil {
			t.Errorf("missing deg: %v", err)
			return
		}
		if hdr.Filename != "utt1.wav" {
			t.Errorf("deg filename = %s", hdr.Filename)
		}
		w.Write([]byte(`{"score": 5.5}`))
	}))
	defer srv.Close()

	got, err := New(srv.URL, 0).MCD(context.Background(), refPath, degPath)
	if err != nil {
		t.Fatal(err)
	}
	if got != 5.5 {
		t.Errorf("MCD = %f", got)
	}

	if _, err := New(srv.URL, 0).MCD(context.Background(), filepath.Join(dir, "missing.wav"), degPath); err == nil {
		t.Error("expected error for missing reference file")
	}
}

func TestScore_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantSub string
	}{
		{"http error", http.StatusInternalServerError, "model crashed", "model crashed"},
		{"service error", http.StatusOK, `{"error": "too short"}`, "too short"},
		{"missing score", http.StatusOK, `{}`, "无效"},
		{"bad json", http.StatusOK, `not json`, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, time.Second).UTMOS(context.Background(), testSeq(100))
			if err == nil || !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("expected error containing %q, got %v", tt.wantSub, err)
			}
		})
	}
}

func TestScore_NoURL(t *testing.T) {
	if _, err := New("", 0).UTMOS(context.Background(), testSeq(10)); err == nil {
		t.Error("expected error for empty base URL")
	}
}

func TestScore_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := New(srv.URL, 0).UTMOS(ctx, testSeq(10)); err == nil {
		t.Error("expected timeout error")
	}
}
