// Package scoring 调用外部推理服务计算 PESQ、MCD 和 UTMOS。
//
// 服务端约定：POST 表单上传 WAV 文件，返回 {"score": <float>}。
//
//	/pesq   ref, deg      16kHz 感知语音质量
//	/mcd    ref, deg      梅尔倒谱失真，mode=dtw_sl
//	/utmos  deg           自然度 MOS 预测
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iabetor/ttseval/internal/audio"
)

// MCDMode 梅尔倒谱失真的对齐方式，带语速惩罚的 DTW。
const MCDMode = "dtw_sl"

// Client 评分服务 HTTP 客户端，可被多个 goroutine 共享。
type Client struct {
	base string
	c    *http.Client
}

// New 创建评分服务客户端。timeout 为 0 时使用 60 秒。
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		c:    &http.Client{Timeout: timeout},
	}
}

type scoreResp struct {
	Score *float64 `json:"score"`
	Error string   `json:"error,omitempty"`
}

// part 是一个待上传的表单文件。
type part struct {
	field string
	name  string
	open  func() (io.ReadCloser, error)
}

func seqPart(field string, seq audio.Sequence) part {
	return part{
		field: field,
		name:  field + ".wav",
		open: func() (io.ReadCloser, error) {
			data, err := audio.EncodeWAV(seq)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func filePart(field, path string) part {
	return part{
		field: field,
		name:  filepath.Base(path),
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// PESQ 计算宽带 PESQ。两段音频应已对齐并重采样到 16kHz。
func (h *Client) PESQ(ctx context.Context, ref, deg audio.Sequence) (float64, error) {
	return h.score(ctx, "/pesq", nil, seqPart("ref", ref), seqPart("deg", deg))
}

// MCD 计算梅尔倒谱失真，直接上传原始文件，由服务端完成分帧与对齐。
func (h *Client) MCD(ctx context.Context, refPath, degPath string) (float64, error) {
	return h.score(ctx, "/mcd", map[string]string{"mode": MCDMode},
		filePart("ref", refPath), filePart("deg", degPath))
}

// UTMOS 预测合成音频的 MOS 分。
func (h *Client) UTMOS(ctx context.Context, deg audio.Sequence) (float64, error) {
	return h.score(ctx, "/utmos", nil, seqPart("deg", deg))
}

func (h *Client) score(ctx context.Context, path string, fields map[string]string, parts ...part) (float64, error) {
	if h.base == "" {
		return 0, fmt.Errorf("评分服务地址未配置")
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return 0, err
		}
	}
	for _, p := range parts {
		if err := writePart(w, p); err != nil {
			return 0, err
		}
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+path, &b)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := h.c.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("%s %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}

	var out scoreResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("%s decode: %w", path, err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("%s: %s", path, out.Error)
	}
	if out.Score == nil || math.IsNaN(*out.Score) || math.IsInf(*out.Score, 0) {
		return 0, fmt.Errorf("%s: 返回的分数无效", path)
	}
	return *out.Score, nil
}

func writePart(w *multipart.Writer, p part) error {
	fw, err := w.CreateFormFile(p.field, p.name)
	if err != nil {
		return err
	}
	rc, err := p.open()
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = io.Copy(fw, rc)
	return err
}
