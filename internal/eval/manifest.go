package eval

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// 单行清单的最大长度。
const maxManifestLine = 1 << 20

// Utterance 一条待评测的语音对，读入后不再修改。
type Utterance struct {
	Key     string // 记录键，合成音频为 {wav_dir}/{key}.wav
	Text    string // 参考文本
	RefPath string // 参考（真人）音频
	DegPath string // 合成音频
}

// manifestLine 清单中的一行。gt_wav / out_key 是原始字段名，ref_wav / key 为别名。
type manifestLine struct {
	Text   string `json:"text"`
	GTWav  string `json:"gt_wav"`
	RefWav string `json:"ref_wav"`
	OutKey string `json:"out_key"`
	Key    string `json:"key"`
}

// ManifestReader 逐行读取 JSON Lines 清单，不缓存整个语料。
type ManifestReader struct {
	scanner *bufio.Scanner
	wavDir  string
	line    int
	seen    map[string]int
}

// NewManifestReader 创建清单读取器，wavDir 为合成音频目录。
func NewManifestReader(r io.Reader, wavDir string) *ManifestReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxManifestLine)
	return &ManifestReader{scanner: s, wavDir: wavDir, seen: make(map[string]int)}
}

// Line 返回最近读取的行号（从 1 开始）。
func (m *ManifestReader) Line() int { return m.line }

// Next 返回下一条记录，读完时返回 io.EOF。空行被跳过。
// 格式错误、缺少必填字段或记录键重复都会返回错误。
func (m *ManifestReader) Next() (Utterance, error) {
	for m.scanner.Scan() {
		m.line++
		raw := strings.TrimSpace(m.scanner.Text())
		if raw == "" {
			continue
		}

		var ml manifestLine
		if err := json.Unmarshal([]byte(raw), &ml); err != nil {
			return Utterance{}, fmt.Errorf("清单第 %d 行解析失败: %w", m.line, err)
		}

		u := Utterance{
			Key:     firstNonEmpty(ml.OutKey, ml.Key),
			Text:    ml.Text,
			RefPath: firstNonEmpty(ml.GTWav, ml.RefWav),
		}
		if u.Key == "" {
			return Utterance{}, fmt.Errorf("清单第 %d 行缺少 out_key", m.line)
		}
		if u.RefPath == "" {
			return Utterance{}, fmt.Errorf("清单第 %d 行缺少 gt_wav", m.line)
		}
		if prev, ok := m.seen[u.Key]; ok {
			return Utterance{}, fmt.Errorf("清单第 %d 行记录键 %q 与第 %d 行重复", m.line, u.Key, prev)
		}
		m.seen[u.Key] = m.line
		u.DegPath = filepath.Join(m.wavDir, u.Key+".wav")
		return u, nil
	}
	if err := m.scanner.Err(); err != nil {
		return Utterance{}, fmt.Errorf("读取清单失败: %w", err)
	}
	return Utterance{}, io.EOF
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
