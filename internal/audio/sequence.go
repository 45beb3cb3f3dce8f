// Package audio 负责音频文件解码、重采样和响度计算。
// 所有音频在进入评测前都被转换成单声道浮点序列。
package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sequence 单声道采样序列。同一次对齐中的两段序列采样率必须一致。
type Sequence struct {
	Samples    []float64
	SampleRate int
}

// Duration 返回音频时长。
func (s Sequence) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(s.Samples)) / float64(s.SampleRate) * float64(time.Second))
}

// Load 读取音频文件并转换为单声道序列，按扩展名选择解码器（.wav / .mp3）。
func Load(path string) (Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return Sequence{}, fmt.Errorf("打开音频文件失败: %w", err)
	}
	defer f.Close()

	var seq Sequence
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		seq, err = DecodeMP3(f)
	default:
		seq, err = DecodeWAV(f)
	}
	if err != nil {
		return Sequence{}, fmt.Errorf("解码 %s 失败: %w", path, err)
	}
	return seq, nil
}

// LoadAt 读取音频文件并重采样到 sampleRate。
func LoadAt(path string, sampleRate int) (Sequence, error) {
	seq, err := Load(path)
	if err != nil {
		return Sequence{}, err
	}
	return Resample(seq, sampleRate)
}
