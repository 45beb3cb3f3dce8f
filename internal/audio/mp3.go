package audio

import (
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 解码 MP3 数据。go-mp3 固定输出 16bit 小端双声道，这里合并为单声道。
func DecodeMP3(r io.Reader) (Sequence, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return Sequence{}, fmt.Errorf("创建 MP3 解码器失败: %w", err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return Sequence{}, fmt.Errorf("解码 MP3 失败: %w", err)
	}

	stereo := BytesToInt16(raw)
	mono := make([]float64, len(stereo)/2)
	for i := range mono {
		l, r := float64(stereo[2*i]), float64(stereo[2*i+1])
		mono[i] = (l + r) / 2 / 32768
	}
	return Sequence{Samples: mono, SampleRate: decoder.SampleRate()}, nil
}
