package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAV 格式码。
const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

var errNotWAV = errors.New("不是 RIFF/WAVE 文件")

// DecodeWAV 解析 RIFF/WAVE 数据，多声道取平均得到单声道。
// 支持 8 到 32 位整型 PCM（按容器宽度读取，如 20 位存放在 3 字节中）以及 32/64 位浮点。
func DecodeWAV(r io.ReadSeeker) (Sequence, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		if err := d.Err(); err != nil {
			return Sequence{}, fmt.Errorf("%w: %v", errNotWAV, err)
		}
		return Sequence{}, errNotWAV
	}
	if err := d.FwdToPCM(); err != nil {
		return Sequence{}, fmt.Errorf("定位 data 块失败: %w", err)
	}
	if d.PCMChunk == nil {
		return Sequence{}, errors.New("WAV 文件缺少 data 块")
	}
	payload, err := io.ReadAll(io.LimitReader(d.PCMChunk.R, int64(d.PCMSize)))
	if err != nil {
		return Sequence{}, fmt.Errorf("读取 data 块失败: %w", err)
	}

	samples, err := decodeFrames(payload, d.WavAudioFormat, int(d.NumChans), int(d.BitDepth))
	if err != nil {
		return Sequence{}, err
	}
	return Sequence{Samples: samples, SampleRate: int(d.SampleRate)}, nil
}

// containerWidth 每个采样占用的字节数，有效位数不足时向上取整。
func containerWidth(bits int) int {
	return (bits + 7) / 8
}

func decodeFrames(data []byte, format uint16, channels, bits int) ([]float64, error) {
	if channels <= 0 || bits <= 0 {
		return nil, fmt.Errorf("无效的 WAV 参数: channels=%d bits=%d", channels, bits)
	}
	if format == wavFormatExtensible {
		// 扩展格式按整型 PCM 处理
		format = wavFormatPCM
	}

	width := containerWidth(bits)
	var read func([]byte) float64
	switch {
	case format == wavFormatPCM && width == 1:
		read = func(b []byte) float64 { return (float64(b[0]) - 128) / 128 }
	case format == wavFormatPCM && width == 2:
		read = func(b []byte) float64 { return float64(int16(binary.LittleEndian.Uint16(b))) / 32768 }
	case format == wavFormatPCM && width == 3:
		read = func(b []byte) float64 { return float64(goaudio.Int24LETo32(b)) / (1 << 23) }
	case format == wavFormatPCM && width == 4:
		read = func(b []byte) float64 { return float64(int32(binary.LittleEndian.Uint32(b))) / (1 << 31) }
	case format == wavFormatFloat && width == 4:
		read = func(b []byte) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) }
	case format == wavFormatFloat && width == 8:
		read = func(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) }
	default:
		return nil, fmt.Errorf("不支持的 WAV 编码: format=%d bits=%d", format, bits)
	}

	frame := width * channels
	n := len(data) / frame
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			off := i*frame + c*width
			sum += read(data[off : off+width])
		}
		out[i] = sum / float64(channels)
	}
	return out, nil
}

// EncodeWAV 将序列编码为 16bit 单声道 PCM WAV。
func EncodeWAV(seq Sequence) ([]byte, error) {
	pcm := FloatToInt16(seq.Samples)
	data := make([]int, len(pcm))
	for i, s := range pcm {
		data[i] = int(s)
	}

	var ws memWriteSeeker
	enc := wav.NewEncoder(&ws, seq.SampleRate, 16, 1, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: seq.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("编码 WAV 失败: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("写入 WAV 头失败: %w", err)
	}
	return ws.buf, nil
}

// memWriteSeeker 内存中的 io.WriteSeeker，编码器写完数据后需要回写文件头。
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = m.pos
	case io.SeekEnd:
		base = len(m.buf)
	default:
		return 0, fmt.Errorf("无效的 whence: %d", whence)
	}
	pos := base + int(offset)
	if pos < 0 {
		return 0, errors.New("seek 到负偏移")
	}
	m.pos = pos
	return int64(pos), nil
}
