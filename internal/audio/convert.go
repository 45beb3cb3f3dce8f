package audio

import (
	"encoding/binary"
	"math"
)

// FloatToInt16 将 [-1.0, 1.0] 范围的浮点样本转换为 PCM int16，超出范围的值被钳位。
func FloatToInt16(in []float64) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		out[i] = int16(s * math.MaxInt16)
	}
	return out
}

// BytesToInt16 将小端字节切片转换为 int16 样本，末尾不足两字节的部分被丢弃。
func BytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// Int16ToBytes 将 int16 样本转换为小端字节切片。
func Int16ToBytes(in []int16) []byte {
	out := make([]byte, len(in)*2)
	for i, s := range in {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// ToFloat32 转换为 sherpa-onnx 需要的 float32 样本。
func ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, s := range in {
		out[i] = float32(s)
	}
	return out
}

// FloatToPCM 便捷函数：浮点样本直接转成 16bit 小端 PCM 字节。
func FloatToPCM(in []float64) []byte {
	return Int16ToBytes(FloatToInt16(in))
}
