// Package codec writes the compact 32-byte-per-splat format consumed by
// web splat viewers.
//
// Record layout (little-endian, no header):
//
//	offset  size  field
//	0       12    position, 3 x float32
//	12      12    scale, 3 x float32
//	24      4     colour RGBA, 4 x uint8 (value*255, truncated)
//	28      4     rotation w,x,y,z, 4 x int8 (component*127, truncated)
package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/banshee-data/splat.report/internal/splat/scene"
)

// RecordSize is the encoded size of one splat.
const RecordSize = 32

// Params holds the packing scales.
type Params struct {
	ColorScale      float32 // [0,1] channel to uint8
	QuaternionScale float32 // unit component to int8
}

// DefaultParams returns the scales used by the .splat format.
func DefaultParams() Params {
	return Params{ColorScale: 255, QuaternionScale: 127}
}

// Record is the decoded form of one compact record.
type Record struct {
	Position [3]float32
	Scale    [3]float32
	RGBA     [4]uint8
	Rotation [4]int8
}

// AppendRecord appends the 32-byte encoding of s to dst.
func AppendRecord(dst []byte, s scene.Splat, p Params) []byte {
	for _, v := range s.Position {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	for _, v := range s.Scale {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	dst = append(dst,
		packUnit(s.Color[0], p.ColorScale),
		packUnit(s.Color[1], p.ColorScale),
		packUnit(s.Color[2], p.ColorScale),
		packUnit(s.Opacity, p.ColorScale),
	)
	for _, c := range s.Rotation {
		dst = append(dst, byte(packSigned(c, p.QuaternionScale)))
	}
	return dst
}

// Marshal encodes all splats into a single buffer of exactly
// RecordSize*len(splats) bytes.
func Marshal(splats []scene.Splat, p Params) []byte {
	buf := make([]byte, 0, RecordSize*len(splats))
	for _, s := range splats {
		buf = AppendRecord(buf, s, p)
	}
	return buf
}

// Encode streams the encoding of splats to w.
func Encode(w io.Writer, splats []scene.Splat, p Params) error {
	bw := bufio.NewWriterSize(w, 64*RecordSize*1024)
	rec := make([]byte, 0, RecordSize)
	for i, s := range splats {
		rec = AppendRecord(rec[:0], s, p)
		if _, err := bw.Write(rec); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// ReadRecords decodes a compact buffer.
func ReadRecords(data []byte) ([]Record, error) {
	if len(data)%RecordSize != 0 {
		return nil, fmt.Errorf("compact splat data is %d bytes, not a multiple of %d", len(data), RecordSize)
	}
	out := make([]Record, len(data)/RecordSize)
	for i := range out {
		b := data[i*RecordSize : (i+1)*RecordSize]
		r := &out[i]
		for k := 0; k < 3; k++ {
			r.Position[k] = math.Float32frombits(binary.LittleEndian.Uint32(b[k*4:]))
			r.Scale[k] = math.Float32frombits(binary.LittleEndian.Uint32(b[12+k*4:]))
		}
		copy(r.RGBA[:], b[24:28])
		for k := 0; k < 4; k++ {
			r.Rotation[k] = int8(b[28+k])
		}
	}
	return out, nil
}

// packUnit scales v and truncates toward zero. Out-of-range and NaN inputs
// saturate instead of relying on implementation-defined conversions.
func packUnit(v, scale float32) uint8 {
	x := v * scale
	switch {
	case x != x || x <= 0:
		return 0
	case x >= 255:
		return 255
	}
	return uint8(x)
}

func packSigned(v, scale float32) int8 {
	x := v * scale
	switch {
	case x != x:
		return 0
	case x <= -128:
		return -128
	case x >= 127:
		return 127
	}
	return int8(x)
}
