// Package audiofile writes synthesized audio to disk and caches rendered
// segments across runs.
package audiofile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// PCMFormat describes raw audio samples.
type PCMFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultPCMFormat is 16-bit mono at 22050 Hz, matching the espeak output.
func DefaultPCMFormat() PCMFormat {
	return PCMFormat{
		SampleRate:    22050,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the PCM data rate.
func (f PCMFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// Duration returns the playback time of a PCM payload in this format.
func (f PCMFormat) Duration(dataLen int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(float64(dataLen) / float64(bps) * float64(time.Second))
}

const wavHeaderSize = 44

// EncodeWAV wraps raw PCM data in a RIFF/WAVE header.
func EncodeWAV(pcm []byte, format PCMFormat) ([]byte, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 || format.BitsPerSample <= 0 {
		return nil, fmt.Errorf("invalid PCM format: %+v", format)
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	byteRate := format.BytesPerSecond()
	blockAlign := format.Channels * format.BitsPerSample / 8

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16)) // PCM chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))  // PCM format tag
	binary.Write(buf, binary.LittleEndian, uint16(format.Channels))
	binary.Write(buf, binary.LittleEndian, uint32(format.SampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(format.BitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// IsWAV reports whether the payload already carries a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WAVE"))
}

// DecodeWAV extracts the PCM payload and format from a WAV file. Only
// uncompressed PCM is supported.
func DecodeWAV(data []byte) ([]byte, PCMFormat, error) {
	if !IsWAV(data) {
		return nil, PCMFormat{}, fmt.Errorf("not a WAV payload")
	}

	var format PCMFormat
	var pcm []byte
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, PCMFormat{}, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			tag := binary.LittleEndian.Uint16(data[body : body+2])
			if tag != 1 {
				return nil, PCMFormat{}, fmt.Errorf("unsupported WAV format tag %d", tag)
			}
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			format.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+size]
		}
		// Chunks are word aligned.
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	if format.SampleRate == 0 {
		return nil, PCMFormat{}, fmt.Errorf("WAV payload has no fmt chunk")
	}
	if pcm == nil {
		return nil, PCMFormat{}, fmt.Errorf("WAV payload has no data chunk")
	}
	return pcm, format, nil
}

// ConcatWAV joins multiple WAV segments into one file. Every segment must
// share the same format.
func ConcatWAV(segments [][]byte) ([]byte, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("no segments to join")
	}

	var format PCMFormat
	var pcm []byte
	for i, seg := range segments {
		p, f, err := DecodeWAV(seg)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		if i == 0 {
			format = f
		} else if f != format {
			return nil, fmt.Errorf("segment %d format %+v differs from %+v", i, f, format)
		}
		pcm = append(pcm, p...)
	}
	return EncodeWAV(pcm, format)
}
