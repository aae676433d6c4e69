// Package wav wraps 16-bit PCM samples in a canonical RIFF/WAVE container.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the length of the canonical PCM WAV header.
const HeaderSize = 44

const bitsPerSample = 16

// Encode writes interleaved int16 samples with a minimal WAV header.
func Encode(w io.Writer, samples []int16, sampleRate int, channels int) error {
	if channels <= 0 {
		channels = 1
	}
	if sampleRate <= 0 {
		return fmt.Errorf("wav: invalid sample rate %d", sampleRate)
	}

	dataSize := 2 * len(samples)
	byteRate := sampleRate * channels * (bitsPerSample / 8)
	blockAlign := channels * (bitsPerSample / 8)

	header := make([]byte, HeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wav: write header: %w", err)
	}

	pcm := make([]byte, dataSize)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(s))
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("wav: write data: %w", err)
	}
	return nil
}

// Bytes returns the encoded WAV file in memory.
func Bytes(samples []int16, sampleRate int, channels int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(HeaderSize + 2*len(samples))
	if err := Encode(&buf, samples, sampleRate, channels); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
