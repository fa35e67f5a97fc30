// Package wav encodes captured [audio.Buffer] values as canonical RIFF/WAVE
// PCM16 files and decodes such files back into buffers.
//
// Encoding is hand-rolled because the layout is a fixed 44-byte header
// followed by little-endian samples. Decoding goes through go-audio/wav so
// that files produced elsewhere (extra chunks, WAVE_FORMAT_EXTENSIBLE) are
// accepted too.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"

	"github.com/MrWong99/scribehook/pkg/audio"
)

// HeaderSize is the size of the canonical PCM header written by [Encode].
const HeaderSize = 44

const bitsPerSample = 16

// ErrMalformed is returned by [Encode] when the buffer cannot be represented
// as a PCM16 WAV file.
var ErrMalformed = errors.New("wav: malformed audio buffer")

// Encode renders b as a PCM16 WAV file. Float samples are scaled by 32767 and
// clamped to the int16 range. The data chunk length is
// frameCount × channels × 2 bytes.
func Encode(b audio.Buffer) ([]byte, error) {
	if err := check(b); err != nil {
		return nil, err
	}

	pcm := b.PCM16()
	channels := b.Channels
	byteRate := b.SampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm) * 2

	buf := make([]byte, HeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(b.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[HeaderSize+i*2:], uint16(s))
	}
	return buf, nil
}

func check(b audio.Buffer) error {
	switch {
	case b.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrMalformed, b.SampleRate)
	case b.Channels <= 0 || b.Channels > math.MaxUint16:
		return fmt.Errorf("%w: channel count %d", ErrMalformed, b.Channels)
	case b.Samples != nil && b.Float != nil:
		return fmt.Errorf("%w: both int16 and float samples set", ErrMalformed)
	case b.Len()%b.Channels != 0:
		return fmt.Errorf("%w: %d samples do not divide into %d channels", ErrMalformed, b.Len(), b.Channels)
	case uint64(b.Len())*2+36 > math.MaxUint32:
		return fmt.Errorf("%w: %d samples exceed the RIFF size limit", ErrMalformed, b.Len())
	case uint64(b.SampleRate)*uint64(b.Channels)*2 > math.MaxUint32:
		return fmt.Errorf("%w: byte rate overflows", ErrMalformed)
	}
	return nil
}

// Header is the subset of the fmt and data chunks that callers inspect.
type Header struct {
	Channels      int
	SampleRate    int
	ByteRate      int
	BlockAlign    int
	BitsPerSample int
	DataLength    int
}

// ParseHeader reads the canonical 44-byte header produced by [Encode].
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("wav: header too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" ||
		string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return Header{}, errors.New("wav: not a canonical PCM WAV header")
	}
	return Header{
		Channels:      int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(data[24:28])),
		ByteRate:      int(binary.LittleEndian.Uint32(data[28:32])),
		BlockAlign:    int(binary.LittleEndian.Uint16(data[32:34])),
		BitsPerSample: int(binary.LittleEndian.Uint16(data[34:36])),
		DataLength:    int(binary.LittleEndian.Uint32(data[40:44])),
	}, nil
}

// Decode reads a 16-bit PCM WAV stream into an int16 [audio.Buffer].
func Decode(r io.ReadSeeker) (audio.Buffer, error) {
	d := gowav.NewDecoder(r)
	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("wav: decode: %w", err)
	}
	if d.WavAudioFormat != 1 {
		return audio.Buffer{}, fmt.Errorf("wav: unsupported audio format %d", d.WavAudioFormat)
	}
	if d.BitDepth != bitsPerSample {
		return audio.Buffer{}, fmt.Errorf("wav: unsupported bit depth %d", d.BitDepth)
	}
	return fromIntBuffer(pcm), nil
}

// ReadFile opens and decodes the WAV file at path.
func ReadFile(path string) (audio.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("wav: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

func fromIntBuffer(pcm *goaudio.IntBuffer) audio.Buffer {
	out := audio.Buffer{
		Format: audio.Format{
			SampleRate: pcm.Format.SampleRate,
			Channels:   pcm.Format.NumChannels,
			Encoding:   audio.EncodingInt16,
		},
		Samples: make([]int16, len(pcm.Data)),
	}
	for i, v := range pcm.Data {
		out.Samples[i] = int16(v)
	}
	return out
}
