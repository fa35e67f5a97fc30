package audio

import (
	"fmt"
	"strings"
	"time"
)

// Encoding identifies the in-memory sample representation of a stream.
type Encoding int

const (
	// EncodingInt16 carries signed 16-bit samples in [Frame.Samples].
	EncodingInt16 Encoding = iota

	// EncodingFloat32 carries normalised [-1, 1] samples in [Frame.Float].
	EncodingFloat32
)

// String returns the config name of the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingInt16:
		return "int16"
	case EncodingFloat32:
		return "float32"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// ParseEncoding maps a config value ("int16", "float32") to an [Encoding].
// The empty string selects [EncodingInt16].
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "", "int16":
		return EncodingInt16, nil
	case "float32":
		return EncodingFloat32, nil
	default:
		return 0, fmt.Errorf("audio: unknown sample format %q", s)
	}
}

// Format describes the sample rate, channel count and sample encoding of an
// audio stream.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
}

// String renders the format as e.g. "44100Hz/1ch/int16".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%s", f.SampleRate, f.Channels, f.Encoding)
}

// Validate reports whether the format can be captured and encoded.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("audio: channel count must be positive, got %d", f.Channels)
	}
	if f.Encoding != EncodingInt16 && f.Encoding != EncodingFloat32 {
		return fmt.Errorf("audio: unsupported encoding %s", f.Encoding)
	}
	return nil
}

// FrameStatus is a bit set of device conditions reported alongside a frame.
type FrameStatus uint8

const (
	// StatusInputOverflow means the device dropped input before this frame
	// was read.
	StatusInputOverflow FrameStatus = 1 << iota

	// StatusInputUnderflow means the device delivered fewer samples than
	// requested and the remainder was padded.
	StatusInputUnderflow

	// StatusDeviceError marks the last frame of a stream whose device failed.
	// Such a frame usually carries no samples; nothing follows it.
	StatusDeviceError
)

var frameStatusNames = [...]string{"input-overflow", "input-underflow", "device-error"}

// String lists the set flags separated by "|", or "ok".
func (s FrameStatus) String() string {
	if s == 0 {
		return "ok"
	}
	var names []string
	for i, n := range frameStatusNames {
		if s&(1<<i) != 0 {
			names = append(names, n)
		}
	}
	return strings.Join(names, "|")
}

// Overflowed reports whether s carries an overflow or underflow condition.
func (s FrameStatus) Overflowed() bool {
	return s&(StatusInputOverflow|StatusInputUnderflow) != 0
}

// Frame is one chunk of interleaved audio delivered by a [Stream]. Exactly one
// of Samples or Float is populated, depending on the stream's [Encoding].
// Frames are immutable once produced.
type Frame struct {
	// Seq is the monotonically increasing position of this frame within its
	// stream, starting at zero.
	Seq uint64

	Samples []int16
	Float   []float32

	// Status carries device conditions reported with this frame.
	Status FrameStatus

	// Timestamp is the capture offset relative to stream open.
	Timestamp time.Duration
}

// Len returns the number of interleaved samples in the frame.
func (f Frame) Len() int {
	if f.Float != nil {
		return len(f.Float)
	}
	return len(f.Samples)
}

// Buffer is the ordered concatenation of every frame captured during one
// recording, together with the format they were captured in.
type Buffer struct {
	Format

	// Samples holds int16 audio when Format.Encoding is EncodingInt16.
	Samples []int16

	// Float holds normalised audio when Format.Encoding is EncodingFloat32.
	Float []float32

	// Frames is the number of device frames that were concatenated.
	Frames int

	// Overflows counts frames that carried an overflow or underflow status.
	Overflows int

	// DeviceError is set when the stream ended on a [StatusDeviceError]
	// frame, meaning the capture stopped before it was asked to.
	DeviceError bool
}

// Len returns the total number of interleaved samples.
func (b Buffer) Len() int {
	if b.Float != nil {
		return len(b.Float)
	}
	return len(b.Samples)
}

// Empty reports whether no samples were captured.
func (b Buffer) Empty() bool { return b.Len() == 0 }

// FrameCount returns the number of sample frames (samples per channel).
func (b Buffer) FrameCount() int {
	if b.Channels <= 0 {
		return 0
	}
	return b.Len() / b.Channels
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.FrameCount()) * time.Second / time.Duration(b.SampleRate)
}
