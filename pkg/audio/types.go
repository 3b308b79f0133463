package audio

import "time"

// Frame is a block of floating-point PCM samples at a known rate. Samples are
// interleaved when Channels > 1 and nominally lie in [-1, 1].
//
// Frames are treated as immutable once captured or decoded; producers hand
// ownership of Samples to the consumer.
type Frame struct {
	Samples []float32

	// SampleRate in Hz (16000 on the capture side, 24000 for coach playback).
	SampleRate int

	// Channels is the interleave factor of Samples (1 = mono).
	Channels int
}

// Format returns the sample rate and channel layout of the frame.
func (f Frame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Len returns the number of sample frames (samples per channel).
func (f Frame) Len() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}

// Duration returns the playback length of the frame. A frame with an unknown
// sample rate has zero duration.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Len()) * time.Second / time.Duration(f.SampleRate)
}

// EncodedChunk is one unit of audio in transport encoding: base64 of 16-bit
// little-endian PCM, tagged with a MIME type such as "audio/pcm;rate=16000".
type EncodedChunk struct {
	MIMEType string
	Data     string
}

// Empty reports whether the chunk carries no audio payload.
func (c EncodedChunk) Empty() bool { return c.Data == "" }
