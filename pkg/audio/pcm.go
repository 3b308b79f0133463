package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CaptureRate is the sample rate the capture path encodes at.
const CaptureRate = 16000

// PlaybackRate is the default sample rate of coach audio.
const PlaybackRate = 24000

// ErrMalformedChunk is returned by [Decode] when the payload cannot be
// interpreted as interleaved 16-bit PCM.
var ErrMalformedChunk = errors.New("audio: malformed chunk")

// PCMMIMEType returns the transport MIME type for 16-bit PCM at rate Hz.
func PCMMIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// ParseRate extracts the rate parameter from a MIME type produced by
// [PCMMIMEType]. It reports false when the type is not audio/pcm or carries
// no usable rate.
func ParseRate(mime string) (int, bool) {
	base, params, _ := strings.Cut(mime, ";")
	if !strings.EqualFold(strings.TrimSpace(base), "audio/pcm") {
		return 0, false
	}
	for p := range strings.SplitSeq(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(k, "rate") {
			continue
		}
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return 0, false
		}
		return rate, true
	}
	return 0, false
}

// quantize maps a float sample to int16: clamp to [-1, 1], scale by 32768,
// round, clamp to the int16 range. NaN maps to 0.
func quantize(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	q := math.Round(v * 32768)
	if q > math.MaxInt16 {
		q = math.MaxInt16
	}
	return int16(q)
}

// FloatToPCM16 converts float samples to 16-bit little-endian PCM bytes.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(quantize(s)))
	}
	return out
}

// PCM16ToFloat converts 16-bit little-endian PCM bytes to float samples in
// [-1, 1). A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out
}

// Encode converts a frame to its transport encoding. It never fails: an empty
// frame yields a chunk with empty data.
func Encode(frame Frame) EncodedChunk {
	chunk := EncodedChunk{MIMEType: PCMMIMEType(frame.SampleRate)}
	if len(frame.Samples) == 0 {
		return chunk
	}
	chunk.Data = base64.StdEncoding.EncodeToString(FloatToPCM16(frame.Samples))
	return chunk
}

// Decode is the inverse of [Encode]. The interleave factor and sample rate of
// the result are supplied by the caller and do not depend on the capture rate.
// An empty chunk decodes to an empty frame.
func Decode(chunk EncodedChunk, sampleRate, channels int) (Frame, error) {
	if sampleRate <= 0 || channels <= 0 {
		return Frame{}, fmt.Errorf("%w: invalid format %s", ErrMalformedChunk, formatString(sampleRate, channels))
	}
	frame := Frame{SampleRate: sampleRate, Channels: channels}
	if chunk.Data == "" {
		return frame, nil
	}
	pcm, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrMalformedChunk, err)
	}
	if len(pcm)%2 != 0 {
		return Frame{}, fmt.Errorf("%w: odd byte count %d", ErrMalformedChunk, len(pcm))
	}
	if n := len(pcm) / 2; n%channels != 0 {
		return Frame{}, fmt.Errorf("%w: %d samples not divisible by %d channels", ErrMalformedChunk, n, channels)
	}
	frame.Samples = PCM16ToFloat(pcm)
	return frame, nil
}
