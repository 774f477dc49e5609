package audio

import (
	"errors"
	"fmt"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// Format identifies the payload encoding inside a voice frame.
type Format byte

const (
	// FormatPCM is raw little-endian signed 16-bit mono samples.
	FormatPCM Format = 0x00
	// FormatOpus is an Opus-encoded packet.
	FormatOpus Format = 0x01
)

const (
	// DefaultSampleRate is the sample rate of PCM voice frames, chosen
	// for speech quality at modest bandwidth.
	DefaultSampleRate uint32 = 16000

	// maxDecodedSamples bounds one decoded Opus frame: 120ms at 48kHz.
	maxDecodedSamples = 5760
)

// ErrEmptyFrame indicates a zero-length voice payload.
var ErrEmptyFrame = errors.New("empty audio frame")

// ErrUnknownFormat indicates an unrecognized format marker.
var ErrUnknownFormat = errors.New("unknown audio frame format")

// Codec encodes outgoing PCM frames and decodes incoming frames of
// either supported format. A Codec is not safe for concurrent use;
// give each voice session its own.
type Codec struct {
	decoder opus.Decoder
}

// NewCodec creates a codec with an Opus decoder ready for incoming
// frames.
func NewCodec() *Codec {
	logrus.WithField("sample_rate", DefaultSampleRate).Debug("audio codec created")
	return &Codec{decoder: opus.NewDecoder()}
}

// EncodeFrame serializes PCM samples into a voice frame payload.
func (c *Codec) EncodeFrame(pcm []int16) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyFrame
	}

	out := make([]byte, 1+len(pcm)*2)
	out[0] = byte(FormatPCM)
	for i, sample := range pcm {
		out[1+i*2] = byte(sample)
		out[1+i*2+1] = byte(sample >> 8)
	}
	return out, nil
}

// DecodeFrame parses a voice frame payload into PCM samples and their
// sample rate.
func (c *Codec) DecodeFrame(data []byte) ([]int16, uint32, error) {
	if len(data) < 2 {
		return nil, 0, ErrEmptyFrame
	}

	switch Format(data[0]) {
	case FormatPCM:
		return decodePCM(data[1:]), DefaultSampleRate, nil
	case FormatOpus:
		return c.decodeOpus(data[1:])
	default:
		return nil, 0, fmt.Errorf("%w: 0x%02x", ErrUnknownFormat, data[0])
	}
}

func decodePCM(data []byte) []int16 {
	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return pcm
}

func (c *Codec) decodeOpus(data []byte) ([]int16, uint32, error) {
	out := make([]byte, maxDecodedSamples*2)

	bandwidth, isStereo, err := c.decoder.Decode(data, out)
	if err != nil {
		logrus.WithError(err).Debug("opus decode failed")
		return nil, 0, fmt.Errorf("opus decode failed: %w", err)
	}

	sampleCount := len(out) / 2
	if isStereo {
		sampleCount /= 2
	}
	pcm := make([]int16, sampleCount)
	for i := 0; i < sampleCount; i++ {
		pcm[i] = int16(out[i*2]) | int16(out[i*2+1])<<8
	}

	return pcm, uint32(bandwidth.SampleRate()), nil
}
