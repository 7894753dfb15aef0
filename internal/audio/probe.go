package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

// Info describes a probed upload. Duration is zero when the container does
// not expose it without a full decode; the engine re-validates downstream.
type Info struct {
	Format     string
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   float64 // seconds
}

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// SupportedFormats lists the containers accepted at submission.
var SupportedFormats = []string{"wav", "mp3", "flac", "ogg", "m4a", "aiff"}

// Probe sniffs the container type and, for WAV, reads the header for sample
// rate, channel layout and duration.
func Probe(data []byte) (*Info, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("%w: file too short", ErrUnsupportedFormat)
	}

	switch {
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return probeWAV(data)
	case bytes.HasPrefix(data, []byte("ID3")), len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return &Info{Format: "mp3"}, nil
	case bytes.HasPrefix(data, []byte("fLaC")):
		return &Info{Format: "flac"}, nil
	case bytes.HasPrefix(data, []byte("OggS")):
		return &Info{Format: "ogg"}, nil
	case bytes.Equal(data[4:8], []byte("ftyp")):
		return &Info{Format: "m4a"}, nil
	case bytes.HasPrefix(data, []byte("FORM")):
		return &Info{Format: "aiff"}, nil
	}
	return nil, ErrUnsupportedFormat
}

func probeWAV(data []byte) (*Info, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if !dec.WasPCMAccessed() && dec.SampleRate == 0 {
		return nil, fmt.Errorf("%w: malformed wav header", ErrUnsupportedFormat)
	}

	info := &Info{
		Format:     "wav",
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if d, err := dec.Duration(); err == nil {
		info.Duration = d.Seconds()
	}
	if info.SampleRate == 0 || info.Channels == 0 {
		return nil, fmt.Errorf("%w: malformed wav header", ErrUnsupportedFormat)
	}
	return info, nil
}
