package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrNotWAV is returned for input without a RIFF/WAVE header.
var ErrNotWAV = errors.New("not a valid WAV file")

// WAVFormat describes the PCM payload of a WAV file.
type WAVFormat struct {
	AudioFormat   uint16 // 1 = PCM
	Channels      uint16
	SampleRateHz  uint32
	BitsPerSample uint16
}

// ReadWAV parses the RIFF header of r and returns the format and a reader
// positioned at the start of the "data" chunk, limited to its length.
// Only 16-bit mono PCM is accepted.
func ReadWAV(r io.Reader) (WAVFormat, io.Reader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVFormat{}, nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVFormat{}, nil, ErrNotWAV
	}

	var format WAVFormat
	var haveFormat bool
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return WAVFormat{}, nil, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return WAVFormat{}, nil, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			buf := make([]byte, size)
			if _, err := io.ReadFull(r, buf); err != nil {
				return WAVFormat{}, nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
			}
			format = WAVFormat{
				AudioFormat:   binary.LittleEndian.Uint16(buf[0:2]),
				Channels:      binary.LittleEndian.Uint16(buf[2:4]),
				SampleRateHz:  binary.LittleEndian.Uint32(buf[4:8]),
				BitsPerSample: binary.LittleEndian.Uint16(buf[14:16]),
			}
			haveFormat = true
		case "data":
			if !haveFormat {
				return WAVFormat{}, nil, fmt.Errorf("%w: data before fmt chunk", ErrNotWAV)
			}
			if format.AudioFormat != 1 || format.BitsPerSample != 16 || format.Channels != 1 {
				return format, nil, fmt.Errorf("unsupported WAV format %+v: need 16-bit mono PCM", format)
			}
			return format, io.LimitReader(r, size), nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return WAVFormat{}, nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
			}
		}
	}
}
