package offline

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// streamedSize is the data chunk size written by encoders that cannot
	// seek back, e.g. ffmpeg writing to a pipe.
	streamedSize = 0xFFFFFFFF

	// maxFmtChunk bounds the fmt chunk; WAVE_FORMAT_EXTENSIBLE needs 40.
	maxFmtChunk = 256

	// maxWAVData is the largest data chunk a RIFF header can describe.
	maxWAVData = math.MaxUint32 - 36
)

// ErrUnsupportedFormat is returned for audio the decoders cannot read.
var ErrUnsupportedFormat = errors.New("offline: unsupported audio format")

// PCM is decoded interleaved 16-bit audio.
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

type wavFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// readWAV decodes a RIFF/WAVE stream holding 16-bit PCM. Chunks other than
// "fmt " and "data" are skipped. A data chunk with a streamed, zero or
// overlong size is read to the end of the input; declared sizes are never
// preallocated.
func readWAV(r io.Reader) (PCM, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return PCM{}, fmt.Errorf("offline: read wav header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return PCM{}, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrUnsupportedFormat)
	}

	var (
		format  *wavFormat
		samples []int16
	)
	for samples == nil {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return PCM{}, fmt.Errorf("offline: wav has no data chunk: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size > maxFmtChunk {
				return PCM{}, fmt.Errorf("%w: fmt chunk of %d bytes", ErrUnsupportedFormat, size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return PCM{}, fmt.Errorf("offline: read fmt chunk: %w", err)
			}
			var f wavFormat
			if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, &f); err != nil {
				return PCM{}, fmt.Errorf("offline: parse fmt chunk: %w", err)
			}
			if f.AudioFormat != 1 || f.BitsPerSample != 16 {
				return PCM{}, fmt.Errorf("%w: wav format %d with %d bits, want 16-bit PCM",
					ErrUnsupportedFormat, f.AudioFormat, f.BitsPerSample)
			}
			if f.Channels == 0 || f.SampleRate == 0 {
				return PCM{}, fmt.Errorf("%w: wav declares no channels or sample rate", ErrUnsupportedFormat)
			}
			format = &f
		case "data":
			if format == nil {
				return PCM{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrUnsupportedFormat)
			}
			data := r
			if size != streamedSize && size != 0 {
				data = io.LimitReader(r, int64(size))
			}
			raw, err := io.ReadAll(data)
			if err != nil {
				return PCM{}, fmt.Errorf("offline: read samples: %w", err)
			}
			samples = make([]int16, len(raw)/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
			}
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return PCM{}, fmt.Errorf("offline: skip %q chunk: %w", id, err)
			}
		}
		if id == "fmt " && size%2 == 1 {
			if _, err := io.CopyN(io.Discard, r, 1); err != nil {
				return PCM{}, err
			}
		}
	}

	ch := int(format.Channels)
	samples = samples[:len(samples)/ch*ch]
	return PCM{Samples: samples, SampleRate: int(format.SampleRate), Channels: ch}, nil
}

// writeWAV encodes p as a canonical 44-byte header 16-bit PCM WAV.
func writeWAV(w io.Writer, p PCM) error {
	dataSize, err := wavDataSize(len(p.Samples))
	if err != nil {
		return err
	}

	header := struct {
		RIFF     [4]byte
		FileSize uint32
		WAVE     [4]byte
		FmtID    [4]byte
		FmtSize  uint32
		wavFormat
		DataID   [4]byte
		DataSize uint32
	}{
		RIFF:     [4]byte{'R', 'I', 'F', 'F'},
		FileSize: 36 + dataSize,
		WAVE:     [4]byte{'W', 'A', 'V', 'E'},
		FmtID:    [4]byte{'f', 'm', 't', ' '},
		FmtSize:  16,
		wavFormat: wavFormat{
			AudioFormat:   1,
			Channels:      uint16(p.Channels),
			SampleRate:    uint32(p.SampleRate),
			ByteRate:      uint32(p.SampleRate * p.Channels * 2),
			BlockAlign:    uint16(p.Channels * 2),
			BitsPerSample: 16,
		},
		DataID:   [4]byte{'d', 'a', 't', 'a'},
		DataSize: dataSize,
	}

	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("offline: write wav header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, p.Samples); err != nil {
		return fmt.Errorf("offline: write samples: %w", err)
	}
	return nil
}

// wavDataSize returns the data chunk size for n 16-bit samples.
func wavDataSize(n int) (uint32, error) {
	size := uint64(n) * 2
	if size > maxWAVData {
		return 0, fmt.Errorf("offline: %d bytes of audio exceed the 4 GiB WAV limit", size)
	}
	return uint32(size), nil
}
