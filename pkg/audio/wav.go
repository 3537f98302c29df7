package audio

import (
	"fmt"
	"os"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DecodeWAVFile loads a RIFF/WAV file and returns its PCM as mono samples at
// targetRate, together with the resulting total duration. Stereo input is
// downmixed and non-target rates are resampled, so any 16-bit PCM WAV can
// feed a session. Failures return a [*DecodeError].
func DecodeWAVFile(path string, targetRate int) ([]int16, time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, &DecodeError{Path: path, Err: err}
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, 0, &DecodeError{Path: path, Err: fmt.Errorf("not a RIFF/WAV file")}
	}
	if dec.BitDepth != 16 {
		return nil, 0, &DecodeError{Path: path, Err: fmt.Errorf("unsupported bit depth %d, want 16", dec.BitDepth)}
	}
	if dec.NumChans != 1 && dec.NumChans != 2 {
		return nil, 0, &DecodeError{Path: path, Err: fmt.Errorf("unsupported channel count %d, want mono or stereo", dec.NumChans)}
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, &DecodeError{Path: path, Err: fmt.Errorf("read PCM: %w", err)}
	}

	pcm := intBufferToS16LE(buf)
	if buf.Format != nil && buf.Format.NumChannels == 2 {
		pcm = StereoToMono(pcm)
	}
	srcRate := int(dec.SampleRate)
	if srcRate != targetRate {
		pcm = ResampleMono16(pcm, srcRate, targetRate)
	}

	samples := BytesToInt16(pcm)
	if len(samples) == 0 {
		return nil, 0, &DecodeError{Path: path, Err: fmt.Errorf("file contains no samples")}
	}
	total := time.Duration(len(samples)) * time.Second / time.Duration(targetRate)
	return samples, total, nil
}

// intBufferToS16LE flattens a decoded buffer into interleaved little-endian
// 16-bit PCM, clamping out-of-range values.
func intBufferToS16LE(buf *gaudio.IntBuffer) []byte {
	out := make([]byte, len(buf.Data)*BytesPerSample)
	for i, v := range buf.Data {
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
