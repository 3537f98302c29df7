package audio

import "math"

// maxInt16 as a float divisor for normalising sample amplitudes to [0, 1].
const maxInt16 = 32768.0

// Int16ToBytes encodes samples as little-endian S16LE PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToInt16 decodes little-endian S16LE PCM into samples. A trailing odd
// byte is ignored.
func BytesToInt16(pcm []byte) []int16 {
	n := len(pcm) / BytesPerSample
	out := make([]int16, n)
	for i := range n {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

// RMS returns the root-mean-square amplitude of the samples normalised to
// [0, 1]. Zero for an empty slice. This is the level-meter value reported on
// the live-capture side channel and by the gateway's "level" messages.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum/float64(len(samples))) / maxInt16
}

// PadTo returns samples extended with trailing zeros to exactly n samples.
// If samples already holds n or more, it is returned unchanged. The input
// slice is never mutated.
func PadTo(samples []int16, n int) []int16 {
	if len(samples) >= n {
		return samples
	}
	out := make([]int16, n)
	copy(out, samples)
	return out
}

// PCMDurationSeconds returns the play time in seconds of byteLen bytes of
// mono S16LE PCM at the given rate.
func PCMDurationSeconds(byteLen, rate int) float64 {
	if rate <= 0 {
		return 0
	}
	return float64(byteLen) / float64(BytesPerSample) / float64(rate)
}
