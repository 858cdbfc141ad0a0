package audio

import (
	"encoding/binary"
	"math"
)

// Resampler converts a mono PCM16 little-endian stream between sample
// rates by linear interpolation. It keeps the last sample and the
// fractional read position between chunks so chunk edges line up. Not
// safe for concurrent use.
type Resampler struct {
	from, to int
	pos      int // next output position in 1/to input samples; 0 is the first buffered sample

	prev   int16
	primed bool
	carry  []byte // odd trailing byte of the last chunk
}

// NewResampler returns nil when the rates match or are invalid; a nil
// Resampler passes data through.
func NewResampler(fromRate, toRate int) *Resampler {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return nil
	}
	return &Resampler{from: fromRate, to: toRate}
}

// Bytes resamples the next chunk. The last input sample is held back
// until the following chunk arrives.
func (r *Resampler) Bytes(chunk []byte) []byte {
	if r == nil {
		return chunk
	}
	if len(r.carry) > 0 {
		chunk = append(r.carry, chunk...)
		r.carry = nil
	}
	if len(chunk)%2 == 1 {
		r.carry = []byte{chunk[len(chunk)-1]}
		chunk = chunk[:len(chunk)-1]
	}
	n := len(chunk) / 2
	if n == 0 {
		return nil
	}

	buf := make([]int16, 0, n+1)
	if r.primed {
		buf = append(buf, r.prev)
	}
	for i := 0; i < n; i++ {
		buf = append(buf, int16(binary.LittleEndian.Uint16(chunk[2*i:])))
	}

	last := len(buf) - 1
	out := make([]byte, 0, (len(buf)*r.to/r.from+1)*2)
	for {
		i := r.pos / r.to
		if i >= last {
			break
		}
		frac := float64(r.pos%r.to) / float64(r.to)
		a, b := float64(buf[i]), float64(buf[i+1])
		v := a + frac*(b-a)
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(math.Round(v))))
		r.pos += r.from
	}

	r.pos -= last * r.to
	r.prev = buf[last]
	r.primed = true
	return out
}
