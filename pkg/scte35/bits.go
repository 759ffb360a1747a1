package scte35

// bitReader reads MSB-first from a byte slice. Reads past the end set the
// overflow flag and return zero instead of panicking, so that truncated
// sections surface as a single error after decoding.
type bitReader struct {
	data     []byte
	bitPos   int
	overflow bool
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (r *bitReader) readBit() bool {
	if r.bitPos >= len(r.data)*8 {
		r.overflow = true
		return false
	}
	byteIdx := r.bitPos / 8
	bitIdx := 7 - (r.bitPos % 8)
	r.bitPos++
	return (r.data[byteIdx]>>uint(bitIdx))&1 == 1
}

func (r *bitReader) readUint8(n int) uint8   { return uint8(r.readUint64(n)) }
func (r *bitReader) readUint16(n int) uint16 { return uint16(r.readUint64(n)) }
func (r *bitReader) readUint32(n int) uint32 { return uint32(r.readUint64(n)) }

func (r *bitReader) readUint64(n int) uint64 {
	var val uint64
	for i := 0; i < n; i++ {
		val <<= 1
		if r.readBit() {
			val |= 1
		}
	}
	return val
}

func (r *bitReader) readBytes(n int) []byte {
	if n < 0 {
		r.overflow = true
		return nil
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(r.readUint64(8))
	}
	return out
}

func (r *bitReader) skip(n int) {
	r.bitPos += n
	if r.bitPos > len(r.data)*8 {
		r.overflow = true
	}
}
