package block

// AlignedBytes is a byte buffer whose backing capacity is always a whole
// number of blocks, so it can be padded up to a block boundary in place.
type AlignedBytes struct {
	buf   []byte
	len   uint32
	block BlockSize
}

func NewAlignedBytes(size int, blockSize BlockSize) *AlignedBytes {
	capacity := blockSize.CeilAlign(uint64(size))
	if capacity == 0 {
		capacity = blockSize.AsU64()
	}
	return &AlignedBytes{
		buf:   make([]byte, capacity),
		len:   uint32(size),
		block: blockSize,
	}
}

func FromBytes(src []byte, blockSize BlockSize) *AlignedBytes {
	newAlignedBytes := NewAlignedBytes(len(src), blockSize)
	copy(newAlignedBytes.buf, src)
	return newAlignedBytes
}

func (ab *AlignedBytes) Capacity() uint64 {
	return uint64(len(ab.buf))
}

func (ab *AlignedBytes) BlockSize() BlockSize {
	return ab.block
}

func (ab *AlignedBytes) Align() *AlignedBytes {
	ab.len = uint32(ab.block.CeilAlign(uint64(ab.len)))
	return ab
}

// Pad aligns the buffer and fills the bytes past the old length with fill.
func (ab *AlignedBytes) Pad(fill byte) *AlignedBytes {
	old := ab.len
	ab.Align()
	for i := old; i < ab.len; i++ {
		ab.buf[i] = fill
	}
	return ab
}

func (ab *AlignedBytes) IsAligned() bool {
	return ab.block.IsAligned(uint64(ab.len))
}

func (ab *AlignedBytes) AsBytes() []byte {
	return ab.buf[:ab.len]
}

func (ab *AlignedBytes) Resize(newLen uint32) {
	if uint64(newLen) > uint64(len(ab.buf)) {
		newBuf := make([]byte, ab.block.CeilAlign(uint64(newLen)))
		copy(newBuf, ab.buf[:ab.len])
		ab.buf = newBuf
	}
	ab.len = newLen
}

func (ab *AlignedBytes) AlignResize(newLen uint32) {
	ab.Resize(newLen)
	ab.Align()
}

// Append copies p to the end of the buffer, growing it if needed.
func (ab *AlignedBytes) Append(p []byte) {
	old := ab.len
	ab.Resize(old + uint32(len(p)))
	copy(ab.buf[old:], p)
}

func (ab *AlignedBytes) Len() uint32 {
	return ab.len
}

func (ab *AlignedBytes) Truncate(len uint32) {
	if len < ab.len {
		ab.len = len
	}
}

// Reset empties the buffer but keeps its backing memory.
func (ab *AlignedBytes) Reset() {
	ab.len = 0
}
