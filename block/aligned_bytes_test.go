package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func bs(n uint32) BlockSize {
	b, err := NewBlockSize(n)
	if err != nil {
		panic(err)
	}
	return b
}

func TestAlignedBytesNew(t *testing.T) {
	//new
	aligned := NewAlignedBytes(10, bs(8))
	assert.Equal(t, uint32(10), aligned.Len())
	assert.Equal(t, uint64(16), aligned.Capacity())

	//from_bytes
	aligned = FromBytes([]byte{1, 2, 3}, bs(8))
	assert.Equal(t, uint32(3), aligned.Len())
	assert.Equal(t, uint64(8), aligned.Capacity())
	assert.Equal(t, []byte{1, 2, 3}, aligned.AsBytes())

	//empty still owns one block
	aligned = NewAlignedBytes(0, bs(8))
	assert.Equal(t, uint64(8), aligned.Capacity())
}

func TestAlignedBytesAlign(t *testing.T) {
	aligned := NewAlignedBytes(10, bs(512))
	assert.Equal(t, uint32(10), aligned.Len())

	aligned.Align()
	assert.Equal(t, uint32(512), aligned.Len())

	aligned.Align()
	assert.Equal(t, uint32(512), aligned.Len())
}

func TestAlignedBytesPad(t *testing.T) {
	aligned := FromBytes([]byte{1, 2, 3}, bs(4))
	aligned.Pad(0xFF)
	assert.Equal(t, []byte{1, 2, 3, 0xFF}, aligned.AsBytes())
	assert.True(t, aligned.IsAligned())
}

func TestAlignedBytesTruncate(t *testing.T) {
	aligned := NewAlignedBytes(10, bs(512))
	assert.Equal(t, uint32(10), aligned.Len())

	//success
	aligned.Truncate(2)
	assert.Equal(t, uint32(2), aligned.Len())

	//fail
	aligned.Truncate(3)
	assert.Equal(t, uint32(2), aligned.Len())
}

func TestAlignedBytesResize(t *testing.T) {
	aligned := NewAlignedBytes(10, bs(512))

	aligned.Resize(100)
	assert.Equal(t, uint32(100), aligned.Len())
	assert.Equal(t, uint64(512), aligned.Capacity())

	aligned.Resize(10)
	assert.Equal(t, uint32(10), aligned.Len())

	aligned.AlignResize(513)
	assert.Equal(t, uint32(1024), aligned.Len())
}

func TestAlignedBytesAppend(t *testing.T) {
	aligned := NewAlignedBytes(0, bs(4))
	aligned.Append([]byte("foo"))
	aligned.Append([]byte("bar"))
	assert.Equal(t, []byte("foobar"), aligned.AsBytes())
	assert.Equal(t, uint64(8), aligned.Capacity())

	aligned.Reset()
	assert.Equal(t, uint32(0), aligned.Len())
	aligned.Append([]byte("x"))
	assert.Equal(t, []byte("x"), aligned.AsBytes())
}
