package block

import (
	"github.com/pkg/errors"
	"github.com/thesues/flashjournal/internalerror"
)

const (
	MIN uint32 = 1
	MAX uint32 = 1 << 20
)

// BlockSize is a power-of-two unit of flash geometry: the program unit of
// a device or its erase unit.
type BlockSize uint32

func Min() BlockSize {
	bs, _ := NewBlockSize(MIN)
	return bs
}

func NewBlockSize(bs uint32) (BlockSize, error) {
	if bs < MIN || bs > MAX {
		return 0, errors.Wrapf(internalerror.InvalidInput, "blocksize %d is out of range", bs)
	}

	if bs&(bs-1) != 0 {
		return 0, errors.Wrapf(internalerror.InvalidInput, "blocksize %d is not a power of two", bs)
	}

	return BlockSize(bs), nil
}

func (bs BlockSize) CeilAlign(position uint64) uint64 {
	block_size := uint64(bs)
	return (position + block_size - 1) / block_size * block_size
}

func (bs BlockSize) FloorAlign(postion uint64) uint64 {
	block_size := uint64(bs)
	return postion / block_size * block_size
}

func (bs BlockSize) IsAligned(position uint64) bool {
	return position%uint64(bs) == 0
}

func (bs BlockSize) AsU32() uint32 {
	return uint32(bs)
}

func (bs BlockSize) AsU64() uint64 {
	return uint64(bs)
}

func (bs BlockSize) Contains(other BlockSize) bool {
	return uint64(bs) >= uint64(other) && uint64(bs)%uint64(other) == 0
}
