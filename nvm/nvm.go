package nvm

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/thesues/flashjournal/block"
	"github.com/thesues/flashjournal/internalerror"
)

const (
	ERASED_VALUE byte = 0xFF
)

// Geometry describes the physical layout of a flash device.
type Geometry struct {
	Capacity    uint64
	ProgramUnit block.BlockSize
	EraseUnit   block.BlockSize
	ErasedValue byte
}

func NewGeometry(capacity uint64, programUnit, eraseUnit uint32) (Geometry, error) {
	pu, err := block.NewBlockSize(programUnit)
	if err != nil {
		return Geometry{}, errors.Wrap(err, "program unit")
	}
	eu, err := block.NewBlockSize(eraseUnit)
	if err != nil {
		return Geometry{}, errors.Wrap(err, "erase unit")
	}
	if !eu.Contains(pu) {
		return Geometry{}, errors.Wrapf(internalerror.InvalidInput,
			"erase unit %d is not a multiple of program unit %d", eraseUnit, programUnit)
	}
	if capacity == 0 || !eu.IsAligned(capacity) {
		return Geometry{}, errors.Wrapf(internalerror.InvalidInput,
			"capacity %d is not a multiple of erase unit %d", capacity, eraseUnit)
	}
	return Geometry{
		Capacity:    capacity,
		ProgramUnit: pu,
		EraseUnit:   eu,
		ErasedValue: ERASED_VALUE,
	}, nil
}

func (g Geometry) String() string {
	return fmt.Sprintf("capacity=%d program=%d erase=%d", g.Capacity, g.ProgramUnit, g.EraseUnit)
}

// Device is a raw flash part. Erase sets a range to the erased value,
// Program can only clear bits of erased cells, Read is byte addressable.
// All calls complete before returning.
type Device interface {
	Geometry() Geometry
	Erase(offset, size uint64) error
	Program(offset uint64, data []byte) error
	Read(offset uint64, buf []byte) (int, error)
	Sync() error
	Close() error
}

func (g Geometry) CheckErase(offset, size uint64) error {
	if size == 0 || !g.EraseUnit.IsAligned(offset) || !g.EraseUnit.IsAligned(size) {
		return errors.Wrapf(internalerror.InvalidInput, "erase is not aligned: offset %d, size %d", offset, size)
	}
	return g.checkRange(offset, size)
}

func (g Geometry) CheckProgram(offset uint64, size int) error {
	if size == 0 || !g.ProgramUnit.IsAligned(offset) || !g.ProgramUnit.IsAligned(uint64(size)) {
		return errors.Wrapf(internalerror.InvalidInput, "program is not aligned: offset %d, size %d", offset, size)
	}
	return g.checkRange(offset, uint64(size))
}

func (g Geometry) CheckRead(offset uint64, size int) error {
	return g.checkRange(offset, uint64(size))
}

func (g Geometry) checkRange(offset, size uint64) error {
	if offset > g.Capacity || size > g.Capacity-offset {
		return errors.Wrapf(internalerror.InvalidInput, "range [%d, %d) is beyond capacity %d", offset, offset+size, g.Capacity)
	}
	return nil
}
