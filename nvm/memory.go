package nvm

import (
	"github.com/thesues/flashjournal/internalerror"
	"github.com/thesues/flashjournal/util"
)

// MemoryNVM emulates a NOR part in a byte slice.
type MemoryNVM struct {
	vec      []byte
	geometry Geometry
	closed   bool

	Erases   int
	Programs int
	Reads    int
}

func New(capacity uint64, programUnit, eraseUnit uint32) (*MemoryNVM, error) {
	geometry, err := NewGeometry(capacity, programUnit, eraseUnit)
	if err != nil {
		return nil, err
	}
	vec := make([]byte, capacity)
	util.Fill(vec, geometry.ErasedValue)
	return &MemoryNVM{vec: vec, geometry: geometry}, nil
}

func (memory *MemoryNVM) Geometry() Geometry {
	return memory.geometry
}

func (memory *MemoryNVM) Erase(offset, size uint64) error {
	if memory.closed {
		return internalerror.DeviceTerminated
	}
	if err := memory.geometry.CheckErase(offset, size); err != nil {
		return err
	}
	util.Fill(memory.vec[offset:offset+size], memory.geometry.ErasedValue)
	memory.Erases++
	return nil
}

func (memory *MemoryNVM) Program(offset uint64, data []byte) error {
	if memory.closed {
		return internalerror.DeviceTerminated
	}
	if err := memory.geometry.CheckProgram(offset, len(data)); err != nil {
		return err
	}
	cells := memory.vec[offset : offset+uint64(len(data))]
	for i, b := range data {
		cells[i] &= b
	}
	memory.Programs++
	return nil
}

func (memory *MemoryNVM) Read(offset uint64, buf []byte) (int, error) {
	if memory.closed {
		return 0, internalerror.DeviceTerminated
	}
	if err := memory.geometry.CheckRead(offset, len(buf)); err != nil {
		return 0, err
	}
	n := copy(buf, memory.vec[offset:])
	memory.Reads++
	return n, nil
}

func (memory *MemoryNVM) Sync() error {
	return nil
}

func (memory *MemoryNVM) Close() error {
	memory.closed = true
	return nil
}

//for local test
func (memory *MemoryNVM) AsBytes() []byte {
	return memory.vec
}
