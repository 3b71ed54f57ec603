package nvm

import (
	"github.com/pkg/errors"
	"github.com/thesues/flashjournal/internalerror"
)

// FaultyNVM wraps a device and simulates power loss or one-shot failures.
// It is meant for crash testing.
type FaultyNVM struct {
	Device

	budget  int // erases and programs left before the power cut, -1 for never
	powered bool
	inject  map[Opcode]error
}

func NewFaulty(dev Device) *FaultyNVM {
	return &FaultyNVM{
		Device:  dev,
		budget:  -1,
		powered: true,
		inject:  make(map[Opcode]error),
	}
}

// CutPowerAfter lets n more erases or programs through. The next one is torn:
// only its first half reaches the media, and the device stays dead until Reboot.
func (f *FaultyNVM) CutPowerAfter(n int) {
	f.budget = n
}

// FailNext makes the next operation of kind op fail with err without touching the media.
func (f *FaultyNVM) FailNext(op Opcode, err error) {
	f.inject[op] = err
}

func (f *FaultyNVM) Reboot() {
	f.budget = -1
	f.powered = true
	f.inject = make(map[Opcode]error)
}

func (f *FaultyNVM) Powered() bool {
	return f.powered
}

func (f *FaultyNVM) Erase(offset, size uint64) error {
	if err := f.check(OpErase); err != nil {
		return err
	}
	if f.tearing() {
		half := f.Geometry().EraseUnit.FloorAlign(size / 2)
		if half > 0 {
			f.Device.Erase(offset, half)
		}
		return internalerror.PowerLoss
	}
	return f.Device.Erase(offset, size)
}

func (f *FaultyNVM) Program(offset uint64, data []byte) error {
	if err := f.check(OpProgram); err != nil {
		return err
	}
	if f.tearing() {
		half := f.Geometry().ProgramUnit.FloorAlign(uint64(len(data) / 2))
		if half > 0 {
			f.Device.Program(offset, data[:half])
		}
		return internalerror.PowerLoss
	}
	return f.Device.Program(offset, data)
}

func (f *FaultyNVM) Read(offset uint64, buf []byte) (int, error) {
	if err := f.check(OpRead); err != nil {
		return 0, err
	}
	return f.Device.Read(offset, buf)
}

func (f *FaultyNVM) check(op Opcode) error {
	if !f.powered {
		return internalerror.PowerLoss
	}
	if err, ok := f.inject[op]; ok {
		delete(f.inject, op)
		return errors.Wrapf(err, "injected %v failure", op)
	}
	return nil
}

func (f *FaultyNVM) tearing() bool {
	if f.budget < 0 {
		return false
	}
	if f.budget == 0 {
		f.powered = false
		return true
	}
	f.budget--
	return false
}
