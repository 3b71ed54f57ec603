package journal

import (
	"github.com/pkg/errors"
	"github.com/thesues/flashjournal/block"
	"github.com/thesues/flashjournal/internalerror"
	"github.com/thesues/flashjournal/nvm"
)

const (
	DEFAULT_SLOTS = 4
	MIN_SLOTS     = 2
	MAX_SLOTS     = 64
)

/*
Each slot of the device is laid out as

	+------+--------------------------------+------+
	| Head | Body (up to Capacity bytes)    | Tail |
	+------+--------------------------------+------+

Head and Tail are padded to the program unit, so Capacity is a multiple of it.
*/
type Layout struct {
	Slots       int
	SlotSize    uint64
	HeadSize    uint64
	TailSize    uint64
	Capacity    uint64
	ProgramUnit block.BlockSize
}

func NewLayout(geometry nvm.Geometry, slots int) (Layout, error) {
	if slots < MIN_SLOTS || slots > MAX_SLOTS {
		return Layout{}, errors.Wrapf(internalerror.InvalidParameter,
			"slot count %d is out of [%d, %d]", slots, MIN_SLOTS, MAX_SLOTS)
	}
	pu := geometry.ProgramUnit
	slotSize := geometry.EraseUnit.FloorAlign(geometry.Capacity / uint64(slots))
	headSize := pu.CeilAlign(HEAD_RECORD_SIZE)
	tailSize := pu.CeilAlign(TAIL_RECORD_SIZE)
	if slotSize < headSize+tailSize+pu.AsU64() {
		return Layout{}, errors.Wrapf(internalerror.InvalidParameter,
			"device (%v) is too small for %d slots", geometry, slots)
	}
	return Layout{
		Slots:       slots,
		SlotSize:    slotSize,
		HeadSize:    headSize,
		TailSize:    tailSize,
		Capacity:    slotSize - headSize - tailSize,
		ProgramUnit: pu,
	}, nil
}

func (l Layout) SlotBase(slot int) uint64 {
	return uint64(slot) * l.SlotSize
}

func (l Layout) BodyStart(slot int) uint64 {
	return l.SlotBase(slot) + l.HeadSize
}

func (l Layout) TailOffset(slot int) uint64 {
	return l.SlotBase(slot) + l.SlotSize - l.TailSize
}

func (l Layout) NextSlot(slot int) int {
	return (slot + 1) % l.Slots
}
