package journal

import (
	"github.com/google/btree"
)

// Reset erases every slot. Afterwards the journal is empty and ready, and
// a later Initialize finds nothing committed. An open log sequence is dropped.
// Slots are erased oldest first and the current slot last, so an interrupted
// reset still recovers the current blob rather than an older one.
func (j *Journal) Reset() (Status, error) {
	if err := j.checkReady(); err != nil {
		return Status{}, err
	}
	if j.state != Ready && j.state != Logging {
		return Status{}, j.busy()
	}
	j.sequence = false
	j.resetSlot = 0
	j.step = stepResetErase
	return j.start(OpReset)
}

func (j *Journal) resetTarget() int {
	return (j.current + 1 + j.resetSlot) % j.layout.Slots
}

func (j *Journal) resetEraseDone() {
	j.forget(j.resetTarget())
	j.resetSlot++
	if j.resetSlot < j.layout.Slots {
		j.step = stepResetErase
		return
	}
	j.candidates = btree.New(2)
	j.makeEmpty()
	j.step = stepIdle
	j.logger.Info("journal reset")
}
