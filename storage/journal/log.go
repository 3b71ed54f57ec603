package journal

import (
	"context"

	"github.com/pkg/errors"
	"github.com/thesues/flashjournal/internalerror"
	"github.com/thesues/flashjournal/metrics"
	"go.opencensus.io/stats"
)

// Log stages data as the next part of a new blob. The first call of a
// sequence erases the slot after the current one and writes its Head; later
// calls append. Nothing becomes visible to readers before Commit.
// With an asynchronous driver data must stay untouched until the Callback.
func (j *Journal) Log(data []byte) (Status, error) {
	if len(data) == 0 {
		return Status{}, errors.Wrap(internalerror.InvalidParameter, "empty log chunk")
	}
	if err := j.checkReady(); err != nil {
		return Status{}, err
	}

	size := uint64(len(data))
	switch j.state {
	case Ready:
		if size < j.layout.ProgramUnit.AsU64() {
			return Status{}, errors.Wrapf(internalerror.SmallRequest,
				"first chunk is %d bytes, program unit is %d", size, j.layout.ProgramUnit)
		}
		if size > j.layout.Capacity {
			return Status{}, errors.Wrapf(internalerror.BoundedCapacity,
				"chunk of %d bytes exceeds capacity %d", size, j.layout.Capacity)
		}
		j.openSequence(false)
		j.step = stepErase
	case Logging:
		end := j.layout.BodyStart(j.target) + j.layout.ProgramUnit.CeilAlign(j.logged+size)
		if end > j.tailOffset {
			return Status{}, errors.Wrapf(internalerror.BoundedCapacity,
				"%d more bytes would pass the tail, %d of %d staged", size, j.logged, j.layout.Capacity)
		}
		j.step = stepBody
	default:
		return Status{}, j.busy()
	}

	j.src = data
	j.chunk = len(data)
	j.logged += size
	stats.Record(context.Background(), metrics.JournalMetric.LoggedBytes.M(int64(size)))
	return j.start(OpLog)
}

// openSequence targets the slot after the current one.
func (j *Journal) openSequence(committing bool) {
	j.target = j.layout.NextSlot(j.current)
	j.bodyOffset = j.layout.BodyStart(j.target)
	j.tailOffset = j.layout.TailOffset(j.target)
	j.logged = 0
	j.staging.Reset()
	j.inflight = nil
	j.sequence = true
	j.committing = committing
}

/*
Body bytes are programmed in runs aligned to the program unit. A remainder
shorter than one unit waits in the staging buffer until the next chunk fills
it, or until Commit pads it with the erased value.
*/
func (j *Journal) issueBody() (bool, error) {
	pu := j.layout.ProgramUnit.AsU64()
	if j.staging.Len() > 0 {
		k := pu - uint64(j.staging.Len())
		if k > uint64(len(j.src)) {
			k = uint64(len(j.src))
		}
		j.staging.Append(j.src[:k])
		j.src = j.src[k:]
		if uint64(j.staging.Len()) < pu {
			j.inflight = nil
			return true, nil
		}
		j.inflight = j.staging.AsBytes()
		j.staged = true
		return j.program(j.bodyOffset, j.inflight)
	}

	run := j.layout.ProgramUnit.FloorAlign(uint64(len(j.src)))
	if run == 0 {
		j.staging.Append(j.src)
		j.src = nil
		j.inflight = nil
		return true, nil
	}
	j.inflight = j.src[:run]
	j.staged = false
	return j.program(j.bodyOffset, j.inflight)
}

func (j *Journal) bodyDone() {
	if j.inflight != nil {
		j.bodyOffset += uint64(len(j.inflight))
		if j.staged {
			j.staging.Reset()
		} else {
			j.src = j.src[len(j.inflight):]
		}
		j.inflight = nil
	}
	if len(j.src) > 0 {
		j.step = stepBody
	} else {
		j.src = nil
		j.step = stepIdle
	}
}
