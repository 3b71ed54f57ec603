package journal

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/thesues/flashjournal/internalerror"
	"github.com/thesues/flashjournal/metrics"
	"go.opencensus.io/stats"
)

// Commit makes the staged blob current by writing its Tail. Without a
// preceding Log it commits an empty blob into the next slot.
func (j *Journal) Commit() (Status, error) {
	if err := j.checkReady(); err != nil {
		return Status{}, err
	}
	switch j.state {
	case Logging:
		if err := j.checkStaged(); err != nil {
			return Status{}, j.fail(err)
		}
		j.committing = true
		if j.staging.Len() > 0 {
			j.step = stepFlush
		} else {
			j.step = stepTail
		}
	case Ready:
		j.openSequence(true)
		j.step = stepErase
	default:
		return Status{}, j.busy()
	}
	return j.start(OpCommit)
}

func (j *Journal) checkStaged() error {
	pu := j.layout.ProgramUnit
	start := j.layout.BodyStart(j.target)
	switch {
	case !j.sequence:
		return errors.Wrap(internalerror.InternalInconsistency, "logging without a sequence")
	case j.target == j.current:
		return errors.Wrapf(internalerror.InternalInconsistency, "staging into current slot %d", j.current)
	case j.tailOffset != j.layout.TailOffset(j.target):
		return errors.Wrapf(internalerror.InternalInconsistency, "tail offset %d does not belong to slot %d", j.tailOffset, j.target)
	case j.bodyOffset != start+pu.FloorAlign(j.logged):
		return errors.Wrapf(internalerror.InternalInconsistency,
			"body offset %d, expected %d for %d logged bytes", j.bodyOffset, start+pu.FloorAlign(j.logged), j.logged)
	case uint64(j.staging.Len()) != j.logged%pu.AsU64():
		return errors.Wrapf(internalerror.InternalInconsistency,
			"%d bytes staged, expected %d", j.staging.Len(), j.logged%pu.AsU64())
	case j.bodyOffset+pu.CeilAlign(uint64(j.staging.Len())) > j.tailOffset:
		return errors.Wrapf(internalerror.InternalInconsistency, "body runs past tail offset %d", j.tailOffset)
	}
	return nil
}

func (j *Journal) issueFlush() (bool, error) {
	j.inflight = j.staging.Pad(j.info.ErasedValue).AsBytes()
	return j.program(j.bodyOffset, j.inflight)
}

func (j *Journal) issueTail() (bool, error) {
	tail := Tail{Generation: j.generation + 1, Size: j.logged}
	j.record = encodeRecord(tail, j.layout.ProgramUnit, j.info.ErasedValue)
	return j.program(j.tailOffset, j.record)
}

// promote runs once the Tail write is confirmed; only here does the
// current slot move.
func (j *Journal) promote() {
	j.current = j.target
	j.generation++
	j.committed = j.logged
	j.candidates.ReplaceOrInsert(SlotInfo{Slot: j.current, Generation: j.generation, Size: j.committed})
	j.sequence = false
	j.committing = false
	j.record = nil
	j.rewind()
	j.step = stepIdle

	j.logger.WithFields(logrus.Fields{
		"slot":       j.current,
		"generation": j.generation,
		"size":       j.committed,
	}).Debug("blob committed")
	stats.Record(context.Background(),
		metrics.JournalMetric.Commits.M(1),
		metrics.JournalMetric.CommittedSize.M(int64(j.committed)),
		metrics.JournalMetric.CurrentSlot.M(int64(j.current)))
}
