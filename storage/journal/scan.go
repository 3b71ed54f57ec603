package journal

import (
	"bytes"
	"context"

	"github.com/google/btree"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/thesues/flashjournal/internalerror"
	"github.com/thesues/flashjournal/metrics"
	"go.opencensus.io/stats"
)

// SlotInfo describes a committed slot found on the device.
type SlotInfo struct {
	Slot       int
	Generation uint64
	Size       uint64
}

func (s SlotInfo) Less(than btree.Item) bool {
	return s.Generation < than.(SlotInfo).Generation
}

/*
The recovery scan reads the Tail of every slot, and the Head of each slot
whose Tail is intact. A slot is committed when both records decode, carry
the same generation and the size fits the slot. The committed slot with the
largest generation is current; if there is none the journal is empty.
*/
func (j *Journal) issueScanTail() (bool, error) {
	buf := j.scanBuf[:TAIL_RECORD_SIZE]
	return j.read(j.layout.TailOffset(j.scanSlot), buf)
}

func (j *Journal) issueScanHead() (bool, error) {
	buf := j.scanBuf[:HEAD_RECORD_SIZE]
	return j.read(j.layout.SlotBase(j.scanSlot), buf)
}

func (j *Journal) scanTailDone() error {
	tail, err := ReadTailFrom(bytes.NewReader(j.scanBuf[:TAIL_RECORD_SIZE]))
	if err != nil || tail.Size > j.layout.Capacity || tail.Generation == 0 {
		j.logger.WithField("slot", j.scanSlot).Debugf("no committed tail: %v", err)
		return j.nextScanSlot()
	}
	j.scanTail = tail
	j.step = stepScanHead
	return nil
}

func (j *Journal) scanHeadDone() error {
	head, err := ReadHeadFrom(bytes.NewReader(j.scanBuf[:HEAD_RECORD_SIZE]))
	if err != nil || head.Generation != j.scanTail.Generation {
		j.logger.WithField("slot", j.scanSlot).Warnf("tail without a matching head: %v", err)
		return j.nextScanSlot()
	}
	found := SlotInfo{Slot: j.scanSlot, Generation: head.Generation, Size: j.scanTail.Size}
	if old := j.candidates.ReplaceOrInsert(found); old != nil {
		return errors.Wrapf(internalerror.StorageCorrupted,
			"slots %d and %d both hold generation %d", old.(SlotInfo).Slot, found.Slot, found.Generation)
	}
	return j.nextScanSlot()
}

func (j *Journal) nextScanSlot() error {
	j.scanSlot++
	if j.scanSlot < j.layout.Slots {
		j.step = stepScanTail
		return nil
	}
	j.finishScan()
	return nil
}

func (j *Journal) finishScan() {
	j.step = stepIdle
	j.scanned = true
	if newest := j.candidates.Max(); newest != nil {
		s := newest.(SlotInfo)
		j.current = s.Slot
		j.generation = s.Generation
		j.committed = s.Size
	} else {
		j.makeEmpty()
	}
	j.rewind()
	j.logger.WithFields(logrus.Fields{
		"current":    j.current,
		"generation": j.generation,
		"size":       j.committed,
		"committed":  j.candidates.Len(),
	}).Info("journal recovered")
	stats.Record(context.Background(),
		metrics.JournalMetric.Recoveries.M(1),
		metrics.JournalMetric.CommittedSize.M(int64(j.committed)),
		metrics.JournalMetric.CurrentSlot.M(int64(j.current)))
}

// forget drops a slot from the committed set once it has been erased.
func (j *Journal) forget(slot int) {
	var victim btree.Item
	j.candidates.Ascend(func(i btree.Item) bool {
		if i.(SlotInfo).Slot == slot {
			victim = i
			return false
		}
		return true
	})
	if victim != nil {
		j.candidates.Delete(victim)
	}
}

// History lists the committed slots still on the device, newest first.
func (j *Journal) History() []SlotInfo {
	list := make([]SlotInfo, 0, j.candidates.Len())
	j.candidates.Descend(func(i btree.Item) bool {
		list = append(list, i.(SlotInfo))
		return true
	})
	return list
}
