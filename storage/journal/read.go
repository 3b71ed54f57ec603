package journal

import (
	"context"

	"github.com/pkg/errors"
	"github.com/thesues/flashjournal/internalerror"
	"github.com/thesues/flashjournal/metrics"
	"go.opencensus.io/stats"
)

// Read copies the next part of the committed blob into buf. Repeated calls
// stream the blob; once it has been delivered completely the next call
// returns internalerror.Empty and rewinds, so the call after that starts over.
func (j *Journal) Read(buf []byte) (Status, error) {
	if len(buf) == 0 {
		return Status{}, errors.Wrap(internalerror.InvalidParameter, "empty read buffer")
	}
	if err := j.checkReady(); err != nil {
		return Status{}, err
	}
	if j.state != Ready {
		return Status{}, j.busy()
	}
	if j.committed == 0 {
		return Status{}, internalerror.Empty
	}
	if j.delivered >= j.committed {
		j.rewind()
		return Status{}, internalerror.Empty
	}

	left := j.committed - j.delivered
	j.readSize = len(buf)
	if uint64(j.readSize) > left {
		j.readSize = int(left)
	}
	j.dst = buf
	j.step = stepRead
	return j.start(OpRead)
}

func (j *Journal) readDone() {
	j.readOffset += uint64(j.readSize)
	j.delivered += uint64(j.readSize)
	j.dst = nil
	j.step = stepIdle
	stats.Record(context.Background(), metrics.JournalMetric.DeliveredRead.M(int64(j.readSize)))
}

// Rewind moves the read cursor back to the start of the committed blob.
func (j *Journal) Rewind() error {
	if err := j.checkReady(); err != nil {
		return err
	}
	if j.state != Ready {
		return j.busy()
	}
	j.rewind()
	return nil
}
