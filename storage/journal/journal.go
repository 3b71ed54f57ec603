package journal

import (
	"context"

	"github.com/google/btree"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/thesues/flashjournal/block"
	"github.com/thesues/flashjournal/internalerror"
	"github.com/thesues/flashjournal/metrics"
	"github.com/thesues/flashjournal/nvm"
	"go.opencensus.io/stats"
)

// Callback reports the outcome of a call that returned a pending Status.
// n is the byte count of a read or log chunk, the committed size for
// initialize and commit, and 0 for reset.
type Callback func(op Op, n int, err error)

// Status is the synchronous answer of an accepted call.
type Status struct {
	// Pending means the result will arrive through the Callback.
	Pending bool
	// N is the result of a call that completed synchronously, with the
	// same meaning as the n of a Callback.
	N int
}

type JournalInfo struct {
	Capacity      uint64
	ProgramUnit   uint32
	CommittedSize uint64
	Slots         int
	SlotSize      uint64
	CurrentSlot   int
	Generation    uint64
}

type Option func(*Journal)

func WithSlots(n int) Option {
	return func(j *Journal) {
		j.slots = n
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(j *Journal) {
		j.logger = l
	}
}

/*
Journal keeps one blob on a flash device. It is not safe for concurrent use:
exactly one call may be in flight, and the next call must wait for the
previous one to complete, either synchronously or through the Callback.
Completions of an asynchronous driver run on the driver's goroutine.
*/
type Journal struct {
	driver nvm.Driver
	info   nvm.Info
	layout Layout
	cb     Callback
	slots  int
	logger *logrus.Entry

	state   State
	step    step
	lastOp  Op
	waiting bool
	scanned bool

	current    int
	generation uint64
	committed  uint64

	// write sequence
	sequence   bool
	committing bool
	target     int
	bodyOffset uint64
	tailOffset uint64
	src        []byte
	chunk      int
	logged     uint64
	staging    *block.AlignedBytes
	inflight   []byte
	staged     bool
	record     []byte

	// read cursor
	readOffset uint64
	delivered  uint64
	readSize   int
	dst        []byte

	// recovery scan
	scanSlot   int
	scanTail   Tail
	scanBuf    []byte
	candidates *btree.BTree

	resetSlot int
}

func New(driver nvm.Driver, cb Callback, opts ...Option) *Journal {
	j := &Journal{
		driver:     driver,
		cb:         cb,
		slots:      DEFAULT_SLOTS,
		logger:     logrus.WithField("component", "journal"),
		candidates: btree.New(2),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *Journal) State() State {
	return j.state
}

func (j *Journal) Layout() Layout {
	return j.layout
}

func (j *Journal) Info() JournalInfo {
	return JournalInfo{
		Capacity:      j.layout.Capacity,
		ProgramUnit:   j.layout.ProgramUnit.AsU32(),
		CommittedSize: j.committed,
		Slots:         j.layout.Slots,
		SlotSize:      j.layout.SlotSize,
		CurrentSlot:   j.current,
		Generation:    j.generation,
	}
}

// Initialize computes the slot layout, initializes the driver and runs the
// recovery scan. It may be called again at any time no request is in
// flight, which is how a caller recovers from a failed call.
func (j *Journal) Initialize() (Status, error) {
	if j.driver == nil {
		return Status{}, errors.Wrap(internalerror.InvalidParameter, "no storage driver")
	}
	if j.waiting {
		return Status{}, j.busy()
	}
	j.info = j.driver.Info()
	if j.info.Asynchronous && j.cb == nil {
		return Status{}, errors.Wrap(internalerror.InvalidParameter, "asynchronous driver needs a callback")
	}
	layout, err := NewLayout(j.info.Geometry, j.slots)
	if err != nil {
		return Status{}, err
	}

	*j = Journal{
		driver:     j.driver,
		info:       j.info,
		layout:     layout,
		cb:         j.cb,
		slots:      j.slots,
		logger:     j.logger,
		candidates: btree.New(2),
		staging:    block.NewAlignedBytes(0, layout.ProgramUnit),
		scanBuf:    make([]byte, TAIL_RECORD_SIZE),
	}
	j.makeEmpty()
	j.logger.WithFields(logrus.Fields{
		"slots":     layout.Slots,
		"slot_size": layout.SlotSize,
		"capacity":  layout.Capacity,
		"async":     j.info.Asynchronous,
	}).Debug("initializing journal")

	j.step = stepDriverInit
	return j.start(OpInitialize)
}

func (j *Journal) makeEmpty() {
	j.current = j.layout.Slots - 1
	j.generation = 0
	j.committed = 0
	j.sequence = false
	j.rewind()
}

func (j *Journal) rewind() {
	j.delivered = 0
	j.readOffset = j.layout.BodyStart(j.current)
}

func (j *Journal) start(op Op) (Status, error) {
	j.lastOp = op
	done, err := j.advance()
	if err != nil {
		return Status{}, err
	}
	if !done {
		return Status{Pending: true}, nil
	}
	return Status{N: j.result()}, nil
}

// advance issues pipeline steps until one stays pending in the driver or
// the pipeline is finished. After a pending request is issued the control
// block belongs to the completion handler and must not be touched.
func (j *Journal) advance() (bool, error) {
	for j.step != stepIdle {
		j.state = j.step.state()
		done, err := j.issue()
		if err != nil {
			return false, j.fail(err)
		}
		if !done {
			return false, nil
		}
		if err = j.stepDone(); err != nil {
			return false, j.fail(err)
		}
	}
	if j.sequence {
		j.state = Logging
	} else {
		j.state = Ready
	}
	return true, nil
}

func (j *Journal) issue() (bool, error) {
	switch j.step {
	case stepDriverInit:
		return j.call(nvm.OpInitialize, func() (bool, error) {
			return j.driver.Initialize(j.onDriverComplete)
		})
	case stepScanTail:
		return j.issueScanTail()
	case stepScanHead:
		return j.issueScanHead()
	case stepErase:
		return j.erase(j.layout.SlotBase(j.target), j.layout.SlotSize)
	case stepHead:
		j.record = encodeRecord(Head{Generation: j.generation + 1}, j.layout.ProgramUnit, j.info.ErasedValue)
		return j.program(j.layout.SlotBase(j.target), j.record)
	case stepBody:
		return j.issueBody()
	case stepFlush:
		return j.issueFlush()
	case stepTail:
		return j.issueTail()
	case stepRead:
		return j.read(j.readOffset, j.dst[:j.readSize])
	case stepResetErase:
		return j.erase(j.layout.SlotBase(j.resetTarget()), j.layout.SlotSize)
	default:
		return false, errors.Wrapf(internalerror.InternalInconsistency, "no request for step %d", j.step)
	}
}

// stepDone moves the pipeline past a step whose request has completed.
func (j *Journal) stepDone() error {
	switch j.step {
	case stepDriverInit:
		j.scanSlot = 0
		j.step = stepScanTail
	case stepScanTail:
		return j.scanTailDone()
	case stepScanHead:
		return j.scanHeadDone()
	case stepErase:
		j.forget(j.target)
		j.step = stepHead
	case stepHead:
		if j.committing {
			j.step = stepTail
		} else {
			j.step = stepBody
		}
	case stepBody:
		j.bodyDone()
	case stepFlush:
		j.bodyOffset += uint64(len(j.inflight))
		j.inflight = nil
		j.staging.Reset()
		j.step = stepTail
	case stepTail:
		j.promote()
	case stepRead:
		j.readDone()
	case stepResetErase:
		j.resetEraseDone()
	default:
		return errors.Wrapf(internalerror.InternalInconsistency, "completion in step %d", j.step)
	}
	return nil
}

func (j *Journal) onDriverComplete(op nvm.Opcode, err error) {
	if !j.waiting {
		j.logger.WithField("op", op).Warn("completion without a pending request")
		return
	}
	j.waiting = false
	if err != nil {
		j.notify(j.fail(driverError(op, err)))
		return
	}
	if err = j.stepDone(); err != nil {
		j.notify(j.fail(err))
		return
	}
	done, err := j.advance()
	if err != nil {
		j.notify(err)
		return
	}
	if done {
		j.notify(nil)
	}
}

func (j *Journal) notify(err error) {
	if j.cb == nil {
		return
	}
	n := 0
	if err == nil {
		n = j.result()
	}
	j.cb(j.lastOp, n, err)
}

func (j *Journal) result() int {
	switch j.lastOp {
	case OpRead:
		return j.readSize
	case OpLog:
		return j.chunk
	case OpInitialize, OpCommit:
		return int(j.committed)
	default:
		return 0
	}
}

// fail leaves the journal in the Error state; only Initialize gets it out.
func (j *Journal) fail(err error) error {
	j.logger.WithFields(logrus.Fields{
		"op":    j.lastOp,
		"state": j.state,
	}).Errorf("journal failed: %v", err)
	stats.Record(context.Background(), metrics.JournalMetric.Failures.M(1))
	j.state = Error
	j.step = stepIdle
	j.waiting = false
	j.sequence = false
	j.src = nil
	j.dst = nil
	j.inflight = nil
	return err
}

func (j *Journal) busy() error {
	return errors.Wrapf(internalerror.Lifecycle, "journal is %v", j.state)
}

func (j *Journal) checkReady() error {
	if !j.scanned {
		return errors.Wrap(internalerror.Lifecycle, "recovery scan has not completed")
	}
	return nil
}

// call wraps a driver request. waiting is raised before the request is
// issued because an asynchronous completion may run before the call returns.
func (j *Journal) call(op nvm.Opcode, issue func() (bool, error)) (bool, error) {
	j.waiting = true
	done, err := issue()
	if err != nil {
		j.waiting = false
		return false, driverError(op, err)
	}
	if done {
		j.waiting = false
	}
	return done, nil
}

func (j *Journal) erase(offset, size uint64) (bool, error) {
	stats.Record(context.Background(), metrics.DriverMetric.Erases.M(1))
	return j.call(nvm.OpErase, func() (bool, error) {
		return j.driver.Erase(offset, size)
	})
}

func (j *Journal) program(offset uint64, data []byte) (bool, error) {
	stats.Record(context.Background(),
		metrics.DriverMetric.Programs.M(1),
		metrics.DriverMetric.ProgramBytes.M(int64(len(data))))
	return j.call(nvm.OpProgram, func() (bool, error) {
		return j.driver.Program(offset, data)
	})
}

func (j *Journal) read(offset uint64, buf []byte) (bool, error) {
	stats.Record(context.Background(),
		metrics.DriverMetric.Reads.M(1),
		metrics.DriverMetric.ReadBytes.M(int64(len(buf))))
	return j.call(nvm.OpRead, func() (bool, error) {
		return j.driver.Read(offset, buf)
	})
}

func driverError(op nvm.Opcode, err error) error {
	return errors.Wrapf(internalerror.StorageDriver, "%v: %v", op, err)
}
