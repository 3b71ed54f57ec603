package nvm

import (
	"fmt"
	"sync"

	"github.com/phf/go-queue/queue"
	"github.com/pkg/errors"
	"github.com/thesues/flashjournal/internalerror"
)

type Opcode int

const (
	OpInitialize Opcode = iota
	OpErase
	OpProgram
	OpRead
)

func (op Opcode) String() string {
	switch op {
	case OpInitialize:
		return "initialize"
	case OpErase:
		return "erase"
	case OpProgram:
		return "program"
	case OpRead:
		return "read"
	default:
		return fmt.Sprintf("opcode(%d)", int(op))
	}
}

// Completion reports the end of an operation that was accepted as pending.
type Completion func(op Opcode, err error)

// Info is what a driver reports about the device behind it.
type Info struct {
	Geometry
	Asynchronous bool
}

// Driver is the storage driver consumed by the journal.
//
// Every operation returns done == true when it finished inside the call; no
// completion follows in that case. done == false with a nil error means the
// request is pending and the Completion registered by Initialize will be
// invoked exactly once, never from inside the issuing call. Buffers handed to
// a pending Program or Read belong to the driver until the completion.
type Driver interface {
	Info() Info
	Initialize(cb Completion) (done bool, err error)
	Erase(offset, size uint64) (done bool, err error)
	Program(offset uint64, data []byte) (done bool, err error)
	Read(offset uint64, buf []byte) (done bool, err error)
}

// SyncDriver completes every operation inside the call.
type SyncDriver struct {
	dev Device
}

func NewSyncDriver(dev Device) *SyncDriver {
	return &SyncDriver{dev: dev}
}

func (d *SyncDriver) Info() Info {
	return Info{Geometry: d.dev.Geometry()}
}

func (d *SyncDriver) Initialize(cb Completion) (bool, error) {
	return true, nil
}

func (d *SyncDriver) Erase(offset, size uint64) (bool, error) {
	return true, d.dev.Erase(offset, size)
}

func (d *SyncDriver) Program(offset uint64, data []byte) (bool, error) {
	return true, d.dev.Program(offset, data)
}

func (d *SyncDriver) Read(offset uint64, buf []byte) (bool, error) {
	_, err := d.dev.Read(offset, buf)
	return true, err
}

type request struct {
	op     Opcode
	offset uint64
	size   uint64
	buf    []byte
}

// AsyncDriver queues requests and executes them in order on a worker
// goroutine; every completion is delivered from that goroutine.
type AsyncDriver struct {
	dev Device

	mu      sync.Mutex
	cond    *sync.Cond
	pending *queue.Queue
	cb      Completion
	started bool
	closed  bool
	done    chan struct{}
}

func NewAsyncDriver(dev Device) *AsyncDriver {
	d := &AsyncDriver{
		dev:     dev,
		pending: queue.New(),
		done:    make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *AsyncDriver) Info() Info {
	return Info{Geometry: d.dev.Geometry(), Asynchronous: true}
}

func (d *AsyncDriver) Initialize(cb Completion) (bool, error) {
	if cb == nil {
		return false, errors.Wrap(internalerror.InvalidParameter, "async driver needs a completion")
	}
	d.mu.Lock()
	d.cb = cb
	if !d.started {
		d.started = true
		go d.run()
	}
	d.mu.Unlock()
	return d.submit(request{op: OpInitialize})
}

func (d *AsyncDriver) Erase(offset, size uint64) (bool, error) {
	if err := d.dev.Geometry().CheckErase(offset, size); err != nil {
		return false, err
	}
	return d.submit(request{op: OpErase, offset: offset, size: size})
}

func (d *AsyncDriver) Program(offset uint64, data []byte) (bool, error) {
	if err := d.dev.Geometry().CheckProgram(offset, len(data)); err != nil {
		return false, err
	}
	return d.submit(request{op: OpProgram, offset: offset, buf: data})
}

func (d *AsyncDriver) Read(offset uint64, buf []byte) (bool, error) {
	if err := d.dev.Geometry().CheckRead(offset, len(buf)); err != nil {
		return false, err
	}
	return d.submit(request{op: OpRead, offset: offset, buf: buf})
}

func (d *AsyncDriver) submit(req request) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, internalerror.DeviceTerminated
	}
	if !d.started {
		return false, errors.Wrap(internalerror.Lifecycle, "async driver is not initialized")
	}
	d.pending.PushBack(req)
	d.cond.Signal()
	return false, nil
}

// Close stops the worker after the queued requests are served.
func (d *AsyncDriver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	d.cond.Broadcast()
	d.mu.Unlock()
	if started {
		<-d.done
	}
	return nil
}

func (d *AsyncDriver) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for d.pending.Len() == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.pending.Len() == 0 {
			d.mu.Unlock()
			return
		}
		req := d.pending.PopFront().(request)
		cb := d.cb
		d.mu.Unlock()

		err := d.execute(req)
		cb(req.op, err)
	}
}

func (d *AsyncDriver) execute(req request) error {
	switch req.op {
	case OpInitialize:
		return nil
	case OpErase:
		return d.dev.Erase(req.offset, req.size)
	case OpProgram:
		return d.dev.Program(req.offset, req.buf)
	case OpRead:
		_, err := d.dev.Read(req.offset, req.buf)
		return err
	default:
		return errors.Wrapf(internalerror.InvalidInput, "unknown opcode %v", req.op)
	}
}
