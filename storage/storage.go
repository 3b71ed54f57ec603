package storage

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/thesues/flashjournal/internalerror"
	"github.com/thesues/flashjournal/nvm"
	"github.com/thesues/flashjournal/storage/journal"
)

const (
	DEFAULT_CHUNK_SIZE  = 4 << 10
	DEFAULT_READ_BUFFER = 4 << 10
)

type Options struct {
	Slots      int
	ChunkSize  int
	ReadBuffer int
	Async      bool
	Logger     *logrus.Entry
}

func DefaultOptions() Options {
	return Options{
		Slots:      journal.DEFAULT_SLOTS,
		ChunkSize:  DEFAULT_CHUNK_SIZE,
		ReadBuffer: DEFAULT_READ_BUFFER,
		Logger:     logrus.WithField("component", "storage"),
	}
}

type completion struct {
	n   int
	err error
}

/*
Storage is a blocking handle over one journal. Calls are serialized; a call
whose context ends while a request is pending returns early, and the handle
stays locked until the driver has delivered that completion.
*/
type Storage struct {
	sem     chan struct{}
	results chan completion
	journal *journal.Journal
	driver  nvm.Driver
	device  nvm.Device
	opts    Options
	logger  *logrus.Entry
}

// Open initializes a journal over driver and waits for the recovery scan.
func Open(ctx context.Context, driver nvm.Driver, opts Options) (*Storage, error) {
	if driver == nil {
		return nil, errors.Wrap(internalerror.InvalidParameter, "no storage driver")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "storage")
	}
	if opts.Slots == 0 {
		opts.Slots = journal.DEFAULT_SLOTS
	}
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = DEFAULT_READ_BUFFER
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DEFAULT_CHUNK_SIZE
	}
	//a first chunk below the program unit is refused by the journal
	pu := driver.Info().ProgramUnit
	opts.ChunkSize = int(pu.CeilAlign(uint64(opts.ChunkSize)))

	s := &Storage{
		sem:     make(chan struct{}, 1),
		results: make(chan completion, 1),
		driver:  driver,
		opts:    opts,
		logger:  opts.Logger,
	}
	s.journal = journal.New(driver, s.onComplete,
		journal.WithSlots(opts.Slots),
		journal.WithLogger(opts.Logger.WithField("component", "journal")))

	err := s.run(ctx, func(ss *session) error {
		_, err := ss.call(s.journal.Initialize)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenFile opens a flash image created by CreateFile. The slot count
// recorded in the image header overrides opts.Slots.
func OpenFile(ctx context.Context, path string, opts Options) (*Storage, error) {
	file, err := nvm.Open(path)
	if err != nil {
		return nil, err
	}
	//the layout of an image is fixed when it is created
	if slots := int(file.Header().Slots); slots != 0 {
		if opts.Slots != 0 && opts.Slots != slots {
			logrus.Warnf("%s was created with %d slots, ignoring %d", path, slots, opts.Slots)
		}
		opts.Slots = slots
	}
	return openDevice(ctx, file, opts)
}

// CreateFile creates an erased flash image at path and opens an empty journal on it.
func CreateFile(ctx context.Context, path string, capacity uint64, programUnit, eraseUnit uint32, opts Options) (*Storage, error) {
	if opts.Slots == 0 {
		opts.Slots = journal.DEFAULT_SLOTS
	}
	if opts.Slots < journal.MIN_SLOTS || opts.Slots > journal.MAX_SLOTS {
		return nil, errors.Wrapf(internalerror.InvalidParameter,
			"slot count %d is out of [%d, %d]", opts.Slots, journal.MIN_SLOTS, journal.MAX_SLOTS)
	}
	file, err := nvm.Create(path, capacity, programUnit, eraseUnit, uint16(opts.Slots))
	if err != nil {
		return nil, err
	}
	return openDevice(ctx, file, opts)
}

func openDevice(ctx context.Context, dev nvm.Device, opts Options) (*Storage, error) {
	var driver nvm.Driver
	if opts.Async {
		driver = nvm.NewAsyncDriver(dev)
	} else {
		driver = nvm.NewSyncDriver(dev)
	}
	store, err := Open(ctx, driver, opts)
	if err != nil {
		if c, ok := driver.(io.Closer); ok {
			c.Close()
		}
		dev.Close()
		return nil, err
	}
	store.device = dev
	return store, nil
}

func (s *Storage) onComplete(op journal.Op, n int, err error) {
	s.results <- completion{n: n, err: err}
}

// session is one serialized use of the handle. Once detached, the pending
// completion belongs to a drain goroutine and the journal must not be touched.
type session struct {
	store    *Storage
	ctx      context.Context
	detached bool
}

// call issues a journal call and waits for it when it went pending.
func (ss *session) call(fn func() (journal.Status, error)) (int, error) {
	if ss.detached {
		return 0, ss.ctx.Err()
	}
	st, err := fn()
	if err != nil || !st.Pending {
		return st.N, err
	}
	s := ss.store
	select {
	case r := <-s.results:
		return r.n, r.err
	case <-ss.ctx.Done():
		ss.detached = true
		go func() {
			<-s.results
			<-s.sem
		}()
		return 0, ss.ctx.Err()
	}
}

// run executes body while holding the handle.
func (s *Storage) run(ctx context.Context, body func(ss *session) error) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	ss := &session{store: s, ctx: ctx}
	err := body(ss)
	if !ss.detached {
		<-s.sem
	}
	return err
}

// recover re-initializes a journal left in Error, or left in the middle of a
// log sequence by a failed Put.
func (s *Storage) recover(ss *session) error {
	switch st := s.journal.State(); st {
	case journal.Error, journal.Logging:
		s.logger.WithField("state", st).Warn("re-initializing journal")
		_, err := ss.call(s.journal.Initialize)
		return err
	}
	return nil
}

// Get returns the whole committed blob. An empty journal yields an empty slice.
func (s *Storage) Get(ctx context.Context) ([]byte, error) {
	var out []byte
	err := s.run(ctx, func(ss *session) error {
		if err := s.recover(ss); err != nil {
			return err
		}
		if err := s.journal.Rewind(); err != nil {
			return err
		}
		out = make([]byte, 0, s.journal.Info().CommittedSize)
		buf := make([]byte, s.opts.ReadBuffer)
		for {
			n, err := ss.call(func() (journal.Status, error) {
				return s.journal.Read(buf)
			})
			if errors.Cause(err) == internalerror.Empty {
				return nil
			}
			if err != nil {
				return err
			}
			out = append(out, buf[:n]...)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put replaces the committed blob with everything read from r. The old blob
// stays current until the new one is committed; on failure it is kept.
// A non-empty blob shorter than the program unit of the device is refused
// with internalerror.SmallRequest.
func (s *Storage) Put(ctx context.Context, r io.Reader) (uint64, error) {
	var total uint64
	err := s.run(ctx, func(ss *session) error {
		if err := s.recover(ss); err != nil {
			return err
		}
		for {
			chunk := make([]byte, s.opts.ChunkSize)
			n, rerr := io.ReadFull(r, chunk)
			if n > 0 {
				_, err := ss.call(func() (journal.Status, error) {
					return s.journal.Log(chunk[:n])
				})
				if err != nil {
					s.abort(ss)
					return err
				}
				total += uint64(n)
			}
			if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
				break
			}
			if rerr != nil {
				s.abort(ss)
				return errors.Wrap(rerr, "failed to read blob")
			}
		}
		_, err := ss.call(s.journal.Commit)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.WithField("size", total).Debug("blob stored")
	return total, nil
}

// abort drops a half written sequence so the handle is usable again.
func (s *Storage) abort(ss *session) {
	if ss.detached || s.journal.State() != journal.Logging {
		return
	}
	if _, err := ss.call(s.journal.Initialize); err != nil {
		s.logger.Errorf("failed to drop log sequence: %v", err)
	}
}

// Reset erases the device. The journal is empty afterwards.
func (s *Storage) Reset(ctx context.Context) error {
	return s.run(ctx, func(ss *session) error {
		if s.journal.State() == journal.Error {
			if _, err := ss.call(s.journal.Initialize); err != nil {
				return err
			}
		}
		_, err := ss.call(s.journal.Reset)
		return err
	})
}

func (s *Storage) Info() journal.JournalInfo {
	var info journal.JournalInfo
	s.run(context.Background(), func(ss *session) error {
		info = s.journal.Info()
		return nil
	})
	return info
}

func (s *Storage) History() []journal.SlotInfo {
	var list []journal.SlotInfo
	s.run(context.Background(), func(ss *session) error {
		list = s.journal.History()
		return nil
	})
	return list
}

func (s *Storage) Geometry() nvm.Geometry {
	return s.driver.Info().Geometry
}

// NewReader streams the committed blob from its start. Reads of the returned
// reader are bounded by ctx.
func (s *Storage) NewReader(ctx context.Context) io.Reader {
	return &blobReader{
		store: s,
		ctx:   ctx,
		buf:   make([]byte, s.opts.ReadBuffer),
		fresh: true,
	}
}

type blobReader struct {
	store *Storage
	ctx   context.Context
	buf   []byte
	fresh bool
	eof   bool
}

func (r *blobReader) Read(p []byte) (int, error) {
	if r.eof {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	s := r.store
	var n int
	err := s.run(r.ctx, func(ss *session) error {
		if r.fresh {
			if err := s.recover(ss); err != nil {
				return err
			}
			if err := s.journal.Rewind(); err != nil {
				return err
			}
			r.fresh = false
		}
		size := len(p)
		if size > len(r.buf) {
			size = len(r.buf)
		}
		var err error
		n, err = ss.call(func() (journal.Status, error) {
			return s.journal.Read(r.buf[:size])
		})
		return err
	})
	if errors.Cause(err) == internalerror.Empty {
		r.eof = true
		return 0, io.EOF
	}
	if err != nil {
		return 0, err
	}
	copy(p, r.buf[:n])
	return n, nil
}

// Close stops an asynchronous driver and closes a device opened by OpenFile
// or CreateFile.
func (s *Storage) Close() error {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	if c, ok := s.driver.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return err
		}
	}
	if s.device != nil {
		if err := s.device.Sync(); err != nil {
			return err
		}
		return s.device.Close()
	}
	return nil
}
