package journal

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thesues/flashjournal/internalerror"
	"github.com/thesues/flashjournal/nvm"
)

type result struct {
	op  Op
	n   int
	err error
}

type harness struct {
	t       *testing.T
	dev     *nvm.MemoryNVM
	faulty  *nvm.FaultyNVM
	async   *nvm.AsyncDriver
	j       *Journal
	results chan result
}

func newDevice(t *testing.T) *nvm.MemoryNVM {
	dev, err := nvm.New(4096, 4, 256)
	require.Nil(t, err)
	return dev
}

func newHarness(t *testing.T, dev *nvm.MemoryNVM, async bool, opts ...Option) *harness {
	h := &harness{
		t:       t,
		dev:     dev,
		faulty:  nvm.NewFaulty(dev),
		results: make(chan result, 1),
	}
	var driver nvm.Driver
	if async {
		h.async = nvm.NewAsyncDriver(h.faulty)
		driver = h.async
	} else {
		driver = nvm.NewSyncDriver(h.faulty)
	}
	h.j = New(driver, func(op Op, n int, err error) {
		h.results <- result{op, n, err}
	}, opts...)
	return h
}

func (h *harness) close() {
	if h.async != nil {
		h.async.Close()
	}
}

// wait turns a journal call into its final outcome, waiting for the
// callback when the call went pending.
func (h *harness) wait(st Status, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	if !st.Pending {
		return st.N, nil
	}
	select {
	case r := <-h.results:
		return r.n, r.err
	case <-time.After(5 * time.Second):
		h.t.Fatal("no completion")
	}
	return 0, nil
}

func (h *harness) init() {
	_, err := h.wait(h.j.Initialize())
	require.Nil(h.t, err, "%+v", err)
}

func (h *harness) log(data []byte) error {
	_, err := h.wait(h.j.Log(data))
	return err
}

func (h *harness) commit() error {
	_, err := h.wait(h.j.Commit())
	return err
}

func (h *harness) put(chunks ...[]byte) {
	for _, c := range chunks {
		require.Nil(h.t, h.log(c))
	}
	require.Nil(h.t, h.commit())
}

// readAll streams the blob with reads of bufSize until the journal says Empty.
func (h *harness) readAll(bufSize int) ([]byte, error) {
	var out []byte
	buf := make([]byte, bufSize)
	for {
		n, err := h.wait(h.j.Read(buf))
		if errors.Cause(err) == internalerror.Empty {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, buf[:n]...)
	}
}

func pattern(size int, seed byte) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = seed + byte(i*7)
	}
	return buf
}

func forBothDrivers(t *testing.T, fn func(t *testing.T, async bool)) {
	t.Run("sync", func(t *testing.T) { fn(t, false) })
	t.Run("async", func(t *testing.T) { fn(t, true) })
}

func TestFourSlotScenario(t *testing.T) {
	forBothDrivers(t, func(t *testing.T, async bool) {
		h := newHarness(t, newDevice(t), async)
		defer h.close()
		h.init()
		assert.Equal(t, uint64(1024), h.j.Info().SlotSize)
		assert.Equal(t, uint32(4), h.j.Info().ProgramUnit)

		blob := pattern(64, 1)
		assert.Nil(t, h.log(blob))
		assert.Nil(t, h.commit())
		assert.Equal(t, uint64(64), h.j.Info().CommittedSize)

		buf := make([]byte, 64)
		n, err := h.wait(h.j.Read(buf))
		assert.Nil(t, err)
		assert.Equal(t, 64, n)
		assert.Equal(t, blob, buf)

		programs := h.dev.Programs
		erases := h.dev.Erases
		err = h.log(pattern(2000, 2))
		assert.Equal(t, internalerror.BoundedCapacity, errors.Cause(err))
		assert.Equal(t, programs, h.dev.Programs)
		assert.Equal(t, erases, h.dev.Erases)

		got, err := h.readAll(64)
		assert.Nil(t, err)
		assert.Empty(t, got, "the cursor is at the end until an Empty rewinds it")
		got, err = h.readAll(64)
		assert.Nil(t, err)
		assert.Equal(t, blob, got)
	})
}

func TestRoundTripChunks(t *testing.T) {
	forBothDrivers(t, func(t *testing.T, async bool) {
		h := newHarness(t, newDevice(t), async)
		defer h.close()
		h.init()

		chunks := [][]byte{pattern(5, 1), pattern(3, 2), pattern(10, 3), pattern(1, 4), pattern(17, 5), pattern(4, 6)}
		var want []byte
		for _, c := range chunks {
			n, err := h.wait(h.j.Log(c))
			require.Nil(t, err)
			assert.Equal(t, len(c), n)
			assert.Equal(t, Logging, h.j.State())
			want = append(want, c...)
		}
		n, err := h.wait(h.j.Commit())
		require.Nil(t, err)
		assert.Equal(t, len(want), n)
		assert.Equal(t, Ready, h.j.State())

		for _, size := range []int{1, 3, 8, 40, 4096} {
			got, err := h.readAll(size)
			assert.Nil(t, err)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("read with %d byte buffer (-want +got):\n%s", size, diff)
			}
		}
	})
}

func TestReadRewindsAfterEmpty(t *testing.T) {
	h := newHarness(t, newDevice(t), false)
	h.init()
	blob := pattern(100, 9)
	h.put(blob)

	buf := make([]byte, 60)
	n, err := h.wait(h.j.Read(buf))
	assert.Nil(t, err)
	assert.Equal(t, 60, n)
	n, err = h.wait(h.j.Read(buf))
	assert.Nil(t, err)
	assert.Equal(t, 40, n)
	assert.Equal(t, blob[60:], buf[:40])

	_, err = h.wait(h.j.Read(buf))
	assert.Equal(t, internalerror.Empty, err)

	n, err = h.wait(h.j.Read(buf))
	assert.Nil(t, err)
	assert.Equal(t, 60, n)
	assert.Equal(t, blob[:60], buf)
}

func TestEmptyJournal(t *testing.T) {
	h := newHarness(t, newDevice(t), false)
	h.init()
	assert.Equal(t, uint64(0), h.j.Info().CommittedSize)
	assert.Equal(t, 3, h.j.Info().CurrentSlot)
	assert.Equal(t, Ready, h.j.State())

	_, err := h.j.Read(make([]byte, 8))
	assert.Equal(t, internalerror.Empty, err)
}

func TestCommitEmptyBlob(t *testing.T) {
	forBothDrivers(t, func(t *testing.T, async bool) {
		h := newHarness(t, newDevice(t), async)
		defer h.close()
		h.init()
		h.put(pattern(32, 1))

		assert.Nil(t, h.commit())
		info := h.j.Info()
		assert.Equal(t, uint64(0), info.CommittedSize)
		assert.Equal(t, 1, info.CurrentSlot)
		assert.Equal(t, uint64(2), info.Generation)

		_, err := h.wait(h.j.Read(make([]byte, 8)))
		assert.Equal(t, internalerror.Empty, err)

		//the empty blob survives a restart
		h2 := newHarness(t, h.dev, false)
		h2.init()
		assert.Equal(t, uint64(0), h2.j.Info().CommittedSize)
		assert.Equal(t, 1, h2.j.Info().CurrentSlot)
	})
}

func TestSmallRequest(t *testing.T) {
	h := newHarness(t, newDevice(t), false)
	h.init()
	programs := h.dev.Programs

	err := h.log([]byte{1, 2, 3})
	assert.Equal(t, internalerror.SmallRequest, errors.Cause(err))
	assert.Equal(t, programs, h.dev.Programs)
	assert.Equal(t, 0, h.dev.Erases)
	assert.Equal(t, Ready, h.j.State())

	//small chunks are fine once a sequence is open
	assert.Nil(t, h.log([]byte{1, 2, 3, 4}))
	assert.Nil(t, h.log([]byte{5}))
	assert.Nil(t, h.commit())
	got, _ := h.readAll(16)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, got)
}

func TestCapacityBoundary(t *testing.T) {
	h := newHarness(t, newDevice(t), false)
	h.init()
	capacity := int(h.j.Info().Capacity)

	err := h.log(pattern(capacity+1, 0))
	assert.Equal(t, internalerror.BoundedCapacity, errors.Cause(err))
	assert.Equal(t, 0, h.dev.Erases)

	require.Nil(t, h.log(pattern(capacity-4, 1)))
	programs := h.dev.Programs
	err = h.log(pattern(5, 2))
	assert.Equal(t, internalerror.BoundedCapacity, errors.Cause(err))
	assert.Equal(t, programs, h.dev.Programs)
	assert.Equal(t, Logging, h.j.State())

	//the sequence is still usable up to the exact capacity
	require.Nil(t, h.log(pattern(4, 3)))
	require.Nil(t, h.commit())

	got, err := h.readAll(100)
	assert.Nil(t, err)
	assert.Equal(t, capacity, len(got))
	assert.Equal(t, append(pattern(capacity-4, 1), pattern(4, 3)...), got)
}

func TestSlotRotation(t *testing.T) {
	forBothDrivers(t, func(t *testing.T, async bool) {
		h := newHarness(t, newDevice(t), async)
		defer h.close()
		h.init()

		slots := h.j.Info().Slots
		for i := 0; i < slots; i++ {
			h.put(pattern(8, byte(i)))
			assert.Equal(t, i, h.j.Info().CurrentSlot)
			assert.Equal(t, uint64(i+1), h.j.Info().Generation)
		}
		h.put(pattern(8, 100))
		assert.Equal(t, 0, h.j.Info().CurrentSlot)

		got, _ := h.readAll(8)
		assert.Equal(t, pattern(8, 100), got)
	})
}

func TestHistory(t *testing.T) {
	h := newHarness(t, newDevice(t), false)
	h.init()
	assert.Empty(t, h.j.History())

	for i := 0; i < 5; i++ {
		h.put(pattern(8+i*4, byte(i)))
	}
	history := h.j.History()
	require.Equal(t, 4, len(history))
	assert.Equal(t, SlotInfo{Slot: 0, Generation: 5, Size: 24}, history[0])
	assert.Equal(t, SlotInfo{Slot: 1, Generation: 2, Size: 12}, history[3])

	//a restart finds the same committed slots
	h2 := newHarness(t, h.dev, false)
	h2.init()
	assert.Equal(t, history, h2.j.History())
}

func TestRecoverAfterRestart(t *testing.T) {
	forBothDrivers(t, func(t *testing.T, async bool) {
		dev := newDevice(t)
		h := newHarness(t, dev, async)
		h.init()
		h.put(pattern(300, 1))
		h.put(pattern(200, 2), pattern(77, 3))
		h.close()

		h2 := newHarness(t, dev, async)
		defer h2.close()
		h2.init()
		info := h2.j.Info()
		assert.Equal(t, uint64(277), info.CommittedSize)
		assert.Equal(t, 1, info.CurrentSlot)
		assert.Equal(t, uint64(2), info.Generation)

		got, err := h2.readAll(50)
		assert.Nil(t, err)
		assert.Equal(t, append(pattern(200, 2), pattern(77, 3)...), got)
	})
}

// TestCrashSafety cuts the power at every erase or program of an update and
// checks that a restart only ever sees the old or the new blob in full.
func TestCrashSafety(t *testing.T) {
	forBothDrivers(t, func(t *testing.T, async bool) {
		old := pattern(150, 1)
		update := [][]byte{pattern(101, 2), pattern(3, 3), pattern(250, 4)}
		var fresh []byte
		for _, c := range update {
			fresh = append(fresh, c...)
		}

		for cut := 0; cut < 12; cut++ {
			t.Run(fmt.Sprintf("cut-%d", cut), func(t *testing.T) {
				dev := newDevice(t)
				h := newHarness(t, dev, async)
				h.init()
				h.put(pattern(40, 9))
				h.put(old)
				current := h.j.Info().CurrentSlot
				layout := h.j.Layout()
				before := append([]byte(nil), dev.AsBytes()[layout.SlotBase(current):layout.SlotBase(current)+layout.SlotSize]...)

				h.faulty.CutPowerAfter(cut)
				var err error
				for _, c := range update {
					if err = h.log(c); err != nil {
						break
					}
				}
				if err == nil {
					err = h.commit()
				}
				if err != nil {
					assert.Equal(t, internalerror.StorageDriver, errors.Cause(err))
					assert.Equal(t, Error, h.j.State())
				}
				h.close()

				after := dev.AsBytes()[layout.SlotBase(current) : layout.SlotBase(current)+layout.SlotSize]
				assert.True(t, bytes.Equal(before, after), "the committed slot was touched")

				h2 := newHarness(t, dev, async)
				defer h2.close()
				h2.init()
				got, rerr := h2.readAll(64)
				require.Nil(t, rerr)
				if err == nil {
					assert.Equal(t, fresh, got)
				} else {
					assert.Equal(t, old, got)
				}
			})
		}
	})
}

func TestLifecycle(t *testing.T) {
	h := newHarness(t, newDevice(t), false)

	_, err := h.j.Read(make([]byte, 4))
	assert.Equal(t, internalerror.Lifecycle, errors.Cause(err))
	_, err = h.j.Log(make([]byte, 4))
	assert.Equal(t, internalerror.Lifecycle, errors.Cause(err))
	_, err = h.j.Commit()
	assert.Equal(t, internalerror.Lifecycle, errors.Cause(err))
	_, err = h.j.Reset()
	assert.Equal(t, internalerror.Lifecycle, errors.Cause(err))
	assert.Equal(t, Uninitialized, h.j.State())

	h.init()
	h.put(pattern(8, 1))
	require.Nil(t, h.log(pattern(8, 2)))
	_, err = h.j.Read(make([]byte, 4))
	assert.Equal(t, internalerror.Lifecycle, errors.Cause(err))
}

func TestParameters(t *testing.T) {
	h := newHarness(t, newDevice(t), false)
	h.init()

	_, err := h.j.Log(nil)
	assert.Equal(t, internalerror.InvalidParameter, errors.Cause(err))
	_, err = h.j.Read(nil)
	assert.Equal(t, internalerror.InvalidParameter, errors.Cause(err))

	_, err = New(nil, nil).Initialize()
	assert.Equal(t, internalerror.InvalidParameter, errors.Cause(err))

	async := nvm.NewAsyncDriver(h.dev)
	defer async.Close()
	_, err = New(async, nil).Initialize()
	assert.Equal(t, internalerror.InvalidParameter, errors.Cause(err))

	_, err = New(nvm.NewSyncDriver(h.dev), nil, WithSlots(1)).Initialize()
	assert.Equal(t, internalerror.InvalidParameter, errors.Cause(err))
}

func TestDriverFailure(t *testing.T) {
	forBothDrivers(t, func(t *testing.T, async bool) {
		h := newHarness(t, newDevice(t), async)
		defer h.close()
		h.init()
		h.put(pattern(64, 1))

		h.faulty.FailNext(nvm.OpProgram, errors.New("program failed"))
		err := h.log(pattern(64, 2))
		assert.Equal(t, internalerror.StorageDriver, errors.Cause(err))
		assert.Equal(t, Error, h.j.State())

		_, err = h.j.Log(pattern(64, 2))
		assert.Equal(t, internalerror.Lifecycle, errors.Cause(err))

		//re-initializing re-establishes the committed blob
		h.init()
		got, err := h.readAll(64)
		assert.Nil(t, err)
		assert.Equal(t, pattern(64, 1), got)
	})
}

func TestScanFailure(t *testing.T) {
	h := newHarness(t, newDevice(t), false)
	h.faulty.FailNext(nvm.OpRead, errors.New("read failed"))
	_, err := h.j.Initialize()
	assert.Equal(t, internalerror.StorageDriver, errors.Cause(err))
	assert.Equal(t, Error, h.j.State())

	_, err = h.j.Read(make([]byte, 4))
	assert.Equal(t, internalerror.Lifecycle, errors.Cause(err))
}

func TestInconsistentCommit(t *testing.T) {
	h := newHarness(t, newDevice(t), false)
	h.init()
	h.put(pattern(16, 1))
	require.Nil(t, h.log(pattern(16, 2)))

	programs := h.dev.Programs
	h.j.bodyOffset += 4
	_, err := h.j.Commit()
	assert.Equal(t, internalerror.InternalInconsistency, errors.Cause(err))
	assert.Equal(t, Error, h.j.State())
	assert.Equal(t, programs, h.dev.Programs)

	h.init()
	got, _ := h.readAll(16)
	assert.Equal(t, pattern(16, 1), got)
}

func TestReset(t *testing.T) {
	forBothDrivers(t, func(t *testing.T, async bool) {
		h := newHarness(t, newDevice(t), async)
		defer h.close()
		h.init()
		h.put(pattern(64, 1))
		h.put(pattern(64, 2))
		require.Nil(t, h.log(pattern(8, 3)))

		_, err := h.wait(h.j.Reset())
		require.Nil(t, err)
		assert.Equal(t, Ready, h.j.State())
		assert.Equal(t, uint64(0), h.j.Info().CommittedSize)
		assert.Empty(t, h.j.History())
		assert.Equal(t, bytes.Repeat([]byte{0xFF}, 4096), h.dev.AsBytes())

		_, err = h.wait(h.j.Read(make([]byte, 8)))
		assert.Equal(t, internalerror.Empty, err)

		h.put(pattern(8, 4))
		assert.Equal(t, 0, h.j.Info().CurrentSlot)

		_, err = h.wait(h.j.Reset())
		require.Nil(t, err)
		h.init()
		assert.Equal(t, uint64(0), h.j.Info().CommittedSize)
		assert.Equal(t, uint64(0), h.j.Info().Generation)
	})
}

func TestInterruptedResetKeepsCurrent(t *testing.T) {
	dev := newDevice(t)
	h := newHarness(t, dev, false)
	h.init()
	h.put(pattern(16, 1))
	h.put(pattern(16, 2))

	h.faulty.CutPowerAfter(2)
	_, err := h.j.Reset()
	assert.Equal(t, internalerror.StorageDriver, errors.Cause(err))

	h2 := newHarness(t, dev, false)
	h2.init()
	got, _ := h2.readAll(16)
	assert.Equal(t, pattern(16, 2), got)
}

func TestSpuriousCompletionIgnored(t *testing.T) {
	h := newHarness(t, newDevice(t), false)
	h.init()
	h.j.onDriverComplete(nvm.OpRead, nil)
	assert.Equal(t, Ready, h.j.State())
	assert.Equal(t, 0, len(h.results))
}
