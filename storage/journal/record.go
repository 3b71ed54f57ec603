package journal

import (
	"bytes"
	"hash/adler32"
	"io"

	"github.com/pkg/errors"
	"github.com/thesues/flashjournal/block"
	"github.com/thesues/flashjournal/internalerror"
	"github.com/thesues/flashjournal/util"
)

var (
	HEAD_MAGIC = [4]byte{'F', 'J', 'H', 'D'}
	TAIL_MAGIC = [4]byte{'F', 'J', 'T', 'L'}
)

const (
	MAGIC_SIZE      = 4
	GENERATION_SIZE = 8
	LENGTH_SIZE     = 8
	CHECKSUM_SIZE   = 4

	HEAD_RECORD_SIZE = MAGIC_SIZE + GENERATION_SIZE + CHECKSUM_SIZE
	TAIL_RECORD_SIZE = MAGIC_SIZE + GENERATION_SIZE + LENGTH_SIZE + CHECKSUM_SIZE
)

type Record interface {
	WriteTo(io.Writer) error
	ExternalSize() uint32
	CheckSum() uint32
}

// Head opens a slot's write sequence.
type Head struct {
	Generation uint64
}

// Tail closes a slot; a slot whose Tail is intact is committed.
type Tail struct {
	Generation uint64
	Size       uint64
}

func (record Head) ExternalSize() uint32 {
	return HEAD_RECORD_SIZE
}

func (record Head) payload() []byte {
	var buf [MAGIC_SIZE + GENERATION_SIZE]byte
	copy(buf[:MAGIC_SIZE], HEAD_MAGIC[:])
	util.PutUINT64(buf[MAGIC_SIZE:], record.Generation)
	return buf[:]
}

func (record Head) CheckSum() uint32 {
	return adler32.Checksum(record.payload())
}

func (record Head) WriteTo(w io.Writer) error {
	return writeRecord(w, record.payload(), record.CheckSum())
}

func (record Tail) ExternalSize() uint32 {
	return TAIL_RECORD_SIZE
}

func (record Tail) payload() []byte {
	var buf [MAGIC_SIZE + GENERATION_SIZE + LENGTH_SIZE]byte
	copy(buf[:MAGIC_SIZE], TAIL_MAGIC[:])
	util.PutUINT64(buf[MAGIC_SIZE:MAGIC_SIZE+GENERATION_SIZE], record.Generation)
	util.PutUINT64(buf[MAGIC_SIZE+GENERATION_SIZE:], record.Size)
	return buf[:]
}

func (record Tail) CheckSum() uint32 {
	return adler32.Checksum(record.payload())
}

func (record Tail) WriteTo(w io.Writer) error {
	return writeRecord(w, record.payload(), record.CheckSum())
}

/*
All the reads below expect exactly the record size; an erased or torn
record fails on the magic number or on the checksum.
*/
func ReadHeadFrom(reader io.Reader) (Head, error) {
	var buf [HEAD_RECORD_SIZE]byte
	if _, err := io.ReadFull(reader, buf[:]); err != nil {
		return Head{}, err
	}
	if !bytes.Equal(buf[:MAGIC_SIZE], HEAD_MAGIC[:]) {
		return Head{}, errors.Wrap(internalerror.StorageCorrupted, "no head magic")
	}
	record := Head{Generation: util.GetUINT64(buf[MAGIC_SIZE : MAGIC_SIZE+GENERATION_SIZE])}
	checksum := util.GetUINT32(buf[HEAD_RECORD_SIZE-CHECKSUM_SIZE:])
	if checksum != record.CheckSum() {
		return Head{}, errors.Wrapf(internalerror.StorageCorrupted,
			"head checksum on disk: %d, computed %d", checksum, record.CheckSum())
	}
	return record, nil
}

func ReadTailFrom(reader io.Reader) (Tail, error) {
	var buf [TAIL_RECORD_SIZE]byte
	if _, err := io.ReadFull(reader, buf[:]); err != nil {
		return Tail{}, err
	}
	if !bytes.Equal(buf[:MAGIC_SIZE], TAIL_MAGIC[:]) {
		return Tail{}, errors.Wrap(internalerror.StorageCorrupted, "no tail magic")
	}
	record := Tail{
		Generation: util.GetUINT64(buf[MAGIC_SIZE : MAGIC_SIZE+GENERATION_SIZE]),
		Size:       util.GetUINT64(buf[MAGIC_SIZE+GENERATION_SIZE : MAGIC_SIZE+GENERATION_SIZE+LENGTH_SIZE]),
	}
	checksum := util.GetUINT32(buf[TAIL_RECORD_SIZE-CHECKSUM_SIZE:])
	if checksum != record.CheckSum() {
		return Tail{}, errors.Wrapf(internalerror.StorageCorrupted,
			"tail checksum on disk: %d, computed %d", checksum, record.CheckSum())
	}
	return record, nil
}

// encodeRecord serializes record padded with fill up to the program unit.
func encodeRecord(record Record, unit block.BlockSize, fill byte) []byte {
	buf := new(bytes.Buffer)
	record.WriteTo(buf)
	return block.FromBytes(buf.Bytes(), unit).Pad(fill).AsBytes()
}

func writeRecord(w io.Writer, payload []byte, checksum uint32) error {
	if _, err := w.Write(payload); err != nil {
		return err
	}
	var buf [CHECKSUM_SIZE]byte
	util.PutUINT32(buf[:], checksum)
	_, err := w.Write(buf[:])
	return err
}
