package journal

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/thesues/flashjournal/block"
	"github.com/thesues/flashjournal/internalerror"
)

func TestRecordWork(t *testing.T) {
	buf := new(bytes.Buffer)

	head := Head{Generation: 42}
	assert.Nil(t, head.WriteTo(buf))
	assert.Equal(t, int(head.ExternalSize()), buf.Len())
	h, err := ReadHeadFrom(buf)
	assert.Nil(t, err)
	assert.Equal(t, head, h)

	tail := Tail{Generation: 42, Size: 0xFFFFFFFF}
	assert.Nil(t, tail.WriteTo(buf))
	assert.Equal(t, int(tail.ExternalSize()), buf.Len())
	tl, err := ReadTailFrom(buf)
	assert.Nil(t, err)
	assert.Equal(t, tail, tl)
}

func TestRecordCheckSum(t *testing.T) {
	buf := new(bytes.Buffer)
	tail := Tail{Generation: 7, Size: 64}
	assert.Nil(t, tail.WriteTo(buf))

	raw := buf.Bytes()
	raw[MAGIC_SIZE+GENERATION_SIZE] += 1
	_, err := ReadTailFrom(bytes.NewReader(raw))
	assert.Equal(t, internalerror.StorageCorrupted, errors.Cause(err))
}

func TestRecordErased(t *testing.T) {
	erased := bytes.Repeat([]byte{0xFF}, TAIL_RECORD_SIZE)
	_, err := ReadTailFrom(bytes.NewReader(erased))
	assert.Equal(t, internalerror.StorageCorrupted, errors.Cause(err))
	_, err = ReadHeadFrom(bytes.NewReader(erased))
	assert.Equal(t, internalerror.StorageCorrupted, errors.Cause(err))

	//a tail is not a head
	buf := new(bytes.Buffer)
	Tail{Generation: 1}.WriteTo(buf)
	_, err = ReadHeadFrom(buf)
	assert.Error(t, err)
}

func TestEncodeRecordPads(t *testing.T) {
	unit, _ := block.NewBlockSize(16)
	raw := encodeRecord(Tail{Generation: 3, Size: 9}, unit, 0xFF)
	assert.Equal(t, 32, len(raw))
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 32-TAIL_RECORD_SIZE), raw[TAIL_RECORD_SIZE:])

	tail, err := ReadTailFrom(bytes.NewReader(raw))
	assert.Nil(t, err)
	assert.Equal(t, uint64(9), tail.Size)
}
