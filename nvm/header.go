package nvm

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"github.com/thesues/flashjournal/block"
	"github.com/thesues/flashjournal/internalerror"
)

/*
       0                   1                   2                   3
       0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
      +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
      |                         Magic Number                          |
      +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
      |        Header Size            |      Major Version            |
      +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
      |        Minor Version          |      Journal Slots            |
      +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
      |                      Program Unit (32 bit)                    |
      +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
      |                      Erase Unit (32 bit)                      |
      +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
      |                                                               |
      |                     Instance UUID (128 bit)                   |
      |                                                               |
      |                                                               |
      +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
      |                     Flash Capacity (64 bit)                   |
      |                                                               |
      +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
      |                     Padding (Variable)
      +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/

var (
	MAGIC_NUMBER = [4]byte{'f', 'j', 'n', 'l'}
)

const (
	MAJOR_VERSION uint16 = 1
	MINOR_VERSION uint16 = 0

	HEADER_SIZE uint16 = 2 /* major_version */ +
		2 /* minor_version */ +
		2 /* slots */ +
		4 /* program_unit */ +
		4 /* erase_unit */ +
		16 /* UUID */ +
		8 /* capacity */
	FULL_HEADER_SIZE uint16 = 4 + 2 + HEADER_SIZE

	// the flash area of an image file starts here
	HEADER_REGION_SIZE uint64 = 512

	MAX_CAPACITY uint64 = (1 << 40) - 1
)

// FileHeader identifies a flash image file and records its geometry.
type FileHeader struct {
	MajorVersion uint16
	MinorVersion uint16
	// slot count of the journal on this image, 0 when unknown
	Slots        uint16
	ProgramUnit  block.BlockSize
	EraseUnit    block.BlockSize
	UUID         uuid.UUID
	Capacity     uint64
}

func NewFileHeader(geometry Geometry) (*FileHeader, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate instance uuid")
	}
	return &FileHeader{
		MajorVersion: MAJOR_VERSION,
		MinorVersion: MINOR_VERSION,
		ProgramUnit:  geometry.ProgramUnit,
		EraseUnit:    geometry.EraseUnit,
		UUID:         id,
		Capacity:     geometry.Capacity,
	}, nil
}

func (self *FileHeader) Geometry() (Geometry, error) {
	return NewGeometry(self.Capacity, self.ProgramUnit.AsU32(), self.EraseUnit.AsU32())
}

func ReadFrom(reader io.Reader) (*FileHeader, error) {
	//magic number
	var magicNumber [4]byte
	if _, err := io.ReadFull(reader, magicNumber[:]); err != nil {
		return nil, errors.Wrap(err, "read magic number")
	} else if magicNumber != MAGIC_NUMBER {
		return nil, errors.Wrap(internalerror.InvalidInput, "bad magic number")
	}

	//header size
	var headerSize uint16
	if err := binary.Read(reader, binary.BigEndian, &headerSize); err != nil {
		return nil, internalerror.InvalidInput
	}

	reader = io.LimitReader(reader, int64(headerSize))

	//major version
	var majorVersion uint16
	if err := binary.Read(reader, binary.BigEndian, &majorVersion); err != nil {
		return nil, internalerror.InvalidInput
	} else if majorVersion != MAJOR_VERSION {
		return nil, errors.Wrapf(internalerror.InvalidInput, "unsupported major version %d", majorVersion)
	}

	//minor version
	var minorVersion uint16
	if err := binary.Read(reader, binary.BigEndian, &minorVersion); err != nil {
		return nil, internalerror.InvalidInput
	}

	//journal slots
	var slots uint16
	if err := binary.Read(reader, binary.BigEndian, &slots); err != nil {
		return nil, internalerror.InvalidInput
	}

	//program unit and erase unit
	var pu, eu uint32
	var programUnit, eraseUnit block.BlockSize
	var err error
	if err = binary.Read(reader, binary.BigEndian, &pu); err != nil {
		return nil, internalerror.InvalidInput
	} else if programUnit, err = block.NewBlockSize(pu); err != nil {
		return nil, err
	}
	if err = binary.Read(reader, binary.BigEndian, &eu); err != nil {
		return nil, internalerror.InvalidInput
	} else if eraseUnit, err = block.NewBlockSize(eu); err != nil {
		return nil, err
	}

	// UUID
	var uuidBuf [16]byte
	if _, err := io.ReadFull(reader, uuidBuf[:]); err != nil {
		return nil, internalerror.InvalidInput
	}
	fileUUID, err := uuid.FromBytes(uuidBuf[:])
	if err != nil {
		return nil, internalerror.InvalidInput
	}

	//capacity
	var capacity uint64
	if err := binary.Read(reader, binary.BigEndian, &capacity); err != nil {
		return nil, internalerror.InvalidInput
	}
	if capacity > MAX_CAPACITY {
		return nil, errors.Wrapf(internalerror.InvalidInput, "capacity %d is too big", capacity)
	}

	//EOF
	var buf [1]byte
	if _, err = reader.Read(buf[:]); err != io.EOF {
		return nil, internalerror.StorageCorrupted
	}

	return &FileHeader{
		MajorVersion: majorVersion,
		MinorVersion: minorVersion,
		Slots:        slots,
		ProgramUnit:  programUnit,
		EraseUnit:    eraseUnit,
		UUID:         fileUUID,
		Capacity:     capacity,
	}, nil
}

func (self *FileHeader) WriteTo(writer io.Writer) (err error) {
	//MAGIC NUMBER
	if _, err = writer.Write(MAGIC_NUMBER[:]); err != nil {
		return err
	}
	//Header Size
	if err = binary.Write(writer, binary.BigEndian, HEADER_SIZE); err != nil {
		return err
	}
	//Major Version
	if err = binary.Write(writer, binary.BigEndian, self.MajorVersion); err != nil {
		return err
	}
	//Minor Version
	if err = binary.Write(writer, binary.BigEndian, self.MinorVersion); err != nil {
		return err
	}
	//Journal Slots
	if err = binary.Write(writer, binary.BigEndian, self.Slots); err != nil {
		return err
	}
	//Program Unit, Erase Unit
	if err = binary.Write(writer, binary.BigEndian, self.ProgramUnit.AsU32()); err != nil {
		return err
	}
	if err = binary.Write(writer, binary.BigEndian, self.EraseUnit.AsU32()); err != nil {
		return err
	}
	//UUID
	if _, err = writer.Write(self.UUID.Bytes()); err != nil {
		return err
	}
	//Capacity
	if err = binary.Write(writer, binary.BigEndian, self.Capacity); err != nil {
		return err
	}
	return
}

func (self *FileHeader) WriteHeaderRegionTo(writer io.Writer) (err error) {
	if err = self.WriteTo(writer); err != nil {
		return
	}

	padding := make([]byte, HEADER_REGION_SIZE-uint64(FULL_HEADER_SIZE))
	if _, err = writer.Write(padding); err != nil {
		return
	}
	return
}

// FileSize is the size of an image file holding this header and its flash area.
func (self *FileHeader) FileSize() uint64 {
	return HEADER_REGION_SIZE + self.Capacity
}
