package nvm

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/thesues/flashjournal/internalerror"
	"github.com/thesues/flashjournal/util"
)

// FileNVM is a flash image stored in a regular file. The first
// HEADER_REGION_SIZE bytes hold a FileHeader, the flash area follows.
type FileNVM struct {
	file     *os.File
	header   *FileHeader
	geometry Geometry
}

const fillChunk = 64 << 10

// Create writes a new, fully erased image at path. An existing file is truncated.
// slots is recorded in the header for the journal that will live on the image.
func Create(path string, capacity uint64, programUnit, eraseUnit uint32, slots uint16) (*FileNVM, error) {
	geometry, err := NewGeometry(capacity, programUnit, eraseUnit)
	if err != nil {
		return nil, err
	}
	if capacity > MAX_CAPACITY {
		return nil, errors.Wrapf(internalerror.InvalidInput, "capacity %d is too big", capacity)
	}
	header, err := NewFileHeader(geometry)
	if err != nil {
		return nil, err
	}
	header.Slots = slots

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file %s", path)
	}

	if err = header.WriteHeaderRegionTo(f); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to write header")
	}

	blank := make([]byte, fillChunk)
	util.Fill(blank, geometry.ErasedValue)
	for left := capacity; left > 0; {
		n := util.Min(left, fillChunk)
		if _, err = f.Write(blank[:n]); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "failed to erase image")
		}
		left -= n
	}

	if err = f.Sync(); err != nil {
		f.Close()
		return nil, err
	}

	return &FileNVM{file: f, header: header, geometry: geometry}, nil
}

func Open(path string) (*FileNVM, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	header, err := ReadFrom(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to read header of %s", path)
	}
	geometry, err := header.Geometry()
	if err != nil {
		f.Close()
		return nil, err
	}

	metadata, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to get metadata")
	}
	if uint64(metadata.Size()) < header.FileSize() {
		f.Close()
		return nil, errors.Wrapf(internalerror.StorageCorrupted,
			"image is %d bytes, header expects %d", metadata.Size(), header.FileSize())
	}

	return &FileNVM{file: f, header: header, geometry: geometry}, nil
}

func (nvm *FileNVM) Header() FileHeader {
	return *nvm.header
}

func (nvm *FileNVM) Geometry() Geometry {
	return nvm.geometry
}

func (nvm *FileNVM) Erase(offset, size uint64) error {
	if err := nvm.geometry.CheckErase(offset, size); err != nil {
		return err
	}
	blank := make([]byte, util.Min(size, fillChunk))
	util.Fill(blank, nvm.geometry.ErasedValue)
	for done := uint64(0); done < size; {
		n := util.Min(size-done, uint64(len(blank)))
		if _, err := nvm.file.WriteAt(blank[:n], nvm.fileOffset(offset+done)); err != nil {
			return errors.Wrap(err, "FileNVM failed to erase")
		}
		done += n
	}
	return nil
}

// Program emulates NOR programming: the stored cells are ANDed with data.
func (nvm *FileNVM) Program(offset uint64, data []byte) error {
	if err := nvm.geometry.CheckProgram(offset, len(data)); err != nil {
		return err
	}
	cells := make([]byte, len(data))
	if _, err := nvm.file.ReadAt(cells, nvm.fileOffset(offset)); err != nil && err != io.EOF {
		return errors.Wrap(err, "FileNVM failed to read before program")
	}
	for i, b := range data {
		cells[i] &= b
	}
	if _, err := nvm.file.WriteAt(cells, nvm.fileOffset(offset)); err != nil {
		return errors.Wrap(err, "FileNVM failed to program")
	}
	return nil
}

func (nvm *FileNVM) Read(offset uint64, buf []byte) (int, error) {
	if err := nvm.geometry.CheckRead(offset, len(buf)); err != nil {
		return 0, err
	}
	n, err := nvm.file.ReadAt(buf, nvm.fileOffset(offset))
	if err != nil && err != io.EOF {
		return n, errors.Wrap(err, "FileNVM failed to read")
	}
	return n, nil
}

func (nvm *FileNVM) Sync() error {
	return nvm.file.Sync()
}

func (nvm *FileNVM) Close() error {
	return nvm.file.Close()
}

func (nvm *FileNVM) fileOffset(offset uint64) int64 {
	return int64(HEADER_REGION_SIZE + offset)
}
