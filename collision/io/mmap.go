package io

import (
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// MMap is a read-only mapping of a collision log taken when the handle is
// opened. Records appended later are not visible through it.
type MMap struct {
	data mmap.MMap
	fd   *os.File
}

func NewMMapIOManager(fileName string) (*MMap, error) {
	fd, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	stat, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return nil, err
	}
	// empty files cannot be mapped
	if stat.Size() == 0 {
		return &MMap{fd: fd}, nil
	}
	mm, err := mmap.Map(fd, mmap.RDONLY, 0)
	if err != nil {
		_ = fd.Close()
		return nil, err
	}
	return &MMap{data: mm, fd: fd}, nil
}

func (mio *MMap) ReadAt(b []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, os.ErrInvalid
	}
	if offset >= int64(len(mio.data)) {
		return 0, io.EOF
	}
	n := copy(b, mio.data[offset:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

func (mio *MMap) Write([]byte) (int, error) {
	return 0, ErrReadOnly
}

func (mio *MMap) Sync() error {
	return nil
}

func (mio *MMap) Close() error {
	if mio.data != nil {
		if err := mio.data.Unmap(); err != nil {
			_ = mio.fd.Close()
			return err
		}
		mio.data = nil
	}
	return mio.fd.Close()
}

func (mio *MMap) Size() (int64, error) {
	return int64(len(mio.data)), nil
}

func (mio *MMap) Truncate(int64) error {
	return ErrReadOnly
}
