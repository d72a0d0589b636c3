package io

import (
	"errors"
	"fmt"
)

// Manager is a handle on one collision log file. Append managers write at
// the end of the file; read managers only serve ReadAt.
type Manager interface {
	ReadAt([]byte, int64) (int, error)
	Write([]byte) (int, error)
	Sync() error
	Close() error
	Size() (int64, error)
	// Truncate cuts the file to size bytes.
	Truncate(size int64) error
}

type FileIOType uint8

var (
	ErrReadOnly = errors.New("read-only file handle")
)

const (
	DataFilePerm = 0644
	DirPerm      = 0755
)

const (
	FIO FileIOType = iota
	MemoryMap
)

func (t FileIOType) String() string {
	switch t {
	case FIO:
		return "file"
	case MemoryMap:
		return "mmap"
	default:
		return fmt.Sprintf("FileIOType(%d)", uint8(t))
	}
}

// ParseFileIOType maps the config spelling of a read mode to its type.
func ParseFileIOType(s string) (FileIOType, error) {
	switch s {
	case "", "file":
		return FIO, nil
	case "mmap":
		return MemoryMap, nil
	default:
		return 0, fmt.Errorf("unknown read mode %q", s)
	}
}

// NewReadManager opens an independent read-only handle on filename.
func NewReadManager(filename string, ioType FileIOType) (Manager, error) {
	switch ioType {
	case FIO:
		return OpenFileIOReader(filename)
	case MemoryMap:
		return NewMMapIOManager(filename)
	default:
		panic("unsupported io type")
	}
}
