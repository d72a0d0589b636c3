package data

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	fio "collision-kv/collision/io"
)

const (
	FileNamePrefix = "collision-"
	FileNameSuffix = ".log"
)

// GetLogFileName returns the path of the collision log serving prefix.
func GetLogFileName(dirPath string, prefix uint32) string {
	return filepath.Join(dirPath, fmt.Sprintf("%s%d%s", FileNamePrefix, prefix, FileNameSuffix))
}

// ParseLogFileName extracts the prefix from a collision log file name.
func ParseLogFileName(name string) (uint32, bool) {
	if !strings.HasPrefix(name, FileNamePrefix) || !strings.HasSuffix(name, FileNameSuffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, FileNamePrefix), FileNameSuffix)
	prefix, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(prefix), true
}

// Scanner reads a collision log front to back. It owns its read handle and
// cannot be rewound.
type Scanner struct {
	manager fio.Manager
	reader  *Reader
	size    int64
	// offset just past the last complete record
	good int64
	err  error
}

func NewScanner(fileName string) (*Scanner, error) {
	manager, err := fio.OpenFileIOReader(fileName)
	if err != nil {
		return nil, err
	}
	size, err := manager.Size()
	if err != nil {
		_ = manager.Close()
		return nil, err
	}
	return &Scanner{
		manager: manager,
		reader:  NewReader(io.NewSectionReader(manager, 0, size), 0),
		size:    size,
	}, nil
}

// Next returns the next record in write order. io.EOF marks a clean end at
// a record boundary; any other error is sticky.
func (s *Scanner) Next() (*LogRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	record, err := s.reader.ReadLogRecord()
	if err != nil {
		s.err = err
		return nil, err
	}
	s.good = s.reader.Offset()
	return record, nil
}

// Offset is the end of the last complete record returned by Next.
func (s *Scanner) Offset() int64 {
	return s.good
}

// Size is the file length seen when the scanner was opened.
func (s *Scanner) Size() int64 {
	return s.size
}

func (s *Scanner) Close() error {
	return s.manager.Close()
}
