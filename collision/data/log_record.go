package data

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

type LogRecordType = byte

const (
	LogRecordNormal LogRecordType = iota
	LogRecordDeleted
)

// Tombstone is the reserved value length marking a deletion record.
const Tombstone uint32 = math.MaxUint32

const (
	MaxKeySize   = math.MaxUint32
	MaxValueSize = Tombstone - 1
)

// key size + value size
const recordStaticSize = 8

// smaller reads allocate up front, larger ones grow as bytes arrive so a
// corrupt length field cannot force a huge allocation
const eagerReadSize = 64 << 10

var (
	ErrKeyTooLarge     = errors.New("key exceeds 32-bit length")
	ErrValueTooLarge   = errors.New("value exceeds maximum length")
	ErrTruncatedRecord = errors.New("truncated log record")
)

// LogRecord is one entry of a collision log.
type LogRecord struct {
	Key   []byte
	Value []byte
	Type  LogRecordType
	// Position is the absolute offset the record was decoded from.
	Position int64
}

func (lr *LogRecord) IsTombstone() bool {
	return lr.Type == LogRecordDeleted
}

// Size is the encoded length of the record.
func (lr *LogRecord) Size() int64 {
	if lr.IsTombstone() {
		return TombstoneSize(lr.Key)
	}
	return RecordSize(lr.Key, lr.Value)
}

// Binary format (little endian):
// +-----------+-----------+-------------------------+-----------+
// | key size  |    key    | value size or tombstone |   value   |
// +-----------+-----------+-------------------------+-----------+
// | 4 bytes   |  dynamic  |         4 bytes         |  dynamic  |
// +-----------+-----------+-------------------------+-----------+
// A value size of 0xFFFFFFFF marks a tombstone, which has no value bytes.

func RecordSize(key, value []byte) int64 {
	return recordStaticSize + int64(len(key)) + int64(len(value))
}

func TombstoneSize(key []byte) int64 {
	return recordStaticSize + int64(len(key))
}

func EncodeLogRecord(logRecord *LogRecord) ([]byte, int64, error) {
	if uint64(len(logRecord.Key)) > MaxKeySize {
		return nil, 0, ErrKeyTooLarge
	}
	size := logRecord.Size()
	if !logRecord.IsTombstone() && uint64(len(logRecord.Value)) > uint64(MaxValueSize) {
		return nil, 0, ErrValueTooLarge
	}

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(logRecord.Key)))
	buf = append(buf, logRecord.Key...)
	if logRecord.IsTombstone() {
		buf = binary.LittleEndian.AppendUint32(buf, Tombstone)
		return buf, size, nil
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(logRecord.Value)))
	buf = append(buf, logRecord.Value...)
	return buf, size, nil
}

// TruncatedRecordError reports a record that ends before all of its fields
// were read. It matches both ErrTruncatedRecord and io.ErrUnexpectedEOF.
type TruncatedRecordError struct {
	Offset int64
}

func (e *TruncatedRecordError) Error() string {
	return fmt.Sprintf("truncated log record at offset %d", e.Offset)
}

func (e *TruncatedRecordError) Unwrap() []error {
	return []error{ErrTruncatedRecord, io.ErrUnexpectedEOF}
}

// Writer appends encoded records and tracks the absolute offset of the
// underlying stream.
type Writer struct {
	w   io.Writer
	off int64
}

// NewWriter returns a Writer whose next record starts at off.
func NewWriter(w io.Writer, off int64) *Writer {
	return &Writer{w: w, off: off}
}

func (w *Writer) Offset() int64 {
	return w.off
}

// Write appends an insert record and returns the offset it starts at.
func (w *Writer) Write(key, value []byte) (int64, error) {
	return w.writeLogRecord(&LogRecord{Key: key, Value: value, Type: LogRecordNormal})
}

// WriteTombstone appends a deletion record for key and returns the offset it
// starts at.
func (w *Writer) WriteTombstone(key []byte) (int64, error) {
	return w.writeLogRecord(&LogRecord{Key: key, Type: LogRecordDeleted})
}

func (w *Writer) writeLogRecord(logRecord *LogRecord) (int64, error) {
	encRecord, _, err := EncodeLogRecord(logRecord)
	if err != nil {
		return 0, err
	}
	position := w.off
	n, err := w.w.Write(encRecord)
	w.off += int64(n)
	if err != nil {
		return 0, err
	}
	return position, nil
}

// Reader decodes records from a stream whose first byte sits at an
// absolute offset.
type Reader struct {
	r   *bufio.Reader
	off int64
}

func NewReader(r io.Reader, off int64) *Reader {
	return &Reader{r: bufio.NewReader(r), off: off}
}

func (r *Reader) Offset() int64 {
	return r.off
}

// ReadLogRecord decodes the next record. It returns io.EOF only when the
// stream ends exactly where a record would begin; a record cut short
// anywhere else yields a *TruncatedRecordError.
func (r *Reader) ReadLogRecord() (*LogRecord, error) {
	position := r.off

	keySize, err := r.readUint32()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, r.truncated(position, err)
	}
	key, err := r.readN(keySize)
	if err != nil {
		return nil, r.truncated(position, err)
	}
	valueSize, err := r.readUint32()
	if err != nil {
		return nil, r.truncated(position, err)
	}
	if valueSize == Tombstone {
		return &LogRecord{Key: key, Type: LogRecordDeleted, Position: position}, nil
	}
	value, err := r.readN(valueSize)
	if err != nil {
		return nil, r.truncated(position, err)
	}
	return &LogRecord{Key: key, Value: value, Type: LogRecordNormal, Position: position}, nil
}

func (r *Reader) readUint32() (uint32, error) {
	var buf [4]byte
	n, err := io.ReadFull(r.r, buf[:])
	r.off += int64(n)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (r *Reader) readN(n uint32) ([]byte, error) {
	if n <= eagerReadSize {
		b := make([]byte, n)
		read, err := io.ReadFull(r.r, b)
		r.off += int64(read)
		return b, err
	}
	var buf bytes.Buffer
	buf.Grow(eagerReadSize)
	copied, err := io.CopyN(&buf, r.r, int64(n))
	r.off += copied
	return buf.Bytes(), err
}

// truncated converts end-of-stream inside a record into a
// TruncatedRecordError and passes every other failure through.
func (r *Reader) truncated(position int64, err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return &TruncatedRecordError{Offset: position}
	}
	return err
}

// ReadLogRecordAt decodes the single record starting at position of a
// source holding size bytes.
func ReadLogRecordAt(ra io.ReaderAt, position, size int64) (*LogRecord, error) {
	if position < 0 || position >= size {
		return nil, &TruncatedRecordError{Offset: position}
	}
	r := NewReader(io.NewSectionReader(ra, position, size-position), position)
	record, err := r.ReadLogRecord()
	if err == io.EOF {
		return nil, &TruncatedRecordError{Offset: position}
	}
	return record, err
}
