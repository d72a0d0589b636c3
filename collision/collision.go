// Package collision stores every key of an overflowing hash prefix in a
// dedicated append-only log with an in-memory ordered index.
//
// A CollisionLog has no internal locking. Exactly one instance may own a
// prefix's log at a time and its mutating calls must be serialized by the
// caller. Get and Iterate read through their own file handles and never
// move the append cursor.
package collision

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"collision-kv/collision/data"
	"collision-kv/collision/index"
	fio "collision-kv/collision/io"
)

type CollisionLog struct {
	prefix uint32
	path   string

	file   fio.Manager
	writer *data.Writer
	index  index.Indexer

	readMode    fio.FileIOType
	reclaimSize int64
	closed      bool
	// failed is set when a torn append could not be cut off again
	failed error

	sugar *zap.SugaredLogger
}

type Stat struct {
	Prefix          uint32
	KeyNum          int
	DiskSize        int64
	ReclaimableSize int64
}

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrLogClosed   = errors.New("collision log is closed")
	// ErrNoLog is returned by Open when the prefix has no log file.
	ErrNoLog = fmt.Errorf("no collision log for prefix: %w", fs.ErrNotExist)
	// ErrLogExists is returned by Create when the prefix already has a log file.
	ErrLogExists = fmt.Errorf("collision log already exists: %w", fs.ErrExist)
	// ErrCorruptIndex means the index points at a record that is missing,
	// is a tombstone or holds another key. It is never a plain miss.
	ErrCorruptIndex = errors.New("collision index does not match log")
	// ErrLogFailed is returned by every mutation once a partial append could
	// not be rolled back. The log must be closed and repaired.
	ErrLogFailed = errors.New("collision log failed")

	ErrKeyTooLarge     = data.ErrKeyTooLarge
	ErrValueTooLarge   = data.ErrValueTooLarge
	ErrTruncatedRecord = data.ErrTruncatedRecord
)

type Option func(cl *CollisionLog) error

func WithLogger(logger *zap.Logger) Option {
	return func(cl *CollisionLog) error {
		if logger == nil {
			return errors.New("nil logger")
		}
		cl.sugar = logger.Sugar()
		return nil
	}
}

// WithReadMode selects how Get and Iterate open their read handles.
func WithReadMode(mode fio.FileIOType) Option {
	return func(cl *CollisionLog) error {
		if mode != fio.FIO && mode != fio.MemoryMap {
			return fmt.Errorf("unsupported read mode %v", mode)
		}
		cl.readMode = mode
		return nil
	}
}

func newCollisionLog(dirPath string, prefix uint32, option ...Option) (*CollisionLog, error) {
	cl := &CollisionLog{
		prefix:   prefix,
		path:     data.GetLogFileName(dirPath, prefix),
		readMode: fio.FIO,
		sugar:    zap.NewNop().Sugar(),
	}
	for _, opt := range option {
		if err := opt(cl); err != nil {
			return nil, err
		}
	}
	return cl, nil
}

// Create makes a new, empty log for prefix under dirPath, creating the
// directory if needed. It fails with ErrLogExists rather than reuse a file
// that is already there.
func Create(dirPath string, prefix uint32, option ...Option) (*CollisionLog, error) {
	cl, err := newCollisionLog(dirPath, prefix, option...)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dirPath, fio.DirPerm); err != nil {
		return nil, err
	}
	file, err := fio.CreateAppendManager(cl.path)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrLogExists, cl.path)
	}
	if err != nil {
		return nil, err
	}
	cl.file = file
	cl.writer = data.NewWriter(file, 0)
	cl.index = index.NewBTree()

	cl.sugar.Infow("created collision log", "prefix", prefix, "path", cl.path)
	return cl, nil
}

// Open loads the existing log for prefix and rebuilds its index by
// replaying every record. A prefix without a log yields ErrNoLog and no
// file is created.
func Open(dirPath string, prefix uint32, option ...Option) (*CollisionLog, error) {
	cl, err := newCollisionLog(dirPath, prefix, option...)
	if err != nil {
		return nil, err
	}
	file, err := fio.OpenAppendManager(cl.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoLog
	}
	if err != nil {
		return nil, err
	}

	idx, reclaim, err := buildIndex(cl.path)
	if err != nil {
		_ = file.Close()
		cl.sugar.Errorw("replay collision log", "prefix", prefix, "path", cl.path, "err", err)
		return nil, err
	}
	size, err := file.Size()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	cl.file = file
	cl.writer = data.NewWriter(file, size)
	cl.index = idx
	cl.reclaimSize = reclaim

	cl.sugar.Infow("opened collision log", "prefix", prefix, "path", cl.path,
		"keys", idx.Size(), "size", size)
	return cl, nil
}

func (cl *CollisionLog) Prefix() uint32 {
	return cl.prefix
}

func (cl *CollisionLog) Path() string {
	return cl.path
}

// Insert appends key=value and points the index at the new record.
func (cl *CollisionLog) Insert(key, value []byte) error {
	if err := cl.writable(); err != nil {
		return err
	}
	pos, err := cl.append(func() (int64, error) {
		return cl.writer.Write(key, value)
	})
	if err != nil {
		return err
	}
	size := data.RecordSize(key, value)
	if oldPos := cl.index.Put(key, &index.Entry{Position: pos, Size: size}); oldPos != nil {
		cl.reclaimSize += oldPos.Size
	}
	cl.sugar.Debugw("insert", "prefix", cl.prefix, "position", pos, "size", size)
	return nil
}

// Delete appends a tombstone for key. Keys missing from the index are
// already dead, so nothing is written for them.
func (cl *CollisionLog) Delete(key []byte) error {
	if err := cl.writable(); err != nil {
		return err
	}
	if pos := cl.index.Get(key); pos == nil {
		return nil
	}
	pos, err := cl.append(func() (int64, error) {
		return cl.writer.WriteTombstone(key)
	})
	if err != nil {
		return err
	}
	cl.reclaimSize += data.TombstoneSize(key)
	if oldPos, ok := cl.index.Delete(key); ok {
		cl.reclaimSize += oldPos.Size
	}
	cl.sugar.Debugw("delete", "prefix", cl.prefix, "position", pos)
	return nil
}

func (cl *CollisionLog) writable() error {
	if cl.closed {
		return ErrLogClosed
	}
	return cl.failed
}

// append runs one record write. A write that fails after putting some bytes
// on disk is cut back to the record's start, so no fragment is left for
// later records to sit behind.
func (cl *CollisionLog) append(write func() (int64, error)) (int64, error) {
	start := cl.writer.Offset()
	pos, err := write()
	if err == nil {
		return pos, nil
	}
	if cl.writer.Offset() == start {
		return 0, err
	}
	if truncErr := cl.file.Truncate(start); truncErr != nil {
		cl.failed = fmt.Errorf("%w: prefix %d: %w", ErrLogFailed, cl.prefix, errors.Join(err, truncErr))
		cl.sugar.Errorw("roll back partial append", "prefix", cl.prefix, "path", cl.path,
			"offset", start, "err", err, "truncateErr", truncErr)
		return 0, cl.failed
	}
	cl.writer = data.NewWriter(cl.file, start)
	cl.sugar.Warnw("rolled back partial append", "prefix", cl.prefix, "offset", start, "err", err)
	return 0, err
}

// Get returns the live value of key or ErrKeyNotFound. Each hit opens a
// fresh read handle.
func (cl *CollisionLog) Get(key []byte) ([]byte, error) {
	if cl.closed {
		return nil, ErrLogClosed
	}
	pos := cl.index.Get(key)
	if pos == nil {
		return nil, ErrKeyNotFound
	}
	// TODO: cache read handles once open/close shows up in profiles
	reader, err := fio.NewReadManager(cl.path, cl.readMode)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	size, err := reader.Size()
	if err != nil {
		return nil, err
	}
	record, err := cl.readIndexed(reader, key, pos.Position, size)
	if err != nil {
		return nil, err
	}
	return record.Value, nil
}

// readIndexed decodes the record an index entry points at and checks that
// it is the live record of key.
func (cl *CollisionLog) readIndexed(ra io.ReaderAt, key []byte, position, size int64) (*data.LogRecord, error) {
	record, err := data.ReadLogRecordAt(ra, position, size)
	if errors.Is(err, data.ErrTruncatedRecord) {
		return nil, cl.corrupt(key, position, err)
	}
	if err != nil {
		return nil, err
	}
	if record.IsTombstone() {
		return nil, cl.corrupt(key, position, errors.New("record is a tombstone"))
	}
	if !bytes.Equal(record.Key, key) {
		return nil, cl.corrupt(key, position, fmt.Errorf("record holds key %q", record.Key))
	}
	return record, nil
}

func (cl *CollisionLog) corrupt(key []byte, position int64, cause error) error {
	cl.sugar.Errorw("collision index corrupt", "prefix", cl.prefix, "path", cl.path,
		"key", key, "position", position, "err", cause)
	return fmt.Errorf("%w: prefix %d key %q at offset %d: %w", ErrCorruptIndex, cl.prefix, key, position, cause)
}

// Apply runs an Insert or Delete command.
func (cl *CollisionLog) Apply(cmd *Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	switch cmd.Op {
	case OpInsert:
		return cl.Insert(cmd.Key, cmd.Value)
	default:
		return cl.Delete(cmd.Key)
	}
}

// Sync flushes the log file to stable storage.
func (cl *CollisionLog) Sync() error {
	if cl.closed {
		return ErrLogClosed
	}
	return cl.file.Sync()
}

func (cl *CollisionLog) Stat() *Stat {
	keyNum := 0
	if cl.index != nil {
		keyNum = cl.index.Size()
	}
	return &Stat{
		Prefix:          cl.prefix,
		KeyNum:          keyNum,
		DiskSize:        cl.writer.Offset(),
		ReclaimableSize: cl.reclaimSize,
	}
}

// Close releases the append handle and the index. The file stays on disk.
func (cl *CollisionLog) Close() error {
	if cl.closed {
		return nil
	}
	cl.closed = true
	if err := cl.index.Close(); err != nil {
		_ = cl.file.Close()
		return err
	}
	return cl.file.Close()
}
