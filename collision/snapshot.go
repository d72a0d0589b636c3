package collision

import (
	"errors"
	"io"
	"os"

	"github.com/klauspost/compress/s2"

	"collision-kv/collision/data"
)

// Snapshot writes the live pairs of the log to w in key order, as log
// records inside an s2 stream.
func (cl *CollisionLog) Snapshot(w io.Writer) error {
	enc := s2.NewWriter(w)
	records := data.NewWriter(enc, 0)

	it := cl.Iterate()
	defer it.Close()
	for it.Next() {
		if _, err := records.Write(it.Key(), it.Value()); err != nil {
			_ = enc.Close()
			return err
		}
	}
	if err := it.Err(); err != nil {
		_ = enc.Close()
		return err
	}
	cl.sugar.Infow("snapshot written", "prefix", cl.prefix, "keys", cl.index.Size(), "bytes", records.Offset())
	return enc.Close()
}

// Install creates the log for prefix from a stream written by Snapshot. The
// prefix must not have a log yet. A failed install removes the file it
// created.
func Install(dirPath string, prefix uint32, r io.Reader, option ...Option) (*CollisionLog, error) {
	cl, err := Create(dirPath, prefix, option...)
	if err != nil {
		return nil, err
	}
	if err := cl.install(r); err != nil {
		_ = cl.Close()
		if rmErr := os.Remove(cl.path); rmErr != nil {
			return nil, errors.Join(err, rmErr)
		}
		return nil, err
	}
	return cl, nil
}

func (cl *CollisionLog) install(r io.Reader) error {
	records := data.NewReader(s2.NewReader(r), 0)
	for {
		record, err := records.ReadLogRecord()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if record.IsTombstone() {
			err = cl.Delete(record.Key)
		} else {
			err = cl.Insert(record.Key, record.Value)
		}
		if err != nil {
			return err
		}
	}
}
