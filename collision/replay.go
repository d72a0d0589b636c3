package collision

import (
	"errors"
	"io"
	"io/fs"
	"os"

	"collision-kv/collision/data"
	"collision-kv/collision/index"
)

// buildIndex replays the log at path in write order. Inserts set the key's
// entry, tombstones drop it. It also totals the bytes held by records that
// no longer back a live key.
func buildIndex(path string) (index.Indexer, int64, error) {
	scanner, err := data.NewScanner(path)
	if err != nil {
		return nil, 0, err
	}
	defer scanner.Close()

	idx := index.NewBTree()
	var reclaimSize int64
	for {
		record, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		if record.IsTombstone() {
			reclaimSize += record.Size()
			if oldPos, ok := idx.Delete(record.Key); ok {
				reclaimSize += oldPos.Size
			}
			continue
		}
		pos := &index.Entry{Position: record.Position, Size: record.Size()}
		if oldPos := idx.Put(record.Key, pos); oldPos != nil {
			reclaimSize += oldPos.Size
		}
	}
	return idx, reclaimSize, nil
}

// Repair cuts a torn record off the end of prefix's log so that Open can
// replay it again, and reports how many bytes were dropped. Open never does
// this by itself. The log must not be open while Repair runs.
func Repair(dirPath string, prefix uint32) (int64, error) {
	path := data.GetLogFileName(dirPath, prefix)
	scanner, err := data.NewScanner(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, ErrNoLog
	}
	if err != nil {
		return 0, err
	}
	for {
		_, err = scanner.Next()
		if err != nil {
			break
		}
	}
	good, size := scanner.Offset(), scanner.Size()
	_ = scanner.Close()

	if err == io.EOF {
		return 0, nil
	}
	if !errors.Is(err, data.ErrTruncatedRecord) {
		return 0, err
	}
	if err := os.Truncate(path, good); err != nil {
		return 0, err
	}
	return size - good, nil
}
