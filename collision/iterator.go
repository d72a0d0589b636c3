package collision

import (
	"collision-kv/collision/index"
	fio "collision-kv/collision/io"
)

// Iterator yields the live pairs of a log in key order, ascending unless
// IteratorOptions.Reverse is set. It works
// on the index as it was when Iterate was called and reads records through
// a handle of its own, opened on first use. It is not safe for concurrent
// use and cannot be restarted.
type Iterator struct {
	log       *CollisionLog
	options   IteratorOptions
	indexIter index.Iterator
	reader    fio.Manager
	size      int64

	started bool
	done    bool
	key     []byte
	value   []byte
	err     error
}

// IteratorOptions narrows an iteration. Start, when set, skips keys before
// it (after it when Reverse is set).
type IteratorOptions struct {
	Start   []byte
	Reverse bool
}

func (cl *CollisionLog) Iterate() *Iterator {
	return cl.IterateWith(IteratorOptions{})
}

func (cl *CollisionLog) IterateWith(opts IteratorOptions) *Iterator {
	it := &Iterator{log: cl, options: opts}
	if cl.closed {
		it.err = ErrLogClosed
		it.done = true
		return it
	}
	it.indexIter = cl.index.Iterator(opts.Reverse)
	return it
}

// Next advances to the next pair and reports whether there is one. It
// returns false at the end and after the first error.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if it.started {
		it.indexIter.Next()
	} else if it.options.Start != nil {
		it.started = true
		it.indexIter.Seek(it.options.Start)
	} else {
		it.started = true
		it.indexIter.Rewind()
	}
	if !it.indexIter.Valid() {
		return it.finish(nil)
	}

	if it.reader == nil {
		reader, err := fio.NewReadManager(it.log.path, it.log.readMode)
		if err != nil {
			return it.finish(err)
		}
		size, err := reader.Size()
		if err != nil {
			_ = reader.Close()
			return it.finish(err)
		}
		it.reader, it.size = reader, size
	}

	key, pos := it.indexIter.Key(), it.indexIter.Value()
	record, err := it.log.readIndexed(it.reader, key, pos.Position, it.size)
	if err != nil {
		return it.finish(err)
	}
	it.key, it.value = record.Key, record.Value
	return true
}

func (it *Iterator) finish(err error) bool {
	it.done = true
	it.err = err
	it.key, it.value = nil, nil
	if it.reader != nil {
		if closeErr := it.reader.Close(); closeErr != nil && it.err == nil {
			it.err = closeErr
		}
		it.reader = nil
	}
	return false
}

func (it *Iterator) Key() []byte {
	return it.key
}

func (it *Iterator) Value() []byte {
	return it.value
}

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

func (it *Iterator) Close() error {
	it.done = true
	if it.indexIter != nil {
		it.indexIter.Close()
	}
	if it.reader == nil {
		return nil
	}
	reader := it.reader
	it.reader = nil
	return reader.Close()
}
