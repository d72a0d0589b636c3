package index

// Iterator walks a point-in-time view of an Indexer in key order.
type Iterator interface {
	Rewind()
	Seek(key []byte)
	Next()
	Valid() bool
	Key() []byte
	Value() *Entry
	Close()
}
