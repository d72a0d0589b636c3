package index

// Entry locates the latest live record of a key in a collision log.
type Entry struct {
	Position int64 // offset of the record in the log file
	Size     int64 // encoded size of the record
}

// Indexer maps keys to the records that hold their current value, ordered
// by key.
type Indexer interface {
	// Put stores pos for key and returns the entry it replaced, if any.
	Put(key []byte, pos *Entry) *Entry
	Get(key []byte) *Entry
	Delete(key []byte) (*Entry, bool)
	Iterator(reverse bool) Iterator
	Size() int
	Close() error
}
