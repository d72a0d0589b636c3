package index

import (
	"bytes"
	"sort"

	"github.com/google/btree"
)

const defaultDegree = 32

type item struct {
	key   []byte
	entry *Entry
}

func lessItem(a, b *item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// BTree is an ordered in-memory index. It is not safe for concurrent
// mutation.
type BTree struct {
	tree *btree.BTreeG[*item]
}

func NewBTree() *BTree {
	return &BTree{
		tree: btree.NewG(defaultDegree, lessItem),
	}
}

func (bt *BTree) Put(key []byte, pos *Entry) *Entry {
	k := make([]byte, len(key))
	copy(k, key)
	old, ok := bt.tree.ReplaceOrInsert(&item{key: k, entry: pos})
	if !ok {
		return nil
	}
	return old.entry
}

func (bt *BTree) Get(key []byte) *Entry {
	it, ok := bt.tree.Get(&item{key: key})
	if !ok {
		return nil
	}
	return it.entry
}

func (bt *BTree) Delete(key []byte) (*Entry, bool) {
	old, ok := bt.tree.Delete(&item{key: key})
	if !ok {
		return nil, false
	}
	return old.entry, true
}

// Iterator copies the current entries out of the tree. Later mutations are
// not visible to it.
func (bt *BTree) Iterator(reverse bool) Iterator {
	return newBTreeIterator(bt.tree, reverse)
}

func (bt *BTree) Size() int {
	return bt.tree.Len()
}

func (bt *BTree) Close() error {
	bt.tree.Clear(false)
	return nil
}

type btreeIterator struct {
	reverse bool
	cur     int
	items   []*item
}

func newBTreeIterator(tree *btree.BTreeG[*item], reverse bool) *btreeIterator {
	items := make([]*item, 0, tree.Len())
	collect := func(it *item) bool {
		items = append(items, it)
		return true
	}
	if reverse {
		tree.Descend(collect)
	} else {
		tree.Ascend(collect)
	}
	return &btreeIterator{reverse: reverse, items: items}
}

func (bi *btreeIterator) Rewind() {
	bi.cur = 0
}

// Seek moves to the first key at or after key in iteration order.
func (bi *btreeIterator) Seek(key []byte) {
	if bi.reverse {
		bi.cur = sort.Search(len(bi.items), func(i int) bool {
			return bytes.Compare(bi.items[i].key, key) <= 0
		})
	} else {
		bi.cur = sort.Search(len(bi.items), func(i int) bool {
			return bytes.Compare(bi.items[i].key, key) >= 0
		})
	}
}

func (bi *btreeIterator) Next() {
	bi.cur++
}

func (bi *btreeIterator) Valid() bool {
	return bi.cur < len(bi.items)
}

func (bi *btreeIterator) Key() []byte {
	return bi.items[bi.cur].key
}

func (bi *btreeIterator) Value() *Entry {
	return bi.items[bi.cur].entry
}

func (bi *btreeIterator) Close() {
	bi.items = nil
}
