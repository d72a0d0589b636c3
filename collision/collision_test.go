package collision

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"collision-kv/collision/data"
	"collision-kv/collision/index"
	fio "collision-kv/collision/io"
)

var readModes = map[string]fio.FileIOType{
	"file": fio.FIO,
	"mmap": fio.MemoryMap,
}

func fileSize(t *testing.T, cl *CollisionLog) int64 {
	t.Helper()
	info, err := os.Stat(cl.Path())
	require.NoError(t, err)
	return info.Size()
}

func reopen(t *testing.T, cl *CollisionLog, dir string, opts ...Option) *CollisionLog {
	t.Helper()
	require.NoError(t, cl.Close())
	cl, err := Open(dir, cl.Prefix(), opts...)
	require.NoError(t, err)
	return cl
}

func collect(t *testing.T, cl *CollisionLog) [][2]string {
	t.Helper()
	var pairs [][2]string
	it := cl.Iterate()
	defer it.Close()
	for it.Next() {
		pairs = append(pairs, [2]string{string(it.Key()), string(it.Value())})
	}
	require.NoError(t, it.Err())
	return pairs
}

func TestRoundTrip(t *testing.T) {
	for name, mode := range readModes {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			opts := []Option{WithReadMode(mode), WithLogger(zaptest.NewLogger(t))}

			cl, err := Create(dir, 0, opts...)
			require.NoError(t, err)
			require.NoError(t, cl.Insert([]byte("hello"), []byte("world")))

			value, err := cl.Get([]byte("hello"))
			require.NoError(t, err)
			require.Equal(t, "world", string(value))

			cl = reopen(t, cl, dir, opts...)
			defer cl.Close()
			value, err = cl.Get([]byte("hello"))
			require.NoError(t, err)
			require.Equal(t, "world", string(value))
		})
	}
}

func TestCreate_MakesDirectories(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	cl, err := Create(dir, 7)
	require.NoError(t, err)
	defer cl.Close()

	require.Equal(t, uint32(7), cl.Prefix())
	require.Equal(t, filepath.Join(dir, "collision-7.log"), cl.Path())
	require.Equal(t, int64(0), fileSize(t, cl))
}

func TestDelete_Tombstone(t *testing.T) {
	dir := t.TempDir()
	cl, err := Create(dir, 1)
	require.NoError(t, err)

	require.NoError(t, cl.Insert([]byte("k"), []byte("v")))
	require.NoError(t, cl.Delete([]byte("k")))
	_, err = cl.Get([]byte("k"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	cl = reopen(t, cl, dir)
	defer cl.Close()
	_, err = cl.Get([]byte("k"))
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.Empty(t, collect(t, cl))
}

func TestDelete_AbsentKeyWritesNothing(t *testing.T) {
	cl, err := Create(t.TempDir(), 1)
	require.NoError(t, err)
	defer cl.Close()

	require.NoError(t, cl.Delete([]byte("ghost")))
	require.Equal(t, int64(0), fileSize(t, cl))

	require.NoError(t, cl.Insert([]byte("k"), []byte("v")))
	require.NoError(t, cl.Delete([]byte("k")))
	size := fileSize(t, cl)
	require.NoError(t, cl.Delete([]byte("k")))
	require.Equal(t, size, fileSize(t, cl))
}

func TestInsert_LastWriteWins(t *testing.T) {
	dir := t.TempDir()
	cl, err := Create(dir, 2)
	require.NoError(t, err)

	require.NoError(t, cl.Insert([]byte("k"), []byte("v1")))
	require.NoError(t, cl.Insert([]byte("k"), []byte("v2")))
	value, err := cl.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(value))

	cl = reopen(t, cl, dir)
	defer cl.Close()
	value, err = cl.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(value))
	require.Equal(t, [][2]string{{"k", "v2"}}, collect(t, cl))
}

func TestIterate_Ordered(t *testing.T) {
	for name, mode := range readModes {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			cl, err := Create(dir, 3, WithReadMode(mode))
			require.NoError(t, err)

			for _, k := range []string{"0", "2", "1", "4", "3"} {
				require.NoError(t, cl.Insert([]byte(k), []byte(k)))
			}
			require.NoError(t, cl.Delete([]byte("4")))

			want := [][2]string{{"0", "0"}, {"1", "1"}, {"2", "2"}, {"3", "3"}}
			require.Equal(t, want, collect(t, cl))

			cl = reopen(t, cl, dir, WithReadMode(mode))
			defer cl.Close()
			require.Equal(t, want, collect(t, cl))
		})
	}
}

func TestIterateWith_StartAndReverse(t *testing.T) {
	for name, mode := range readModes {
		t.Run(name, func(t *testing.T) {
			cl, err := Create(t.TempDir(), 3, WithReadMode(mode))
			require.NoError(t, err)
			defer cl.Close()
			for _, k := range []string{"b", "d", "a", "e", "c"} {
				require.NoError(t, cl.Insert([]byte(k), []byte(strings.ToUpper(k))))
			}

			tests := []struct {
				name string
				opts IteratorOptions
				want []string
			}{
				{"ascending", IteratorOptions{}, []string{"a", "b", "c", "d", "e"}},
				{"from present key", IteratorOptions{Start: []byte("c")}, []string{"c", "d", "e"}},
				{"from absent key", IteratorOptions{Start: []byte("bb")}, []string{"c", "d", "e"}},
				{"past the end", IteratorOptions{Start: []byte("f")}, nil},
				{"descending", IteratorOptions{Reverse: true}, []string{"e", "d", "c", "b", "a"}},
				{"descending from key", IteratorOptions{Start: []byte("cc"), Reverse: true}, []string{"c", "b", "a"}},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					it := cl.IterateWith(tt.opts)
					defer it.Close()
					var keys []string
					for it.Next() {
						keys = append(keys, string(it.Key()))
						require.Equal(t, strings.ToUpper(string(it.Key())), string(it.Value()))
					}
					require.NoError(t, it.Err())
					require.Equal(t, tt.want, keys)
				})
			}
		})
	}
}

func TestIterate_IndependentIterators(t *testing.T) {
	cl, err := Create(t.TempDir(), 4)
	require.NoError(t, err)
	defer cl.Close()
	for _, k := range []string{"b", "a", "c"} {
		require.NoError(t, cl.Insert([]byte(k), []byte(strings.ToUpper(k))))
	}

	first, second := cl.Iterate(), cl.Iterate()
	defer first.Close()
	defer second.Close()

	require.True(t, first.Next())
	require.Equal(t, "a", string(first.Key()))
	require.True(t, first.Next())
	require.True(t, second.Next())
	require.Equal(t, "a", string(second.Key()))
	require.Equal(t, "b", string(first.Key()))
	require.Equal(t, "B", string(first.Value()))
}

func TestIterate_SeesIndexAtCreation(t *testing.T) {
	cl, err := Create(t.TempDir(), 4)
	require.NoError(t, err)
	defer cl.Close()
	require.NoError(t, cl.Insert([]byte("a"), []byte("1")))

	it := cl.Iterate()
	defer it.Close()
	require.NoError(t, cl.Insert([]byte("b"), []byte("2")))

	require.True(t, it.Next())
	require.Equal(t, "a", string(it.Key()))
	require.False(t, it.Next())
	require.NoError(t, it.Err())
	require.False(t, it.Next())
}

func TestIterate_Empty(t *testing.T) {
	cl, err := Create(t.TempDir(), 4, WithReadMode(fio.MemoryMap))
	require.NoError(t, err)
	defer cl.Close()

	it := cl.Iterate()
	require.False(t, it.Next())
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
}

func TestReopen_Equivalence(t *testing.T) {
	dir := t.TempDir()
	cl, err := Create(dir, 5)
	require.NoError(t, err)

	r := rand.New(rand.NewSource(42))
	model := map[string]string{}
	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("key-%03d", r.Intn(200))
		if r.Intn(3) == 0 {
			require.NoError(t, cl.Delete([]byte(key)))
			delete(model, key)
			continue
		}
		value := fmt.Sprintf("value-%d", i)
		require.NoError(t, cl.Insert([]byte(key), []byte(value)))
		model[key] = value
	}

	keys := make([]string, 0, len(model))
	for k := range model {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	want := make([][2]string, 0, len(keys))
	for _, k := range keys {
		want = append(want, [2]string{k, model[k]})
	}
	require.Equal(t, want, collect(t, cl))
	before := cl.Stat()

	cl = reopen(t, cl, dir)
	defer cl.Close()
	require.Equal(t, want, collect(t, cl))
	require.Equal(t, before, cl.Stat())
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%03d", i)
		value, err := cl.Get([]byte(key))
		if v, ok := model[key]; ok {
			require.NoError(t, err)
			require.Equal(t, v, string(value))
		} else {
			require.ErrorIs(t, err, ErrKeyNotFound)
		}
	}
}

func TestReopen_AppendsAfterExistingRecords(t *testing.T) {
	dir := t.TempDir()
	cl, err := Create(dir, 6)
	require.NoError(t, err)
	require.NoError(t, cl.Insert([]byte("a"), []byte("1")))

	cl = reopen(t, cl, dir)
	require.NoError(t, cl.Insert([]byte("b"), []byte("2")))
	require.Equal(t, int64(20), cl.Stat().DiskSize)

	cl = reopen(t, cl, dir)
	defer cl.Close()
	require.Equal(t, [][2]string{{"a", "1"}, {"b", "2"}}, collect(t, cl))
}

func TestOpen_MissingLog(t *testing.T) {
	dir := t.TempDir()
	cl, err := Open(dir, 9)
	require.Nil(t, cl)
	require.ErrorIs(t, err, ErrNoLog)
	require.ErrorIs(t, err, fs.ErrNotExist)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)

	_, err = Open(filepath.Join(dir, "missing"), 9)
	require.ErrorIs(t, err, ErrNoLog)
	_, err = os.Stat(filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestCreate_Duplicate(t *testing.T) {
	dir := t.TempDir()
	cl, err := Create(dir, 10)
	require.NoError(t, err)
	require.NoError(t, cl.Insert([]byte("k"), []byte("v")))
	size := fileSize(t, cl)

	again, err := Create(dir, 10)
	require.Nil(t, again)
	require.ErrorIs(t, err, ErrLogExists)
	require.ErrorIs(t, err, fs.ErrExist)

	require.Equal(t, size, fileSize(t, cl))
	cl = reopen(t, cl, dir)
	defer cl.Close()
	value, err := cl.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v", string(value))
}

func TestGet_CorruptIndex(t *testing.T) {
	cl, err := Create(t.TempDir(), 11)
	require.NoError(t, err)
	defer cl.Close()

	require.NoError(t, cl.Insert([]byte("a"), []byte("1")))
	require.NoError(t, cl.Insert([]byte("b"), []byte("2")))
	require.NoError(t, cl.Delete([]byte("b")))
	// a: 0..10, b: 10..20, tombstone b: 20..29

	tests := map[string]*index.Entry{
		"tombstone":    {Position: 20, Size: 9},
		"other key":    {Position: 0, Size: 10},
		"past the end": {Position: 1000, Size: 10},
		"mid record":   {Position: 3, Size: 10},
	}
	for name, pos := range tests {
		t.Run(name, func(t *testing.T) {
			cl.index.Put([]byte("b"), pos)
			defer cl.index.Delete([]byte("b"))

			_, err := cl.Get([]byte("b"))
			require.ErrorIs(t, err, ErrCorruptIndex)
			require.False(t, errors.Is(err, ErrKeyNotFound))

			it := cl.Iterate()
			for it.Next() {
			}
			require.ErrorIs(t, it.Err(), ErrCorruptIndex)
			require.NoError(t, it.Close())
		})
	}
}

func TestOpen_TornTail(t *testing.T) {
	dir := t.TempDir()
	cl, err := Create(dir, 12)
	require.NoError(t, err)
	require.NoError(t, cl.Insert([]byte("a"), []byte("1")))
	require.NoError(t, cl.Insert([]byte("b"), []byte("2")))
	path := cl.Path()
	require.NoError(t, cl.Close())
	require.NoError(t, os.Truncate(path, 15))

	_, err = Open(dir, 12)
	require.ErrorIs(t, err, ErrTruncatedRecord)
	var terr *data.TruncatedRecordError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, int64(10), terr.Offset)

	dropped, err := Repair(dir, 12)
	require.NoError(t, err)
	require.Equal(t, int64(5), dropped)

	cl, err = Open(dir, 12)
	require.NoError(t, err)
	defer cl.Close()
	require.Equal(t, [][2]string{{"a", "1"}}, collect(t, cl))

	dropped, err = Repair(dir, 12)
	require.NoError(t, err)
	require.Equal(t, int64(0), dropped)
}

func TestRepair_MissingLog(t *testing.T) {
	_, err := Repair(t.TempDir(), 1)
	require.ErrorIs(t, err, ErrNoLog)
}

func TestApply(t *testing.T) {
	cl, err := Create(t.TempDir(), 13)
	require.NoError(t, err)
	defer cl.Close()

	require.NoError(t, cl.Apply(InsertCommand([]byte("k"), []byte("v"))))
	value, err := cl.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v", string(value))

	require.NoError(t, cl.Apply(DeleteCommand([]byte("k"))))
	_, err = cl.Get([]byte("k"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.ErrorIs(t, cl.Apply(&Command{Op: Op(7), Key: []byte("k")}), ErrInvalidCommand)
	require.ErrorIs(t, cl.Apply(nil), ErrInvalidCommand)
}

func TestStat(t *testing.T) {
	cl, err := Create(t.TempDir(), 14)
	require.NoError(t, err)
	defer cl.Close()

	require.NoError(t, cl.Insert([]byte("a"), []byte("1")))  // 10
	require.NoError(t, cl.Insert([]byte("a"), []byte("22"))) // 11
	require.NoError(t, cl.Insert([]byte("b"), []byte("3")))  // 10
	require.NoError(t, cl.Delete([]byte("b")))               // 9

	require.Equal(t, &Stat{
		Prefix:          14,
		KeyNum:          1,
		DiskSize:        40,
		ReclaimableSize: 10 + 10 + 9,
	}, cl.Stat())
	require.NoError(t, cl.Sync())
}

func TestClosedLog(t *testing.T) {
	cl, err := Create(t.TempDir(), 15)
	require.NoError(t, err)
	require.NoError(t, cl.Insert([]byte("a"), []byte("1")))
	require.NoError(t, cl.Close())
	require.NoError(t, cl.Close())

	require.ErrorIs(t, cl.Insert([]byte("a"), []byte("1")), ErrLogClosed)
	require.ErrorIs(t, cl.Delete([]byte("a")), ErrLogClosed)
	_, err = cl.Get([]byte("a"))
	require.ErrorIs(t, err, ErrLogClosed)
	require.ErrorIs(t, cl.Sync(), ErrLogClosed)

	it := cl.Iterate()
	require.False(t, it.Next())
	require.ErrorIs(t, it.Err(), ErrLogClosed)
}

func TestInsert_CopiesKey(t *testing.T) {
	cl, err := Create(t.TempDir(), 16)
	require.NoError(t, err)
	defer cl.Close()

	key := []byte("abc")
	require.NoError(t, cl.Insert(key, []byte("v")))
	key[0] = 'x'
	value, err := cl.Get([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, "v", string(value))
}

func TestInsert_BinaryKeysAndEmptyValues(t *testing.T) {
	dir := t.TempDir()
	cl, err := Create(dir, 17)
	require.NoError(t, err)

	keys := [][]byte{{}, {0x00}, {0xff, 0xff, 0xff, 0xff}, bytes.Repeat([]byte{7}, 1<<17)}
	for i, k := range keys {
		require.NoError(t, cl.Insert(k, bytes.Repeat([]byte{byte(i)}, i)))
	}
	cl = reopen(t, cl, dir)
	defer cl.Close()
	for i, k := range keys {
		value, err := cl.Get(k)
		require.NoError(t, err)
		require.Equal(t, i, len(value))
	}
	require.Len(t, collect(t, cl), len(keys))
}

func TestOptions(t *testing.T) {
	_, err := Create(t.TempDir(), 0, WithReadMode(fio.FileIOType(9)))
	require.Error(t, err)
	_, err = Create(t.TempDir(), 0, WithLogger(nil))
	require.Error(t, err)
}

type benchmarkTestCase struct {
	name string
	size int
}

var benchmarkSizes = []benchmarkTestCase{
	{"128B", 128},
	{"1K", 1024},
	{"4K", 4096},
	{"32K", 32768},
}

func BenchmarkGet(b *testing.B) {
	for _, tt := range benchmarkSizes {
		b.Run(tt.name, func(b *testing.B) {
			b.SetBytes(int64(tt.size))
			cl, err := Create(b.TempDir(), 0)
			if err != nil {
				b.Fatal(err)
			}
			defer cl.Close()
			key := []byte("foo")
			value := []byte(strings.Repeat(" ", tt.size))
			if err := cl.Insert(key, value); err != nil {
				b.Fatal(err)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				val, err := cl.Get(key)
				if err != nil {
					b.Fatal(err)
				}
				if !bytes.Equal(val, value) {
					b.Errorf("unexpected value")
				}
			}
		})
	}
}

func BenchmarkInsert(b *testing.B) {
	for _, tt := range benchmarkSizes {
		b.Run(tt.name, func(b *testing.B) {
			b.SetBytes(int64(tt.size))
			cl, err := Create(b.TempDir(), 0)
			if err != nil {
				b.Fatal(err)
			}
			defer cl.Close()
			key := []byte("foo")
			value := []byte(strings.Repeat(" ", tt.size))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := cl.Insert(key, value); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

var errDiskFull = errors.New("disk full")

// flakyFile lets only the first failAfter bytes of the next write through
// and then reports errDiskFull.
type flakyFile struct {
	fio.Manager
	failAfter    int
	failTruncate bool
}

func (f *flakyFile) Write(b []byte) (int, error) {
	if f.failAfter < 0 {
		return f.Manager.Write(b)
	}
	n, err := f.Manager.Write(b[:f.failAfter])
	f.failAfter = -1
	if err != nil {
		return n, err
	}
	return n, errDiskFull
}

func (f *flakyFile) Truncate(size int64) error {
	if f.failTruncate {
		return errors.New("read-only file system")
	}
	return f.Manager.Truncate(size)
}

func withFlakyFile(cl *CollisionLog) *flakyFile {
	f := &flakyFile{Manager: cl.file, failAfter: -1}
	cl.file = f
	cl.writer = data.NewWriter(f, cl.writer.Offset())
	return f
}

func TestAppend_PartialWriteIsRolledBack(t *testing.T) {
	dir := t.TempDir()
	cl, err := Create(dir, 12, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	f := withFlakyFile(cl)
	require.NoError(t, cl.Insert([]byte("a"), []byte("1")))

	f.failAfter = 3
	require.ErrorIs(t, cl.Insert([]byte("b"), []byte("2")), errDiskFull)
	require.Equal(t, int64(10), fileSize(t, cl))

	f.failAfter = 5
	require.ErrorIs(t, cl.Delete([]byte("a")), errDiskFull)
	require.Equal(t, int64(10), fileSize(t, cl))

	require.NoError(t, cl.Insert([]byte("c"), []byte("3")))
	value, err := cl.Get([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, "3", string(value))
	_, err = cl.Get([]byte("b"))
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.Equal(t, int64(20), cl.Stat().DiskSize)
	require.Equal(t, int64(20), fileSize(t, cl))

	cl = reopen(t, cl, dir)
	defer cl.Close()
	require.Equal(t, [][2]string{{"a", "1"}, {"c", "3"}}, collect(t, cl))
}

func TestAppend_FailedRollbackStopsWrites(t *testing.T) {
	dir := t.TempDir()
	cl, err := Create(dir, 13, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	f := withFlakyFile(cl)
	require.NoError(t, cl.Insert([]byte("a"), []byte("1")))

	f.failAfter = 3
	f.failTruncate = true
	err = cl.Insert([]byte("b"), []byte("2"))
	require.ErrorIs(t, err, ErrLogFailed)
	require.ErrorIs(t, err, errDiskFull)

	require.ErrorIs(t, cl.Insert([]byte("c"), []byte("3")), ErrLogFailed)
	require.ErrorIs(t, cl.Delete([]byte("a")), ErrLogFailed)
	require.ErrorIs(t, cl.Apply(InsertCommand([]byte("d"), nil)), ErrLogFailed)
	require.Equal(t, int64(13), fileSize(t, cl))

	value, err := cl.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(value))
	require.NoError(t, cl.Close())

	_, err = Open(dir, 13)
	require.ErrorIs(t, err, ErrTruncatedRecord)
	dropped, err := Repair(dir, 13)
	require.NoError(t, err)
	require.Equal(t, int64(3), dropped)

	cl, err = Open(dir, 13)
	require.NoError(t, err)
	defer cl.Close()
	require.Equal(t, [][2]string{{"a", "1"}}, collect(t, cl))
}
