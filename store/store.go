// Package store routes keys to per-prefix collision logs under one
// directory and serializes access to each log.
package store

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"collision-kv/collision"
	"collision-kv/collision/data"
	fio "collision-kv/collision/io"
)

const DefaultPrefixBits = 8

var (
	ErrStoreClosed = errors.New("store is closed")
)

// Store owns the collision logs of one directory. Writers to a prefix are
// serialized and readers share it; different prefixes do not contend.
type Store struct {
	dirPath    string
	prefixBits uint
	readMode   fio.FileIOType
	logger     *zap.Logger
	sugar      *zap.SugaredLogger

	mu     sync.Mutex
	logs   map[uint32]*prefixLog
	closed bool
}

type prefixLog struct {
	mu  sync.RWMutex
	log *collision.CollisionLog
	// checked is set once the disk was consulted and held no log
	checked bool
	closed  bool
}

type Option func(s *Store) error

func WithPrefixBits(bits int) Option {
	return func(s *Store) error {
		if bits < 1 || bits > 32 {
			return fmt.Errorf("prefix bits must be within 1..32, got %d", bits)
		}
		s.prefixBits = uint(bits)
		return nil
	}
}

func WithReadMode(mode fio.FileIOType) Option {
	return func(s *Store) error {
		s.readMode = mode
		return nil
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			return errors.New("nil logger")
		}
		s.logger = logger
		s.sugar = logger.Sugar()
		return nil
	}
}

func New(dirPath string, option ...Option) (*Store, error) {
	if dirPath == "" {
		return nil, errors.New("empty directory path")
	}
	s := &Store{
		dirPath:    dirPath,
		prefixBits: DefaultPrefixBits,
		readMode:   fio.FIO,
		logger:     zap.NewNop(),
		logs:       make(map[uint32]*prefixLog),
	}
	s.sugar = s.logger.Sugar()
	for _, opt := range option {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dirPath, fio.DirPerm); err != nil {
		return nil, err
	}
	s.sugar.Infow("store ready", "dir", dirPath, "prefixBits", s.prefixBits, "readMode", s.readMode)
	return s, nil
}

// PrefixOf returns the bucket prefix of key: the top bits of its murmur3
// hash.
func (s *Store) PrefixOf(key []byte) uint32 {
	return murmur3.Sum32(key) >> (32 - s.prefixBits)
}

func (s *Store) entry(prefix uint32) (*prefixLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	pl, ok := s.logs[prefix]
	if !ok {
		pl = &prefixLog{}
		s.logs[prefix] = pl
	}
	return pl, nil
}

// load opens the prefix's log, creating it when create is set. The caller
// holds pl.mu for writing. pl.log stays nil when there is no log and
// create is false.
func (s *Store) load(pl *prefixLog, prefix uint32, create bool) error {
	if pl.closed {
		return ErrStoreClosed
	}
	if pl.log != nil || (pl.checked && !create) {
		return nil
	}
	opts := []collision.Option{
		collision.WithLogger(s.logger),
		collision.WithReadMode(s.readMode),
	}
	var cl *collision.CollisionLog
	var err error
	if !pl.checked {
		cl, err = collision.Open(s.dirPath, prefix, opts...)
	}
	if pl.checked || errors.Is(err, collision.ErrNoLog) {
		pl.checked = true
		if !create {
			return nil
		}
		cl, err = collision.Create(s.dirPath, prefix, opts...)
	}
	if err != nil {
		return err
	}
	pl.log = cl
	return nil
}

// readLocked runs fn with the prefix's log held for reading. fn receives
// nil when the prefix has no log.
func (s *Store) readLocked(prefix uint32, fn func(cl *collision.CollisionLog) error) error {
	pl, err := s.entry(prefix)
	if err != nil {
		return err
	}
	pl.mu.RLock()
	if pl.log == nil && !pl.checked {
		pl.mu.RUnlock()
		pl.mu.Lock()
		err = s.load(pl, prefix, false)
		pl.mu.Unlock()
		if err != nil {
			return err
		}
		pl.mu.RLock()
	}
	defer pl.mu.RUnlock()
	if pl.closed {
		return ErrStoreClosed
	}
	return fn(pl.log)
}

func (s *Store) writeLocked(prefix uint32, create bool, fn func(cl *collision.CollisionLog) error) error {
	pl, err := s.entry(prefix)
	if err != nil {
		return err
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if err := s.load(pl, prefix, create); err != nil {
		return err
	}
	return fn(pl.log)
}

func (s *Store) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.readLocked(s.PrefixOf(key), func(cl *collision.CollisionLog) error {
		if cl == nil {
			return collision.ErrKeyNotFound
		}
		var err error
		value, err = cl.Get(key)
		return err
	})
	return value, err
}

func (s *Store) Put(key, value []byte) error {
	return s.writeLocked(s.PrefixOf(key), true, func(cl *collision.CollisionLog) error {
		return cl.Insert(key, value)
	})
}

func (s *Store) Delete(key []byte) error {
	return s.writeLocked(s.PrefixOf(key), false, func(cl *collision.CollisionLog) error {
		if cl == nil {
			return nil
		}
		return cl.Delete(key)
	})
}

func (s *Store) Apply(cmd *collision.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if cmd.Op == collision.OpInsert {
		return s.Put(cmd.Key, cmd.Value)
	}
	return s.Delete(cmd.Key)
}

// Scan calls fn for each live pair of prefix in key order until fn returns
// false. Writers to the prefix wait until Scan returns.
func (s *Store) Scan(prefix uint32, fn func(key, value []byte) bool) error {
	return s.ScanWith(prefix, collision.IteratorOptions{}, fn)
}

// ScanWith is Scan with a start key and direction.
func (s *Store) ScanWith(prefix uint32, opts collision.IteratorOptions, fn func(key, value []byte) bool) error {
	return s.readLocked(prefix, func(cl *collision.CollisionLog) error {
		if cl == nil {
			return nil
		}
		it := cl.IterateWith(opts)
		defer it.Close()
		for it.Next() {
			if !fn(it.Key(), it.Value()) {
				break
			}
		}
		return it.Err()
	})
}

// Stat describes the log of prefix, or returns collision.ErrNoLog.
func (s *Store) Stat(prefix uint32) (*collision.Stat, error) {
	var stat *collision.Stat
	err := s.readLocked(prefix, func(cl *collision.CollisionLog) error {
		if cl == nil {
			return collision.ErrNoLog
		}
		stat = cl.Stat()
		return nil
	})
	return stat, err
}

// Prefixes lists, in ascending order, the prefixes that have a log on disk.
func (s *Store) Prefixes() ([]uint32, error) {
	entries, err := os.ReadDir(s.dirPath)
	if err != nil {
		return nil, err
	}
	var prefixes []uint32
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if prefix, ok := data.ParseLogFileName(entry.Name()); ok {
			prefixes = append(prefixes, prefix)
		}
	}
	sort.Slice(prefixes, func(i, j int) bool { return prefixes[i] < prefixes[j] })
	return prefixes, nil
}

// Sync flushes every open log.
func (s *Store) Sync() error {
	var errs []error
	for _, pl := range s.snapshotLogs() {
		pl.mu.Lock()
		if pl.log != nil && !pl.closed {
			errs = append(errs, pl.log.Sync())
		}
		pl.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (s *Store) snapshotLogs() []*prefixLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	pls := make([]*prefixLog, 0, len(s.logs))
	for _, pl := range s.logs {
		pls = append(pls, pl)
	}
	return pls
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, pl := range s.snapshotLogs() {
		pl.mu.Lock()
		pl.closed = true
		if pl.log != nil {
			errs = append(errs, pl.log.Close())
		}
		pl.mu.Unlock()
	}
	s.sugar.Infow("store closed", "dir", s.dirPath)
	return errors.Join(errs...)
}
