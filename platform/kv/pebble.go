package kv

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"
)

// expiryHeader is the size of the big-endian unix-nano expiry stored before each value.
const expiryHeader = 8

// PebbleStore is an embedded Store for single-node deployments without Redis.
// Pebble has no native TTL, so every value carries its expiry and is dropped lazily.
type PebbleStore struct {
	db  *pebble.DB
	now func() time.Time
}

// NewPebbleStore opens (or creates) the database directory at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db, now: time.Now}, nil
}

func (s *PebbleStore) encode(value []byte, ttl time.Duration) []byte {
	out := make([]byte, expiryHeader+len(value))
	var expires int64
	if ttl > 0 {
		expires = s.now().Add(ttl).UnixNano()
	}
	binary.BigEndian.PutUint64(out[:expiryHeader], uint64(expires))
	copy(out[expiryHeader:], value)
	return out
}

func (s *PebbleStore) expired(raw []byte) bool {
	if len(raw) < expiryHeader {
		return true
	}
	expires := int64(binary.BigEndian.Uint64(raw[:expiryHeader]))
	return expires != 0 && s.now().UnixNano() >= expires
}

func (s *PebbleStore) Get(_ context.Context, key string) ([]byte, error) {
	raw, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	if s.expired(raw) {
		_ = s.db.Delete([]byte(key), pebble.NoSync)
		return nil, ErrNotFound
	}

	out := make([]byte, len(raw)-expiryHeader)
	copy(out, raw[expiryHeader:])
	return out, nil
}

func (s *PebbleStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return s.db.Set([]byte(key), s.encode(value, ttl), pebble.Sync)
}

func (s *PebbleStore) Delete(_ context.Context, key string) error {
	return s.db.Delete([]byte(key), pebble.Sync)
}

func (s *PebbleStore) List(ctx context.Context, prefix string) ([]string, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound([]byte(prefix)),
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	keys := make([]string, 0)
	var stale [][]byte
	for ok := it.First(); ok; ok = it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.expired(it.Value()) {
			stale = append(stale, append([]byte(nil), it.Key()...))
			continue
		}
		keys = append(keys, string(it.Key()))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	for _, key := range stale {
		_ = s.db.Delete(key, pebble.NoSync)
	}
	return keys, nil
}

func (s *PebbleStore) Ping(context.Context) error {
	if s.db == nil {
		return errors.New("pebble store closed")
	}
	return nil
}

func (s *PebbleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// prefixUpperBound returns the smallest key greater than every key with the given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
