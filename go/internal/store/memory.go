package store

import (
	"context"
	"sync"
)

// MemoryStore keeps everything in process. Update holds the write lock for
// the whole read-modify-write.
type MemoryStore struct {
	mu    sync.RWMutex
	kv    map[string][]byte
	lists map[string][][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:    make(map[string][]byte),
		lists: make(map[string][][]byte),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBytes(v), nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = copyBytes(value)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.kv[key]
	var in []byte
	if ok {
		in = copyBytes(current)
	}
	next, err := fn(in)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return in, nil
	}
	s.kv[key] = copyBytes(next)
	return next, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	delete(s.lists, key)
	return nil
}

func (s *MemoryStore) ListAppend(ctx context.Context, key string, value []byte, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.lists[key], copyBytes(value))
	if max > 0 && len(list) > max {
		list = append([][]byte(nil), list[len(list)-max:]...)
	}
	s.lists[key] = list
	return nil
}

func (s *MemoryStore) List(ctx context.Context, key string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.lists[key]
	out := make([][]byte, len(list))
	for i, v := range list {
		out[i] = copyBytes(v)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
