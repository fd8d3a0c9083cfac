package store

import (
	"context"
	"sync"
	"sync/atomic"

	errs "github.com/ctfer-io/race-manager/pkg/errors"
)

const KindMemory = "memory"

var (
	localStore = NewMemoryStore()
)

// MemoryStore keeps namespaces in the process memory.
// It only arbitrates racers sharing the same process, and does not survive
// a restart. Use it for tests or when embedding the coordinator in a single
// binary.
type MemoryStore struct {
	prefix     string
	namespaces sync.Map // namespace -> *sync.Map
	closed     atomic.Bool
}

var _ RaceStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty, isolated memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LocalStore returns the process-wide memory store.
func LocalStore() *MemoryStore {
	return localStore
}

// WithPrefix sets the namespace prefix and returns the store.
func (s *MemoryStore) WithPrefix(prefix string) *MemoryStore {
	s.prefix = prefix
	return s
}

func (s *MemoryStore) Kind() string {
	return KindMemory
}

func (s *MemoryStore) Open(ctx context.Context, id string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, errs.ErrStoreClosed
	}

	ns := Namespace(s.prefix, id)
	s.namespace(ns)
	return &memoryHandle{
		store: s,
		ns:    ns,
	}, nil
}

// namespace loads the keys of ns, creating them if absent.
func (s *MemoryStore) namespace(ns string) *sync.Map {
	keys, _ := s.namespaces.LoadOrStore(ns, &sync.Map{})
	return keys.(*sync.Map)
}

func (s *MemoryStore) Destroy(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.namespaces.Delete(Namespace(s.prefix, id))
	return nil
}

func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

type memoryHandle struct {
	store  *MemoryStore
	ns     string
	closed atomic.Bool
}

func (h *memoryHandle) Namespace() string {
	return h.ns
}

func (h *memoryHandle) InsertFinishMarker(ctx context.Context) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if h.closed.Load() {
		return 0, errs.ErrStoreClosed
	}

	// The namespace is resolved again so a marker is never written into a
	// namespace destroyed since Open.
	if _, loaded := h.store.namespace(h.ns).LoadOrStore(FinishMarker, sentinel); loaded {
		return Rejected, nil
	}
	return Committed, nil
}

func (h *memoryHandle) Close() error {
	h.closed.Store(true)
	return nil
}
