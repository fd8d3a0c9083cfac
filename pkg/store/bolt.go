package store

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	errs "github.com/ctfer-io/race-manager/pkg/errors"
)

const KindBolt = "bolt"

var (
	boltBucket = []byte("race")

	// errMarkerExists rolls back the write transaction of a lost race.
	errMarkerExists = errors.New("finish marker already exists")
)

// BoltStore keeps one bbolt database file per namespace.
//
// bbolt holds an exclusive file lock for as long as a database is open in
// read-write mode, and runs a single write transaction at a time. Checking
// the marker then putting it inside the same write transaction is thus
// serialized across every process sharing the file.
type BoltStore struct {
	dir     string
	prefix  string
	timeout time.Duration
}

var _ RaceStore = (*BoltStore)(nil)

// OpenBolt returns a store keeping its databases under dir.
// timeout bounds how long Open waits for the file lock of a namespace held
// by another racer, 0 meaning forever.
func OpenBolt(dir, prefix string, timeout time.Duration) (*BoltStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, &errs.ErrBackend{Op: "mkdir", Sub: err}
	}
	return &BoltStore{
		dir:     dir,
		prefix:  prefix,
		timeout: timeout,
	}, nil
}

func (s *BoltStore) Kind() string {
	return KindBolt
}

func (s *BoltStore) path(ns string) string {
	return filepath.Join(s.dir, Hash(ns)+".db")
}

func (s *BoltStore) Open(ctx context.Context, id string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ns := Namespace(s.prefix, id)
	db, err := bolt.Open(s.path(ns), 0o600, &bolt.Options{
		Timeout: s.timeout,
	})
	if err != nil {
		return nil, &errs.ErrBackend{Op: "open", Namespace: ns, Sub: err}
	}
	return &boltHandle{
		ns: ns,
		db: db,
	}, nil
}

func (s *BoltStore) Destroy(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ns := Namespace(s.prefix, id)
	if err := os.Remove(s.path(ns)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &errs.ErrBackend{Op: "destroy", Namespace: ns, Sub: err}
	}
	if err := syncDir(s.dir); err != nil {
		return &errs.ErrBackend{Op: "destroy", Namespace: ns, Sub: err}
	}
	return nil
}

func (s *BoltStore) Close() error {
	return nil
}

type boltHandle struct {
	ns string
	db *bolt.DB
}

func (h *boltHandle) Namespace() string {
	return h.ns
}

func (h *boltHandle) InsertFinishMarker(ctx context.Context) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	err := h.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		if b.Get([]byte(FinishMarker)) != nil {
			return errMarkerExists
		}
		return b.Put([]byte(FinishMarker), sentinel)
	})
	switch {
	case err == nil:
		return Committed, nil
	case errors.Is(err, errMarkerExists):
		return Rejected, nil
	case errors.Is(err, bolt.ErrDatabaseNotOpen):
		return 0, errs.ErrStoreClosed
	}
	return 0, &errs.ErrBackend{Op: "insert", Namespace: h.ns, Sub: err}
}

func (h *boltHandle) Close() error {
	if err := h.db.Close(); err != nil {
		return &errs.ErrBackend{Op: "close", Namespace: h.ns, Sub: err}
	}
	return nil
}
