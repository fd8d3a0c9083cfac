package store

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	errs "github.com/ctfer-io/race-manager/pkg/errors"
)

const KindFS = "fs"

// FSStore keeps one directory per namespace under a root directory.
//
// The finish marker is first written to a private temporary file, then
// hard-linked to its final name. link(2) fails with EEXIST when the name is
// already taken, so the marker appears atomically, complete, and only once,
// whatever the number of processes contending for it.
type FSStore struct {
	dir    string
	prefix string
}

var _ RaceStore = (*FSStore)(nil)

// OpenFS returns a store rooted at dir, creating it if necessary.
func OpenFS(dir, prefix string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, &errs.ErrBackend{Op: "mkdir", Sub: err}
	}
	return &FSStore{
		dir:    dir,
		prefix: prefix,
	}, nil
}

func (s *FSStore) Kind() string {
	return KindFS
}

func (s *FSStore) path(ns string) string {
	return filepath.Join(s.dir, Hash(ns))
}

func (s *FSStore) Open(ctx context.Context, id string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ns := Namespace(s.prefix, id)
	dir := s.path(ns)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, &errs.ErrBackend{Op: "open", Namespace: ns, Sub: err}
	}
	return &fsHandle{
		ns:  ns,
		dir: dir,
	}, nil
}

func (s *FSStore) Destroy(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ns := Namespace(s.prefix, id)
	if err := os.RemoveAll(s.path(ns)); err != nil {
		return &errs.ErrBackend{Op: "destroy", Namespace: ns, Sub: err}
	}
	if err := syncDir(s.dir); err != nil {
		return &errs.ErrBackend{Op: "destroy", Namespace: ns, Sub: err}
	}
	return nil
}

func (s *FSStore) Close() error {
	return nil
}

type fsHandle struct {
	ns     string
	dir    string
	closed bool
}

func (h *fsHandle) Namespace() string {
	return h.ns
}

func (h *fsHandle) InsertFinishMarker(ctx context.Context) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if h.closed {
		return 0, errs.ErrStoreClosed
	}

	// Recreate the namespace if destroyed since Open
	if err := os.MkdirAll(h.dir, 0o750); err != nil {
		return 0, &errs.ErrBackend{Op: "insert", Namespace: h.ns, Sub: err}
	}

	tmp, err := writeTemp(h.dir)
	if err != nil {
		return 0, &errs.ErrBackend{Op: "insert", Namespace: h.ns, Sub: err}
	}
	defer func() {
		_ = os.Remove(tmp)
	}()

	if err := os.Link(tmp, filepath.Join(h.dir, FinishMarker)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Rejected, nil
		}
		return 0, &errs.ErrBackend{Op: "insert", Namespace: h.ns, Sub: err}
	}
	if err := syncDir(h.dir); err != nil {
		return 0, &errs.ErrBackend{Op: "insert", Namespace: h.ns, Sub: err}
	}
	return Committed, nil
}

func (h *fsHandle) Close() error {
	h.closed = true
	return nil
}

// writeTemp writes the sentinel into a uniquely named file of dir and
// flushes it to disk.
func writeTemp(dir string) (_ string, err error) {
	name := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
		if err != nil {
			_ = os.Remove(name)
		}
	}()

	if _, err := f.Write(sentinel); err != nil {
		return "", err
	}
	if err := f.Sync(); err != nil {
		return "", err
	}
	return name, nil
}

// syncDir flushes the directory entries of dir so created or removed
// names are durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return multierr.Combine(d.Sync(), d.Close())
}
