package store

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"

	errs "github.com/ctfer-io/race-manager/pkg/errors"
)

const KindEtcd = "etcd"

// EtcdKV is the subset of the etcd manager the store relies on.
type EtcdKV interface {
	PutIfAbsent(ctx context.Context, k, v string) (*clientv3.TxnResponse, error)
	DeletePrefix(ctx context.Context, pfx string) (*clientv3.DeleteResponse, error)
	Close() error
}

// EtcdStore keeps namespaces as key prefixes of an etcd cluster:
//
//	/race-manager/<hash(namespace)>/race-finished
//
// The finish marker is written by a transaction that only puts the key if its
// create revision is 0, i.e. it does not exist. etcd serializes transactions,
// so a single racer sees the transaction succeed.
//
// It enables racers in isolated contexts (e.g. Pods of a Kubernetes cluster)
// to share the same backend, where a filesystem could not be shared.
type EtcdStore struct {
	kv     EtcdKV
	prefix string
}

var _ RaceStore = (*EtcdStore)(nil)

func NewEtcdStore(kv EtcdKV, prefix string) *EtcdStore {
	return &EtcdStore{
		kv:     kv,
		prefix: prefix,
	}
}

func (s *EtcdStore) Kind() string {
	return KindEtcd
}

func etcdPrefix(ns string) string {
	return "/race-manager/" + Hash(ns) + "/"
}

// Open does not reach etcd: a namespace only exists through its keys, which
// are created by the insert itself.
func (s *EtcdStore) Open(ctx context.Context, id string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ns := Namespace(s.prefix, id)
	return &etcdHandle{
		kv:  s.kv,
		ns:  ns,
		key: etcdPrefix(ns) + FinishMarker,
	}, nil
}

func (s *EtcdStore) Destroy(ctx context.Context, id string) error {
	ns := Namespace(s.prefix, id)
	if _, err := s.kv.DeletePrefix(ctx, etcdPrefix(ns)); err != nil {
		return &errs.ErrBackend{Op: "destroy", Namespace: ns, Sub: err}
	}
	return nil
}

func (s *EtcdStore) Close() error {
	return s.kv.Close()
}

type etcdHandle struct {
	kv  EtcdKV
	ns  string
	key string
}

func (h *etcdHandle) Namespace() string {
	return h.ns
}

func (h *etcdHandle) InsertFinishMarker(ctx context.Context) (Outcome, error) {
	res, err := h.kv.PutIfAbsent(ctx, h.key, string(sentinel))
	if err != nil {
		return 0, &errs.ErrBackend{Op: "insert", Namespace: h.ns, Sub: err}
	}
	if res.Succeeded {
		return Committed, nil
	}

	// The compare failed, the else branch must then have read the marker of
	// the winner. Anything else is not a definitive uniqueness violation.
	for _, op := range res.Responses {
		if rng := op.GetResponseRange(); rng != nil && len(rng.Kvs) != 0 {
			return Rejected, nil
		}
	}
	return 0, &errs.ErrBackend{Op: "insert", Namespace: h.ns, Sub: errs.ErrAmbiguousAbort}
}

func (h *etcdHandle) Close() error {
	return nil
}
