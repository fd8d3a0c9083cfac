package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pb "go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	errs "github.com/ctfer-io/race-manager/pkg/errors"
	"github.com/ctfer-io/race-manager/pkg/store"
)

type fakeKV struct {
	txn     *clientv3.TxnResponse
	err     error
	keys    []string
	deleted []string
}

func (kv *fakeKV) PutIfAbsent(_ context.Context, k, _ string) (*clientv3.TxnResponse, error) {
	kv.keys = append(kv.keys, k)
	return kv.txn, kv.err
}

func (kv *fakeKV) DeletePrefix(_ context.Context, pfx string) (*clientv3.DeleteResponse, error) {
	kv.deleted = append(kv.deleted, pfx)
	return &clientv3.DeleteResponse{}, kv.err
}

func (kv *fakeKV) Close() error {
	return nil
}

func rangeOp(kvs ...*mvccpb.KeyValue) *pb.ResponseOp {
	return &pb.ResponseOp{
		Response: &pb.ResponseOp_ResponseRange{
			ResponseRange: &pb.RangeResponse{
				Kvs: kvs,
			},
		},
	}
}

func Test_U_EtcdInsert(t *testing.T) {
	t.Parallel()

	var tests = map[string]struct {
		Txn             *clientv3.TxnResponse
		Err             error
		ExpectedOutcome store.Outcome
		ExpectErr       error
	}{
		"committed": {
			Txn:             &clientv3.TxnResponse{Succeeded: true},
			ExpectedOutcome: store.Committed,
		},
		"rejected": {
			Txn: &clientv3.TxnResponse{
				Succeeded: false,
				Responses: []*pb.ResponseOp{
					rangeOp(&mvccpb.KeyValue{Key: []byte("k"), Value: []byte("true")}),
				},
			},
			ExpectedOutcome: store.Rejected,
		},
		"aborted-without-reason": {
			// compare failed yet the winner's marker could not be read
			Txn: &clientv3.TxnResponse{
				Succeeded: false,
				Responses: []*pb.ResponseOp{rangeOp()},
			},
			ExpectErr: errs.ErrAmbiguousAbort,
		},
		"no-responses": {
			Txn:       &clientv3.TxnResponse{Succeeded: false},
			ExpectErr: errs.ErrAmbiguousAbort,
		},
		"unreachable": {
			Err:       context.DeadlineExceeded,
			ExpectErr: context.DeadlineExceeded,
		},
	}

	for testname, tt := range tests {
		t.Run(testname, func(t *testing.T) {
			kv := &fakeKV{txn: tt.Txn, err: tt.Err}
			st := store.NewEtcdStore(kv, testPrefix)

			h, err := st.Open(t.Context(), "checkout")
			require.NoError(t, err)
			defer func() {
				assert.NoError(t, h.Close())
			}()

			out, err := h.InsertFinishMarker(t.Context())
			if tt.ExpectErr != nil {
				require.Error(t, err)
				assert.True(t, errs.IsBackend(err), "insert failures must be backend failures")
				assert.True(t, errors.Is(err, tt.ExpectErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ExpectedOutcome, out)

			require.Len(t, kv.keys, 1)
			assert.Equal(t, "/race-manager/"+store.Hash(testPrefix+"checkout")+"/"+store.FinishMarker, kv.keys[0])
		})
	}
}

func Test_U_EtcdDestroy(t *testing.T) {
	t.Parallel()

	kv := &fakeKV{}
	st := store.NewEtcdStore(kv, testPrefix)

	require.NoError(t, st.Destroy(t.Context(), "checkout"))
	require.Len(t, kv.deleted, 1)
	assert.Equal(t, "/race-manager/"+store.Hash(testPrefix+"checkout")+"/", kv.deleted[0])

	kv.err = errors.New("etcdserver: request timed out")
	err := st.Destroy(t.Context(), "checkout")
	assert.True(t, errs.IsBackend(err))
}
