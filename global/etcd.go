package global

import (
	"context"
	"sync"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/ctfer-io/race-manager/pkg/services/etcd"
)

var (
	etcdInstance *etcd.Manager
	etcdOnce     sync.Once
)

func GetEtcdManager() *etcd.Manager {
	etcdOnce.Do(func() {
		etcdInstance = etcd.NewManager(etcd.Config{
			Endpoint: Conf.Etcd.Endpoint,
			Username: Conf.Etcd.Username,
			Password: Conf.Etcd.Password,
			Logger:   Log().Sub,
			CBOnStateChange: func(name string, from, to gobreaker.State) {
				Log().Warn(context.Background(), "circuit breaker state changed",
					zap.String("name", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		})
	})
	return etcdInstance
}
