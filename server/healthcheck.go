package server

import (
	"context"
	"net/http"
	"time"

	"github.com/hellofresh/health-go/v5"
	"go.uber.org/zap"

	"github.com/ctfer-io/race-manager/global"
	"github.com/ctfer-io/race-manager/pkg/store"
)

func healthcheck(ctx context.Context) http.Handler {
	opts := []health.Option{
		health.WithComponent(health.Component{
			Name:    "race-manager",
			Version: global.Version,
		}),
		health.WithSystemInfo(),
	}
	h, err := health.New(opts...)
	if err != nil {
		panic(err)
	}

	if global.Conf.Store.Kind == store.KindEtcd {
		global.Log().Info(ctx, "registering healthcheck config",
			zap.String("service", "etcd"),
		)

		_ = h.Register(health.Config{
			Name:    "etcd",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				return global.GetEtcdManager().Healthcheck(ctx)
			},
		})
	}

	return h.Handler()
}
