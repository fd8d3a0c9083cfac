package etcd

import (
	"context"
	"sync"

	"github.com/sony/gobreaker/v2"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Manager lazily holds an etcd client, recreating it whenever the endpoint
// stops answering, and shields every call behind a circuit breaker.
type Manager struct {
	mu     sync.RWMutex
	client *clientv3.Client
	config Config

	breaker *gobreaker.CircuitBreaker[any]
}

type Config struct {
	Endpoint string
	Username string
	Password string
	Logger   *zap.Logger

	CBOnStateChange func(name string, from, to gobreaker.State)
}

func NewManager(config Config) *Manager {
	return &Manager{
		config: config,
		breaker: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:          "etcd circuit breaker",
			OnStateChange: config.CBOnStateChange,
		}),
	}
}

func (m *Manager) getClient(ctx context.Context) (*clientv3.Client, error) {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	if client != nil {
		if _, err := client.Status(ctx, m.config.Endpoint); err == nil {
			return client, nil
		}
	}

	return m.recreateClient(ctx)
}

func (m *Manager) recreateClient(ctx context.Context) (*clientv3.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		if _, err := m.client.Status(ctx, m.config.Endpoint); err == nil {
			return m.client, nil
		}
		_ = m.client.Close()
		m.client = nil
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints: []string{m.config.Endpoint},
		Username:  m.config.Username,
		Password:  m.config.Password,
		Logger:    m.config.Logger,
		DialOptions: []grpc.DialOption{
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		},
	})
	if err != nil {
		return nil, err
	}

	if _, err := cli.Status(ctx, m.config.Endpoint); err != nil {
		_ = cli.Close()
		return nil, err
	}

	m.client = cli
	return cli, nil
}

// execute runs f against a live client through the circuit breaker.
func execute[T any](ctx context.Context, m *Manager, f func(*clientv3.Client) (T, error)) (T, error) {
	var zero T
	out, err := m.breaker.Execute(func() (any, error) {
		cli, err := m.getClient(ctx)
		if err != nil {
			return nil, err
		}
		return f(cli)
	})
	if err != nil {
		return zero, err
	}
	return out.(T), nil
}

// PutIfAbsent writes k=v only if k has never been created (or was deleted since).
// On conflict the existing key-value is returned in the else branch of the
// transaction so callers can tell a lost write apart from an aborted one.
func (m *Manager) PutIfAbsent(ctx context.Context, k, v string) (*clientv3.TxnResponse, error) {
	return execute(ctx, m, func(cli *clientv3.Client) (*clientv3.TxnResponse, error) {
		return cli.Txn(ctx).
			If(clientv3.Compare(clientv3.CreateRevision(k), "=", 0)).
			Then(clientv3.OpPut(k, v)).
			Else(clientv3.OpGet(k)).
			Commit()
	})
}

// DeletePrefix removes every key under the given prefix.
func (m *Manager) DeletePrefix(ctx context.Context, pfx string) (*clientv3.DeleteResponse, error) {
	return execute(ctx, m, func(cli *clientv3.Client) (*clientv3.DeleteResponse, error) {
		return cli.Delete(ctx, pfx, clientv3.WithPrefix())
	})
}

func (m *Manager) Healthcheck(ctx context.Context) error {
	cli, err := m.getClient(ctx)
	if err != nil {
		return err
	}
	if _, err = cli.Status(ctx, m.config.Endpoint); err != nil {
		return err
	}
	return nil
}

// Close the underlying client, if any was ever opened.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}
