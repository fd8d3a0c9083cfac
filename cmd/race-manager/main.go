package main

import (
	"context"
	"fmt"
	"net/mail"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ctfer-io/race-manager/global"
	"github.com/ctfer-io/race-manager/pkg/race"
	"github.com/ctfer-io/race-manager/pkg/store"
)

var (
	Version = "dev"
	Commit  = ""
	Date    = ""
	BuiltBy = ""
)

const (
	exitError = 1
	// exitLost is returned by the race command when the race was lost, so
	// shell scripts can branch on it.
	exitLost = 3
)

var (
	// Set up by the root Before hook, released by its After hook.
	st           store.RaceStore
	coord        *race.Coordinator
	otelShutdown func(context.Context) error

	exitCode = 0
)

func main() {
	cmd := &cli.Command{
		Name:  "race-manager",
		Usage: "Exactly one winner among concurrent racers, whatever process they live in",
		Flags: []cli.Flag{
			cli.VersionFlag,
			cli.HelpFlag,
			&cli.StringFlag{
				Name:        "dir",
				Aliases:     []string{"d"},
				Sources:     cli.EnvVars("DIR"),
				Category:    "global",
				Destination: &global.Conf.Directory,
				Usage: "Define the directory file-based stores persist races into. " +
					"Racers must share it to contend. Default to $HOME/.local/share/race-manager.",
				TakesFile: true, // a directory actually
			},
			&cli.StringFlag{
				Name:        "log-level",
				Sources:     cli.EnvVars("LOG_LEVEL"),
				Category:    "global",
				Value:       "info",
				Destination: &global.Conf.LogLevel,
				Action: func(_ context.Context, _ *cli.Command, lvl string) error {
					_, err := zapcore.ParseLevel(lvl)
					return err
				},
				Usage: "Use to specify the level of logging.",
			},
			&cli.BoolFlag{
				Name:        "tracing",
				Sources:     cli.EnvVars("TRACING"),
				Category:    "otel",
				Destination: &global.Conf.Otel.Tracing,
				Usage:       "If set, turns on tracing, metrics and logs export through OpenTelemetry (configured by OTEL_* env vars).",
			},
			&cli.StringFlag{
				Name:        "service-name",
				Sources:     cli.EnvVars("OTEL_SERVICE_NAME"),
				Category:    "otel",
				Value:       "race-manager",
				Destination: &global.Conf.Otel.ServiceName,
				Usage:       "Override the service name. Useful when deploying multiple instances to filter signals.",
			},
			&cli.StringFlag{
				Name:        "store",
				Sources:     cli.EnvVars("STORE"),
				Category:    "store",
				Value:       store.KindFS,
				Destination: &global.Conf.Store.Kind,
				Action: func(_ context.Context, _ *cli.Command, kind string) error {
					if !slices.Contains(store.Kinds(), kind) {
						return fmt.Errorf("unsupported store %q, must be one of %s", kind, strings.Join(store.Kinds(), ", "))
					}
					return nil
				},
				Usage: "Define the backend races are decided on (" + strings.Join(store.Kinds(), ", ") + ").",
			},
			&cli.StringFlag{
				Name:        "prefix",
				Sources:     cli.EnvVars("PREFIX"),
				Category:    "store",
				Value:       global.DefaultPrefix,
				Destination: &global.Conf.Store.Prefix,
				Usage:       "Define the prefix of race namespaces. Racers must share it to contend.",
			},
			&cli.DurationFlag{
				Name:        "bolt.timeout",
				Sources:     cli.EnvVars("BOLT_TIMEOUT"),
				Category:    "store",
				Value:       5 * time.Second,
				Destination: &global.Conf.Store.BoltTimeout,
				Usage:       "If store is bolt, define how long to wait for a race database locked by another racer.",
			},
			&cli.DurationFlag{
				Name:        "sqlite.busy-timeout",
				Sources:     cli.EnvVars("SQLITE_BUSY_TIMEOUT"),
				Category:    "store",
				Value:       5 * time.Second,
				Destination: &global.Conf.Store.SQLiteBusyTimeout,
				Usage:       "If store is sqlite, define how long to wait for a race database locked by another racer.",
			},
			&cli.StringFlag{
				Name:        "etcd.endpoint",
				Sources:     cli.EnvVars("ETCD_ENDPOINT"),
				Category:    "store",
				Destination: &global.Conf.Etcd.Endpoint,
				Usage:       "If store is etcd, define the etcd endpoint to reach.",
			},
			&cli.StringFlag{
				Name:        "etcd.username",
				Sources:     cli.EnvVars("ETCD_USERNAME"),
				Category:    "store",
				Destination: &global.Conf.Etcd.Username,
				Usage:       "If store is etcd, define the username to use to connect to the etcd cluster.",
				Action: func(_ context.Context, cmd *cli.Command, _ string) error {
					if cmd.String("etcd.endpoint") == "" {
						return errors.New("must configure an etcd endpoint along credentials")
					}
					return nil
				},
			},
			&cli.StringFlag{
				Name:        "etcd.password",
				Sources:     cli.EnvVars("ETCD_PASSWORD"),
				Category:    "store",
				Destination: &global.Conf.Etcd.Password,
				Usage:       "If store is etcd, define the password to use to connect to the etcd cluster.",
				Action: func(_ context.Context, cmd *cli.Command, _ string) error {
					if cmd.String("etcd.endpoint") == "" {
						return errors.New("must configure an etcd endpoint along credentials")
					}
					return nil
				},
			},
		},
		Before: before,
		After:  after,
		Commands: []*cli.Command{
			serveCommand(),
			raceCommand(),
			endCommand(),
			stampedeCommand(),
		},
		Authors: []any{
			mail.Address{
				Name:    "Lucas Tesson - PandatiX",
				Address: "lucastesson@protonmail.com",
			},
		},
		Version: Version,
		Metadata: map[string]any{
			"version": Version,
			"commit":  Commit,
			"date":    Date,
			"builtBy": BuiltBy,
		},
	}

	ctx := context.Background()
	if err := cmd.Run(ctx, os.Args); err != nil {
		global.Log().Error(ctx, "fatal error",
			zap.Error(err),
		)
		exitCode = exitError
	}
	os.Exit(exitCode)
}

func before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	// Pre-flight global configuration
	global.Version = Version

	if !slices.Contains(store.Kinds(), global.Conf.Store.Kind) {
		return ctx, fmt.Errorf("unsupported store %q", global.Conf.Store.Kind)
	}
	if global.Conf.Store.Kind == store.KindEtcd && global.Conf.Etcd.Endpoint == "" {
		return ctx, errors.New("etcd store requires an etcd endpoint")
	}

	// Set up OpenTelemetry
	shutdown, err := global.SetupOTelSDK(ctx)
	if err != nil {
		return ctx, errors.Wrap(err, "setting up OpenTelemetry")
	}
	otelShutdown = shutdown

	st, err = store.New(ctx)
	if err != nil {
		return ctx, errors.Wrapf(err, "opening %s store", global.Conf.Store.Kind)
	}
	coord = race.NewCoordinator(st)
	return ctx, nil
}

// after flushes what was fired and forgotten before the process exits.
func after(ctx context.Context, _ *cli.Command) error {
	ctx = context.WithoutCancel(ctx)

	var err error
	if coord != nil {
		cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = multierr.Append(err, coord.Close(cctx))
		cancel()
	}
	if st != nil {
		err = multierr.Append(err, st.Close())
	}
	if otelShutdown != nil {
		err = multierr.Append(err, otelShutdown(ctx))
	}
	return err
}
