package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ctfer-io/race-manager/global"
	"github.com/ctfer-io/race-manager/server"
)

func raceID(cmd *cli.Command) (string, error) {
	id := cmd.Args().First()
	if id == "" {
		return "", errors.New("missing race identifier")
	}
	return id, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Expose races over an HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Sources: cli.EnvVars("PORT"),
				Value:   8080,
				Usage:   "Define the API server port to listen on.",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			port := cmd.Int("port")

			logger := global.Log()
			logger.Info(ctx, "starting API server",
				zap.Int("port", port),
				zap.String("store", st.Kind()),
			)

			// Create context that listens for the interrupt signal from the OS
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := server.NewServer(server.Options{
				Port:        port,
				Coordinator: coord,
			})
			if err := srv.Run(ctx); err != nil {
				return err
			}

			// Listen for the interrupt signal
			<-ctx.Done()

			// Restore default behavior on the interrupt signal
			stop()
			logger.Info(ctx, "shutting down gracefully")

			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		},
	}
}

func raceCommand() *cli.Command {
	return &cli.Command{
		Name:      "race",
		Usage:     "Claim a race, prints won (exit 0) or lost (exit 3)",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "racer",
				Sources: cli.EnvVars("RACER_ID"),
				Usage:   "Name this racer in logs. Default to a random UUID.",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := raceID(cmd)
			if err != nil {
				return err
			}
			racer := cmd.String("racer")
			if racer == "" {
				racer = uuid.NewString()
			}

			won, err := coord.Race(global.WithRacerID(ctx, racer), id)
			if err != nil {
				return err
			}
			if !won {
				fmt.Println("lost")
				exitCode = exitLost
				return nil
			}
			fmt.Println("won")
			return nil
		},
	}
}

func endCommand() *cli.Command {
	return &cli.Command{
		Name:      "end",
		Usage:     "Reset a race so it can be won again",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "async",
				Usage: "Fire the reset without waiting for it. It is still completed before the process exits.",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := raceID(cmd)
			if err != nil {
				return err
			}
			if cmd.Bool("async") {
				_ = coord.EndRaceAsync(ctx, id)
				return nil
			}
			return coord.EndRace(ctx, id)
		},
	}
}

func stampedeCommand() *cli.Command {
	return &cli.Command{
		Name:      "stampede",
		Usage:     "Run concurrent racers against a race and check there is exactly one winner each time",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "racers",
				Aliases: []string{"n"},
				Value:   20,
				Usage:   "Number of concurrent racers per trial.",
			},
			&cli.IntFlag{
				Name:    "trials",
				Aliases: []string{"t"},
				Value:   10,
				Usage:   "Number of trials, the race is reset between each.",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := raceID(cmd)
			if err != nil {
				return err
			}
			racers, trials := cmd.Int("racers"), cmd.Int("trials")
			if racers < 1 || trials < 1 {
				return errors.New("racers and trials must be positive")
			}

			failed := 0
			for trial := 1; trial <= trials; trial++ {
				var winners atomic.Int64
				eg, ectx := errgroup.WithContext(ctx)
				for range racers {
					eg.Go(func() error {
						won, err := coord.Race(global.WithRacerID(ectx, uuid.NewString()), id)
						if err != nil {
							return err
						}
						if won {
							winners.Add(1)
						}
						return nil
					})
				}
				if err := eg.Wait(); err != nil {
					return errors.Wrapf(err, "trial %d", trial)
				}

				fmt.Printf("trial %d: %d winner(s) out of %d racers\n", trial, winners.Load(), racers)
				if winners.Load() != 1 {
					failed++
				}
				if err := coord.EndRace(ctx, id); err != nil {
					return errors.Wrapf(err, "ending trial %d", trial)
				}
			}
			if failed != 0 {
				return fmt.Errorf("%d trial(s) out of %d did not have exactly one winner", failed, trials)
			}
			return nil
		},
	}
}
