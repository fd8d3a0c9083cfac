package race

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ctfer-io/race-manager/global"
	errs "github.com/ctfer-io/race-manager/pkg/errors"
	"github.com/ctfer-io/race-manager/pkg/store"
)

const (
	outcomeWon    = "won"
	outcomeLost   = "lost"
	outcomeFailed = "failed"
)

// Coordinator runs races on top of a store.RaceStore.
type Coordinator struct {
	store store.RaceStore

	// pending tracks the resets fired by EndRaceAsync.
	mu      sync.Mutex
	pending sync.WaitGroup
	closed  bool
}

// NewCoordinator returns a Coordinator deciding races on st.
// The caller keeps ownership of st.
func NewCoordinator(st store.RaceStore) *Coordinator {
	return &Coordinator{
		store: st,
	}
}

// Race claims the race id. It returns true if the caller is the one winner
// of the race, false if someone else already won it.
//
// A non-nil error means the outcome is unknown because the backend failed:
// the boolean must then be ignored, it is not a lost race.
func (c *Coordinator) Race(ctx context.Context, id string) (won bool, err error) {
	if err := validate(id); err != nil {
		return false, err
	}

	ctx = global.WithRaceID(ctx, id)
	ctx, span := global.Tracer.Start(ctx, "Race", trace.WithAttributes(
		attribute.String("race.id", id),
		attribute.String("store.kind", c.store.Kind()),
	))
	defer span.End()

	logger := global.Log()
	defer func() {
		outcome := outcomeLost
		switch {
		case err != nil:
			outcome = outcomeFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, "race failed")
			logger.Error(ctx, "race failed", zap.Error(err))
		case won:
			outcome = outcomeWon
			logger.Info(ctx, "race won")
		default:
			logger.Debug(ctx, "race lost")
		}
		span.SetAttributes(attribute.String("race.outcome", outcome))
		RacesCounter().Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("store.kind", c.store.Kind()),
		))
	}()

	h, err := c.store.Open(ctx, id)
	if err != nil {
		return false, err
	}
	defer func() {
		cerr := h.Close()
		if cerr == nil {
			return
		}
		// A committed (or rejected) marker is durable whatever happens to the
		// handle, so the outcome stands.
		if err != nil {
			err = multierr.Append(err, cerr)
			return
		}
		logger.Warn(ctx, "closing race namespace",
			zap.Error(cerr),
			zap.String("namespace", h.Namespace()),
		)
	}()

	outcome, err := h.InsertFinishMarker(ctx)
	if err != nil {
		return false, err
	}
	switch outcome {
	case store.Committed:
		return true, nil
	case store.Rejected:
		return false, nil
	}
	return false, &errs.ErrBackend{
		Op:        "insert",
		Namespace: h.Namespace(),
		Sub:       errs.ErrAmbiguousAbort,
	}
}

// EndRace resets the race id so a new round can be won.
// Resetting a race that never ran is a no-op.
//
// The reset is not bound to ctx cancellation: once issued, it runs to
// completion even if the caller is torn down.
func (c *Coordinator) EndRace(ctx context.Context, id string) error {
	if err := validate(id); err != nil {
		return err
	}

	ctx = global.WithRaceID(context.WithoutCancel(ctx), id)
	ctx, span := global.Tracer.Start(ctx, "EndRace", trace.WithAttributes(
		attribute.String("race.id", id),
		attribute.String("store.kind", c.store.Kind()),
	))
	defer span.End()

	if err := c.store.Destroy(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reset failed")
		global.Log().Error(ctx, "ending race", zap.Error(err))
		return err
	}
	ResetsCounter().Add(ctx, 1, metric.WithAttributes(
		attribute.String("store.kind", c.store.Kind()),
	))
	global.Log().Info(ctx, "race ended")
	return nil
}

// EndRaceAsync fires EndRace without waiting for it, e.g. from a shutdown
// hook. The returned channel receives the reset result then is closed; it is
// buffered so it may be ignored.
// Use Close to wait for every reset fired this way.
func (c *Coordinator) EndRaceAsync(ctx context.Context, id string) <-chan error {
	res := make(chan error, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		// Nothing waits anymore, reset before returning
		res <- c.EndRace(ctx, id)
		close(res)
		return res
	}
	c.pending.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.pending.Done()

		res <- c.EndRace(ctx, id)
		close(res)
	}()
	return res
}

// Close waits for the resets fired by EndRaceAsync to complete, or ctx to be
// done. It does not close the underlying store.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func validate(id string) error {
	if id == "" {
		return &errs.ErrValidationFailed{Reason: "race identifier must not be empty"}
	}
	return nil
}
