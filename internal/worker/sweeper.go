package worker

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-mealkit/internal/customer"
	"github.com/noah-isme/backend-mealkit/internal/lock"
	"github.com/noah-isme/backend-mealkit/internal/obs"
	"github.com/noah-isme/backend-mealkit/internal/order"
)

// Task types consumed by the recurring billing worker.
const (
	TypeSubscriptionSweep = "sweep:subscriptions"
	TypeChargeSweep       = "sweep:charges"
	TypeCeilingSweep      = "sweep:attempt_ceiling"
)

const (
	defaultBatchSize = 40
	defaultBudget    = 4 * time.Minute
)

// Locker is the mutual-exclusion surface the sweeps need; satisfied by
// lock.Locker.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Sweeper runs the periodic billing sweeps. Each sweep processes a
// bounded batch under a soft wall-clock budget so a slow gateway cannot
// starve the schedule; work left over is picked up by the next run.
type Sweeper struct {
	Subscriptions  customer.SubscriptionStore
	Assembler      *order.Assembler
	Orders         order.Store
	Service        *order.Service
	Locker         Locker
	LockTTL        time.Duration
	BatchSize      int
	AttemptCeiling int
	Budget         time.Duration
	Now            func() time.Time
	Logger         zerolog.Logger
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Sweeper) batch() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return defaultBatchSize
}

func (s *Sweeper) budget() time.Duration {
	if s.Budget > 0 {
		return s.Budget
	}
	return defaultBudget
}

func (s *Sweeper) ceiling() int {
	if s.AttemptCeiling > 0 {
		return s.AttemptCeiling
	}
	return order.DefaultMaxChargeAttempts
}

func (s *Sweeper) observe(sweep string, start time.Time) {
	if obs.SweepDuration != nil {
		obs.SweepDuration.With(prometheus.Labels{"sweep": sweep}).
			Observe(time.Since(start).Seconds())
	}
}

// HandleSubscriptionSweep creates an order for every subscription due
// today and advances its next charge date. Each subscription is handled
// under its own lock so overlapping sweeps cannot double-create.
func (s *Sweeper) HandleSubscriptionSweep(ctx context.Context, _ *asynq.Task) error {
	start := s.now()
	defer s.observe("subscriptions", start)

	due, err := s.Subscriptions.ListDueSubscriptions(ctx, start, s.batch())
	if err != nil {
		return err
	}
	deadline := start.Add(s.budget())

	created := 0
	for _, sub := range due {
		if s.now().After(deadline) {
			s.Logger.Warn().Int("remaining", len(due)-created).
				Msg("subscription sweep budget exhausted")
			break
		}
		err := s.Locker.TryWithLock(ctx, subscriptionKey(sub), s.LockTTL, func(ctx context.Context) error {
			return s.createForSubscription(ctx, sub)
		})
		switch {
		case errors.Is(err, lock.ErrNotAcquired):
			s.Logger.Debug().Str("subscription_id", sub.ID.String()).
				Msg("subscription locked elsewhere, skipping")
		case err != nil:
			s.Logger.Error().Err(err).Str("subscription_id", sub.ID.String()).
				Msg("subscription sweep: order creation failed")
		default:
			created++
		}
	}
	s.Logger.Info().Int("due", len(due)).Int("created", created).
		Msg("subscription sweep finished")
	return nil
}

func (s *Sweeper) createForSubscription(ctx context.Context, sub customer.Subscription) error {
	o, err := s.Assembler.BuildFromSubscription(ctx, sub)
	if err != nil {
		return err
	}
	now := s.now()
	sub.AdvanceOrderDates(now)
	if err := s.Subscriptions.UpdateSubscriptionDates(ctx, sub); err != nil {
		return err
	}
	s.Logger.Info().
		Str("order_id", o.ID.String()).
		Str("subscription_id", sub.ID.String()).
		Time("next_charge", sub.NextOrderChargeDate).
		Msg("recurring order created")
	return nil
}

// HandleChargeSweep charges a batch of pending orders. Orders whose lock
// is held elsewhere are skipped; gateway failures are logged and retried
// on the next run until the attempt ceiling force-fails them.
func (s *Sweeper) HandleChargeSweep(ctx context.Context, _ *asynq.Task) error {
	start := s.now()
	defer s.observe("charges", start)

	pending, err := s.Orders.ListPendingCharges(ctx, s.batch())
	if err != nil {
		return err
	}
	deadline := start.Add(s.budget())

	charged := 0
	for _, o := range pending {
		if s.now().After(deadline) {
			s.Logger.Warn().Int("remaining", len(pending)-charged).
				Msg("charge sweep budget exhausted")
			break
		}
		err := s.Service.TryCharge(ctx, o.ID)
		switch {
		case errors.Is(err, lock.ErrNotAcquired):
			s.Logger.Debug().Str("order_id", o.ID.String()).
				Msg("order locked elsewhere, skipping")
		case errors.Is(err, order.ErrAlreadyCharged):
			// raced a concurrent charge, nothing to do
		case err != nil:
			s.Logger.Warn().Err(err).Str("order_id", o.ID.String()).
				Int("attempts", o.ChargeAttempts+1).
				Msg("charge sweep: charge failed")
		default:
			charged++
		}
	}
	s.Logger.Info().Int("pending", len(pending)).Int("charged", charged).
		Msg("charge sweep finished")
	return nil
}

// HandleCeilingSweep force-fails pending orders whose charge attempts
// reached the ceiling. Charge itself performs the transition without
// touching the gateway once an order sits at the ceiling.
func (s *Sweeper) HandleCeilingSweep(ctx context.Context, _ *asynq.Task) error {
	start := s.now()
	defer s.observe("attempt_ceiling", start)

	over, err := s.Orders.ListOverAttemptCeiling(ctx, s.ceiling())
	if err != nil {
		return err
	}
	failed := 0
	for _, o := range over {
		err := s.Service.TryCharge(ctx, o.ID)
		switch {
		case errors.Is(err, lock.ErrNotAcquired):
			s.Logger.Debug().Str("order_id", o.ID.String()).
				Msg("order locked elsewhere, skipping")
		case err != nil:
			s.Logger.Error().Err(err).Str("order_id", o.ID.String()).
				Msg("ceiling sweep: force-fail failed")
		default:
			failed++
		}
	}
	if len(over) > 0 {
		s.Logger.Info().Int("over_ceiling", len(over)).Int("failed", failed).
			Msg("attempt ceiling sweep finished")
	}
	return nil
}

func subscriptionKey(sub customer.Subscription) string {
	return "subscription:sweep:" + sub.ID.String()
}

// Mux registers the sweep handlers on an asynq mux.
func (s *Sweeper) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSubscriptionSweep, s.HandleSubscriptionSweep)
	mux.HandleFunc(TypeChargeSweep, s.HandleChargeSweep)
	mux.HandleFunc(TypeCeilingSweep, s.HandleCeilingSweep)
	return mux
}

// Schedule registers the periodic sweep entries on the scheduler.
// Subscriptions are checked daily; charges and the attempt ceiling are
// swept frequently so failed orders retry within the hour.
func Schedule(scheduler *asynq.Scheduler) error {
	entries := []struct {
		spec string
		task *asynq.Task
	}{
		{"@every 24h", asynq.NewTask(TypeSubscriptionSweep, nil)},
		{"@every 5m", asynq.NewTask(TypeChargeSweep, nil)},
		{"@every 1h", asynq.NewTask(TypeCeilingSweep, nil)},
	}
	for _, e := range entries {
		if _, err := scheduler.Register(e.spec, e.task, asynq.MaxRetry(0)); err != nil {
			return err
		}
	}
	return nil
}
