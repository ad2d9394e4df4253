package worker

import (
	"context"
	"sync"
	"time"

	"booking-service/internal/util"

	"go.uber.org/zap"
)

const sweepLockKey = "reservation-sweeper"

// DefaultSweepInterval is used when no positive interval is configured
const DefaultSweepInterval = 30 * time.Minute

// Expirer is implemented by *service.ReservationService
type Expirer interface {
	ExpirePending(ctx context.Context) (int64, error)
	CompletePastStays(ctx context.Context) (int64, error)
}

// Locker is implemented by *redisclient.Client
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// Sweeper periodically deletes lapsed pending holds and completes finished stays
type Sweeper struct {
	expirer  Expirer
	locker   Locker
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// NewSweeper creates a new sweeper. locker may be nil for a single replica.
func NewSweeper(expirer Expirer, locker Locker, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		expirer:  expirer,
		locker:   locker,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs a sweep immediately and then on every interval until Stop or ctx is done
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.logger.Info("Starting reservation sweeper", zap.Duration("interval", s.interval))

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop stops the sweeper and waits for an in-flight sweep to finish. The
// sweeper can be started again afterwards.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	s.logger.Info("Stopping reservation sweeper")
	cancel()
	<-done
}

// RunOnce performs a single sweep. Errors are logged and retried next tick.
func (s *Sweeper) RunOnce(ctx context.Context) {
	ctx, span := util.StartSpan(ctx, "Sweeper.RunOnce")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	if s.locker != nil {
		token, ok, err := s.locker.AcquireLock(ctx, sweepLockKey, s.interval)
		switch {
		case err != nil:
			// Deletes are conditional, so sweeping without the lock is safe.
			s.logger.Warn("Sweeper lock unavailable, sweeping anyway", zap.Error(err))
		case !ok:
			s.logger.Debug("Another replica holds the sweeper lock")
			return
		default:
			defer func() {
				if err := s.locker.ReleaseLock(context.Background(), sweepLockKey, token); err != nil {
					s.logger.Warn("Failed to release sweeper lock", zap.Error(err))
				}
			}()
		}
	}

	deleted, err := s.expirer.ExpirePending(ctx)
	if err != nil {
		util.SpanError(span, err)
		s.logger.Error("Expiration sweep failed", zap.Error(err))
	} else if deleted > 0 {
		s.logger.Info("Expired pending reservations deleted", zap.Int64("count", deleted))
	}

	completed, err := s.expirer.CompletePastStays(ctx)
	if err != nil {
		util.SpanError(span, err)
		s.logger.Error("Completing past stays failed", zap.Error(err))
	} else if completed > 0 {
		s.logger.Info("Reservations completed", zap.Int64("count", completed))
	}
}
