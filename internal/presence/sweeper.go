package presence

import (
	"context"
	"time"

	"parley/internal/observability"
	"parley/internal/storage"

	"go.uber.org/zap"
)

// Sweeper marks users offline once their last heartbeat is older than the
// timeout. It runs as a scheduled task next to the servers and never
// inside request handling. A zero timeout disables it.
type Sweeper struct {
	store    storage.Transactor
	timeout  time.Duration
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewSweeper(store storage.Transactor, timeout, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		timeout:  timeout,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Sweeper) Enabled() bool {
	return s.timeout > 0 && s.interval > 0
}

// Sweep marks every stale online user offline in one transaction and
// returns how many users it changed. lastSeenAt keeps the time of the last
// heartbeat.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.timeout <= 0 {
		return 0, nil
	}

	threshold := s.now().Add(-s.timeout).UnixMilli()
	changed := 0
	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		users, err := tx.ListUsers()
		if err != nil {
			return err
		}
		for _, u := range users {
			if !u.IsOnline || u.LastSeenAt >= threshold {
				continue
			}
			u.IsOnline = false
			if _, err := tx.PutUser(u); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	observability.AddSweepRemoved("presence", changed)
	return changed, nil
}

// Run sweeps on every interval tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("presence sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("marked stale users offline", zap.Int("count", n))
			}
		}
	}
}
