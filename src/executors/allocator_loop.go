package executors

import (
	"context"
	"errors"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"botfleet/src/model"
	"botfleet/src/repository"
)

type AllocatorRunner interface {
	Run(ctx context.Context, userID uint, now time.Time) (*model.ReinvestmentRun, error)
}

// AllocatorLoop triggers the capital allocator on a fixed cadence. The
// allocator's window claim makes repeated triggers within a window no-ops,
// so the loop only has to guarantee it never runs concurrently with
// itself.
type AllocatorLoop struct {
	users     UserSource
	allocator AllocatorRunner

	running sync.Mutex
}

func NewAllocatorLoop(users UserSource, allocator AllocatorRunner) *AllocatorLoop {
	return &AllocatorLoop{users: users, allocator: allocator}
}

func (l *AllocatorLoop) Start(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	logger.WithField("period", period.String()).Info("allocator loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("allocator loop stopped")
			return nil
		case <-ticker.C:
			if !l.running.TryLock() {
				logger.Warn("previous allocator cycle still running, skipping tick")
				continue
			}
			if err := l.RunOnce(ctx, time.Now()); err != nil {
				logger.WithField("error", err.Error()).Error("allocator cycle failed")
			}
			l.running.Unlock()
		}
	}
}

// RunOnce triggers the allocator for every user. Already-handled windows
// are skipped silently; other per-user failures are logged and do not stop
// the cycle.
func (l *AllocatorLoop) RunOnce(ctx context.Context, now time.Time) error {
	userIDs, err := l.users.ListIDs(ctx)
	if err != nil {
		return err
	}

	for _, userID := range userIDs {
		_, err := l.allocator.Run(ctx, userID, now)
		if err != nil && !errors.Is(err, repository.ErrRunExists) {
			logger.WithFields(map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			}).Error("reinvestment run failed")
		}
	}
	return nil
}
