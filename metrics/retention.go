package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/ncobase/relay/logging/logger"
)

// StartRetention runs Cleanup(maxAge) every interval until ctx is done or
// Stop is called. Calling it while a loop is running restarts the loop.
func (s *Store) StartRetention(ctx context.Context, interval, maxAge time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("retention interval must be greater than 0, got %v", interval)
	}
	if maxAge <= 0 {
		return fmt.Errorf("retention max age must be greater than 0, got %v", maxAge)
	}

	s.Stop()

	s.mu.Lock()
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.retentionLoop(loopCtx, interval, maxAge)
	}()

	logger.Infof(ctx, "metrics: retention started, interval %s, max age %s", interval, maxAge)
	return nil
}

// Stop stops the retention loop and waits for it to exit
func (s *Store) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// retentionLoop periodically removes expired records
func (s *Store) retentionLoop(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(ctx, maxAge); err != nil && ctx.Err() == nil {
				logger.Errorf(ctx, "metrics: retention cleanup failed: %v", err)
			}
		}
	}
}
