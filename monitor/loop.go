package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// loop calls a sample function on a fixed interval until stopped
type loop struct {
	enabled atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// start replaces any running loop with one calling fn every interval
func (l *loop) start(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	l.stop()

	l.mu.Lock()
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.wg.Add(1)
	l.mu.Unlock()

	l.enabled.Store(true)
	go func() {
		defer l.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				fn(loopCtx)
			}
		}
	}()
}

// stop cancels the loop and waits for it to exit
func (l *loop) stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	l.enabled.Store(false)
	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}

func (l *loop) running() bool {
	return l.enabled.Load()
}
