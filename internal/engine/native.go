package engine

import (
	"go.uber.org/zap"

	"github.com/sweeney/experience-degrader/internal/viewport"
)

type nativeTracker struct {
	src  viewport.Source
	stop chan struct{}
	done chan struct{}
}

// wait stops the follower and waits for it to exit. Nil-safe.
func (nt *nativeTracker) wait() {
	if nt == nil {
		return
	}
	close(nt.stop)
	<-nt.done
}

// StartNativeScrollTracking follows pixel viewport samples from src until
// StopNativeScrollTracking is called or src closes its channel. A loop
// detected at the bottom of the page scrolls src back to the top.
// Calling it while native tracking is already running does nothing.
func (e *Engine) StartNativeScrollTracking(src viewport.Source) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startNativeLocked(src)
}

// StopNativeScrollTracking stops following viewport samples and waits for
// the follower to exit. Safe to call when native tracking is not running.
func (e *Engine) StopNativeScrollTracking() {
	e.mu.Lock()
	nt := e.detachNativeLocked()
	e.mu.Unlock()
	nt.wait()
}

func (e *Engine) startNativeLocked(src viewport.Source) {
	if e.native != nil {
		return
	}
	nt := &nativeTracker{
		src:  src,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	e.native = nt
	go e.follow(nt)
	e.logger.Debug("native scroll tracking started")
}

// detachNativeLocked clears the current follower. The caller must release
// mu before calling wait on the result.
func (e *Engine) detachNativeLocked() *nativeTracker {
	nt := e.native
	e.native = nil
	if nt != nil {
		e.logger.Debug("native scroll tracking stopped")
	}
	return nt
}

func (e *Engine) follow(nt *nativeTracker) {
	defer close(nt.done)
	samples := nt.src.Samples()
	for {
		select {
		case <-nt.stop:
			return
		case s, ok := <-samples:
			if !ok {
				e.mu.Lock()
				if e.native == nt {
					e.native = nil
				}
				e.mu.Unlock()
				e.logger.Debug("viewport source closed")
				return
			}
			if !e.observeViewport(nt, s) {
				continue
			}
			if err := nt.src.ScrollTo(0); err != nil {
				e.logger.Warn("scroll to top failed", zap.Error(err))
			}
		}
	}
}

// observeViewport applies s if nt is still the current follower and
// reports whether the page should be moved back to the top. A follower
// detached by a stop or reset never touches the state again.
func (e *Engine) observeViewport(nt *nativeTracker, s viewport.Sample) bool {
	e.mu.Lock()
	if e.native != nt {
		e.mu.Unlock()
		return false
	}
	before := e.d.State()
	fx := e.d.ObserveViewport(s.Viewport(), e.clock.Now())
	e.scheduleLocked(fx)
	e.unlockAndNotify(before, fx.Events)
	return fx.ScrollTop
}

