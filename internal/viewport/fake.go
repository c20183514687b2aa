package viewport

import "sync"

// FakeSource is a test double that delivers pushed samples.
type FakeSource struct {
	ch chan Sample

	mu      sync.Mutex
	scrolls []float64
	closed  bool

	// ScrollToError, if set, will be returned by ScrollTo.
	ScrollToError error
}

// NewFakeSource creates a FakeSource with room for buffer unread samples.
func NewFakeSource(buffer int) *FakeSource {
	return &FakeSource{ch: make(chan Sample, buffer)}
}

// Push delivers samples. It blocks if the buffer is full.
func (f *FakeSource) Push(samples ...Sample) {
	for _, s := range samples {
		f.ch <- s
	}
}

// Samples returns the sample channel.
func (f *FakeSource) Samples() <-chan Sample {
	return f.ch
}

// ScrollTo records the requested position.
func (f *FakeSource) ScrollTo(top float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ScrollToError != nil {
		return f.ScrollToError
	}
	f.scrolls = append(f.scrolls, top)
	return nil
}

// ScrollTos returns every position passed to ScrollTo.
func (f *FakeSource) ScrollTos() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.scrolls...)
}

// Close closes the sample channel. Safe to call more than once.
func (f *FakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	return nil
}

// Closed reports whether Close was called.
func (f *FakeSource) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
