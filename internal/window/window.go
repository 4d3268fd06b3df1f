// Package window implements the bounded temporal window of keypoint vectors
// that feeds the classifier.
package window

import "github.com/yashindibhagya/GestureConnect/internal/entity"

// Window is a fixed-capacity FIFO of keypoint vectors backed by a ring buffer.
// Once full, every push evicts the oldest vector. A Window is not safe for
// concurrent use; the owning session serializes access.
type Window struct {
	buf   []entity.KeypointVector
	start int
	size  int
}

func New(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		buf: make([]entity.KeypointVector, capacity),
	}
}

// Push appends a copy of v, evicting the oldest vector when the window is full.
func (w *Window) Push(v entity.KeypointVector) {
	vec := make(entity.KeypointVector, len(v))
	copy(vec, v)

	capacity := len(w.buf)
	if w.size < capacity {
		w.buf[(w.start+w.size)%capacity] = vec
		w.size++
		return
	}

	w.buf[w.start] = vec
	w.start = (w.start + 1) % capacity
}

func (w *Window) Ready() bool {
	return w.size == len(w.buf)
}

func (w *Window) Reset() {
	for i := range w.buf {
		w.buf[i] = nil
	}
	w.start = 0
	w.size = 0
}

// Snapshot returns the current contents oldest-first. The outer slice is a
// fresh copy; the vectors themselves are shared and must be treated as
// read-only.
func (w *Window) Snapshot() []entity.KeypointVector {
	out := make([]entity.KeypointVector, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

func (w *Window) Len() int {
	return w.size
}

func (w *Window) Cap() int {
	return len(w.buf)
}
