package render

import (
	"context"
	"sync"
)

// Recorder keeps every frame it is given. Used in tests and for debugging.
type Recorder struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

// NewRecorder creates a recorder. A non-nil err is returned from every Render.
func NewRecorder(err error) *Recorder {
	return &Recorder{err: err}
}

// Render implements Renderer.
func (r *Recorder) Render(_ context.Context, f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return r.err
}

// Frames returns a copy of the recorded frames.
func (r *Recorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...)
}

// Last returns the latest frame.
func (r *Recorder) Last() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return Frame{}, false
	}
	return r.frames[len(r.frames)-1], true
}
