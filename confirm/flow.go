// Package confirm hands a confirmed selection to the calling app as a deep
// link and keeps the copy-link fallback state.
//
// There is no way to tell whether the receiving app accepted the link, so
// the fallback is shown on every confirm.
package confirm

import (
	"context"
	"errors"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	apperrors "github.com/mycobrun/cobrun-picker/errors"
	"github.com/mycobrun/cobrun-picker/logging"
	"github.com/mycobrun/cobrun-picker/radius"
)

// DefaultCopiedWindow is how long the "copied" indicator stays on.
const DefaultCopiedWindow = 2 * time.Second

// State is the flow state.
type State int

const (
	// StateIdle has no result.
	StateIdle State = iota
	// StateAwaitingHandoff is held only while the deep link is being opened.
	StateAwaitingHandoff
	// StateFallbackVisible holds a result the user can copy.
	StateFallbackVisible
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingHandoff:
		return "awaiting_handoff"
	case StateFallbackVisible:
		return "fallback_visible"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Handoff opens a deep link in the receiving app.
type Handoff interface {
	Open(ctx context.Context, uri string) error
}

// HandoffFunc adapts a function to Handoff.
type HandoffFunc func(ctx context.Context, uri string) error

// Open calls f.
func (f HandoffFunc) Open(ctx context.Context, uri string) error { return f(ctx, uri) }

// Clipboard writes text to the user's clipboard.
type Clipboard interface {
	WriteText(ctx context.Context, text string) error
}

// ClipboardFunc adapts a function to Clipboard.
type ClipboardFunc func(ctx context.Context, text string) error

// WriteText calls f.
func (f ClipboardFunc) WriteText(ctx context.Context, text string) error { return f(ctx, text) }

// Options tune a Flow.
type Options struct {
	CopiedWindow time.Duration
	Clock        clock.Clock
}

// DefaultOptions returns the flow defaults.
func DefaultOptions() Options {
	return Options{CopiedWindow: DefaultCopiedWindow}
}

// Flow is the confirmation state machine. It is safe for concurrent use.
type Flow struct {
	handoff Handoff
	logger  *logging.Logger
	clock   clock.Clock
	window  time.Duration

	mu       sync.Mutex
	state    State
	result   *Result
	copied   bool
	copyGen  uint64
	copyStop chan struct{}
}

// NewFlow creates a flow opening links through handoff, which may be nil.
func NewFlow(handoff Handoff, logger *logging.Logger, opts Options) *Flow {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewClock()
	}
	if opts.CopiedWindow <= 0 {
		opts.CopiedWindow = DefaultCopiedWindow
	}

	return &Flow{
		handoff: handoff,
		logger:  logger,
		clock:   opts.Clock,
		window:  opts.CopiedWindow,
	}
}

// Confirm builds the result for sel, tries the hand-off and shows the
// fallback. A failed hand-off is logged; the fallback is there either way.
// Confirming again replaces the result.
func (f *Flow) Confirm(ctx context.Context, sel radius.Selection) Result {
	result := NewResult(sel)

	f.mu.Lock()
	f.cancelCopiedLocked()
	f.state = StateAwaitingHandoff
	f.result = &result
	f.mu.Unlock()

	if f.handoff != nil {
		if err := f.handoff.Open(ctx, result.DeepLinkURI); err != nil {
			f.logger.WarnContext(ctx, "deep link hand-off failed", "error", err)
		}
	}

	f.mu.Lock()
	if f.state == StateAwaitingHandoff && f.result != nil && *f.result == result {
		f.state = StateFallbackVisible
	}
	f.mu.Unlock()

	return result
}

// Copy writes the deep link to clip. On success the copied indicator is on
// for the copied window, after which the flow returns to idle. On failure
// the state is unchanged and a ClipboardWriteFailed error is returned.
func (f *Flow) Copy(ctx context.Context, clip Clipboard) error {
	f.mu.Lock()
	if f.state != StateFallbackVisible || f.result == nil {
		f.mu.Unlock()
		return apperrors.Conflict("no confirmed location to copy")
	}
	uri := f.result.DeepLinkURI
	f.mu.Unlock()

	if clip == nil {
		return apperrors.ClipboardWriteFailed(errors.New("no clipboard available"))
	}
	if err := clip.WriteText(ctx, uri); err != nil {
		return apperrors.ClipboardWriteFailed(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// The fallback may have been dismissed or replaced during the write.
	if f.state != StateFallbackVisible || f.result == nil || f.result.DeepLinkURI != uri {
		return nil
	}

	f.cancelCopiedLocked()
	f.copied = true
	f.copyGen++
	gen := f.copyGen
	stop := make(chan struct{})
	f.copyStop = stop
	timer := f.clock.NewTimer(f.window)

	go func() {
		select {
		case <-timer.C():
			f.copiedWindowElapsed(gen)
		case <-stop:
			timer.Stop()
		}
	}()

	return nil
}

func (f *Flow) copiedWindowElapsed(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.copyGen {
		return
	}
	f.copied = false
	f.copyStop = nil
	f.resetLocked()
}

// Dismiss closes the fallback and discards the result. It reports whether
// there was anything to dismiss.
func (f *Flow) Dismiss() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateFallbackVisible {
		return false
	}
	f.cancelCopiedLocked()
	f.resetLocked()
	return true
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Result returns the held result, if any.
func (f *Flow) Result() (Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.result == nil {
		return Result{}, false
	}
	return *f.result, true
}

// Copied reports whether the copied indicator is on.
func (f *Flow) Copied() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.copied
}

// Close stops the copied window timer.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCopiedLocked()
}

func (f *Flow) resetLocked() {
	f.state = StateIdle
	f.result = nil
	f.copied = false
}

func (f *Flow) cancelCopiedLocked() {
	f.copyGen++
	f.copied = false
	if f.copyStop != nil {
		close(f.copyStop)
		f.copyStop = nil
	}
}
