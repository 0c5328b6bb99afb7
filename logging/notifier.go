package logging

import (
	"context"
	"sync"
)

// Notice is a transient user-visible message, the picker's "toast".
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Notifier logs user-visible notices at warn and remembers the latest so a
// host can hand it to its UI.
type Notifier struct {
	logger *Logger

	mu   sync.Mutex
	last *Notice
}

// NewNotifier creates a notifier logging through logger.
func NewNotifier(logger *Logger) *Notifier {
	if logger == nil {
		logger = Discard()
	}
	return &Notifier{logger: logger}
}

// Notify records a notice.
func (n *Notifier) Notify(ctx context.Context, code, message string) {
	n.logger.WarnContext(ctx, "user notice", "code", code, "notice", message)

	n.mu.Lock()
	n.last = &Notice{Code: code, Message: message}
	n.mu.Unlock()
}

// Last returns the most recent notice.
func (n *Notifier) Last() (Notice, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.last == nil {
		return Notice{}, false
	}
	return *n.last, true
}

// Take returns the most recent notice and clears it.
func (n *Notifier) Take() (Notice, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.last == nil {
		return Notice{}, false
	}
	notice := *n.last
	n.last = nil
	return notice, true
}
