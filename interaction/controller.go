// Package interaction turns map events into changes of a radius.Model.
//
// A Controller is safe for concurrent use. Each event is applied under the
// controller's lock, so events are applied in the order they arrive.
package interaction

import (
	"context"
	"errors"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	apperrors "github.com/mycobrun/cobrun-picker/errors"
	"github.com/mycobrun/cobrun-picker/geo"
	"github.com/mycobrun/cobrun-picker/geocode"
	"github.com/mycobrun/cobrun-picker/logging"
	"github.com/mycobrun/cobrun-picker/radius"
)

// DefaultHandleDebounce is the delay before a burst of changes reaches the
// Publisher.
const DefaultHandleDebounce = 500 * time.Millisecond

// ErrLocationUnavailable is returned by a Locator that cannot produce a position.
var ErrLocationUnavailable = errors.New("device location unavailable")

// Notifier shows a transient message to the user.
type Notifier interface {
	Notify(ctx context.Context, code, message string)
}

// Locator reports the device position.
type Locator interface {
	Locate(ctx context.Context) (geo.Point, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context) (geo.Point, error)

// Locate calls f.
func (f LocatorFunc) Locate(ctx context.Context) (geo.Point, error) { return f(ctx) }

// Listener sees every change synchronously. It runs under the controller's
// lock and must not call back into the controller.
type Listener interface {
	SelectionChanged(v View)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(View)

// SelectionChanged calls f.
func (f ListenerFunc) SelectionChanged(v View) { f(v) }

// Publisher receives debounced views, typically a renderer.
type Publisher interface {
	Publish(ctx context.Context, v View) error
}

// View is the render-facing projection of the controller state.
type View struct {
	Selection radius.Selection `json:"selection"`
	// Handle is the pointer while dragging, else the point due east of the center.
	Handle               geo.Point        `json:"handle"`
	HandleFollowsPointer bool             `json:"handle_follows_pointer"`
	Polygon              geo.Ring         `json:"polygon"`
	Bounds               geo.BoundingBox  `json:"bounds"`
	Dragging             bool             `json:"dragging"`
	CoverageResolution   geo.H3Resolution `json:"-"`
}

// Options tune a Controller.
type Options struct {
	HandleDebounce time.Duration
	// H3Resolution of coverage cells. Zero picks one from the radius.
	H3Resolution int
	Clock        clock.Clock
}

// DefaultOptions returns the controller defaults.
func DefaultOptions() Options {
	return Options{HandleDebounce: DefaultHandleDebounce}
}

// Dependencies are the controller's collaborators. All are optional.
type Dependencies struct {
	Geocoder  geocode.Geocoder
	Locator   Locator
	Notifier  Notifier
	Listener  Listener
	Publisher Publisher
	Logger    *logging.Logger
}

// Controller drives one radius.Model from map events.
type Controller struct {
	deps      Dependencies
	opts      Options
	logger    *logging.Logger
	debouncer *Debouncer

	mu       sync.Mutex
	model    *radius.Model
	dragging bool
	pointer  geo.Point

	// geocodeToken identifies the latest address lookup; manualMoves counts
	// center changes made by the user. A lookup result is applied only if
	// neither moved while it was in flight.
	geocodeToken uint64
	manualMoves  uint64
}

// NewController creates a controller over model.
func NewController(model *radius.Model, deps Dependencies, opts Options) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	c := &Controller{
		deps:   deps,
		opts:   opts,
		logger: logger,
		model:  model,
	}
	c.debouncer = NewDebouncer(opts.Clock, opts.HandleDebounce, c.publish)
	return c
}

func (c *Controller) publish(v View) {
	if c.deps.Publisher == nil {
		return
	}
	if err := c.deps.Publisher.Publish(context.Background(), v); err != nil {
		c.logger.Warn("publish selection failed", "error", err)
	}
}

// Click moves the center to p. It is ignored while the handle is dragged.
func (c *Controller) Click(p geo.Point) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dragging {
		return false
	}
	return c.moveCenterLocked(p)
}

// CenterDragEnd moves the center to where the marker was dropped.
func (c *Controller) CenterDragEnd(p geo.Point) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.moveCenterLocked(p)
}

func (c *Controller) moveCenterLocked(p geo.Point) bool {
	if !p.IsValid() {
		return false
	}
	if !c.model.SetCenter(p) {
		return false
	}
	c.manualMoves++
	c.changedLocked()
	return true
}

// HandleDragStart starts a radius drag.
func (c *Controller) HandleDragStart() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dragging {
		return
	}
	c.dragging = true
	c.pointer = c.model.HandlePosition()
	c.changedLocked()
}

// HandleDragMove sets the radius to the distance from the center to p, and
// draws the handle at p. It is ignored unless a drag is in progress.
func (c *Controller) HandleDragMove(p geo.Point) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.dragMoveLocked(p)
}

func (c *Controller) dragMoveLocked(p geo.Point) bool {
	if !c.dragging || !p.IsValid() {
		return false
	}
	c.model.SetRadiusFromHandleDrag(p)
	c.pointer = p
	c.changedLocked()
	return true
}

// HandleDragEnd applies p as the last move, snaps the handle back to the
// circle and delivers the final view to the Publisher.
func (c *Controller) HandleDragEnd(p geo.Point) bool {
	c.mu.Lock()
	if !c.dragging {
		c.mu.Unlock()
		return false
	}
	c.dragMoveLocked(p)
	c.dragging = false
	c.changedLocked()
	c.mu.Unlock()

	c.debouncer.Flush()
	return true
}

// SetRadius sets the radius directly, as from a slider. It returns the
// clamped value.
func (c *Controller) SetRadius(meters float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	applied := c.model.SetRadius(meters)
	c.changedLocked()
	return applied
}

// SubmitAddress looks up address and centers on the result. It reports
// whether the result was applied. A result is dropped when a newer lookup
// was started, or the user moved the center, while it was in flight.
// Failures leave the selection untouched and are also sent to the Notifier.
func (c *Controller) SubmitAddress(ctx context.Context, address string) (bool, error) {
	trimmed, err := geocode.ValidateAddress(address)
	if err != nil {
		c.notify(ctx, err)
		return false, err
	}

	c.mu.Lock()
	c.geocodeToken++
	token := c.geocodeToken
	moves := c.manualMoves
	c.mu.Unlock()

	var p geo.Point
	if c.deps.Geocoder == nil {
		err = apperrors.GeocodeUnavailable(errors.New("no geocoder configured"))
	} else {
		p, err = geocode.Classify(c.deps.Geocoder.Geocode(ctx, trimmed))
	}

	c.mu.Lock()
	if token != c.geocodeToken || moves != c.manualMoves {
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "discarding stale geocode result",
			"token", token,
			"error", err)
		return false, nil
	}
	if err != nil {
		c.mu.Unlock()
		c.notify(ctx, err)
		return false, err
	}
	if c.model.SetCenter(p) {
		c.changedLocked()
	}
	c.mu.Unlock()

	return true, nil
}

// Recenter moves the center to the device position reported by l, or to the
// configured default center when l is nil or fails.
func (c *Controller) Recenter(ctx context.Context, l Locator) geo.Point {
	if l == nil {
		l = c.deps.Locator
	}

	p := c.model.Config().DefaultCenter
	if l != nil {
		located, err := l.Locate(ctx)
		if err == nil && located.IsValid() {
			p = located
		} else {
			c.logger.DebugContext(ctx, "device location unavailable, using default center", "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model.SetCenter(p) {
		c.manualMoves++
		c.changedLocked()
	}
	return c.model.Center()
}

// View returns the current view.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Snapshot returns a copy of the current selection.
func (c *Controller) Snapshot() radius.Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.Snapshot()
}

// Dragging reports whether a radius drag is in progress.
func (c *Controller) Dragging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dragging
}

// Flush delivers any pending view to the Publisher now.
func (c *Controller) Flush() {
	c.debouncer.Flush()
}

// Close stops delivering views to the Publisher.
func (c *Controller) Close() {
	c.debouncer.Stop()
}

func (c *Controller) viewLocked() View {
	sel := c.model.Snapshot()
	handle := c.model.HandlePosition()
	if c.dragging {
		handle = c.pointer
	}

	res := geo.H3Resolution(c.opts.H3Resolution)
	if res == 0 {
		res = geo.ResolutionForRadius(sel.RadiusMeters)
	}

	return View{
		Selection:            sel,
		Handle:               handle,
		HandleFollowsPointer: c.dragging,
		Polygon:              c.model.Polygon(),
		Bounds:               geo.BoundsAround(sel.Center, sel.RadiusMeters),
		Dragging:             c.dragging,
		CoverageResolution:   res,
	}
}

func (c *Controller) changedLocked() {
	v := c.viewLocked()
	if c.deps.Listener != nil {
		c.deps.Listener.SelectionChanged(v)
	}
	c.debouncer.Trigger(v)
}

func (c *Controller) notify(ctx context.Context, err error) {
	if c.deps.Notifier == nil {
		return
	}
	code := apperrors.Code(err)
	if code == "" {
		code = apperrors.CodeInternal
	}
	c.deps.Notifier.Notify(ctx, code, noticeMessage(err))
}

func noticeMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "something went wrong"
}
