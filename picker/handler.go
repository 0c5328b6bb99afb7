package picker

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/geojson"

	"github.com/mycobrun/cobrun-picker/auth"
	"github.com/mycobrun/cobrun-picker/confirm"
	apperrors "github.com/mycobrun/cobrun-picker/errors"
	"github.com/mycobrun/cobrun-picker/geo"
	pickerhttp "github.com/mycobrun/cobrun-picker/http"
	"github.com/mycobrun/cobrun-picker/interaction"
	"github.com/mycobrun/cobrun-picker/logging"
	"github.com/mycobrun/cobrun-picker/messaging"
	"github.com/mycobrun/cobrun-picker/radius"
	"github.com/mycobrun/cobrun-picker/telemetry"
	"github.com/mycobrun/cobrun-picker/validation"
)

// negotiateTTL bounds SignalR client tokens.
const negotiateTTL = time.Hour

// Handler serves the picker API.
type Handler struct {
	registry *Registry
	deps     Dependencies
}

// NewHandler creates a handler over registry.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry, deps: registry.deps}
}

// Routes returns the picker routes, to be mounted at /v1/pickers.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.handleCreate)
	r.Route("/{id}", func(r chi.Router) {
		if h.deps.Tokens != nil {
			r.Use(auth.RequireSession(h.deps.Tokens, sessionID, pickerhttp.GetRequestID))
		}

		r.Get("/", h.handleView)
		r.Delete("/", h.handleClose)

		r.Post("/click", h.pointEvent((*interaction.Controller).Click))
		r.Post("/center/drag-end", h.pointEvent((*interaction.Controller).CenterDragEnd))
		r.Post("/handle/drag-start", h.handleDragStart)
		r.Post("/handle/drag-move", h.pointEvent((*interaction.Controller).HandleDragMove))
		r.Post("/handle/drag-end", h.handleDragEnd)
		r.Put("/radius", h.handleSetRadius)

		r.Post("/geocode", h.handleGeocode)
		r.Post("/recenter", h.handleRecenter)

		r.Post("/confirm", h.handleConfirm)
		r.Post("/fallback/copy", h.handleCopy)
		r.Delete("/fallback", h.handleDismiss)

		r.Post("/negotiate", h.handleNegotiate)
	})

	return r
}

// Requests

type pointRequest struct {
	Lat *float64 `json:"lat" validate:"required"`
	Lng *float64 `json:"lng" validate:"required"`
}

func (p pointRequest) point() geo.Point {
	return geo.NewPoint(*p.Lat, *p.Lng)
}

type centerRequest struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

type createRequest struct {
	Center       *centerRequest `json:"center"`
	RadiusMeters *float64       `json:"radius_meters"`

	// DeepLink reopens a previously confirmed selection. It cannot be
	// combined with Center or RadiusMeters.
	DeepLink string `json:"deep_link"`
}

type radiusRequest struct {
	RadiusMeters *float64 `json:"radius_meters" validate:"required"`
}

type geocodeRequest struct {
	Address string `json:"address"`
}

type recenterRequest struct {
	Lat *float64 `json:"lat" validate:"omitempty,latitude"`
	Lng *float64 `json:"lng" validate:"omitempty,longitude"`
}

type copyRequest struct {
	OK    *bool  `json:"ok" validate:"required"`
	Error string `json:"error"`
}

// Responses

// ViewResponse is a session as a map client draws it.
type ViewResponse struct {
	ID                   string                     `json:"id"`
	Selection            radius.Selection           `json:"selection"`
	Handle               geo.Point                  `json:"handle"`
	HandleFollowsPointer bool                       `json:"handle_follows_pointer"`
	Dragging             bool                       `json:"dragging"`
	Bounds               geo.BoundingBox            `json:"bounds"`
	GeoJSON              *geojson.FeatureCollection `json:"geojson,omitempty"`
	Cells                []string                   `json:"cells,omitempty"`
	Notice               *logging.Notice            `json:"notice,omitempty"`
	Confirmation         ConfirmationResponse       `json:"confirmation"`
}

// ConfirmationResponse is the confirmation flow state.
type ConfirmationResponse struct {
	State      confirm.State   `json:"state"`
	Result     *confirm.Result `json:"result,omitempty"`
	HandoffURI string          `json:"handoff_uri,omitempty"`
	Copied     bool            `json:"copied"`
}

// CreateResponse is a new session and, when session tokens are enabled,
// the bearer token that authorizes every other call on it.
type CreateResponse struct {
	ViewResponse
	Token string `json:"token,omitempty"`
}

// EventResponse reports whether an event changed the selection.
type EventResponse struct {
	Applied bool `json:"applied"`
	ViewResponse
}

func newView(s *Session) ViewResponse {
	v := s.Controller.View()
	resp := ViewResponse{
		ID:                   s.ID,
		Selection:            v.Selection,
		Handle:               v.Handle,
		HandleFollowsPointer: v.HandleFollowsPointer,
		Dragging:             v.Dragging,
		Bounds:               v.Bounds,
		Confirmation:         newConfirmation(s.Flow),
	}
	if fc, ok := s.Frames.Latest(); ok {
		resp.GeoJSON = fc
	}
	if frame, ok := s.Frames.LatestFrame(); ok {
		resp.Cells = frame.Cells
	}
	if notice, ok := s.Notices.Take(); ok {
		resp.Notice = &notice
	}
	return resp
}

func newConfirmation(f *confirm.Flow) ConfirmationResponse {
	resp := ConfirmationResponse{State: f.State(), Copied: f.Copied()}
	if result, ok := f.Result(); ok {
		resp.Result = &result
		resp.HandoffURI = result.DeepLinkURI
	}
	return resp
}

// Handlers

func sessionID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	s, err := h.registry.Get(r.Context(), sessionID(r))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.WriteError(w, err, pickerhttp.GetRequestID(r.Context()))
}

// handleCreate handles POST /v1/pickers
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if r.ContentLength != 0 {
		if !validation.DecodeAndValidate(w, r, &req) {
			return
		}
	}

	opts := SessionOptions{RadiusMeters: req.RadiusMeters}
	if req.Center != nil {
		center := geo.NewPoint(req.Center.Lat, req.Center.Lng)
		opts.Center = &center
	}
	if req.DeepLink != "" {
		if req.Center != nil || req.RadiusMeters != nil {
			h.writeError(w, r, apperrors.BadRequest("deep_link cannot be combined with center or radius_meters"))
			return
		}
		result, err := confirm.ParseDeepLink(req.DeepLink)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		sel := result.Selection()
		opts = SessionOptions{Center: &sel.Center, RadiusMeters: &sel.RadiusMeters}
	}

	s, err := h.registry.Create(r.Context(), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := CreateResponse{ViewResponse: newView(s)}
	if h.deps.Tokens != nil {
		token, err := h.deps.Tokens.Issue(s.ID)
		if err != nil {
			_ = h.registry.Close(r.Context(), s.ID)
			h.writeError(w, r, apperrors.Wrap(err, apperrors.CodeInternal, "failed to issue session token"))
			return
		}
		resp.Token = token
	}

	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+s.ID)
	pickerhttp.Created(w, resp)
}

// handleView handles GET /v1/pickers/{id}
func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	pickerhttp.OK(w, newView(s))
}

// handleClose handles DELETE /v1/pickers/{id}
func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Close(r.Context(), sessionID(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	pickerhttp.NoContent(w)
}

// pointEvent adapts a controller event taking a coordinate.
func (h *Handler) pointEvent(apply func(*interaction.Controller, geo.Point) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := h.session(w, r)
		if !ok {
			return
		}

		var req pointRequest
		if !validation.DecodeAndValidate(w, r, &req) {
			return
		}

		applied := apply(s.Controller, req.point())
		pickerhttp.OK(w, EventResponse{Applied: applied, ViewResponse: newView(s)})
	}
}

// handleDragStart handles POST /v1/pickers/{id}/handle/drag-start
func (h *Handler) handleDragStart(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	applied := !s.Controller.Dragging()
	s.Controller.HandleDragStart()
	pickerhttp.OK(w, EventResponse{Applied: applied, ViewResponse: newView(s)})
}

// handleDragEnd handles POST /v1/pickers/{id}/handle/drag-end
func (h *Handler) handleDragEnd(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req pointRequest
	if !validation.DecodeAndValidate(w, r, &req) {
		return
	}

	applied := s.Controller.HandleDragEnd(req.point())
	if applied {
		h.deps.Metrics.RecordHandleDrag(r.Context())
	}
	pickerhttp.OK(w, EventResponse{Applied: applied, ViewResponse: newView(s)})
}

// handleSetRadius handles PUT /v1/pickers/{id}/radius
func (h *Handler) handleSetRadius(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req radiusRequest
	if !validation.DecodeAndValidate(w, r, &req) {
		return
	}

	s.Controller.SetRadius(*req.RadiusMeters)
	pickerhttp.OK(w, EventResponse{Applied: true, ViewResponse: newView(s)})
}

// handleGeocode handles POST /v1/pickers/{id}/geocode
func (h *Handler) handleGeocode(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req geocodeRequest
	if !validation.DecodeAndValidate(w, r, &req) {
		return
	}

	applied, err := s.Controller.SubmitAddress(r.Context(), req.Address)
	h.deps.Metrics.RecordGeocode(r.Context(), geocodeOutcome(applied, err))
	if err != nil {
		// The notice is in the error body; drop it so the next view does not
		// show it twice.
		s.Notices.Take()
		h.writeError(w, r, err)
		return
	}

	pickerhttp.OK(w, EventResponse{Applied: applied, ViewResponse: newView(s)})
}

func geocodeOutcome(applied bool, err error) string {
	switch {
	case err == nil && applied:
		return telemetry.GeocodeOutcomeOK
	case err == nil:
		return telemetry.GeocodeOutcomeStale
	case apperrors.IsValidation(err):
		return telemetry.GeocodeOutcomeInvalid
	case errors.Is(err, apperrors.ErrGeocodeNotFound):
		return telemetry.GeocodeOutcomeNotFound
	default:
		return telemetry.GeocodeOutcomeUnavailable
	}
}

// handleRecenter handles POST /v1/pickers/{id}/recenter. A body without a
// position means the client could not get one.
func (h *Handler) handleRecenter(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req recenterRequest
	if r.ContentLength != 0 {
		if !validation.DecodeAndValidate(w, r, &req) {
			return
		}
	}

	locator := interaction.LocatorFunc(func(context.Context) (geo.Point, error) {
		if req.Lat == nil || req.Lng == nil {
			return geo.Point{}, interaction.ErrLocationUnavailable
		}
		return geo.NewPoint(*req.Lat, *req.Lng), nil
	})

	before := s.Controller.Snapshot().Center
	after := s.Controller.Recenter(r.Context(), locator)
	pickerhttp.OK(w, EventResponse{Applied: before != after, ViewResponse: newView(s)})
}

// handleConfirm handles POST /v1/pickers/{id}/confirm
func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	s.Controller.Flush()
	sel := s.Controller.Snapshot()
	result := s.Flow.Confirm(r.Context(), sel)

	telemetry.SetSpanAttributes(r.Context(),
		telemetry.SelectionAttributes(s.ID, result.Latitude, result.Longitude, float64(result.RadiusMeters))...)
	h.deps.Metrics.RecordConfirmation(r.Context(), result.RadiusMeters, true)
	h.deps.Audit.LogFromRequest(r, logging.AuditEventSelectionChosen, s.ID, logging.AuditOutcomeSuccess, map[string]any{
		"lat":       result.Latitude,
		"lng":       result.Longitude,
		"radius":    result.RadiusMeters,
		"deep_link": result.DeepLinkURI,
	})
	h.publish(r, s.ID, result)

	pickerhttp.OK(w, newConfirmation(s.Flow))
}

// publish hands result to the selection topic. The handoff has already
// happened, so a failed publish is logged and never fails the request.
func (h *Handler) publish(r *http.Request, id string, result confirm.Result) {
	if h.deps.Events == nil {
		return
	}
	event := messaging.NewSelectionEvent(id, result, h.registry.config.Clock.Now())
	if err := h.deps.Events.PublishSelection(r.Context(), event); err != nil {
		h.deps.Logger.WarnContext(r.Context(), "failed to publish selection",
			"session_id", id,
			"error", err)
	}
}

// handleCopy handles POST /v1/pickers/{id}/fallback/copy. The client writes
// the clipboard and reports how it went.
func (h *Handler) handleCopy(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req copyRequest
	if !validation.DecodeAndValidate(w, r, &req) {
		return
	}

	clip := confirm.ClipboardFunc(func(context.Context, string) error {
		if *req.OK {
			return nil
		}
		if req.Error == "" {
			return errors.New("clipboard write rejected")
		}
		return errors.New(req.Error)
	})

	err := s.Flow.Copy(r.Context(), clip)
	outcome := logging.AuditOutcomeSuccess
	if err != nil {
		outcome = logging.AuditOutcomeFailure
	}
	if apperrors.Code(err) != apperrors.CodeConflict {
		h.deps.Metrics.RecordCopy(r.Context(), err == nil)
		h.deps.Audit.LogFromRequest(r, logging.AuditEventLinkCopied, s.ID, outcome, nil)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	pickerhttp.OK(w, newConfirmation(s.Flow))
}

// handleDismiss handles DELETE /v1/pickers/{id}/fallback
func (h *Handler) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if s.Flow.Dismiss() {
		h.deps.Audit.LogFromRequest(r, logging.AuditEventFallbackClosed, s.ID, logging.AuditOutcomeSuccess, nil)
	}
	pickerhttp.OK(w, newConfirmation(s.Flow))
}

// handleNegotiate handles POST /v1/pickers/{id}/negotiate, returning the
// SignalR connection for the session's frame stream.
func (h *Handler) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if h.deps.SignalR == nil {
		h.writeError(w, r, apperrors.Unavailable("realtime updates are not configured"))
		return
	}

	resp, err := h.deps.SignalR.Negotiate(r.Context(), s.ID, negotiateTTL)
	if err != nil {
		logging.FromContext(r.Context()).ErrorContext(r.Context(), "signalr negotiate failed", "session_id", s.ID, "error", err)
		h.writeError(w, r, apperrors.Wrap(err, apperrors.CodeUnavailable, "realtime updates are unavailable"))
		return
	}
	pickerhttp.OK(w, resp)
}
