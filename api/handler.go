package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/election-ceremony-console/appstate"
	"github.com/ruteri/election-ceremony-console/flow"
	"github.com/ruteri/election-ceremony-console/interfaces"
)

const (
	// maxBodySize is the maximum allowed request body size (1MB).
	maxBodySize = 1024 * 1024
)

var errBadRequest = errors.New("bad request")

// ConsoleState is the application state the console reads and resets.
type ConsoleState interface {
	SetElection(ctx context.Context, election interfaces.ElectionDraft) error
	Election() interfaces.ElectionDraft
	Snapshot() appstate.Snapshot
	Reset(ctx context.Context) error
}

// Handler serves the ceremony console API on top of a flow.Controller.
type Handler struct {
	controller *flow.Controller
	state      ConsoleState
	log        *slog.Logger
}

func NewHandler(controller *flow.Controller, state ConsoleState, log *slog.Logger) *Handler {
	return &Handler{
		controller: controller,
		state:      state,
		log:        log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/ceremony", func(r chi.Router) {
		r.Use(h.recoverer)

		r.Get("/status", h.HandleStatus)
		r.Put("/election", h.HandleSetElection)
		r.Post("/setup-keys", h.HandleSetupKeys)
		r.Get("/keys", h.handleRoster(interfaces.TrusteeCohort))
		r.Post("/setup-encrypters", h.HandleSetupEncrypters)
		r.Get("/encrypters", h.handleRoster(interfaces.EncrypterCohort))
		r.Post("/devices/present", h.handleDeviceEvent(interfaces.DevicePresent))
		r.Post("/devices/removed", h.handleDeviceEvent(interfaces.DeviceRemoved))
		r.Post("/save/{cohort}", h.HandleSave)
		r.Get("/ready", h.HandleReady)
		r.Get("/screen/*", h.HandleScreen)
		r.Post("/reset", h.HandleReset)
	})
}

// recoverer resets the ceremony and the application state when a handler
// panics, so the console restarts from a clean setup screen.
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			h.log.Error("Console handler panicked, resetting ceremony", "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
			h.controller.Reset()
			if err := h.state.Reset(context.WithoutCancel(r.Context())); err != nil {
				h.log.Error("Could not reset application state", "err", err)
			}
			http.Error(w, "internal error, ceremony was reset", http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// HandleStatus returns the ceremony and application state.
//
// Endpoint: GET /api/ceremony/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.status())
}

// HandleSetElection loads the election draft used by the next creation.
//
// Endpoint: PUT /api/ceremony/election
// Body: the election definition as JSON
func (h *Handler) HandleSetElection(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	err = h.controller.UpdateElection(func() error {
		return h.state.SetElection(r.Context(), interfaces.ElectionDraft(body))
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.status())
}

// HandleSetupKeys configures the trustee cohort and creates the election. The
// request blocks until the creation service answers. An election in the body
// is stored only once the controller accepts the request.
//
// Endpoint: POST /api/ceremony/setup-keys
// Body: {"numberOfTrustees": <int>, "threshold": <int>, "election": <json, optional>}
func (h *Handler) HandleSetupKeys(w http.ResponseWriter, r *http.Request) {
	var req SetupKeysRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	err := h.controller.SetupTrusteesFrom(r.Context(), req.NumberOfTrustees, req.Threshold, func(ctx context.Context) (interfaces.ElectionDraft, error) {
		if len(req.Election) > 0 {
			if err := h.state.SetElection(ctx, interfaces.ElectionDraft(req.Election)); err != nil {
				return nil, err
			}
		}
		draft := h.state.Election()
		if draft == nil {
			return nil, appstate.ErrNoElection
		}
		return draft, nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.status())
}

// Endpoint: POST /api/ceremony/setup-encrypters
// Body: {"numberOfEncrypters": <int>}
func (h *Handler) HandleSetupEncrypters(w http.ResponseWriter, r *http.Request) {
	var req SetupEncryptersRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.controller.SetupEncrypters(r.Context(), req.NumberOfEncrypters); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) handleRoster(cohort interfaces.Cohort) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		registry := h.controller.Session().Registry(cohort)
		next, _ := registry.NextIncomplete()
		h.writeJSON(w, http.StatusOK, RosterResponse{
			Cohort:       cohort,
			Participants: registry.Participants(),
			Next:         next,
			Complete:     registry.IsFullyComplete(),
		})
	}
}

func (h *Handler) handleDeviceEvent(kind interfaces.DeviceEventKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DeviceEventRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		if req.ID == "" {
			h.writeError(w, r, fmt.Errorf("%w: participant id is required", errBadRequest))
			return
		}

		ev := interfaces.DeviceEvent{Kind: kind, Cohort: req.Cohort, ID: req.ID}
		if err := h.controller.HandleEvent(r.Context(), ev); err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, h.status())
	}
}

// HandleSave retries the payload write for the inserted device.
//
// Endpoint: POST /api/ceremony/save/{cohort}
func (h *Handler) HandleSave(w http.ResponseWriter, r *http.Request) {
	cohort, err := interfaces.ParseCohort(chi.URLParam(r, "cohort"))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	if err := h.controller.Save(r.Context(), cohort); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.status())
}

// Endpoint: GET /api/ceremony/ready
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	stage := h.controller.Stage()
	resp := ReadyResponse{Ready: stage == flow.StageReady, Stage: stage}
	if !resp.Ready {
		h.writeJSON(w, http.StatusConflict, resp)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleScreen resolves a console route without changing the ceremony.
//
// Endpoint: GET /api/ceremony/screen/*
func (h *Handler) HandleScreen(w http.ResponseWriter, r *http.Request) {
	screen, err := h.controller.Resolve(chi.URLParam(r, "*"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, screen)
}

// HandleReset discards the ceremony session and the application state.
//
// Endpoint: POST /api/ceremony/reset
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	h.controller.Reset()
	if err := h.state.Reset(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) status() StatusResponse {
	return StatusResponse{
		Ceremony:    h.controller.Status(),
		Application: h.state.Snapshot(),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Could not encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Console request failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		h.log.Debug("Console request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	http.Error(w, err.Error(), status)
}

// StatusCode maps a console error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, interfaces.ErrInvalidCeremonyParameters),
		errors.Is(err, appstate.ErrInvalidElection):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrNotFound),
		errors.Is(err, interfaces.ErrUnknownParticipant):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrInvalidStageTransition),
		errors.Is(err, interfaces.ErrDeviceSequenceViolation),
		errors.Is(err, interfaces.ErrCeremonyCreationInProgress),
		errors.Is(err, interfaces.ErrCeremonyComplete),
		errors.Is(err, interfaces.ErrElectionAlreadyCreated),
		errors.Is(err, interfaces.ErrElectionNotCreated),
		errors.Is(err, interfaces.ErrEncrypterDistributionStarted),
		errors.Is(err, appstate.ErrNoElection):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrCeremonyCreationFailed),
		errors.Is(err, interfaces.ErrDeviceWriteFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read request body: %w", errBadRequest, err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("%w: request body too large", errBadRequest)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty request body", errBadRequest)
	}
	return body, nil
}

func decodeJSON(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %w", errBadRequest, err)
	}
	return nil
}
