package ticket

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	aqm "github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/expeditehq/expedite/pkg/enums/ordersource"
	"github.com/expeditehq/expedite/pkg/enums/ticketstatus"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const MaxBodyBytes = 1 << 20

type HandlerDeps struct {
	Repo       TicketRepository
	Cache      *TicketStateCache
	Lifecycle  *Lifecycle
	Promoter   *Promoter
	Reconciler Reconciliation
}

type Handler struct {
	repo       TicketRepository
	cache      *TicketStateCache
	lifecycle  *Lifecycle
	promoter   *Promoter
	reconciler Reconciliation
	logger     aqm.Logger
	config     *aqm.Config
	tlm        *telemetry.HTTP
}

func NewHandler(deps HandlerDeps, config *aqm.Config, logger aqm.Logger) *Handler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Handler{
		repo:       deps.Repo,
		cache:      deps.Cache,
		lifecycle:  deps.Lifecycle,
		promoter:   deps.Promoter,
		reconciler: deps.Reconciler,
		logger:     logger,
		config:     config,
		tlm:        telemetry.NewHTTP(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/tickets", func(r chi.Router) {
		r.Get("/", h.ListTickets)
		r.Get("/{id}", h.GetTicket)
		r.Patch("/{id}", h.UpdateDetails)
		r.Patch("/{id}/preparing", h.PrepareTicket)
		r.Patch("/{id}/ready", h.ReadyTicket)
		r.Patch("/{id}/complete", h.CompleteTicket)
		r.Patch("/{id}/recall", h.RecallTicket)
		r.Patch("/{id}/hold", h.HoldTicket)
		r.Patch("/{id}/unhold", h.UnholdTicket)
	})
	r.Route("/locations/{location}", func(r chi.Router) {
		r.Get("/queue", h.ListQueue)
		r.Post("/promote", h.Promote)
		r.Post("/reconcile", h.Reconcile)
	})
}

func (h *Handler) log(r *http.Request) aqm.Logger {
	return h.logger.With("request_id", aqm.RequestIDFrom(r.Context()))
}

func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListTickets")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	location := r.URL.Query().Get("location")
	status := r.URL.Query().Get("status")
	source := r.URL.Query().Get("source")

	if status != "" && ticketstatus.ByName(status) == nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid status")
		return
	}
	if source != "" && ordersource.ByName(source) == nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid source")
		return
	}

	// The board read (location only) is served from the cache; filtered
	// reads fall through to the repository.
	if h.cache != nil && location != "" && status == "" && source == "" {
		board := h.cache.Board(location)
		aqm.Respond(w, http.StatusOK, map[string]interface{}{
			"tickets": board,
		}, nil)
		return
	}

	filter := TicketFilter{}
	if location != "" {
		filter.LocationID = &location
	}
	if status != "" {
		filter.Status = &status
	}
	if source != "" {
		filter.Source = &source
	}

	tickets, err := h.repo.List(ctx, filter)
	if err != nil {
		log.Errorf("cannot list tickets: %v", err)
		aqm.RespondError(w, http.StatusInternalServerError, "Could not list tickets")
		return
	}

	aqm.Respond(w, http.StatusOK, map[string]interface{}{
		"tickets": tickets,
	}, nil)
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetTicket")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	id, ok := h.ticketID(w, r)
	if !ok {
		return
	}

	t, err := h.repo.FindByID(ctx, id)
	if err != nil {
		log.Errorf("cannot find ticket: %v", err)
		h.respondDomainError(w, err)
		return
	}

	aqm.Respond(w, http.StatusOK, t, nil)
}

func (h *Handler) PrepareTicket(w http.ResponseWriter, r *http.Request) {
	h.updateStatus(w, r, "Prepare", ticketstatus.Statuses.Preparing.Code())
}

func (h *Handler) ReadyTicket(w http.ResponseWriter, r *http.Request) {
	h.updateStatus(w, r, "Ready", ticketstatus.Statuses.Ready.Code())
}

func (h *Handler) CompleteTicket(w http.ResponseWriter, r *http.Request) {
	h.updateStatus(w, r, "Complete", ticketstatus.Statuses.Completed.Code())
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request, action, newStatus string) {
	w, r, finish := h.tlm.Start(w, r, "Handler."+action+"Ticket")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	id, ok := h.ticketID(w, r)
	if !ok {
		return
	}

	actorID := h.actorID(w, r)

	t, err := h.lifecycle.UpdateStatus(ctx, id, newStatus, actorID)
	if err != nil {
		log.Errorf("cannot update ticket status: %v", err)
		h.respondDomainError(w, err)
		return
	}

	aqm.Respond(w, http.StatusOK, t, nil)
}

func (h *Handler) RecallTicket(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.RecallTicket")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	id, ok := h.ticketID(w, r)
	if !ok {
		return
	}

	t, err := h.lifecycle.Recall(ctx, id, h.actorID(w, r))
	if err != nil {
		log.Errorf("cannot recall ticket: %v", err)
		h.respondDomainError(w, err)
		return
	}

	aqm.Respond(w, http.StatusOK, t, nil)
}

func (h *Handler) HoldTicket(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.HoldTicket")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	id, ok := h.ticketID(w, r)
	if !ok {
		return
	}

	var payload struct {
		Reason  string `json:"reason"`
		ActorID string `json:"actor_id"`
	}
	if !h.decodeBody(w, r, &payload) {
		return
	}

	t, err := h.lifecycle.Hold(ctx, id, payload.Reason, payload.ActorID)
	if err != nil {
		log.Errorf("cannot hold ticket: %v", err)
		h.respondDomainError(w, err)
		return
	}

	aqm.Respond(w, http.StatusOK, t, nil)
}

func (h *Handler) UnholdTicket(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UnholdTicket")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	id, ok := h.ticketID(w, r)
	if !ok {
		return
	}

	t, err := h.lifecycle.Unhold(ctx, id, h.actorID(w, r))
	if err != nil {
		log.Errorf("cannot unhold ticket: %v", err)
		h.respondDomainError(w, err)
		return
	}

	aqm.Respond(w, http.StatusOK, t, nil)
}

func (h *Handler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UpdateDetails")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	id, ok := h.ticketID(w, r)
	if !ok {
		return
	}

	var payload struct {
		StaffNotes  *string `json:"staff_notes"`
		CustomLabel *string `json:"custom_label"`
	}
	if !h.decodeBody(w, r, &payload) {
		return
	}

	t, err := h.lifecycle.UpdateDetails(ctx, id, payload.StaffNotes, payload.CustomLabel)
	if err != nil {
		log.Errorf("cannot update ticket details: %v", err)
		h.respondDomainError(w, err)
		return
	}

	aqm.Respond(w, http.StatusOK, t, nil)
}

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListQueue")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	location := chi.URLParam(r, "location")
	if location == "" {
		aqm.RespondError(w, http.StatusBadRequest, "Missing location")
		return
	}

	queued, err := h.repo.ListQueued(ctx, location)
	if err != nil {
		log.Errorf("cannot list queue: %v", err)
		aqm.RespondError(w, http.StatusInternalServerError, "Could not list queue")
		return
	}

	aqm.Respond(w, http.StatusOK, map[string]interface{}{
		"tickets": queued,
	}, nil)
}

func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Promote")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	location := chi.URLParam(r, "location")
	if location == "" {
		aqm.RespondError(w, http.StatusBadRequest, "Missing location")
		return
	}

	t, err := h.promoter.TryPromote(ctx, location)
	if err != nil {
		log.Errorf("cannot promote at %s: %v", location, err)
		aqm.RespondError(w, http.StatusInternalServerError, "Could not promote")
		return
	}

	// A nil ticket is normal backpressure, not an error.
	aqm.Respond(w, http.StatusOK, map[string]interface{}{
		"promoted": t != nil,
		"ticket":   t,
	}, nil)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Reconcile")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	location := chi.URLParam(r, "location")
	if location == "" {
		aqm.RespondError(w, http.StatusBadRequest, "Missing location")
		return
	}

	minutesBack := 0
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			aqm.RespondError(w, http.StatusBadRequest, "Invalid minutes")
			return
		}
		minutesBack = n
	}

	summary, err := h.reconciler.Run(ctx, location, minutesBack, 0)
	if err != nil {
		log.Errorf("reconciliation failed for %s: %v", location, err)
		aqm.RespondError(w, http.StatusInternalServerError, "Reconciliation failed")
		return
	}

	aqm.Respond(w, http.StatusOK, summary, nil)
}

func (h *Handler) ticketID(w http.ResponseWriter, r *http.Request) (TicketID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid ticket ID")
		return uuid.Nil, false
	}
	return id, true
}

// actorID reads the optional actor from the request body; an empty or absent
// body is fine.
func (h *Handler) actorID(w http.ResponseWriter, r *http.Request) string {
	var payload struct {
		ActorID string `json:"actor_id"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		return ""
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.ActorID
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Could not read request body")
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, into); err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid JSON payload")
		return false
	}
	return true
}

func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	var ite *InvalidTransitionError
	switch {
	case IsNotFound(err):
		aqm.RespondError(w, http.StatusNotFound, err.Error())
	case IsConflict(err):
		aqm.RespondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &ve):
		aqm.RespondError(w, http.StatusBadRequest, ve.Error())
	case errors.As(err, &ite):
		aqm.RespondError(w, http.StatusConflict, ite.Error())
	default:
		aqm.RespondError(w, http.StatusInternalServerError, "Internal error")
	}
}
