package handler

import (
	"net/http"

	"agriconnect/internal/appointments/service"
	"agriconnect/pkg/auth"
	apperrors "agriconnect/pkg/errors"
	httputil "agriconnect/pkg/http"
	"agriconnect/pkg/logger"
	"agriconnect/pkg/middleware"
	"agriconnect/pkg/model"

	"github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"
)

const (
	MsgRequested = "Appointment request sent to expert"
	MsgAccepted  = "Appointment accepted successfully"
	MsgDeclined  = "Appointment declined successfully"
)

// AppointmentHandler serves the booking endpoints. It expects the caller's
// identity on the request context.
type AppointmentHandler struct {
	service service.AppointmentService
	log     *logger.Logger
}

func NewAppointmentHandler(service service.AppointmentService, log *logger.Logger) *AppointmentHandler {
	return &AppointmentHandler{
		service: service,
		log:     log,
	}
}

func (h *AppointmentHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/appointments", withRole(model.RoleFarmer, h.Create))
	router.POST("/appointments/:id/accept", withRole(model.RoleExpert, h.Accept))
	router.POST("/appointments/:id/decline", withRole(model.RoleExpert, h.Decline))
	router.GET("/appointments/expert", withRole(model.RoleExpert, h.ListForExpert))
	router.GET("/appointments/farmer", withRole(model.RoleFarmer, h.ListForFarmer))
}

func withRole(role model.Role, handle httprouter.Handle) httprouter.Handle {
	guard := middleware.RequireRole(role)
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handle(w, r, ps)
		})).ServeHTTP(w, r)
	}
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	identity, _ := auth.IdentityFrom(r.Context())

	var req model.AppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Create", apperrors.InvalidInput("Invalid request body"))
		return
	}

	appointment, err := h.service.RequestAppointment(r.Context(), identity.UserID, &req)
	if err != nil {
		h.writeError(w, "Create", err)
		return
	}

	if err := httputil.WriteMessage(w, http.StatusCreated, httputil.MessageResponse{
		Message:       MsgRequested,
		AppointmentID: appointment.ID,
	}); err != nil {
		h.log.Error("failed to write created response", "handler", "Create", "operation", "WriteMessage", "error", err)
	}
}

func (h *AppointmentHandler) Accept(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.respond(w, r, ps, "Accept", model.StatusAccepted, MsgAccepted)
}

func (h *AppointmentHandler) Decline(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.respond(w, r, ps, "Decline", model.StatusDeclined, MsgDeclined)
}

func (h *AppointmentHandler) respond(w http.ResponseWriter, r *http.Request, ps httprouter.Params, name string, decision model.AppointmentStatus, msg string) {
	identity, _ := auth.IdentityFrom(r.Context())

	if _, err := h.service.RespondToAppointment(r.Context(), identity.UserID, ps.ByName("id"), decision); err != nil {
		h.writeError(w, name, err)
		return
	}

	if err := httputil.WriteMessage(w, http.StatusOK, httputil.MessageResponse{Message: msg}); err != nil {
		h.log.Error("failed to write success response", "handler", name, "operation", "WriteMessage", "error", err)
	}
}

func (h *AppointmentHandler) ListForExpert(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	identity, _ := auth.IdentityFrom(r.Context())

	views, err := h.service.ListForExpert(r.Context(), identity.UserID)
	if err != nil {
		h.writeError(w, "ListForExpert", err)
		return
	}

	if err := httputil.WriteSuccess(w, views); err != nil {
		h.log.Error("failed to write success response", "handler", "ListForExpert", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AppointmentHandler) ListForFarmer(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	identity, _ := auth.IdentityFrom(r.Context())

	views, err := h.service.ListForFarmer(r.Context(), identity.UserID)
	if err != nil {
		h.writeError(w, "ListForFarmer", err)
		return
	}

	if err := httputil.WriteSuccess(w, views); err != nil {
		h.log.Error("failed to write success response", "handler", "ListForFarmer", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AppointmentHandler) writeError(w http.ResponseWriter, name string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", name, "operation", "WriteError", "error", writeErr)
	}
}
