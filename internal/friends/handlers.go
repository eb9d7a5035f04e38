package friends

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tommygebru/kiekky-engagement/internal/common"
	"github.com/tommygebru/kiekky-engagement/internal/gateway"
)

// Handler handles friendship HTTP requests
type Handler struct {
	service Service
}

// NewHandler creates a new friendship handler
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers friendship routes
func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware func(http.Handler) http.Handler) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(authMiddleware)

	api.HandleFunc("/friend-requests", handler.GetRequests).Methods("GET")

	api.HandleFunc("/users/{id}/friendship", handler.GetStatus).Methods("GET")
	api.HandleFunc("/users/{id}/friend-request", handler.transition((Service).Send)).Methods("POST")
	api.HandleFunc("/users/{id}/friend-request", handler.transition((Service).Cancel)).Methods("DELETE")
	api.HandleFunc("/users/{id}/friend-request/accept", handler.transition((Service).Accept)).Methods("POST")
	api.HandleFunc("/users/{id}/friend-request/reject", handler.transition((Service).Reject)).Methods("POST")
	api.HandleFunc("/users/{id}/unfriend", handler.transition((Service).Unfriend)).Methods("POST")
}

func writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrActionNotAllowed), errors.Is(err, ErrRequestInFlight):
		common.Conflict(w, err.Error())
	case errors.Is(err, ErrCannotBefriendSelf):
		common.BadRequest(w, err.Error())
	default:
		gateway.WriteError(w, err, fallback)
	}
}

// GetStatus returns the friendship view between the current user and {id}
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	currentUserID, err := common.GetUserID(r.Context())
	if err != nil {
		common.Unauthorized(w, "Unauthorized")
		return
	}

	userID := mux.Vars(r)["id"]
	if !common.ValidateObjectID(userID) {
		common.BadRequest(w, "Invalid user ID")
		return
	}

	view, err := h.service.Status(r.Context(), currentUserID, userID)
	if err != nil {
		writeError(w, err, "Failed to get friendship status")
		return
	}

	common.Success(w, "", view)
}

// GetRequests lists incoming pending friend requests
func (h *Handler) GetRequests(w http.ResponseWriter, r *http.Request) {
	currentUserID, err := common.GetUserID(r.Context())
	if err != nil {
		common.Unauthorized(w, "Unauthorized")
		return
	}

	requests, err := h.service.Requests(r.Context(), currentUserID)
	if err != nil {
		writeError(w, err, "Failed to get friend requests")
		return
	}

	common.SuccessWithMeta(w, "", requests, &common.Meta{Total: len(requests)})
}

func (h *Handler) transition(action func(Service, context.Context, string, string) (*View, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUserID, err := common.GetUserID(r.Context())
		if err != nil {
			common.Unauthorized(w, "Unauthorized")
			return
		}

		userID := mux.Vars(r)["id"]
		if !common.ValidateObjectID(userID) {
			common.BadRequest(w, "Invalid user ID")
			return
		}

		view, err := action(h.service, r.Context(), currentUserID, userID)
		if err != nil {
			writeError(w, err, "Failed to update friendship")
			return
		}

		common.Success(w, "", view)
	}
}
