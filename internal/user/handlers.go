package user

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tommygebru/kiekky-engagement/internal/common"
	"github.com/tommygebru/kiekky-engagement/internal/gateway"
)

// Handler handles user HTTP requests
type Handler struct {
	service Service
}

// NewHandler creates a new user handler
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers user routes
func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware func(http.Handler) http.Handler) {
	// All user routes require authentication
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(authMiddleware)

	api.HandleFunc("/users", handler.ListUsers).Methods("GET")
	api.HandleFunc("/users/{id}", handler.GetUser).Methods("GET")

	// Follow routes
	api.HandleFunc("/users/{id}/follow-status", handler.GetFollowStatus).Methods("GET")
	api.HandleFunc("/users/{id}/follow-toggle", handler.ToggleFollow).Methods("POST")
}

// GetUser returns a user's profile
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
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

	profile, err := h.service.Profile(r.Context(), currentUserID, userID)
	if err != nil {
		gateway.WriteError(w, err, "Failed to get user")
		return
	}

	common.Success(w, "", profile)
}

// ListUsers returns a page of the user directory
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	currentUserID, err := common.GetUserID(r.Context())
	if err != nil {
		common.Unauthorized(w, "Unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	req := ListRequest{
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  limit,
	}
	if errs := common.ValidateStruct(&req); errs != nil {
		common.ValidationError(w, errs)
		return
	}

	page, err := h.service.Users(r.Context(), currentUserID, req)
	if err != nil {
		gateway.WriteError(w, err, "Failed to list users")
		return
	}

	common.SuccessWithMeta(w, "", page.Users, &common.Meta{
		EndCursor:   page.PageInfo.EndCursor,
		HasNextPage: page.PageInfo.HasNextPage,
	})
}

// GetFollowStatus reports whether the current user follows {id}
func (h *Handler) GetFollowStatus(w http.ResponseWriter, r *http.Request) {
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

	following, err := h.service.IsFollowing(r.Context(), currentUserID, userID)
	if err != nil {
		gateway.WriteError(w, err, "Failed to check follow status")
		return
	}

	common.Success(w, "", FollowState{UserID: userID, Following: following})
}

// ToggleFollow follows or unfollows {id} and answers with the confirmed state
func (h *Handler) ToggleFollow(w http.ResponseWriter, r *http.Request) {
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

	following, err := h.service.ToggleFollow(r.Context(), currentUserID, userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrCannotFollowSelf):
			common.BadRequest(w, "You cannot follow yourself")
		case errors.Is(err, ErrFollowInFlight):
			common.Conflict(w, "Follow change already in progress")
		default:
			gateway.WriteError(w, err, "Failed to update follow")
		}
		return
	}

	message := "Successfully unfollowed user"
	if following {
		message = "Successfully followed user"
	}
	common.Success(w, message, FollowState{UserID: userID, Following: following})
}
