package posts

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tommygebru/kiekky-engagement/internal/common"
	"github.com/tommygebru/kiekky-engagement/internal/gateway"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware func(http.Handler) http.Handler) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(authMiddleware)

	// Engagement
	api.HandleFunc("/posts/{id}/engagement", handler.GetEngagement).Methods("GET")
	api.HandleFunc("/posts/{id}/like", handler.ToggleLike).Methods("POST")
	api.HandleFunc("/posts/{id}/save", handler.ToggleSave).Methods("POST")

	// Lists
	api.HandleFunc("/feed", handler.GetFeed).Methods("GET")
	api.HandleFunc("/users/{id}/liked-posts", handler.GetLikedPosts).Methods("GET")
}

func (h *Handler) GetEngagement(w http.ResponseWriter, r *http.Request) {
	userID, err := common.GetUserID(r.Context())
	if err != nil {
		common.Unauthorized(w, "Unauthorized")
		return
	}

	postID := mux.Vars(r)["id"]
	if !common.ValidateObjectID(postID) {
		common.BadRequest(w, "Invalid post ID")
		return
	}

	engagement, err := h.service.Engagement(r.Context(), userID, postID)
	if err != nil {
		gateway.WriteError(w, err, "Failed to get engagement")
		return
	}

	common.Success(w, "", engagement)
}

func (h *Handler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, KindLike)
}

func (h *Handler) ToggleSave(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, KindSave)
}

// toggle answers 202 with the optimistic view, or with the settled view when
// the client asks to wait
func (h *Handler) toggle(w http.ResponseWriter, r *http.Request, kind Kind) {
	userID, err := common.GetUserID(r.Context())
	if err != nil {
		common.Unauthorized(w, "Unauthorized")
		return
	}

	postID := mux.Vars(r)["id"]
	if !common.ValidateObjectID(postID) {
		common.BadRequest(w, "Invalid post ID")
		return
	}

	pending, err := h.service.Toggle(r.Context(), userID, postID, kind)
	if err != nil {
		gateway.WriteError(w, err, "Failed to update post")
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		common.Accepted(w, "", pending.Optimistic)
		return
	}

	settled, err := pending.Wait(r.Context())
	if err != nil {
		common.JSON(w, gateway.StatusCode(err), common.Response{
			Success: false,
			Error:   gateway.UserMessage(err),
			Data:    settled,
		})
		return
	}

	common.Success(w, "", settled)
}

func (h *Handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	userID, err := common.GetUserID(r.Context())
	if err != nil {
		common.Unauthorized(w, "Unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	req := FeedRequest{
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  limit,
	}
	if errs := common.ValidateStruct(&req); errs != nil {
		common.ValidationError(w, errs)
		return
	}

	page, err := h.service.Feed(r.Context(), userID, req)
	if err != nil {
		gateway.WriteError(w, err, "Failed to get feed")
		return
	}

	common.SuccessWithMeta(w, "", page.Posts, &common.Meta{
		EndCursor:   page.PageInfo.EndCursor,
		HasNextPage: page.PageInfo.HasNextPage,
	})
}

func (h *Handler) GetLikedPosts(w http.ResponseWriter, r *http.Request) {
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

	posts, err := h.service.LikedPosts(r.Context(), currentUserID, userID)
	if err != nil {
		gateway.WriteError(w, err, "Failed to get liked posts")
		return
	}

	common.SuccessWithMeta(w, "", posts, &common.Meta{Total: len(posts)})
}
