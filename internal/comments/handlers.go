package comments

import (
	"errors"
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

	// Threads
	api.HandleFunc("/posts/{id}/comments", handler.ListComments).Methods("GET")
	api.HandleFunc("/posts/{id}/comments", handler.AddComment).Methods("POST")
	api.HandleFunc("/posts/{id}/comments/{commentId}/replies", handler.ListReplies).Methods("GET")

	// Comment actions
	api.HandleFunc("/comments/{id}/like", handler.ToggleLike).Methods("POST")
	api.HandleFunc("/comments/{id}", handler.DeleteComment).Methods("DELETE")

	// Reply composer
	api.HandleFunc("/posts/{id}/reply-target", handler.GetReplyTarget).Methods("GET")
	api.HandleFunc("/posts/{id}/reply-target", handler.StartReply).Methods("PUT")
	api.HandleFunc("/posts/{id}/reply-target", handler.CancelReply).Methods("DELETE")
}

func writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrCommentNotLoaded):
		common.NotFound(w, "Comment not found in any loaded thread")
	case errors.Is(err, ErrNestedReply), errors.Is(err, ErrEmptyContent), errors.Is(err, ErrContentTooLong):
		common.BadRequest(w, err.Error())
	default:
		gateway.WriteError(w, err, fallback)
	}
}

// ids reads the current user and the validated {id} path variable
func ids(w http.ResponseWriter, r *http.Request, what string) (string, string, bool) {
	userID, err := common.GetUserID(r.Context())
	if err != nil {
		common.Unauthorized(w, "Unauthorized")
		return "", "", false
	}

	id := mux.Vars(r)["id"]
	if !common.ValidateObjectID(id) {
		common.BadRequest(w, "Invalid "+what+" ID")
		return "", "", false
	}
	return userID, id, true
}

func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	userID, postID, ok := ids(w, r, "post")
	if !ok {
		return
	}

	comments, err := h.service.List(r.Context(), userID, postID)
	if err != nil {
		writeError(w, err, "Failed to get comments")
		return
	}

	common.SuccessWithMeta(w, "", comments, &common.Meta{Total: len(comments)})
}

func (h *Handler) ListReplies(w http.ResponseWriter, r *http.Request) {
	userID, postID, ok := ids(w, r, "post")
	if !ok {
		return
	}

	parentID := mux.Vars(r)["commentId"]
	if !common.ValidateObjectID(parentID) {
		common.BadRequest(w, "Invalid comment ID")
		return
	}

	replies, err := h.service.Replies(r.Context(), userID, postID, parentID)
	if err != nil {
		writeError(w, err, "Failed to get replies")
		return
	}

	common.SuccessWithMeta(w, "", replies, &common.Meta{Total: len(replies)})
}

func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	userID, postID, ok := ids(w, r, "post")
	if !ok {
		return
	}

	var req AddRequest
	if errs := common.DecodeAndValidate(r, &req); errs != nil {
		common.ValidationError(w, errs)
		return
	}

	comment, err := h.service.Add(r.Context(), userID, postID, req)
	if err != nil {
		writeError(w, err, "Failed to add comment")
		return
	}

	common.Created(w, "Comment added", comment)
}

// ToggleLike answers 202 with the optimistic likes, or with the settled likes
// when the client asks to wait
func (h *Handler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	userID, commentID, ok := ids(w, r, "comment")
	if !ok {
		return
	}

	pending, err := h.service.ToggleLike(r.Context(), userID, commentID)
	if err != nil {
		writeError(w, err, "Failed to like comment")
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

func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	userID, commentID, ok := ids(w, r, "comment")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, commentID); err != nil {
		writeError(w, err, "Failed to delete comment")
		return
	}

	common.Success(w, "Comment deleted", nil)
}

func (h *Handler) GetReplyTarget(w http.ResponseWriter, r *http.Request) {
	userID, postID, ok := ids(w, r, "post")
	if !ok {
		return
	}

	common.Success(w, "", h.service.ReplyTarget(userID, postID))
}

func (h *Handler) StartReply(w http.ResponseWriter, r *http.Request) {
	userID, postID, ok := ids(w, r, "post")
	if !ok {
		return
	}

	var req ReplyRequest
	if errs := common.DecodeAndValidate(r, &req); errs != nil {
		common.ValidationError(w, errs)
		return
	}

	target, err := h.service.StartReply(userID, postID, req.CommentID)
	if err != nil {
		writeError(w, err, "Failed to start reply")
		return
	}

	common.Success(w, "", target)
}

func (h *Handler) CancelReply(w http.ResponseWriter, r *http.Request) {
	userID, postID, ok := ids(w, r, "post")
	if !ok {
		return
	}

	common.Success(w, "", h.service.CancelReply(userID, postID))
}
