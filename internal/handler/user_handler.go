package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/joinauth/internal/middleware"
	"github.com/hitoshi/joinauth/internal/model"
	"github.com/hitoshi/joinauth/internal/user"
)

// UserHandler は認証済みユーザー向けのユーザー管理HTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type updateUserRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	DateNais  string `json:"dateNais"`
	Mobile    string `json:"mobile"`
}

// Me は呼び出し元のユーザー情報を返す。
// POST /user
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	u, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Update はユーザー情報を部分更新する。本人または管理者のみ。
// PUT /users/{id}
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	callerID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req updateUserRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	updated, err := h.service.Update(r.Context(),
		callerID,
		middleware.IsAdminFromContext(r.Context()),
		chi.URLParam(r, "id"),
		user.UpdateInput{
			Email:     req.Email,
			Username:  req.Username,
			Password:  req.Password,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			DateNais:  req.DateNais,
			Mobile:    req.Mobile,
		},
	)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userMessageResponse{
		Message: "User updated successfully",
		User:    toUserResponse(updated),
	})
}

// Delete はユーザーを削除する。管理者のみ。
// DELETE /users/{id}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "User deleted successfully"})
}

// List は管理者アカウント以外の全ユーザーを返す。管理者のみ。
// POST /admin
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListAll(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponses(users))
}
