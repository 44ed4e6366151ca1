package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/joinauth/internal/model"
	"github.com/hitoshi/joinauth/internal/user"
)

// UserServiceInterface はハンドラーが必要とするユーザーサービスのインターフェース。
type UserServiceInterface interface {
	Register(ctx context.Context, in user.RegisterInput) (*model.User, error)
	Login(ctx context.Context, username, password string) (*user.LoginResult, error)
	Get(ctx context.Context, id string) (*model.User, error)
	Update(ctx context.Context, callerID string, callerIsAdmin bool, id string, in user.UpdateInput) (*model.User, error)
	Remove(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]*model.User, error)
}

// JoinCodeServiceInterface は招待コード発行のインターフェース。
type JoinCodeServiceInterface interface {
	// Issue は招待コードを生成し、receiverにメールで送信する。
	Issue(ctx context.Context, receiver string) error
}

// AuthHandler はログイン・登録・招待コード発行のHTTPハンドラー。
// いずれも認証不要のエンドポイント。
type AuthHandler struct {
	users     UserServiceInterface
	joinCodes JoinCodeServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(users UserServiceInterface, joinCodes JoinCodeServiceInterface) *AuthHandler {
	return &AuthHandler{
		users:     users,
		joinCodes: joinCodes,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
	IsAdmin bool   `json:"isAdmin"`
}

type joinRequest struct {
	Receiver string `json:"receiver"`
}

// Login はユーザー名とパスワードで認証し、IDトークンを返す。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	res, err := h.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Message: "Logged in successfully",
		Token:   res.Token,
		IsAdmin: res.IsAdmin,
	})
}

// SignUp は招待コードを消費してユーザーを登録する。
// POST /signUp
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req user.RegisterInput
	if !decodeJSONBody(w, r, &req) {
		return
	}

	created, err := h.users.Register(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, userMessageResponse{
		Message: "User created successfully",
		User:    toUserResponse(created),
	})
}

// Join は招待コードを発行してメールで送信する。
// POST /join
func (h *AuthHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := h.joinCodes.Issue(r.Context(), req.Receiver); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Join code sent successfully"})
}
