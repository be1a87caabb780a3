package server

import (
	"net/http"

	"github.com/jonathan/content-runs/internal/types"
)

// AuthHandler handles registration and login.
type AuthHandler struct {
	users *UserService
	jwt   *JWTService
}

// NewAuthHandler creates a new AuthHandler with the given dependencies.
func NewAuthHandler(users *UserService, jwt *JWTService) *AuthHandler {
	return &AuthHandler{users: users, jwt: jwt}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req types.CreateUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.users.Register(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.respondWithToken(w, http.StatusCreated, user)
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.users.Login(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.respondWithToken(w, http.StatusOK, user)
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, status int, user *types.User) {
	token, err := h.jwt.GenerateToken(user)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	jsonResponse(w, status, types.LoginResponse{User: user, Token: token})
}
