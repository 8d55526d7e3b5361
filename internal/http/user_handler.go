package httpapi

import (
	"net/http"

	"device-management/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// UserHandler 用户 Handler
type UserHandler struct {
	userService service.UserService
	logger      *zap.Logger
}

func NewUserHandler(userService service.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{userService: userService, logger: logger}
}

type createUserBody struct {
	Email string  `json:"email"`
	Name  string  `json:"name"`
	Phone *string `json:"phone"`
}

func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var body createUserBody
	if err := readBodyJSON(w, r, maxBodyBytes, &body); err != nil {
		writeBodyError(w, err)
		return
	}

	user, err := h.userService.CreateUser(r.Context(), service.CreateUserRequest{
		Email: body.Email,
		Name:  body.Name,
		Phone: body.Phone,
	})
	if err != nil {
		writeError(w, r, h.logger, "CreateUser", err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(user.ToJSON()))
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, h.logger, "ListUsers", err)
		return
	}
	items := make([]map[string]any, 0, len(users))
	for _, u := range users {
		items = append(items, u.ToJSON())
	}
	writeJSON(w, http.StatusOK, Ok(items))
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, "GetUser", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(user.ToJSON()))
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.userService.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, "DeleteUser", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
