package http

import (
	"net/http"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/service"
)

type UserHandler struct {
	userSvc service.UserService
}

func NewUserHandler(userSvc service.UserService) *UserHandler {
	return &UserHandler{userSvc: userSvc}
}

// RegisterUser is called by the identity service when a company signs up.
func (h *UserHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var user domain.User
	if err := decode(r, &user); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := h.userSvc.RegisterUser(r.Context(), &user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.userSvc.GetUser(r.Context(), userID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
