package http

import (
	"net/http"

	"carbon-ledger-backend/internal/service"

	"github.com/gorilla/mux"
)

type AccountHandler struct {
	accountSvc service.AccountService
}

func NewAccountHandler(accountSvc service.AccountService) *AccountHandler {
	return &AccountHandler{accountSvc: accountSvc}
}

type transferBody struct {
	RecipientID int32  `json:"recipient_id"`
	Amount      int64  `json:"amount"`
	Note        string `json:"note,omitempty"`
}

func (h *AccountHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	acct, err := h.accountSvc.GetBalances(r.Context(), userID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *AccountHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	pageNum, size, err := pagination(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, total, err := h.accountSvc.ListEntries(r.Context(), userID(r.Context()), pageNum, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Items: entries, Total: total, Page: pageNum, Size: size})
}

func (h *AccountHandler) TransferCredits(w http.ResponseWriter, r *http.Request) {
	var body transferBody
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := h.accountSvc.TransferToUser(r.Context(), userID(r.Context()), body.RecipientID, body.Amount, body.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entries)
}

func (h *AccountHandler) RetireCredits(w http.ResponseWriter, r *http.Request) {
	var req service.RetireRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ret, err := h.accountSvc.RetireCredits(r.Context(), userID(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ret)
}

func (h *AccountHandler) ListRetirements(w http.ResponseWriter, r *http.Request) {
	rets, err := h.accountSvc.ListRetirements(r.Context(), userID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rets)
}

func (h *AccountHandler) GetRetirement(w http.ResponseWriter, r *http.Request) {
	ret, err := h.accountSvc.GetRetirement(r.Context(), userID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

// IssueCredits mints demo credits; the service restricts it to sellers.
func (h *AccountHandler) IssueCredits(w http.ResponseWriter, r *http.Request) {
	var req service.IssueRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	iss, err := h.accountSvc.IssueDemoCredits(r.Context(), userID(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, iss)
}

func (h *AccountHandler) ListIssuances(w http.ResponseWriter, r *http.Request) {
	issuances, err := h.accountSvc.ListIssuances(r.Context(), userID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issuances)
}
