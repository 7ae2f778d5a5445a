package http

import (
	"net/http"
	"strconv"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/repository"
	"carbon-ledger-backend/internal/service"

	"github.com/gorilla/mux"
)

type MarketplaceHandler struct {
	marketSvc   service.MarketplaceService
	matchingSvc service.MatchingService
}

func NewMarketplaceHandler(marketSvc service.MarketplaceService, matchingSvc service.MatchingService) *MarketplaceHandler {
	return &MarketplaceHandler{marketSvc: marketSvc, matchingSvc: matchingSvc}
}

type openTransactionBody struct {
	ListingID int32 `json:"listing_id"`
	Quantity  int64 `json:"quantity"`
}

type matchBody struct {
	service.MatchRequest
	Limit int `json:"limit,omitempty"`
}

type failPaymentBody struct {
	Reason string `json:"reason"`
}

func (h *MarketplaceHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var in service.ListingInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	listing, err := h.marketSvc.CreateListing(r.Context(), userID(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

func (h *MarketplaceHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	pageNum, size, err := pagination(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sellerID, err := queryInt32(r, "seller_id", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := repository.ListingFilter{
		SellerID:    sellerID,
		ProjectType: q.Get("project_type"),
		ActiveOnly:  !parseBool(r, "include_inactive"),
		Page:        pageNum,
		PageSize:    size,
	}
	listings, total, err := h.marketSvc.ListListings(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Items: listings, Total: total, Page: pageNum, Size: size})
}

func (h *MarketplaceHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt32(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	listing, err := h.marketSvc.GetListing(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (h *MarketplaceHandler) DeactivateListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt32(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	listing, err := h.marketSvc.DeactivateListing(r.Context(), userID(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (h *MarketplaceHandler) FindMatches(w http.ResponseWriter, r *http.Request) {
	var body matchBody
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	matches, err := h.matchingSvc.FindMatches(r.Context(), userID(r.Context()), body.MatchRequest, body.Limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (h *MarketplaceHandler) OpenTransaction(w http.ResponseWriter, r *http.Request) {
	var body openTransactionBody
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	txn, err := h.marketSvc.OpenTransaction(r.Context(), userID(r.Context()), body.ListingID, body.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

func (h *MarketplaceHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	pageNum, size, err := pagination(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	role := repository.TransactionRole(q.Get("role"))
	switch role {
	case repository.RoleAny, repository.RoleBuyer, repository.RoleSeller:
	default:
		writeError(w, r, domain.NewFieldError(domain.ErrInvalidInput, "role", "must be buyer or seller"))
		return
	}
	filter := repository.TransactionFilter{
		UserID:   userID(r.Context()),
		Role:     role,
		Status:   domain.TransactionStatus(q.Get("status")),
		Page:     pageNum,
		PageSize: size,
	}
	txns, total, err := h.marketSvc.ListTransactions(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Items: txns, Total: total, Page: pageNum, Size: size})
}

func (h *MarketplaceHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.marketSvc.GetTransaction(r.Context(), userID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (h *MarketplaceHandler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.marketSvc.CancelTransaction(r.Context(), userID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (h *MarketplaceHandler) TransactionSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.marketSvc.Summary(r.Context(), userID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Payment gateway callbacks. Each is idempotent, so the gateway may retry
// freely on 503.

func (h *MarketplaceHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	txn, err := h.marketSvc.ConfirmPayment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (h *MarketplaceHandler) FailPayment(w http.ResponseWriter, r *http.Request) {
	var body failPaymentBody
	if r.ContentLength != 0 {
		if err := decode(r, &body); err != nil {
			writeError(w, r, err)
			return
		}
	}
	txn, err := h.marketSvc.FailPayment(r.Context(), mux.Vars(r)["id"], body.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (h *MarketplaceHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	txn, err := h.marketSvc.RefundTransaction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// MarketStats serves volume and price history over completed trades; days defaults to 30.
func (h *MarketplaceHandler) MarketStats(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt32(r, "days", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := h.marketSvc.MarketStats(r.Context(), int(days))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}
