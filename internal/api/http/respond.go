package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/logger"

	"github.com/gorilla/mux"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type errorMapping struct {
	status int
	code   string
}

var errorMappings = map[error]errorMapping{
	domain.ErrInvalidAmount:               {http.StatusBadRequest, "invalid_amount"},
	domain.ErrInvalidInput:                {http.StatusBadRequest, "invalid_input"},
	domain.ErrSelfTradeRejected:           {http.StatusBadRequest, "self_trade_rejected"},
	domain.ErrSelfTransferRejected:        {http.StatusBadRequest, "self_transfer_rejected"},
	domain.ErrNotFound:                    {http.StatusNotFound, "not_found"},
	domain.ErrForbidden:                   {http.StatusForbidden, "forbidden"},
	domain.ErrAlreadyExists:               {http.StatusConflict, "already_exists"},
	domain.ErrInvalidStateTransition:      {http.StatusConflict, "invalid_state_transition"},
	domain.ErrInvalidRecordState:          {http.StatusConflict, "invalid_record_state"},
	domain.ErrInvalidState:                {http.StatusConflict, "invalid_state"},
	domain.ErrInsufficientBalance:         {http.StatusUnprocessableEntity, "insufficient_balance"},
	domain.ErrInsufficientListingQuantity: {http.StatusUnprocessableEntity, "insufficient_listing_quantity"},
	domain.ErrExcessSurrender:             {http.StatusUnprocessableEntity, "excess_surrender"},
	domain.ErrBusy:                        {http.StatusServiceUnavailable, "busy"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", "error", err)
	}
}

func writeFailure(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// writeError renders a service error with the status its kind maps to.
// Unclassified errors are logged and reported as internal.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	m, ok := errorMappings[kind]
	if !ok {
		logger.ErrorContext(r.Context(), "Unhandled error", "error", err)
		writeFailure(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if m.status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	message := err.Error()
	var fe *domain.FieldError
	if errors.As(err, &fe) {
		message = fe.Detail
	}
	writeJSON(w, m.status, ErrorResponse{Error: m.code, Field: domain.FieldOf(err), Message: message})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewFieldError(domain.ErrInvalidInput, "body", "malformed request body: %v", err)
	}
	return nil
}

func pathInt32(r *http.Request, name string) (int32, error) {
	v, err := strconv.ParseInt(mux.Vars(r)[name], 10, 32)
	if err != nil {
		return 0, domain.NewFieldError(domain.ErrInvalidInput, name, "must be an integer")
	}
	return int32(v), nil
}

func queryInt32(r *http.Request, name string, def int32) (int32, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || v < 0 {
		return 0, domain.NewFieldError(domain.ErrInvalidInput, name, "must be a non-negative integer")
	}
	return int32(v), nil
}

type page struct {
	Items any   `json:"items"`
	Total int32 `json:"total"`
	Page  int32 `json:"page"`
	Size  int32 `json:"page_size"`
}

func pagination(r *http.Request) (pageNum, size int32, err error) {
	if pageNum, err = queryInt32(r, "page", 1); err != nil {
		return 0, 0, err
	}
	if size, err = queryInt32(r, "page_size", 20); err != nil {
		return 0, 0, err
	}
	if size > 100 {
		size = 100
	}
	return pageNum, size, nil
}
