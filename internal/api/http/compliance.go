package http

import (
	"net/http"

	"carbon-ledger-backend/internal/service"

	"github.com/shopspring/decimal"
)

type ComplianceHandler struct {
	complianceSvc service.ComplianceService
}

func NewComplianceHandler(complianceSvc service.ComplianceService) *ComplianceHandler {
	return &ComplianceHandler{complianceSvc: complianceSvc}
}

type submitBody struct {
	TotalEmissions  decimal.Decimal `json:"total_emissions"`
	TotalProduction decimal.Decimal `json:"total_production"`
}

type surrenderBody struct {
	Amount int64 `json:"amount"`
}

func (h *ComplianceHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var in service.ComplianceInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := h.complianceSvc.CreateRecord(r.Context(), userID(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *ComplianceHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := h.complianceSvc.ListRecords(r.Context(), userID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *ComplianceHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt32(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := h.complianceSvc.GetRecord(r.Context(), userID(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *ComplianceHandler) SubmitData(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt32(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body submitBody
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := h.complianceSvc.SubmitData(r.Context(), userID(r.Context()), id, body.TotalEmissions, body.TotalProduction)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *ComplianceHandler) SurrenderCredits(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt32(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body surrenderBody
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := h.complianceSvc.SurrenderCredits(r.Context(), userID(r.Context()), id, body.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Reconcile reports 200 when the record agrees with the ledger and 409 when it drifted.
func (h *ComplianceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt32(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	if _, err := h.complianceSvc.GetRecord(ctx, userID(ctx), id); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.complianceSvc.Reconcile(ctx, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"consistent": true})
}

func (h *ComplianceHandler) VerifyRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt32(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := h.complianceSvc.VerifyRecord(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *ComplianceHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.complianceSvc.Summary(r.Context(), userID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *ComplianceHandler) SectorTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.complianceSvc.SectorTargets())
}
