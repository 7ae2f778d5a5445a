package http

import (
	"context"
	"net/http"

	"carbon-ledger-backend/internal/security"
	"carbon-ledger-backend/internal/service"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps bundles what the router serves.
type Deps struct {
	Users        service.UserService
	Accounts     service.AccountService
	Marketplace  service.MarketplaceService
	Matching     service.MatchingService
	Compliance   service.ComplianceService
	TokenManager security.TokenManager
	// Ready reports whether backing stores are reachable. Nil means always ready.
	Ready func(ctx context.Context) error
}

// NewRouter registers every route by the name its security level is keyed on.
func NewRouter(deps Deps) *mux.Router {
	users := NewUserHandler(deps.Users)
	accounts := NewAccountHandler(deps.Accounts)
	market := NewMarketplaceHandler(deps.Marketplace, deps.Matching)
	compliance := NewComplianceHandler(deps.Compliance)
	auth := NewAuthMiddleware(deps.TokenManager)

	r := mux.NewRouter()
	r.Use(Recoverer, RequestLogger, auth.Handler)

	r.HandleFunc("/healthz", healthz(deps.Ready)).Methods(http.MethodGet).Name("healthz")
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet).Name("metrics")

	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/users", users.RegisterUser).Methods(http.MethodPost).Name("registerUser")
	v1.HandleFunc("/users/me", users.GetMe).Methods(http.MethodGet).Name("getMe")

	v1.HandleFunc("/accounts/me", accounts.GetBalances).Methods(http.MethodGet).Name("getBalances")
	v1.HandleFunc("/accounts/me/entries", accounts.ListEntries).Methods(http.MethodGet).Name("listEntries")
	v1.HandleFunc("/accounts/me/transfers", accounts.TransferCredits).Methods(http.MethodPost).Name("transferCredits")
	v1.HandleFunc("/accounts/me/retirements", accounts.RetireCredits).Methods(http.MethodPost).Name("retireCredits")
	v1.HandleFunc("/accounts/me/retirements", accounts.ListRetirements).Methods(http.MethodGet).Name("listRetirements")
	v1.HandleFunc("/accounts/me/retirements/{id}", accounts.GetRetirement).Methods(http.MethodGet).Name("getRetirement")
	v1.HandleFunc("/accounts/me/issuances", accounts.IssueCredits).Methods(http.MethodPost).Name("issueCredits")
	v1.HandleFunc("/accounts/me/issuances", accounts.ListIssuances).Methods(http.MethodGet).Name("listIssuances")

	v1.HandleFunc("/listings", market.CreateListing).Methods(http.MethodPost).Name("createListing")
	v1.HandleFunc("/listings", market.ListListings).Methods(http.MethodGet).Name("listListings")
	v1.HandleFunc("/listings/{id:[0-9]+}", market.GetListing).Methods(http.MethodGet).Name("getListing")
	v1.HandleFunc("/listings/{id:[0-9]+}/deactivate", market.DeactivateListing).Methods(http.MethodPost).Name("deactivateListing")
	v1.HandleFunc("/matches", market.FindMatches).Methods(http.MethodPost).Name("findMatches")
	v1.HandleFunc("/market/stats", market.MarketStats).Methods(http.MethodGet).Name("marketStats")

	// summary before {id} so it is not captured as a transaction id
	v1.HandleFunc("/transactions/summary", market.TransactionSummary).Methods(http.MethodGet).Name("transactionSummary")
	v1.HandleFunc("/transactions", market.OpenTransaction).Methods(http.MethodPost).Name("openTransaction")
	v1.HandleFunc("/transactions", market.ListTransactions).Methods(http.MethodGet).Name("listTransactions")
	v1.HandleFunc("/transactions/{id}", market.GetTransaction).Methods(http.MethodGet).Name("getTransaction")
	v1.HandleFunc("/transactions/{id}/cancel", market.CancelTransaction).Methods(http.MethodPost).Name("cancelTransaction")

	v1.HandleFunc("/payments/{id}/confirm", market.ConfirmPayment).Methods(http.MethodPost).Name("confirmPayment")
	v1.HandleFunc("/payments/{id}/fail", market.FailPayment).Methods(http.MethodPost).Name("failPayment")
	v1.HandleFunc("/payments/{id}/refund", market.RefundPayment).Methods(http.MethodPost).Name("refundPayment")

	v1.HandleFunc("/compliance/records", compliance.CreateRecord).Methods(http.MethodPost).Name("createComplianceRecord")
	v1.HandleFunc("/compliance/records", compliance.ListRecords).Methods(http.MethodGet).Name("listComplianceRecords")
	v1.HandleFunc("/compliance/records/{id:[0-9]+}", compliance.GetRecord).Methods(http.MethodGet).Name("getComplianceRecord")
	v1.HandleFunc("/compliance/records/{id:[0-9]+}/submit", compliance.SubmitData).Methods(http.MethodPost).Name("submitComplianceData")
	v1.HandleFunc("/compliance/records/{id:[0-9]+}/surrender", compliance.SurrenderCredits).Methods(http.MethodPost).Name("surrenderCredits")
	v1.HandleFunc("/compliance/records/{id:[0-9]+}/reconcile", compliance.Reconcile).Methods(http.MethodPost).Name("reconcileCompliance")
	v1.HandleFunc("/compliance/records/{id:[0-9]+}/verify", compliance.VerifyRecord).Methods(http.MethodPost).Name("verifyComplianceRecord")
	v1.HandleFunc("/compliance/summary", compliance.Summary).Methods(http.MethodGet).Name("complianceSummary")
	v1.HandleFunc("/compliance/sectors", compliance.SectorTargets).Methods(http.MethodGet).Name("sectorTargets")

	return r
}

func healthz(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				writeFailure(w, http.StatusServiceUnavailable, "unavailable", err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
