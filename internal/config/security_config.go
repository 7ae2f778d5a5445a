// config/security_config.go
package config

type SecurityLevel int

const (
	SecurityPublic    SecurityLevel = iota // No authentication
	SecurityAccess                         // Access token required
	SecurityRegulator                      // Access token of a regulator required
	SecurityService                        // Access token of a trusted collaborator (payment gateway, identity service)
)

// EndpointSecurityConfig maps HTTP route names to their required security level
var EndpointSecurityConfig = map[string]SecurityLevel{
	// Health - Public
	"healthz": SecurityPublic,
	"metrics": SecurityPublic,

	// Users - identity service registers, owners read
	"registerUser": SecurityService,
	"getMe":        SecurityAccess,

	// Accounts - Access Protected
	"getBalances":     SecurityAccess,
	"listEntries":     SecurityAccess,
	"transferCredits": SecurityAccess,
	"retireCredits":   SecurityAccess,
	"listRetirements": SecurityAccess,
	"getRetirement":   SecurityAccess,
	"issueCredits":    SecurityAccess,
	"listIssuances":   SecurityAccess,

	// Listings - Access Protected
	"createListing":     SecurityAccess,
	"listListings":      SecurityAccess,
	"getListing":        SecurityAccess,
	"deactivateListing": SecurityAccess,
	"findMatches":       SecurityAccess,

	// Transactions - Access Protected
	"openTransaction":    SecurityAccess,
	"listTransactions":   SecurityAccess,
	"getTransaction":     SecurityAccess,
	"cancelTransaction":  SecurityAccess,
	"transactionSummary": SecurityAccess,
	"marketStats":        SecurityAccess,

	// Payment callbacks - Service Protected
	"confirmPayment": SecurityService,
	"failPayment":    SecurityService,
	"refundPayment":  SecurityService,

	// Compliance - Access Protected
	"createComplianceRecord": SecurityAccess,
	"listComplianceRecords":  SecurityAccess,
	"getComplianceRecord":    SecurityAccess,
	"submitComplianceData":   SecurityAccess,
	"surrenderCredits":       SecurityAccess,
	"reconcileCompliance":    SecurityAccess,
	"complianceSummary":      SecurityAccess,
	"sectorTargets":          SecurityAccess,
	"verifyComplianceRecord": SecurityRegulator,
}

// GetSecurityLevel returns the security level for a given route name
func GetSecurityLevel(route string) SecurityLevel {
	if level, exists := EndpointSecurityConfig[route]; exists {
		return level
	}
	// Default to highest security for unknown endpoints
	return SecurityService
}
