package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
server:
  port: 8080
database:
  host: localhost
  port: 5432
  user: carbon
  database: carbon
jwt:
  secret: 0123456789abcdef0123456789abcdef
`

func TestLoad_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.True(t, decimal.NewFromInt(2).Equal(cfg.Marketplace.PlatformFeePercent))
	assert.True(t, decimal.NewFromInt(18).Equal(cfg.Marketplace.GSTPercent))
	assert.Equal(t, 24*time.Hour, cfg.PaymentTimeout())
	assert.Equal(t, 2*time.Second, cfg.LockTimeout())
	assert.Equal(t, 30*24*time.Hour, cfg.WarningWindow())
	assert.Equal(t, 365*24*time.Hour, cfg.DefaultDeadline())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "0 */5 * * * *", cfg.Scheduler.ExpireStalePayments)
	assert.Equal(t, "postgres://carbon:@localhost:5432/carbon?sslmode=disable", cfg.GetDatabaseConnectionString())
	assert.Equal(t, ":8080", cfg.GetServerAddress())
	assert.Empty(t, cfg.GetGRPCAddress())
	assert.InDelta(t, 1.0, cfg.Matching.PriceWeight+cfg.Matching.VintageWeight+cfg.Matching.VerificationWeight+
		cfg.Matching.CoverageWeight+cfg.Matching.ProjectTypeWeight, 1e-9)
}

func TestParse_DecimalFields(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
marketplace:
  platform_fee_percent: "2.5"
compliance:
  penalty_rate_per_credit: "1500.00"
`))
	require.NoError(t, err)
	assert.Equal(t, "2.5", cfg.Marketplace.PlatformFeePercent.String())
	assert.Equal(t, "1500", cfg.Compliance.PenaltyRatePerCredit.String())
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("GST_PERCENT", "12")

	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, decimal.NewFromInt(12).Equal(cfg.Marketplace.GSTPercent))
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{"short secret", "server: {port: 8080}\ndatabase: {driver: memory}\njwt: {secret: short}\n", nil},
		{"bad port", "server: {port: 0}\ndatabase: {driver: memory}\njwt: {secret: 0123456789abcdef0123456789abcdef}\n", nil},
		{"unknown driver", "server: {port: 1}\ndatabase: {driver: mysql}\njwt: {secret: 0123456789abcdef0123456789abcdef}\n", nil},
		{"missing host", "server: {port: 1}\njwt: {secret: 0123456789abcdef0123456789abcdef}\n", nil},
		{"bad fee env", minimalYAML, map[string]string{"PLATFORM_FEE_PERCENT": "two"}},
		{"fee over 100", minimalYAML + "marketplace: {platform_fee_percent: \"101\"}\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestGetSecurityLevel(t *testing.T) {
	assert.Equal(t, SecurityPublic, GetSecurityLevel("healthz"))
	assert.Equal(t, SecurityRegulator, GetSecurityLevel("verifyComplianceRecord"))
	assert.Equal(t, SecurityService, GetSecurityLevel("confirmPayment"))
	assert.Equal(t, SecurityService, GetSecurityLevel("no-such-route"))
}
