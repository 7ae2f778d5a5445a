package logger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"carbon-ledger-backend/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestExitMethodWithError_Levels(t *testing.T) {
	var buf bytes.Buffer
	InitializeWithWriter("debug", "json", &buf)
	defer Initialize("info", "text")

	ExitMethodWithError("ledger.Lock", fmt.Errorf("lock: %w", domain.ErrInsufficientBalance))
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), `"kind":"insufficient balance"`)

	buf.Reset()
	ExitMethodWithError("ledger.Lock", errors.New("connection reset"))
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
}

func TestNewContext_CarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	InitializeWithWriter("info", "json", &buf)
	defer Initialize("info", "text")

	ctx := NewContext(context.Background(), "request_id", "r-1")
	ctx = NewContext(ctx, "user_id", int32(7))
	InfoContext(ctx, "hello")

	assert.Contains(t, buf.String(), `"request_id":"r-1"`)
	assert.Contains(t, buf.String(), `"user_id":7`)
}
