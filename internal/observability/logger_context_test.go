package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWithLoggerAndLoggerFromContext(t *testing.T) {
	lg := slog.Default()
	baseCtx := context.Background()

	ctxWithLogger := ContextWithLogger(baseCtx, lg)
	assert.NotEqual(t, baseCtx, ctxWithLogger)
	assert.Same(t, lg, LoggerFromContext(ctxWithLogger))

	assert.Equal(t, baseCtx, ContextWithLogger(baseCtx, nil))
	assert.NotNil(t, LoggerFromContext(context.Background()))
}

func TestContextWithRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, ContextWithRequestID(ctx, ""))
	assert.Equal(t, "", RequestIDFromContext(ctx))
	assert.Equal(t, "req-123", RequestIDFromContext(ContextWithRequestID(ctx, "req-123")))
}

func TestContextWithAnalysis_TagsLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := ContextWithLogger(context.Background(), base)
	ctx = ContextWithRequestID(ctx, "http-1")
	ctx = ContextWithAnalysis(ctx, "an-1", slog.Int("index", 3))

	LoggerFromContext(ctx).Info("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "an-1", rec["analysis_id"])
	assert.Equal(t, "http-1", rec["request_id"])
	assert.EqualValues(t, 3, rec["index"])
}
