package correlation

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDShape(t *testing.T) {
	id := NewID()
	require.Len(t, id, 8)

	seen := make(map[string]struct{}, 200)
	for i := 0; i < 200; i++ {
		seen[NewID()] = struct{}{}
	}
	assert.Len(t, seen, 200)
}

func TestContextRoundtrip(t *testing.T) {
	ctx := WithID(context.Background(), "deadbeef")

	id, ok := ID(ctx)
	require.True(t, ok)
	assert.Equal(t, "deadbeef", id)
}

func TestIDAbsent(t *testing.T) {
	id, ok := ID(context.Background())
	assert.False(t, ok)
	assert.Empty(t, id)

	// An explicitly stored empty string is treated the same as absent.
	id, ok = ID(WithID(context.Background(), ""))
	assert.False(t, ok)
	assert.Empty(t, id)
}

func newCapturedLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewHandler(inner)), &buf
}

func TestHandlerInjectsID(t *testing.T) {
	logger, buf := newCapturedLogger()

	ctx := WithID(context.Background(), "aabbccdd")
	logger.InfoContext(ctx, "layout changed", "kind", "spotlight")

	out := buf.String()
	assert.Contains(t, out, "correlation_id=aabbccdd")
	assert.Contains(t, out, "kind=spotlight")
	assert.Contains(t, out, "layout changed")
}

func TestHandlerSkipsBareContext(t *testing.T) {
	logger, buf := newCapturedLogger()

	logger.InfoContext(context.Background(), "render tick")

	assert.NotContains(t, buf.String(), "correlation_id")
}

func TestHandlerSurvivesWithAttrs(t *testing.T) {
	logger, buf := newCapturedLogger()
	logger = logger.With("component", "compositor")

	ctx := WithID(context.Background(), "11223344")
	logger.InfoContext(ctx, "frame dropped")

	out := buf.String()
	assert.Contains(t, out, "correlation_id=11223344")
	assert.Contains(t, out, "component=compositor")
}

func TestHandlerSurvivesWithGroup(t *testing.T) {
	logger, buf := newCapturedLogger()
	logger = logger.WithGroup("publish")

	ctx := WithID(context.Background(), "55667788")
	logger.InfoContext(ctx, "failover", "target", "backup-1")

	out := buf.String()
	assert.Contains(t, out, "correlation_id=55667788")
	assert.Contains(t, out, "publish.target=backup-1")
}
