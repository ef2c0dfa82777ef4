package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromConfig(t *testing.T) {
	t.Setenv("APP_ENV", "")

	cfg := FromConfig("warn", "")
	assert.Equal(t, slog.LevelWarn, cfg.Level)
	assert.Equal(t, "text", cfg.Format)

	cfg = FromConfig("bogus", "json")
	assert.Equal(t, slog.LevelInfo, cfg.Level)
	assert.Equal(t, "json", cfg.Format)

	t.Setenv("APP_ENV", "production")
	assert.Equal(t, "json", FromConfig("debug", "text").Format)
}

func TestWithContextAddsResearchAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: slog.LevelDebug, Format: "json", Output: &buf})

	ctx := WithSessionID(context.Background(), "s-1")
	ctx = WithCompany(ctx, "Acme Corp")
	ctx = WithResearchSessionID(ctx, "rs-9")

	log.WithContext(ctx).Info("polling")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "s-1", line["session_id"])
	assert.Equal(t, "Acme Corp", line["company"])
	assert.Equal(t, "rs-9", line["research_session_id"])
	assert.NotContains(t, line, "request_id")
}

func TestLogOperationReturnsError(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: slog.LevelDebug, Format: "json", Output: &buf})

	want := errors.New("boom")
	err := log.LogOperation(context.Background(), "fetch_results", func() error { return want })
	assert.ErrorIs(t, err, want)
	assert.Contains(t, buf.String(), "operation failed")
}
