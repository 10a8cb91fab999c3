package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certflow/internal/platform/config"
)

func TestBuildInMemory(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	a, err := Build(context.Background(), cfg, slog.New(slog.DiscardHandler), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	assert.NotNil(t, a.Service)
	assert.NotNil(t, a.Files)
	assert.Empty(t, a.Checks)
}

func TestBuildRejectsBadRedisURL(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Redis.URL = "not a url"

	_, err = Build(context.Background(), cfg, slog.New(slog.DiscardHandler), prometheus.NewRegistry())
	assert.ErrorContains(t, err, "parse redis URL")
}
