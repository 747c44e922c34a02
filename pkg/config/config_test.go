package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, EnvDevelopment, cfg.Env)
	require.Equal(t, "/api/v1", cfg.APIPrefix)
	require.True(t, cfg.ContentExports.Enabled)
	require.Equal(t, 2, cfg.ContentExports.WorkerConcurrency)
	require.Equal(t, 30*time.Minute, cfg.ContentExports.SignedURLTTL)
	require.Equal(t, "", cfg.ContentExports.ManifestFormat)
	require.Equal(t, time.Minute, cfg.Permissions.CacheTTL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONTENT_EXPORTS_WORKER_CONCURRENCY", "0")
	t.Setenv("CONTENT_EXPORTS_MANIFEST_FORMAT", " PDF ")
	t.Setenv("CONTENT_EXPORTS_RESULT_TTL", "not-a-duration")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 1, cfg.ContentExports.WorkerConcurrency)
	require.Equal(t, "pdf", cfg.ContentExports.ManifestFormat)
	require.Equal(t, 7*24*time.Hour, cfg.ContentExports.ResultTTL)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}
