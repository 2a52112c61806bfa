package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	path := writeTempJSON(t, map[string]any{
		"nexus_base_url":        "https://nexus.example",
		"posts_per_page":        10,
		"bootstrap_retry_delay": "7s",
	})

	t.Run("loads from flags", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", path}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "https://nexus.example", cfg.NexusBaseURL)
		assert.Equal(t, 10, cfg.PostsPerPage)
		assert.Equal(t, 7*time.Second, cfg.BootstrapRetryDelay)
		// Fields absent from the file keep their defaults.
		assert.Equal(t, 20, cfg.NotificationLimit)
	})

	t.Run("no config flag leaves defaults untouched", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "http://127.0.0.1:8080", cfg.NexusBaseURL)
		assert.Equal(t, 30, cfg.PostsPerPage)
	})
}
