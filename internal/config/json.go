package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pubsync/pubsync/internal/flagx"
	"github.com/pubsync/pubsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "5s" or as integer nanoseconds. After parsing, values
// are copied into the runtime Config (which uses time.Duration).
type JsonConfig struct {
	NexusBaseURL      string `json:"nexus_base_url"`
	HomeserverBaseURL string `json:"homeserver_base_url"`
	SQLiteDSN         string `json:"sqlite_dsn"`

	Pubky        string `json:"pubky"`
	MetricsAddr  string `json:"metrics_addr"`
	BlobCacheDir string `json:"blob_cache_dir"`

	PostsPerPage      int `json:"posts_per_page"`
	NotificationLimit int `json:"notification_limit"`

	TTLRetryDelay       timex.Duration `json:"ttl_retry_delay"`
	TTLScanInterval     timex.Duration `json:"ttl_scan_interval"`
	BootstrapRetryDelay timex.Duration `json:"bootstrap_retry_delay"`
	RequestTimeout      timex.Duration `json:"request_timeout"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JsonConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// Zero/empty JSON values leave the corresponding Config field untouched, so
// a partial file only overrides what it names. Panics on read or unmarshal
// errors (caller should recover if desired).
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.NexusBaseURL != "" {
		cfg.NexusBaseURL = jc.NexusBaseURL
	}
	if jc.HomeserverBaseURL != "" {
		cfg.HomeserverBaseURL = jc.HomeserverBaseURL
	}
	if jc.SQLiteDSN != "" {
		cfg.SQLiteDSN = jc.SQLiteDSN
	}
	if jc.Pubky != "" {
		cfg.Pubky = jc.Pubky
	}
	if jc.MetricsAddr != "" {
		cfg.MetricsAddr = jc.MetricsAddr
	}
	if jc.BlobCacheDir != "" {
		cfg.BlobCacheDir = jc.BlobCacheDir
	}
	if jc.PostsPerPage > 0 {
		cfg.PostsPerPage = jc.PostsPerPage
	}
	if jc.NotificationLimit > 0 {
		cfg.NotificationLimit = jc.NotificationLimit
	}
	if jc.TTLRetryDelay.Duration > 0 {
		cfg.TTLRetryDelay = time.Duration(jc.TTLRetryDelay.Duration)
	}
	if jc.TTLScanInterval.Duration > 0 {
		cfg.TTLScanInterval = time.Duration(jc.TTLScanInterval.Duration)
	}
	if jc.BootstrapRetryDelay.Duration > 0 {
		cfg.BootstrapRetryDelay = time.Duration(jc.BootstrapRetryDelay.Duration)
	}
	if jc.RequestTimeout.Duration > 0 {
		cfg.RequestTimeout = time.Duration(jc.RequestTimeout.Duration)
	}
}
