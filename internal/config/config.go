package config

import "time"

// Config holds runtime settings for the sync engine.
//
// Fields:
//   - NexusBaseURL / HomeserverBaseURL: endpoints of the two remote services.
//   - SQLiteDSN: DSN of the local cache database.
//   - PostsPerPage: page size for stream pagination.
//   - NotificationLimit: maximum notifications fetched during bootstrap.
//   - TTLRetryDelay: how long after a write an entity becomes stale.
//   - TTLScanInterval: how often the staleness coordinator scans due records.
//   - BootstrapRetryDelay: fixed wait before each bootstrap attempt.
//   - RequestTimeout: per-request HTTP timeout for both remote ports.
type Config struct {
	NexusBaseURL      string
	HomeserverBaseURL string
	SQLiteDSN         string

	// Pubky is the local identity the engine syncs for. SessionToken
	// authenticates homeserver calls; when empty it is read from the
	// PUBSYNC_SESSION_TOKEN environment variable.
	Pubky        string
	SessionToken string

	// MetricsAddr is the listen address of the prometheus endpoint; empty
	// disables it.
	MetricsAddr string

	// BlobCacheDir is the attachment cache directory, relative to the
	// working directory.
	BlobCacheDir string

	PostsPerPage      int
	NotificationLimit int

	TTLRetryDelay       time.Duration
	TTLScanInterval     time.Duration
	BootstrapRetryDelay time.Duration
	RequestTimeout      time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.NexusBaseURL = "http://127.0.0.1:8080"
	c.HomeserverBaseURL = "http://127.0.0.1:6286"
	c.SQLiteDSN = "file:pubsync.db"
	c.MetricsAddr = ":9109"
	c.BlobCacheDir = "blobcache"
	c.PostsPerPage = 30
	c.NotificationLimit = 20
	c.TTLRetryDelay = time.Minute
	c.TTLScanInterval = 30 * time.Second
	c.BootstrapRetryDelay = 5 * time.Second
	c.RequestTimeout = 10 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
