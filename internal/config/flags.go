package config

import (
	"flag"
	"os"
	"time"

	"github.com/pubsync/pubsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-n string   base URL of the nexus indexer (default from Config)
//	-s string   base URL of the homeserver (default from Config)
//	-d string   sqlite DSN of the local cache
//	-u string   pubky of the local identity
//	-m string   prometheus listen address (empty disables)
//	-b string   attachment cache directory
//	-p int      posts per page
//	-l int      notification fetch limit
//	-t int      TTL retry delay in seconds
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-n", "-s", "-d", "-u", "-m", "-b", "-p", "-l", "-t"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.NexusBaseURL, "n", cfg.NexusBaseURL, "base URL of the nexus indexer")
	fs.StringVar(&cfg.HomeserverBaseURL, "s", cfg.HomeserverBaseURL, "base URL of the homeserver")
	fs.StringVar(&cfg.SQLiteDSN, "d", cfg.SQLiteDSN, "sqlite DSN of the local cache")
	fs.StringVar(&cfg.Pubky, "u", cfg.Pubky, "pubky of the local identity")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "prometheus listen address")
	fs.StringVar(&cfg.BlobCacheDir, "b", cfg.BlobCacheDir, "attachment cache directory")
	fs.IntVar(&cfg.PostsPerPage, "p", cfg.PostsPerPage, "posts per page")
	fs.IntVar(&cfg.NotificationLimit, "l", cfg.NotificationLimit, "notification fetch limit")
	ttlRetryDelay := fs.Int("t", int(cfg.TTLRetryDelay.Seconds()), "TTL retry delay (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.TTLRetryDelay = time.Duration(*ttlRetryDelay) * time.Second
}
