package config

import (
	"flag"
	"os"
	"time"

	"github.com/mlevkov/tasksync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN of the remote store (default from Config)
//	-p string   data directory (default from Config)
//	-i int      sync interval in seconds (default from Config)
//	-k string   HMAC secret for access token verification
//
// Note: The function filters os.Args to only include the flags it knows
// about, using flagx.FilterArgs, to avoid interference with other
// components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-p", "-i", "-k"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.RemoteDSN, "d", cfg.RemoteDSN, "PostgreSQL DSN of the remote store")
	fs.StringVar(&cfg.DataDir, "p", cfg.DataDir, "data directory for the local database")
	syncInterval := fs.Int("i", int(cfg.SyncInterval.Seconds()), "sync interval (in seconds)")
	fs.StringVar(&cfg.SecretKey, "k", cfg.SecretKey, "HMAC secret for access token verification")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.SyncInterval = time.Duration(*syncInterval) * time.Second
}
