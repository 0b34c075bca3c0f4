package config

import (
	"encoding/json"
	"os"

	"github.com/mlevkov/tasksync/internal/flagx"
	"github.com/mlevkov/tasksync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies
// on timex.Duration so JSON can specify intervals either as strings like
// "5m" or as integer nanoseconds. After parsing, values are copied into
// the runtime Config (which uses time.Duration).
type JsonConfig struct {
	RemoteDSN            string         `json:"remote_dsn"`
	DataDir              string         `json:"data_dir"`
	LocalDBPath          string         `json:"local_db_path"`
	SecretKey            string         `json:"secret_key"`
	SyncInterval         timex.Duration `json:"sync_interval"`
	FullRefreshInterval  timex.Duration `json:"full_refresh_interval"`
	LeaseDuration        timex.Duration `json:"lease_duration"`
	LeaseRenewInterval   timex.Duration `json:"lease_renew_interval"`
	ReconnectDelay       timex.Duration `json:"reconnect_delay"`
	MaxReconnectAttempts int            `json:"max_reconnect_attempts"`
	S3Bucket             string         `json:"s3_bucket"`
	S3Region             string         `json:"s3_region"`
	S3BaseEndpoint       string         `json:"s3_base_endpoint"`
	S3AccessKey          string         `json:"s3_access_key"`
	S3SecretKey          string         `json:"s3_secret_key"`
}

// parseJson overlays cfg with values loaded from the JSON file named by
// the -c/-config flags. Empty JSON fields leave the current value alone.
// Intended usage is: defaults -> parseJson -> parseFlags, where later
// stages override earlier ones. Panics on read or unmarshal errors.
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

	if jc.RemoteDSN != "" {
		cfg.RemoteDSN = jc.RemoteDSN
	}
	if jc.DataDir != "" {
		cfg.DataDir = jc.DataDir
	}
	if jc.LocalDBPath != "" {
		cfg.LocalDBPath = jc.LocalDBPath
	}
	if jc.SecretKey != "" {
		cfg.SecretKey = jc.SecretKey
	}
	if jc.SyncInterval.Std() != 0 {
		cfg.SyncInterval = jc.SyncInterval.Std()
	}
	if jc.FullRefreshInterval.Std() != 0 {
		cfg.FullRefreshInterval = jc.FullRefreshInterval.Std()
	}
	if jc.LeaseDuration.Std() != 0 {
		cfg.LeaseDuration = jc.LeaseDuration.Std()
	}
	if jc.LeaseRenewInterval.Std() != 0 {
		cfg.LeaseRenewInterval = jc.LeaseRenewInterval.Std()
	}
	if jc.ReconnectDelay.Std() != 0 {
		cfg.ReconnectDelay = jc.ReconnectDelay.Std()
	}
	if jc.MaxReconnectAttempts != 0 {
		cfg.MaxReconnectAttempts = jc.MaxReconnectAttempts
	}
	if jc.S3Bucket != "" {
		cfg.S3Bucket = jc.S3Bucket
	}
	if jc.S3Region != "" {
		cfg.S3Region = jc.S3Region
	}
	if jc.S3BaseEndpoint != "" {
		cfg.S3BaseEndpoint = jc.S3BaseEndpoint
	}
	if jc.S3AccessKey != "" {
		cfg.S3AccessKey = jc.S3AccessKey
	}
	if jc.S3SecretKey != "" {
		cfg.S3SecretKey = jc.S3SecretKey
	}
}
