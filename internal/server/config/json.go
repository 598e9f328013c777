package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/imagingdesk/internal/flagx"
	"github.com/dmitrijs2005/imagingdesk/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "15m" and integer nanoseconds are accepted.
type JsonConfig struct {
	EndpointAddrHTTP string         `json:"endpoint_addr_http"`
	MetricsAddr      *string        `json:"metrics_addr"`
	DatabaseDSN      string         `json:"database_dsn"`
	SecretKey        string         `json:"secret_key"`
	S3RootUser       string         `json:"s3_root_user"`
	S3RootPassword   string         `json:"s3_root_password"`
	S3Bucket         string         `json:"s3_bucket"`
	S3Region         string         `json:"s3_region"`
	S3BaseEndpoint   string         `json:"s3_base_endpoint"`
	S3KeyPrefix      *string        `json:"s3_key_prefix"`
	PresignExpiry    timex.Duration `json:"presign_expiry"`
	IndexBackend     string         `json:"index_backend"`
	DynamoDBTable    string         `json:"dynamodb_table"`
	ElevatedRoles    []string       `json:"elevated_roles"`
	RateLimit        *int           `json:"rate_limit"`
	RateLimitWindow  timex.Duration `json:"rate_limit_window"`
	LogLevel         string         `json:"log_level"`
	ShutdownTimeout  timex.Duration `json:"shutdown_timeout"`
}

// parseJson overlays values from the JSON file named by -c/-config (or the
// IMAGINGDESK_CONFIG environment variable) onto config.
//
// An unreadable file or invalid JSON panics: the server must not start with
// a half-applied configuration.
func parseJson(config *Config) {

	jsonConfigFile := flagx.ConfigPath()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	if err := ApplyFile(config, jsonConfigFile); err != nil {
		panic(err)
	}
}

// ApplyFile overlays the JSON file at path onto config. Keys missing from
// the file leave the current value untouched; pointer fields allow
// explicitly setting an empty metrics address, an empty key prefix or a
// zero rate limit.
func ApplyFile(config *Config, path string) error {
	c := &JsonConfig{}

	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.IndexBackend, c.IndexBackend)
	setString(&config.DynamoDBTable, c.DynamoDBTable)
	setString(&config.LogLevel, c.LogLevel)

	if c.MetricsAddr != nil {
		config.MetricsAddr = *c.MetricsAddr
	}
	if c.S3KeyPrefix != nil {
		config.S3KeyPrefix = *c.S3KeyPrefix
	}
	if c.RateLimit != nil {
		config.RateLimit = *c.RateLimit
	}
	if len(c.ElevatedRoles) > 0 {
		config.ElevatedRoles = c.ElevatedRoles
	}
	if c.PresignExpiry.Duration > 0 {
		config.PresignExpiry = c.PresignExpiry.Duration
	}
	if c.RateLimitWindow.Duration > 0 {
		config.RateLimitWindow = c.RateLimitWindow.Duration
	}
	if c.ShutdownTimeout.Duration > 0 {
		config.ShutdownTimeout = c.ShutdownTimeout.Duration
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
