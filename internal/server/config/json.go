package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dmitrijs2005/gophid/internal/timex"
)

// JsonConfig mirrors Config for JSON files. Durations use timex.Duration so
// both "15m" and integer nanoseconds are accepted; pointer fields tell an
// explicit false apart from an absent key.
type JsonConfig struct {
	EndpointAddrGRPC string `json:"endpoint_addr_grpc"`
	MetricsAddr      string `json:"metrics_addr"`
	LogLevel         string `json:"log_level"`
	Hostname         string `json:"hostname"`

	StoreDriver   string `json:"store_driver"`
	JSONStorePath string `json:"json_store_path"`
	DatabaseDSN   string `json:"database_dsn"`
	CreateSchema  *bool  `json:"create_schema"`
	MayWrite      *bool  `json:"may_write"`

	SecretKey               string          `json:"secret_key"`
	SessionValidityDuration *timex.Duration `json:"session_validity_duration"`
	MinTimeBetweenEmails    *timex.Duration `json:"min_time_between_emails"`
	StagedSecretTTL         *timex.Duration `json:"staged_secret_ttl"`
	StagedPurgeInterval     *timex.Duration `json:"staged_purge_interval"`
	BcryptCost              int             `json:"bcrypt_cost"`
	MaxFailedAuthTries      int             `json:"max_failed_auth_tries"`

	VerifierWorkers int             `json:"verifier_workers"`
	VerifierTimeout *timex.Duration `json:"verifier_timeout"`
	VerifierMode    string          `json:"verifier_mode"`
	VerifierBinary  string          `json:"verifier_binary"`
	VerifierRate    *float64        `json:"verifier_rate"`

	ProxyIDPs          map[string]string `json:"proxy_idps"`
	IssuerKeys         map[string]string `json:"issuer_keys"`
	WellKnownDiscovery *bool             `json:"well_known_discovery"`
	WellKnownCacheTTL  *timex.Duration   `json:"well_known_cache_ttl"`

	S3RootUser     string          `json:"s3_root_user"`
	S3RootPassword string          `json:"s3_root_password"`
	S3Bucket       string          `json:"s3_bucket"`
	S3Region       string          `json:"s3_region"`
	S3BaseEndpoint string          `json:"s3_base_endpoint"`
	BackupInterval *timex.Duration `json:"backup_interval"`
}

// parseJson overlays values from the JSON file at path onto config. An empty
// path loads nothing. Keys missing from the file keep their current value.
func parseJson(config *Config, path string) error {
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.MetricsAddr, c.MetricsAddr)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.Hostname, c.Hostname)

	setString(&config.StoreDriver, c.StoreDriver)
	setString(&config.JSONStorePath, c.JSONStorePath)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	if c.CreateSchema != nil {
		config.CreateSchema = *c.CreateSchema
	}
	if c.MayWrite != nil {
		config.MayWrite = *c.MayWrite
	}

	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.SessionValidityDuration, c.SessionValidityDuration)
	setDuration(&config.MinTimeBetweenEmails, c.MinTimeBetweenEmails)
	setDuration(&config.StagedSecretTTL, c.StagedSecretTTL)
	setDuration(&config.StagedPurgeInterval, c.StagedPurgeInterval)
	setInt(&config.BcryptCost, c.BcryptCost)
	setInt(&config.MaxFailedAuthTries, c.MaxFailedAuthTries)

	setInt(&config.VerifierWorkers, c.VerifierWorkers)
	setDuration(&config.VerifierTimeout, c.VerifierTimeout)
	setString(&config.VerifierMode, c.VerifierMode)
	setString(&config.VerifierBinary, c.VerifierBinary)
	if c.VerifierRate != nil {
		config.VerifierRate = *c.VerifierRate
	}

	if len(c.ProxyIDPs) > 0 {
		config.ProxyIDPs = pairs(c.ProxyIDPs)
	}
	if len(c.IssuerKeys) > 0 {
		config.IssuerKeys = pairs(c.IssuerKeys)
	}
	if c.WellKnownDiscovery != nil {
		config.WellKnownDiscovery = *c.WellKnownDiscovery
	}
	setDuration(&config.WellKnownCacheTTL, c.WellKnownCacheTTL)

	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setDuration(&config.BackupInterval, c.BackupInterval)

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}

func pairs(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
