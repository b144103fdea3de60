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

func Test_parseJson(t *testing.T) {
	path := writeTempJSON(t, map[string]any{
		"endpoint_addr_grpc":      "www.example:9000",
		"store_driver":            "postgres",
		"database_dsn":            "postgres://db",
		"may_write":               false,
		"secret_key":              "my_secret_key",
		"min_time_between_emails": "30s",
		"staged_secret_ttl":       "72h",
		"verifier_timeout":        5000000000,
		"proxy_idps":              map[string]string{"yahoo.com": "bigtent.example"},
		"s3_bucket":               "bucket",
	})

	t.Run("overlays present keys", func(t *testing.T) {
		cfg := &Config{}
		cfg.LoadDefaults()
		require.NoError(t, parseJson(cfg, path))

		assert.Equal(t, "www.example:9000", cfg.EndpointAddrGRPC)
		assert.Equal(t, DriverPostgres, cfg.StoreDriver)
		assert.Equal(t, "postgres://db", cfg.DatabaseDSN)
		assert.False(t, cfg.MayWrite)
		assert.Equal(t, "my_secret_key", cfg.SecretKey)
		assert.Equal(t, 30*time.Second, cfg.MinTimeBetweenEmails)
		assert.Equal(t, 72*time.Hour, cfg.StagedSecretTTL)
		assert.Equal(t, 5*time.Second, cfg.VerifierTimeout)
		assert.Equal(t, []string{"yahoo.com=bigtent.example"}, cfg.ProxyIDPs)
		assert.Equal(t, "bucket", cfg.S3Bucket)

		// untouched keys keep their defaults
		assert.True(t, cfg.CreateSchema)
		assert.Equal(t, "us-east-1", cfg.S3Region)
	})

	t.Run("empty path changes nothing", func(t *testing.T) {
		cfg := &Config{}
		cfg.LoadDefaults()
		require.NoError(t, parseJson(cfg, ""))

		var want Config
		want.LoadDefaults()
		assert.Equal(t, want, *cfg)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))
		assert.Error(t, parseJson(&Config{}, bad))
	})

	t.Run("missing file", func(t *testing.T) {
		assert.Error(t, parseJson(&Config{}, filepath.Join(t.TempDir(), "absent.json")))
	})
}

func TestLoad_Precedence(t *testing.T) {
	path := writeTempJSON(t, map[string]any{
		"endpoint_addr_grpc": "json:1",
		"log_level":          "debug",
		"bcrypt_cost":        10,
	})
	t.Setenv("GOPHID_GRPC_ADDR", "env:2")
	t.Setenv("GOPHID_BCRYPT_COST", "8")

	cfg, err := Load([]string{"--config", path, "--bcrypt-cost", "5"})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "env:2", cfg.EndpointAddrGRPC)
	assert.Equal(t, 5, cfg.BcryptCost)
}

func TestLoad_EnvLists(t *testing.T) {
	t.Setenv("GOPHID_PROXY_IDPS", "yahoo.com=bigtent.example,aol.com=bigtent.example")
	t.Setenv("GOPHID_STAGED_SECRET_TTL", "24h")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"yahoo.com=bigtent.example", "aol.com=bigtent.example"}, cfg.ProxyIDPs)
	assert.Equal(t, 24*time.Hour, cfg.StagedSecretTTL)
}
