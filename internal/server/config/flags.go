package config

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

// parseFlags overlays command-line flags onto config. Unknown flags are
// tolerated so that -c/--config and flags owned by other components pass
// through. Short forms exist for the most common settings.
func parseFlags(config *Config, args []string) error {
	fs := pflag.NewFlagSet("gophid", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)

	fs.StringP("config", "c", "", "path to JSON config file")

	fs.StringVarP(&config.EndpointAddrGRPC, "grpc-addr", "a", config.EndpointAddrGRPC, "address and port of the gRPC endpoint")
	fs.StringVar(&config.MetricsAddr, "metrics-addr", config.MetricsAddr, "address of the /metrics endpoint, empty disables it")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "debug, info, warn or error")
	fs.StringVar(&config.Hostname, "hostname", config.Hostname, "issuer name of this service for fallback certificates")

	fs.StringVar(&config.StoreDriver, "store", config.StoreDriver, "store driver: json, postgres or sqlite")
	fs.StringVar(&config.JSONStorePath, "json-store-path", config.JSONStorePath, "file backing the json store")
	fs.StringVarP(&config.DatabaseDSN, "database-dsn", "d", config.DatabaseDSN, "database DSN")
	fs.BoolVar(&config.CreateSchema, "create-schema", config.CreateSchema, "run schema migrations on startup")
	fs.BoolVar(&config.MayWrite, "may-write", config.MayWrite, "allow write operations on the store")

	fs.StringVarP(&config.SecretKey, "secret-key", "s", config.SecretKey, "session token signing key")
	fs.DurationVar(&config.SessionValidityDuration, "session-validity", config.SessionValidityDuration, "session token lifetime")
	fs.DurationVar(&config.MinTimeBetweenEmails, "min-time-between-emails", config.MinTimeBetweenEmails, "minimum interval between staging emails to one address")
	fs.DurationVar(&config.StagedSecretTTL, "staged-secret-ttl", config.StagedSecretTTL, "staged secret lifetime, 0 keeps secrets until redeemed")
	fs.DurationVar(&config.StagedPurgeInterval, "staged-purge-interval", config.StagedPurgeInterval, "how often expired staged secrets are purged")
	fs.IntVar(&config.BcryptCost, "bcrypt-cost", config.BcryptCost, "bcrypt work factor")
	fs.IntVar(&config.MaxFailedAuthTries, "max-failed-auth-tries", config.MaxFailedAuthTries, "failed password attempts before lockout")

	fs.IntVar(&config.VerifierWorkers, "verifier-workers", config.VerifierWorkers, "concurrent verification workers")
	fs.DurationVar(&config.VerifierTimeout, "verifier-timeout", config.VerifierTimeout, "per-verification timeout")
	fs.StringVar(&config.VerifierMode, "verifier-mode", config.VerifierMode, "inprocess or subprocess")
	fs.StringVar(&config.VerifierBinary, "verifier-binary", config.VerifierBinary, "path of the verifier worker binary")
	fs.Float64Var(&config.VerifierRate, "verifier-rate", config.VerifierRate, "verifications admitted per second, 0 is unlimited")

	fs.StringSliceVar(&config.ProxyIDPs, "proxy-idp", config.ProxyIDPs, "domain=issuer delegation, repeatable")
	fs.StringSliceVar(&config.IssuerKeys, "issuer-key", config.IssuerKeys, "issuer=path.pem trusted public key, repeatable")
	fs.BoolVar(&config.WellKnownDiscovery, "well-known-discovery", config.WellKnownDiscovery, "fetch issuer keys from /.well-known/browserid")
	fs.DurationVar(&config.WellKnownCacheTTL, "well-known-cache-ttl", config.WellKnownCacheTTL, "how long fetched issuer keys are cached")

	fs.StringVarP(&config.S3RootUser, "s3-user", "u", config.S3RootUser, "S3 root user")
	fs.StringVarP(&config.S3RootPassword, "s3-password", "p", config.S3RootPassword, "S3 root password")
	fs.StringVarP(&config.S3Bucket, "s3-bucket", "b", config.S3Bucket, "S3 bucket")
	fs.StringVarP(&config.S3Region, "s3-region", "g", config.S3Region, "S3 region")
	fs.StringVarP(&config.S3BaseEndpoint, "s3-endpoint", "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.DurationVar(&config.BackupInterval, "backup-interval", config.BackupInterval, "json store snapshot interval, 0 disables backups")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	return nil
}
