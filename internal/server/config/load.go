package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// ConfigFlag names the flag that points at the optional config file.
const ConfigFlag = "config"

// RegisterFlags declares the server flags on fs with LoadDefaults values.
// Flag names are the koanf keys with dashes instead of underscores.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.StringP(ConfigFlag, "c", "", "path to a YAML or JSON config file")

	fs.StringP("endpoint-addr-grpc", "a", d.EndpointAddrGRPC, "address and port of the gRPC server")
	fs.String("endpoint-addr-metrics", d.EndpointAddrMetrics, "address of the /metrics and /healthz endpoint, empty disables it")
	fs.StringP("database-dsn", "d", d.DatabaseDSN, "database DSN")
	fs.String("store-backend", d.StoreBackend, "user store backend: postgres or memory")
	fs.String("session-backend", d.SessionBackend, "token store backend: postgres, redis or memory")

	fs.String("redis-addr", d.RedisAddr, "redis address")
	fs.String("redis-password", d.RedisPassword, "redis password")
	fs.Int("redis-db", d.RedisDB, "redis database number")
	fs.String("redis-prefix", d.RedisPrefix, "redis key prefix")

	fs.StringP("secret-key", "s", d.SecretKey, "access token signing secret")
	fs.Duration("access-token-validity-duration", d.AccessTokenValidityDuration, "access token lifetime")
	fs.Duration("refresh-token-validity-duration", d.RefreshTokenValidityDuration, "refresh token lifetime")
	fs.Duration("reset-token-validity-duration", d.ResetTokenValidityDuration, "password reset token lifetime")

	fs.String("password-algorithm", d.PasswordAlgorithm, "password hash algorithm: bcrypt or argon2id")
	fs.Int("bcrypt-cost", d.BcryptCost, "bcrypt work factor")
	fs.Uint32("argon2-time", d.Argon2Time, "argon2id iterations")
	fs.Uint32("argon2-memory", d.Argon2Memory, "argon2id memory in KiB")
	fs.Uint8("argon2-threads", d.Argon2Threads, "argon2id parallelism")
	fs.Duration("purge-interval", d.PurgeInterval, "period of the expired token sweep, 0 disables it")

	fs.String("log-format", d.LogFormat, "log format: json or text")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn or error")
	fs.StringSlice("public-methods", d.PublicMethods, "gRPC methods served without an access token")
}

// Load builds a Config from flag defaults, then the file named by --config,
// then flags that were set explicitly. fs must have been populated by
// RegisterFlags and parsed.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	path, err := fs.GetString(ConfigFlag)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if path != "" {
		// the yaml parser also accepts JSON documents
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrapf(err, "load config file")
		}
	}

	flags := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
		if f.Name == ConfigFlag {
			return "", nil
		}
		return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(fs, f)
	})
	if err := k.Load(flags, nil); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "load flags")
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "decode config")
	}
	return cfg, nil
}
