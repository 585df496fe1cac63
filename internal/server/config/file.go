package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/flagx"
	"github.com/spf13/viper"
)

const envPrefix = "AUTHKEEPER"

// fileConfig mirrors Config with mapstructure tags. Durations accept the
// "5m" form. Pointer-free: viper fills in the Config values as defaults, so
// keys absent from the file keep whatever the earlier layer set.
type fileConfig struct {
	DatabaseDSN              string        `mapstructure:"database_dsn"`
	SigningKey               string        `mapstructure:"signing_key"`
	SigningMethod            string        `mapstructure:"signing_method"`
	Issuer                   string        `mapstructure:"issuer"`
	Audience                 string        `mapstructure:"audience"`
	AccessTokenExpirySeconds int           `mapstructure:"access_token_expiry_seconds"`
	RefreshTokenExpiryDays   int           `mapstructure:"refresh_token_expiry_days"`
	LockoutThreshold         int           `mapstructure:"lockout_threshold"`
	LockoutDuration          time.Duration `mapstructure:"lockout_duration"`
	TOTPIssuer               string        `mapstructure:"totp_issuer"`
	TOTPDigits               int           `mapstructure:"totp_digits"`
	TOTPPeriod               int           `mapstructure:"totp_period"`
	TOTPSkew                 int           `mapstructure:"totp_skew"`
	RecoveryCodeCount        int           `mapstructure:"recovery_code_count"`
	SecretsKey               string        `mapstructure:"secrets_key"`
	RedisAddr                string        `mapstructure:"redis_addr"`
	Argon2Memory             uint32        `mapstructure:"argon2_memory"`
	Argon2Iterations         uint32        `mapstructure:"argon2_iterations"`
	Argon2Parallelism        uint8         `mapstructure:"argon2_parallelism"`
	LogLevel                 string        `mapstructure:"log_level"`
	LogFormat                string        `mapstructure:"log_format"`
}

// parseFile overlays the config file named by -c/-config (or
// $AUTHKEEPER_CONFIG) and AUTHKEEPER_* environment variables onto config.
// With no file, only the environment is consulted.
func parseFile(config *Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, config)

	if path := flagx.ConfigFile(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	config.DatabaseDSN = fc.DatabaseDSN
	config.SigningKey = fc.SigningKey
	config.SigningMethod = fc.SigningMethod
	config.Issuer = fc.Issuer
	config.Audience = fc.Audience
	config.AccessTokenExpirySeconds = fc.AccessTokenExpirySeconds
	config.RefreshTokenExpiryDays = fc.RefreshTokenExpiryDays
	config.LockoutThreshold = fc.LockoutThreshold
	config.LockoutDuration = fc.LockoutDuration
	config.TOTPIssuer = fc.TOTPIssuer
	config.TOTPDigits = fc.TOTPDigits
	config.TOTPPeriod = fc.TOTPPeriod
	config.TOTPSkew = fc.TOTPSkew
	config.RecoveryCodeCount = fc.RecoveryCodeCount
	config.SecretsKey = fc.SecretsKey
	config.RedisAddr = fc.RedisAddr
	config.Argon2Memory = fc.Argon2Memory
	config.Argon2Iterations = fc.Argon2Iterations
	config.Argon2Parallelism = fc.Argon2Parallelism
	config.LogLevel = fc.LogLevel
	config.LogFormat = fc.LogFormat
	return nil
}

// setDefaults registers every key so AutomaticEnv can resolve it even when
// the file does not mention it.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("database_dsn", c.DatabaseDSN)
	v.SetDefault("signing_key", c.SigningKey)
	v.SetDefault("signing_method", c.SigningMethod)
	v.SetDefault("issuer", c.Issuer)
	v.SetDefault("audience", c.Audience)
	v.SetDefault("access_token_expiry_seconds", c.AccessTokenExpirySeconds)
	v.SetDefault("refresh_token_expiry_days", c.RefreshTokenExpiryDays)
	v.SetDefault("lockout_threshold", c.LockoutThreshold)
	v.SetDefault("lockout_duration", c.LockoutDuration)
	v.SetDefault("totp_issuer", c.TOTPIssuer)
	v.SetDefault("totp_digits", c.TOTPDigits)
	v.SetDefault("totp_period", c.TOTPPeriod)
	v.SetDefault("totp_skew", c.TOTPSkew)
	v.SetDefault("recovery_code_count", c.RecoveryCodeCount)
	v.SetDefault("secrets_key", c.SecretsKey)
	v.SetDefault("redis_addr", c.RedisAddr)
	v.SetDefault("argon2_memory", c.Argon2Memory)
	v.SetDefault("argon2_iterations", c.Argon2Iterations)
	v.SetDefault("argon2_parallelism", c.Argon2Parallelism)
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("log_format", c.LogFormat)
}
