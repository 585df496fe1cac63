package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN
//	-k string   JWT signing key
//	-t int      access token validity, seconds
//	-r int      refresh token validity, days
//	-l int      lockout threshold (failed attempts)
//	-L int      lockout duration, minutes
//	-R string   Redis address for the TOTP replay guard
//	-v string   log level
//
// Flags are filtered from os.Args first so subcommand arguments do not
// collide with them.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-k", "-t", "-r", "-l", "-L", "-R", "-v"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SigningKey, "k", config.SigningKey, "jwt signing key")
	fs.IntVar(&config.AccessTokenExpirySeconds, "t", config.AccessTokenExpirySeconds, "access token validity (in seconds)")
	fs.IntVar(&config.RefreshTokenExpiryDays, "r", config.RefreshTokenExpiryDays, "refresh token validity (in days)")
	fs.IntVar(&config.LockoutThreshold, "l", config.LockoutThreshold, "failed attempts before lockout")
	lockoutMinutes := fs.Int("L", int(config.LockoutDuration.Minutes()), "lockout duration (in minutes)")
	fs.StringVar(&config.RedisAddr, "R", config.RedisAddr, "redis address")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.LockoutDuration = time.Duration(*lockoutMinutes) * time.Minute
}
