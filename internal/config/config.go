// Package config loads process configuration from environment variables,
// failing fast (process exit) when a required variable is absent or
// malformed, per spec §6. Unlike the teacher's soft-default YAML loader,
// every variable here is load-bearing: there is no silent default for
// anything that affects security behavior.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ExitCode enumerates the process exit codes spec §6 assigns to each
// startup failure class.
type ExitCode int

const (
	ExitOK                  ExitCode = 0
	ExitConfigError         ExitCode = 1
	ExitMigrationFailure    ExitCode = 2
	ExitStorageInitFailure  ExitCode = 3
)

// Error is returned by Load when a variable is missing or malformed; main
// maps it to os.Exit(int(ExitConfigError)) after logging.
type Error struct {
	Variable string
	Reason   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Variable, e.Reason)
}

// Config is the fully-resolved process configuration.
type Config struct {
	DBPath string
	SecretKey string

	BindAddr string
	BindPort int

	DeadlineAPIMillis     int
	DeadlineBackendMillis int

	MaxBodyBytes         int64
	MaxRecordsPerRequest int

	RateLimitPerMinute int
	RateLimitPerHour   int

	SessionIdleSeconds     int
	SessionAbsoluteSeconds int
	CookieSecure           CookieSecureMode

	LoginLockoutFails        int
	LoginLockoutWindowSec    int
	LoginLockoutDurationSec  int

	BcryptCost int

	AdminUsername string
	AdminPassword string

	SMTP *SMTPConfig

	ProviderEnabled map[string]bool
}

// CookieSecureMode mirrors the three-way COOKIE_SECURE setting.
type CookieSecureMode string

const (
	CookieSecureAuto  CookieSecureMode = "auto"
	CookieSecureTrue  CookieSecureMode = "true"
	CookieSecureFalse CookieSecureMode = "false"
)

// SMTPConfig is present only when SMTP_HOST is set (SMTP_PORT and SMTP_FROM
// are then required, SMTP_USERNAME and SMTP_PASSWORD optional); its
// complete absence disables notifications without being an error.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// knownProviderCodes lists the compiled-in provider codes Load looks for
// PROVIDER_<CODE>_ENABLED toggles for.
var knownProviderCodes = []string{"netcup", "powerdns"}

// Load reads and validates the process configuration from the environment.
// It returns a *Error (never a bare error) on the first problem found, so
// callers can print "missing SECRET_KEY" rather than a generic failure.
func Load(getenv func(string) string) (*Config, error) {
	c := &Config{ProviderEnabled: make(map[string]bool)}

	var err error
	if c.DBPath, err = requireString(getenv, "DB_PATH"); err != nil {
		return nil, err
	}
	if c.SecretKey, err = requireString(getenv, "SECRET_KEY"); err != nil {
		return nil, err
	}
	if len(c.SecretKey) < 32 {
		return nil, &Error{"SECRET_KEY", "must be at least 32 bytes"}
	}
	if c.BindAddr, err = requireString(getenv, "BIND_ADDR"); err != nil {
		return nil, err
	}
	if c.BindPort, err = requireInt(getenv, "BIND_PORT"); err != nil {
		return nil, err
	}
	if c.DeadlineAPIMillis, err = requireInt(getenv, "DEADLINE_MS_API"); err != nil {
		return nil, err
	}
	if c.DeadlineBackendMillis, err = requireInt(getenv, "DEADLINE_MS_BACKEND"); err != nil {
		return nil, err
	}
	maxBody, err := requireInt(getenv, "MAX_BODY_BYTES")
	if err != nil {
		return nil, err
	}
	c.MaxBodyBytes = int64(maxBody)
	if c.MaxRecordsPerRequest, err = requireInt(getenv, "MAX_RECORDS_PER_REQUEST"); err != nil {
		return nil, err
	}
	if c.RateLimitPerMinute, err = requireInt(getenv, "RATE_LIMIT_PER_MIN"); err != nil {
		return nil, err
	}
	if c.RateLimitPerHour, err = requireInt(getenv, "RATE_LIMIT_PER_HOUR"); err != nil {
		return nil, err
	}
	if c.SessionIdleSeconds, err = requireInt(getenv, "SESSION_IDLE_SEC"); err != nil {
		return nil, err
	}
	if c.SessionAbsoluteSeconds, err = requireInt(getenv, "SESSION_ABSOLUTE_SEC"); err != nil {
		return nil, err
	}
	cookieSecure, err := requireString(getenv, "COOKIE_SECURE")
	if err != nil {
		return nil, err
	}
	switch CookieSecureMode(cookieSecure) {
	case CookieSecureAuto, CookieSecureTrue, CookieSecureFalse:
		c.CookieSecure = CookieSecureMode(cookieSecure)
	default:
		return nil, &Error{"COOKIE_SECURE", "must be one of auto|true|false"}
	}
	if c.LoginLockoutFails, err = requireInt(getenv, "LOGIN_LOCKOUT_FAILS"); err != nil {
		return nil, err
	}
	if c.LoginLockoutWindowSec, err = requireInt(getenv, "LOGIN_LOCKOUT_WINDOW_SEC"); err != nil {
		return nil, err
	}
	if c.LoginLockoutDurationSec, err = requireInt(getenv, "LOGIN_LOCKOUT_DURATION_SEC"); err != nil {
		return nil, err
	}
	if c.BcryptCost, err = requireInt(getenv, "BCRYPT_COST"); err != nil {
		return nil, err
	}
	if c.BcryptCost < 12 {
		return nil, &Error{"BCRYPT_COST", "must be >= 12"}
	}
	if c.AdminUsername, err = requireString(getenv, "ADMIN_USERNAME"); err != nil {
		return nil, err
	}
	if c.AdminPassword, err = requireString(getenv, "ADMIN_PASSWORD"); err != nil {
		return nil, err
	}

	c.SMTP, err = loadSMTP(getenv)
	if err != nil {
		return nil, err
	}

	for _, code := range knownProviderCodes {
		key := "PROVIDER_" + strings.ToUpper(code) + "_ENABLED"
		v := getenv(key)
		c.ProviderEnabled[code] = v == "true" || v == "1"
	}

	return c, nil
}

// loadSMTP returns nil (notifications disabled) when SMTP_HOST is absent;
// otherwise SMTP_PORT and SMTP_FROM become required, since a partial
// configuration is almost certainly a typo rather than intentional.
// SMTP_USERNAME and SMTP_PASSWORD stay optional (unauthenticated relay).
func loadSMTP(getenv func(string) string) (*SMTPConfig, error) {
	host := getenv("SMTP_HOST")
	if host == "" {
		return nil, nil
	}
	port, err := requireInt(getenv, "SMTP_PORT")
	if err != nil {
		return nil, err
	}
	from, err := requireString(getenv, "SMTP_FROM")
	if err != nil {
		return nil, err
	}
	return &SMTPConfig{
		Host:     host,
		Port:     port,
		Username: getenv("SMTP_USERNAME"),
		Password: getenv("SMTP_PASSWORD"),
		From:     from,
	}, nil
}

func requireString(getenv func(string) string, name string) (string, error) {
	v := getenv(name)
	if v == "" {
		return "", &Error{name, "required but not set"}
	}
	return v, nil
}

func requireInt(getenv func(string) string, name string) (int, error) {
	v, err := requireString(getenv, name)
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.Atoi(v)
	if convErr != nil {
		return 0, &Error{name, "must be an integer"}
	}
	return n, nil
}

// Getenv adapts os.Getenv to the func(string) string shape Load expects,
// so production code calls config.Load(config.Getenv) and tests supply a
// map-backed stand-in.
func Getenv(name string) string {
	return os.Getenv(name)
}
