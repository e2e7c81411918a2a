package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnv() map[string]string {
	return map[string]string{
		"DB_PATH":                    "/tmp/state.db",
		"SECRET_KEY":                 "0123456789abcdef0123456789abcdef",
		"BIND_ADDR":                  "0.0.0.0",
		"BIND_PORT":                  "8080",
		"DEADLINE_MS_API":            "5000",
		"DEADLINE_MS_BACKEND":        "10000",
		"MAX_BODY_BYTES":             "65536",
		"MAX_RECORDS_PER_REQUEST":    "100",
		"RATE_LIMIT_PER_MIN":         "60",
		"RATE_LIMIT_PER_HOUR":        "1000",
		"SESSION_IDLE_SEC":           "1800",
		"SESSION_ABSOLUTE_SEC":       "86400",
		"COOKIE_SECURE":              "auto",
		"LOGIN_LOCKOUT_FAILS":        "5",
		"LOGIN_LOCKOUT_WINDOW_SEC":   "900",
		"LOGIN_LOCKOUT_DURATION_SEC": "900",
		"BCRYPT_COST":                "12",
		"ADMIN_USERNAME":             "admin",
		"ADMIN_PASSWORD":             "changeme123",
	}
}

func getenvFrom(m map[string]string) func(string) string {
	return func(name string) string { return m[name] }
}

func TestLoadSucceedsWithFullEnv(t *testing.T) {
	cfg, err := Load(getenvFrom(validEnv()))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/state.db", cfg.DBPath)
	assert.Equal(t, 8080, cfg.BindPort)
	assert.Nil(t, cfg.SMTP)
	assert.False(t, cfg.ProviderEnabled["netcup"])
}

func TestLoadFailsOnMissingVariable(t *testing.T) {
	env := validEnv()
	delete(env, "SECRET_KEY")
	_, err := Load(getenvFrom(env))
	require.Error(t, err)
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "SECRET_KEY", cfgErr.Variable)
}

func TestLoadFailsOnShortSecretKey(t *testing.T) {
	env := validEnv()
	env["SECRET_KEY"] = "tooshort"
	_, err := Load(getenvFrom(env))
	require.Error(t, err)
}

func TestLoadFailsOnLowBcryptCost(t *testing.T) {
	env := validEnv()
	env["BCRYPT_COST"] = "4"
	_, err := Load(getenvFrom(env))
	require.Error(t, err)
}

func TestLoadFailsOnInvalidCookieSecure(t *testing.T) {
	env := validEnv()
	env["COOKIE_SECURE"] = "sometimes"
	_, err := Load(getenvFrom(env))
	require.Error(t, err)
}

func TestLoadFailsOnNonIntegerPort(t *testing.T) {
	env := validEnv()
	env["BIND_PORT"] = "not-a-number"
	_, err := Load(getenvFrom(env))
	require.Error(t, err)
}

func TestLoadEnablesSMTPWhenHostPresent(t *testing.T) {
	env := validEnv()
	env["SMTP_HOST"] = "smtp.example.com"
	env["SMTP_PORT"] = "587"
	env["SMTP_FROM"] = "noreply@example.com"
	cfg, err := Load(getenvFrom(env))
	require.NoError(t, err)
	require.NotNil(t, cfg.SMTP)
	assert.Equal(t, "smtp.example.com", cfg.SMTP.Host)
}

func TestLoadEnablesProviderFlags(t *testing.T) {
	env := validEnv()
	env["PROVIDER_NETCUP_ENABLED"] = "true"
	cfg, err := Load(getenvFrom(env))
	require.NoError(t, err)
	assert.True(t, cfg.ProviderEnabled["netcup"])
	assert.False(t, cfg.ProviderEnabled["powerdns"])
}
