package config

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider is a SecretProvider backed by a static map.
type stubProvider struct {
	values map[string]string
	err    error
	calls  [][]string
}

func (p *stubProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	p.calls = append(p.calls, keys)
	if p.err != nil {
		return nil, p.err
	}
	result := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := p.values[k]; ok {
			result[k] = v
		}
	}
	return result, nil
}

// fakeEnv builds loaderDeps over an in-memory environment map.
type fakeEnv struct {
	vars map[string]string
}

func (f *fakeEnv) deps() loaderDeps {
	return loaderDeps{
		lookupEnv: func(key string) (string, bool) {
			v, ok := f.vars[key]
			return v, ok
		},
		setEnv: func(key, value string) error {
			f.vars[key] = value
			return nil
		},
		environ: func() []string {
			entries := make([]string, 0, len(f.vars))
			for k, v := range f.vars {
				entries = append(entries, fmt.Sprintf("%s=%s", k, v))
			}
			return entries
		},
	}
}

// setRequiredEnv sets the minimal environment for a valid Config via the real
// OS environment, which envconfig reads directly.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("DATABASE_URL", "postgres://pulse:pw@localhost:5432/pulsemetrics")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("STRIPE_PUBLISHABLE_KEY", "pk_test_123")
}

func TestLoadConfig_LocalDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "pulsemetrics-api", cfg.Service)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, 10, cfg.Database.MaxConns)
	assert.Equal(t, 2, cfg.Database.MinConns)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "dev", cfg.Build.Version)
}

func TestLoadConfig_RateLimitKillSwitch(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RATE_LIMIT_ENABLED", "false")

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadConfig_MissingDatabaseURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")

	_, err := LoadConfig(nil)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ErrValidation, cfgErr.Type)
}

func TestLoadConfig_InvalidEnvironment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production") // must be one of: local dev staging prod

	_, err := LoadConfig(nil)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ErrValidation, cfgErr.Type)
}

func TestLoadConfig_UnparsableValue(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_MAX_CONNS", "many")

	_, err := LoadConfig(nil)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ErrParsing, cfgErr.Type)
}

func TestResolveSSMParams_ResolvesAndInjects(t *testing.T) {
	env := &fakeEnv{vars: map[string]string{
		"DATABASE_URL_SSM_PARAM":      "/prod/pulsemetrics/database/url",
		"STRIPE_SECRET_KEY_SSM_PARAM": "/prod/pulsemetrics/stripe/secret",
	}}
	provider := &stubProvider{values: map[string]string{
		"/prod/pulsemetrics/database/url": "postgres://resolved",
		"/prod/pulsemetrics/stripe/secret": "sk_live_resolved",
	}}

	err := resolveSSMParams(provider, env.deps())
	require.NoError(t, err)

	assert.Equal(t, "postgres://resolved", env.vars["DATABASE_URL"])
	assert.Equal(t, "sk_live_resolved", env.vars["STRIPE_SECRET_KEY"])
}

func TestResolveSSMParams_EnvTakesPriority(t *testing.T) {
	env := &fakeEnv{vars: map[string]string{
		"DATABASE_URL":           "postgres://from-env",
		"DATABASE_URL_SSM_PARAM": "/prod/pulsemetrics/database/url",
	}}
	provider := &stubProvider{values: map[string]string{
		"/prod/pulsemetrics/database/url": "postgres://from-ssm",
	}}

	err := resolveSSMParams(provider, env.deps())
	require.NoError(t, err)

	assert.Equal(t, "postgres://from-env", env.vars["DATABASE_URL"])
	assert.Empty(t, provider.calls, "already-set target should not trigger an SSM call")
}

func TestResolveSSMParams_NilProviderWithBindings(t *testing.T) {
	env := &fakeEnv{vars: map[string]string{
		"DATABASE_URL_SSM_PARAM": "/prod/pulsemetrics/database/url",
	}}

	err := resolveSSMParams(nil, env.deps())
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ErrSSMResolution, cfgErr.Type)
	assert.Contains(t, cfgErr.Message, "DATABASE_URL")
}

func TestResolveSSMParams_MissingParameter(t *testing.T) {
	env := &fakeEnv{vars: map[string]string{
		"DATABASE_URL_SSM_PARAM": "/prod/pulsemetrics/database/url",
	}}
	provider := &stubProvider{values: map[string]string{}}

	err := resolveSSMParams(provider, env.deps())
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ErrSSMResolution, cfgErr.Type)
	assert.Contains(t, cfgErr.Message, "/prod/pulsemetrics/database/url")
}

func TestResolveSSMParams_ProviderFailure(t *testing.T) {
	env := &fakeEnv{vars: map[string]string{
		"DATABASE_URL_SSM_PARAM": "/prod/pulsemetrics/database/url",
	}}
	provider := &stubProvider{err: errors.New("throttled")}

	err := resolveSSMParams(provider, env.deps())
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ErrSSMResolution, cfgErr.Type)
	assert.ErrorContains(t, err, "throttled")
}

func TestResolveSSMParams_NoBindingsIsNoop(t *testing.T) {
	env := &fakeEnv{vars: map[string]string{
		"LOG_LEVEL": "debug",
	}}

	err := resolveSSMParams(nil, env.deps())
	assert.NoError(t, err)
}

func TestConfigError_ErrorAndUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &ConfigError{Type: ErrParsing, Message: "bad value", Err: inner}

	assert.Equal(t, "[PARSING_FAILED] bad value: boom", err.Error())
	assert.ErrorIs(t, err, inner)

	noInner := &ConfigError{Type: ErrMissingEnv, Message: "gone"}
	assert.Equal(t, "[MISSING_ENV] gone", noInner.Error())
}
