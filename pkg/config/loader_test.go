package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sharepool/pkg/config"
)

type appConfig struct {
	Name    string        `env:"SHAREPOOL_TEST_NAME" envDefault:"sharepool"`
	Port    int           `env:"SHAREPOOL_TEST_PORT" envDefault:"8080"`
	Tags    []string      `env:"SHAREPOOL_TEST_TAGS" envSeparator:","`
	Timeout time.Duration `env:"SHAREPOOL_TEST_TIMEOUT" envDefault:"5s"`
}

type requiredConfig struct {
	Token string `env:"SHAREPOOL_TEST_TOKEN,required"`
}

type dbConfig struct {
	URL string `env:"DB_URL"`
}

// These tests mutate the process environment and the package cache, so they
// do not run in parallel.

func TestLoad_Defaults(t *testing.T) {
	config.Reset()
	t.Cleanup(config.Reset)

	var cfg appConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "sharepool", cfg.Name)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestLoad_Cached(t *testing.T) {
	config.Reset()
	t.Cleanup(config.Reset)

	t.Setenv("SHAREPOOL_TEST_PORT", "7000")
	var first appConfig
	require.NoError(t, config.Load(&first))

	t.Setenv("SHAREPOOL_TEST_PORT", "7001")
	var second appConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, 7000, second.Port, "second load must come from cache")

	config.Reset()
	var third appConfig
	require.NoError(t, config.Load(&third))
	assert.Equal(t, 7001, third.Port)
}

func TestLoad_Required(t *testing.T) {
	config.Reset()
	t.Cleanup(config.Reset)

	var cfg requiredConfig
	err := config.Load(&cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrParsingConfig)
	assert.Panics(t, func() { config.MustLoad(&requiredConfig{}) })

	t.Setenv("SHAREPOOL_TEST_TOKEN", "secret")
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "secret", cfg.Token)
}

func TestLoad_NilPointer(t *testing.T) {
	var cfg *appConfig
	assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
}

func TestLoadPrefixed(t *testing.T) {
	config.Reset()
	t.Cleanup(config.Reset)

	t.Setenv("PRIMARY_DB_URL", "postgres://primary")
	t.Setenv("REPLICA_DB_URL", "postgres://replica")

	var primary, replica dbConfig
	require.NoError(t, config.LoadPrefixed(&primary, "PRIMARY_"))
	require.NoError(t, config.LoadPrefixed(&replica, "REPLICA_"))
	assert.Equal(t, "postgres://primary", primary.URL)
	assert.Equal(t, "postgres://replica", replica.URL)
}

func TestLoadEnv(t *testing.T) {
	config.Reset()
	t.Cleanup(config.Reset)

	// Registering with t.Setenv restores the original values after the test;
	// unsetting lets the file populate them.
	for _, k := range []string{"SHAREPOOL_TEST_NAME", "SHAREPOOL_TEST_PORT", "SHAREPOOL_TEST_TAGS"} {
		t.Setenv(k, "")
	}
	unsetenv(t, "SHAREPOOL_TEST_NAME", "SHAREPOOL_TEST_PORT", "SHAREPOOL_TEST_TAGS")

	require.NoError(t, config.LoadEnv("testdata/.env.test"))

	var cfg appConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "from-file", cfg.Name)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Tags)
}

func TestLoadEnv_MissingFile(t *testing.T) {
	err := config.LoadEnv("testdata/missing.env")
	assert.ErrorIs(t, err, config.ErrLoadingEnvFile)
	assert.Panics(t, func() { config.MustLoadEnv("testdata/missing.env") })
}
