// Package config loads typed configuration from environment variables.
//
// It wraps github.com/caarlos0/env/v11 for struct-tag parsing and
// github.com/joho/godotenv for optional .env files. Each package of the
// service declares its own env-tagged Config struct; the process loads them
// with Load (or MustLoad at startup) and every type is parsed once per
// process.
//
//	var pgCfg pg.Config
//	config.MustLoad(&pgCfg)
//
// Reset clears the cache, which tests use after changing the environment.
package config
