package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type cache struct {
	mu     sync.Mutex
	values map[string]any
}

var (
	loaded = &cache{values: make(map[string]any)}

	defaultEnvLoaded sync.Once
)

// Load parses the process environment into v using its `env` struct tags.
// The first call also reads ./.env when present. Each config type is parsed
// once and served from cache afterwards.
//
//	type Config struct {
//		ConnectionString string `env:"PG_CONN_URL,required"`
//		MaxOpenConns     int32  `env:"PG_MAX_OPEN_CONNS" envDefault:"10"`
//	}
//
//	var cfg Config
//	if err := config.Load(&cfg); err != nil { ... }
func Load[T any](v *T) error {
	return load(v, "")
}

// LoadPrefixed works like Load but prepends prefix to every variable name,
// so one struct type can be loaded for several instances
// (e.g. "PRIMARY_" and "REPLICA_").
func LoadPrefixed[T any](v *T, prefix string) error {
	return load(v, prefix)
}

// MustLoad works like Load but panics on failure.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("config: failed to load %s: %v", typeName[T](), err))
	}
}

// LoadEnv reads the given dotenv files into the process environment without
// overriding variables that are already set. Later files do not override
// earlier ones. With no paths it reads ./.env.
func LoadEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		return errors.Join(ErrLoadingEnvFile, err)
	}
	return nil
}

// MustLoadEnv works like LoadEnv but panics on failure.
func MustLoadEnv(paths ...string) {
	if err := LoadEnv(paths...); err != nil {
		panic(err)
	}
}

// Reset drops every cached config so the next Load re-reads the environment.
func Reset() {
	loaded.mu.Lock()
	defer loaded.mu.Unlock()
	clear(loaded.values)
}

func load[T any](v *T, prefix string) error {
	defaultEnvLoaded.Do(func() {
		// A missing .env is the normal case outside local development.
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilPointer
	}

	key := prefix + typeName[T]()

	loaded.mu.Lock()
	defer loaded.mu.Unlock()

	if cached, ok := loaded.values[key]; ok {
		*v = cached.(T)
		return nil
	}

	if err := env.ParseWithOptions(v, env.Options{Prefix: prefix}); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	loaded.values[key] = *v
	return nil
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}
