package main

import "time"

type appConfig struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL"`

	// Storage is "postgres" or "memory". Memory loses all state on exit.
	Storage string `env:"STORAGE" envDefault:"postgres"`
	// Dedup is "redis" or "memory" and backs renewal reminder deduplication.
	Dedup string `env:"RENEWAL_DEDUP" envDefault:"redis"`

	// CatalogPath points at a pricing YAML; empty uses the built-in catalog.
	CatalogPath string `env:"PRICING_CATALOG"`

	NotifyLang     string `env:"NOTIFY_LANG" envDefault:"en"`
	NotifyTimezone string `env:"NOTIFY_TIMEZONE" envDefault:"UTC"`

	SchedulerTick time.Duration `env:"SCHEDULER_TICK" envDefault:"1s"`
}
