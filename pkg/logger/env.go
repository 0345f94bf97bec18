package logger

// Env names a deployment environment.
type Env string

const (
	EnvDevelopment Env = "development"
	EnvStaging     Env = "staging"
	EnvProduction  Env = "production"
)

// ParseEnv maps common spellings onto an Env, defaulting to development.
func ParseEnv(s string) Env {
	switch s {
	case string(EnvProduction), "prod":
		return EnvProduction
	case string(EnvStaging), "stage":
		return EnvStaging
	default:
		return EnvDevelopment
	}
}
