package ubiqconfig

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} or ${VAR:default}, same shape as
// credentials.envVarPattern — each package owns its own copy rather than
// sharing one, since the two substitution helpers apply to different
// struct shapes.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

func substituteEnvVarsInString(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		value := os.Getenv(parts[1])
		if value == "" && len(parts) > 2 {
			return parts[2]
		}
		return value
	})
}

func substituteEnvVars(cfg *Config) {
	cfg.Environment = substituteEnvVarsInString(cfg.Environment)
	cfg.Logging.Level = substituteEnvVarsInString(cfg.Logging.Level)
	cfg.Metrics.Addr = substituteEnvVarsInString(cfg.Metrics.Addr)
}

// GetEnvironment returns UBIQ_ENV, defaulting to "development".
func GetEnvironment() string {
	if env := os.Getenv("UBIQ_ENV"); env != "" {
		return env
	}
	return "development"
}
