package observability

import (
	"strings"
	"time"

	"github.com/smallbiznis/clinicledger/internal/config"
)

// Config is the observability view of the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel    string
	LogFormat   string
	SQLLogLevel string
	SlowQuery   time.Duration

	Otel config.ObservabilityConfig
}

func LoadConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "clinicledger"
	}
	return Config{
		ServiceName: name,
		Environment: strings.TrimSpace(cfg.Environment),
		Version:     strings.TrimSpace(cfg.AppVersion),
		LogLevel:    cfg.Obs.LogLevel,
		LogFormat:   cfg.Obs.LogFormat,
		SQLLogLevel: cfg.Obs.SQLLogLevel,
		SlowQuery:   cfg.Obs.SlowQuery,
		Otel:        cfg.Obs,
	}
}

// Debug is true for debug logging or any non-production style environment.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}
