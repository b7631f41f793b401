package observability

import (
	"strings"

	"github.com/smallbiznis/leakradar/internal/config"
)

// Config is the part of the app configuration the logger, tracer and meter are built from.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
	ScanSamplingRatio    float64
	UntracedRoutes       []string
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "leakradar"
	}
	tel := cfg.Telemetry

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             tel.LogLevel,
		LogFormat:            tel.LogFormat,
		OtelEnabled:          tel.TracingEnabled,
		OtelExporterEndpoint: tel.ExporterEndpoint,
		OtelExporterProtocol: tel.ExporterProtocol,
		OtelSamplingRatio:    clampRatio(tel.SamplingRatio),
		ScanSamplingRatio:    clampRatio(tel.ScanSamplingRatio),
		UntracedRoutes:       tel.UntracedRoutes,
	}
}

// Debug is on for debug logging and for every non-deployed environment.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func clampRatio(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}
