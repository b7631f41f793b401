package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ScanConfig tunes the daily revenue scan. It is hot-reloaded from scan.yml.
type ScanConfig struct {
	PageSize             int           `mapstructure:"pageSize"`
	MaxPages             int           `mapstructure:"maxPages"`
	CardExpiryWindowDays int           `mapstructure:"cardExpiryWindowDays"`
	CardCriticalDays     int           `mapstructure:"cardCriticalDays"`
	OverdueCriticalDays  int           `mapstructure:"overdueCriticalDays"`
	AnomalyThresholdPct  float64       `mapstructure:"anomalyThresholdPct"`
	Concurrency          int           `mapstructure:"concurrency"`
	OrgTimeout           time.Duration `mapstructure:"orgTimeout"`
	ScanHourUTC          int           `mapstructure:"scanHourUTC"`

	PricingMaxPages      int     `mapstructure:"pricingMaxPages"`
	PricingTierThreshold float64 `mapstructure:"pricingTierThreshold"`
}

func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		PageSize:             100,
		MaxPages:             200,
		CardExpiryWindowDays: 30,
		CardCriticalDays:     7,
		OverdueCriticalDays:  30,
		AnomalyThresholdPct:  -10,
		Concurrency:          1,
		OrgTimeout:           5 * time.Minute,
		ScanHourUTC:          6,
		PricingMaxPages:      50,
		PricingTierThreshold: 10_000_000,
	}
}

type ScanConfigHolder struct {
	current atomic.Value // holds ScanConfig
}

// scanFile mirrors the top level of scan.yml. Unmarshalling the whole tree merges file, env and
// defaults per key, which UnmarshalKey on the nested map does not.
type scanFile struct {
	Scan ScanConfig `mapstructure:"scan"`
}

var scanConfigPaths = []string{
	"/var/lib/leakradar/config",
	"/etc/leakradar",
	".",
}

// NewStaticScanConfigHolder returns a holder that never reloads.
func NewStaticScanConfigHolder(cfg ScanConfig) *ScanConfigHolder {
	holder := &ScanConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewScanConfigHolder(log *zap.Logger) (*ScanConfigHolder, error) {
	return newScanConfigHolder(log, scanConfigPaths...)
}

func newScanConfigHolder(log *zap.Logger, paths ...string) (*ScanConfigHolder, error) {
	log = log.Named("config.scan")
	v := viper.New()

	v.SetConfigName("scan")
	v.SetConfigType("yml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("LEAKRADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultScanConfig()
	v.SetDefault("scan.pageSize", defaults.PageSize)
	v.SetDefault("scan.maxPages", defaults.MaxPages)
	v.SetDefault("scan.cardExpiryWindowDays", defaults.CardExpiryWindowDays)
	v.SetDefault("scan.cardCriticalDays", defaults.CardCriticalDays)
	v.SetDefault("scan.overdueCriticalDays", defaults.OverdueCriticalDays)
	v.SetDefault("scan.anomalyThresholdPct", defaults.AnomalyThresholdPct)
	v.SetDefault("scan.concurrency", defaults.Concurrency)
	v.SetDefault("scan.orgTimeout", defaults.OrgTimeout)
	v.SetDefault("scan.scanHourUTC", defaults.ScanHourUTC)
	v.SetDefault("scan.pricingMaxPages", defaults.PricingMaxPages)
	v.SetDefault("scan.pricingTierThreshold", defaults.PricingTierThreshold)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := decodeScanConfig(v)
	if err != nil {
		return nil, err
	}
	if err := ValidateScanConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticScanConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeScanConfig(v)
		if err != nil {
			log.Warn("config.scan.reload_failed", zap.Error(err))
			return
		}
		if err := ValidateScanConfig(updated); err != nil {
			log.Warn("config.scan.invalid_ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("config.scan.reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func decodeScanConfig(v *viper.Viper) (ScanConfig, error) {
	var file scanFile
	if err := v.Unmarshal(&file); err != nil {
		return ScanConfig{}, err
	}
	return file.Scan, nil
}

func (h *ScanConfigHolder) Get() ScanConfig {
	if h == nil {
		return DefaultScanConfig()
	}
	cfg, ok := h.current.Load().(ScanConfig)
	if !ok {
		return DefaultScanConfig()
	}
	return cfg
}

func ValidateScanConfig(cfg ScanConfig) error {
	switch {
	case cfg.PageSize <= 0 || cfg.PageSize > 100:
		return errors.New("scan.pageSize must be between 1 and 100")
	case cfg.MaxPages < 0 || cfg.PricingMaxPages < 0:
		return errors.New("scan page ceilings cannot be negative")
	case cfg.CardExpiryWindowDays < 0:
		return errors.New("scan.cardExpiryWindowDays cannot be negative")
	case cfg.AnomalyThresholdPct >= 0:
		return errors.New("scan.anomalyThresholdPct must be negative")
	case cfg.Concurrency <= 0:
		return errors.New("scan.concurrency must be positive")
	case cfg.ScanHourUTC < 0 || cfg.ScanHourUTC > 23:
		return errors.New("scan.scanHourUTC must be between 0 and 23")
	}
	return nil
}
