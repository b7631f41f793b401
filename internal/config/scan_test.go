package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestValidateScanConfig(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*ScanConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*ScanConfig) {}},
		{name: "page_size_over_provider_limit", mutate: func(c *ScanConfig) { c.PageSize = 101 }, wantErr: true},
		{name: "unbounded_pages", mutate: func(c *ScanConfig) { c.MaxPages = 0 }},
		{name: "positive_threshold", mutate: func(c *ScanConfig) { c.AnomalyThresholdPct = 5 }, wantErr: true},
		{name: "zero_concurrency", mutate: func(c *ScanConfig) { c.Concurrency = 0 }, wantErr: true},
		{name: "bad_hour", mutate: func(c *ScanConfig) { c.ScanHourUTC = 24 }, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultScanConfig()
			tc.mutate(&cfg)
			err := ValidateScanConfig(cfg)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestScanConfigHolderFallsBackToDefaults(t *testing.T) {
	var holder *ScanConfigHolder
	if got := holder.Get().PageSize; got != 100 {
		t.Fatalf("expected default page size 100, got %d", got)
	}

	holder = NewStaticScanConfigHolder(ScanConfig{PageSize: 10, Concurrency: 2})
	if got := holder.Get().Concurrency; got != 2 {
		t.Fatalf("expected concurrency 2, got %d", got)
	}
}

func TestScanConfigHolderMergesPartialFileWithDefaults(t *testing.T) {
	dir := t.TempDir()
	content := "scan:\n  maxPages: 50\n  orgTimeout: 90s\n"
	if err := os.WriteFile(filepath.Join(dir, "scan.yml"), []byte(content), 0o600); err != nil {
		t.Fatalf("write scan.yml: %v", err)
	}

	holder, err := newScanConfigHolder(zaptest.NewLogger(t), dir)
	if err != nil {
		t.Fatalf("expected partial file to load, got %v", err)
	}
	cfg := holder.Get()
	if cfg.MaxPages != 50 {
		t.Fatalf("expected max pages 50 from file, got %d", cfg.MaxPages)
	}
	if cfg.OrgTimeout != 90*time.Second {
		t.Fatalf("expected org timeout 90s from file, got %s", cfg.OrgTimeout)
	}
	if cfg.PageSize != 100 || cfg.PricingMaxPages != 50 || cfg.Concurrency != 1 {
		t.Fatalf("expected defaults for unset keys, got %+v", cfg)
	}
}

func TestScanConfigHolderAppliesEnvOverrides(t *testing.T) {
	t.Setenv("LEAKRADAR_SCAN_MAXPAGES", "7")
	t.Setenv("LEAKRADAR_SCAN_CONCURRENCY", "4")

	holder, err := newScanConfigHolder(zaptest.NewLogger(t), t.TempDir())
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	cfg := holder.Get()
	if cfg.MaxPages != 7 {
		t.Fatalf("expected max pages 7 from env, got %d", cfg.MaxPages)
	}
	if cfg.Concurrency != 4 {
		t.Fatalf("expected concurrency 4 from env, got %d", cfg.Concurrency)
	}
	if cfg.PageSize != 100 {
		t.Fatalf("expected default page size, got %d", cfg.PageSize)
	}
}

func TestScanConfigHolderEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "scan.yml"), []byte("scan:\n  maxPages: 50\n"), 0o600); err != nil {
		t.Fatalf("write scan.yml: %v", err)
	}
	t.Setenv("LEAKRADAR_SCAN_MAXPAGES", "12")

	holder, err := newScanConfigHolder(zaptest.NewLogger(t), dir)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if got := holder.Get().MaxPages; got != 12 {
		t.Fatalf("expected env max pages 12, got %d", got)
	}
}
