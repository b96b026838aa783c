package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	t.Setenv("XZWALLET_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.NeedsGenesis {
		t.Error("expected NeedsGenesis for empty home")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Escrow.DesignBps != 3000 || cfg.Escrow.ImplementationBps != 5000 || cfg.Escrow.FinalBps != 2000 {
		t.Errorf("default shares = %d/%d/%d", cfg.Escrow.DesignBps, cfg.Escrow.ImplementationBps, cfg.Escrow.FinalBps)
	}
	if cfg.DBPath == "" {
		t.Error("DBPath not defaulted")
	}
	if cfg.Ledger.MaxAttempts != 3 {
		t.Errorf("Ledger.MaxAttempts = %d, want 3", cfg.Ledger.MaxAttempts)
	}
}

func TestLoadReadsYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XZWALLET_HOME", home)
	yaml := `
log_level: debug
escrow:
  design_bps: 2500
  implementation_bps: 2500
  final_bps: 5000
  bid_ttl_minutes: 120
ledger:
  max_attempts: 5
`
	if err := os.WriteFile(ConfigPath(home), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NeedsGenesis {
		t.Error("NeedsGenesis set despite existing config")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Escrow.FinalBps != 5000 {
		t.Errorf("FinalBps = %d, want 5000", cfg.Escrow.FinalBps)
	}
	if cfg.Escrow.BidTTLMinutes != 120 {
		t.Errorf("BidTTLMinutes = %d, want 120", cfg.Escrow.BidTTLMinutes)
	}
	if cfg.Ledger.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Ledger.MaxAttempts)
	}
	// Unset fields keep their defaults.
	if cfg.Ledger.RetryBaseMS != 100 {
		t.Errorf("RetryBaseMS = %d, want 100", cfg.Ledger.RetryBaseMS)
	}
}

func TestLoadRejectsBadShares(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XZWALLET_HOME", home)
	yaml := `
escrow:
  design_bps: 4000
  implementation_bps: 4000
  final_bps: 4000
`
	if err := os.WriteFile(ConfigPath(home), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for shares summing to 12000")
	}
}

func TestEnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XZWALLET_HOME", home)
	t.Setenv("XZWALLET_LOG_LEVEL", "warn")
	t.Setenv("XZWALLET_DB_PATH", filepath.Join(home, "other.db"))
	t.Setenv("XZWALLET_BID_TTL_MINUTES", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.DBPath != filepath.Join(home, "other.db") {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Escrow.BidTTLMinutes != 30 {
		t.Errorf("BidTTLMinutes = %d, want 30", cfg.Escrow.BidTTLMinutes)
	}
}

func TestFingerprintStable(t *testing.T) {
	a := defaultConfig()
	a.HomeDir = "/tmp/x"
	b := a
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("identical configs produced different fingerprints")
	}
	b.Escrow.DesignBps = 1000
	b.Escrow.ImplementationBps = 7000
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("changed shares did not change fingerprint")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XZWALLET_HOME", home)

	cfg := defaultConfig()
	cfg.HomeDir = home
	cfg.LogLevel = "debug"
	if err := Save(home, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LogLevel != "debug" {
		t.Errorf("LogLevel = %q after round trip", got.LogLevel)
	}
}
