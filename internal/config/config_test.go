package config

import "testing"

func TestDefaults(t *testing.T) {
	cfg := defaults()
	if cfg.VendorID != 0x04E8 {
		t.Errorf("got vendor id 0x%04x, want 0x04E8", cfg.VendorID)
	}
	if cfg.ReadBurstSize != 0x1000 {
		t.Errorf("got read burst size 0x%x, want 0x1000", cfg.ReadBurstSize)
	}
}

func TestSetFieldVendorIDHex(t *testing.T) {
	cfg := defaults()
	setField(&cfg, "ODIN_VENDOR_ID", "0x1234")
	if cfg.VendorID != 0x1234 {
		t.Errorf("got 0x%04x, want 0x1234", cfg.VendorID)
	}
}

func TestSetFieldTimeoutMs(t *testing.T) {
	cfg := defaults()
	setField(&cfg, "ODIN_FINALIZE_TIMEOUT_MS", "60000")
	if cfg.FinalizeTimeout.Seconds() != 60 {
		t.Errorf("got %v, want 60s", cfg.FinalizeTimeout)
	}
}

func TestParseEnvFileIgnoresCommentsAndBlankLines(t *testing.T) {
	cfg := defaults()
	parseEnvFile("# a comment\n\nODIN_VENDOR_ID=0xABCD\n", &cfg)
	if cfg.VendorID != 0xABCD {
		t.Errorf("got 0x%04x, want 0xABCD", cfg.VendorID)
	}
}
