package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds host-side ODIN client tunables: which USB vendor to look
// for, and how long to wait for device acknowledgements at each tier.
type Config struct {
	VendorID        uint16
	ReadTimeout     time.Duration
	FinalizeTimeout time.Duration
	LongTimeout     time.Duration
	ReadBurstSize   int
}

func defaults() Config {
	return Config{
		VendorID:        0x04E8,
		ReadTimeout:     5 * time.Second,
		FinalizeTimeout: 120 * time.Second,
		LongTimeout:     600 * time.Second,
		ReadBurstSize:   0x1000,
	}
}

// Defaults returns the built-in tunables with no .env or environment
// override applied. Callers that need a Config without going through Load
// (tests, or a Session/Discover caller with no loaded config) use this.
func Defaults() Config {
	return defaults()
}

var (
	loaded     *Config
	loadedOnce bool
)

// Load reads config from a .env file found by walking up from the current
// directory to the module root, then applies ODIN_* environment variable
// overrides. Subsequent calls return the cached result.
func Load() (*Config, error) {
	if loaded != nil && loadedOnce {
		return loaded, nil
	}

	cfg := defaults()

	projectRoot := findProjectRoot()
	envPath := filepath.Join(projectRoot, ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), &cfg)
	}

	applyEnvOverrides(&cfg)

	loaded = &cfg
	loadedOnce = true
	return loaded, nil
}

func parseEnvFile(content string, cfg *Config) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		setField(cfg, strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, key := range []string{
		"ODIN_VENDOR_ID", "ODIN_READ_TIMEOUT_MS", "ODIN_FINALIZE_TIMEOUT_MS",
		"ODIN_LONG_TIMEOUT_MS", "ODIN_READ_BURST_SIZE",
	} {
		if v := os.Getenv(key); v != "" {
			setField(cfg, key, v)
		}
	}
}

func setField(cfg *Config, key, value string) {
	switch key {
	case "ODIN_VENDOR_ID":
		if n, err := strconv.ParseUint(strings.TrimPrefix(value, "0x"), 16, 16); err == nil {
			cfg.VendorID = uint16(n)
		}
	case "ODIN_READ_TIMEOUT_MS":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.ReadTimeout = time.Duration(n) * time.Millisecond
		}
	case "ODIN_FINALIZE_TIMEOUT_MS":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.FinalizeTimeout = time.Duration(n) * time.Millisecond
		}
	case "ODIN_LONG_TIMEOUT_MS":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.LongTimeout = time.Duration(n) * time.Millisecond
		}
	case "ODIN_READ_BURST_SIZE":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.ReadBurstSize = n
		}
	}
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}
