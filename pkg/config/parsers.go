package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"strings"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr    string
	Backend string
	Journal string
	Config  string
	Set     map[string]bool
}

// EffectiveConfigResult is the merged view of flags, env, and config file
// that the rest of the process consumes.
type EffectiveConfigResult struct {
	Config     *Config
	Addr       string
	BackendURL string
	Journal    string
	Source     string // "flags", "config", or "env"
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	backendPtr := flag.String("backend", "", "Backend API base URL")
	journalPtr := flag.String("journal", "./.journal", "Event journal path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, Backend: *backendPtr, Journal: *journalPtr, Config: *cfgPtr, Set: setFlags}
}

// ResolveConfigPath picks the config path: an explicitly set flag wins over
// the CHATRELAY_CONFIG env var, which wins over the flag default.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv("CHATRELAY_CONFIG"); v != "" {
		return v
	}
	return flagVal
}

// ParseConfigFile resolves the config path and loads the YAML file. It
// returns the parsed config, whether the file was present, and an error for
// fatal parsing problems.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseConfigEnvs reads CHATRELAY_* environment variables into a fresh
// Config and reports whether any were present. It does not mutate any
// caller-provided config.
func ParseConfigEnvs() (*Config, bool) {
	envCfg := &Config{}
	envUsed := false

	if v := os.Getenv("CHATRELAY_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			envCfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				envCfg.Server.Port = pi
			}
		} else {
			envCfg.Server.Address = v
		}
	} else {
		if host := os.Getenv("CHATRELAY_SERVER_ADDRESS"); host != "" {
			envUsed = true
			envCfg.Server.Address = host
		}
		if port := os.Getenv("CHATRELAY_SERVER_PORT"); port != "" {
			envUsed = true
			if pi, err := strconv.Atoi(port); err == nil {
				envCfg.Server.Port = pi
			}
		}
	}

	// BACKEND_API_URL is honored as a fallback name for parity with the
	// serverless deployments this gateway replaces.
	if v := os.Getenv("CHATRELAY_BACKEND_URL"); v != "" {
		envUsed = true
		envCfg.Backend.BaseURL = v
	} else if v := os.Getenv("BACKEND_API_URL"); v != "" {
		envUsed = true
		envCfg.Backend.BaseURL = v
	}
	if v := os.Getenv("CHATRELAY_BACKEND_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			envCfg.Backend.TimeoutSeconds = n
		}
	}

	if v := os.Getenv("CHATRELAY_JOURNAL_PATH"); v != "" {
		envUsed = true
		envCfg.Journal.Enabled = true
		envCfg.Journal.Path = v
	}

	if v := os.Getenv("CHATRELAY_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			envCfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("CHATRELAY_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			envCfg.Security.RateLimit.Burst = n
		}
	}

	if v := os.Getenv("CHATRELAY_LOG_LEVEL"); v != "" {
		envUsed = true
		envCfg.Logging.Level = v
	}

	return envCfg, envUsed
}

// mergeConfig overlays src onto dst, field by field, where src has a value.
func mergeConfig(dst, src *Config) {
	if src.Server.Address != "" {
		dst.Server.Address = src.Server.Address
	}
	if src.Server.Port != 0 {
		dst.Server.Port = src.Server.Port
	}
	if src.Backend.BaseURL != "" {
		dst.Backend.BaseURL = src.Backend.BaseURL
	}
	if src.Backend.TimeoutSeconds != 0 {
		dst.Backend.TimeoutSeconds = src.Backend.TimeoutSeconds
	}
	if src.Transport.RetryThreshold != 0 {
		dst.Transport.RetryThreshold = src.Transport.RetryThreshold
	}
	if src.Transport.RetryBaseDelaySecs != 0 {
		dst.Transport.RetryBaseDelaySecs = src.Transport.RetryBaseDelaySecs
	}
	if src.Transport.RetryMaxDelaySecs != 0 {
		dst.Transport.RetryMaxDelaySecs = src.Transport.RetryMaxDelaySecs
	}
	if src.Transport.PollIntervalSeconds != 0 {
		dst.Transport.PollIntervalSeconds = src.Transport.PollIntervalSeconds
	}
	if src.Journal.Path != "" {
		dst.Journal.Enabled = dst.Journal.Enabled || src.Journal.Enabled
		dst.Journal.Path = src.Journal.Path
	}
	if src.Security.RateLimit.RPS != 0 {
		dst.Security.RateLimit.RPS = src.Security.RateLimit.RPS
	}
	if src.Security.RateLimit.Burst != 0 {
		dst.Security.RateLimit.Burst = src.Security.RateLimit.Burst
	}
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
}

// LoadEffective merges config file, environment, and flags (flags win, then
// env, then file) into the effective configuration the process runs with.
func LoadEffective(flags Flags) (EffectiveConfigResult, error) {
	fileCfg, filePresent, err := ParseConfigFile(flags)
	if err != nil {
		return EffectiveConfigResult{}, err
	}
	envCfg, envUsed := ParseConfigEnvs()

	cfg := &Config{}
	if filePresent {
		mergeConfig(cfg, fileCfg)
	}
	if envUsed {
		mergeConfig(cfg, envCfg)
	}

	source := "config"
	if !filePresent && envUsed {
		source = "env"
	}

	addr := cfg.Addr()
	if flags.Set["addr"] {
		addr = flags.Addr
		source = "flags"
	}
	backend := cfg.Backend.BaseURL
	if flags.Set["backend"] {
		backend = flags.Backend
		source = "flags"
	}
	journal := cfg.Journal.Path
	if flags.Set["journal"] {
		journal = flags.Journal
		cfg.Journal.Enabled = true
		source = "flags"
	}
	if journal == "" {
		journal = flags.Journal
	}

	return EffectiveConfigResult{Config: cfg, Addr: addr, BackendURL: backend, Journal: journal, Source: source}, nil
}
