package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/substratehq/substrate/internal/vpath"
)

// LoadConfig loads configuration from multiple sources with strict priority:
// 1. Environment variables (highest priority)
// 2. Config file (config.yaml or config.json)
// 3. Defaults (lowest priority)
func LoadConfig() (AppConfig, error) {
	return LoadConfigFromFile("")
}

// LoadConfigFromFile loads configuration from multiple sources with a specific config file:
// 1. Environment variables (highest priority)
// 2. Specified config file or default config files
// 3. Defaults (lowest priority)
func LoadConfigFromFile(configFilePath string) (AppConfig, error) {
	k := koanf.New(".")

	// Load default configuration first
	defaultCfg := DefaultAppConfig()
	if err := k.Load(structs.Provider(defaultCfg, "koanf"), nil); err != nil {
		return AppConfig{}, fmt.Errorf("failed to load default config: %w", err)
	}

	// Load from config file
	if configFilePath != "" {
		// Use specified config file
		if _, err := os.Stat(configFilePath); err != nil {
			return AppConfig{}, fmt.Errorf("specified config file %s not found: %w", configFilePath, err)
		}
		if err := k.Load(file.Provider(configFilePath), parserFor(configFilePath)); err != nil {
			return AppConfig{}, fmt.Errorf("failed to load config file %s: %w", configFilePath, err)
		}
	} else {
		// Load from default config files if they exist
		configFiles := []string{"config.yaml", "config.yml", "config.json"}
		for _, configFile := range configFiles {
			if _, err := os.Stat(configFile); err == nil {
				if err := k.Load(file.Provider(configFile), parserFor(configFile)); err != nil {
					return AppConfig{}, fmt.Errorf("failed to load config file %s: %w", configFile, err)
				}
				break
			}
		}
	}

	// Load environment variables with SUBSTRATE_ prefix
	if err := k.Load(env.Provider("SUBSTRATE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "SUBSTRATE_")), "_", ".", -1)
	}), nil); err != nil {
		return AppConfig{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal into config struct
	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate required fields
	if err := validateConfig(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func parserFor(path string) koanf.Parser {
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return yaml.Parser()
	}
	return json.Parser()
}

// validateConfig validates that required configuration fields are set
func validateConfig(cfg *AppConfig) error {
	if cfg.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}

	if len(cfg.Mounts) == 0 {
		return fmt.Errorf("at least one mount is required")
	}
	for i, m := range cfg.Mounts {
		p, err := vpath.Parse(m.Prefix)
		if err != nil || !p.IsIndex() {
			return fmt.Errorf("mounts[%d].prefix %q is not an index path", i, m.Prefix)
		}
		switch m.Type {
		case "memory":
		case "localfs", "sqlite":
			if m.Path == "" {
				return fmt.Errorf("mounts[%d]: %s mount requires path", i, m.Type)
			}
		case "postgres":
			if m.DSN == "" {
				return fmt.Errorf("mounts[%d]: postgres mount requires dsn", i)
			}
		case "s3":
			if m.S3Bucket == "" {
				return fmt.Errorf("mounts[%d]: s3 mount requires s3_bucket", i)
			}
		default:
			return fmt.Errorf("mounts[%d]: unknown mount type %q", i, m.Type)
		}
	}

	switch cfg.Sessions.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("sessions.store must be \"memory\" or \"redis\"")
	}
	if cfg.Sessions.MaxIdle <= 0 {
		return fmt.Errorf("sessions.max_idle must be positive")
	}

	if cfg.Call.MaxDelay <= 0 {
		return fmt.Errorf("call.max_delay must be positive")
	}

	return nil
}
