package appconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CORECTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("core.addr", cfg.Core.Addr)
	v.SetDefault("core.dial_timeout_seconds", cfg.Core.DialTimeoutSeconds)
	v.SetDefault("core.call_timeout_seconds", cfg.Core.CallTimeoutSeconds)
	v.SetDefault("reconnect.delay_ms", cfg.Reconnect.DelayMS)
	v.SetDefault("reconnect.max_delay_ms", cfg.Reconnect.MaxDelayMS)
	v.SetDefault("reconnect.multiplier", cfg.Reconnect.Multiplier)
	v.SetDefault("reconnect.jitter", cfg.Reconnect.Jitter)
	v.SetDefault("connect.settings_file", cfg.Connect.SettingsFile)
	v.SetDefault("connect.config_file", cfg.Connect.ConfigFile)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("mock.tls_fragment", cfg.Mock.TLSFragment)
	v.SetDefault("mock.quic", cfg.Mock.QUIC)
	v.SetDefault("mock.ech", cfg.Mock.ECH)
	v.SetDefault("mock.schema_version", cfg.Mock.SchemaVersion)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Core.Addr) == "" {
		return fmt.Errorf("core.addr is required")
	}
	if cfg.Core.DialTimeoutSeconds < 0 {
		return fmt.Errorf("core.dial_timeout_seconds must not be negative")
	}
	if cfg.Core.CallTimeoutSeconds < 0 {
		return fmt.Errorf("core.call_timeout_seconds must not be negative")
	}
	if cfg.Reconnect.DelayMS < 0 || cfg.Reconnect.MaxDelayMS < 0 {
		return fmt.Errorf("reconnect delays must not be negative")
	}
	if cfg.Reconnect.Multiplier != 0 && cfg.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier must be at least 1")
	}
	if cfg.Reconnect.Jitter < 0 || cfg.Reconnect.Jitter > 1 {
		return fmt.Errorf("reconnect.jitter must be between 0 and 1")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Core.Addr = expandEnv(cfg.Core.Addr)
	cfg.Connect.SettingsFile = expandEnv(cfg.Connect.SettingsFile)
	cfg.Connect.ConfigFile = expandEnv(cfg.Connect.ConfigFile)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "HOME":
		if home, err := os.UserHomeDir(); err == nil {
			return home, true
		}
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
