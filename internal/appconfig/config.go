package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pppwaw/white-label-airport-core/core"
	"github.com/pppwaw/white-label-airport-core/internal/coregrpc"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int             `mapstructure:"config_version" yaml:"config_version"`
	Core          CoreConfig      `mapstructure:"core" yaml:"core"`
	Reconnect     ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
	Connect       ConnectConfig   `mapstructure:"connect" yaml:"connect"`
	Metrics       MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Mock          MockConfig      `mapstructure:"mock" yaml:"mock"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// CoreConfig locates the core service.
type CoreConfig struct {
	Addr               string `mapstructure:"addr" yaml:"addr"`
	DialTimeoutSeconds int    `mapstructure:"dial_timeout_seconds" yaml:"dial_timeout_seconds"`
	CallTimeoutSeconds int    `mapstructure:"call_timeout_seconds" yaml:"call_timeout_seconds"`
}

// ReconnectConfig controls the state stream reconnect delay.
type ReconnectConfig struct {
	DelayMS    int     `mapstructure:"delay_ms" yaml:"delay_ms"`
	MaxDelayMS int     `mapstructure:"max_delay_ms" yaml:"max_delay_ms"`
	Multiplier float64 `mapstructure:"multiplier" yaml:"multiplier"`
	Jitter     float64 `mapstructure:"jitter" yaml:"jitter"`
}

// ConnectConfig names the documents used by connect when no flag is given.
type ConnectConfig struct {
	SettingsFile string `mapstructure:"settings_file" yaml:"settings_file"`
	ConfigFile   string `mapstructure:"config_file" yaml:"config_file"`
}

// MetricsConfig controls the Prometheus endpoint served by watch.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// MockConfig controls what the mock core advertises.
type MockConfig struct {
	TLSFragment   bool   `mapstructure:"tls_fragment" yaml:"tls_fragment"`
	QUIC          bool   `mapstructure:"quic" yaml:"quic"`
	ECH           bool   `mapstructure:"ech" yaml:"ech"`
	SchemaVersion string `mapstructure:"schema_version" yaml:"schema_version"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Core: CoreConfig{
			Addr:               coregrpc.DefaultAddr,
			DialTimeoutSeconds: 5,
			CallTimeoutSeconds: 0,
		},
		Reconnect: ReconnectConfig{
			DelayMS:    int(core.DefaultReconnectDelay / time.Millisecond),
			MaxDelayMS: int(core.DefaultReconnectMaxDelay / time.Millisecond),
			Multiplier: 1,
			Jitter:     0,
		},
		Connect: ConnectConfig{},
		Metrics: MetricsConfig{},
		Mock: MockConfig{
			TLSFragment:   true,
			QUIC:          true,
			ECH:           false,
			SchemaVersion: "1",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".corectl", "config.yaml"), nil
}

// ClientConfig returns the gRPC client settings.
func (c Config) ClientConfig() coregrpc.Config {
	return coregrpc.Config{
		Addr:        c.Core.Addr,
		DialTimeout: time.Duration(c.Core.DialTimeoutSeconds) * time.Second,
		CallTimeout: time.Duration(c.Core.CallTimeoutSeconds) * time.Second,
	}
}

// ServerConfig returns the mock core settings.
func (c Config) ServerConfig() coregrpc.Config {
	cfg := c.ClientConfig()
	cfg.Capabilities = coregrpc.CapabilitiesConfig{
		TLSFragment:   c.Mock.TLSFragment,
		QUIC:          c.Mock.QUIC,
		ECH:           c.Mock.ECH,
		SchemaVersion: c.Mock.SchemaVersion,
	}
	return cfg
}

// ReconnectPolicy returns the subscriber reconnect policy.
func (c Config) ReconnectPolicy() core.ReconnectPolicy {
	return core.ReconnectPolicy{
		Delay:      time.Duration(c.Reconnect.DelayMS) * time.Millisecond,
		MaxDelay:   time.Duration(c.Reconnect.MaxDelayMS) * time.Millisecond,
		Multiplier: c.Reconnect.Multiplier,
		Jitter:     c.Reconnect.Jitter,
	}.Normalize()
}
