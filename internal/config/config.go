package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultPort = 1059
	DefaultHost = "0.0.0.0"

	DefaultFileWriteDelay = 150 * time.Millisecond // Small delay to ensure file write is complete
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ShutdownTimeout: 10 * time.Second,
			Backend: BackendConfig{
				Driver: "memory",
			},
		},
		Multinode: MultinodeConfig{
			Retry: RetryConfig{
				Attempts: 3,
				Delay:    500 * time.Millisecond,
			},
			Health: HealthConfig{
				Interval:     5 * time.Second,
				Threshold:    5 * time.Second,
				ProbeTimeout: 5 * time.Second,
			},
			Redistribution: RedistributionConfig{
				Enabled:             true,
				IdleRebalanceFrac:   1.0,
				MaxClosePerRecovery: 100,
			},
			LoadAware: LoadAwareConfig{
				Enabled: true,
			},
		},
		Slots: SlotsConfig{
			Pool: SlotPoolConfig{
				Enabled:           true,
				Maximum:           10,
				MinimumIdle:       2,
				ConnectionTimeout: 30 * time.Second,
				IdleTimeout:       10 * time.Minute,
				MaxLifetime:       30 * time.Minute,
			},
			Segregation: SegregationConfig{
				Enabled:                 true,
				SlowPercentage:          20,
				IdleTimeout:             50 * time.Millisecond,
				SlowTimeout:             60 * time.Second,
				FastTimeout:             10 * time.Second,
				UpdateGlobalAvgInterval: 60 * time.Second,
			},
		},
		Sessions: SessionsConfig{
			CleanupEnabled:  true,
			TimeoutMinutes:  30,
			IntervalMinutes: 5,
		},
		XA: XAConfig{
			Enabled: false,
			Pool: XAPoolConfig{
				MaxTotal: 10,
				MinIdle:  2,
				MaxWait:  10 * time.Second,
			},
			PreparedStore: PreparedStoreConfig{
				Type:     "file",
				Path:     "./data/xa-prepared.log",
				Fsync:    true,
				Checksum: true,
			},
			DefaultTimeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Pretty:     false,
			FileOutput: false,
			LogDir:     "./logs",
			Theme:      "default",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
	}
}

// Load loads configuration from file and environment variables
func Load(onConfigChange func()) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("OJP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, check if we have OJP_CONFIG_FILE env var
		if configFile := os.Getenv("OJP_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			// Debounce rapid writes from editors
			if time.Since(lastReload) < DefaultFileWriteDelay {
				return
			}
			lastReload = time.Now()
			onConfigChange()
		})
	}

	return config, nil
}
