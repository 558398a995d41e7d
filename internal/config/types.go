package config

import "time"

// Config is the full configuration surface of one proxy node plus the
// multinode client settings it hands to drivers.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Multinode MultinodeConfig `mapstructure:"multinode"`
	Slots     SlotsConfig     `mapstructure:"slots"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	XA        XAConfig        `mapstructure:"xa"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TLS             TLSConfig     `mapstructure:"tls"`
	Backend         BackendConfig `mapstructure:"backend"`
}

type BackendConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// MultinodeConfig drives the client-side routing core.
type MultinodeConfig struct {
	Retry          RetryConfig          `mapstructure:"retry"`
	Health         HealthConfig         `mapstructure:"health"`
	Redistribution RedistributionConfig `mapstructure:"redistribution"`
	LoadAware      LoadAwareConfig      `mapstructure:"load_aware"`
}

type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
}

type HealthConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Threshold    time.Duration `mapstructure:"threshold"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

type RedistributionConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	IdleRebalanceFrac   float64 `mapstructure:"idle_rebalance_fraction"`
	MaxClosePerRecovery int     `mapstructure:"max_close_per_recovery"`
}

type LoadAwareConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SlotsConfig configures the per-datasource execution slot scheduler.
type SlotsConfig struct {
	Pool        SlotPoolConfig   `mapstructure:"pool"`
	Segregation SegregationConfig `mapstructure:"segregation"`
}

type SlotPoolConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Maximum           int           `mapstructure:"maximum"`
	MinimumIdle       int           `mapstructure:"minimum_idle"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	MaxLifetime       time.Duration `mapstructure:"max_lifetime"`
}

type SegregationConfig struct {
	Enabled                 bool          `mapstructure:"enabled"`
	SlowPercentage          int           `mapstructure:"slow_percentage"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	SlowTimeout             time.Duration `mapstructure:"slow_timeout"`
	FastTimeout             time.Duration `mapstructure:"fast_timeout"`
	UpdateGlobalAvgInterval time.Duration `mapstructure:"update_global_avg_interval"`
}

type SessionsConfig struct {
	CleanupEnabled bool `mapstructure:"cleanup_enabled"`
	TimeoutMinutes int  `mapstructure:"timeout_minutes"`
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

type XAConfig struct {
	Enabled        bool                `mapstructure:"enabled"`
	Pool           XAPoolConfig        `mapstructure:"pool"`
	PreparedStore  PreparedStoreConfig `mapstructure:"prepared_store"`
	DefaultTimeout time.Duration       `mapstructure:"transaction_default_timeout"`
}

type XAPoolConfig struct {
	MaxTotal int           `mapstructure:"max_total"`
	MinIdle  int           `mapstructure:"min_idle"`
	MaxWait  time.Duration `mapstructure:"max_wait"`
}

type PreparedStoreConfig struct {
	Type     string `mapstructure:"type"` // "file" or "memory"
	Path     string `mapstructure:"path"`
	Fsync    bool   `mapstructure:"fsync"`
	Checksum bool   `mapstructure:"checksum"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Pretty     bool   `mapstructure:"pretty"`
	FileOutput bool   `mapstructure:"file_output"`
	LogDir     string `mapstructure:"log_dir"`
	Theme      string `mapstructure:"theme"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}
