// Package config provides configuration management for substrate.
// It handles loading and validating configuration from YAML files and
// environment variables.
package config

import "time"

// AppConfig represents the complete application configuration
type AppConfig struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Access   AccessConfig   `koanf:"access"`
	Sessions SessionsConfig `koanf:"sessions"`
	Call     CallConfig     `koanf:"call"`
	Mounts   []MountConfig  `koanf:"mounts"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	ListenAddr     string        `koanf:"listen_addr"`
	ExternalURL    string        `koanf:"external_url"`
	CertFile       string        `koanf:"cert_file"`
	KeyFile        string        `koanf:"key_file"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	RateLimit      float64       `koanf:"rate_limit"`
	RateBurst      int           `koanf:"rate_burst"`
	MaxBodyBytes   int64         `koanf:"max_body_bytes"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	ListenAddr string `koanf:"listen_addr"`
}

// AccessConfig holds permission engine configuration
type AccessConfig struct {
	// AnonymousRoles are granted to every principal, signed in or not.
	AnonymousRoles []string `koanf:"anonymous_roles"`
}

// SessionsConfig holds session store configuration
type SessionsConfig struct {
	Store         string        `koanf:"store"` // "memory" or "redis"
	MaxIdle       time.Duration `koanf:"max_idle"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
}

// CallConfig holds invocation engine configuration
type CallConfig struct {
	MaxDelay      time.Duration `koanf:"max_delay"`
	ScriptTimeout time.Duration `koanf:"script_timeout"`
}

// MountConfig describes one storage layer attached to the virtual tree.
type MountConfig struct {
	Prefix   string `koanf:"prefix"`
	Type     string `koanf:"type"` // "memory", "localfs", "sqlite", "postgres" or "s3"
	Priority int    `koanf:"priority"`
	Writable bool   `koanf:"writable"`

	// Path is the directory (localfs) or database file (sqlite).
	Path string `koanf:"path"`
	// DSN is the connection string for postgres layers.
	DSN string `koanf:"dsn"`

	S3AccessKey string `koanf:"s3_access_key"`
	S3SecretKey string `koanf:"s3_secret_key"`
	S3Region    string `koanf:"s3_region"`
	S3Bucket    string `koanf:"s3_bucket"`
	S3Endpoint  string `koanf:"s3_endpoint"`
	S3KeyPrefix string `koanf:"s3_key_prefix"`
}
