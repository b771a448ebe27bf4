package config

import "time"

// DefaultAppConfig returns an AppConfig struct with sensible default values
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			ListenAddr:     ":8080",
			ExternalURL:    "http://localhost:8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			RequestTimeout: 60 * time.Second,
			RateLimit:      100,
			RateBurst:      20,
			MaxBodyBytes:   32 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9090",
		},
		Access: AccessConfig{
			AnonymousRoles: nil,
		},
		Sessions: SessionsConfig{
			Store:         "memory",
			MaxIdle:       time.Hour,
			SweepInterval: 5 * time.Minute,
			RedisAddr:     "localhost:6379",
		},
		Call: CallConfig{
			MaxDelay:      time.Hour,
			ScriptTimeout: 30 * time.Second,
		},
		Mounts: []MountConfig{
			{
				Prefix:   "/",
				Type:     "memory",
				Priority: 0,
				Writable: true,
			},
		},
	}
}
