package storage

import "time"

// PostgresConfig collects the tunables for the Postgres-backed graph store.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
	Now                 func() time.Time
}

func newPostgresConfig(dsn string, opts ...Option) PostgresConfig {
	cfg := PostgresConfig{
		DSN:            dsn,
		MinConnections: -1,
		Now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt.applyPostgres(&cfg)
	}
	return cfg
}
