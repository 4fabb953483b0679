package types

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds connection parameters for Store.Connect and Store.ConnectPool.
type Config struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode"`

	// Pool bounds, used only by ConnectPool.
	MinConns int `json:"min_conns" yaml:"min_conns"`
	MaxConns int `json:"max_conns" yaml:"max_conns"`

	// AcquireTimeout bounds the wait for a pooled connection. Zero means
	// DefaultAcquireTimeout.
	AcquireTimeout time.Duration `json:"acquire_timeout" yaml:"acquire_timeout"`

	// SchemaCacheTTL bounds the staleness of cached column metadata.
	// Zero means DefaultSchemaCacheTTL; negative disables expiry.
	SchemaCacheTTL time.Duration `json:"schema_cache_ttl" yaml:"schema_cache_ttl"`
}

// Defaults applied by Validate and the backend.
const (
	DefaultPort           = 5432
	DefaultMinConns       = 1
	DefaultMaxConns       = 5
	DefaultAcquireTimeout = 5 * time.Second
	DefaultSchemaCacheTTL = 300 * time.Second
)

// Validate checks that the Config is well-formed, returning a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Host == "" {
		return ErrHostEmpty
	}
	if c.Database == "" {
		return ErrDatabaseEmpty
	}
	min, max := c.MinConns, c.MaxConns
	if min == 0 {
		min = DefaultMinConns
	}
	if max == 0 {
		max = DefaultMaxConns
	}
	if min < 1 || min > max {
		return ErrPoolBounds
	}
	return nil
}

// DSN renders the Config as a postgres:// connection URL suitable for pgx.
func (c Config) DSN() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, port),
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	if c.SSLMode != "" {
		q := url.Values{}
		q.Set("sslmode", c.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}
