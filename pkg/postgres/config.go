package postgres

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

// envPrefix namespaces environment overrides, e.g. TABULA_HOST,
// TABULA_MAX_CONNS.
const envPrefix = "TABULA"

// LoadConfig reads connection settings from a YAML file, applying
// environment overrides and defaults, and validates the result. An empty
// path skips the file and uses environment plus defaults alone.
func LoadConfig(path string) (types.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", types.DefaultPort)
	v.SetDefault("ssl_mode", "prefer")
	v.SetDefault("min_conns", types.DefaultMinConns)
	v.SetDefault("max_conns", types.DefaultMaxConns)
	v.SetDefault("acquire_timeout", types.DefaultAcquireTimeout)
	v.SetDefault("schema_cache_ttl", types.DefaultSchemaCacheTTL)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return types.Config{}, fmt.Errorf("reading config %q: %w", path, err)
		}
	}

	cfg := types.Config{
		Host:           v.GetString("host"),
		Port:           v.GetInt("port"),
		Database:       v.GetString("database"),
		User:           v.GetString("user"),
		Password:       v.GetString("password"),
		SSLMode:        v.GetString("ssl_mode"),
		MinConns:       v.GetInt("min_conns"),
		MaxConns:       v.GetInt("max_conns"),
		AcquireTimeout: v.GetDuration("acquire_timeout"),
		SchemaCacheTTL: v.GetDuration("schema_cache_ttl"),
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}
