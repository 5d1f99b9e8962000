package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from a small set of built-in defaults, path (if
// non-empty), and environment variables prefixed PATHLENS_, in that order of
// increasing precedence.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("traceroute.max_hops", 30)
	v.SetDefault("traceroute.max_wait_ms", 1000)
	v.SetDefault("ping.count", 4)
	v.SetDefault("ping.interval_ms", 1000)
	v.SetDefault("multipath.attempts", 20)
	v.SetDefault("asn.cache_capacity", 2048)
	v.SetDefault("rdns.cache_capacity", 4096)
	v.SetDefault("rdns.ttl_minutes", 10)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	v.SetEnvPrefix("pathlens")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}
