// Package config loads cmd/idlstored's configuration: the store's path,
// pool size, and declared index metadata, from a TOML file plus
// environment overrides via viper.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/dirserve/idlstore/internal/types"
)

// Config is the outer CLI's resolved configuration.
type Config struct {
	// DBPath is the store's file path; "" selects an ephemeral in-memory
	// store.
	DBPath string
	// PoolSize is the number of pooled connections; forced to 1 when
	// DBPath is "".
	PoolSize int
	// Indexes is the declared index metadata, read from the config
	// file's [[index]] array of tables.
	Indexes types.IndexMeta
}

type fileIndex struct {
	Attr string `toml:"attr"`
	Kind string `toml:"kind"`
}

type fileConfig struct {
	DBPath   string      `toml:"db_path"`
	PoolSize int         `toml:"pool_size"`
	Index    []fileIndex `toml:"index"`
}

// Load reads configuration from path (a TOML file, parsed with
// BurntSushi/toml), then applies IDLSTORE_-prefixed environment overrides
// for db_path and pool_size via viper.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc fileConfig
	if _, err := toml.Decode(string(data), &fc); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	v := viper.New()
	v.SetEnvPrefix("idlstore")
	v.AutomaticEnv()
	v.SetDefault("db_path", fc.DBPath)
	if fc.PoolSize > 0 {
		v.SetDefault("pool_size", fc.PoolSize)
	} else {
		v.SetDefault("pool_size", 4)
	}
	fc.DBPath = v.GetString("db_path")
	fc.PoolSize = v.GetInt("pool_size")

	meta := make(types.IndexMeta, 0, len(fc.Index))
	for _, idx := range fc.Index {
		kind, ok := types.ParseIndexKind(strings.ToLower(idx.Kind))
		if !ok {
			return Config{}, fmt.Errorf("config: index %q: unrecognised kind %q", idx.Attr, idx.Kind)
		}
		ref := types.IndexRef{Attr: idx.Attr, Kind: kind}
		if meta.Contains(ref) {
			return Config{}, fmt.Errorf("config: index %q declared more than once for kind %q", idx.Attr, idx.Kind)
		}
		meta = append(meta, ref)
	}

	poolSize := fc.PoolSize
	if fc.DBPath == "" {
		poolSize = 1
	}
	if poolSize < 1 {
		poolSize = 1
	}

	return Config{DBPath: fc.DBPath, PoolSize: poolSize, Indexes: meta}, nil
}
