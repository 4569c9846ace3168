package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// AppDir is the per-workspace state directory holding the index database.
const AppDir = ".code-ledger"

// ConfigFile is the optional workspace configuration file.
const ConfigFile = ".code-ledger.toml"

// DefaultExtensions are the source extensions indexed when a workspace does
// not configure its own set.
var DefaultExtensions = []string{".ts", ".tsx", ".mts", ".cts", ".js", ".jsx", ".mjs", ".cjs"}

// Config is the workspace-level configuration, loadable from
// .code-ledger.toml and overridable by the caller.
type Config struct {
	Extensions     []string `toml:"extensions"`
	IgnorePatterns []string `toml:"ignore"`
	ParseCacheSize int      `toml:"parse_cache_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Extensions:     append([]string{}, DefaultExtensions...),
		ParseCacheSize: 500,
	}
}

// Load reads the workspace config file and merges it over the defaults. A
// missing file yields the defaults; a malformed file is an error so typos do
// not silently change what gets indexed.
func Load(workspaceRoot string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filepath.Join(workspaceRoot, ConfigFile))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var fileCfg Config
	if err := toml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, err
	}

	if len(fileCfg.Extensions) > 0 {
		cfg.Extensions = fileCfg.Extensions
	}
	if len(fileCfg.IgnorePatterns) > 0 {
		cfg.IgnorePatterns = fileCfg.IgnorePatterns
	}
	if fileCfg.ParseCacheSize > 0 {
		cfg.ParseCacheSize = fileCfg.ParseCacheSize
	}
	return cfg, nil
}
