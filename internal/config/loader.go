package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	pkgconfig "github.com/evmproc-dev/evmproc/pkg/config"
	"gopkg.in/yaml.v3"
)

// decodeFunc parses raw file contents into a processor config.
type decodeFunc func(data []byte, cfg *pkgconfig.Config) error

// decoders maps file extensions to their parser. TOML, YAML and JSON all
// reach the same Config struct; common.Duration keeps interval fields
// human-readable in every format.
var decoders = map[string]decodeFunc{
	".yaml": decodeYAML,
	".yml":  decodeYAML,
	".json": decodeJSON,
	".toml": decodeTOML,
}

// LoadFromFile loads a processor configuration, auto-detecting the format
// by extension, then applies defaults and validates the result. The
// returned config is ready to hand to the processor and the store.
func LoadFromFile(path string) (*pkgconfig.Config, error) {
	decode, ok := decoders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json, .toml)",
			filepath.Ext(path))
	}
	return load(path, decode)
}

// LoadFromYAML loads configuration from a YAML file.
func LoadFromYAML(path string) (*pkgconfig.Config, error) {
	return load(path, decodeYAML)
}

// LoadFromJSON loads configuration from a JSON file.
func LoadFromJSON(path string) (*pkgconfig.Config, error) {
	return load(path, decodeJSON)
}

// LoadFromTOML loads configuration from a TOML file.
func LoadFromTOML(path string) (*pkgconfig.Config, error) {
	return load(path, decodeTOML)
}

func load(path string, decode decodeFunc) (*pkgconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg pkgconfig.Config
	if err := decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(path), err)
	}

	// Defaults first, then validation: a file that only names its data
	// sources and database path is complete.
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func decodeYAML(data []byte, cfg *pkgconfig.Config) error {
	return yaml.Unmarshal(data, cfg)
}

func decodeJSON(data []byte, cfg *pkgconfig.Config) error {
	return json.Unmarshal(data, cfg)
}

func decodeTOML(data []byte, cfg *pkgconfig.Config) error {
	return toml.Unmarshal(data, cfg)
}
