package common

import (
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can express intervals as
// human-readable strings ("30s", "1h30m") in YAML, JSON and TOML alike.
type Duration struct {
	time.Duration
}

// NewDuration builds a Duration from a time.Duration.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText implements encoding.TextUnmarshaler.
// encoding/json and BurntSushi/toml both route string values through it.
func (d *Duration) UnmarshalText(data []byte) error {
	parsed, err := time.ParseDuration(string(data))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler (yaml.v3 ignores TextUnmarshaler).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(raw))
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// JSONSchema provides the schema representation used by config tooling.
func (d Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Title:       "Duration",
		Description: "Duration expressed in units of time, e.g. \"300ms\", \"1m\", \"1h30m\"",
		Examples:    []interface{}{"300ms", "30s", "1m", "1h30m"},
	}
}
