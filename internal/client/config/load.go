package config

import (
	"bytes"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/haxwithaxe/certdeploy-go/internal/certdeploy"
)

// Overrides carries the CLI/environment overrides that win over whatever
// the config file says, applied after decode and before validation.
type Overrides struct {
	LogLevel    string
	LogFilename string
}

// Load reads, strictly decodes, and validates the client config at filename.
func Load(filename string, overrides Overrides) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, certdeploy.ConfigInvalidPath("config", filename, "exist and be readable")
	}

	var raw configYAML
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil {
		return nil, certdeploy.ConfigError("failed to parse %s: %s", filename, err)
	}

	if overrides.LogLevel != "" {
		raw.LogLevel = overrides.LogLevel
	}
	if overrides.LogFilename != "" {
		raw.LogFilename = overrides.LogFilename
	}

	return newConfig(raw)
}
