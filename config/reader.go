package config

import (
	"bytes"
	"io"
	"os"

	"github.com/a8m/envsubst"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the machine section.
const (
	EnvAddress  = "VIAM_ADDRESS"
	EnvAPIKey   = "VIAM_API_KEY"
	EnvAPIKeyID = "VIAM_API_KEY_ID"
	EnvPartID   = "VIAM_PART_ID"
)

// Read reads the config file at path, substituting ${VAR} references from the
// environment, then applies the environment overrides. An empty path starts from an
// empty config. The result is not validated.
func Read(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		buf, err := envsubst.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config %q", path)
		}
		if cfg, err = FromReader(bytes.NewReader(buf)); err != nil {
			return nil, errors.Wrapf(err, "parsing config %q", path)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// FromReader decodes a YAML or JSON config. Unknown fields are rejected.
func FromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(err, "loading %q", p)
		}
	}
	return nil
}

// ApplyEnv overrides the machine credentials and part id with the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Machine.Host, EnvAddress)
	set(&c.Machine.APIKey, EnvAPIKey)
	set(&c.Machine.APIKeyID, EnvAPIKeyID)
	set(&c.Training.PartID, EnvPartID)
}
