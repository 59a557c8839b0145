package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// Read reads and validates the config file at path. Relative paths in the file are taken
// relative to the file's directory.
func Read(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read config file")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	cfg, err := FromReader(path, f)
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// FromReader decodes and validates a config. path is only recorded.
func FromReader(path string, r io.Reader) (*Config, error) {
	cfg := &Config{ConfigFilePath: path}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolvePaths(dir string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	resolve(&c.ProfileFile)
	resolve(&c.Recorder.Dir)
	if c.Log.File != nil {
		resolve(&c.Log.File.Path)
	}
}
