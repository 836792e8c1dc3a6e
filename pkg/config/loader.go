// Package config fills tagged structs from the environment, optionally
// seeded by dotenv files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type options struct {
	prefix      string
	dotenvFiles []string
	environ     map[string]string
}

// Option configures Load.
type Option func(*options)

// WithPrefix only reads variables starting with prefix; tags omit it.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithDotenv reads files in order for variables the environment does not
// set. Missing files are skipped; earlier files win.
func WithDotenv(files ...string) Option {
	return func(o *options) { o.dotenvFiles = append(o.dotenvFiles, files...) }
}

// WithEnvironment replaces the process environment as the source.
func WithEnvironment(environ map[string]string) Option {
	return func(o *options) { o.environ = environ }
}

// Load parses variables into cfg, a pointer to a struct with `env` tags.
// The process environment is never modified.
func Load(cfg any, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	environ := maps.Clone(o.environ)
	if environ == nil {
		environ = env.ToMap(os.Environ())
	}
	if err := mergeDotenv(environ, o.dotenvFiles); err != nil {
		return err
	}

	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ, Prefix: o.prefix}); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func mergeDotenv(environ map[string]string, files []string) error {
	for _, file := range files {
		vars, err := godotenv.Read(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		for k, v := range vars {
			if _, set := environ[k]; !set {
				environ[k] = v
			}
		}
	}
	return nil
}
