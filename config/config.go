// Package config loads the relay configuration: listener, auth token, REPL invocation and the device registry.
// Files may be TOML or YAML, selected by extension. The registry is read-only once loaded.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr = "0.0.0.0:8080"
	DefaultCommand    = "atvremote"
	DefaultPrompt     = "pyatv > "
	DefaultSessionID  = "replrelay"

	// DefaultFileName is the file FindConfig looks for.
	DefaultFileName = "replrelay.toml"
)

// Device is a remote device the REPL binary can connect to.
type Device struct {
	Name        string `toml:"name" yaml:"name"`
	Address     string `toml:"address" yaml:"address"`
	Port        int    `toml:"port" yaml:"port"`
	Credentials string `toml:"credentials" yaml:"credentials"`
}

// REPL describes how to invoke the external prompt-driven binary.
type REPL struct {
	// Command is the binary to run, e.g. "atvremote".
	Command string `toml:"command" yaml:"command"`
	// Args are prepended before the connection flags.
	Args []string `toml:"args" yaml:"args"`
	// Prompt is the marker the binary prints when it is ready for the next line.
	Prompt string `toml:"prompt" yaml:"prompt"`
	// SessionID is the fixed identifier passed with --id.
	SessionID string `toml:"session_id" yaml:"session_id"`
}

type Config struct {
	ListenAddr string `toml:"listen_addr" yaml:"listen_addr"`

	// Token is the shared secret expected in the authorization header.
	Token string `toml:"token" yaml:"token"`
	// TokenHash is a bcrypt hash of the token; used instead of Token when set.
	TokenHash string `toml:"token_hash" yaml:"token_hash"`

	// SessionTimeout bounds how long a request waits for its REPL session to exit.
	// Zero waits forever.
	SessionTimeout Duration `toml:"session_timeout" yaml:"session_timeout"`

	REPL    REPL     `toml:"repl" yaml:"repl"`
	Devices []Device `toml:"devices" yaml:"devices"`
}

// Duration is a time.Duration that decodes from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", string(b), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a config with defaults filled in and no devices.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.REPL.Command == "" {
		c.REPL.Command = DefaultCommand
	}
	if c.REPL.Prompt == "" {
		c.REPL.Prompt = DefaultPrompt
	}
	if c.REPL.SessionID == "" {
		c.REPL.SessionID = DefaultSessionID
	}
}

// Load reads the config file at path. The format is chosen by extension:
// .toml, or .yaml/.yml. Defaults are applied to unset fields.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(b), cfg); err != nil {
			return nil, fmt.Errorf("parsing TOML config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// FindConfig walks up from dir looking for DefaultFileName, returning "" if there is none.
func FindConfig(dir string) (string, error) {
	curDir := dir
	for {
		entries, err := os.ReadDir(curDir)
		if err != nil {
			return "", fmt.Errorf("reading dir %q: %w", curDir, err)
		}
		for _, e := range entries {
			if e.Name() == DefaultFileName && !e.IsDir() {
				return filepath.Join(curDir, DefaultFileName), nil
			}
		}
		parent := filepath.Dir(curDir)
		if parent == curDir {
			return "", nil
		}
		curDir = parent
	}
}

// Validate checks that the config is usable for serving.
func (c *Config) Validate() error {
	var errs []error
	if c.Token == "" && c.TokenHash == "" {
		errs = append(errs, errors.New("one of token or token_hash is required"))
	}
	if c.REPL.Command == "" {
		errs = append(errs, errors.New("repl.command is required"))
	}
	if c.REPL.Prompt == "" {
		errs = append(errs, errors.New("repl.prompt must not be empty"))
	}
	if c.SessionTimeout.Duration < 0 {
		errs = append(errs, errors.New("session_timeout must not be negative"))
	}

	seen := map[string]bool{}
	for i, d := range c.Devices {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("device %d: name is required", i))
			continue
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Errorf("device %q: duplicate name", d.Name))
		}
		seen[d.Name] = true
		if d.Address == "" {
			errs = append(errs, fmt.Errorf("device %q: address is required", d.Name))
		}
		if d.Port < 1 || d.Port > 65535 {
			errs = append(errs, fmt.Errorf("device %q: port %d out of range", d.Name, d.Port))
		}
	}
	return multierr.Combine(errs...)
}

// Lookup returns the device with exactly the given name.
func (c *Config) Lookup(name string) (Device, bool) {
	for _, d := range c.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return Device{}, false
}
