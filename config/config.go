package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"memchain/process"
	"memchain/process/memory_map"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = "memchain"
	configFile string = "config.yml"
)

const (
	DefaultTransport     = "vm"
	DefaultScanTimeout   = 10 * time.Second
	DefaultMaxTextLength = 256
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Transport is "vm" (process_vm_readv/writev) or "procmem" (/proc/pid/mem).
	Transport string `yaml:"transport"`
	// ReadOnly attaches without write access.
	ReadOnly bool `yaml:"read-only"`

	// MaxRegions stops region scans after this many regions, 0 is unlimited.
	MaxRegions int `yaml:"max-regions"`
	// ScanTimeout bounds a region scan, 0 disables it.
	ScanTimeout time.Duration `yaml:"scan-timeout"`

	// MaxTextLength is the default byte limit of text reads.
	MaxTextLength uint `yaml:"max-text-length"`

	// Profiles maps a profile name to a process and its named chains.
	Profiles map[string]Profile `yaml:"profiles"`
}

// Profile names the chains of one target program.
type Profile struct {
	Process string           `yaml:"process"`
	Chains  map[string]Chain `yaml:"chains"`
}

// Chain is a named pointer chain.
type Chain struct {
	Offsets   OffsetList `yaml:"offsets"`
	Mode      string     `yaml:"mode,omitempty"`
	MaxLength uint       `yaml:"max-length,omitempty"`
}

// OffsetList decodes offsets written as YAML integers or as hex ("0x10")
// or decimal strings.
type OffsetList process.Offsets

func (o *OffsetList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw []interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}

	out := make(OffsetList, 0, len(raw))
	for i, item := range raw {
		var (
			v   uint64
			err error
		)
		switch x := item.(type) {
		case int:
			if x < 0 {
				err = fmt.Errorf("negative offset %d", x)
			}
			v = uint64(x)
		case uint64:
			v = x
		case string:
			v, err = process.ParseOffset(x)
		default:
			err = fmt.Errorf("unsupported offset %v", item)
		}
		if err != nil {
			return fmt.Errorf("offset #%d: %w", i, err)
		}
		out = append(out, v)
	}
	*o = out
	return nil
}

// ChainMode parses the chain's mode. An empty mode is the dereferencing walk.
func (c Chain) ChainMode() (process.ChainMode, error) {
	return process.ParseChainMode(c.Mode)
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Transport:     DefaultTransport,
		ScanTimeout:   DefaultScanTimeout,
		MaxTextLength: DefaultMaxTextLength,
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/memchain/config.yml, falling back
// to ~/.config/memchain/config.yml.
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, configDir, configFile), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to get config file path: %w", err)
	}
	return filepath.Join(home, ".config", configDir, configFile), nil
}

// Load reads the config file at path over the defaults. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("unable to decode config file %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.MaxRegions < 0 {
		return fmt.Errorf("max-regions must not be negative")
	}
	if c.ScanTimeout < 0 {
		return fmt.Errorf("scan-timeout must not be negative")
	}
	for name, profile := range c.Profiles {
		for chainName, chain := range profile.Chains {
			if _, err := chain.ChainMode(); err != nil {
				return fmt.Errorf("profile %s chain %s: %w", name, chainName, err)
			}
		}
	}
	return nil
}

// ScanOptions returns the region scan bounds.
func (c *Config) ScanOptions() memory_map.ScanOptions {
	return memory_map.ScanOptions{MaxRegions: c.MaxRegions}
}

// Chain looks up a named chain and the profile it belongs to.
func (c *Config) Chain(profileName, chainName string) (Profile, Chain, error) {
	profile, ok := c.Profiles[profileName]
	if !ok {
		return Profile{}, Chain{}, fmt.Errorf("unknown profile %q (have %v)", profileName, sortedKeys(c.Profiles))
	}
	chain, ok := profile.Chains[chainName]
	if !ok {
		return Profile{}, Chain{}, fmt.Errorf("profile %s has no chain %q (have %v)", profileName, chainName, sortedKeys(profile.Chains))
	}
	return profile, chain, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SaveConfig will marshal and save the config struct to path.
func SaveConfig(conf *Config, path string) error {
	out, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}
	return os.WriteFile(path, out, 0600)
}
