// Package config handles cbgc.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/cbgc/gc"
	"github.com/chazu/cbgc/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "cbgc.toml"

// DefaultPort is the inspection server port when none is configured.
const DefaultPort = 4568

// Config represents a cbgc.toml file.
type Config struct {
	GC      GCConfig      `toml:"gc"`
	Stack   StackConfig   `toml:"stack"`
	History HistoryConfig `toml:"history"`
	Server  ServerConfig  `toml:"server"`

	// Dir is the directory containing the cbgc.toml file (set at load time).
	Dir string `toml:"-"`
}

// GCConfig tunes the collector.
type GCConfig struct {
	DebugTracing     bool `toml:"debug-tracing"`
	HintThreshold    int  `toml:"hint-threshold"`
	InitialThreshold int  `toml:"initial-threshold"`
	GrowthFactor     int  `toml:"growth-factor"`
}

// StackConfig sizes the execution stack.
type StackConfig struct {
	Size int `toml:"size"`
}

// HistoryConfig configures the collection history database.
type HistoryConfig struct {
	Path string `toml:"path"`
}

// ServerConfig configures the inspection server.
type ServerConfig struct {
	Port int `toml:"port"`
}

// Default returns the configuration used when no cbgc.toml exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load parses a cbgc.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// Parse decodes TOML configuration text and applies defaults.
func Parse(data []byte) (*Config, error) {
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return &c, nil
}

// FindAndLoad walks up from startDir to find a cbgc.toml file, then loads
// and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

func (c *Config) validate() error {
	switch {
	case c.GC.HintThreshold < 0:
		return fmt.Errorf("gc.hint-threshold must not be negative")
	case c.GC.InitialThreshold < 0:
		return fmt.Errorf("gc.initial-threshold must not be negative")
	case c.GC.GrowthFactor < 0:
		return fmt.Errorf("gc.growth-factor must not be negative")
	case c.Stack.Size < 0:
		return fmt.Errorf("stack.size must not be negative")
	case c.Server.Port < 0 || c.Server.Port > 65535:
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.GC.HintThreshold == 0 {
		c.GC.HintThreshold = gc.DefaultHintThreshold
	}
	if c.GC.InitialThreshold == 0 {
		c.GC.InitialThreshold = gc.DefaultInitialThreshold
	}
	if c.GC.GrowthFactor == 0 {
		c.GC.GrowthFactor = gc.DefaultGrowthFactor
	}
	if c.Stack.Size == 0 {
		c.Stack.Size = vm.DefaultStackSize
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
}

// Collector returns the collector configuration.
func (c *Config) Collector() gc.Config {
	return gc.Config{
		DebugTracing:     c.GC.DebugTracing,
		HintThreshold:    c.GC.HintThreshold,
		InitialThreshold: c.GC.InitialThreshold,
		GrowthFactor:     c.GC.GrowthFactor,
	}
}

// Machine returns the VM configuration.
func (c *Config) Machine() vm.MachineConfig {
	return vm.MachineConfig{
		StackSize: c.Stack.Size,
		GC:        c.Collector(),
	}
}

// HistoryPath returns the history database path resolved against Dir, or ""
// when history is disabled.
func (c *Config) HistoryPath() string {
	if c.History.Path == "" {
		return ""
	}
	if filepath.IsAbs(c.History.Path) || c.Dir == "" {
		return c.History.Path
	}
	return filepath.Join(c.Dir, c.History.Path)
}
