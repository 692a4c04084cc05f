// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LimitsConfig holds the interpreter policy constants.
type LimitsConfig struct {
	InterruptsMax            int `yaml:"interrupts_max" toml:"interrupts_max" description:"Interrupt points without a wait before a chunk is terminated" default:"20000"`
	InterruptsSuspend        int `yaml:"interrupts_suspend" toml:"interrupts_suspend" description:"Interrupt points between forced task switches" default:"100"`
	InstructionsPerInterrupt int `yaml:"instructions_per_interrupt" toml:"instructions_per_interrupt" description:"VM instructions per interrupt point" default:"16"`
	ArrayMax                 int `yaml:"array_max" toml:"array_max" description:"Largest table converted as an array" default:"10000"`
	ArrayGapMax              int `yaml:"array_gap_max" toml:"array_gap_max" description:"Largest run of holes allowed in an array table" default:"100"`
	MaxDepth                 int `yaml:"max_depth" toml:"max_depth" description:"Deepest table nesting converted in either direction" default:"200"`
	RequireDepthMax          int `yaml:"require_depth_max" toml:"require_depth_max" description:"Most modules loading at once through nested require()" default:"200"`
}

// Config holds luahost configuration settings
type Config struct {
	LogLevel      string   `yaml:"log_level" toml:"log_level" description:"Log level (debug, info, warn, error)" default:"info"`
	Namespace     string   `yaml:"namespace" toml:"namespace" description:"Global table holding the host functions" default:"LL"`
	AutorunScript string   `yaml:"autorun_script" toml:"autorun_script" description:"Script run at startup (relative to data dir, empty = none)" default:"autorun.lua"`
	LibraryPaths  []string `yaml:"library_paths" toml:"library_paths" description:"Directories searched by require() (relative to data dir)" default:"[lua]"`
	Listen        string   `yaml:"listen" toml:"listen" description:"Address for the websocket pump gateway (empty = disabled)"`

	Limits *LimitsConfig `yaml:"limits" toml:"limits" description:"Interpreter limits (omit for defaults)"`
}

// DefaultConfig returns the default configuration for runtime use.
func DefaultConfig() Config {
	return Config{
		LogLevel:      "info",
		Namespace:     "LL",
		AutorunScript: "autorun.lua",
		LibraryPaths:  []string{"lua"},
	}
}

// DefaultLimitsConfig returns default limits (used when a limits block
// exists but fields are missing)
func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		InterruptsMax:            20000,
		InterruptsSuspend:        100,
		InstructionsPerInterrupt: 16,
		ArrayMax:                 10000,
		ArrayGapMax:              100,
		MaxDepth:                 200,
		RequireDepthMax:          200,
	}
}

// EffectiveLimits returns the configured limits with defaults filled in.
func (c *Config) EffectiveLimits() LimitsConfig {
	if c.Limits == nil {
		return DefaultLimitsConfig()
	}
	return *c.Limits
}

// DefaultDataDir is the default data directory for luahost
const DefaultDataDir = "~/.luahost"

// GetDataDir returns the data directory.
// Resolution order: -d flag > LUAHOST_DATA env var > ~/.luahost
func GetDataDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envDir := os.Getenv("LUAHOST_DATA"); envDir != "" {
		return envDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".luahost")
}

// RequireDataDir resolves the data directory like GetDataDir and exits if
// it cannot be determined.
func RequireDataDir(flagValue string) string {
	dir := GetDataDir(flagValue)
	if dir == "" {
		fmt.Fprintln(os.Stderr, "Error: Could not determine data directory")
		fmt.Fprintln(os.Stderr, "Use -d <path> or set LUAHOST_DATA environment variable")
		os.Exit(1)
	}
	return dir
}

// GetConfigPath returns the config file in dataDir: config.yaml, or
// config.toml when only that exists. Returns "" if dataDir is empty.
func GetConfigPath(dataDir string) string {
	if dataDir == "" {
		return ""
	}
	yamlPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(yamlPath); err != nil {
		tomlPath := filepath.Join(dataDir, "config.toml")
		if _, err := os.Stat(tomlPath); err == nil {
			return tomlPath
		}
	}
	return yamlPath
}

// ResolvePath resolves a path relative to baseDir if not absolute.
func ResolvePath(path, baseDir string) string {
	if path == "" || baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// LoadConfig loads configuration from the data directory. Library paths are
// resolved relative to it.
func LoadConfig(dataDir string) (Config, error) {
	config, err := LoadConfigFromPath(GetConfigPath(dataDir))
	if err != nil {
		return config, err
	}
	for i, p := range config.LibraryPaths {
		config.LibraryPaths[i] = ResolvePath(p, dataDir)
	}
	return config, nil
}

// LoadConfigFromPath loads configuration from path, YAML unless the file
// ends in .toml. A missing file or empty path gives the defaults.
func LoadConfigFromPath(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		Logger.Warn("Failed to read config file", "path", path, "error", err)
		return DefaultConfig(), nil
	}

	// Start with defaults, then overlay config file values
	config := DefaultConfig()
	if filepath.Ext(path) == ".toml" {
		err = toml.Unmarshal(data, &config)
	} else {
		err = yaml.Unmarshal(data, &config)
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	switch config.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return Config{}, fmt.Errorf("invalid log_level '%s' in config (must be debug, info, warn, or error)", config.LogLevel)
	}
	if config.Namespace == "" {
		config.Namespace = DefaultConfig().Namespace
	}

	// Fill in limit defaults if the limits block is present
	if config.Limits != nil {
		defaults := DefaultLimitsConfig()
		fill := func(v *int, def int, name string) error {
			if *v < 0 {
				return fmt.Errorf("limits.%s must not be negative", name)
			}
			if *v == 0 {
				*v = def
			}
			return nil
		}
		l := config.Limits
		for _, f := range []struct {
			v    *int
			def  int
			name string
		}{
			{&l.InterruptsMax, defaults.InterruptsMax, "interrupts_max"},
			{&l.InterruptsSuspend, defaults.InterruptsSuspend, "interrupts_suspend"},
			{&l.InstructionsPerInterrupt, defaults.InstructionsPerInterrupt, "instructions_per_interrupt"},
			{&l.ArrayMax, defaults.ArrayMax, "array_max"},
			{&l.ArrayGapMax, defaults.ArrayGapMax, "array_gap_max"},
			{&l.MaxDepth, defaults.MaxDepth, "max_depth"},
			{&l.RequireDepthMax, defaults.RequireDepthMax, "require_depth_max"},
		} {
			if err := fill(f.v, f.def, f.name); err != nil {
				return Config{}, err
			}
		}
	}

	return config, nil
}

// DisplayConfig prints the current configuration
func DisplayConfig(dataDir string) {
	config, err := LoadConfig(dataDir)
	configPath := GetConfigPath(dataDir)

	fmt.Println("Current Configuration:")
	fmt.Println("=====================")
	fmt.Printf("Data dir:    %s\n", dataDir)
	fmt.Printf("Config file: %s\n", configPath)
	if err != nil {
		fmt.Printf("Error:       %v\n", err)
		fmt.Println()
		return
	}
	fmt.Printf("Log level:   %s\n", config.LogLevel)
	fmt.Printf("Namespace:   %s\n", config.Namespace)
	if config.AutorunScript != "" {
		fmt.Printf("Autorun:     %s\n", ResolvePath(config.AutorunScript, dataDir))
	} else {
		fmt.Printf("Autorun:     (none)\n")
	}
	fmt.Printf("Libraries:   %v\n", config.LibraryPaths)
	if config.Listen != "" {
		fmt.Printf("Gateway:     %s\n", config.Listen)
	} else {
		fmt.Printf("Gateway:     disabled\n")
	}
	l := config.EffectiveLimits()
	fmt.Printf("Limits:      interrupts %d/%d, %d instructions each\n",
		l.InterruptsSuspend, l.InterruptsMax, l.InstructionsPerInterrupt)
	fmt.Printf("Conversion:  array %d (gap %d), depth %d\n", l.ArrayMax, l.ArrayGapMax, l.MaxDepth)
	fmt.Printf("Require:     depth %d\n", l.RequireDepthMax)
	fmt.Println()
}
