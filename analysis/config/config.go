// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

var (
	// The global config file
	configFile string
)

// SetGlobalConfig sets the global config filename
func SetGlobalConfig(filename string) {
	configFile = filename
}

// LoadGlobal loads the config file that has been set by SetGlobalConfig
func LoadGlobal() (*Config, error) {
	if configFile == "" {
		return NewDefault(), nil
	}
	return LoadFromFile(configFile)
}

// Config contains the options of the instrumentation passes and of the runtime allocator.
// If some field is not defined in the config file, it will take its default value from NewDefault.
// private fields are not populated from a yaml file, but computed after initialization
type Config struct {
	Options `yaml:",inline"`

	// Runtime contains the options of the tagged allocator
	Runtime RuntimeOptions `yaml:"runtime"`

	sourceFile string
}

// Options are the options of the compile-time analyses and instrumentation
type Options struct {
	// LogLevel controls the verbosity of the tool
	LogLevel int `xml:"log-level,attr" yaml:"log-level"`

	// GranuleSize is the size in bytes of a tagging granule. Must be a power of two.
	GranuleSize int `xml:"granule-size,attr" yaml:"granule-size"`

	// AliasMode selects whether the pointer provenance analysis computes alias closures ("closure") or only
	// considers the accessed location itself ("none").
	AliasMode string `xml:"alias-mode,attr" yaml:"alias-mode"`

	// InstrumentStack enables the stack segment instrumentation of unsafe stack allocations
	InstrumentStack bool `xml:"instrument-stack,attr" yaml:"instrument-stack"`

	// InstrumentPointers enables signing and authentication at eligible loads and stores of pointers
	InstrumentPointers bool `xml:"instrument-pointers,attr" yaml:"instrument-pointers"`

	// SignFunctionPointers enables signing of function pointers (global tables and operands) and the
	// authentication of indirect call targets
	SignFunctionPointers bool `xml:"sign-function-pointers,attr" yaml:"sign-function-pointers"`

	// RewriteAllocations enables the replacement of allocator calls by calls to the tagged allocator
	RewriteAllocations bool `xml:"rewrite-allocations,attr" yaml:"rewrite-allocations"`

	// OnlySanitized restricts the instrumentation to functions carrying the sanitize attribute
	OnlySanitized bool `xml:"only-sanitized,attr" yaml:"only-sanitized"`
}

// RuntimeOptions are the options of the tagged allocator
type RuntimeOptions struct {
	// HeapBase is the first address of the simulated heap
	HeapBase uint64 `yaml:"heap-base"`

	// HeapSize is the size in bytes of the simulated heap
	HeapSize uint64 `yaml:"heap-size"`

	// TableCapacity is the initial number of slots of the metadata table
	TableCapacity int `yaml:"table-capacity"`

	// MaxTableCapacity bounds the growth of the metadata table. If <= 0, the table grows without bounds.
	MaxTableCapacity int `yaml:"max-table-capacity"`

	// Synchronized makes every allocator entry point take a lock
	Synchronized bool `yaml:"synchronized"`
}

const (
	// AliasModeClosure is the alias mode where the alias closure of every location is inspected
	AliasModeClosure = "closure"
	// AliasModeNone is the alias mode where only the location itself is inspected
	AliasModeNone = "none"
)

// NewDefault returns a default config: every instrumentation enabled, granules of 16 bytes.
func NewDefault() *Config {
	return &Config{
		sourceFile: "",
		Options: Options{
			LogLevel:             int(InfoLevel),
			GranuleSize:          DefaultGranuleSize,
			AliasMode:            AliasModeClosure,
			InstrumentStack:      true,
			InstrumentPointers:   true,
			SignFunctionPointers: true,
			RewriteAllocations:   true,
			OnlySanitized:        false,
		},
		Runtime: RuntimeOptions{
			HeapBase:         DefaultHeapBase,
			HeapSize:         DefaultHeapSize,
			TableCapacity:    DefaultTableCapacity,
			MaxTableCapacity: 0,
			Synchronized:     false,
		},
	}
}

// LoadFromFile reads a configuration from a file
func LoadFromFile(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	return Load(filename, b)
}

// Load reads a configuration from the contents b of the file filename
func Load(filename string, b []byte) (*Config, error) {
	cfg := NewDefault()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config file %s: %w", filename, err)
	}
	cfg.sourceFile = filename

	// If logLevel has not been specified (i.e. it is 0) set the default to Info
	if cfg.LogLevel == 0 {
		cfg.LogLevel = int(InfoLevel)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", filename, err)
	}
	return cfg, nil
}

// Validate returns an error if some option has an invalid value
func (c *Config) Validate() error {
	if c.GranuleSize <= 0 || c.GranuleSize&(c.GranuleSize-1) != 0 {
		return fmt.Errorf("granule-size must be a positive power of two, got %d", c.GranuleSize)
	}
	if c.AliasMode != AliasModeClosure && c.AliasMode != AliasModeNone {
		return fmt.Errorf("alias-mode must be %q or %q, got %q", AliasModeClosure, AliasModeNone, c.AliasMode)
	}
	if c.LogLevel < int(ErrLevel) || c.LogLevel > int(TraceLevel) {
		return fmt.Errorf("log-level must be between %d and %d, got %d", ErrLevel, TraceLevel, c.LogLevel)
	}
	if c.Runtime.HeapSize == 0 {
		return fmt.Errorf("runtime heap-size must be positive")
	}
	if c.Runtime.TableCapacity <= 0 {
		return fmt.Errorf("runtime table-capacity must be positive, got %d", c.Runtime.TableCapacity)
	}
	if c.Runtime.MaxTableCapacity > 0 && c.Runtime.MaxTableCapacity < c.Runtime.TableCapacity {
		return fmt.Errorf("runtime max-table-capacity (%d) is smaller than table-capacity (%d)",
			c.Runtime.MaxTableCapacity, c.Runtime.TableCapacity)
	}
	return nil
}

// RelPath returns filename path relative to the config source file
func (c Config) RelPath(filename string) string {
	return path.Join(path.Dir(c.sourceFile), filename)
}

// Granule returns the granule size as an unsigned integer
func (c Config) Granule() uint64 {
	return uint64(c.GranuleSize)
}
