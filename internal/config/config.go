//
// Copyright 2024 The Akuma Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package config holds the kernel's compile-time constants (spec.md §6)
// and the boot-time overrides layered on top of them.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Compile-time constants from spec.md §6.
const (
	MaxThreads          = 32
	ReservedThreads     = 8
	BootStackKiB        = 64
	SystemStackKiB      = 256
	UserKernelStackKiB  = 64
	CooperativeTimeout  = 5 * time.Second
	TimerPeriod         = 10 * time.Millisecond
	CanaryWords         = 8
	DefaultUserStackKiB = 256
	PreFaultedHeapPages = 16
)

// BootConfig is the mutable, overridable half of spec.md's "Configuration"
// section: a handful of flags layered on top of the constants above.
type BootConfig struct {
	RAMSizeMiB     int    `yaml:"ram_size_mib"`
	EnableTests    bool   `yaml:"enable_tests"`
	EnableWatchdog bool   `yaml:"enable_watchdog"`
	EnableNetwork  bool   `yaml:"enable_network"`
	EnableFS       bool   `yaml:"enable_fs"`
	LogLevel       string `yaml:"log_level"`
	BlockImagePath string `yaml:"block_image_path"`
}

// DefaultBootConfig mirrors the degraded-mode defaults of spec.md §7: no
// network, no filesystem, tests and watchdog off.
func DefaultBootConfig() BootConfig {
	return BootConfig{
		RAMSizeMiB:     128,
		EnableTests:    false,
		EnableWatchdog: false,
		EnableNetwork:  false,
		EnableFS:       false,
		LogLevel:       "info",
	}
}

// LoadYAML reads a BootConfig from a YAML file, falling back to defaults
// for any field the file omits.
func LoadYAML(path string) (BootConfig, error) {
	cfg := DefaultBootConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
