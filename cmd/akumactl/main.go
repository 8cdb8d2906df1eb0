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

// akumactl is an operator-side diagnostic tool. It never attaches to a
// running akuma instance over the wire -- there is no host/guest IPC
// channel in this kernel -- it instead boots a kernel in-process the
// same way cmd/akuma does, so
// a config file or a self-test battery can be validated before anyone
// hands it to real QEMU.
package main

import (
	"fmt"
	"os"

	"github.com/netoneko/akuma/internal/config"
	"github.com/netoneko/akuma/internal/kernel"
	"github.com/netoneko/akuma/internal/selftest"
	"github.com/spf13/cobra"
)

func loadConfigFile(path string) (config.BootConfig, error) {
	if path == "" {
		return config.DefaultBootConfig(), nil
	}
	return config.LoadYAML(path)
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "akumactl",
		Short: "Diagnostics for the akuma kernel's boot configuration",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a boot-config YAML file")

	root.AddCommand(newValidateCmd(&configPath))
	root.AddCommand(newSelftestCmd(&configPath))
	root.AddCommand(newBoxesCmd(&configPath))

	return root
}

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse a boot-config file and print the resolved settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigFile(*configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ram_size_mib:     %d\n", cfg.RAMSizeMiB)
			fmt.Fprintf(cmd.OutOrStdout(), "enable_tests:     %t\n", cfg.EnableTests)
			fmt.Fprintf(cmd.OutOrStdout(), "enable_watchdog:  %t\n", cfg.EnableWatchdog)
			fmt.Fprintf(cmd.OutOrStdout(), "enable_network:   %t\n", cfg.EnableNetwork)
			fmt.Fprintf(cmd.OutOrStdout(), "enable_fs:        %t\n", cfg.EnableFS)
			fmt.Fprintf(cmd.OutOrStdout(), "log_level:        %s\n", cfg.LogLevel)
			fmt.Fprintf(cmd.OutOrStdout(), "block_image_path: %s\n", cfg.BlockImagePath)
			return nil
		},
	}
}

func newSelftestCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Boot a kernel instance and run the self-test battery",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigFile(*configPath)
			if err != nil {
				return err
			}
			k, err := kernel.Boot(cfg)
			if err != nil {
				return fmt.Errorf("boot failed: %w", err)
			}
			results := selftest.Run(k)
			failed := 0
			for _, r := range results {
				status := "PASS"
				if r.Err != nil {
					status = "FAIL: " + r.Err.Error()
					failed++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-28s %s\n", r.Name, status)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", failed, len(results))
			}
			return nil
		},
	}
}

func newBoxesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "boxes",
		Short: "Boot a kernel instance and list its registered boxes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigFile(*configPath)
			if err != nil {
				return err
			}
			k, err := kernel.Boot(cfg)
			if err != nil {
				return fmt.Errorf("boot failed: %w", err)
			}
			boxes := k.Boxes.All()
			if len(boxes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no boxes registered")
				return nil
			}
			for _, b := range boxes {
				fmt.Fprintf(cmd.OutOrStdout(), "id=%d name=%s root=%s primary_pid=%d\n", b.ID, b.Name, b.RootDir, b.PrimaryPid)
			}
			return nil
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
