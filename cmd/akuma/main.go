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

package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/netoneko/akuma/internal/config"
	"github.com/netoneko/akuma/internal/kernel"
	"github.com/netoneko/akuma/internal/klog"
	"github.com/netoneko/akuma/internal/selftest"
	"github.com/urfave/cli"
)

const usage = `akuma

akuma is a bare-metal AArch64 kernel targeting QEMU's "virt" machine.
Under a hosted build (this binary) it boots the same component graph a
real "qemu-system-aarch64 -kernel akuma" invocation would, runs the
configured self-test battery, then settles into the cooperative idle
loop until interrupted.
`

var log = klog.For("main")

func exitHandler(signalChan chan os.Signal, k *kernel.Kernel) {
	s := <-signalChan
	log.WithField("signal", s.String()).Warn("akuma caught signal, stopping")

	if s == syscall.SIGABRT || s == syscall.SIGSEGV {
		stacktrace := make([]byte, 32768)
		length := runtime.Stack(stacktrace, true)
		log.Warnf("\n\n%s\n", string(stacktrace[:length]))
	}

	k.Stop()
	os.Exit(0)
}

func loadConfig(ctx *cli.Context) (config.BootConfig, error) {
	if path := ctx.String("config"); path != "" {
		cfg, err := config.LoadYAML(path)
		if err != nil {
			return cfg, fmt.Errorf("loading config %s: %w", path, err)
		}
		return applyFlagOverrides(ctx, cfg), nil
	}
	return applyFlagOverrides(ctx, config.DefaultBootConfig()), nil
}

// applyFlagOverrides lets CLI flags win over whatever a config file set,
// but only for flags the invocation actually passed (cli.Context.IsSet),
// so an unset flag never clobbers a YAML-supplied value back to zero.
func applyFlagOverrides(ctx *cli.Context, cfg config.BootConfig) config.BootConfig {
	if ctx.IsSet("ram-mib") {
		cfg.RAMSizeMiB = ctx.Int("ram-mib")
	}
	if ctx.IsSet("enable-tests") {
		cfg.EnableTests = ctx.Bool("enable-tests")
	}
	if ctx.IsSet("enable-watchdog") {
		cfg.EnableWatchdog = ctx.Bool("enable-watchdog")
	}
	if ctx.IsSet("enable-network") {
		cfg.EnableNetwork = ctx.Bool("enable-network")
	}
	if ctx.IsSet("enable-fs") {
		cfg.EnableFS = ctx.Bool("enable-fs")
	}
	if ctx.IsSet("log-level") {
		cfg.LogLevel = ctx.String("log-level")
	}
	if ctx.IsSet("block-image") {
		cfg.BlockImagePath = ctx.String("block-image")
		cfg.EnableFS = true
	}
	return cfg
}

func run(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	k, err := kernel.Boot(cfg)
	if err != nil {
		return fmt.Errorf("boot failed: %w", err)
	}

	if cfg.EnableTests {
		results := selftest.Run(k)
		if !selftest.AllPassed(results) {
			return fmt.Errorf("self-test battery failed, see log for per-scenario detail")
		}
		log.Info("self-test battery passed")
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT, syscall.SIGSEGV)
	go exitHandler(signalChan, k)

	log.WithField("uptime", k.Uptime()).Info("entering idle loop")
	k.Run()
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "akuma"
	app.Usage = usage

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "path to a boot-config YAML file; flags below override its fields",
		},
		cli.IntFlag{
			Name:  "ram-mib",
			Usage: "RAM size in MiB for the physical allocator",
		},
		cli.BoolFlag{
			Name:  "enable-tests",
			Usage: "run the self-test battery before entering the idle loop",
		},
		cli.BoolFlag{
			Name:  "enable-watchdog",
			Usage: "enable the cooperative-scheduling watchdog",
		},
		cli.BoolFlag{
			Name:  "enable-network",
			Usage: "set enable_network in the boot config (the kernel does not read it; the loopback self-test runs either way)",
		},
		cli.BoolFlag{
			Name:  "enable-fs",
			Usage: "mount an ext2 root instead of the in-memory degraded-mode root",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
		cli.StringFlag{
			Name:  "block-image",
			Usage: "path to an ext2 block-device image (implies --enable-fs)",
		},
	}

	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
