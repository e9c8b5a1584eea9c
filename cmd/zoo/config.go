// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"io"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/born-ml/visionzoo/harness"
)

var (
	dumpConfigCommand = cli.Command{
		Action:      dumpConfig,
		Name:        "dumpconfig",
		Usage:       "Show configuration values",
		ArgsUsage:   " ",
		Category:    "MISCELLANEOUS COMMANDS",
		Description: `The dumpconfig command shows configuration values.`,
	}

	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
)

// makeConfig loads the defaults, then the config file, then global flags.
func makeConfig(ctx *cli.Context) (harness.Config, error) {
	cfg := harness.DefaultConfig()
	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		if err := harness.LoadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if ctx.GlobalIsSet(seedFlag.Name) {
		cfg.Seed = ctx.GlobalUint64(seedFlag.Name)
	}
	if ctx.GlobalIsSet(workersFlag.Name) {
		cfg.Workers = ctx.GlobalInt(workersFlag.Name)
	}
	return cfg, cfg.Validate()
}

func newHarness(ctx *cli.Context) (*harness.Harness, error) {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return nil, err
	}
	return harness.New(cfg, harness.WithLogger(logrusEntry())), nil
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	out, err := harness.MarshalConfig(cfg)
	if err != nil {
		return err
	}
	io.WriteString(os.Stdout, "# Defaults merged with --config and command line flags.\n\n")
	os.Stdout.Write(out)
	return nil
}
