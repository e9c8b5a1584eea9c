// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"

	"github.com/born-ml/visionzoo/harness"
	"github.com/born-ml/visionzoo/nn"
	"github.com/born-ml/visionzoo/zoo"
)

const version = "v0.1.0-dev"

var (
	outFlag = cli.StringFlag{
		Name:  "out",
		Usage: "Destination file (defaults to <model>.safetensors)",
	}

	exportCommand = cli.Command{
		Action:    export,
		Name:      "export",
		Usage:     "Write the seeded weights of a model to a safetensors file",
		ArgsUsage: "<model>",
		Flags:     []cli.Flag{outFlag},
		Category:  "MODEL COMMANDS",
	}
	versionCommand = cli.Command{
		Action:    printVersion,
		Name:      "version",
		Usage:     "Print version numbers",
		ArgsUsage: " ",
		Category:  "MISCELLANEOUS COMMANDS",
		Description: `
The output of this command is supposed to be machine-readable.
`,
	}
)

func logrusEntry() *logrus.Entry {
	return logrus.NewEntry(log)
}

func export(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("usage: %s export <model>", clientIdentifier)
	}
	name := ctx.Args().First()
	d, ok := zoo.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown model %q", name)
	}
	h, err := newHarness(ctx)
	if err != nil {
		return err
	}
	m, err := h.BuildModel(d)
	if err != nil {
		return err
	}
	out := ctx.String(outFlag.Name)
	if out == "" {
		out = name + ".safetensors"
	}
	meta := map[string]string{
		"model":  name,
		"family": d.Family.String(),
		"seed":   fmt.Sprint(h.Config().Seed),
	}
	if err := nn.Save(m, out, meta); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"model": name, "file": out, "params": nn.NumParameters(m)}).Info("Exported weights")
	return nil
}

func printVersion(ctx *cli.Context) error {
	fmt.Println("Zoo")
	fmt.Println("Version:", version)
	if gitCommit != "" {
		fmt.Println("Git Commit:", gitCommit)
	}
	fmt.Println("Standard Seed:", harness.StandardSeed)
	fmt.Println("Models:", len(zoo.All()))
	fmt.Println("Architecture:", runtime.GOARCH)
	fmt.Println("Go Version:", runtime.Version())
	fmt.Println("Operating System:", runtime.GOOS)
	return nil
}
