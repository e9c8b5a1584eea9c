// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// zoo is the command line front end of the model zoo regression harness.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"
)

const clientIdentifier = "zoo"

var (
	gitCommit = ""

	app = cli.NewApp()

	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=panic, 1=fatal, 2=error, 3=warn, 4=info, 5=debug, 6=trace",
		Value: int(logrus.WarnLevel),
	}
	seedFlag = cli.Uint64Flag{
		Name:  "seed",
		Usage: "Seed the generator is reset to before every stage",
	}
	workersFlag = cli.IntFlag{
		Name:  "workers",
		Usage: "Number of models checked concurrently",
	}
)

func init() {
	app.Name = clientIdentifier
	app.Usage = "deterministic regression checks for the vision model zoo"
	app.Version = version
	app.HideVersion = true
	app.Copyright = "Copyright 2025 Born ML Framework"
	app.Commands = []cli.Command{
		listCommand,
		scriptCommand,
		checkCommand,
		goldenCommand,
		equivCommand,
		exportCommand,
		dumpConfigCommand,
		versionCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))

	app.Flags = []cli.Flag{
		configFileFlag,
		verbosityFlag,
		seedFlag,
		workersFlag,
	}
	app.Before = setupLogging
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var log = logrus.New()

func setupLogging(ctx *cli.Context) error {
	v := ctx.GlobalInt(verbosityFlag.Name)
	if v < int(logrus.PanicLevel) || v > int(logrus.TraceLevel) {
		return fmt.Errorf("invalid verbosity %d", v)
	}
	log.SetLevel(logrus.Level(v))
	log.SetOutput(os.Stderr)
	tty := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	log.SetFormatter(&logrus.TextFormatter{
		ForceColors:   tty,
		DisableColors: !tty,
		FullTimestamp: true,
	})
	return nil
}
