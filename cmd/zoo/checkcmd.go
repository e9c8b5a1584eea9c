// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/born-ml/visionzoo/harness"
	"github.com/born-ml/visionzoo/nn"
	"github.com/born-ml/visionzoo/zoo"
)

var (
	goldenFileFlag = cli.StringFlag{
		Name:  "golden",
		Usage: "Golden table file (defaults to GoldenFile of the config)",
	}
	writeFlag = cli.BoolFlag{
		Name:  "write",
		Usage: "Capture the current outputs into the golden file instead of checking them",
	}
	sizeFlag = cli.IntFlag{
		Name:  "size",
		Usage: "Side length of the square input",
		Value: 224,
	}

	checkCommand = cli.Command{
		Action:    check,
		Name:      "check",
		Usage:     "Build, run and shape-check models",
		ArgsUsage: "[<model> ...]",
		Flags:     []cli.Flag{familyFlag},
		Category:  "CHECK COMMANDS",
		Description: `
The check command runs every named model (or the whole registry) on a
synthetic input under the configured seed and checks the output against its
family's shape contract. Models run concurrently according to --workers.`,
	}
	goldenCommand = cli.Command{
		Action:    golden,
		Name:      "golden",
		Usage:     "Compare outputs with the golden tables, or record them",
		ArgsUsage: "[<model> ...]",
		Flags:     []cli.Flag{goldenFileFlag, writeFlag},
		Category:  "CHECK COMMANDS",
		Description: `
Without --write, every captured golden table is compared with the model's
output on the standard input. With --write, the values at the recorded
indices are captured for the named models and written back.`,
	}
	equivCommand = cli.Command{
		Action:    equivalence,
		Name:      "equiv",
		Usage:     "Run the DenseNet memory-efficient and ResNet-50 dilation checks",
		ArgsUsage: " ",
		Flags:     []cli.Flag{sizeFlag},
		Category:  "CHECK COMMANDS",
	}
)

func check(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	descs, err := selectModels(ctx, zoo.All())
	if err != nil {
		return err
	}

	sctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	results, err := harness.Sweep(sctx, cfg, descs, logrusEntry())
	if err != nil {
		return err
	}

	table := newTable("Model", "Family", "Output", "Scriptable", "Elapsed", "Result")
	failed := 0
	for _, r := range results {
		out := r.Output.String()
		if r.Family == zoo.Detection {
			out = fmt.Sprintf("%v detections", r.Detections)
		}
		verdict := "ok"
		if r.Err != nil {
			failed++
			verdict = r.Err.Error()
		}
		table.Append([]string{r.Model, r.Family.String(), out, strconv.FormatBool(r.Scriptable), r.Duration.Round(time.Millisecond).String(), verdict})
	}
	table.Render()
	if failed > 0 {
		return fmt.Errorf("%d of %d models failed", failed, len(results))
	}
	return nil
}

func goldenPath(ctx *cli.Context, cfg harness.Config) (string, error) {
	if path := ctx.String(goldenFileFlag.Name); path != "" {
		return path, nil
	}
	if cfg.GoldenFile != "" {
		return cfg.GoldenFile, nil
	}
	return "", fmt.Errorf("no golden file: set --%s or GoldenFile in the config", goldenFileFlag.Name)
}

func golden(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	path, err := goldenPath(ctx, cfg)
	if err != nil {
		return err
	}
	file, err := harness.LoadGoldenFile(path)
	if err != nil {
		if !ctx.Bool(writeFlag.Name) || !os.IsNotExist(err) {
			return err
		}
		file = &harness.GoldenFile{}
	}

	names := []string(ctx.Args())
	if len(names) == 0 {
		for _, g := range file.Golden {
			names = append(names, g.Model)
		}
	}
	if ctx.Bool(writeFlag.Name) {
		return captureGolden(cfg, file, path, names)
	}

	table := newTable("Model", "Seed", "Indices", "Result")
	failed := 0
	for _, name := range names {
		g, ok := file.Lookup(name)
		if !ok {
			return fmt.Errorf("%s: no golden table in %s", name, path)
		}
		if !g.Captured() {
			table.Append([]string{name, strconv.FormatUint(g.Seed, 10), strconv.Itoa(len(g.Indices)), "not captured"})
			continue
		}
		gcfg := cfg
		gcfg.Seed = g.Seed
		h := harness.New(gcfg, harness.WithLogger(logrusEntry()))
		m, err := buildModule(h, name)
		if err != nil {
			return err
		}
		verdict := "ok"
		if err := h.CheckGolden(m, g); err != nil {
			failed++
			verdict = err.Error()
		}
		table.Append([]string{name, strconv.FormatUint(g.Seed, 10), strconv.Itoa(len(g.Indices)), verdict})
	}
	table.Render()
	if failed > 0 {
		return fmt.Errorf("%d golden tables failed", failed)
	}
	return nil
}

func captureGolden(cfg harness.Config, file *harness.GoldenFile, path string, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("no models to capture")
	}
	h := harness.New(cfg, harness.WithLogger(logrusEntry()))
	for _, name := range names {
		indices := harness.ScratchIndices
		if g, ok := file.Lookup(name); ok {
			indices = g.Indices
		}
		m, err := buildModule(h, name)
		if err != nil {
			return err
		}
		values, err := h.Capture(m, indices)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		file.Set(name, cfg.Seed, cfg.InputShape, values)
		log.WithField("model", name).Info("Captured golden table")
	}
	return file.Save(path)
}

func buildModule(h *harness.Harness, name string) (nn.Module, error) {
	d, ok := zoo.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown model %q", name)
	}
	if d.Family != zoo.Classification {
		return nil, fmt.Errorf("%s: golden tables cover classification models only", name)
	}
	m, err := h.BuildModel(d)
	if err != nil {
		return nil, err
	}
	return m.(nn.Module), nil
}

func equivalence(ctx *cli.Context) error {
	h, err := newHarness(ctx)
	if err != nil {
		return err
	}
	size := ctx.Int(sizeFlag.Name)

	table := newTable("Check", "Result")
	failed := 0
	record := func(name string, err error) {
		verdict := "ok"
		if err != nil {
			failed++
			verdict = err.Error()
		}
		table.Append([]string{name, verdict})
	}
	for _, name := range harness.DenseNetModels {
		d, _ := zoo.Lookup(name)
		diff, err := h.CheckMemoryEfficientDenseNet(d, size)
		if err == nil {
			log.WithField("diff", diff).Debugf("%s memory-efficient", name)
		}
		record(name+" memory-efficient", err)
	}
	for _, flags := range harness.DilationCombos() {
		record(fmt.Sprintf("resnet50 dilation %v", flags), h.CheckResNetDilation(flags, size))
	}
	table.Render()
	if failed > 0 {
		return fmt.Errorf("%d equivalence checks failed", failed)
	}
	return nil
}
