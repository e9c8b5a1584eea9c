// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/urfave/cli.v1"

	"github.com/born-ml/visionzoo/harness"
	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/zoo"
)

var (
	familyFlag = cli.StringFlag{
		Name:  "family",
		Usage: "Restrict to one family (classification, segmentation, detection, video)",
	}

	listCommand = cli.Command{
		Action:    list,
		Name:      "list",
		Usage:     "List the registered models",
		ArgsUsage: " ",
		Flags:     []cli.Flag{familyFlag},
		Category:  "MODEL COMMANDS",
	}
	scriptCommand = cli.Command{
		Action:    scriptModels,
		Name:      "script",
		Usage:     "Compile models to static graphs and compare with the hub table",
		ArgsUsage: "[<model> ...]",
		Flags:     []cli.Flag{familyFlag},
		Category:  "MODEL COMMANDS",
		Description: `
The script command builds every named model (or every hub model when none
is named) and compiles it. A model whose verdict differs from the hub table
makes the command fail.`,
	}
)

// selectModels resolves command arguments to descriptors. With no
// arguments it returns def, filtered by --family.
func selectModels(ctx *cli.Context, def []zoo.Descriptor) ([]zoo.Descriptor, error) {
	if ctx.NArg() > 0 {
		out := make([]zoo.Descriptor, 0, ctx.NArg())
		for _, name := range ctx.Args() {
			d, ok := zoo.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("unknown model %q", name)
			}
			out = append(out, d)
		}
		return out, nil
	}
	name := ctx.String(familyFlag.Name)
	if name == "" {
		return def, nil
	}
	f, err := zoo.ParseFamily(name)
	if err != nil {
		return nil, err
	}
	var out []zoo.Descriptor
	for _, d := range def {
		if d.Family == f {
			out = append(out, d)
		}
	}
	return out, nil
}

func newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	return table
}

func hubColumn(name string) string {
	expect, ok := zoo.HubScriptable(name)
	if !ok {
		return "-"
	}
	return strconv.FormatBool(expect)
}

func list(ctx *cli.Context) error {
	descs, err := selectModels(ctx, zoo.All())
	if err != nil {
		return err
	}
	table := newTable("Model", "Family", "Input", "Scriptable", "Hub")
	for _, d := range descs {
		table.Append([]string{d.Name, d.Family.String(), d.InputShape.String(), strconv.FormatBool(d.Scriptable), hubColumn(d.Name)})
	}
	table.Render()
	return nil
}

func scriptModels(ctx *cli.Context) error {
	h, err := newHarness(ctx)
	if err != nil {
		return err
	}
	var hub []zoo.Descriptor
	for _, name := range zoo.HubNames() {
		d, _ := zoo.Lookup(name)
		hub = append(hub, d)
	}
	descs, err := selectModels(ctx, hub)
	if err != nil {
		return err
	}

	table := newTable("Model", "Compiles", "Hub", "Ops", "Error")
	failed := 0
	for _, d := range descs {
		m, err := h.BuildModel(d)
		if err != nil {
			return err
		}
		g, cerr := script.Compile(m)
		ops, msg := "-", ""
		if cerr == nil {
			ops = opSummary(g.OpCounts())
		} else {
			msg = cerr.Error()
		}
		if err := harness.CheckHubScript(d.Name, m); err != nil {
			var verdict *harness.VerdictError
			if !errors.As(err, &verdict) {
				return err
			}
			failed++
			log.WithField("model", d.Name).Error(err)
		}
		table.Append([]string{d.Name, strconv.FormatBool(cerr == nil), hubColumn(d.Name), ops, msg})
	}
	table.Render()
	if failed > 0 {
		return fmt.Errorf("%d of %d models disagree with the hub table", failed, len(descs))
	}
	return nil
}

// opSummary renders the three most frequent ops of a graph.
func opSummary(counts map[string]int) string {
	ops := make([]string, 0, len(counts))
	for op := range counts {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		if counts[ops[i]] != counts[ops[j]] {
			return counts[ops[i]] > counts[ops[j]]
		}
		return ops[i] < ops[j]
	})
	if len(ops) > 3 {
		ops = ops[:3]
	}
	s := ""
	for i, op := range ops {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%d", op, counts[op])
	}
	return s
}
