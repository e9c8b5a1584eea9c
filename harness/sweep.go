// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package harness

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/born-ml/visionzoo/zoo"
)

// Sweep runs RunCase for every descriptor, at most cfg.Workers at a time.
// Each case gets its own Harness, so no generator is shared between
// goroutines. Results are returned in the order of descs; case failures
// are reported in CaseResult.Err, and only cancellation of ctx makes
// Sweep itself fail.
func Sweep(ctx context.Context, cfg Config, descs []zoo.Descriptor, log *logrus.Entry) ([]CaseResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	results := make([]CaseResult, len(descs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, d := range descs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var opts []Option
			if log != nil {
				opts = append(opts, WithLogger(log))
			}
			results[i] = New(cfg, opts...).RunCase(d)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
