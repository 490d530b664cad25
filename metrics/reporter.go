// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"log/slog"
	"time"
)

// Reporter periodically logs counter deltas as per-second rates.
type Reporter struct {
	counters *Counters
	logger   *slog.Logger
	interval time.Duration
}

// NewReporter creates a reporter logging every interval.
func NewReporter(c *Counters, logger *slog.Logger, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Reporter{counters: c, logger: logger, interval: interval}
}

// Run logs rates until ctx is canceled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	prev := r.counters.Snapshot()
	prevAt := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cur := r.counters.Snapshot()
			secs := now.Sub(prevAt).Seconds()
			if secs <= 0 {
				continue
			}
			r.logger.Info("rates",
				"produced_per_sec", float64(cur.Produced-prev.Produced)/secs,
				"consumed_per_sec", float64(cur.Consumed-prev.Consumed)/secs,
				"errors", cur.Errors,
			)
			prev = cur
			prevAt = now
		}
	}
}
