// Package worker contains the batch drivers that run beside the API.
package worker

import (
	"context"
	"sync"
	"time"

	in "helios_server/core/port/in"

	"github.com/rs/zerolog"
)

// SweepWorker periodically sweeps the triage labels through the ingestion
// pipeline. One sweep at a time; a slow sweep delays the next tick.
type SweepWorker struct {
	triage   in.TriageService
	interval time.Duration
	zlog     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweepWorker creates a new sweep worker.
func NewSweepWorker(triage in.TriageService, interval time.Duration, zlog zerolog.Logger) *SweepWorker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SweepWorker{
		triage:   triage,
		interval: interval,
		zlog:     zlog,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs the sweep loop until Stop is called. The first sweep fires
// immediately.
func (w *SweepWorker) Start() {
	w.wg.Add(1)
	defer w.wg.Done()

	w.zlog.Info().Dur("interval", w.interval).Msg("sweep worker started")

	w.runOnce()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.runOnce()
		case <-w.ctx.Done():
			w.zlog.Info().Msg("sweep worker stopped")
			return
		}
	}
}

func (w *SweepWorker) runOnce() {
	start := time.Now()

	stats, err := w.triage.SweepOnce(w.ctx)
	if err != nil {
		w.zlog.Error().Err(err).Msg("sweep failed")
		return
	}

	w.zlog.Info().
		Int("created", stats.Created).
		Int("duplicate", stats.Duplicate).
		Int("rejected", stats.Rejected).
		Int("failed", stats.Failed).
		Dur("took", time.Since(start)).
		Msg("sweep completed")
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (w *SweepWorker) Stop() {
	w.cancel()
	w.wg.Wait()
}
