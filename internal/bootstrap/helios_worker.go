package bootstrap

import (
	"os"
	"time"

	"helios_server/adapter/in/worker"
	"helios_server/config"
	"helios_server/pkg/logger"

	"github.com/rs/zerolog"
)

// Worker runs the batch sweep driver beside the API.
type Worker struct {
	sweep *worker.SweepWorker
	deps  *Dependencies
	zlog  zerolog.Logger
}

// NewWorker assembles the batch worker.
func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	// The sweep worker checks admission against the cached allowlist
	// snapshot instead of hitting the store per message.
	triageService := deps.NewWorkerTriageService()

	interval := time.Duration(cfg.SweepIntervalMin) * time.Minute
	sweep := worker.NewSweepWorker(triageService, interval, zlog)

	logger.Info("Worker initialized (sweep every %d min)", cfg.SweepIntervalMin)

	return &Worker{sweep: sweep, deps: deps, zlog: zlog}, cleanup, nil
}

// Start runs the worker until Stop is called.
func (w *Worker) Start() {
	w.sweep.Start()
}

// Stop shuts the worker down gracefully.
func (w *Worker) Stop() {
	w.sweep.Stop()
}
