// Package downloader drains the archive's download queue: a dispatcher
// claims batches of enqueued items and a bounded worker pool fetches each
// blob over HTTP, classifies the outcome, writes it back through the
// repository, and emits it on the finished-items stream.
package downloader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/dhtrack/archive"
)

// ErrAlreadyRunning is returned by Start while a previous run is active.
var ErrAlreadyRunning = errors.New("downloader: already running")

// Config tunes the engine.
type Config struct {
	// Workers is the fetch concurrency. Default: 4.
	Workers int
	// BatchSize is how many items one claim pulls. Default: 16.
	BatchSize int
	// Timeout is the per-request deadline. Default: 30s.
	Timeout time.Duration
	// MaxBytes caps a single blob; larger items are recorded Skipped.
	// 0 means no cap.
	MaxBytes int64
	// IdleDelay is the dispatcher sleep when the queue runs dry.
	// Default: 250ms.
	IdleDelay time.Duration
	// UserAgent sent with requests.
	UserAgent string
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = 250 * time.Millisecond
	}
	if c.UserAgent == "" {
		c.UserAgent = "dhtrack/1.0"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Finished is one element of the finished-items stream: a terminal outcome
// already recorded in the archive.
type Finished struct {
	Item   archive.DownloadItem
	Status archive.DownloadStatus
	Size   int64
}

// Engine is the long-lived download actor. Lifecycle: Idle → Running →
// Idle; Start and Stop flip the state.
type Engine struct {
	repo    *archive.DownloadsRepository
	config  Config
	fetcher *fetcher

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an Engine over the given downloads repository.
func New(repo *archive.DownloadsRepository, cfg Config) *Engine {
	cfg.defaults()
	return &Engine{
		repo:    repo,
		config:  cfg,
		fetcher: newFetcher(cfg),
	}
}

// IsDownloading reports whether the engine is in the Running state.
func (e *Engine) IsDownloading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start spawns the dispatcher and workers and returns the finished-items
// stream. The stream closes when the run ends; one element arrives per
// completed item, unordered across workers.
func (e *Engine) Start() (<-chan Finished, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil, ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})

	finished := make(chan Finished, e.config.Workers)
	jobs := make(chan archive.DownloadItem)

	var workers sync.WaitGroup
	for i := 0; i < e.config.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			e.worker(ctx, jobs, finished)
		}()
	}

	go func() {
		e.dispatch(ctx, jobs)
		close(jobs)
		workers.Wait()
		close(finished)

		// Items claimed but not finished go back to Enqueued so the next
		// run picks them up.
		if _, err := e.repo.ResetDownloading(context.Background()); err != nil {
			e.config.Logger.Warn("downloader: requeue unfinished", "error", err)
		}

		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		close(e.done)
	}()

	e.config.Logger.Info("downloader: started",
		"workers", e.config.Workers, "batch_size", e.config.BatchSize)
	return finished, nil
}

// Stop cancels in-flight fetches, waits for every worker to exit, and
// returns only then. Calling Stop while idle is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done
	e.config.Logger.Info("downloader: stopped")
}

// dispatch pulls claim batches and feeds workers until ctx is cancelled.
// An empty queue backs off for IdleDelay; cancellation interrupts the sleep.
func (e *Engine) dispatch(ctx context.Context, jobs chan<- archive.DownloadItem) {
	for {
		if ctx.Err() != nil {
			return
		}

		items, err := e.repo.PullNextEnqueued(ctx, e.config.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.config.Logger.Error("downloader: pull enqueued", "error", err)
			items = nil
		}

		if len(items) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.config.IdleDelay):
			}
			continue
		}

		for _, item := range items {
			select {
			case <-ctx.Done():
				return
			case jobs <- item:
			}
		}
	}
}

// worker fetches items until the jobs channel drains. Outcomes are written
// before they are emitted, so a consumer observing an element can rely on
// the recording transaction having committed.
func (e *Engine) worker(ctx context.Context, jobs <-chan archive.DownloadItem, finished chan<- Finished) {
	for item := range jobs {
		outcome := e.fetcher.fetch(ctx, item.DownloadURL)

		if outcome == nil {
			// The engine's own Stop interrupted the fetch; the item stays
			// Downloading and is requeued during teardown.
			continue
		}

		if err := e.repo.WriteOutcome(ctx, item.NormalizedURL, *outcome); err != nil {
			if ctx.Err() != nil {
				continue
			}
			e.config.Logger.Error("downloader: write outcome",
				"url", item.NormalizedURL, "error", err)
			continue
		}

		var size int64
		if outcome.Size != nil {
			size = *outcome.Size
		}
		e.config.Logger.Debug("downloader: finished",
			"url", item.NormalizedURL, "status", int64(outcome.Status), "size", size)

		select {
		case finished <- Finished{Item: item, Status: outcome.Status, Size: size}:
		case <-ctx.Done():
			// Drop the emission, not the recorded outcome.
		}
	}
}
