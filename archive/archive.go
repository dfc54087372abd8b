package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/dhtrack/observe"
)

// Archive is the single handle over the store: the pool, the schema
// lifecycle, and one repository per entity family.
type Archive struct {
	pool *Pool
	log  *slog.Logger

	Users     *UsersRepository
	Servers   *ServersRepository
	Channels  *ChannelsRepository
	Messages  *MessagesRepository
	Downloads *DownloadsRepository

	closeOnce sync.Once
	closed    chan struct{}
}

type openConfig struct {
	poolSize   int
	canUpgrade CanUpgradeFunc
	reporter   UpgradeReporter
	logger     *slog.Logger
}

// OpenOption customises Open.
type OpenOption func(*openConfig)

// WithPoolSize overrides the connection pool capacity.
func WithPoolSize(n int) OpenOption { return func(c *openConfig) { c.poolSize = n } }

// WithCanUpgrade installs the pre-migration consent check. Without it,
// older files upgrade unconditionally.
func WithCanUpgrade(f CanUpgradeFunc) OpenOption { return func(c *openConfig) { c.canUpgrade = f } }

// WithReporter installs a migration progress observer.
func WithReporter(r UpgradeReporter) OpenOption { return func(c *openConfig) { c.reporter = r } }

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) OpenOption { return func(c *openConfig) { c.logger = l } }

// Open opens (or creates) the archive at path in two phases: the pool
// first, then the schema manager on the reserved connection. On any schema
// error the pool is torn down and the file left as it was.
func Open(ctx context.Context, path string, opts ...OpenOption) (*Archive, error) {
	cfg := openConfig{logger: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}

	pool, err := newPool(path, cfg.poolSize)
	if err != nil {
		return nil, err
	}

	// The reserved connection: held for the whole schema phase so ingest
	// traffic cannot starve a long migration.
	conn, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := openSchema(ctx, conn, cfg.canUpgrade, cfg.reporter); err != nil {
		conn.Close()
		pool.Close()
		return nil, err
	}
	conn.Close()

	a := &Archive{
		pool:   pool,
		log:    cfg.logger,
		closed: make(chan struct{}),
	}
	a.Users = &UsersRepository{pool: pool, total: observe.NewCounter(0)}
	a.Servers = &ServersRepository{pool: pool, total: observe.NewCounter(0)}
	a.Channels = &ChannelsRepository{pool: pool, total: observe.NewCounter(0)}
	a.Messages = &MessagesRepository{
		pool:        pool,
		total:       observe.NewCounter(0),
		attachments: &AttachmentsCounter{pool: pool, total: observe.NewCounter(0)},
	}
	a.Downloads = &DownloadsRepository{pool: pool, total: observe.NewCounter(0)}

	a.seedCounters(ctx)

	if n, err := a.Downloads.ResetDownloading(ctx); err != nil {
		a.log.Warn("archive: reset stranded downloads", "error", err)
	} else if n > 0 {
		a.log.Info("archive: requeued stranded downloads", "count", n)
	}

	return a, nil
}

// seedCounters publishes the opening row counts so subscribers see real
// values before the first mutation.
func (a *Archive) seedCounters(ctx context.Context) {
	seed := []struct {
		name    string
		count   func(context.Context) (int64, error)
		counter *observe.Counter
	}{
		{"users", a.Users.CountAll, a.Users.total},
		{"servers", a.Servers.CountAll, a.Servers.total},
		{"channels", a.Channels.CountAll, a.Channels.total},
		{"messages", a.Messages.CountAll, a.Messages.total},
		{"attachments", a.Messages.attachments.CountAll, a.Messages.attachments.total},
		{"downloads", a.Downloads.CountAll, a.Downloads.total},
	}
	for _, s := range seed {
		n, err := s.count(ctx)
		if err != nil {
			a.log.Warn("archive: seed counter", "table", s.name, "error", err)
			continue
		}
		s.counter.Set(n)
	}
}

// Pool exposes the raw connection pool.
func (a *Archive) Pool() *Pool {
	return a.pool
}

// Closed is closed after teardown completes.
func (a *Archive) Closed() <-chan struct{} {
	return a.closed
}

// Close drains the pool, closes the file, and signals Closed. Subsequent
// calls are no-ops; repositories error after the first.
func (a *Archive) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.pool.Close()
		close(a.closed)
	})
	if err != nil {
		return fmt.Errorf("archive: close: %w", err)
	}
	return nil
}
