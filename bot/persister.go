package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"martingale_bot/interfaces"
	"martingale_bot/logger"
	"martingale_bot/models"
)

const persistTimeout = 10 * time.Second

type persistJob struct {
	name string
	run  func(ctx context.Context, store interfaces.Store) error
}

// Persister writes to the store on one background worker so that writes keep
// the order in which fills were applied.
type Persister struct {
	store interfaces.Store
	jobs  chan persistJob
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
	failed atomic.Int64
}

func NewPersister(store interfaces.Store, queueSize int) *Persister {
	if queueSize < 1 {
		queueSize = 1
	}
	p := &Persister{
		store: store,
		jobs:  make(chan persistJob, queueSize),
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

func (p *Persister) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := job.run(ctx, p.store); err != nil {
			log := logger.Component("store")
			log.Error().Err(err).Str("job", job.name).Msg("persist failed")
			p.failed.Add(1)
		}
		cancel()
	}
}

// enqueue blocks while the queue is full. The worker never takes mu, so a
// blocked send always makes progress.
func (p *Persister) enqueue(job persistJob) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		logger.Warnf("Persist %s skipped: persister closed", job.name)
		return
	}
	p.jobs <- job
}

func (p *Persister) InsertFill(f models.Fill) {
	p.enqueue(persistJob{name: "fill " + f.Key(), run: func(ctx context.Context, s interfaces.Store) error {
		return s.InsertFill(ctx, f)
	}})
}

func (p *Persister) UpsertDailyStats(stats models.DailyStats) {
	p.enqueue(persistJob{name: "daily stats " + stats.Date, run: func(ctx context.Context, s interfaces.Store) error {
		return s.UpsertDailyStats(ctx, stats)
	}})
}

func (p *Persister) RecordRebalanceOrder(o models.Order) {
	p.enqueue(persistJob{name: "rebalance order", run: func(ctx context.Context, s interfaces.Store) error {
		return s.RecordRebalanceOrder(ctx, o)
	}})
}

// Close stops accepting work and waits for the queue to drain.
func (p *Persister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

// Failed counts writes that returned an error.
func (p *Persister) Failed() int64 {
	return p.failed.Load()
}
