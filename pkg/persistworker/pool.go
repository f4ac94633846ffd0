package persistworker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Job is one fire-and-forget write. Jobs with the same Key run on the same
// worker, so writes for one conversation keep their dispatch order.
type Job struct {
	Key     string
	Handler func(ctx context.Context) error
}

// PoolStats contiene métricas en tiempo real del pool
type PoolStats struct {
	NumWorkers      int           `json:"num_workers"`
	QueueSize       int           `json:"queue_size"`
	TotalDispatched int64         `json:"total_dispatched"`
	TotalProcessed  int64         `json:"total_processed"`
	TotalDropped    int64         `json:"total_dropped"`
	TotalErrors     int64         `json:"total_errors"`
	WorkerStats     []WorkerStats `json:"worker_stats"`
}

type WorkerStats struct {
	WorkerID      int   `json:"worker_id"`
	QueueDepth    int   `json:"queue_depth"`
	IsProcessing  bool  `json:"is_processing"`
	JobsProcessed int64 `json:"jobs_processed"`
}

// Pool runs persistence jobs on a fixed set of sharded workers.
// Dispatch never blocks: when a shard's queue is full the job is dropped and
// counted, since durable writes are best-effort.
type Pool struct {
	numWorkers int
	queueSize  int
	workers    []*worker
	wg         sync.WaitGroup
	stopOnce   sync.Once
	mu         sync.RWMutex // guards stopped against concurrent sends on closed queues
	stopped    bool
	started    bool
	log        logrus.FieldLogger

	totalDispatched int64
	totalProcessed  int64
	totalDropped    int64
	totalErrors     int64
}

type worker struct {
	id            int
	jobQueue      chan Job
	ctx           context.Context
	isProcessing  int32
	jobsProcessed int64
	pool          *Pool
}

// NewPool crea un pool con numWorkers shards de queueSize jobs cada uno
func NewPool(numWorkers, queueSize int, log logrus.FieldLogger) *Pool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	p := &Pool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
		workers:    make([]*worker, numWorkers),
		log:        log,
	}
	for i := range p.workers {
		p.workers[i] = &worker{
			id:       i,
			jobQueue: make(chan Job, queueSize),
			pool:     p,
		}
	}
	return p
}

// Start launches the workers. Jobs run with ctx; cancelling it makes workers
// drain what is queued and exit.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	for _, w := range p.workers {
		w.ctx = ctx
		p.wg.Add(1)
		go w.run(&p.wg)
	}

	p.log.Infof("[PERSIST_POOL] Started with %d workers, queue size: %d", p.numWorkers, p.queueSize)
}

// TryDispatch queues job without blocking and reports whether it was accepted.
func (p *Pool) TryDispatch(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped || !p.started {
		atomic.AddInt64(&p.totalDropped, 1)
		p.log.Warnf("[PERSIST_POOL] Pool not running, dropping job for %s", job.Key)
		return false
	}

	shard := p.shardFor(job.Key)
	atomic.AddInt64(&p.totalDispatched, 1)

	select {
	case p.workers[shard].jobQueue <- job:
		return true
	default:
		atomic.AddInt64(&p.totalDropped, 1)
		p.log.Warnf("[PERSIST_POOL] Worker %d queue full, dropping job for %s", shard, job.Key)
		return false
	}
}

// Dispatch is TryDispatch without the result.
func (p *Pool) Dispatch(job Job) {
	_ = p.TryDispatch(job)
}

// Stop closes the queues and waits for queued jobs to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		for _, w := range p.workers {
			close(w.jobQueue)
		}
		started := p.started
		p.mu.Unlock()

		if started {
			p.log.Info("[PERSIST_POOL] Stopping workers...")
			p.wg.Wait()
			p.log.Info("[PERSIST_POOL] All workers stopped")
		}
	})
}

// markStopped rechaza nuevos jobs. Tomar el lock espera a los envíos en curso,
// así todo lo aceptado ya está en la cola que se va a drenar.
func (p *Pool) markStopped() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

// shardFor calcula el worker para una key usando hash consistente
func (p *Pool) shardFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.numWorkers))
}

func (p *Pool) Stats() PoolStats {
	workerStats := make([]WorkerStats, len(p.workers))
	for i, w := range p.workers {
		workerStats[i] = WorkerStats{
			WorkerID:      w.id,
			QueueDepth:    len(w.jobQueue),
			IsProcessing:  atomic.LoadInt32(&w.isProcessing) == 1,
			JobsProcessed: atomic.LoadInt64(&w.jobsProcessed),
		}
	}
	return PoolStats{
		NumWorkers:      p.numWorkers,
		QueueSize:       p.queueSize,
		TotalDispatched: atomic.LoadInt64(&p.totalDispatched),
		TotalProcessed:  atomic.LoadInt64(&p.totalProcessed),
		TotalDropped:    atomic.LoadInt64(&p.totalDropped),
		TotalErrors:     atomic.LoadInt64(&p.totalErrors),
		WorkerStats:     workerStats,
	}
}

func (w *worker) run(wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case job, ok := <-w.jobQueue:
			if !ok {
				return
			}
			w.process(w.ctx, job)
		case <-w.ctx.Done():
			w.pool.log.Debugf("[PERSIST_POOL] Worker %d context cancelled, draining queue...", w.id)
			w.pool.markStopped()
			w.drainQueue()
			return
		}
	}
}

func (w *worker) process(ctx context.Context, job Job) {
	atomic.StoreInt32(&w.isProcessing, 1)
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&w.pool.totalErrors, 1)
			w.pool.log.Errorf("[PERSIST_POOL] Worker %d panic for %s: %v", w.id, job.Key, r)
		}
		atomic.StoreInt32(&w.isProcessing, 0)
		atomic.AddInt64(&w.jobsProcessed, 1)
		atomic.AddInt64(&w.pool.totalProcessed, 1)
	}()

	if err := job.Handler(ctx); err != nil {
		atomic.AddInt64(&w.pool.totalErrors, 1)
		w.pool.log.WithError(err).WithField("key", job.Key).Errorf("[PERSIST_POOL] Worker %d job failed", w.id)
	}
}

// drainQueue runs whatever is already queued, without blocking for more.
// Drained jobs get a context detached from the cancelled one so writes can land.
func (w *worker) drainQueue() {
	ctx := context.WithoutCancel(w.ctx)
	for {
		select {
		case job, ok := <-w.jobQueue:
			if !ok {
				return
			}
			w.process(ctx, job)
		default:
			return
		}
	}
}
