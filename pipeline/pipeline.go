// Package pipeline validates listings and hands them to output sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-ranks/config"
	"github.com/aluiziolira/go-scrape-ranks/models"
	"github.com/aluiziolira/go-scrape-ranks/parser"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
	// ErrPartialWrite marks a batch in which some rows failed to store.
	ErrPartialWrite = errors.New("pipeline: partial write")
)

var drainTimeout = 30 * time.Second

// Rejection reasons counted in Stats.Rejected.
const (
	RejectInvalid   = "invalid_record"
	RejectDuplicate = "duplicate_rank"
)

// PartialWriteError reports rows that failed inside an otherwise stored batch.
type PartialWriteError struct {
	Failed int
	Total  int
	Err    error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%d of %d rows failed: %v", e.Failed, e.Total, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

func (e *PartialWriteError) Is(target error) bool {
	return target == ErrPartialWrite
}

// OutputWriter is a listing sink. Write may return a *PartialWriteError, which
// the pipeline counts and survives; any other error stops the pipeline.
type OutputWriter interface {
	Write(listings []*models.Listing) error
	Close() error
	Validate() error
}

// Stats is a snapshot of what the pipeline did with its input.
type Stats struct {
	Accepted    int64
	WriteErrors int64
	Rejected    map[string]int
}

// A listing is identified by its slot on one extraction of a result page.
// The extractor stamps every listing of a page with the same time, so the
// stamp separates repeated runs of a keyword.
type dedupeKey struct {
	capturedAt int64
	keyword    string
	page       int
	rankType   models.RankType
	rank       int
}

// Pipeline validates listings, drops duplicate slots and writes the rest in
// batches.
type Pipeline struct {
	writer    OutputWriter
	listingCh chan *models.Listing
	batchSize int
	seen      *lru.Cache[dedupeKey, struct{}]
	wg        sync.WaitGroup

	// ctx ends on parent cancellation, a fatal write error or Close; its
	// cause says which.
	ctx    context.Context
	cancel context.CancelCauseFunc

	sendMu sync.RWMutex // read-held by senders, write-held to close listingCh
	closed bool

	mu    sync.Mutex
	err   error
	stats Stats
}

// NewPipeline builds a pipeline sized from cfg. Call Start before Process.
func NewPipeline(parent context.Context, writer OutputWriter, cfg *config.Config) *Pipeline {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)

	bufferSize := max(cfg.PipelineBufferSize, 1)
	batchSize := max(cfg.BatchSize, 1)
	seen, _ := lru.New[dedupeKey, struct{}](max(cfg.DedupeMaxSize, 1))

	return &Pipeline{
		writer:    writer,
		listingCh: make(chan *models.Listing, bufferSize),
		batchSize: batchSize,
		seen:      seen,
		ctx:       ctx,
		cancel:    cancel,
		stats:     Stats{Rejected: make(map[string]int)},
	}
}

// Start launches the batch writers.
func (p *Pipeline) Start(workers int) {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.closed {
		return
	}
	for i := 0; i < max(workers, 1); i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process queues listings for writing. It blocks while the buffer is full.
func (p *Pipeline) Process(listings ...*models.Listing) error {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()

	if p.closed {
		return ErrPipelineClosed
	}
	if err := p.Err(); err != nil {
		return err
	}

	for _, l := range listings {
		if l == nil {
			continue
		}
		select {
		case p.listingCh <- l:
		case <-p.ctx.Done():
			return context.Cause(p.ctx)
		}
	}
	return nil
}

// Close stops intake, waits for queued listings to be written and returns the
// fatal write error, if any.
func (p *Pipeline) Close() error {
	p.sendMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.listingCh)
	}
	p.sendMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		p.cancel(ErrPipelineCloseTimeout)
		return fmt.Errorf("%w after %s", ErrPipelineCloseTimeout, drainTimeout)
	}

	p.cancel(ErrPipelineClosed)
	return p.Err()
}

// Err returns the fatal write error, if one occurred.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.stats
	out.Rejected = make(map[string]int, len(p.stats.Rejected))
	for k, v := range p.stats.Rejected {
		out.Rejected[k] = v
	}
	return out
}

// StartMetricsReporting logs the counters every interval until the pipeline
// stops.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s := p.Stats()
				slog.Info("pipeline progress",
					slog.Int64("accepted", s.Accepted),
					slog.Int64("write_errors", s.WriteErrors),
					slog.Any("rejected", s.Rejected),
				)
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.Listing, 0, p.batchSize)
	for l := range p.listingCh {
		if !p.accept(l) {
			continue
		}
		batch = append(batch, l)
		if len(batch) < p.batchSize {
			continue
		}
		if err := p.write(batch); err != nil {
			p.fail(err)
			return
		}
		batch = batch[:0]
	}

	if len(batch) > 0 {
		if err := p.write(batch); err != nil {
			p.fail(err)
		}
	}
}

func (p *Pipeline) write(batch []*models.Listing) error {
	err := p.writer.Write(batch)

	var partial *PartialWriteError
	if !errors.As(err, &partial) {
		if err != nil {
			return fmt.Errorf("write batch: %w", err)
		}
		return nil
	}

	p.mu.Lock()
	p.stats.WriteErrors += int64(partial.Failed)
	p.mu.Unlock()
	slog.Error("rows skipped while writing batch",
		slog.Int("failed", partial.Failed),
		slog.Int("total", partial.Total),
		slog.Any("error", partial.Err),
	)
	return nil
}

func (p *Pipeline) accept(l *models.Listing) bool {
	reason := ""
	if err := parser.ValidateListing(l); err != nil {
		reason = RejectInvalid
	} else {
		key := dedupeKey{
			capturedAt: l.Timestamp.UnixNano(),
			keyword:    l.Keyword,
			page:       l.PageNumber,
			rankType:   l.RankType,
			rank:       l.Rank,
		}
		if seen, _ := p.seen.ContainsOrAdd(key, struct{}{}); seen {
			reason = RejectDuplicate
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if reason != "" {
		p.stats.Rejected[reason]++
		return false
	}
	p.stats.Accepted++
	return true
}

func (p *Pipeline) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
	p.cancel(err)
}
