package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/calder-ai/relay/internal/tracker"
)

// Ingestor persists usage records asynchronously. It implements
// tracker.Sink: Record never blocks the routing path; when the buffer
// is full the record is dropped with a warning.
type Ingestor struct {
	logger    *zap.Logger
	repo      Repository
	recChan   chan tracker.UsageRecord
	batchSize int
	flushTime time.Duration
	done      chan struct{}
}

func NewIngestor(logger *zap.Logger, repo Repository) *Ingestor {
	return &Ingestor{
		logger:    logger,
		repo:      repo,
		recChan:   make(chan tracker.UsageRecord, 10000),
		batchSize: 50,
		flushTime: 5 * time.Second,
		done:      make(chan struct{}),
	}
}

// Record queues one usage record for persistence.
func (i *Ingestor) Record(rec tracker.UsageRecord) {
	select {
	case i.recChan <- rec:
	default:
		i.logger.Warn("usage buffer full, dropping record", zap.String("record_id", rec.ID))
	}
}

// Start launches the background writer.
func (i *Ingestor) Start(ctx context.Context) {
	go i.worker(ctx)
}

// Stop closes the intake channel; the worker flushes what remains and
// exits. Blocks until the final flush completes.
func (i *Ingestor) Stop() {
	close(i.recChan)
	<-i.done
}

func (i *Ingestor) worker(ctx context.Context) {
	defer close(i.done)

	batch := make([]tracker.UsageRecord, 0, i.batchSize)
	ticker := time.NewTicker(i.flushTime)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		for idx := range batch {
			if err := i.repo.Usage().Insert(context.Background(), &batch[idx]); err != nil {
				i.logger.Error("failed to persist usage record",
					zap.String("id", batch[idx].ID), zap.Error(err))
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-i.recChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= i.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			flush()
			return
		}
	}
}
