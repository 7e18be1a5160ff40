// Package pipeline validates harvested records and writes them, in order, to
// one of the tabular outputs.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aluiziolira/go-harvest-places/config"
	"github.com/aluiziolira/go-harvest-places/models"
	"github.com/aluiziolira/go-harvest-places/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []models.StationRecord) error
	Close() error
	Validate() error
}

// Pipeline batches records for the writer. It runs on the caller's goroutine
// so output order always matches harvest order.
type Pipeline struct {
	writer    OutputWriter
	batchSize int
	batch     []models.StationRecord

	metrics metrics

	mu     sync.Mutex
	closed bool
	err    error
}

// NewPipeline builds a pipeline flushing every cfg.BatchSize records.
func NewPipeline(writer OutputWriter, cfg *config.Config) *Pipeline {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Pipeline{
		writer:    writer,
		batchSize: batchSize,
		batch:     make([]models.StationRecord, 0, batchSize),
		metrics:   newMetrics(),
	}
}

// Process validates and queues records, flushing full batches.
func (p *Pipeline) Process(records ...models.StationRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	if p.closed {
		return ErrPipelineClosed
	}

	for i := range records {
		record := records[i]
		if err := parser.ValidateRecord(&record); err != nil {
			p.metrics.addValidation("invalid_record")
			slog.Warn("skipping invalid record", slog.String("place_id", record.ExternalID), slog.Any("error", err))
			continue
		}
		p.batch = append(p.batch, record)
		p.metrics.incrementProcessed()
		if len(p.batch) >= p.batchSize {
			if err := p.flushLocked(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close flushes pending records and closes the writer. It is safe to call
// more than once.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return p.err
	}
	p.closed = true

	if p.err == nil {
		p.flushLocked()
	}
	if err := p.writer.Close(); err != nil && p.err == nil {
		p.err = fmt.Errorf("close writer: %w", err)
	}
	return p.err
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

func (p *Pipeline) flushLocked() error {
	if len(p.batch) == 0 {
		return nil
	}
	if err := p.writer.Write(p.batch); err != nil {
		p.err = fmt.Errorf("write batch: %w", err)
		return p.err
	}
	p.batch = make([]models.StationRecord, 0, p.batchSize)
	return nil
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_records": m.processed,
		"validation_errors": copyValidation,
	}
}
