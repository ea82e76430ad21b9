// Package history records generation outcomes asynchronously and serves
// them back for diagnostics.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/image-gateway/models"
	"github.com/upb/image-gateway/repositories"
	"github.com/upb/image-gateway/services"
	"go.uber.org/zap"
)

// Pagination bounds for List
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Config holds configuration for the Service
type Config struct {
	BufferSize   int           // Size of the record buffer channel
	WorkerCount  int           // Number of concurrent writers
	WriteTimeout time.Duration // Timeout for a single insert
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   1000,
		WorkerCount:  2,
		WriteTimeout: 5 * time.Second,
	}
}

// Service writes generation records through a buffered worker pool
type Service struct {
	repo        repositories.GenerationRepository
	logger      *zap.Logger
	records     chan *models.GenerationRecord
	workerCount int
	bufferSize  int
	timeout     time.Duration
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.Mutex
}

// NewService creates a new history service
func NewService(repo repositories.GenerationRepository, logger *zap.Logger, config Config) *Service {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}

	return &Service{
		repo:        repo,
		logger:      logger,
		records:     make(chan *models.GenerationRecord, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		timeout:     config.WriteTimeout,
	}
}

// Start starts the background writers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("history service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started history service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop drains pending records and stops the writers
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("history service not running")
	}
	s.stopped = true
	close(s.records)
	s.mu.Unlock()

	s.logger.Info("stopping history service", zap.Int("pending_records", len(s.records)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("history service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("history service stop timeout after %v", timeout)
	}
}

// Record queues a record without blocking; a full buffer drops it
func (s *Service) Record(rec *models.GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return fmt.Errorf("history service not running")
	}

	select {
	case s.records <- rec:
		return nil
	default:
		s.logger.Warn("history buffer full, dropping record",
			zap.String("generation_id", rec.ID.String()),
			zap.String("status", string(rec.Status)))
		return fmt.Errorf("history buffer full")
	}
}

// Get returns a recorded generation
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.GenerationRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if services.IsNotFoundError(err) {
			return nil, err
		}
		return nil, services.WrapError(services.ErrorTypeInternal, services.ErrDatabaseError.Message, err)
	}
	return rec, nil
}

// List returns the most recent generations. Limit is clamped to MaxLimit.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*models.GenerationRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	records, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, services.WrapError(services.ErrorTypeInternal, services.ErrDatabaseError.Message, err)
	}
	return records, nil
}

// Stats returns statistics about the history service
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:     s.bufferSize,
		PendingRecords: len(s.records),
		WorkerCount:    s.workerCount,
		Started:        s.started && !s.stopped,
	}
}

// Stats represents history service statistics
type Stats struct {
	BufferSize     int
	PendingRecords int
	WorkerCount    int
	Started        bool
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("history worker started", zap.Int("worker_id", id))

	for rec := range s.records {
		if err := s.write(rec); err != nil {
			s.logger.Error("failed to write generation record",
				zap.Int("worker_id", id),
				zap.String("generation_id", rec.ID.String()),
				zap.Error(err))
		}
	}

	s.logger.Debug("history worker stopped", zap.Int("worker_id", id))
}

func (s *Service) write(rec *models.GenerationRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	return s.repo.Insert(ctx, rec)
}
