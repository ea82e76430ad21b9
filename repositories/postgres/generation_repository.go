package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/image-gateway/models"
	"github.com/upb/image-gateway/repositories"
	"github.com/upb/image-gateway/services"
	"go.uber.org/zap"
)

const generationColumns = `id, request_id, status, pinned_candidate, exclude_paid,
		       candidate_used, version_used, output_url, failure_reason, error_message,
		       attempt_count, latency_ms, created_at`

// GenerationRepository implements the repositories.GenerationRepository interface
type GenerationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewGenerationRepository creates a new generation repository
func NewGenerationRepository(db *DB, logger *zap.Logger) repositories.GenerationRepository {
	return &GenerationRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new generation record
func (r *GenerationRepository) Insert(ctx context.Context, rec *models.GenerationRecord) error {
	query := `
		INSERT INTO generation_records (
			id, request_id, status, pinned_candidate, exclude_paid,
			candidate_used, version_used, output_url, failure_reason, error_message,
			attempt_count, latency_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.RequestID,
		rec.Status,
		rec.PinnedCandidate,
		rec.ExcludePaid,
		rec.CandidateUsed,
		rec.VersionUsed,
		rec.OutputURL,
		rec.FailureReason,
		rec.ErrorMessage,
		rec.AttemptCount,
		rec.LatencyMs,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert generation record: %w", err)
	}

	r.logger.Debug("generation record inserted",
		zap.String("id", rec.ID.String()),
		zap.String("status", string(rec.Status)))
	return nil
}

// GetByID retrieves a generation record by ID
func (r *GenerationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationRecord, error) {
	query := `SELECT ` + generationColumns + `
		FROM generation_records
		WHERE id = $1
	`

	rec, err := scanGeneration(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrGenerationNotFound
		}
		return nil, fmt.Errorf("failed to get generation record: %w", err)
	}

	return rec, nil
}

// List retrieves the most recent generation records
func (r *GenerationRepository) List(ctx context.Context, limit, offset int) ([]*models.GenerationRecord, error) {
	query := `SELECT ` + generationColumns + `
		FROM generation_records
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list generation records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.GenerationRecord, 0)
	for rows.Next() {
		rec, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating generation records: %w", err)
	}

	return records, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGeneration(row rowScanner) (*models.GenerationRecord, error) {
	rec := &models.GenerationRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.RequestID,
		&rec.Status,
		&rec.PinnedCandidate,
		&rec.ExcludePaid,
		&rec.CandidateUsed,
		&rec.VersionUsed,
		&rec.OutputURL,
		&rec.FailureReason,
		&rec.ErrorMessage,
		&rec.AttemptCount,
		&rec.LatencyMs,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
