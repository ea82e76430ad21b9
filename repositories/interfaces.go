package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/upb/image-gateway/models"
)

// GenerationRepository handles generation history persistence
type GenerationRepository interface {
	// Insert stores a finished generation record
	Insert(ctx context.Context, rec *models.GenerationRecord) error

	// GetByID retrieves a generation record by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationRecord, error)

	// List retrieves the most recent records with pagination
	List(ctx context.Context, limit, offset int) ([]*models.GenerationRecord, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Generations GenerationRepository
}
